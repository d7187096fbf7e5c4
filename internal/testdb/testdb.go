// Package testdb opens throwaway in-memory databases for package tests.
package testdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"insiderwatch/internal/config"
	"insiderwatch/internal/db"
	gormrepository "insiderwatch/internal/repository/gorm"
)

// Open returns a migrated store backed by a private in-memory sqlite database.
func Open(t testing.TB) *gormrepository.Store {
	t.Helper()
	conn, err := db.Open(config.DBConfig{DSN: "sqlite::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })
	require.NoError(t, db.AutoMigrate(conn))
	return gormrepository.New(conn.Gorm)
}
