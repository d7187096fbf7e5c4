package db

import (
	"database/sql"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"insiderwatch/internal/config"
)

const sqlitePrefix = "sqlite:"

type DB struct {
	Gorm *gorm.DB
	SQL  *sql.DB
	// Dialect is "postgres" or "sqlite".
	Dialect string
}

// Open connects to postgres, or to sqlite when the DSN starts with "sqlite:".
// In-memory sqlite databases are pinned to a single connection so every
// caller sees the same database.
func Open(cfg config.DBConfig) (*DB, error) {
	gcfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: NowUTC,
	}

	dialect := "postgres"
	var dialector gorm.Dialector
	if dsn, ok := strings.CutPrefix(cfg.DSN, sqlitePrefix); ok {
		dialect = "sqlite"
		dialector = sqlite.Open(dsn)
	} else {
		dialector = postgres.Open(cfg.DSN)
	}

	gdb, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, err
	}

	sqldb, err := gdb.DB()
	if err != nil {
		return nil, err
	}

	if dialect == "sqlite" && strings.Contains(cfg.DSN, ":memory:") {
		sqldb.SetMaxOpenConns(1)
		sqldb.SetMaxIdleConns(1)
		sqldb.SetConnMaxLifetime(0)
		sqldb.SetConnMaxIdleTime(0)
	} else {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	return &DB{Gorm: gdb, SQL: sqldb, Dialect: dialect}, nil
}

func Close(db *DB) error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Close()
}

func Ping(db *DB) error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Ping()
}

// SetTimezone is a no-op for sqlite, which stores times as given.
func SetTimezone(db *DB, tz string) error {
	if tz == "" || db == nil || db.Dialect != "postgres" {
		return nil
	}
	_, err := db.SQL.Exec("SET TIME ZONE '" + tz + "'")
	return err
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
