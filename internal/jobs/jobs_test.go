package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestExecuteRetries(t *testing.T) {
	calls := 0
	job := Job{Name: "flaky", Run: func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	}}
	require.NoError(t, Execute(context.Background(), zaptest.NewLogger(t), job, RetryPolicy{MaxRetries: 2}))
	assert.Equal(t, 3, calls)

	calls = 0
	err := Execute(context.Background(), nil, job, RetryPolicy{MaxRetries: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job flaky")
	assert.Equal(t, 2, calls)
}

func TestExecuteStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	job := Job{Name: "cancel", Run: func(context.Context) error {
		calls++
		cancel()
		return errors.New("interrupted")
	}}
	require.Error(t, Execute(ctx, nil, job, RetryPolicy{MaxRetries: 5}))
	assert.Equal(t, 1, calls)
}

func TestInlineQueue(t *testing.T) {
	q := NewInline(zaptest.NewLogger(t), RetryPolicy{})
	var order []string
	for _, name := range []string{"score", "discover"} {
		require.NoError(t, q.Register(Job{Name: name, Spec: "@every 1m", Run: func(context.Context) error {
			order = append(order, name)
			return nil
		}}))
	}
	assert.ErrorIs(t, q.Register(Job{Name: "score", Run: func(context.Context) error { return nil }}), ErrDuplicateJob)
	assert.ErrorIs(t, q.Register(Job{Name: "nil"}), ErrInvalidJob)

	require.NoError(t, q.RunAll(context.Background()))
	assert.Equal(t, []string{"score", "discover"}, order)
	assert.ErrorIs(t, q.Trigger(context.Background(), "missing"), ErrUnknownJob)
}
