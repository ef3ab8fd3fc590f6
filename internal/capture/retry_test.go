package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	calls := 0
	err := policy.Execute(context.Background(), func() error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteRetriesTransientUntilSuccess(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	calls := 0
	err := policy.Execute(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &classifiedErr{msg: "timeout", transient: true}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteExhaustsTransient(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	calls := 0
	transient := &classifiedErr{msg: "timeout", transient: true}
	err := policy.Execute(context.Background(), func() error {
		calls++
		return transient
	})

	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, calls)
}

func TestExecutePermanentReturnsImmediately(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	calls := 0
	err := policy.Execute(context.Background(), func() error {
		calls++
		return &classifiedErr{msg: "not found", transient: false}
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteUnclassifiedTreatedAsPermanent(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	calls := 0
	err := policy.Execute(context.Background(), func() error {
		calls++
		return errors.New("plain failure")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteCancelledDuringBackoff(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := policy.Execute(ctx, func() error {
		calls++
		return &classifiedErr{msg: "timeout", transient: true}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
