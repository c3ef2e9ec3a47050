package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if attempt < 3 {
			return errors.New("broker unavailable")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	cause := errors.New("refused")
	calls := 0
	err := Do(context.Background(), fastConfig(4), func(int) error {
		calls++
		return cause
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed after 4 attempts")
	assert.Equal(t, 4, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	cause := errors.New("bad url")
	calls := 0
	err := Do(context.Background(), fastConfig(5), func(int) error {
		calls++
		return Permanent(cause)
	})

	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second}
	cfg.OnRetry = func(int, error, time.Duration) { cancel() }

	start := time.Now()
	err := Do(ctx, cfg, func(int) error { return errors.New("down") })

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{}, func(int) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_InvalidConfig(t *testing.T) {
	err := Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, func(int) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.Error(t, err)
}

func TestBackoff_CapsAtMaxDelay(t *testing.T) {
	cfg, err := Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond, Multiplier: 2}.normalized()
	require.NoError(t, err)

	b := &backoff{cfg: cfg, next: cfg.InitialDelay}
	assert.Equal(t, 10*time.Millisecond, b.wait())
	assert.Equal(t, 20*time.Millisecond, b.wait())
	assert.Equal(t, 25*time.Millisecond, b.wait())
	assert.Equal(t, 25*time.Millisecond, b.wait())
}

func TestDoValue(t *testing.T) {
	v, err := DoValue(context.Background(), fastConfig(3), func(attempt int) (string, error) {
		if attempt == 1 {
			return "", errors.New("not yet")
		}
		return "connected", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "connected", v)
}
