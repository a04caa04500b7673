package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}
}

func TestDo_StopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(2), func() error {
		calls++
		return errFlaky
	})

	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 2, calls)
}

func TestDo_SucceedsOnSecondAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls == 1 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_PermanentErrorIsNotRetried(t *testing.T) {
	calls := 0
	base := errors.New("bad request")
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return Permanent(base)
	})

	assert.Equal(t, base, err)
	assert.Equal(t, 1, calls)
}

func TestDo_OnlyRetriesListedErrors(t *testing.T) {
	cfg := fastConfig(4)
	cfg.RetryableErrors = []error{errFlaky}

	calls := 0
	other := errors.New("other")
	err := Do(context.Background(), cfg, func() error {
		calls++
		return other
	})

	assert.ErrorIs(t, err, other)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastConfig(3), func() error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errFlaky
		}
		return "draft", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "draft", got)
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
