package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

var errPermanent = errors.New("permanent")

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		calls++
		if calls < 3 {
			return errors.New("busy")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryReturnsLastError(t *testing.T) {
	calls := 0
	busy := errors.New("busy")
	err := Retry(context.Background(), fastRetry(), func() error {
		calls++
		return busy
	})
	assert.ErrorIs(t, err, busy)
	assert.Equal(t, 4, calls)
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	cfg := fastRetry()
	cfg.PermanentErrors = []error{errPermanent}
	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return errors.Join(errors.New("wrapped"), errPermanent)
	})
	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, calls)
}

func TestRetryOnlyRetryableErrors(t *testing.T) {
	transient := errors.New("locked")
	cfg := fastRetry()
	cfg.RetryableErrors = []error{transient}

	calls := 0
	_ = Retry(context.Background(), cfg, func() error {
		calls++
		return errors.New("other")
	})
	assert.Equal(t, 1, calls)

	calls = 0
	_ = Retry(context.Background(), cfg, func() error {
		calls++
		return transient
	})
	assert.Equal(t, 4, calls)
}

func TestRetryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, fastRetry(), func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestRetryWithResult(t *testing.T) {
	calls := 0
	v, err := RetryWithResult(context.Background(), fastRetry(), func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("busy")
		}
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
}

// Property: backoff never exceeds the cap and never decreases with the
// attempt number.
func TestProperty_BackoffBoundedAndMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("backoff bounded and monotonic", prop.ForAll(
		func(attempt int, initialMs int, factor float64) bool {
			initial := time.Duration(initialMs) * time.Millisecond
			max := 5 * time.Second
			a := CalculateBackoff(attempt, initial, max, factor)
			b := CalculateBackoff(attempt+1, initial, max, factor)
			return a <= max && b <= max && a <= b
		},
		gen.IntRange(0, 30),
		gen.IntRange(1, 1000),
		gen.Float64Range(1, 4),
	))

	properties.TestingRun(t)
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "123g 45s 67c", FormatPrice(1234567))
	assert.Equal(t, "1,234g 0s 5c", FormatPrice(12340005))
	assert.Equal(t, "5s 0c", FormatPrice(500))
	assert.Equal(t, "7c", FormatPrice(7))
	assert.Equal(t, "-1g 0s 0c", FormatPrice(-10000))
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "+12.50%", FormatPercent(0.125))
	assert.Equal(t, "-3.00%", FormatPercent(-0.03))
	assert.Equal(t, "1,234,567", FormatQuantity(1234567))
	assert.Equal(t, "-12,345", FormatQuantity(-12345))
	assert.Equal(t, "999", FormatQuantity(999))
	assert.Equal(t, "1.50M", FormatCompact(1_500_000))
	assert.Equal(t, "2.5K", FormatCompact(2500))
	assert.Equal(t, "12", FormatCompact(12))
	assert.Equal(t, "-", FormatOptional(nil, FormatPercent))
	v := 0.5
	assert.Equal(t, "+50.00%", FormatOptional(&v, FormatPercent))
}
