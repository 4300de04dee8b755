package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", NewValidationError("winter-veil", "end_date", "2024-01-01", "before start_date"), ErrValidation},
		{"leakage", NewLeakageViolation("event_days_to_next", "item-1/eu/2024-03-01", "negative"), ErrLeakage},
		{"history", NewInsufficientHistoryError("item-1/eu", 3, 14), ErrInsufficientHistory},
		{"baseline", NewBaselineUnavailable(7, "all folds skipped"), ErrBaselineUnavailable},
		{"fit", NewModelError("linear", "fit", 2, fmt.Errorf("singular")), ErrModelFit},
		{"predict", NewModelError("linear", "predict", 2, fmt.Errorf("no rows")), ErrModelPredict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := Wrap(tc.err, "stage")
			assert.True(t, Is(wrapped, tc.sentinel))
		})
	}
}

func TestModelErrorKeepsCause(t *testing.T) {
	cause := stderrors.New("singular matrix")
	err := Wrapf(NewModelError("linear", "fit", 4, cause), "fold %d", 4)

	assert.True(t, Is(err, cause))
	assert.False(t, Is(err, ErrModelPredict))

	var me *ModelError
	require.True(t, As(err, &me))
	assert.Equal(t, "linear", me.Model)
	assert.Equal(t, 4, me.Fold)
}

func TestValidationErrorNamesRecord(t *testing.T) {
	err := NewValidationError("brewfest-2024", "severity", "huge", "unknown severity")
	assert.Contains(t, err.Error(), "brewfest-2024")
	assert.Contains(t, err.Error(), "severity")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "nothing"))
	assert.NoError(t, Wrapf(nil, "nothing %d", 1))
}
