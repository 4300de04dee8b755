// Package errors provides the error taxonomy shared by the forecasting core.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrValidation          = errors.New("validation failed")
	ErrLeakage             = errors.New("temporal leakage detected")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrBaselineUnavailable = errors.New("baseline unavailable")
	ErrModelFit            = errors.New("model fit failed")
	ErrModelPredict        = errors.New("model predict failed")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrDataNotFound        = errors.New("data not found")
	ErrDatabaseError       = errors.New("database error")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrCancelled           = errors.New("run cancelled")
)

// ValidationError represents malformed input. Record names the offending
// record (event slug, entity id, config section) so it can be located.
type ValidationError struct {
	Record  string
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Record != "" {
		return fmt.Sprintf("validation error [%s] %s (%v): %s", e.Record, e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(record, field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Record:  record,
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// LeakageViolation is raised when a feature or a fold would read information
// from after its as-of instant. It is always fatal for the build or run.
type LeakageViolation struct {
	Record  string
	Check   string
	Message string
}

func (e *LeakageViolation) Error() string {
	return fmt.Sprintf("leakage violation [%s] %s: %s", e.Check, e.Record, e.Message)
}

func (e *LeakageViolation) Unwrap() error {
	return ErrLeakage
}

// NewLeakageViolation creates a new LeakageViolation.
func NewLeakageViolation(check, record, message string) *LeakageViolation {
	return &LeakageViolation{
		Record:  record,
		Check:   check,
		Message: message,
	}
}

// InsufficientHistoryError marks a fold or series that was skipped.
type InsufficientHistoryError struct {
	Series   string
	Have     int
	Required int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history [%s]: have %d rows, need %d", e.Series, e.Have, e.Required)
}

func (e *InsufficientHistoryError) Unwrap() error {
	return ErrInsufficientHistory
}

// NewInsufficientHistoryError creates a new InsufficientHistoryError.
func NewInsufficientHistoryError(series string, have, required int) *InsufficientHistoryError {
	return &InsufficientHistoryError{
		Series:   series,
		Have:     have,
		Required: required,
	}
}

// BaselineUnavailable is reported when no backtest error exists for a horizon.
type BaselineUnavailable struct {
	Horizon int
	Reason  string
}

func (e *BaselineUnavailable) Error() string {
	return fmt.Sprintf("baseline unavailable [h=%d]: %s", e.Horizon, e.Reason)
}

func (e *BaselineUnavailable) Unwrap() error {
	return ErrBaselineUnavailable
}

// NewBaselineUnavailable creates a new BaselineUnavailable.
func NewBaselineUnavailable(horizon int, reason string) *BaselineUnavailable {
	return &BaselineUnavailable{
		Horizon: horizon,
		Reason:  reason,
	}
}

// ModelError represents a regressor failure during fit or predict.
type ModelError struct {
	Model     string
	Operation string
	Fold      int
	Err       error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model error [%s] %s (fold %d): %v", e.Model, e.Operation, e.Fold, e.Err)
}

func (e *ModelError) Unwrap() []error {
	sentinel := ErrModelPredict
	if e.Operation == "fit" {
		sentinel = ErrModelFit
	}
	return []error{sentinel, e.Err}
}

// NewModelError creates a new ModelError. Operation is "fit" or "predict".
func NewModelError(model, operation string, fold int, err error) *ModelError {
	return &ModelError{
		Model:     model,
		Operation: operation,
		Fold:      fold,
		Err:       err,
	}
}

// DataError represents a data-related error.
type DataError struct {
	DataType string
	Key      string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Key, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Key, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, key, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Key:      key,
		Message:  message,
		Err:      err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
