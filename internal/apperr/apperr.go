// Package apperr defines the error taxonomy shared by the alert and watchlist components.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAssetType is returned for asset types other than stock(s) or crypto.
	ErrInvalidAssetType = errors.New("invalid asset type")
	// ErrInvalidCondition is returned for alert conditions other than above or below.
	ErrInvalidCondition = errors.New("invalid alert condition")
	// ErrClosed is returned by operations on a component that has been torn down.
	ErrClosed = errors.New("component closed")
)

// ValidationError reports malformed user input. No state is mutated when it is returned.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// StorageError reports a failed read or write against the persistent store.
// The mutation that produced it must be treated as not committed.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err for the given operation and key.
func NewStorageError(op, key string, err error) *StorageError {
	return &StorageError{Op: op, Key: key, Err: err}
}

// GatewayError reports a failed batch lookup: network failure, timeout, non-2xx or a
// malformed payload. Status is zero when no HTTP response was received.
type GatewayError struct {
	AssetType string
	Status    int
	Err       error
}

func (e *GatewayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway %s batch failed (%d): %v", e.AssetType, e.Status, e.Err)
	}
	return fmt.Sprintf("gateway %s batch failed: %v", e.AssetType, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// PermissionError reports that a notification channel refused delivery.
type PermissionError struct {
	Channel string
	Reason  string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("notification permission denied on %s: %s", e.Channel, e.Reason)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsStorage reports whether err carries a StorageError.
func IsStorage(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}

// IsGateway reports whether err carries a GatewayError.
func IsGateway(err error) bool {
	var target *GatewayError
	return errors.As(err, &target)
}

// IsPermission reports whether err carries a PermissionError.
func IsPermission(err error) bool {
	var target *PermissionError
	return errors.As(err, &target)
}
