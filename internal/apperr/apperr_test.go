package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("create alert: %w", NewValidationError("symbol", "", "must not be empty"))
	if !IsValidation(wrapped) {
		t.Fatal("wrapped validation error should be detected")
	}
	if IsStorage(wrapped) {
		t.Fatal("validation error must not look like a storage error")
	}

	cause := errors.New("disk full")
	storageErr := fmt.Errorf("save: %w", NewStorageError("set", "priceAlerts", cause))
	if !IsStorage(storageErr) {
		t.Fatal("wrapped storage error should be detected")
	}
	if !errors.Is(storageErr, cause) {
		t.Fatal("storage error should unwrap to its cause")
	}
}

func TestGatewayErrorMessage(t *testing.T) {
	err := &GatewayError{AssetType: "crypto", Status: 502, Err: errors.New("bad gateway")}
	if got := err.Error(); got != "gateway crypto batch failed (502): bad gateway" {
		t.Fatalf("unexpected message %q", got)
	}
	if !IsGateway(fmt.Errorf("tick: %w", err)) {
		t.Fatal("wrapped gateway error should be detected")
	}
}

func TestValidationErrorUnwrapsSentinel(t *testing.T) {
	err := &ValidationError{Field: "asset_type", Value: "bond", Message: "unsupported", Err: ErrInvalidAssetType}
	if !errors.Is(err, ErrInvalidAssetType) {
		t.Fatal("validation error should unwrap to its sentinel")
	}
}

func TestPermissionError(t *testing.T) {
	err := fmt.Errorf("notify: %w", &PermissionError{Channel: "desktop", Reason: "notify-send not found"})
	if !IsPermission(err) {
		t.Fatal("permission error should be detected")
	}
}
