package payments

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks missing or malformed caller input.
	ErrValidation = errors.New("validation failed")

	ErrPlanNotFound         = errors.New("plan not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrUserNotFound         = errors.New("user not found")

	// ErrUnsupportedGateway is returned when a plan names a gateway no
	// registered provider serves.
	ErrUnsupportedGateway = errors.New("unsupported payment gateway")

	// ErrProviderNotConfigured is reported by a provider whose credentials
	// are absent; no external call is attempted.
	ErrProviderNotConfigured = errors.New("payment provider not configured")

	// ErrNotImplemented is reported by provider stubs that exist only to
	// prove the capability boundary.
	ErrNotImplemented = errors.New("not implemented")
)

// ProviderError wraps a failure from an external payment processor with
// enough context to replay it from the event log.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}
