package platform

import (
	"errors"
	"fmt"
)

// AdapterState is the specific kind of adapter failure.
type AdapterState string

const (
	AdapterUnavailable AdapterState = "adapter_unavailable"
	AdapterDisabled    AdapterState = "adapter_disabled"
)

// AdapterError reports that the local adapter cannot be used.
type AdapterError struct {
	State AdapterState
	Msg   string
}

// Error implements the error interface
func (e *AdapterError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare AdapterError values by State
func (e *AdapterError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*AdapterError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for adapter states
var (
	ErrAdapterUnavailable = &AdapterError{State: AdapterUnavailable}
	ErrAdapterDisabled    = &AdapterError{State: AdapterDisabled}

	// ErrBluetoothOff is what backends report when the radio exists but is powered down.
	ErrBluetoothOff = ErrAdapterDisabled
)

// Server errors
var (
	ErrServerClosed     = errors.New("gatt server closed")
	ErrUnknownRequest   = errors.New("unknown request")
	ErrAlreadyResponded = errors.New("request already answered")
)

// AdvertiseFailure wraps a backend error with its advertising failure code.
type AdvertiseFailure struct {
	Code AdvertiseError
	Err  error
}

func (e *AdvertiseFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("advertise failed: %s (%d)", e.Code, int(e.Code))
	}
	return fmt.Sprintf("advertise failed: %s (%d): %v", e.Code, int(e.Code), e.Err)
}

func (e *AdvertiseFailure) Unwrap() error {
	return e.Err
}
