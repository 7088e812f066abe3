package main

import (
	"errors"

	"github.com/srg/blebattery/internal/platform"
)

// Command-level errors
var (
	// ErrInvalidConfig wraps every configuration problem found before the peripheral starts.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// FormatUserError turns err into a message for the terminal, replacing wrapped
// platform errors with advice the user can act on.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, platform.ErrAdapterUnavailable):
		return "no usable Bluetooth adapter - check that a controller is present and that this user may access it"
	case errors.Is(err, platform.ErrAdapterDisabled):
		return "Bluetooth is turned off - please enable Bluetooth and retry"
	default:
		return err.Error()
	}
}
