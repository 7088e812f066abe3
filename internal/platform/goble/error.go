package goble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble"

	"github.com/srg/blebattery/internal/platform"
)

// NormalizeError maps known go-ble error strings to the platform adapter errors.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", platform.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "peripheral manager has invalid state"):
		return fmt.Errorf("%w: %v", platform.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", platform.ErrBluetoothOff, err)
	// linux wraps a soft-blocked radio in "can't init hci" too
	case containsIgnoreCase(msg, "rf-kill"), containsIgnoreCase(msg, "rfkill"):
		return fmt.Errorf("%w: %v", platform.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "can't init hci"):
		return fmt.Errorf("%w: %v", platform.ErrAdapterUnavailable, err)
	case containsIgnoreCase(msg, "no devices available"):
		return fmt.Errorf("%w: %v", platform.ErrAdapterUnavailable, err)
	case containsIgnoreCase(msg, "operation not permitted"):
		return fmt.Errorf("%w: %v", platform.ErrAdapterUnavailable, err)
	default:
		return err
	}
}

// advertiseCode classifies an error returned while starting to advertise.
func advertiseCode(err error) platform.AdvertiseError {
	switch {
	case errors.Is(err, ble.ErrEIRPacketTooLong):
		return platform.AdvertiseFailedDataTooLarge
	case errors.Is(err, ble.ErrNotImplemented):
		return platform.AdvertiseFailedFeatureUnsupported
	case containsIgnoreCase(err.Error(), "command disallowed"):
		return platform.AdvertiseFailedTooManyAdvertisers
	default:
		return platform.AdvertiseFailedInternalError
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
