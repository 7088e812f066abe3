//go:build darwin

package goble

import (
	"time"

	"github.com/go-ble/ble/darwin"
)

// CoreBluetooth picks the advertising interval itself.
func defaultDevice(time.Duration) (Device, error) {
	dev, err := darwin.NewDevice()
	if err != nil {
		return nil, err
	}
	return dev, nil
}
