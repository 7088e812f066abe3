//go:build !linux && !darwin

package goble

import (
	"time"

	"github.com/srg/blebattery/internal/platform"
)

func defaultDevice(time.Duration) (Device, error) {
	return nil, platform.ErrAdapterUnavailable
}
