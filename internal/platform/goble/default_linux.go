//go:build linux

package goble

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"

	"github.com/srg/blebattery/internal/advertise"
)

func defaultDevice(interval time.Duration) (Device, error) {
	var opts []ble.Option
	if interval > 0 {
		units := advertise.IntervalUnits(interval)
		opts = append(opts, ble.OptAdvParams(cmd.LESetAdvertisingParameters{
			AdvertisingIntervalMin:  units,
			AdvertisingIntervalMax:  units,
			AdvertisingChannelMap:   0x07,
			AdvertisingFilterPolicy: 0x00,
		}))
	}

	dev, err := linux.NewDevice(opts...)
	if err != nil {
		return nil, err
	}
	return dev, nil
}
