// Package profile defines the GATT topology published by the peripheral and the
// wire encoding of its battery level value.
package profile

import (
	"errors"
	"fmt"

	"github.com/go-ble/ble"

	"github.com/srg/blebattery/internal/bledb"
)

// Standard Bluetooth SIG identifiers for the Battery Service.
var (
	BatteryServiceUUID   = ble.UUID16(0x180F)
	BatteryLevelUUID     = ble.UUID16(0x2A19)
	ClientCharConfigUUID = ble.UUID16(0x2902)
)

var defaultCCCDValue = []byte{0x00, 0x00}

var batteryServiceDescriptor = ServiceDescriptor{
	ServiceUUID:               BatteryServiceUUID,
	CharacteristicUUID:        BatteryLevelUUID,
	DescriptorUUID:            ClientCharConfigUUID,
	CharacteristicProperties:  ble.CharRead,
	CharacteristicPermissions: PermRead,
	DescriptorPermissions:     PermRead | PermWrite,
}

// Permission is a bit set of attribute access permissions.
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermWrite
)

// Names returns the permission names in bit order.
func (p Permission) Names() []string {
	names := make([]string, 0, 2)
	if p&PermRead != 0 {
		names = append(names, "read")
	}
	if p&PermWrite != 0 {
		names = append(names, "write")
	}
	return names
}

// ServiceDescriptor is the static definition of one primary service holding one
// characteristic with one descriptor attached.
type ServiceDescriptor struct {
	ServiceUUID               ble.UUID
	CharacteristicUUID        ble.UUID
	DescriptorUUID            ble.UUID
	CharacteristicProperties  ble.Property
	CharacteristicPermissions Permission
	DescriptorPermissions     Permission
}

// Battery returns the Battery Service descriptor.
func Battery() *ServiceDescriptor {
	d := batteryServiceDescriptor
	return &d
}

// DefaultDescriptorValue is the value served for descriptor reads: a Client
// Characteristic Configuration with notifications and indications disabled.
func DefaultDescriptorValue() []byte {
	return append([]byte(nil), defaultCCCDValue...)
}

// IsBatteryLevel reports whether u identifies the battery level characteristic,
// in either its 16-bit or its 128-bit SIG base form.
func (d *ServiceDescriptor) IsBatteryLevel(u ble.UUID) bool {
	return SameUUID(d.CharacteristicUUID, u)
}

// SameUUID compares UUIDs after normalization, so a 16-bit UUID equals its
// 128-bit SIG base expansion.
func SameUUID(a, b ble.UUID) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return bledb.NormalizeUUID(a.String()) == bledb.NormalizeUUID(b.String())
}

// Validate checks that the descriptor publishes the standard Battery Service.
func (d *ServiceDescriptor) Validate() error {
	if d == nil {
		return errors.New("service descriptor is required")
	}
	switch {
	case !SameUUID(d.ServiceUUID, BatteryServiceUUID):
		return fmt.Errorf("service uuid %s is not the battery service", d.ServiceUUID)
	case !SameUUID(d.CharacteristicUUID, BatteryLevelUUID):
		return fmt.Errorf("characteristic uuid %s is not battery level", d.CharacteristicUUID)
	case !SameUUID(d.DescriptorUUID, ClientCharConfigUUID):
		return fmt.Errorf("descriptor uuid %s is not client characteristic configuration", d.DescriptorUUID)
	case d.CharacteristicProperties&ble.CharRead == 0:
		return fmt.Errorf("battery level must be readable")
	case d.CharacteristicProperties&(ble.CharWrite|ble.CharWriteNR|ble.CharNotify|ble.CharIndicate) != 0:
		return fmt.Errorf("battery level only supports read")
	case d.CharacteristicPermissions&PermRead == 0:
		return fmt.Errorf("battery level permissions must include read")
	case d.DescriptorPermissions != PermRead|PermWrite:
		return fmt.Errorf("client characteristic configuration permissions must be read and write")
	}
	return nil
}
