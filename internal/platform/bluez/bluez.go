// Package bluez reads and switches the power state of a BlueZ adapter over D-Bus.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/blebattery/internal/groutine"
	"github.com/srg/blebattery/internal/platform"
)

const (
	BusName          = "org.bluez"
	AdapterInterface = "org.bluez.Adapter1"

	objectManagerGetAll = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	propertiesGet       = "org.freedesktop.DBus.Properties.Get"
	propertiesSet       = "org.freedesktop.DBus.Properties.Set"
)

// ManagedObjects is the reply of ObjectManager.GetManagedObjects.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Bus is the part of the system bus the adapter talks to.
type Bus interface {
	ManagedObjects() (ManagedObjects, error)
	GetProperty(obj dbus.ObjectPath, iface, name string) (dbus.Variant, error)
	SetProperty(obj dbus.ObjectPath, iface, name string, value dbus.Variant) error
	Close() error
}

// systemBus implements Bus on a godbus connection.
type systemBus struct {
	conn *dbus.Conn
}

func (b *systemBus) ManagedObjects() (ManagedObjects, error) {
	objects := make(ManagedObjects)
	if err := b.conn.Object(BusName, "/").Call(objectManagerGetAll, 0).Store(&objects); err != nil {
		return nil, err
	}
	return objects, nil
}

func (b *systemBus) GetProperty(obj dbus.ObjectPath, iface, name string) (dbus.Variant, error) {
	var v dbus.Variant
	err := b.conn.Object(BusName, obj).Call(propertiesGet, 0, iface, name).Store(&v)
	return v, err
}

func (b *systemBus) SetProperty(obj dbus.ObjectPath, iface, name string, value dbus.Variant) error {
	return b.conn.Object(BusName, obj).Call(propertiesSet, 0, iface, name, value).Err
}

func (b *systemBus) Close() error {
	return b.conn.Close()
}

// Adapter is a platform.Adapter backed by one org.bluez.Adapter1 object.
type Adapter struct {
	bus    Bus
	name   string
	logger *logrus.Logger

	mu      sync.Mutex
	waiters []func(platform.EnableResult) // non-empty while a Powered=true Set is in flight
}

var _ platform.Adapter = (*Adapter)(nil)

// New connects to the system bus. name selects an adapter by its object name
// (hci0), address or alias; empty picks the first adapter BlueZ reports.
func New(name string, logger *logrus.Logger) (*Adapter, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	return NewWithBus(&systemBus{conn: conn}, name, logger), nil
}

// NewWithBus creates an Adapter on an existing bus.
func NewWithBus(bus Bus, name string, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{bus: bus, name: name, logger: logger}
}

// find returns the object path of the selected adapter.
func (a *Adapter) find() (dbus.ObjectPath, error) {
	objects, err := a.bus.ManagedObjects()
	if err != nil {
		return "", fmt.Errorf("%w: %v", platform.ErrAdapterUnavailable, err)
	}

	var found []dbus.ObjectPath
	for p, ifaces := range objects {
		props, ok := ifaces[AdapterInterface]
		if !ok {
			continue
		}
		if a.name == "" || matches(a.name, p, props) {
			found = append(found, p)
		}
	}
	if len(found) == 0 {
		if a.name != "" {
			return "", &platform.AdapterError{State: platform.AdapterUnavailable, Msg: fmt.Sprintf("no adapter named %q", a.name)}
		}
		return "", platform.ErrAdapterUnavailable
	}

	// map order is random, keep the choice stable
	best := found[0]
	for _, p := range found[1:] {
		if p < best {
			best = p
		}
	}
	return best, nil
}

func matches(name string, p dbus.ObjectPath, props map[string]dbus.Variant) bool {
	if path.Base(string(p)) == name {
		return true
	}
	for _, key := range []string{"Address", "Alias", "Name"} {
		if v, ok := props[key]; ok {
			if s, ok := v.Value().(string); ok && strings.EqualFold(s, name) {
				return true
			}
		}
	}
	return false
}

// IsAvailable reports whether BlueZ knows the selected adapter.
func (a *Adapter) IsAvailable() bool {
	_, err := a.find()
	if err != nil {
		a.logger.WithError(err).Debug("BlueZ adapter not found")
	}
	return err == nil
}

// IsEnabled reads the adapter's Powered property.
func (a *Adapter) IsEnabled() bool {
	powered, err := a.powered()
	if err != nil {
		a.logger.WithError(err).Debug("Failed to read adapter power state")
		return false
	}
	return powered
}

func (a *Adapter) powered() (bool, error) {
	p, err := a.find()
	if err != nil {
		return false, err
	}
	v, err := a.bus.GetProperty(p, AdapterInterface, "Powered")
	if err != nil {
		return false, err
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("unexpected Powered value %v", v)
	}
	return powered, nil
}

// RequestEnable sets Powered on the adapter and calls done with the result.
// Requests made while one is in flight share its result.
func (a *Adapter) RequestEnable(done func(platform.EnableResult)) {
	a.mu.Lock()
	inFlight := len(a.waiters) > 0
	a.waiters = append(a.waiters, done)
	a.mu.Unlock()

	if inFlight {
		a.logger.Debug("Bluetooth enable already in progress, waiting for its result")
		return
	}

	groutine.Go(context.Background(), "bluez-enable", func(ctx context.Context) {
		result := a.enable()

		a.mu.Lock()
		waiters := a.waiters
		a.waiters = nil
		a.mu.Unlock()

		a.logger.WithFields(logrus.Fields{
			"result":  result.String(),
			"waiters": len(waiters),
		}).Info("Bluetooth enable request finished")
		for _, w := range waiters {
			w(result)
		}
	})
}

func (a *Adapter) enable() platform.EnableResult {
	p, err := a.find()
	if err != nil {
		a.logger.WithError(err).Warn("Cannot enable a missing adapter")
		return platform.EnableUnsupported
	}
	if err := a.bus.SetProperty(p, AdapterInterface, "Powered", dbus.MakeVariant(true)); err != nil {
		a.logger.WithError(err).Warn("Failed to power on adapter")
		return enableResultFor(err)
	}

	powered, err := a.powered()
	if err != nil || !powered {
		return platform.EnableFailed
	}
	return platform.EnableOK
}

// enableResultFor maps a D-Bus error from Properties.Set to an enable result.
func enableResultFor(err error) platform.EnableResult {
	switch errorName(err) {
	case "org.freedesktop.DBus.Error.AccessDenied", "org.bluez.Error.NotAuthorized":
		return platform.EnableCanceled
	case "org.bluez.Error.NotSupported":
		return platform.EnableUnsupported
	default:
		return platform.EnableFailed
	}
}

func errorName(err error) string {
	var byValue dbus.Error
	if errors.As(err, &byValue) {
		return byValue.Name
	}
	var byRef *dbus.Error
	if errors.As(err, &byRef) && byRef != nil {
		return byRef.Name
	}
	return ""
}

// Close releases the bus connection.
func (a *Adapter) Close() error {
	return a.bus.Close()
}
