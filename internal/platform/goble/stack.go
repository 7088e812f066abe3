// Package goble implements the platform capabilities on top of go-ble.
//
// go-ble has no server-side connection events and no explicit advertising
// success signal, so this backend derives both: a connection is reported as
// connected on its first request and disconnected when its link closes, and
// advertising is reported as started once it has run for StartGrace without
// error.
package goble

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blebattery/internal/groutine"
	"github.com/srg/blebattery/internal/platform"
)

// DefaultStartGrace is how long advertising must run before it counts as started.
const DefaultStartGrace = 500 * time.Millisecond

// Device is the part of ble.Device this backend drives.
type Device interface {
	AddService(svc *ble.Service) error
	RemoveAllServices() error
	AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error
	Stop() error
}

// DeviceFactory opens the local HCI device (can be overridden in tests).
// interval is the advertising interval requested by the caller; backends that
// cannot configure it ignore it.
var DeviceFactory = func(interval time.Duration) (Device, error) {
	return defaultDevice(interval)
}

// Options configures a Stack.
type Options struct {
	StartGrace  time.Duration
	AdvInterval time.Duration
}

// Stack is the go-ble backed adapter, advertiser and GATT server opener.
// The HCI device is opened lazily and shared by all three roles.
type Stack struct {
	opts   Options
	logger *logrus.Logger

	mu      sync.Mutex
	dev     Device
	adv     *advertisement
	handles int
}

var (
	_ platform.Adapter      = (*Stack)(nil)
	_ platform.Advertiser   = (*Stack)(nil)
	_ platform.ServerOpener = (*Stack)(nil)
)

// NewStack creates a Stack. Nothing is opened until first use.
func NewStack(opts Options, logger *logrus.Logger) *Stack {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.StartGrace <= 0 {
		opts.StartGrace = DefaultStartGrace
	}
	return &Stack{opts: opts, logger: logger}
}

// device returns the shared device, opening it when needed. Open failures are
// not cached so a later call can pick up an adapter that was switched on.
func (s *Stack) device() (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev != nil {
		return s.dev, nil
	}
	dev, err := DeviceFactory(s.opts.AdvInterval)
	if err != nil {
		err = NormalizeError(err)
		s.logger.WithError(err).Debug("Failed to open BLE device")
		return nil, err
	}
	if dev == nil {
		return nil, platform.ErrAdapterUnavailable
	}
	s.dev = dev
	s.logger.Debug("BLE device opened")
	return dev, nil
}

// IsAvailable reports whether a device could be opened, or exists but is powered off.
func (s *Stack) IsAvailable() bool {
	_, err := s.device()
	return err == nil || errors.Is(err, platform.ErrAdapterDisabled)
}

// IsEnabled reports whether the device is open and usable.
func (s *Stack) IsEnabled() bool {
	_, err := s.device()
	return err == nil
}

// RequestEnable cannot power the radio through go-ble. It probes the device
// again and reports EnableOK when it has come up in the meantime.
func (s *Stack) RequestEnable(done func(platform.EnableResult)) {
	groutine.Go(context.Background(), "goble-enable", func(ctx context.Context) {
		if s.IsEnabled() {
			done(platform.EnableOK)
			return
		}
		done(platform.EnableUnsupported)
	})
}

// Close stops advertising and releases the device.
func (s *Stack) Close() error {
	s.mu.Lock()
	dev := s.dev
	adv := s.adv
	s.dev = nil
	s.adv = nil
	s.mu.Unlock()

	if adv != nil {
		adv.cancel()
		<-adv.done
	}
	if dev == nil {
		return nil
	}
	return NormalizeError(dev.Stop())
}
