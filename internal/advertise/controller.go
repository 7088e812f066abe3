// Package advertise runs the LE advertisement that announces the battery service.
package advertise

import (
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blebattery/internal/platform"
)

// Outcome is the asynchronous result of Start.
type Outcome struct {
	Started  bool
	Settings platform.AdvertiseSettings // settings in effect, when Started
	Code     platform.AdvertiseError    // failure code, when !Started
	Err      *platform.AdvertiseFailure // code and backend cause, when !Started
}

// Settings returns the fixed advertising configuration: connectable, balanced
// mode, no timeout, medium transmit power.
func Settings() platform.AdvertiseSettings {
	return platform.AdvertiseSettings{
		Mode:        platform.AdvertiseModeBalanced,
		Connectable: true,
		Timeout:     0,
		TxPower:     platform.TxPowerMedium,
	}
}

// Payload returns the advertisement data: device name and service UUID included,
// TX power level excluded.
func Payload(serviceUUID ble.UUID, deviceName string) platform.AdvertiseData {
	return platform.AdvertiseData{
		DeviceName:          deviceName,
		IncludeDeviceName:   true,
		IncludeTxPowerLevel: false,
		ServiceUUIDs:        []ble.UUID{serviceUUID},
	}
}

// IntervalFor returns the advertising interval a mode maps to.
func IntervalFor(mode platform.AdvertiseMode) time.Duration {
	switch mode {
	case platform.AdvertiseModeLowLatency:
		return 100 * time.Millisecond
	case platform.AdvertiseModeLowPower:
		return time.Second
	default:
		return 250 * time.Millisecond
	}
}

// IntervalUnits converts an interval to HCI units of 0.625 ms.
func IntervalUnits(d time.Duration) uint16 {
	return uint16(d / (625 * time.Microsecond))
}

// Controller starts and stops one advertising session at a time.
type Controller struct {
	adv       platform.Advertiser
	onOutcome func(Outcome)
	logger    *logrus.Logger

	mu      sync.Mutex
	current *session
}

// NewController creates a Controller. onOutcome receives every start result and
// may be called from a platform goroutine.
func NewController(adv platform.Advertiser, onOutcome func(Outcome), logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	if onOutcome == nil {
		onOutcome = func(Outcome) {}
	}
	return &Controller{adv: adv, onOutcome: onOutcome, logger: logger}
}

// Start begins advertising serviceUUID under deviceName. It returns before the
// advertisement is live; the outcome is delivered to onOutcome. Starting while a
// session exists is ignored.
func (c *Controller) Start(serviceUUID ble.UUID, deviceName string) {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		c.logger.Debug("Advertising already requested, ignoring start")
		return
	}
	s := &session{c: c}
	c.current = s
	c.mu.Unlock()

	settings := Settings()
	c.logger.WithFields(logrus.Fields{
		"service": serviceUUID.String(),
		"name":    deviceName,
		"mode":    settings.Mode.String(),
		"tx":      settings.TxPower.String(),
	}).Debug("Starting advertising")

	c.adv.StartAdvertising(settings, Payload(serviceUUID, deviceName), s)
}

// Stop ends the current session. Without one it does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()

	if s == nil {
		return
	}
	c.adv.StopAdvertising(s)
	c.logger.Debug("Advertising stopped")
}

// Active reports whether the platform has confirmed the current session.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.confirmed
}

// Pending reports whether a session was requested, confirmed or not.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// session is the platform callback for one Start call. Outcomes for a session
// that has been stopped or replaced are dropped.
type session struct {
	c         *Controller
	confirmed bool
}

func (s *session) OnStartSuccess(settingsInEffect platform.AdvertiseSettings) {
	c := s.c
	c.mu.Lock()
	if c.current != s {
		c.mu.Unlock()
		c.logger.Debug("Dropping start success for a stopped session")
		return
	}
	s.confirmed = true
	c.mu.Unlock()

	c.onOutcome(Outcome{Started: true, Settings: settingsInEffect})
}

func (s *session) OnStartFailure(code platform.AdvertiseError, cause error) {
	c := s.c
	c.mu.Lock()
	if c.current != s {
		c.mu.Unlock()
		c.logger.WithField("code", int(code)).Debug("Dropping start failure for a stopped session")
		return
	}
	c.current = nil
	c.mu.Unlock()

	c.onOutcome(Outcome{Code: code, Err: &platform.AdvertiseFailure{Code: code, Err: cause}})
}
