// Package adapter decides whether the local Bluetooth adapter may be used.
package adapter

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/blebattery/internal/platform"
)

// Readiness is the result of a readiness check.
type Readiness int

const (
	// Ready means the adapter is present and powered.
	Ready Readiness = iota
	// NotReady means the adapter is present but disabled; an external enable
	// flow must run before checking again.
	NotReady
	// Unavailable means there is no Bluetooth hardware. Retrying will not help.
	Unavailable
)

func (r Readiness) String() string {
	switch r {
	case Ready:
		return "ready"
	case NotReady:
		return "not ready"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Err returns the platform error describing r, or nil when Ready.
func (r Readiness) Err() error {
	switch r {
	case Ready:
		return nil
	case NotReady:
		return platform.ErrAdapterDisabled
	default:
		return platform.ErrAdapterUnavailable
	}
}

// Gate checks the adapter. It holds no state: every call polls the adapter.
type Gate struct {
	adapter platform.Adapter
	logger  *logrus.Logger
}

// NewGate creates a Gate over adapter. A nil adapter is treated as absent hardware.
func NewGate(adapter platform.Adapter, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gate{adapter: adapter, logger: logger}
}

// EnsureReady performs one readiness check. It never retries.
func (g *Gate) EnsureReady() Readiness {
	if g.adapter == nil || !g.adapter.IsAvailable() {
		g.logger.Warn("Bluetooth adapter not available")
		return Unavailable
	}
	if !g.adapter.IsEnabled() {
		g.logger.Info("Bluetooth adapter disabled")
		return NotReady
	}
	g.logger.Debug("Bluetooth adapter ready")
	return Ready
}
