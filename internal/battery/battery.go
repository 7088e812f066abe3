// Package battery answers "how full is the host battery right now".
//
// Sources must return immediately: they are queried inside a GATT read turn and the
// platform stack times the request out if the answer is late.
package battery

import (
	"math"

	hostbattery "github.com/distatus/battery"
	"github.com/sirupsen/logrus"
)

// Level is a battery charge percentage in [0,100], or Unavailable.
type Level int

// Unavailable marks a reading that could not be taken.
const Unavailable Level = -1

// Valid reports whether l is a real percentage.
func (l Level) Valid() bool {
	return l >= 0 && l <= 100
}

// Source queries the current battery level.
type Source interface {
	Level() Level
}

// SourceFunc adapts an ordinary function to a Source.
type SourceFunc func() Level

// Level calls f().
func (f SourceFunc) Level() Level {
	return f()
}

// Static returns a Source that always reports l.
func Static(l Level) Source {
	return SourceFunc(func() Level { return l })
}

// hostSource reads the host fuel gauge.
type hostSource struct {
	getAll func() ([]*hostbattery.Battery, error)
	logger *logrus.Logger
}

// NewHost returns a Source backed by the operating system's battery information.
func NewHost(logger *logrus.Logger) Source {
	if logger == nil {
		logger = logrus.New()
	}
	return &hostSource{getAll: hostbattery.GetAll, logger: logger}
}

// Level aggregates the charge of every battery the host reports.
// Batteries that failed to read or report no capacity are skipped.
func (s *hostSource) Level() Level {
	bats, err := s.getAll()
	if err != nil && len(bats) == 0 {
		s.logger.WithError(err).Debug("Battery query failed")
		return Unavailable
	}

	var current, full float64
	for _, b := range bats {
		if b == nil || b.Full <= 0 {
			continue
		}
		current += b.Current
		full += b.Full
	}
	if full <= 0 {
		s.logger.WithField("batteries", len(bats)).Debug("No battery with a known capacity")
		return Unavailable
	}

	return clamp(Level(math.Round(current / full * 100)))
}

func clamp(l Level) Level {
	switch {
	case l < 0:
		return 0
	case l > 100:
		return 100
	default:
		return l
	}
}
