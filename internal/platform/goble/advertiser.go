package goble

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blebattery/internal/groutine"
	"github.com/srg/blebattery/internal/platform"
)

var errAlreadyAdvertising = errors.New("an advertisement is already running")

// advertisement is one running AdvertiseNameAndServices call.
type advertisement struct {
	cb     platform.AdvertiseCallback
	cancel context.CancelFunc
	done   chan struct{}
}

// StartAdvertising runs AdvertiseNameAndServices on its own goroutine and
// reports the outcome to cb.
func (s *Stack) StartAdvertising(settings platform.AdvertiseSettings, data platform.AdvertiseData, cb platform.AdvertiseCallback) {
	dev, err := s.device()
	if err != nil {
		s.logger.WithError(err).Warn("Cannot advertise without a BLE device")
		s.fail(cb, platform.AdvertiseFailedInternalError, err)
		return
	}

	s.mu.Lock()
	if s.adv != nil {
		s.mu.Unlock()
		s.fail(cb, platform.AdvertiseFailedAlreadyStarted, errAlreadyAdvertising)
		return
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if settings.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), settings.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	adv := &advertisement{cb: cb, cancel: cancel, done: make(chan struct{})}
	s.adv = adv
	s.mu.Unlock()

	name := ""
	if data.IncludeDeviceName {
		name = data.DeviceName
	}
	if data.IncludeTxPowerLevel {
		s.logger.Debug("TX power level is not configurable through go-ble, advertising without it")
	}

	s.logger.WithFields(logrus.Fields{
		"name":     name,
		"services": len(data.ServiceUUIDs),
		"mode":     settings.Mode.String(),
	}).Debug("Starting advertisement")

	groutine.Go(ctx, "goble-advertise", func(ctx context.Context) {
		defer s.release(adv)

		errc := make(chan error, 1)
		groutine.Go(ctx, "goble-advertise-hci", func(ctx context.Context) {
			errc <- dev.AdvertiseNameAndServices(ctx, name, data.ServiceUUIDs...)
		})

		grace := time.NewTimer(s.opts.StartGrace)
		defer grace.Stop()

		select {
		case err := <-errc:
			if ctx.Err() != nil {
				// stopped before it was confirmed
				return
			}
			if err == nil {
				err = errors.New("advertising ended immediately")
			}
			s.logger.WithError(err).Warn("Advertising failed to start")
			cb.OnStartFailure(advertiseCode(err), err)
			return
		case <-grace.C:
			cb.OnStartSuccess(settings)
		}

		if err := <-errc; err != nil && ctx.Err() == nil {
			s.logger.WithError(err).WithField("goroutine", groutine.Name(ctx)).Warn("Advertising stopped unexpectedly")
		}
	})
}

// StopAdvertising cancels the advertisement started with cb, if it is still running.
func (s *Stack) StopAdvertising(cb platform.AdvertiseCallback) {
	s.mu.Lock()
	adv := s.adv
	if adv == nil || adv.cb != cb {
		s.mu.Unlock()
		return
	}
	s.adv = nil
	s.mu.Unlock()

	adv.cancel()
	<-adv.done
	s.logger.Debug("Advertisement stopped")
}

func (s *Stack) release(adv *advertisement) {
	s.mu.Lock()
	if s.adv == adv {
		s.adv = nil
	}
	s.mu.Unlock()
	adv.cancel()
	close(adv.done)
}

// fail reports a failure asynchronously, like the platform would.
func (s *Stack) fail(cb platform.AdvertiseCallback, code platform.AdvertiseError, cause error) {
	groutine.Go(context.Background(), "goble-advertise-failure", func(ctx context.Context) {
		cb.OnStartFailure(code, cause)
	})
}
