// Package gattserver serves the battery service on an open platform GATT server.
package gattserver

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blebattery/internal/battery"
	"github.com/srg/blebattery/internal/logsink"
	"github.com/srg/blebattery/internal/platform"
	"github.com/srg/blebattery/internal/profile"
)

// ErrServerOpenFailed is returned when the platform cannot provide a server.
var ErrServerOpenFailed = errors.New("unable to create gatt server")

// UnavailablePolicy decides how an Unavailable battery reading is answered.
type UnavailablePolicy string

const (
	// UnavailableEncode passes the sentinel through the value encoder.
	UnavailableEncode UnavailablePolicy = "encode"
	// UnavailableError answers the read with an ATT error.
	UnavailableError UnavailablePolicy = "error"
)

// ParseUnavailablePolicy validates a policy name.
func ParseUnavailablePolicy(s string) (UnavailablePolicy, error) {
	switch p := UnavailablePolicy(s); p {
	case UnavailableEncode, UnavailableError:
		return p, nil
	default:
		return "", fmt.Errorf("unknown unavailable policy %q (must be %s or %s)", s, UnavailableEncode, UnavailableError)
	}
}

// Options tunes how read requests are answered.
type Options struct {
	Encoding    profile.Encoding
	Unavailable UnavailablePolicy
}

// DefaultOptions keeps the wire behaviour of the original peripheral.
func DefaultOptions() Options {
	return Options{
		Encoding:    profile.EncodingSigned,
		Unavailable: UnavailableEncode,
	}
}

// Server owns the open GATT server handle and answers its callbacks.
// Callbacks arrive on platform goroutines.
type Server struct {
	opener platform.ServerOpener
	source battery.Source
	sink   logsink.Sink
	logger *logrus.Logger
	opts   Options
	now    func() time.Time

	mu     sync.Mutex
	handle platform.ServerHandle
	desc   *profile.ServiceDescriptor

	conns *hashmap.Map[string, ConnectionRecord]
	reads atomic.Uint64
}

var _ platform.ServerCallbacks = (*Server)(nil)

// New creates a closed Server.
func New(opener platform.ServerOpener, source battery.Source, sink logsink.Sink, logger *logrus.Logger, opts Options) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if sink == nil {
		sink = logsink.Discard
	}
	if opts.Encoding == "" {
		opts.Encoding = DefaultOptions().Encoding
	}
	if opts.Unavailable == "" {
		opts.Unavailable = DefaultOptions().Unavailable
	}
	return &Server{
		opener: opener,
		source: source,
		sink:   sink,
		logger: logger,
		opts:   opts,
		now:    time.Now,
		conns:  hashmap.New[string, ConnectionRecord](),
	}
}

// Open opens the platform server and registers desc as its only service.
// While already open it returns the existing handle and registers nothing.
func (s *Server) Open(desc *profile.ServiceDescriptor) (platform.ServerHandle, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service descriptor: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		s.logger.Debug("GATT server already open")
		return s.handle, nil
	}

	h, err := s.opener.OpenServer(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServerOpenFailed, err)
	}
	if h == nil {
		return nil, ErrServerOpenFailed
	}

	if err := h.AddService(desc); err != nil {
		if cerr := h.Close(); cerr != nil {
			s.logger.WithError(cerr).Debug("Failed to close server after registration error")
		}
		return nil, fmt.Errorf("failed to register service %s: %w", desc.ServiceUUID, err)
	}

	s.handle = h
	s.desc = desc
	s.logger.WithField("service", desc.ServiceUUID.String()).Info("GATT server open")
	return h, nil
}

// Close releases the server. It is a no-op when the server is not open.
func (s *Server) Close() error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.desc = nil
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	if err := h.Close(); err != nil {
		return fmt.Errorf("failed to close gatt server: %w", err)
	}
	s.logger.Info("GATT server closed")
	return nil
}

// IsOpen reports whether a handle is held.
func (s *Server) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

func (s *Server) current() (platform.ServerHandle, *profile.ServiceDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle, s.desc
}

// OnConnectionStateChange records the new state of deviceID.
func (s *Server) OnConnectionStateChange(deviceID string, status int, newState platform.ConnState) {
	state := StateFromCode(newState)
	if state == StateUnknown {
		s.logger.WithFields(logrus.Fields{
			"device": deviceID,
			"code":   int(newState),
		}).Warn("Unrecognized connection state")
	}

	s.conns.Set(deviceID, ConnectionRecord{DeviceID: deviceID, State: state, Updated: s.now()})
	s.logger.WithFields(logrus.Fields{
		"device": deviceID,
		"status": status,
		"state":  state.String(),
	}).Debug("Connection state changed")
	s.sink.OnLog(fmt.Sprintf("device %s %s", deviceID, state))
}

// OnCharacteristicReadRequest answers a characteristic read exactly once.
func (s *Server) OnCharacteristicReadRequest(deviceID string, requestID platform.RequestID, offset int, attr ble.UUID) {
	s.reads.Add(1)
	s.sink.OnLog(fmt.Sprintf("device %s characteristic read request", deviceID))

	h, desc := s.current()
	if h == nil {
		// no handle to answer through; the backend answers requests its handler left unanswered
		s.logger.WithField("device", deviceID).Warn("Read request on a closed server")
		return
	}

	if !desc.IsBatteryLevel(attr) {
		s.logger.WithFields(logrus.Fields{
			"device": deviceID,
			"attr":   attr.String(),
		}).Debug("Read request for unknown characteristic")
		s.respond(h, deviceID, requestID, ble.ErrUnlikely, 0, nil)
		return
	}

	status, payload := s.readLevel()
	if status != ble.ErrSuccess {
		s.respond(h, deviceID, requestID, status, 0, nil)
		return
	}
	if offset != 0 {
		s.logger.WithField("offset", offset).Warn("Offset reads are not supported, answering the full value")
	}
	s.respond(h, deviceID, requestID, ble.ErrSuccess, offset, payload)
}

// readLevel queries the battery and encodes the answer.
func (s *Server) readLevel() (ble.ATTError, []byte) {
	level := s.source.Level()
	s.sink.OnLog(fmt.Sprintf("battery level is %d", level))

	if !level.Valid() && s.opts.Unavailable == UnavailableError {
		return ble.ErrUnlikely, nil
	}

	payload, err := profile.EncodeLevel(level, s.opts.Encoding)
	if err != nil {
		s.logger.WithError(err).WithField("level", int(level)).Warn("Cannot encode battery level")
		return ble.ErrUnlikely, nil
	}
	return ble.ErrSuccess, payload
}

// OnDescriptorReadRequest answers descriptor reads with the default descriptor value.
func (s *Server) OnDescriptorReadRequest(deviceID string, requestID platform.RequestID, offset int, attr ble.UUID) {
	s.sink.OnLog(fmt.Sprintf("device %s descriptor read request", deviceID))

	h, desc := s.current()
	if h == nil {
		// answered by the backend, as above
		s.logger.WithField("device", deviceID).Warn("Descriptor read on a closed server")
		return
	}

	if !profile.SameUUID(desc.DescriptorUUID, attr) {
		s.respond(h, deviceID, requestID, ble.ErrUnlikely, 0, nil)
		return
	}
	s.respond(h, deviceID, requestID, ble.ErrSuccess, offset, profile.DefaultDescriptorValue())
}

func (s *Server) respond(h platform.ServerHandle, deviceID string, requestID platform.RequestID, status ble.ATTError, offset int, payload []byte) {
	if err := h.SendResponse(deviceID, requestID, status, offset, payload); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"device":  deviceID,
			"request": uint64(requestID),
		}).Warn("Failed to send response")
	}
}

// Connections returns the last known state of every device, sorted by address.
func (s *Server) Connections() []ConnectionRecord {
	records := make([]ConnectionRecord, 0, s.conns.Len())
	s.conns.Range(func(_ string, r ConnectionRecord) bool {
		records = append(records, r)
		return true
	})
	sort.Slice(records, func(i, j int) bool { return records[i].DeviceID < records[j].DeviceID })
	return records
}

// ReadCount returns how many characteristic reads have been received.
func (s *Server) ReadCount() uint64 {
	return s.reads.Load()
}
