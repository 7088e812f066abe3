package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blebattery/internal/groutine"
	"github.com/srg/blebattery/internal/platform"
	"github.com/srg/blebattery/internal/profile"
)

// responder is the part of ble.ResponseWriter a pending read answers through.
type responder interface {
	Write(b []byte) (int, error)
	SetStatus(status ble.ATTError)
}

// pendingRead is a read handler waiting for its SendResponse.
type pendingRead struct {
	deviceID string
	rsp      responder

	mu       sync.Mutex
	answered bool
}

// serverHandle is a GATT server on the shared device. go-ble read handlers are
// synchronous, so every request stays pending until the callback returns.
type serverHandle struct {
	stack  *Stack
	dev    Device
	cb     platform.ServerCallbacks
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	nextID  atomic.Uint64
	pending *hashmap.Map[platform.RequestID, *pendingRead]
	conns   *hashmap.Map[string, struct{}]

	mu      sync.Mutex
	service *ble.Service
	closed  bool
}

var _ platform.ServerHandle = (*serverHandle)(nil)

// OpenServer opens a GATT server that reports to cb. Only one server may be
// open on the device at a time.
func (s *Stack) OpenServer(cb platform.ServerCallbacks) (platform.ServerHandle, error) {
	if cb == nil {
		return nil, errors.New("server callbacks are required")
	}
	dev, err := s.device()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles > 0 {
		return nil, errors.New("a gatt server is already open on this device")
	}
	s.handles++

	ctx, cancel := context.WithCancel(context.Background())
	return &serverHandle{
		stack:   s,
		dev:     dev,
		cb:      cb,
		logger:  s.logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: hashmap.New[platform.RequestID, *pendingRead](),
		conns:   hashmap.New[string, struct{}](),
	}, nil
}

// AddService builds the go-ble service for desc and registers it on the device.
func (h *serverHandle) AddService(desc *profile.ServiceDescriptor) error {
	if desc == nil {
		return errors.New("service descriptor is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return platform.ErrServerClosed
	}
	if h.service != nil {
		return fmt.Errorf("service %s already registered", h.service.UUID)
	}

	svc := h.buildService(desc)
	if err := h.dev.AddService(svc); err != nil {
		return fmt.Errorf("failed to add service %s: %w", desc.ServiceUUID, NormalizeError(err))
	}
	h.service = svc
	return nil
}

func (h *serverHandle) buildService(desc *profile.ServiceDescriptor) *ble.Service {
	svc := ble.NewService(desc.ServiceUUID)

	charUUID := desc.CharacteristicUUID
	c := svc.NewCharacteristic(charUUID)
	c.Property = desc.CharacteristicProperties
	c.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		conn := req.Conn()
		h.serve(conn.RemoteAddr().String(), conn.Disconnected(), req.Offset(), rsp, func(id platform.RequestID, deviceID string) {
			h.cb.OnCharacteristicReadRequest(deviceID, id, req.Offset(), charUUID)
		})
	}))

	descUUID := desc.DescriptorUUID
	d := c.NewDescriptor(descUUID)
	d.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		conn := req.Conn()
		h.serve(conn.RemoteAddr().String(), conn.Disconnected(), req.Offset(), rsp, func(id platform.RequestID, deviceID string) {
			h.cb.OnDescriptorReadRequest(deviceID, id, req.Offset(), descUUID)
		})
	}))

	return svc
}

// serve runs one read request through the callbacks and makes sure it gets
// exactly one answer.
func (h *serverHandle) serve(deviceID string, disconnected <-chan struct{}, offset int, rsp responder, dispatch func(platform.RequestID, string)) {
	h.track(deviceID, disconnected)

	id := platform.RequestID(h.nextID.Add(1))
	p := &pendingRead{deviceID: deviceID, rsp: rsp}
	h.pending.Set(id, p)
	defer h.pending.Del(id)

	dispatch(id, deviceID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.answered {
		h.logger.WithFields(logrus.Fields{
			"device":  deviceID,
			"request": uint64(id),
			"offset":  offset,
		}).Warn("Read request left unanswered, replying with an error")
		p.answered = true
		rsp.SetStatus(ble.ErrUnlikely)
	}
}

// track reports a device as connected on its first request and as
// disconnected once its link closes.
func (h *serverHandle) track(deviceID string, disconnected <-chan struct{}) {
	if _, loaded := h.conns.GetOrInsert(deviceID, struct{}{}); loaded {
		return
	}
	h.cb.OnConnectionStateChange(deviceID, 0, platform.StateConnected)

	if disconnected == nil {
		return
	}
	groutine.Go(h.ctx, "goble-conn-"+deviceID, func(ctx context.Context) {
		select {
		case <-disconnected:
			h.conns.Del(deviceID)
			h.logger.WithFields(logrus.Fields{
				"device":    deviceID,
				"goroutine": groutine.Name(ctx),
			}).Debug("Central disconnected")
			h.cb.OnConnectionStateChange(deviceID, 0, platform.StateDisconnected)
		case <-ctx.Done():
		}
	})
}

// SendResponse answers a pending read. Each request accepts one response.
func (h *serverHandle) SendResponse(deviceID string, requestID platform.RequestID, status ble.ATTError, offset int, payload []byte) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return platform.ErrServerClosed
	}

	p, ok := h.pending.Get(requestID)
	if !ok || p.deviceID != deviceID {
		return fmt.Errorf("%w: %d from %s", platform.ErrUnknownRequest, requestID, deviceID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.answered {
		return fmt.Errorf("%w: %d", platform.ErrAlreadyResponded, requestID)
	}
	p.answered = true

	p.rsp.SetStatus(status)
	if status != ble.ErrSuccess || len(payload) == 0 {
		return nil
	}
	if offset != 0 {
		h.logger.WithField("offset", offset).Debug("Responding with the full value at a non-zero offset")
	}
	if _, err := p.rsp.Write(payload); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// Close removes the registered service and stops connection tracking.
func (h *serverHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	registered := h.service != nil
	h.service = nil
	h.mu.Unlock()

	h.cancel()

	h.stack.mu.Lock()
	h.stack.handles--
	h.stack.mu.Unlock()

	if !registered {
		return nil
	}
	if err := h.dev.RemoveAllServices(); err != nil {
		return fmt.Errorf("failed to remove services: %w", NormalizeError(err))
	}
	return nil
}
