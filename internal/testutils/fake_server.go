package testutils

import (
	"errors"
	"sync"

	"github.com/go-ble/ble"

	"github.com/srg/blebattery/internal/platform"
	"github.com/srg/blebattery/internal/profile"
)

// Response records one SendResponse call.
type Response struct {
	DeviceID  string
	RequestID platform.RequestID
	Status    ble.ATTError
	Offset    int
	Payload   []byte
}

// FakeServerOpener hands out FakeServerHandles. Set FailOpen to make OpenServer fail.
type FakeServerOpener struct {
	FailOpen error

	mu      sync.Mutex
	opens   int
	handles []*FakeServerHandle
}

var _ platform.ServerOpener = (*FakeServerOpener)(nil)

func NewFakeServerOpener() *FakeServerOpener {
	return &FakeServerOpener{}
}

func (o *FakeServerOpener) OpenServer(cb platform.ServerCallbacks) (platform.ServerHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.FailOpen != nil {
		return nil, o.FailOpen
	}
	h := &FakeServerHandle{callbacks: cb}
	o.handles = append(o.handles, h)
	return h, nil
}

func (o *FakeServerOpener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// Last returns the most recently opened handle, or nil.
func (o *FakeServerOpener) Last() *FakeServerHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.handles) == 0 {
		return nil
	}
	return o.handles[len(o.handles)-1]
}

// FakeServerHandle is an in-memory GATT server handle that records services and responses.
type FakeServerHandle struct {
	FailAddService error

	mu        sync.Mutex
	callbacks platform.ServerCallbacks
	services  []*profile.ServiceDescriptor
	responses []Response
	nextID    platform.RequestID
	closes    int
}

var _ platform.ServerHandle = (*FakeServerHandle)(nil)

func (h *FakeServerHandle) AddService(desc *profile.ServiceDescriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.FailAddService != nil {
		return h.FailAddService
	}
	h.services = append(h.services, desc)
	return nil
}

func (h *FakeServerHandle) SendResponse(deviceID string, requestID platform.RequestID, status ble.ATTError, offset int, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closes > 0 {
		return platform.ErrServerClosed
	}
	h.responses = append(h.responses, Response{
		DeviceID:  deviceID,
		RequestID: requestID,
		Status:    status,
		Offset:    offset,
		Payload:   append([]byte(nil), payload...),
	})
	return nil
}

func (h *FakeServerHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	if h.closes > 1 {
		return errors.New("handle closed twice")
	}
	return nil
}

// ReadCharacteristic simulates a central reading attr and returns the responses it produced.
func (h *FakeServerHandle) ReadCharacteristic(deviceID string, attr ble.UUID, offset int) []Response {
	id, before := h.begin()
	h.callbacks.OnCharacteristicReadRequest(deviceID, id, offset, attr)
	return h.since(before)
}

// ReadDescriptor simulates a central reading descriptor attr.
func (h *FakeServerHandle) ReadDescriptor(deviceID string, attr ble.UUID, offset int) []Response {
	id, before := h.begin()
	h.callbacks.OnDescriptorReadRequest(deviceID, id, offset, attr)
	return h.since(before)
}

// ChangeState simulates a connection state event.
func (h *FakeServerHandle) ChangeState(deviceID string, state platform.ConnState) {
	h.callbacks.OnConnectionStateChange(deviceID, 0, state)
}

func (h *FakeServerHandle) begin() (platform.RequestID, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return h.nextID, len(h.responses)
}

func (h *FakeServerHandle) since(n int) []Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Response(nil), h.responses[n:]...)
}

func (h *FakeServerHandle) Services() []*profile.ServiceDescriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*profile.ServiceDescriptor(nil), h.services...)
}

func (h *FakeServerHandle) Closes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}
