package goble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/srg/blebattery/internal/platform"
	"github.com/srg/blebattery/internal/profile"
	"github.com/srg/blebattery/internal/testutils"
)

// MockDevice implements Device for testing
type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) AddService(svc *ble.Service) error {
	args := m.Called(svc)
	return args.Error(0)
}

func (m *MockDevice) RemoveAllServices() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDevice) AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error {
	args := m.Called(ctx, name, uuids)
	return args.Error(0)
}

func (m *MockDevice) Stop() error {
	args := m.Called()
	return args.Error(0)
}

// blockUntilDone makes AdvertiseNameAndServices behave like the real one.
func blockUntilDone(args mock.Arguments) {
	<-args.Get(0).(context.Context).Done()
}

func useDevice(t *testing.T, dev Device, err error) {
	t.Helper()
	orig := DeviceFactory
	DeviceFactory = func(time.Duration) (Device, error) {
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
	t.Cleanup(func() { DeviceFactory = orig })
}

func newTestStack() *Stack {
	return NewStack(Options{StartGrace: 20 * time.Millisecond}, testutils.QuietLogger())
}

// advertiseRecorder implements platform.AdvertiseCallback
type advertiseRecorder struct {
	started chan platform.AdvertiseSettings
	failed  chan platform.AdvertiseError
	causes  chan error
}

func newAdvertiseRecorder() *advertiseRecorder {
	return &advertiseRecorder{
		started: make(chan platform.AdvertiseSettings, 4),
		failed:  make(chan platform.AdvertiseError, 4),
		causes:  make(chan error, 4),
	}
}

func (r *advertiseRecorder) OnStartSuccess(s platform.AdvertiseSettings) { r.started <- s }

func (r *advertiseRecorder) OnStartFailure(c platform.AdvertiseError, cause error) {
	r.causes <- cause
	r.failed <- c
}

// serverRecorder implements platform.ServerCallbacks
type serverRecorder struct {
	mu     sync.Mutex
	states []platform.ConnState
	events chan platform.ConnState
	onRead func(deviceID string, id platform.RequestID, attr ble.UUID)
}

func newServerRecorder() *serverRecorder {
	return &serverRecorder{events: make(chan platform.ConnState, 8)}
}

func (r *serverRecorder) OnConnectionStateChange(deviceID string, status int, newState platform.ConnState) {
	r.mu.Lock()
	r.states = append(r.states, newState)
	r.mu.Unlock()
	r.events <- newState
}

func (r *serverRecorder) OnCharacteristicReadRequest(deviceID string, id platform.RequestID, offset int, attr ble.UUID) {
	if r.onRead != nil {
		r.onRead(deviceID, id, attr)
	}
}

func (r *serverRecorder) OnDescriptorReadRequest(deviceID string, id platform.RequestID, offset int, attr ble.UUID) {
	if r.onRead != nil {
		r.onRead(deviceID, id, attr)
	}
}

// fakeResponse implements responder
type fakeResponse struct {
	status ble.ATTError
	data   []byte
	writes int
}

func (f *fakeResponse) Write(b []byte) (int, error) {
	f.writes++
	f.data = append(f.data, b...)
	return len(b), nil
}

func (f *fakeResponse) SetStatus(status ble.ATTError) { f.status = status }

func TestStack_AdapterProbe(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		available bool
		enabled   bool
	}{
		{"device opens", nil, true, true},
		{"powered off", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), true, false},
		{"radio soft-blocked", errors.New("can't init hci: can't up device: operation not possible due to RF-kill"), true, false},
		{"no controller", errors.New("can't init hci: no devices available"), false, false},
		{"unknown error", errors.New("boom"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useDevice(t, &MockDevice{}, tt.err)
			s := newTestStack()

			assert.Equal(t, tt.available, s.IsAvailable())
			assert.Equal(t, tt.enabled, s.IsEnabled())
		})
	}
}

func TestStack_RequestEnable(t *testing.T) {
	useDevice(t, nil, errors.New("bluetooth is turned off"))
	s := newTestStack()

	results := make(chan platform.EnableResult, 1)
	s.RequestEnable(func(r platform.EnableResult) { results <- r })

	select {
	case r := <-results:
		assert.Equal(t, platform.EnableUnsupported, r)
	case <-time.After(time.Second):
		t.Fatal("enable result not delivered")
	}
}

func TestStack_AdvertiseStartsAfterGrace(t *testing.T) {
	dev := &MockDevice{}
	dev.On("AdvertiseNameAndServices", mock.Anything, "BatteryServer", []ble.UUID{profile.BatteryServiceUUID}).
		Run(blockUntilDone).Return(context.Canceled)
	useDevice(t, dev, nil)

	s := newTestStack()
	rec := newAdvertiseRecorder()
	settings := platform.AdvertiseSettings{Mode: platform.AdvertiseModeBalanced, Connectable: true}
	s.StartAdvertising(settings, platform.AdvertiseData{
		DeviceName:        "BatteryServer",
		IncludeDeviceName: true,
		ServiceUUIDs:      []ble.UUID{profile.BatteryServiceUUID},
	}, rec)

	select {
	case got := <-rec.started:
		assert.Equal(t, settings, got)
	case code := <-rec.failed:
		t.Fatalf("unexpected failure %s", code)
	case <-time.After(time.Second):
		t.Fatal("advertising was never confirmed")
	}

	s.StopAdvertising(rec)
	assert.Empty(t, rec.failed)
	dev.AssertExpectations(t)
}

func TestStack_AdvertiseFailure(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected platform.AdvertiseError
	}{
		{"payload too long", ble.ErrEIRPacketTooLong, platform.AdvertiseFailedDataTooLarge},
		{"not implemented", ble.ErrNotImplemented, platform.AdvertiseFailedFeatureUnsupported},
		{"other", errors.New("hci: timeout"), platform.AdvertiseFailedInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &MockDevice{}
			dev.On("AdvertiseNameAndServices", mock.Anything, mock.Anything, mock.Anything).Return(tt.err)
			useDevice(t, dev, nil)

			s := NewStack(Options{StartGrace: time.Second}, testutils.QuietLogger())
			rec := newAdvertiseRecorder()
			s.StartAdvertising(platform.AdvertiseSettings{}, platform.AdvertiseData{}, rec)

			select {
			case code := <-rec.failed:
				assert.Equal(t, tt.expected, code)
				assert.ErrorIs(t, <-rec.causes, tt.err)
			case <-rec.started:
				t.Fatal("advertising should not have started")
			case <-time.After(2 * time.Second):
				t.Fatal("failure not delivered")
			}
		})
	}
}

func TestStack_AdvertiseAlreadyStarted(t *testing.T) {
	dev := &MockDevice{}
	dev.On("AdvertiseNameAndServices", mock.Anything, mock.Anything, mock.Anything).
		Run(blockUntilDone).Return(context.Canceled)
	useDevice(t, dev, nil)

	s := newTestStack()
	first := newAdvertiseRecorder()
	second := newAdvertiseRecorder()
	s.StartAdvertising(platform.AdvertiseSettings{}, platform.AdvertiseData{}, first)
	s.StartAdvertising(platform.AdvertiseSettings{}, platform.AdvertiseData{}, second)

	select {
	case code := <-second.failed:
		assert.Equal(t, platform.AdvertiseFailedAlreadyStarted, code)
		assert.ErrorIs(t, <-second.causes, errAlreadyAdvertising)
	case <-time.After(time.Second):
		t.Fatal("second start was not rejected")
	}

	// stopping with a foreign callback leaves the first session alone
	s.StopAdvertising(second)
	<-first.started
	s.StopAdvertising(first)
}

func TestStack_AdvertiseWithoutDevice(t *testing.T) {
	useDevice(t, nil, errors.New("can't init hci"))
	s := newTestStack()
	rec := newAdvertiseRecorder()

	s.StartAdvertising(platform.AdvertiseSettings{}, platform.AdvertiseData{}, rec)

	select {
	case code := <-rec.failed:
		assert.Equal(t, platform.AdvertiseFailedInternalError, code)
		assert.ErrorContains(t, <-rec.causes, "can't init hci")
	case <-time.After(time.Second):
		t.Fatal("failure not delivered")
	}
}

func TestStack_StopAdvertisingIdle(t *testing.T) {
	s := newTestStack()
	assert.NotPanics(t, func() { s.StopAdvertising(newAdvertiseRecorder()) })
}

func TestServer_AddServiceBuildsBatteryService(t *testing.T) {
	dev := &MockDevice{}
	var registered *ble.Service
	dev.On("AddService", mock.Anything).Run(func(args mock.Arguments) {
		registered = args.Get(0).(*ble.Service)
	}).Return(nil).Once()
	dev.On("RemoveAllServices").Return(nil).Once()
	useDevice(t, dev, nil)

	s := newTestStack()
	h, err := s.OpenServer(newServerRecorder())
	require.NoError(t, err)
	require.NoError(t, h.AddService(profile.Battery()))

	require.NotNil(t, registered)
	assert.True(t, registered.UUID.Equal(profile.BatteryServiceUUID))
	require.Len(t, registered.Characteristics, 1)
	c := registered.Characteristics[0]
	assert.True(t, c.UUID.Equal(profile.BatteryLevelUUID))
	assert.Equal(t, ble.CharRead, c.Property)
	assert.NotNil(t, c.ReadHandler)
	require.Len(t, c.Descriptors, 1)
	assert.True(t, c.Descriptors[0].UUID.Equal(profile.ClientCharConfigUUID))

	assert.Error(t, h.AddService(profile.Battery()), "a handle serves a single service")

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	dev.AssertExpectations(t)
}

func TestServer_OneOpenHandlePerDevice(t *testing.T) {
	useDevice(t, &MockDevice{}, nil)
	s := newTestStack()

	h, err := s.OpenServer(newServerRecorder())
	require.NoError(t, err)
	_, err = s.OpenServer(newServerRecorder())
	assert.Error(t, err)

	require.NoError(t, h.Close())
	h2, err := s.OpenServer(newServerRecorder())
	require.NoError(t, err)
	assert.NoError(t, h2.Close())
}

func TestServer_OpenWithoutDevice(t *testing.T) {
	useDevice(t, nil, errors.New("bluetooth is turned off"))
	s := newTestStack()

	_, err := s.OpenServer(newServerRecorder())

	assert.ErrorIs(t, err, platform.ErrAdapterDisabled)
}

func openTestHandle(t *testing.T, rec *serverRecorder) *serverHandle {
	t.Helper()
	useDevice(t, &MockDevice{}, nil)
	h, err := newTestStack().OpenServer(rec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h.(*serverHandle)
}

func TestServer_ServeAnsweredOnce(t *testing.T) {
	rec := newServerRecorder()
	h := openTestHandle(t, rec)
	var second error
	rec.onRead = func(deviceID string, id platform.RequestID, attr ble.UUID) {
		require.NoError(t, h.SendResponse(deviceID, id, ble.ErrSuccess, 0, []byte{0x42}))
		second = h.SendResponse(deviceID, id, ble.ErrSuccess, 0, []byte{0x43})
	}

	rsp := &fakeResponse{}
	h.serve("aa:bb", nil, 0, rsp, func(id platform.RequestID, deviceID string) {
		rec.OnCharacteristicReadRequest(deviceID, id, 0, profile.BatteryLevelUUID)
	})

	assert.Equal(t, ble.ErrSuccess, rsp.status)
	assert.Equal(t, []byte{0x42}, rsp.data)
	assert.Equal(t, 1, rsp.writes)
	assert.ErrorIs(t, second, platform.ErrAlreadyResponded)
}

func TestServer_ServeUnansweredGetsError(t *testing.T) {
	rec := newServerRecorder()
	h := openTestHandle(t, rec)

	rsp := &fakeResponse{}
	h.serve("aa:bb", nil, 0, rsp, func(platform.RequestID, string) {})

	assert.Equal(t, ble.ErrUnlikely, rsp.status)
	assert.Empty(t, rsp.data)
}

func TestServer_ServeClosedDuringReadGetsError(t *testing.T) {
	rec := newServerRecorder()
	h := openTestHandle(t, rec)
	var sendErr error
	rec.onRead = func(deviceID string, id platform.RequestID, attr ble.UUID) {
		require.NoError(t, h.Close())
		sendErr = h.SendResponse(deviceID, id, ble.ErrSuccess, 0, []byte{0x42})
	}

	rsp := &fakeResponse{}
	h.serve("aa:bb", nil, 0, rsp, func(id platform.RequestID, deviceID string) {
		rec.OnCharacteristicReadRequest(deviceID, id, 0, profile.BatteryLevelUUID)
	})

	assert.ErrorIs(t, sendErr, platform.ErrServerClosed)
	assert.Equal(t, ble.ErrUnlikely, rsp.status)
	assert.Zero(t, rsp.writes)
}

func TestServer_ErrorStatusCarriesNoPayload(t *testing.T) {
	rec := newServerRecorder()
	h := openTestHandle(t, rec)
	rec.onRead = func(deviceID string, id platform.RequestID, attr ble.UUID) {
		require.NoError(t, h.SendResponse(deviceID, id, ble.ErrReadNotPerm, 0, []byte{0x01}))
	}

	rsp := &fakeResponse{}
	h.serve("aa:bb", nil, 0, rsp, func(id platform.RequestID, deviceID string) {
		rec.OnCharacteristicReadRequest(deviceID, id, 0, ble.UUID16(0x2a00))
	})

	assert.Equal(t, ble.ErrReadNotPerm, rsp.status)
	assert.Zero(t, rsp.writes)
}

func TestServer_SendResponseUnknownRequest(t *testing.T) {
	h := openTestHandle(t, newServerRecorder())

	err := h.SendResponse("aa:bb", platform.RequestID(99), ble.ErrSuccess, 0, []byte{1})

	assert.ErrorIs(t, err, platform.ErrUnknownRequest)
}

func TestServer_SendResponseAfterClose(t *testing.T) {
	h := openTestHandle(t, newServerRecorder())
	require.NoError(t, h.Close())

	err := h.SendResponse("aa:bb", platform.RequestID(1), ble.ErrSuccess, 0, []byte{1})

	assert.ErrorIs(t, err, platform.ErrServerClosed)
}

func TestServer_TracksConnections(t *testing.T) {
	rec := newServerRecorder()
	h := openTestHandle(t, rec)
	disconnected := make(chan struct{})
	noop := func(platform.RequestID, string) {}

	h.serve("aa:bb", disconnected, 0, &fakeResponse{}, noop)
	h.serve("aa:bb", disconnected, 0, &fakeResponse{}, noop)
	assert.Equal(t, platform.StateConnected, <-rec.events)

	close(disconnected)
	select {
	case state := <-rec.events:
		assert.Equal(t, platform.StateDisconnected, state)
	case <-time.After(time.Second):
		t.Fatal("disconnect not reported")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []platform.ConnState{platform.StateConnected, platform.StateDisconnected}, rec.states)
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{"darwin powered off", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), platform.ErrAdapterDisabled},
		{"peripheral powered off", errors.New("peripheral manager has invalid state: have=4 want=5"), platform.ErrAdapterDisabled},
		{"rf-kill", errors.New("can't init hci: can't up device: operation not possible due to RF-kill"), platform.ErrAdapterDisabled},
		{"rfkill blocked", errors.New("can't init hci: rfkill soft blocked"), platform.ErrAdapterDisabled},
		{"hci init", errors.New("can't init hci: no such device"), platform.ErrAdapterUnavailable},
		{"permissions", errors.New("operation not permitted"), platform.ErrAdapterUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NormalizeError(tt.err)
			assert.ErrorIs(t, err, tt.expected)
			assert.Contains(t, err.Error(), tt.err.Error())
		})
	}

	assert.NoError(t, NormalizeError(nil))
	other := errors.New("other")
	assert.Same(t, other, NormalizeError(other))
}
