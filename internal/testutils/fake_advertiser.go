package testutils

import (
	"sync"

	"github.com/srg/blebattery/internal/platform"
)

// AdvertiseCall records one StartAdvertising invocation.
type AdvertiseCall struct {
	Settings platform.AdvertiseSettings
	Data     platform.AdvertiseData
	Callback platform.AdvertiseCallback
}

// FakeAdvertiser is a platform.Advertiser whose outcomes are driven by the test.
// With AutoSucceed set, StartAdvertising reports success before returning.
type FakeAdvertiser struct {
	AutoSucceed bool

	mu     sync.Mutex
	starts []AdvertiseCall
	stops  []platform.AdvertiseCallback
	active map[platform.AdvertiseCallback]bool
}

var _ platform.Advertiser = (*FakeAdvertiser)(nil)

func NewFakeAdvertiser() *FakeAdvertiser {
	return &FakeAdvertiser{active: make(map[platform.AdvertiseCallback]bool)}
}

func (f *FakeAdvertiser) StartAdvertising(settings platform.AdvertiseSettings, data platform.AdvertiseData, cb platform.AdvertiseCallback) {
	f.mu.Lock()
	f.starts = append(f.starts, AdvertiseCall{Settings: settings, Data: data, Callback: cb})
	f.active[cb] = true
	auto := f.AutoSucceed
	f.mu.Unlock()

	if auto {
		cb.OnStartSuccess(settings)
	}
}

func (f *FakeAdvertiser) StopAdvertising(cb platform.AdvertiseCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, cb)
	delete(f.active, cb)
}

// Succeed reports success for the latest start.
func (f *FakeAdvertiser) Succeed() {
	call, ok := f.last()
	if ok {
		call.Callback.OnStartSuccess(call.Settings)
	}
}

// Fail reports failure for the latest start, without a cause.
func (f *FakeAdvertiser) Fail(code platform.AdvertiseError) {
	f.FailWith(code, nil)
}

// FailWith reports failure for the latest start with the backend error cause.
func (f *FakeAdvertiser) FailWith(code platform.AdvertiseError, cause error) {
	call, ok := f.last()
	if !ok {
		return
	}
	f.mu.Lock()
	delete(f.active, call.Callback)
	f.mu.Unlock()
	call.Callback.OnStartFailure(code, cause)
}

func (f *FakeAdvertiser) last() (AdvertiseCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.starts) == 0 {
		return AdvertiseCall{}, false
	}
	return f.starts[len(f.starts)-1], true
}

func (f *FakeAdvertiser) Starts() []AdvertiseCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AdvertiseCall(nil), f.starts...)
}

func (f *FakeAdvertiser) StopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stops)
}

// Advertising reports whether any session is still running.
func (f *FakeAdvertiser) Advertising() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active) > 0
}
