package testutils

import (
	"sync"

	"github.com/srg/blebattery/internal/platform"
)

// FakeAdapter is a controllable platform.Adapter.
type FakeAdapter struct {
	mu             sync.Mutex
	available      bool
	enabled        bool
	enableRequests int
	pending        []func(platform.EnableResult)
}

var _ platform.Adapter = (*FakeAdapter)(nil)

func NewFakeAdapter(available, enabled bool) *FakeAdapter {
	return &FakeAdapter{available: available, enabled: enabled}
}

func (a *FakeAdapter) IsAvailable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available
}

func (a *FakeAdapter) IsEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available && a.enabled
}

func (a *FakeAdapter) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// RequestEnable parks done until CompleteEnable is called.
func (a *FakeAdapter) RequestEnable(done func(platform.EnableResult)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enableRequests++
	a.pending = append(a.pending, done)
}

// CompleteEnable finishes every parked enable request with r. EnableOK powers the adapter.
func (a *FakeAdapter) CompleteEnable(r platform.EnableResult) {
	a.mu.Lock()
	if r == platform.EnableOK {
		a.enabled = true
	}
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()

	for _, done := range pending {
		done(r)
	}
}

func (a *FakeAdapter) EnableRequests() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enableRequests
}
