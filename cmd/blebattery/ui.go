package main

import (
	"github.com/srg/blebattery/internal/logsink"
	"github.com/srg/blebattery/internal/platform"
)

// consoleUI prints status lines and drives the adapter enable flow. Enable
// results are handed back to the serve loop through results.
type consoleUI struct {
	logsink.Sink
	adapter platform.Adapter
	results chan platform.EnableResult
}

func newConsoleUI(sink logsink.Sink, adp platform.Adapter) *consoleUI {
	if sink == nil {
		sink = logsink.Discard
	}
	return &consoleUI{
		Sink:    sink,
		adapter: adp,
		results: make(chan platform.EnableResult, 1),
	}
}

// OnAdapterDisabled asks the adapter to turn itself on.
func (u *consoleUI) OnAdapterDisabled() {
	u.OnLog("requesting bluetooth enable")
	u.adapter.RequestEnable(func(r platform.EnableResult) {
		select {
		case u.results <- r:
		default:
			// a result is already waiting to be handled
		}
	})
}
