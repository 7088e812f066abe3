package gattserver

import (
	"time"

	"github.com/srg/blebattery/internal/platform"
)

// State is the connection state of a remote central.
type State int

const (
	StateUnknown State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// StateFromCode maps a platform connection code. Codes the platform may add
// later map to StateUnknown.
func StateFromCode(code platform.ConnState) State {
	switch code {
	case platform.StateConnected:
		return StateConnected
	case platform.StateDisconnected:
		return StateDisconnected
	case platform.StateConnecting:
		return StateConnecting
	case platform.StateDisconnecting:
		return StateDisconnecting
	default:
		return StateUnknown
	}
}

// ConnectionRecord is the last known state of one remote device. A record is
// replaced by the next event for the same address.
type ConnectionRecord struct {
	DeviceID string
	State    State
	Updated  time.Time
}
