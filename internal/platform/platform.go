package platform

import (
	"time"

	"github.com/go-ble/ble"

	"github.com/srg/blebattery/internal/profile"
)

// EnableResult is the outcome of an adapter enable request.
type EnableResult int

const (
	EnableOK EnableResult = iota
	EnableCanceled
	EnableFailed
	EnableUnsupported
)

func (r EnableResult) String() string {
	switch r {
	case EnableOK:
		return "ok"
	case EnableCanceled:
		return "canceled"
	case EnableFailed:
		return "failed"
	case EnableUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Adapter is the local Bluetooth controller.
type Adapter interface {
	// IsAvailable reports whether Bluetooth hardware is present.
	IsAvailable() bool
	// IsEnabled reports whether the adapter is powered.
	IsEnabled() bool
	// RequestEnable starts the enable flow; done is called once with the result,
	// possibly on another goroutine.
	RequestEnable(done func(EnableResult))
}

// AdvertiseMode trades advertising latency against power.
type AdvertiseMode int

const (
	AdvertiseModeLowPower AdvertiseMode = iota
	AdvertiseModeBalanced
	AdvertiseModeLowLatency
)

func (m AdvertiseMode) String() string {
	switch m {
	case AdvertiseModeLowPower:
		return "low-power"
	case AdvertiseModeBalanced:
		return "balanced"
	case AdvertiseModeLowLatency:
		return "low-latency"
	default:
		return "unknown"
	}
}

// TxPower is the advertising transmit power level.
type TxPower int

const (
	TxPowerUltraLow TxPower = iota
	TxPowerLow
	TxPowerMedium
	TxPowerHigh
)

func (p TxPower) String() string {
	switch p {
	case TxPowerUltraLow:
		return "ultra-low"
	case TxPowerLow:
		return "low"
	case TxPowerMedium:
		return "medium"
	case TxPowerHigh:
		return "high"
	default:
		return "unknown"
	}
}

// AdvertiseSettings configures how the advertisement is broadcast.
type AdvertiseSettings struct {
	Mode        AdvertiseMode
	Connectable bool
	Timeout     time.Duration // 0 advertises until stopped
	TxPower     TxPower
}

// AdvertiseData is the advertisement payload.
type AdvertiseData struct {
	DeviceName          string
	IncludeDeviceName   bool
	IncludeTxPowerLevel bool
	ServiceUUIDs        []ble.UUID
}

// AdvertiseError is a platform advertising failure code.
type AdvertiseError int

const (
	AdvertiseFailedDataTooLarge       AdvertiseError = 1
	AdvertiseFailedTooManyAdvertisers AdvertiseError = 2
	AdvertiseFailedAlreadyStarted     AdvertiseError = 3
	AdvertiseFailedInternalError      AdvertiseError = 4
	AdvertiseFailedFeatureUnsupported AdvertiseError = 5
)

func (e AdvertiseError) String() string {
	switch e {
	case AdvertiseFailedDataTooLarge:
		return "data too large"
	case AdvertiseFailedTooManyAdvertisers:
		return "too many advertisers"
	case AdvertiseFailedAlreadyStarted:
		return "already started"
	case AdvertiseFailedInternalError:
		return "internal error"
	case AdvertiseFailedFeatureUnsupported:
		return "feature unsupported"
	default:
		return "unknown"
	}
}

// AdvertiseCallback receives the asynchronous outcome of StartAdvertising.
type AdvertiseCallback interface {
	OnStartSuccess(settingsInEffect AdvertiseSettings)
	// OnStartFailure reports why the advertisement did not start. cause is the
	// backend error, when there is one.
	OnStartFailure(code AdvertiseError, cause error)
}

// Advertiser broadcasts LE advertisements.
type Advertiser interface {
	// StartAdvertising returns immediately; the outcome is reported to cb.
	StartAdvertising(settings AdvertiseSettings, data AdvertiseData, cb AdvertiseCallback)
	// StopAdvertising stops the session started with cb. It is a no-op when
	// nothing is being advertised.
	StopAdvertising(cb AdvertiseCallback)
}

// ConnState is a platform connection state code.
type ConnState int

const (
	StateDisconnected  ConnState = 0
	StateConnecting    ConnState = 1
	StateConnected     ConnState = 2
	StateDisconnecting ConnState = 3
)

// RequestID correlates a read request with its response.
type RequestID uint64

// ServerCallbacks receives GATT server events.
type ServerCallbacks interface {
	OnConnectionStateChange(deviceID string, status int, newState ConnState)
	OnCharacteristicReadRequest(deviceID string, requestID RequestID, offset int, attr ble.UUID)
	OnDescriptorReadRequest(deviceID string, requestID RequestID, offset int, attr ble.UUID)
}

// ServerHandle is an open GATT server.
type ServerHandle interface {
	AddService(desc *profile.ServiceDescriptor) error
	SendResponse(deviceID string, requestID RequestID, status ble.ATTError, offset int, payload []byte) error
	Close() error
}

// ServerOpener opens GATT servers.
type ServerOpener interface {
	OpenServer(cb ServerCallbacks) (ServerHandle, error)
}
