// Package platform describes the Bluetooth capabilities the peripheral consumes:
// the adapter, the LE advertiser and the GATT server. Backends live in
// sub-packages (goble, bluez); the core only sees these interfaces.
//
// Callbacks may be delivered on stack-owned goroutines. Read-request callbacks
// must answer through ServerHandle.SendResponse before they return.
package platform
