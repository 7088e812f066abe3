//go:build windows

package main

import "os"

var restartSignals []os.Signal

func isRestart(os.Signal) bool {
	return false
}
