//go:build !windows

package main

import (
	"os"
	"syscall"
)

var restartSignals = []os.Signal{syscall.SIGHUP}

func isRestart(sig os.Signal) bool {
	return sig == syscall.SIGHUP
}
