//go:build windows

package util

import "os"

// ShutdownSignals returns the signals that trigger a graceful shutdown.
// Windows services only deliver os.Interrupt.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
