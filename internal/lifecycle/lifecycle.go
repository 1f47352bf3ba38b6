// Package lifecycle handles process-level startup and shutdown concerns.
package lifecycle

import (
	"os"
	"os/signal"
	"syscall"
)

// WaitForSignals blocks until SIGINT or SIGTERM is received, then calls
// onSignal and returns.
func WaitForSignals(onSignal func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	onSignal()
}
