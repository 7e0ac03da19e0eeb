//go:build windows

package bootstrap

import (
	"fmt"
	"os"
	"syscall"
)

// restartSignal does not exist on Windows
var restartSignal os.Signal

var shutdownSignal os.Signal = syscall.SIGTERM

func terminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt, shutdownSignal}
}

func raiseSignal(sig os.Signal) error {
	return fmt.Errorf("raising %v is not supported on windows", sig)
}

func signalExitCode(os.Signal) int {
	return 1
}
