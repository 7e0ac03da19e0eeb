//go:build !windows

package bootstrap

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// restartSignal is sent by file-watching supervisors before a restart
var restartSignal os.Signal = syscall.SIGUSR2

var shutdownSignal os.Signal = syscall.SIGTERM

func terminationSignals() []os.Signal {
	return []os.Signal{restartSignal, os.Interrupt, shutdownSignal}
}

// raiseSignal re-sends sig to this process with notification removed
func raiseSignal(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("cannot raise non-syscall signal %v", sig)
	}
	signal.Reset(s)
	return syscall.Kill(os.Getpid(), s)
}

// signalExitCode is the shell convention for death by signal
func signalExitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 1
}
