package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// claimPIDFile writes the current process's PID to path, refusing if the
// file already names a live process. It returns a cleanup func that
// removes the file, to be deferred by the caller.
func claimPIDFile(path string) (func(), error) {
	if existing, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(existing))); perr == nil && pid > 0 {
			if processAlive(pid) {
				return nil, fmt.Errorf("backupd already running with pid %d (%s)", pid, path)
			}
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}

	return func() { os.Remove(path) }, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without actually sending a signal.
	return proc.Signal(syscall.Signal(0)) == nil
}
