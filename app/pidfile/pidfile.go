package pidfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Write guards against double-start. When the PID file names a different,
// still-running process it returns an error and leaves the file untouched;
// otherwise it overwrites the file with the current PID.
func Write(path string) error {
	myPid := os.Getpid()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr != nil {
			return fmt.Errorf("can't read PID from %s: %w", path, convErr)
		}
		if pid != myPid && alive(pid) {
			return fmt.Errorf("old process %d is alive. please kill old", pid)
		}
	case os.IsNotExist(err):
		// first start
	default:
		return fmt.Errorf("can't read PID from %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(myPid)), 0o644); err != nil {
		return fmt.Errorf("can't write PID to %s: %w", path, err)
	}
	return nil
}

func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
