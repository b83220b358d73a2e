package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFileName sits in the data directory while the node runs.
const PIDFileName = "flock.pid"

// WritePIDFile records the current process id. A live pid in an
// existing file means another node owns the data directory.
func WritePIDFile(dataDir string) (string, error) {
	path := filepath.Join(dataDir, PIDFileName)
	if raw, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(raw))); perr == nil && pidAlive(pid) {
			return "", fmt.Errorf("data dir %s is in use by pid %d", dataDir, pid)
		}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// RemovePIDFile clears the pid file on shutdown. Absence is not an error.
func RemovePIDFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}
