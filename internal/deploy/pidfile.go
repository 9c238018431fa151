// Package deploy covers the daemon's lifecycle plumbing: the PID file
// guarding against double starts, and OS service installation.
package deploy

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const pidFileName = "tenantd.pid"

// PIDFile tracks the daemon's process ID on disk so that a second
// instance can refuse to start and the CLI can signal the running one.
type PIDFile struct {
	path string
}

// NewPIDFile returns the PID file manager for a data directory.
func NewPIDFile(dataDir string) *PIDFile {
	return &PIDFile{path: filepath.Join(dataDir, pidFileName)}
}

// Path returns the full path to the PID file.
func (p *PIDFile) Path() string {
	return p.path
}

// Write records the current process ID, creating the directory if needed.
func (p *PIDFile) Write() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Read returns the recorded PID, or 0 when no PID file exists.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file. Missing files are not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// IsRunning reports whether the recorded process is still alive.
// A stale PID file left behind by a crashed daemon is cleaned up.
func (p *PIDFile) IsRunning() (int, bool) {
	pid, err := p.Read()
	if err != nil || pid == 0 {
		return 0, false
	}
	if !processExists(pid) {
		p.Remove()
		return 0, false
	}
	return pid, true
}

// Guard writes the PID file after verifying no other instance holds it.
func (p *PIDFile) Guard() error {
	if pid, running := p.IsRunning(); running {
		return fmt.Errorf("daemon already running (pid=%d)", pid)
	}
	return p.Write()
}

// processExists probes a PID with signal 0. On Unix FindProcess always
// succeeds, so the signal is the actual liveness check.
func processExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// StopDaemon sends SIGTERM to the daemon recorded in dataDir's PID file.
func StopDaemon(dataDir string) error {
	pf := NewPIDFile(dataDir)
	pid, running := pf.IsRunning()
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM to %d: %w", pid, err)
	}
	return nil
}
