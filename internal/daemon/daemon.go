package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// ChildEnv marks the re-executed background process.
const ChildEnv = "SESSIONLOCK_DAEMON_CHILD"

// ErrNotRunning is returned by Stop when no live daemon owns the PID file.
var ErrNotRunning = errors.New("daemon is not running")

// Daemon manages the PID file of the background service.
type Daemon struct {
	pidFile string
}

func New(pidFile string) *Daemon {
	return &Daemon{pidFile: pidFile}
}

// IsChild reports whether this process was spawned by Spawn.
func IsChild() bool {
	return os.Getenv(ChildEnv) == "1"
}

// WritePID records the current process. It refuses to overwrite the PID
// of another live daemon.
func (d *Daemon) WritePID() error {
	running, pid, err := d.IsRunning()
	if err != nil {
		return err
	}
	if running && pid != os.Getpid() {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}
	return os.WriteFile(d.pidFile, fmt.Appendf([]byte{}, "%d", os.Getpid()), 0644)
}

func (d *Daemon) ReadPID() (int, error) {
	data, err := os.ReadFile(d.pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}

	return pid, nil
}

func (d *Daemon) RemovePID() error {
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// IsRunning checks the recorded PID and clears a stale file.
func (d *Daemon) IsRunning() (bool, int, error) {
	pid, err := d.ReadPID()
	if err != nil {
		return false, 0, err
	}

	if pid == 0 {
		return false, 0, nil
	}

	if !alive(pid) {
		_ = d.RemovePID()
		return false, 0, nil
	}

	return true, pid, nil
}

// Spawn starts exe in the background with args, marking it as the daemon
// child. Output goes to logPath when set.
func (d *Daemon) Spawn(exe string, args []string, logPath string) (int, error) {
	running, pid, err := d.IsRunning()
	if err != nil {
		return 0, err
	}
	if running {
		return 0, fmt.Errorf("daemon already running with PID %d", pid)
	}

	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), ChildEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return 0, fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return 0, errors.Wrap(err, "failed to start daemon")
	}
	pid = cmd.Process.Pid
	// The child outlives us; don't keep a handle to it.
	_ = cmd.Process.Release()
	return pid, nil
}

// Stop sends SIGTERM and waits up to timeout for the process to exit.
func (d *Daemon) Stop(timeout time.Duration) error {
	running, pid, err := d.IsRunning()
	if err != nil {
		return fmt.Errorf("error checking daemon status: %w", err)
	}

	if !running {
		return ErrNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			_ = d.RemovePID()
			return ErrNotRunning
		}
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for alive(pid) {
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon (PID %d) did not exit within %v", pid, timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := d.RemovePID(); err != nil {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	return nil
}

func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
