// Package daemon runs the long-lived orchestration process: singleton
// enforcement, background loop wiring, and signal-driven shutdown.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning means another daemon holds the lock.
var ErrAlreadyRunning = errors.New("daemon already running")

// Singleton enforces one daemon per home via an exclusive flock. The
// flock is authoritative; the PID file is advisory, for status display,
// and a stale PID file never blocks a new daemon.
type Singleton struct {
	lockPath string
	pidPath  string
	lockFile *os.File
}

// NewSingleton creates a singleton over the given lock and PID paths.
func NewSingleton(lockPath, pidPath string) *Singleton {
	return &Singleton{lockPath: lockPath, pidPath: pidPath}
}

// Acquire takes the exclusive lock and writes the PID file. Returns
// ErrAlreadyRunning (with the holder's PID when known) if another
// process holds the lock.
func (s *Singleton) Acquire() error {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if pid, ok := s.holderPID(); ok {
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
		return ErrAlreadyRunning
	}
	s.lockFile = f

	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(s.pidPath, []byte(pid+"\n"), 0o600); err != nil {
		s.Release()
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

// Release drops the lock and removes the PID file.
func (s *Singleton) Release() {
	if s.lockFile != nil {
		syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN)
		s.lockFile.Close()
		s.lockFile = nil
	}
	os.Remove(s.pidPath)
}

// holderPID reads the advisory PID file.
func (s *Singleton) holderPID() (int, bool) {
	data, err := os.ReadFile(s.pidPath)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// RunningPID reports the PID of a live daemon for this home, verified
// against the flock: a readable PID file with a free lock is stale.
func RunningPID(lockPath, pidPath string) (int, bool) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err == nil {
		// Lock was free: no daemon. Put it back.
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return 0, false
	}

	s := &Singleton{lockPath: lockPath, pidPath: pidPath}
	return s.holderPID()
}
