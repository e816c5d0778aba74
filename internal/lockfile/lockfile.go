// Package lockfile serialises writers of the same transcript across
// processes with a PID lock file next to the output.
package lockfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrLocked is returned when another live process holds the lock.
var ErrLocked = errors.New("lockfile: held by another process")

// Lock is a held lock file.
type Lock struct {
	path string
	pid  int
}

// PathFor returns the lock path guarding output.
func PathFor(output string) string {
	return output + ".lock"
}

// staleGrace is how long an unreadable lock is treated as held before it
// may be reclaimed.
const staleGrace = 10 * time.Second

// Acquire creates the lock file at path. A lock left by a process that is no
// longer running is reclaimed.
//
// The PID is written to a temporary file that is then hard-linked into place,
// so a lock visible at path always carries its holder's PID.
func Acquire(path string) (*Lock, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("lockfile: create directory: %w", err)
	}

	pid := os.Getpid()
	tmp, err := writeTemp(dir, filepath.Base(path), pid)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp)

	for attempt := 0; attempt < 2; attempt++ {
		err := os.Link(tmp, path)
		if err == nil {
			return &Lock{path: path, pid: pid}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("lockfile: create: %w", err)
		}

		observed, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lockfile: read: %w", err)
		}
		if holder, ok := parsePID(observed); ok {
			if isProcessRunning(holder) {
				return nil, fmt.Errorf("%w (PID %d): %s", ErrLocked, holder, path)
			}
		} else if recent(path) {
			return nil, fmt.Errorf("%w (unreadable, modified within %s): %s", ErrLocked, staleGrace, path)
		}
		if err := reclaim(path, observed, pid); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: lost race for %s", ErrLocked, path)
}

func writeTemp(dir, base string, pid int) (string, error) {
	f, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("lockfile: create temp: %w", err)
	}
	_, werr := fmt.Fprintf(f, "%d\n", pid)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("lockfile: write pid: %w", errors.Join(werr, cerr))
	}
	return f.Name(), nil
}

// recent reports whether path was modified within staleGrace.
func recent(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < staleGrace
}

// reclaim moves a stale lock aside. If what was moved is no longer the lock
// that was judged stale, another process reclaimed it first: it is put back
// and ErrLocked is returned.
func reclaim(path string, observed []byte, pid int) error {
	aside := fmt.Sprintf("%s.stale.%d", path, pid)
	if err := os.Rename(path, aside); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("lockfile: remove stale lock: %w", err)
	}
	defer os.Remove(aside)

	moved, err := os.ReadFile(aside)
	if err == nil && bytes.Equal(moved, observed) {
		return nil
	}
	_ = os.Link(aside, path)
	return fmt.Errorf("%w: reclaimed concurrently: %s", ErrLocked, path)
}

// AcquireWait retries Acquire every poll interval until it succeeds or ctx
// is done.
func AcquireWait(ctx context.Context, path string, poll time.Duration) (*Lock, error) {
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	for {
		l, err := Acquire(path)
		if err == nil || !errors.Is(err, ErrLocked) {
			return l, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lockfile: waiting for %s: %w", path, ctx.Err())
		case <-time.After(poll):
		}
	}
}

// Release deletes the lock file if it still carries our PID.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if pid, ok := readPID(l.path); ok && pid == l.pid {
		return os.Remove(l.path)
	}
	return nil
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	return parsePID(data)
}

func parsePID(data []byte) (int, bool) {
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix FindProcess always succeeds; signal 0 probes for existence.
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.EPERM) {
		return true
	}
	return false
}
