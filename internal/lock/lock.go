// Package lock guards a session's cache so only one agent syncs into it.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HeldError is returned when another process holds the session lock.
type HeldError struct {
	Holder Holder
	Path   string
}

func (e *HeldError) Error() string {
	if e.Holder.Owner == "" {
		return fmt.Sprintf("session lock held by PID %d (%s)", e.Holder.PID, e.Path)
	}
	return fmt.Sprintf("session lock held by %s PID %d (%s)", e.Holder.Owner, e.Holder.PID, e.Path)
}

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID   int
	Owner string
	Since time.Time
}

// Lock represents an acquired lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive lock on path, creating its directory, and
// records the pid and owner in it. It returns *HeldError if another process
// already holds it.
func Acquire(path, owner string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(path)
		_ = f.Close()
		return nil, &HeldError{Holder: parse(string(data)), Path: path}
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\nowner=%s\ntime=%s\n", os.Getpid(), owner, time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: path}, nil
}

// Inspect reports who holds the lock at path. It returns ok=false when the
// lock is free or the file does not exist.
func Inspect(path string) (Holder, bool, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if errors.Is(err, os.ErrNotExist) {
		return Holder{}, false, nil
	}
	if err != nil {
		return Holder{}, false, err
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err == nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return Holder{}, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Holder{}, false, err
	}
	return parse(string(data)), true, nil
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before closing so no stale file outlives the lock.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func parse(content string) Holder {
	var h Holder
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "owner":
			h.Owner = value
		case "time":
			h.Since, _ = time.Parse(time.RFC3339, value)
		}
	}
	return h
}
