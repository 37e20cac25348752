package lock

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const fileName = "LOCK"

// Holder describes the daemon process that owns a profile.
type Holder struct {
	PID     int
	Profile string
	Since   time.Time
}

// HeldError is returned when another process holds the profile lock.
type HeldError struct {
	Holder Holder
	Path   string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("profile %q is locked by PID %d since %s (%s)",
		e.Holder.Profile, e.Holder.PID, e.Holder.Since.Format(time.RFC3339), e.Path)
}

// Lock is an acquired exclusive lock on a profile directory. Only one daemon
// may own a profile's database and outbox at a time.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock in dir on behalf of profile.
// Returns *HeldError if another process already holds it.
func Acquire(dir, profile string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	path := filepath.Join(dir, fileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		h, _ := ReadHolder(dir)
		if h == nil {
			h = &Holder{}
		}
		return nil, &HeldError{Holder: *h, Path: path}
	}

	if err := writeHolder(f, Holder{PID: os.Getpid(), Profile: profile, Since: time.Now().UTC()}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock holder: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

// Release releases the lock. Safe to call on nil receiver or more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadHolder reports who wrote the lock file in dir. It does not check
// whether the lock is still held.
func ReadHolder(dir string) (*Holder, error) {
	f, err := os.Open(filepath.Join(dir, fileName))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var h Holder
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "profile":
			h.Profile = value
		case "since":
			h.Since, _ = time.Parse(time.RFC3339, value)
		}
	}
	return &h, sc.Err()
}

func writeHolder(f *os.File, h Holder) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nprofile=%s\nsince=%s\n", h.PID, h.Profile, h.Since.Format(time.RFC3339))
	return err
}
