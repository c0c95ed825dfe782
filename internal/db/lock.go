package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	lockFileName   = "actsync.lock"
	defaultTimeout = 500 * time.Millisecond
	initialBackoff = 5 * time.Millisecond
	maxBackoff     = 50 * time.Millisecond
)

// ErrWriteLocked is returned when another process kept the store's write
// lock past the timeout.
var ErrWriteLocked = errors.New("store is locked by another actsync process")

// lockHolder is the diagnostic record written into the lock file.
type lockHolder struct {
	PID     int       `json:"pid"`
	Command string    `json:"command,omitempty"`
	Since   time.Time `json:"since"`
}

func (h *lockHolder) String() string {
	if h == nil {
		return "unknown holder"
	}
	s := fmt.Sprintf("pid %d since %s", h.PID, h.Since.Local().Format(time.DateTime))
	if h.Command != "" {
		s += " (" + h.Command + ")"
	}
	if !isProcessAlive(h.PID) {
		s += ", process no longer running"
	}
	return s
}

// writeLocker serializes writers from separate actsync processes sharing one
// SQLite file, e.g. a scheduled sync and a manual retry. The OS releases the
// lock when the holder exits, including on crash.
type writeLocker struct {
	lockPath string
	lockFile *os.File
}

func newWriteLocker(dir string) *writeLocker {
	return &writeLocker{lockPath: filepath.Join(dir, lockFileName)}
}

// acquire polls for the exclusive lock with exponential backoff until
// timeout.
func (l *writeLocker) acquire(timeout time.Duration) error {
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.lockFile = f

	deadline := time.Now().Add(timeout)
	for backoff := initialBackoff; ; backoff = min(backoff*2, maxBackoff) {
		if err := l.tryLock(); err == nil {
			l.writeHolder()
			return nil
		}
		if time.Now().After(deadline) {
			holder := l.readHolder()
			l.lockFile.Close()
			l.lockFile = nil
			return fmt.Errorf("%w after %v: %s", ErrWriteLocked, timeout, holder)
		}
		time.Sleep(backoff)
	}
}

func (l *writeLocker) release() error {
	if l.lockFile == nil {
		return nil
	}
	l.lockFile.Truncate(0)
	l.unlock()
	err := l.lockFile.Close()
	l.lockFile = nil
	return err
}

func (l *writeLocker) writeHolder() {
	h := lockHolder{
		PID:     os.Getpid(),
		Command: strings.Join(os.Args[1:], " "),
		Since:   time.Now().UTC(),
	}
	data, err := json.Marshal(h)
	if err != nil {
		return
	}
	l.lockFile.Truncate(0)
	l.lockFile.WriteAt(data, 0)
	l.lockFile.Sync()
}

// readHolder returns nil when the file is empty or unreadable.
func (l *writeLocker) readHolder() *lockHolder {
	data, err := os.ReadFile(l.lockPath)
	if err != nil || len(data) == 0 {
		return nil
	}
	var h lockHolder
	if err := json.Unmarshal(data, &h); err != nil || h.PID == 0 {
		return nil
	}
	return &h
}
