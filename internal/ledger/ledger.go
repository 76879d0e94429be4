// Package ledger provides the durable set of already-answered message
// identifiers. A commit here is what makes a reply at-most-once: the
// orchestrator flushes the ledger before it marks the source message read,
// so a crash between the two is healed on the next cycle.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Ledger is a durable keyed set of processed message identifiers. The
// backing store is swappable; the pipeline only depends on this interface.
type Ledger interface {
	// Contains reports whether id has already been committed.
	Contains(id string) bool
	// Insert records id as processed and flushes. Inserting an existing id
	// is a no-op, not an error.
	Insert(id string, processedAt time.Time) error
	// Flush forces pending state to durable storage.
	Flush() error
	// Len returns the number of committed identifiers.
	Len() int
	// Reset clears the ledger. Administrative use only.
	Reset() error
	Close() error
}

// FileLedger stores the set as a JSON object of id -> processed timestamp.
// Writes go through a temp file and rename, so a crash mid-write never
// leaves a corrupt ledger behind.
type FileLedger struct {
	mu    sync.RWMutex
	path  string
	ids   map[string]time.Time
	dirty bool
}

// OpenFile loads the ledger at path, creating an empty one if the file does
// not exist. A file that exists but cannot be decoded is an error: silently
// starting fresh would risk duplicate replies.
func OpenFile(path string) (*FileLedger, error) {
	l := &FileLedger{
		path: path,
		ids:  make(map[string]time.Time),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}

	var stored map[string]time.Time
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", path, err)
	}
	l.ids = stored
	if l.ids == nil {
		l.ids = make(map[string]time.Time)
	}
	return l, nil
}

func (l *FileLedger) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]
	return ok
}

func (l *FileLedger) Insert(id string, processedAt time.Time) error {
	if id == "" {
		return fmt.Errorf("ledger: empty message id")
	}

	l.mu.Lock()
	if _, exists := l.ids[id]; exists {
		l.mu.Unlock()
		return nil
	}
	l.ids[id] = processedAt.UTC()
	l.dirty = true
	l.mu.Unlock()

	return l.Flush()
}

func (l *FileLedger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.dirty {
		return nil
	}
	if err := l.writeLocked(); err != nil {
		return err
	}
	l.dirty = false
	return nil
}

func (l *FileLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}

func (l *FileLedger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ids = make(map[string]time.Time)
	l.dirty = false
	return l.writeLocked()
}

func (l *FileLedger) Close() error {
	return l.Flush()
}

// writeLocked persists the set atomically. Callers hold l.mu.
func (l *FileLedger) writeLocked() error {
	data, err := json.MarshalIndent(l.ids, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write ledger temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync ledger temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close ledger temp file: %w", err)
	}

	if err := os.Rename(tmpName, l.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}
