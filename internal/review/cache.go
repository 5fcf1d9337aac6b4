package review

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

// SyncState tracks whether a locally applied decision reached the server.
type SyncState string

const (
	SyncPending   SyncState = "pending"
	SyncServer    SyncState = "server"
	SyncLocalOnly SyncState = "local-only"
)

// LocalDecision is a decision applied on the client before the server saw it.
type LocalDecision struct {
	ID        string        `json:"id"`
	Status    motion.Status `json:"status"`
	DecidedAt time.Time     `json:"decidedAt"`
	Reviewer  string        `json:"reviewer,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Sync      SyncState     `json:"sync"`
	Attempts  int           `json:"attempts"`
	LastError string        `json:"lastError,omitempty"`
}

func (d LocalDecision) validate() error {
	if _, _, err := motion.ParseID(d.ID); err != nil {
		return fmt.Errorf("%w: %q", err, d.ID)
	}
	if !d.Status.Valid() {
		return fmt.Errorf("unknown status %q", d.Status)
	}
	if d.DecidedAt.IsZero() {
		return errors.New("missing decidedAt")
	}
	switch d.Sync {
	case SyncPending, SyncServer, SyncLocalOnly:
		return nil
	}
	return fmt.Errorf("unknown sync state %q", d.Sync)
}

// Snapshot is the last review queue fetched from the server.
type Snapshot struct {
	FetchedAt time.Time `json:"fetchedAt"`
	Items     []Item    `json:"items"`
}

type cacheFile struct {
	Decisions []LocalDecision `json:"decisions"`
	Queue     *Snapshot       `json:"queue,omitempty"`
}

// ErrCorruptCache marks a cache file that could not be trusted.
var ErrCorruptCache = errors.New("corrupt review cache")

var conflictMarkers = [][]byte{[]byte("\n<<<<<<< "), []byte("\n=======\n"), []byte("\n>>>>>>> ")}

// Cache is the client-side decision store, persisted as one JSON file.
type Cache struct {
	path   string
	logger *zap.Logger

	mu        sync.Mutex
	decisions map[string]LocalDecision
	queue     *Snapshot

	// Discarded is set when the file on disk was corrupt and got dropped.
	Discarded bool
}

// LoadCache reads the cache at path. A missing file yields an empty cache; a
// corrupt one is removed and replaced by an empty cache.
func LoadCache(path string, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{path: path, logger: logger, decisions: make(map[string]LocalDecision)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading review cache: %w", err)
	}

	file, err := decodeCache(data)
	if err != nil {
		logger.Warn("discarding review cache", zap.String("path", path), zap.Error(err))
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return nil, fmt.Errorf("removing corrupt review cache: %w", rmErr)
		}
		c.Discarded = true
		return c, nil
	}
	for _, d := range file.Decisions {
		c.decisions[d.ID] = d
	}
	c.queue = file.Queue
	return c, nil
}

func decodeCache(data []byte) (*cacheFile, error) {
	padded := append([]byte("\n"), data...)
	for _, m := range conflictMarkers {
		if bytes.Contains(padded, m) {
			return nil, fmt.Errorf("%w: merge conflict markers", ErrCorruptCache)
		}
	}
	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCache, err)
	}
	seen := make(map[string]bool, len(file.Decisions))
	for _, d := range file.Decisions {
		if err := d.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptCache, err)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("%w: duplicate decision for %s", ErrCorruptCache, d.ID)
		}
		seen[d.ID] = true
	}
	return &file, nil
}

// Path returns the cache file location.
func (c *Cache) Path() string {
	return c.path
}

// Record applies a decision locally and marks it pending. An older decision
// for the same id does not replace a newer one.
func (c *Cache) Record(d LocalDecision) (LocalDecision, error) {
	d.Sync, d.Attempts, d.LastError = SyncPending, 0, ""
	if err := d.validate(); err != nil {
		return d, err
	}
	d.DecidedAt = d.DecidedAt.UTC()

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.decisions[d.ID]; ok && cur.DecidedAt.After(d.DecidedAt) {
		return cur, nil
	}
	c.decisions[d.ID] = d
	return d, c.saveLocked()
}

// Get returns the local decision for id.
func (c *Cache) Get(id string) (LocalDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.decisions[id]
	return d, ok
}

// Decisions returns every local decision ordered by id.
func (c *Cache) Decisions() []LocalDecision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedLocked()
}

// Pending returns the decisions still waiting for the server.
func (c *Cache) Pending() []LocalDecision {
	var out []LocalDecision
	for _, d := range c.Decisions() {
		if d.Sync == SyncPending {
			out = append(out, d)
		}
	}
	return out
}

// Put stores decisions as given and saves.
func (c *Cache) Put(ds ...LocalDecision) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range ds {
		c.decisions[d.ID] = d
	}
	return c.saveLocked()
}

// SetQueue remembers the last queue fetched from the server.
func (c *Cache) SetQueue(items []Item, fetchedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = &Snapshot{FetchedAt: fetchedAt.UTC(), Items: items}
	return c.saveLocked()
}

// Queue returns the last known-good queue, if any.
func (c *Cache) Queue() (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue, c.queue != nil
}

func (c *Cache) sortedLocked() []LocalDecision {
	out := make([]LocalDecision, 0, len(c.decisions))
	for _, d := range c.decisions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// saveLocked writes to a temp file and renames it over the cache.
func (c *Cache) saveLocked() error {
	data, err := json.MarshalIndent(cacheFile{Decisions: c.sortedLocked(), Queue: c.queue}, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing review cache: %w", err)
	}
	return os.Rename(tmp, c.path)
}
