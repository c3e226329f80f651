package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonwraymond/mediacache/blobstore"
)

// Table maps cache keys to entries and writes every mutation through to
// durable storage.
//
// Contract:
// - Concurrency: safe for concurrent use; each mutation and its persistence
// run under one lock, so the stored image always matches a table state.
// - Errors: persistence failures are returned after the in-memory change
// has been applied.
// - Cancellation: storage writes ignore caller cancellation and are bounded
// by PersistTimeout, so a change applied in memory is not lost on restart.
type Table struct {
	mu      sync.RWMutex
	entries map[string]Entry
	storage blobstore.Storage
	name    string
}

// NewTable creates an empty table persisted under name in storage.
// A nil storage keeps the table in memory only.
func NewTable(storage blobstore.Storage, name string) *Table {
	if name == "" {
		name = DefaultBlobName
	}
	return &Table{
		entries: make(map[string]Entry),
		storage: storage,
		name:    name,
	}
}

// Load replaces the table contents with the persisted image.
//
// A missing image yields an empty table. Malformed entries are dropped and
// counted; a blob that cannot be parsed at all leaves the table empty and
// returns an error wrapping ErrMalformedImage.
func (t *Table) Load(ctx context.Context) (dropped int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[string]Entry)
	if t.storage == nil {
		return 0, nil
	}

	blob, ok, err := t.storage.Read(ctx, t.name)
	if err != nil {
		return 0, fmt.Errorf("cache: read image: %w", err)
	}
	if !ok {
		return 0, nil
	}

	entries, dropped, err := LoadTable(blob)
	if err != nil {
		return 0, err
	}
	t.entries = entries
	return dropped, nil
}

// Get returns the entry for key.
func (t *Table) Get(key string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key]
	return e, ok
}

// Set replaces the entry for key and persists the table.
func (t *Table) Set(ctx context.Context, key string, entry Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[key] = normalizeEntry(entry)
	return t.persistLocked(ctx)
}

// UpdateFunc returns a replacement entry and true, or false to leave the
// entry untouched.
type UpdateFunc func(key string, entry Entry) (Entry, bool)

// Update applies fn to every entry atomically and persists the table once if
// any entry changed. It returns the number of replaced entries.
func (t *Table) Update(ctx context.Context, fn UpdateFunc) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := 0
	for key, entry := range t.entries {
		next, ok := fn(key, entry)
		if !ok {
			continue
		}
		t.entries[key] = normalizeEntry(next)
		changed++
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, t.persistLocked(ctx)
}

// RemoveAll empties the table and deletes the persisted image.
func (t *Table) RemoveAll(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[string]Entry)
	if t.storage == nil {
		return nil
	}
	ctx, cancel := persistContext(ctx)
	defer cancel()
	if err := t.storage.Remove(ctx, t.name); err != nil {
		return fmt.Errorf("cache: remove image: %w", err)
	}
	return nil
}

// Keys returns the cached keys in sorted order.
func (t *Table) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Snapshot returns a copy of the table.
func (t *Table) Snapshot() map[string]Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Entry, len(t.entries))
	for k, e := range t.entries {
		out[k] = e
	}
	return out
}

// Serialize encodes the table in its persisted form.
func (t *Table) Serialize() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Serialize(t.entries)
}

func (t *Table) persistLocked(ctx context.Context) error {
	if t.storage == nil {
		return nil
	}
	blob, err := Serialize(t.entries)
	if err != nil {
		return err
	}
	ctx, cancel := persistContext(ctx)
	defer cancel()
	if err := t.storage.Write(ctx, t.name, blob); err != nil {
		return fmt.Errorf("cache: write image: %w", err)
	}
	return nil
}

// PersistTimeout bounds a single write or remove of the persisted image.
const PersistTimeout = 10 * time.Second

func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), PersistTimeout)
}

type persistedEntry struct {
	Items     []Item `json:"items"`
	Timestamp int64  `json:"timestamp"`
}

// Serialize encodes entries as a JSON object of
// key -> {"items": [...], "timestamp": <unix millis>}.
func Serialize(entries map[string]Entry) ([]byte, error) {
	image := make(map[string]persistedEntry, len(entries))
	for k, e := range entries {
		items := e.Items
		if items == nil {
			items = []Item{}
		}
		image[k] = persistedEntry{Items: items, Timestamp: e.Timestamp.UnixMilli()}
	}
	blob, err := json.Marshal(image)
	if err != nil {
		return nil, fmt.Errorf("cache: encode image: %w", err)
	}
	return blob, nil
}

// LoadTable decodes a persisted image.
//
// Two entry forms are accepted: the current {"items": [...], "timestamp": n}
// and the legacy bare item array, which loads with a zero (epoch) timestamp
// and is therefore stale. Entries without a valid items array are dropped and
// counted.
func LoadTable(blob []byte) (map[string]Entry, int, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}

	entries := make(map[string]Entry, len(raw))
	dropped := 0
	for key, value := range raw {
		entry, ok := decodeEntry(value)
		if !ok {
			dropped++
			continue
		}
		entries[key] = entry
	}
	return entries, dropped, nil
}

func decodeEntry(value json.RawMessage) (Entry, bool) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return Entry{}, false
	}

	switch value[0] {
	case '[':
		items, err := decodeItems(value)
		if err != nil {
			return Entry{}, false
		}
		return Entry{Items: items, Timestamp: time.UnixMilli(0)}, true

	case '{':
		var pe struct {
			Items     json.RawMessage `json:"items"`
			Timestamp json.RawMessage `json:"timestamp"`
		}
		if err := json.Unmarshal(value, &pe); err != nil {
			return Entry{}, false
		}
		items, err := decodeItems(pe.Items)
		if err != nil {
			return Entry{}, false
		}
		return Entry{Items: items, Timestamp: time.UnixMilli(parseMillis(pe.Timestamp))}, true
	}

	return Entry{}, false
}

func decodeItems(raw json.RawMessage) ([]Item, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, ErrUnexpectedShape
	}
	items := []Item{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// parseMillis accepts a JSON number or numeric string; anything else is 0.
func parseMillis(raw json.RawMessage) int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(f)
}

func normalizeEntry(e Entry) Entry {
	if e.Items == nil {
		e.Items = []Item{}
	}
	e.Timestamp = time.UnixMilli(e.Timestamp.UnixMilli())
	return e
}
