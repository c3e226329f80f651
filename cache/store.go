package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/mediacache/blobstore"
	"github.com/jonwraymond/mediacache/observe"
)

// Option configures a Store.
type Option func(*Store)

// WithPolicy sets the freshness policy.
func WithPolicy(p Policy) Option {
	return func(s *Store) {
		s.policy = p
	}
}

// WithKeyer sets the key deriver. Default: DefaultKeyer.
func WithKeyer(k Keyer) Option {
	return func(s *Store) {
		if k != nil {
			s.keyer = k
		}
	}
}

// WithClock sets the clock used for entry timestamps and staleness.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMiddleware sets the refresh instrumentation.
func WithMiddleware(mw *observe.Middleware) Option {
	return func(s *Store) {
		if mw != nil {
			s.mw = mw
		}
	}
}

// WithLogger sets the logger for store events. Default: the middleware's logger.
func WithLogger(l observe.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithErrorMessage sets the message recorded when a foreground refresh fails.
func WithErrorMessage(msg string) Option {
	return func(s *Store) {
		if msg != "" {
			s.errMessage = msg
		}
	}
}

// WithBlobName sets the storage name the table is persisted under.
func WithBlobName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.blobName = name
		}
	}
}

// WithMaxBackground bounds concurrent background refreshes.
func WithMaxBackground(n int) Option {
	return func(s *Store) {
		s.maxBackground = n
	}
}

// Store is the media cache: a Table of result sets kept fresh from a Fetcher.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Context: FetchMedia honors ctx for the synchronous fetch only;
//     background refreshes outlive the caller's context.
//   - Errors: fetch failures never propagate out of FetchMedia; they are
//     recorded per key and read through Error or a View.
type Store struct {
	table   *Table
	fetcher Fetcher
	keyer   Keyer
	policy  Policy
	clock   clockwork.Clock
	mw      *observe.Middleware
	logger  observe.Logger
	queue   *TaskQueue

	errMessage    string
	blobName      string
	maxBackground int

	mu      sync.Mutex
	loading map[string]bool
	errs    map[string]string
	changed chan struct{}
}

// New creates a Store persisting to storage and refreshing from fetcher.
// Call Init to load the persisted table before serving.
func New(storage blobstore.Storage, fetcher Fetcher, opts ...Option) (*Store, error) {
	if storage == nil {
		return nil, ErrNilStorage
	}
	if fetcher == nil {
		return nil, ErrNilFetcher
	}

	s := &Store{
		fetcher:       fetcher,
		keyer:         NewDefaultKeyer(),
		policy:        DefaultPolicy(),
		clock:         clockwork.NewRealClock(),
		mw:            observe.NopMiddleware(),
		errMessage:    DefaultErrorMessage,
		blobName:      DefaultBlobName,
		maxBackground: DefaultMaxBackground,
		loading:       make(map[string]bool),
		errs:          make(map[string]string),
		changed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = s.mw.Logger()
	}
	s.table = NewTable(storage, s.blobName)
	s.queue = NewTaskQueue(s.maxBackground)
	return s, nil
}

// Init loads the persisted table.
//
// A malformed image is logged and discarded; the store starts empty and Init
// succeeds. Storage read failures are returned.
func (s *Store) Init(ctx context.Context) error {
	dropped, err := s.table.Load(ctx)
	switch {
	case errors.Is(err, ErrMalformedImage):
		s.logger.Warn(ctx, "discarding unreadable cache image",
			observe.F("blob", s.blobName), observe.Err(err))
	case err != nil:
		return err
	}
	if dropped > 0 {
		s.logger.Debug(ctx, "dropped malformed cache entries", observe.F("dropped", dropped))
	}
	s.logger.Info(ctx, "cache loaded",
		observe.F("blob", s.blobName), observe.F("entries", s.table.Len()))
	s.notify()
	return nil
}

// Shutdown stops accepting background refreshes and waits for running ones.
func (s *Store) Shutdown(ctx context.Context) error {
	return s.queue.Close(ctx)
}

// Key returns the cache key for source and params.
func (s *Store) Key(source string, params Params) string {
	return s.keyer.Key(source, params)
}

// FetchMedia returns the items for source and params.
//
// A fresh entry is returned immediately and, if the policy allows, a silent
// background refresh is started. A stale or missing entry is refreshed
// synchronously; on failure the per-key error is recorded and any previously
// cached items are returned. The result is nil when nothing is cached.
func (s *Store) FetchMedia(ctx context.Context, source string, params Params) []Item {
	key := s.keyer.Key(source, params)
	meta := observe.QueryMeta{Source: source, Key: key}

	entry, ok := s.table.Get(key)
	var current *Entry
	if ok {
		current = &entry
	}

	if !s.policy.IsStale(current, s.clock.Now()) {
		s.mw.Lookup(ctx, meta, observe.OutcomeHit)
		if !s.policy.DisableRevalidate {
			if _, err := s.Revalidate(ctx, source, params); err != nil {
				s.logger.WithQuery(meta).Debug(ctx, "background refresh not started", observe.Err(err))
			}
		}
		return cloneItems(entry.Items)
	}

	outcome := observe.OutcomeMiss
	if ok {
		outcome = observe.OutcomeStale
	}
	s.mw.Lookup(ctx, meta, outcome)

	s.setState(key, true, "")
	err := s.mw.Wrap(s.refreshFunc(params))(ctx, meta)
	msg := ""
	if err != nil {
		msg = s.errMessage
	}
	s.setState(key, false, msg)

	return s.Items(key)
}

// Revalidate starts a background refresh of source and params.
//
// The refresh does not touch loading or error state. Its result is applied
// on success regardless of what happened to the key meanwhile.
func (s *Store) Revalidate(ctx context.Context, source string, params Params) (*Task, error) {
	key := s.keyer.Key(source, params)
	meta := observe.QueryMeta{Source: source, Key: key, Background: true}
	refresh := s.mw.Wrap(s.refreshFunc(params))

	return s.queue.Spawn(ctx, key, func(ctx context.Context) error {
		return refresh(ctx, meta)
	})
}

// Prefetch refreshes several queries concurrently, at most maxBackground at a
// time. It returns the first per-key failure after all queries finish.
func (s *Store) Prefetch(ctx context.Context, queries ...Query) error {
	var g errgroup.Group
	g.SetLimit(max(s.maxBackground, 1))

	for _, q := range queries {
		g.Go(func() error {
			s.FetchMedia(ctx, q.Source, q.Params)
			key := s.keyer.Key(q.Source, q.Params)
			if msg := s.Error(key); msg != "" {
				return fmt.Errorf("cache: prefetch %s: %s", key, msg)
			}
			return nil
		})
	}
	return g.Wait()
}

// Wait blocks until all background refreshes have finished or ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	return s.queue.Wait(ctx)
}

// Pending returns the number of unfinished background refreshes.
func (s *Store) Pending() int {
	return s.queue.Pending()
}

// UpdateStatus sets the status of every cached item whose id equals itemID,
// across all entries. Other items and entry timestamps are untouched.
// It returns the number of entries patched; an unknown id patches nothing.
func (s *Store) UpdateStatus(ctx context.Context, itemID, status string) int {
	n, err := s.table.Update(ctx, func(_ string, e Entry) (Entry, bool) {
		var patched []Item
		for i, it := range e.Items {
			if it.ID() != itemID {
				continue
			}
			if patched == nil {
				patched = make([]Item, len(e.Items))
				copy(patched, e.Items)
			}
			patched[i] = it.WithStatus(status)
		}
		if patched == nil {
			return e, false
		}
		return Entry{Items: patched, Timestamp: e.Timestamp}, true
	})
	if err != nil {
		s.logger.Error(ctx, "persist after status update failed",
			observe.F("item_id", itemID), observe.Err(err))
	}
	if n > 0 {
		s.notify()
	}
	return n
}

// Clear empties the table, removes the persisted image and forgets recorded
// errors. Loading flags of in-flight refreshes are left to those refreshes.
func (s *Store) Clear(ctx context.Context) error {
	err := s.table.RemoveAll(ctx)

	s.mu.Lock()
	s.errs = make(map[string]string)
	s.mu.Unlock()

	s.notify()
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "cache cleared")
	return nil
}

// Items returns a copy of the cached items for key, nil when absent.
func (s *Store) Items(key string) []Item {
	e, ok := s.table.Get(key)
	if !ok {
		return nil
	}
	return cloneItems(e.Items)
}

// Entry returns the cached entry for key.
func (s *Store) Entry(key string) (Entry, bool) {
	return s.table.Get(key)
}

// Loading reports whether a foreground refresh of key is in progress.
func (s *Store) Loading(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading[key]
}

// Error returns the message recorded by the last failed foreground refresh
// of key, or "" when the last one succeeded.
func (s *Store) Error(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[key]
}

// Changed returns a channel that is closed on the next state change.
func (s *Store) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// Keys returns the cached keys in sorted order.
func (s *Store) Keys() []string {
	return s.table.Keys()
}

// Stats summarizes the table at the current clock time.
type Stats struct {
	Entries int
	Stale   int
	Pending int
	Oldest  time.Duration
}

// Stats returns entry and freshness counts.
func (s *Store) Stats() Stats {
	now := s.clock.Now()
	st := Stats{Pending: s.queue.Pending()}
	for _, e := range s.table.Snapshot() {
		st.Entries++
		if s.policy.IsStale(&e, now) {
			st.Stale++
		}
		if age := Age(e, now); age > st.Oldest {
			st.Oldest = age
		}
	}
	return st
}

// Policy returns the store's freshness policy.
func (s *Store) Policy() Policy {
	return s.policy
}

func (s *Store) refreshFunc(params Params) observe.RefreshFunc {
	return func(ctx context.Context, meta observe.QueryMeta) error {
		resp, err := s.fetcher.Get(ctx, meta.Source, params)
		if err != nil {
			return err
		}
		items, err := decodeResponse(resp)
		if err != nil {
			return err
		}

		entry := Entry{Items: items, Timestamp: s.clock.Now()}
		if err := s.table.Set(ctx, meta.Key, entry); err != nil {
			s.logger.WithQuery(meta).Error(ctx, "persist after refresh failed", observe.Err(err))
		}
		s.notify()
		return nil
	}
}

func (s *Store) setState(key string, loading bool, msg string) {
	s.mu.Lock()
	if loading {
		s.loading[key] = true
	} else {
		delete(s.loading, key)
	}
	if msg == "" {
		delete(s.errs, key)
	} else {
		s.errs[key] = msg
	}
	s.notifyLocked()
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.Lock()
	s.notifyLocked()
	s.mu.Unlock()
}

func (s *Store) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// decodeResponse accepts {"results": [...]} or a bare array of objects.
func decodeResponse(resp *Response) ([]Item, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrUnexpectedShape)
	}
	if resp.StatusCode != 0 && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	body := bytes.TrimSpace(resp.Body)
	if len(body) > 0 && body[0] == '{' {
		var envelope struct {
			Results json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		body = envelope.Results
	}

	items, err := decodeItems(body)
	if err != nil {
		if errors.Is(err, ErrUnexpectedShape) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	return items, nil
}
