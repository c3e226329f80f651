package cache

import (
	"context"
	"errors"
	"time"
)

// DefaultBlobName is the storage name the table image is persisted under.
const DefaultBlobName = "media-cache"

// DefaultErrorMessage is recorded for a key when a foreground refresh fails.
const DefaultErrorMessage = "failed to load, check the network or API configuration"

// Sentinel errors for cache operations.
var (
	ErrNilStorage      = errors.New("cache: storage is nil")
	ErrNilFetcher      = errors.New("cache: fetcher is nil")
	ErrItemNotObject   = errors.New("cache: item is not a JSON object")
	ErrUnexpectedShape = errors.New("cache: unexpected response shape")
	ErrBadStatus       = errors.New("cache: unexpected response status")
	ErrMalformedImage  = errors.New("cache: persisted image is malformed")
	ErrShutdown        = errors.New("cache: store is shut down")
)

// Entry is a cached result set and the time it was last refreshed.
type Entry struct {
	Items []Item

	// Timestamp is stored at millisecond precision with no monotonic clock
	// reading, matching the persisted image. Compare it with Equal, not ==.
	Timestamp time.Time
}

// Param is a single query parameter.
type Param struct {
	Key   string
	Value any
}

// Params is an ordered parameter list. Order is part of the cache key.
type Params []Param

// With returns a copy of p with key=value appended.
func (p Params) With(key string, value any) Params {
	out := make(Params, len(p), len(p)+1)
	copy(out, p)
	return append(out, Param{Key: key, Value: value})
}

// Response is the raw result of a fetch call.
type Response struct {
	StatusCode int
	Body       []byte
}

// Fetcher retrieves a listing from the remote source.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Get must honor cancellation/deadlines.
// - Errors: any error is treated as a transport failure by the Store.
type Fetcher interface {
	Get(ctx context.Context, endpoint string, params Params) (*Response, error)
}

// FetcherFunc adapts an ordinary function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, endpoint string, params Params) (*Response, error)

// Get calls f(ctx, endpoint, params).
func (f FetcherFunc) Get(ctx context.Context, endpoint string, params Params) (*Response, error) {
	return f(ctx, endpoint, params)
}

// Query names a listing by source and parameters.
type Query struct {
	Source string
	Params Params
}
