package cache

import "time"

// DefaultTTL is the age after which an entry is refreshed synchronously.
const DefaultTTL = 15 * time.Minute

// Policy configures freshness behavior.
type Policy struct {
	// TTL is the maximum age of a fresh entry.
	// With a zero TTL an entry is stale as soon as any time has passed.
	TTL time.Duration

	// DisableRevalidate stops a fresh hit from starting a background refresh.
	// The zero value revalidates.
	DisableRevalidate bool
}

// DefaultPolicy returns the default freshness policy.
// TTL: 15 minutes, background revalidation on.
func DefaultPolicy() Policy {
	return Policy{TTL: DefaultTTL}
}

// IsStale reports whether entry must be refreshed before it is served.
func (p Policy) IsStale(entry *Entry, now time.Time) bool {
	return IsStale(entry, now, p.TTL)
}

// IsStale reports whether entry is older than ttl at now.
// A nil entry is always stale.
func IsStale(entry *Entry, now time.Time, ttl time.Duration) bool {
	if entry == nil {
		return true
	}
	return now.Sub(entry.Timestamp) > ttl
}

// Age returns how long ago entry was refreshed.
func Age(entry Entry, now time.Time) time.Duration {
	return now.Sub(entry.Timestamp)
}
