// Package cache provides a client-resident cache for remote media listings.
//
// A Store serves previously fetched result sets immediately and refreshes
// them from a Fetcher when they are older than the configured TTL. Fresh hits
// trigger a background revalidation (stale-while-revalidate) whose result
// becomes visible through a View. Every table mutation is written through to
// a blobstore.Storage so state survives restarts.
//
// Keys are derived from a source identifier and an ordered parameter list.
// Parameter order is significant: the same pairs in a different order map to
// a different entry.
//
// Overlapping refreshes for the same key are not coalesced. Whichever
// response completes last is stored, even if it was issued first, and a
// background refresh that completes after Clear writes its key back.
//
// Overlapping foreground refreshes of one key also share its loading flag
// and error slot. The first to finish clears loading while the other is still
// in flight, and the last to finish decides the recorded error.
package cache
