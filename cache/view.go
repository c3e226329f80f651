package cache

// View is a live handle on one cached listing.
//
// Every accessor reads the store's current state, so a View observes
// background refreshes that complete after it was created. Slices returned
// by Items are snapshots and do not.
type View struct {
	store *Store
	key   string
}

// View returns a live handle for source and params. It does not fetch.
func (s *Store) View(source string, params Params) *View {
	return &View{store: s, key: s.keyer.Key(source, params)}
}

// Key returns the cache key the view reads.
func (v *View) Key() string {
	return v.key
}

// Items returns the currently cached items, nil when absent.
func (v *View) Items() []Item {
	return v.store.Items(v.key)
}

// Loading reports whether a foreground refresh is in progress.
func (v *View) Loading() bool {
	return v.store.Loading(v.key)
}

// Error returns the recorded error message, "" if none.
func (v *View) Error() string {
	return v.store.Error(v.key)
}

// Changed returns a channel closed on the next store state change.
// The change may concern another key; re-read the accessors to find out.
func (v *View) Changed() <-chan struct{} {
	return v.store.Changed()
}
