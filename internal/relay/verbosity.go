package relay

import "sync"

// VerbosityState is the relay's verbose flag. Only the owning Relay mutates it.
type VerbosityState struct {
	mu      sync.Mutex
	enabled bool
}

// Enabled reports the current flag.
func (v *VerbosityState) Enabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.enabled
}

// update sets the flag to *explicit, or flips it when explicit is nil, and
// runs persist with the new value while still holding the lock, so stored
// and in-memory values change in the same order. A persist error is returned
// but the in-memory flag still moves.
func (v *VerbosityState) update(explicit *bool, persist func(bool) error) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	next := !v.enabled
	if explicit != nil {
		next = *explicit
	}
	err := persist(next)
	v.enabled = next
	return next, err
}
