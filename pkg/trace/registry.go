package trace

import (
	"crypto/sha256"
	"sync"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
)

// attemptState is the mutable capture record for one attempt. The counter
// and the seen-hash set only grow; an explicit reset deletes the whole
// record rather than rewinding it.
type attemptState struct {
	screenshots int
	seen        map[[sha256.Size]byte]struct{}
}

// registry maps attempt keys to capture state. It is embedded in an engine
// and lives exactly as long as its owner; there is no eviction beyond an
// explicit reset. Each operation is atomic so helper goroutines spawned by
// a test body cannot tear the bookkeeping.
type registry struct {
	mu     sync.Mutex
	states map[string]*attemptState
}

func newRegistry() *registry {
	return &registry{states: make(map[string]*attemptState)}
}

// state returns the record for key, creating it on first touch.
// Callers must hold r.mu.
func (r *registry) state(key core.AttemptKey) *attemptState {
	id := key.String()
	st, ok := r.states[id]
	if !ok {
		st = &attemptState{seen: make(map[[sha256.Size]byte]struct{})}
		r.states[id] = st
	}
	return st
}

// count returns the screenshots recorded for key so far.
func (r *registry) count(key core.AttemptKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state(key).screenshots
}

// increment bumps the screenshot counter for key and returns the new value.
func (r *registry) increment(key core.AttemptKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(key)
	st.screenshots++
	return st.screenshots
}

// recordHash registers a content hash for key. It returns false when the
// hash was already seen this attempt, true when newly recorded.
func (r *registry) recordHash(key core.AttemptKey, hash [sha256.Size]byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(key)
	if _, dup := st.seen[hash]; dup {
		return false
	}
	st.seen[hash] = struct{}{}
	return true
}

// reset deletes the record for key outright. The next access recreates it
// empty. Resetting an absent key is a no-op, so reset is idempotent.
func (r *registry) reset(key core.AttemptKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, key.String())
}
