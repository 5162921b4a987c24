package trace

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
)

// Scope owns the engine for one device. A device created inside a test
// gets its engine up front via Initialize; a worker-scoped device that
// outlives tests gets one lazily via GetOrInitialize, which also replaces
// an engine left over from a previous attempt.
type Scope struct {
	mu     sync.Mutex
	engine *Engine
	cfg    *Config
	logger logrus.FieldLogger
}

// NewScope returns a scope whose engines are built with cfg. A nil cfg
// means engine defaults.
func NewScope(cfg *Config, logger logrus.FieldLogger) *Scope {
	return &Scope{cfg: cfg, logger: logger}
}

// Initialize installs a fresh engine for the attempt, replacing any
// existing one.
func (s *Scope) Initialize(tc core.TestContext, retry int) *Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = NewEngine(tc, retry, s.cfg, s.logger)
	return s.engine
}

// GetOrInitialize returns the current engine, building one if none exists
// or if the existing one belongs to a different attempt. The stale case
// happens on persistent devices: the engine from test N must not leak its
// quota and dedup state into test N+1.
func (s *Scope) GetOrInitialize(tc core.TestContext, retry int) *Engine {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := core.AttemptKey{TestID: tc.TestID(), Retry: retry}
	if s.engine == nil || s.engine.Key() != key {
		s.engine = NewEngine(tc, retry, s.cfg, s.logger)
	}
	return s.engine
}

// Active returns the current engine, or nil when no attempt has touched
// this scope yet.
func (s *Scope) Active() *Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Clear drops the engine so the next attempt starts from scratch.
func (s *Scope) Clear() {
	s.mu.Lock()
	s.engine = nil
	s.mu.Unlock()
}
