package device

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
)

// Persistent coordinates a worker-scoped device shared by consecutive test
// attempts: it counts in-flight lifecycle operations so teardown can wait
// for them, and pushes per-attempt details to the provider exactly once per
// attempt. The host runs attempts sequentially; the coordinator only has to
// survive helper goroutines, not concurrent attempts.
type Persistent struct {
	dev    *Device
	syncer core.StatusSyncer
	logger logrus.FieldLogger

	mu          sync.Mutex
	active      int           // in-flight lifecycle operations, never negative
	idle        chan struct{} // single pending idle signal, nil when nobody waits
	cursor      core.AttemptKey
	cursorTitle string
	hasCursor   bool
}

// NewPersistent wraps a device for reuse across attempts. syncer may be
// nil for providers without a per-test status API.
func NewPersistent(dev *Device, syncer core.StatusSyncer, logger logrus.FieldLogger) *Persistent {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Persistent{
		dev:    dev,
		syncer: syncer,
		logger: logger.WithField("component", "persistent-device"),
	}
}

// Device returns the underlying shared device.
func (p *Persistent) Device() *Device {
	return p.dev
}

// Prepare marks the start of an attempt on this device and announces its
// display name to the provider. Calling it again with the same key is a
// no-op; provider failures are logged and swallowed.
func (p *Persistent) Prepare(ctx context.Context, key core.AttemptKey, title string) {
	p.beginOp()
	defer p.endOp()

	p.mu.Lock()
	if p.hasCursor && p.cursor == key {
		p.mu.Unlock()
		return
	}
	p.cursor = key
	p.cursorTitle = title
	p.hasCursor = true
	p.mu.Unlock()

	if p.syncer == nil {
		return
	}
	if err := p.syncer.SyncTestDetails(ctx, core.TestDetails{Name: title}); err != nil {
		p.logger.WithError(err).WithField("attempt", key.String()).Warn("provider sync failed during prepare")
	}
}

// Finalize marks the end of an attempt: it collapses the runner's status
// vocabulary to passed/failed, derives a failure reason from the first
// recorded error, pushes the result to the provider, and clears the cursor.
// A missing or mismatched cursor is logged but never blocks teardown.
func (p *Persistent) Finalize(ctx context.Context, key core.AttemptKey, status core.TestStatus, errs []error) {
	p.beginOp()
	defer p.endOp()

	p.mu.Lock()
	title := p.cursorTitle
	switch {
	case !p.hasCursor:
		p.logger.WithField("attempt", key.String()).Warn("finalize without matching prepare")
	case p.cursor != key:
		p.logger.WithFields(logrus.Fields{
			"attempt":  key.String(),
			"prepared": p.cursor.String(),
		}).Warn("finalize for a different attempt than prepared")
	}
	p.cursor = core.AttemptKey{}
	p.cursorTitle = ""
	p.hasCursor = false
	p.mu.Unlock()

	if title == "" {
		title = key.TestID
	}

	collapsed := status.Collapse()
	details := core.TestDetails{Name: title, Status: collapsed}
	if collapsed == core.StatusFailed && len(errs) > 0 {
		details.Reason = errs[0].Error()
	}

	if p.syncer == nil {
		return
	}
	if err := p.syncer.SyncTestDetails(ctx, details); err != nil {
		p.logger.WithError(err).WithField("attempt", key.String()).Warn("provider sync failed during finalize")
	}
}

// WaitUntilIdle blocks until no lifecycle operation is in flight. All
// concurrent callers share one idle signal. Cancelling the context abandons
// the wait without disturbing the counter.
func (p *Persistent) WaitUntilIdle(ctx context.Context) error {
	p.mu.Lock()
	if p.active == 0 {
		p.mu.Unlock()
		return nil
	}
	if p.idle == nil {
		p.idle = make(chan struct{})
	}
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for in-flight operations and then releases the session.
func (p *Persistent) Close(ctx context.Context) error {
	if err := p.WaitUntilIdle(ctx); err != nil {
		return err
	}
	return p.dev.Close()
}

func (p *Persistent) beginOp() {
	p.mu.Lock()
	p.active++
	p.mu.Unlock()
}

// endOp runs deferred so an operation abandoned by a caller-side timeout
// still resolves the idle wait.
func (p *Persistent) endOp() {
	p.mu.Lock()
	p.active--
	if p.active == 0 && p.idle != nil {
		close(p.idle)
		p.idle = nil
	}
	p.mu.Unlock()
}
