package trace

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
)

// Engine is the visual trace decision engine for one test attempt. It is
// created when the attempt starts (or lazily, on the first instrumented
// action of a worker-scoped device) and consulted after every action.
//
// An attempt's capture lifecycle is: fresh state, captures allowed per
// policy, quota exhausted (engine stays queryable, captures silently skip),
// and back to fresh state after an explicit ResetState. Quota exhaustion is
// derived from the counter, never stored.
type Engine struct {
	tc     core.TestContext
	key    core.AttemptKey
	retry  int
	states *registry
	logger logrus.FieldLogger

	mu     sync.Mutex
	config Config
}

// NewEngine builds an engine for the attempt identified by tc and retry.
// A nil cfg means engine defaults; a non-nil cfg is merged over them.
func NewEngine(tc core.TestContext, retry int, cfg *Config, logger logrus.FieldLogger) *Engine {
	config := NewConfig()
	if cfg != nil {
		config = config.Apply(*cfg)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		tc:     tc,
		key:    core.AttemptKey{TestID: tc.TestID(), Retry: retry},
		retry:  retry,
		states: newRegistry(),
		logger: logger.WithField("attempt", core.AttemptKey{TestID: tc.TestID(), Retry: retry}.String()),
		config: config,
	}
}

// Key returns the attempt this engine instruments.
func (e *Engine) Key() core.AttemptKey {
	return e.key
}

// Config returns a copy of the engine's effective configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// UpdateConfig merges a partial override into the engine's configuration.
// Unset fields keep their current values.
func (e *Engine) UpdateConfig(cfg Config) {
	e.mu.Lock()
	e.config = e.config.Apply(cfg)
	e.mu.Unlock()
}

// ShouldCapture decides whether an action completing now should produce a
// screenshot. It is a pure read of the engine config, the runner's ambient
// trace settings, the attempt status, and the retry index.
//
// Resolution order: an explicit engine-level "off" wins outright; otherwise
// the runner's trace mode decides; without a usable trace mode the engine's
// own policy decides. The runner's screenshot sub-setting can veto an
// otherwise-true mode at the end.
func (e *Engine) ShouldCapture(stepFailed bool) bool {
	e.mu.Lock()
	cfg := e.config
	e.mu.Unlock()

	if cfg.screenshotsOff() {
		return false
	}

	allowed := false
	switch e.tc.TraceMode() {
	case core.TraceOn:
		allowed = true
	case core.TraceRetainOnFailure:
		allowed = e.attemptFailing(stepFailed)
	case core.TraceOnFirstRetry:
		allowed = e.retry == 1
	case core.TraceOnAllRetries, core.TraceRetryWithTrace:
		allowed = e.retry > 0
	case core.TraceOff:
		allowed = false
	default:
		switch cfg.policy() {
		case PolicyOn:
			allowed = true
		case PolicyRetainOnFailure:
			allowed = e.attemptFailing(stepFailed)
		}
	}

	if allowed && e.tc.ScreenshotMode() == core.ScreenshotOff {
		return false
	}
	return allowed
}

// attemptFailing reports whether the attempt counts as failing for
// retain-on-failure purposes: the step itself failed, the runner already
// recorded a non-passing status or errors, or this is a retry.
func (e *Engine) attemptFailing(stepFailed bool) bool {
	if stepFailed || e.retry > 0 {
		return true
	}
	if !e.tc.Status().Passing() {
		return true
	}
	return len(e.tc.Errors()) > 0
}

// CaptureScreenshot runs the capture pipeline for one settled action:
// policy gate, per-attempt quota, fetch, byte-level dedup, attach. It never
// returns an error; a capture problem must not be able to fail the test it
// instruments, so fetch and attach failures are logged and swallowed.
func (e *Engine) CaptureScreenshot(fetch func() ([]byte, error), label string, stepFailed bool) {
	if fetch == nil || !e.ShouldCapture(stepFailed) {
		return
	}

	e.mu.Lock()
	cfg := e.config
	e.mu.Unlock()

	// Quota gate before paying for the fetch. Hitting the cap is a silent
	// skip, not an error: the engine stays queryable for the rest of the
	// attempt.
	if int64(e.states.count(e.key)) >= cfg.maxScreenshots() {
		return
	}

	data, err := fetch()
	if err != nil {
		e.logger.WithError(err).Warn("screenshot fetch failed, skipping capture")
		return
	}

	if cfg.dedupeEnabled() {
		if !e.states.recordHash(e.key, sha256.Sum256(data)) {
			// Identical frame already attached this attempt; a duplicate
			// spends no quota.
			return
		}
	}

	e.states.increment(e.key)

	name := attachmentName(label)
	if err := e.tc.Attach(name, data, core.ContentTypePNG); err != nil {
		e.logger.WithError(err).WithField("attachment", name).Warn("screenshot attach failed")
	}
}

// ScreenshotCount returns the number of screenshots recorded for this
// attempt. Pure lookup; an attempt that never captured reads 0.
func (e *Engine) ScreenshotCount() int {
	return e.states.count(e.key)
}

// ResetState deletes the attempt's capture record outright. The next
// capture starts from an empty record; calling ResetState again is a no-op.
func (e *Engine) ResetState() {
	e.states.reset(e.key)
}

// attachmentName builds screenshot-<epoch-millis>[-<sanitized-label>].png.
func attachmentName(label string) string {
	name := fmt.Sprintf("screenshot-%d", time.Now().UnixMilli())
	if s := sanitizeLabel(label); s != "" {
		name += "-" + s
	}
	return name + ".png"
}

// sanitizeLabel replaces every non-alphanumeric rune so the attachment name
// stays filesystem- and report-safe.
func sanitizeLabel(label string) string {
	if label == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(label))
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
