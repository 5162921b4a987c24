// Package core provides the shared execution model for appwright: test
// statuses, attempt identity, the error taxonomy, and the slice of the host
// runner's API consumed by the instrumentation engine.
package core

import "strconv"

// TestStatus is the host runner's vocabulary for an attempt's outcome.
type TestStatus string

// Statuses reported by the host runner.
const (
	StatusUnknown     TestStatus = ""            // Attempt still running, outcome not decided
	StatusPassed      TestStatus = "passed"      // Completed successfully
	StatusFailed      TestStatus = "failed"      // Assertion or action failed
	StatusTimedOut    TestStatus = "timedout"    // Attempt exceeded its time budget
	StatusInterrupted TestStatus = "interrupted" // Run stopped externally mid-attempt
	StatusSkipped     TestStatus = "skipped"     // Attempt never ran
)

// Passing reports whether the status still counts as passing. An undecided
// attempt is passing until the runner records otherwise.
func (s TestStatus) Passing() bool {
	switch s {
	case StatusUnknown, StatusPassed, StatusSkipped:
		return true
	default:
		return false
	}
}

// Collapse reduces the runner's status vocabulary to the binary
// passed/failed vocabulary understood by device providers.
func (s TestStatus) Collapse() TestStatus {
	switch s {
	case StatusFailed, StatusTimedOut, StatusInterrupted:
		return StatusFailed
	default:
		return StatusPassed
	}
}

// TraceMode is the host runner's ambient policy for retaining diagnostic
// artifacts (traces, screenshots) across attempts.
type TraceMode string

// Trace modes understood by the capture engine.
const (
	TraceUnset           TraceMode = ""                  // Host supplied no trace setting
	TraceOn              TraceMode = "on"                // Capture on every attempt
	TraceOff             TraceMode = "off"               // Never capture
	TraceRetainOnFailure TraceMode = "retain-on-failure" // Capture only for failing attempts
	TraceOnFirstRetry    TraceMode = "on-first-retry"    // Capture on retry 1 only
	TraceOnAllRetries    TraceMode = "on-all-retries"    // Capture on any retry
	TraceRetryWithTrace  TraceMode = "retry-with-trace"  // Alias used by older runners
)

// ScreenshotMode is the host runner's screenshot sub-setting. An explicit
// "off" vetoes screenshots even when the ambient trace mode would keep them.
type ScreenshotMode string

// Screenshot sub-settings.
const (
	ScreenshotUnset         ScreenshotMode = ""
	ScreenshotOn            ScreenshotMode = "on"
	ScreenshotOff           ScreenshotMode = "off"
	ScreenshotOnlyOnFailure ScreenshotMode = "only-on-failure"
)

// AttemptKey identifies one execution attempt of one test. An attempt with
// retry r is a distinct unit from retry r-1 even though both concern the
// same test.
type AttemptKey struct {
	TestID string // Opaque test identity supplied by the host runner
	Retry  int    // Zero-based retry index
}

// String renders the key in the testID#retry form used by the attempt
// state registry.
func (k AttemptKey) String() string {
	return k.TestID + "#" + strconv.Itoa(k.Retry)
}
