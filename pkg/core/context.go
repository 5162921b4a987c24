package core

import "context"

// TestContext is the slice of the host runner's per-test API consumed by the
// capture engine and the instrumentation wrapper. The runner owns attempt
// identity and ambient policy; appwright only reads them and writes
// attachments and steps back.
type TestContext interface {
	// TestID returns the opaque identity of the test this attempt belongs to.
	TestID() string

	// Title returns the human-readable display name for the attempt.
	Title() string

	// Retry returns the zero-based retry index of this attempt.
	Retry() int

	// TraceMode returns the runner's ambient trace policy, TraceUnset when
	// the runner has none.
	TraceMode() TraceMode

	// ScreenshotMode returns the runner's screenshot sub-setting.
	ScreenshotMode() ScreenshotMode

	// Status returns the attempt's current status. StatusUnknown means the
	// outcome is not decided yet.
	Status() TestStatus

	// Errors returns the errors recorded against the attempt so far.
	Errors() []error

	// Attach hands an artifact to the runner's attachment sink.
	Attach(name string, body []byte, contentType string) error

	// Step executes fn as a named, collapsible unit of work in the runner's
	// output. The returned error is fn's own error, unchanged.
	Step(title string, fn func() error) error
}

// Key builds the AttemptKey for a test context.
func Key(tc TestContext) AttemptKey {
	return AttemptKey{TestID: tc.TestID(), Retry: tc.Retry()}
}

// TestDetails is the per-attempt summary pushed to a device provider's
// dashboard. Zero values mean "leave unchanged" on the provider side.
type TestDetails struct {
	Name   string     // Display name of the attempt
	Status TestStatus // Collapsed passed/failed status
	Reason string     // Human-readable failure reason, empty when passed
}

// StatusSyncer pushes attempt details to a device provider. Sync is
// best-effort: callers log returned errors and never fail a test on them.
type StatusSyncer interface {
	SyncTestDetails(ctx context.Context, details TestDetails) error
}
