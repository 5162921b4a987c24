// Package report provides JSON-based test reporting with real-time updates.
//
// Architecture:
//   - report.json: Main index file (small, frequently updated, mutex-protected)
//   - tests/<id>.json: Per-test detail files (owned by one goroutine, no lock needed)
//   - assets/<id>/: Per-test artifacts (screenshots, videos, logs)
//
// The index file serves as single source of truth for status and change tracking.
// Consumers poll report.json and only fetch changed test details as needed.
// All file access goes through an afero filesystem so tests can run in memory.
package report

import (
	"errors"
	"time"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
)

// Version is the report schema version.
const Version = "1.0.0"

// Status represents the execution status.
type Status string

// Status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusSkipped
}

// FromTestStatus maps a host runner outcome onto a report status.
// Timeouts and interrupts collapse into failed.
func FromTestStatus(s core.TestStatus) Status {
	switch s {
	case core.StatusPassed:
		return StatusPassed
	case core.StatusSkipped:
		return StatusSkipped
	case core.StatusUnknown:
		return StatusRunning
	default:
		return StatusFailed
	}
}

// ============================================================================
// INDEX (report.json)
// ============================================================================

// Index is the main report file that binds everything together.
// It contains minimal info for efficient polling and change detection.
type Index struct {
	Version     string      `json:"version"`
	RunID       string      `json:"runId"`
	UpdateSeq   uint64      `json:"updateSeq"`
	Status      Status      `json:"status"`
	StartTime   time.Time   `json:"startTime"`
	EndTime     *time.Time  `json:"endTime,omitempty"`
	LastUpdated time.Time   `json:"lastUpdated"`
	Device      Device      `json:"device"`
	App         App         `json:"app"`
	CI          *CI         `json:"ci,omitempty"`
	Runner      RunnerInfo  `json:"runner"`
	Summary     Summary     `json:"summary"`
	Tests       []TestEntry `json:"tests"`
}

// Device contains device information.
type Device struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Platform    string `json:"platform"` // ios, android
	OSVersion   string `json:"osVersion,omitempty"`
	Provider    string `json:"provider,omitempty"` // emulator, browserstack, lambdatest, device-farm
	IsSimulator bool   `json:"isSimulator,omitempty"`
}

// App contains application information.
type App struct {
	ID      string `json:"id"` // Bundle ID or package name
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// CI contains CI/CD build information.
type CI struct {
	Provider string `json:"provider,omitempty"`
	BuildID  string `json:"buildId,omitempty"`
	BuildURL string `json:"buildUrl,omitempty"`
	Branch   string `json:"branch,omitempty"`
	Commit   string `json:"commit,omitempty"`
}

// RunnerInfo identifies the runner that produced the report.
type RunnerInfo struct {
	Version string `json:"version"`
	Driver  string `json:"driver"` // appium
}

// Summary contains aggregated counts.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Running int `json:"running"`
	Pending int `json:"pending"`
}

// TestEntry is the index entry for a test (minimal info).
type TestEntry struct {
	ID             string         `json:"id"`        // Unique test ID, safe for file paths
	Name           string         `json:"name"`      // Display name
	DataFile       string         `json:"dataFile"`  // Path to test detail JSON
	AssetsDir      string         `json:"assetsDir"` // Path to assets directory
	Status         Status         `json:"status"`
	UpdateSeq      uint64         `json:"updateSeq"`
	StartTime      *time.Time     `json:"startTime,omitempty"`
	EndTime        *time.Time     `json:"endTime,omitempty"`
	Duration       *int64         `json:"duration,omitempty"` // milliseconds
	LastUpdated    *time.Time     `json:"lastUpdated,omitempty"`
	Steps          StepSummary    `json:"steps"`
	Attempts       int            `json:"attempts"`
	AttemptHistory []AttemptEntry `json:"attemptHistory,omitempty"`
	Error          *string        `json:"error,omitempty"`
}

// StepSummary contains step counts for a test.
type StepSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Running int `json:"running"`
}

// AttemptEntry tracks retry attempts in the index.
type AttemptEntry struct {
	Retry    int    `json:"retry"`
	Status   Status `json:"status"`
	Duration int64  `json:"duration"` // milliseconds
	Error    string `json:"error,omitempty"`
}

// ============================================================================
// TEST DETAIL (tests/<id>.json)
// ============================================================================

// TestDetail contains full test execution details across all attempts.
type TestDetail struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Status   Status          `json:"status"`
	Device   *Device         `json:"device,omitempty"`
	Attempts []AttemptDetail `json:"attempts"`
}

// AttemptDetail records one attempt of a test.
type AttemptDetail struct {
	Retry       int          `json:"retry"`
	Status      Status       `json:"status"`
	StartTime   time.Time    `json:"startTime"`
	EndTime     *time.Time   `json:"endTime,omitempty"`
	Duration    *int64       `json:"duration,omitempty"` // milliseconds
	Steps       []Step       `json:"steps"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Video       string       `json:"video,omitempty"`
	Error       *Error       `json:"error,omitempty"`
}

// Step represents a single instrumented action.
type Step struct {
	Index     int        `json:"index"`
	Title     string     `json:"title"`
	Status    Status     `json:"status"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Duration  *int64     `json:"duration,omitempty"` // milliseconds
	Error     *Error     `json:"error,omitempty"`
}

// Attachment records an artifact saved for an attempt. Paths are relative
// to the report directory, data is never inlined.
type Attachment struct {
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Timestamp   time.Time `json:"timestamp"`
}

// Error contains error details.
type Error struct {
	Type    string `json:"type"` // element_not_found, timeout, session_lost, unknown, ...
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// newError converts a Go error into a report error, preserving the
// machine-readable code when the error carries one.
func newError(err error) *Error {
	if err == nil {
		return nil
	}
	var execErr *core.ExecutionError
	if errors.As(err, &execErr) {
		e := &Error{Type: execErr.Code, Message: execErr.Error()}
		if execErr.Cause != nil {
			e.Details = execErr.Cause.Error()
		}
		return e
	}
	return &Error{Type: "unknown", Message: err.Error()}
}

// ============================================================================
// UPDATE TYPES
// ============================================================================

// TestUpdate contains the fields to update in the index for a test.
type TestUpdate struct {
	Status    Status
	StartTime *time.Time
	EndTime   *time.Time
	Duration  *int64
	Steps     StepSummary
	Error     *string
}
