package harness

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
	"github.com/bheemreddy-samsara/appwright/pkg/report"
)

// TestInfo is the per-attempt state handed to a test body. It implements
// core.TestContext, so devices bound to it route steps and attachments
// through the harness.
//
// A fresh TestInfo is created for every attempt. It is safe for concurrent
// use because a timed-out attempt's goroutine may still touch it while the
// harness moves on.
type TestInfo struct {
	testID string
	title  string
	retry  int
	trace  core.TraceMode
	shots  core.ScreenshotMode
	logger logrus.FieldLogger
	tw     *report.TestWriter

	mu          sync.Mutex
	status      core.TestStatus
	errs        []error
	attachments []core.Attachment
}

func newTestInfo(testID, title string, retry int, opts Options, tw *report.TestWriter, logger logrus.FieldLogger) *TestInfo {
	return &TestInfo{
		testID: testID,
		title:  title,
		retry:  retry,
		trace:  opts.Trace,
		shots:  opts.Screenshots,
		logger: logger.WithField("attempt", core.AttemptKey{TestID: testID, Retry: retry}.String()),
		tw:     tw,
	}
}

// TestID returns the host test's stable identity, t.Name() for go test.
func (ti *TestInfo) TestID() string { return ti.testID }

// Title returns the display name for the attempt.
func (ti *TestInfo) Title() string { return ti.title }

// Retry returns the zero-based retry index of this attempt.
func (ti *TestInfo) Retry() int { return ti.retry }

// TraceMode returns the ambient trace policy for the attempt.
func (ti *TestInfo) TraceMode() core.TraceMode { return ti.trace }

// ScreenshotMode returns the ambient screenshot sub-setting.
func (ti *TestInfo) ScreenshotMode() core.ScreenshotMode { return ti.shots }

// Status returns the attempt's current status, StatusUnknown while the
// body is still running.
func (ti *TestInfo) Status() core.TestStatus {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.status
}

// Errors returns the errors recorded against the attempt so far.
func (ti *TestInfo) Errors() []error {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	errs := make([]error, len(ti.errs))
	copy(errs, ti.errs)
	return errs
}

// Fail records err against the attempt without stopping it. The attempt
// is reported failed once the body returns.
func (ti *TestInfo) Fail(err error) {
	if err == nil {
		return
	}
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.errs = append(ti.errs, err)
}

// Attach hands an artifact to the report sink. Without a report the
// attachment is only held in memory.
func (ti *TestInfo) Attach(name string, body []byte, contentType string) error {
	att := core.Attachment{Name: name, ContentType: contentType, Body: body}

	if ti.tw != nil {
		path, err := ti.tw.Attach(name, body, contentType)
		if err != nil {
			return err
		}
		att.Path = path
	}

	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.attachments = append(ti.attachments, att)
	return nil
}

// Attachments returns the artifacts attached to this attempt.
func (ti *TestInfo) Attachments() []core.Attachment {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	atts := make([]core.Attachment, len(ti.attachments))
	copy(atts, ti.attachments)
	return atts
}

// Step executes fn as a named unit of work. The step is logged and, when
// a report is wired, recorded with its duration and outcome. A panic in
// fn marks the step failed and keeps unwinding.
func (ti *TestInfo) Step(title string, fn func() error) error {
	stepIndex := -1
	if ti.tw != nil {
		stepIndex = ti.tw.StepStart(title)
	}
	ti.logger.Debug(title)
	start := time.Now()

	completed := false
	var stepErr error
	defer func() {
		outcome := stepErr
		if !completed && outcome == nil {
			outcome = errStepAborted
		}
		if ti.tw != nil {
			ti.tw.StepEnd(stepIndex, outcome)
		}
		if outcome != nil {
			ti.logger.WithError(outcome).WithField("duration", time.Since(start)).Debug("step failed")
		}
	}()

	stepErr = fn()
	completed = true
	return stepErr
}

// markTimedOut flags the attempt as exceeding its time budget.
func (ti *TestInfo) markTimedOut() {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.status = core.StatusTimedOut
}

// finish decides the attempt's final status. fnErr is what the test body
// returned, recorded so providers can surface it as the failure reason.
func (ti *TestInfo) finish(fnErr error) core.TestStatus {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	if fnErr != nil {
		ti.errs = append(ti.errs, fnErr)
	}
	if ti.status == core.StatusTimedOut {
		return ti.status
	}
	if fnErr != nil || len(ti.errs) > 0 {
		ti.status = core.StatusFailed
	} else {
		ti.status = core.StatusPassed
	}
	return ti.status
}

// firstError returns the attempt's first recorded error, nil when none.
func (ti *TestInfo) firstError() error {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	if len(ti.errs) == 0 {
		return nil
	}
	return ti.errs[0]
}
