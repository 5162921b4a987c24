package report

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// TestWriter writes updates for a single test across its attempts.
// Each test goroutine has its own TestWriter - no locking needed.
type TestWriter struct {
	fs        afero.Fs
	detail    *TestDetail
	path      string
	assetsDir string
	relAssets string
	index     *IndexWriter
}

// newTestWriter creates a TestWriter for a registered test.
func newTestWriter(fs afero.Fs, detail *TestDetail, outputDir string, index *IndexWriter) *TestWriter {
	return &TestWriter{
		fs:        fs,
		detail:    detail,
		path:      filepath.Join(outputDir, "tests", detail.ID+".json"),
		assetsDir: filepath.Join(outputDir, "assets", detail.ID),
		relAssets: filepath.Join("assets", detail.ID),
		index:     index,
	}
}

// ID returns the test's report identifier.
func (w *TestWriter) ID() string {
	return w.detail.ID
}

// StartAttempt begins a new attempt for the test. The first attempt has
// retry 0, each retry increments it.
func (w *TestWriter) StartAttempt(retry int) {
	now := time.Now()
	w.detail.Status = StatusRunning
	w.detail.Attempts = append(w.detail.Attempts, AttemptDetail{
		Retry:     retry,
		Status:    StatusRunning,
		StartTime: now,
	})

	w.flush()

	update := &TestUpdate{Status: StatusRunning, Steps: w.stepSummary()}
	if retry == 0 {
		update.StartTime = &now
	}
	w.index.UpdateTest(w.detail.ID, update)
}

// StepStart records the start of a step in the current attempt and
// returns its index, or -1 when no attempt is active.
func (w *TestWriter) StepStart(title string) int {
	attempt := w.current()
	if attempt == nil {
		return -1
	}

	now := time.Now()
	attempt.Steps = append(attempt.Steps, Step{
		Index:     len(attempt.Steps),
		Title:     title,
		Status:    StatusRunning,
		StartTime: &now,
	})

	w.flush()
	w.updateIndexProgress()
	return len(attempt.Steps) - 1
}

// StepEnd marks a step as complete. A nil error means the step passed.
func (w *TestWriter) StepEnd(stepIndex int, stepErr error) {
	attempt := w.current()
	if attempt == nil || stepIndex < 0 || stepIndex >= len(attempt.Steps) {
		return
	}

	now := time.Now()
	step := &attempt.Steps[stepIndex]
	step.Status = StatusPassed
	if stepErr != nil {
		step.Status = StatusFailed
	}
	step.EndTime = &now
	if step.StartTime != nil {
		duration := now.Sub(*step.StartTime).Milliseconds()
		step.Duration = &duration
	}
	step.Error = newError(stepErr)

	w.flush()
	w.updateIndexProgress()
}

// Attach saves attachment data under the test's assets directory and
// records it on the current attempt. Returns the path relative to the
// report directory.
func (w *TestWriter) Attach(name string, data []byte, contentType string) (string, error) {
	attempt := w.current()
	if attempt == nil {
		return "", fmt.Errorf("attach %q: no attempt in progress", name)
	}

	filename := sanitizeID(name)
	absPath := filepath.Join(w.assetsDir, filename)
	if err := afero.WriteFile(w.fs, absPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write attachment %q: %w", name, err)
	}

	relPath := filepath.Join(w.relAssets, filename)
	attempt.Attachments = append(attempt.Attachments, Attachment{
		Name:        name,
		ContentType: contentType,
		Path:        relPath,
		Size:        int64(len(data)),
		Timestamp:   time.Now(),
	})

	w.flush()
	return relPath, nil
}

// SaveVideo streams a session recording into the assets directory and
// links it to the current attempt.
func (w *TestWriter) SaveVideo(r io.Reader) (string, error) {
	attempt := w.current()
	if attempt == nil {
		return "", fmt.Errorf("save video: no attempt in progress")
	}

	filename := fmt.Sprintf("video-retry-%d.mp4", attempt.Retry)
	absPath := filepath.Join(w.assetsDir, filename)
	if err := afero.WriteReader(w.fs, absPath, r); err != nil {
		return "", fmt.Errorf("write video: %w", err)
	}

	relPath := filepath.Join(w.relAssets, filename)
	attempt.Video = relPath
	w.flush()
	return relPath, nil
}

// EndAttempt marks the current attempt as complete. The test's overall
// status follows its most recent attempt, so a retry that passes
// overwrites an earlier failure.
func (w *TestWriter) EndAttempt(status Status, attemptErr error) {
	attempt := w.current()
	if attempt == nil {
		return
	}

	now := time.Now()
	attempt.Status = status
	attempt.EndTime = &now
	duration := now.Sub(attempt.StartTime).Milliseconds()
	attempt.Duration = &duration
	attempt.Error = newError(attemptErr)
	w.detail.Status = status

	w.flush()

	var errMsg string
	if attemptErr != nil {
		errMsg = attemptErr.Error()
	}
	w.index.RecordAttempt(w.detail.ID, attempt.Retry, status, duration, errMsg)

	update := &TestUpdate{
		Status:   status,
		EndTime:  &now,
		Duration: &duration,
		Steps:    w.stepSummary(),
	}
	if attemptErr != nil {
		update.Error = &errMsg
	}
	w.index.UpdateTest(w.detail.ID, update)
}

// SetDevice records the device that ran this test.
func (w *TestWriter) SetDevice(device Device) {
	w.detail.Device = &device
	w.flush()
}

// GetDetail returns the current test detail (for reading).
func (w *TestWriter) GetDetail() *TestDetail {
	return w.detail
}

// current returns the attempt in progress, nil before StartAttempt.
func (w *TestWriter) current() *AttemptDetail {
	if len(w.detail.Attempts) == 0 {
		return nil
	}
	return &w.detail.Attempts[len(w.detail.Attempts)-1]
}

// flush writes the test detail to disk.
func (w *TestWriter) flush() {
	atomicWriteJSON(w.fs, w.path, w.detail)
}

// updateIndexProgress updates the index with step progress only.
func (w *TestWriter) updateIndexProgress() {
	w.index.UpdateTest(w.detail.ID, &TestUpdate{
		Status: StatusRunning,
		Steps:  w.stepSummary(),
	})
}

// stepSummary computes step counts for the current attempt.
func (w *TestWriter) stepSummary() StepSummary {
	var s StepSummary
	attempt := w.current()
	if attempt == nil {
		return s
	}

	s.Total = len(attempt.Steps)
	for _, step := range attempt.Steps {
		switch step.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusRunning:
			s.Running++
		}
	}
	return s
}
