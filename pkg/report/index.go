package report

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// debounceInterval batches progress updates to reduce index I/O.
const debounceInterval = 100 * time.Millisecond

// IndexWriter provides thread-safe updates to the report index.
// Multiple test goroutines can update the index concurrently.
type IndexWriter struct {
	mu    sync.Mutex
	fs    afero.Fs
	path  string
	index *Index

	// Debouncing for progress updates
	pending map[string]*TestUpdate
	timer   *time.Timer
	closed  bool
}

// NewIndexWriter creates a new IndexWriter for the given index.
func NewIndexWriter(fs afero.Fs, outputDir string, index *Index) *IndexWriter {
	return &IndexWriter{
		fs:      fs,
		path:    filepath.Join(outputDir, "report.json"),
		index:   index,
		pending: make(map[string]*TestUpdate),
	}
}

// Start marks the run as started.
func (w *IndexWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.Status = StatusRunning
	w.index.StartTime = now

	w.flushLocked()
}

// Register adds a test entry to the index. Tests register dynamically as
// the host runner discovers them, so there is no pre-built skeleton.
func (w *IndexWriter) Register(entry TestEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.index.Tests = append(w.index.Tests, entry)
	w.flushLocked()
}

// UpdateTest updates a test entry in the index.
// Terminal states (passed/failed/skipped) flush immediately.
// Progress updates are debounced to reduce I/O.
func (w *IndexWriter) UpdateTest(testID string, update *TestUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[testID] = update

	// Immediate flush for terminal states
	if update.Status.IsTerminal() {
		w.flushLocked()
		return
	}

	if w.closed {
		w.flushLocked()
		return
	}

	// Debounced flush for progress updates
	if w.timer == nil {
		w.timer = time.AfterFunc(debounceInterval, func() {
			w.flush()
		})
	}
}

// RecordAttempt appends a retry attempt to a test's history.
func (w *IndexWriter) RecordAttempt(testID string, retry int, status Status, duration int64, errMsg string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.index.Tests {
		if w.index.Tests[i].ID == testID {
			t := &w.index.Tests[i]
			t.Attempts++
			t.AttemptHistory = append(t.AttemptHistory, AttemptEntry{
				Retry:    retry,
				Status:   status,
				Duration: duration,
				Error:    errMsg,
			})
			break
		}
	}

	w.flushLocked()
}

// End marks the run as complete and flushes any pending updates.
func (w *IndexWriter) End() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	w.applyPendingLocked()

	now := time.Now()
	w.index.EndTime = &now
	w.index.Status = w.computeRunStatus()

	w.flushLocked()
}

// GetIndex returns a snapshot of the current index.
func (w *IndexWriter) GetIndex() Index {
	w.mu.Lock()
	defer w.mu.Unlock()

	snapshot := *w.index
	snapshot.Tests = make([]TestEntry, len(w.index.Tests))
	copy(snapshot.Tests, w.index.Tests)
	return snapshot
}

// flush applies pending updates and writes to disk.
func (w *IndexWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
}

// flushLocked flushes while holding the lock.
func (w *IndexWriter) flushLocked() {
	w.applyPendingLocked()

	w.index.UpdateSeq++
	w.index.LastUpdated = time.Now()
	w.index.Summary = w.computeSummary()

	// Stop debounce timer if running
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}

	atomicWriteJSON(w.fs, w.path, w.index)
}

// applyPendingLocked folds queued updates into the index.
func (w *IndexWriter) applyPendingLocked() {
	for testID, update := range w.pending {
		w.applyUpdate(testID, update)
	}
	w.pending = make(map[string]*TestUpdate)
}

// applyUpdate applies a TestUpdate to the index.
func (w *IndexWriter) applyUpdate(testID string, update *TestUpdate) {
	for i := range w.index.Tests {
		if w.index.Tests[i].ID == testID {
			t := &w.index.Tests[i]
			t.Status = update.Status
			if update.StartTime != nil {
				t.StartTime = update.StartTime
			}
			if update.EndTime != nil {
				t.EndTime = update.EndTime
			}
			if update.Duration != nil {
				t.Duration = update.Duration
			}
			t.Steps = update.Steps
			if update.Error != nil {
				t.Error = update.Error
			}
			t.UpdateSeq++
			now := time.Now()
			t.LastUpdated = &now
			break
		}
	}
}

// computeSummary calculates summary from test statuses.
func (w *IndexWriter) computeSummary() Summary {
	var s Summary
	for _, t := range w.index.Tests {
		s.Total++
		switch t.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusRunning:
			s.Running++
		case StatusPending:
			s.Pending++
		}
	}
	return s
}

// computeRunStatus determines overall run status from tests.
func (w *IndexWriter) computeRunStatus() Status {
	hasFailure := false
	allComplete := true

	for _, t := range w.index.Tests {
		if t.Status == StatusFailed {
			hasFailure = true
		}
		if !t.Status.IsTerminal() {
			allComplete = false
		}
	}

	if !allComplete {
		return StatusRunning
	}
	if hasFailure {
		return StatusFailed
	}
	return StatusPassed
}
