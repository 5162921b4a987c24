package report

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
)

func createTestRun(t *testing.T) (*Run, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	run, err := NewRun(fs, "/report", RunInfo{
		Device: Device{Platform: "android", Provider: "emulator"},
		App:    App{ID: "com.example.app"},
		Runner: RunnerInfo{Version: "dev", Driver: "appium"},
	})
	if err != nil {
		t.Fatalf("NewRun() error = %v", err)
	}
	return run, fs
}

func TestRun_Test_RegistersEntry(t *testing.T) {
	run, fs := createTestRun(t)

	w := run.Test("TestLogin")

	index := run.Index()
	if len(index.Tests) != 1 {
		t.Fatalf("len(Tests) = %d, want 1", len(index.Tests))
	}
	entry := index.Tests[0]
	if entry.ID != "TestLogin" {
		t.Errorf("ID = %q, want %q", entry.ID, "TestLogin")
	}
	if entry.DataFile != filepath.Join("tests", "TestLogin.json") {
		t.Errorf("DataFile = %q", entry.DataFile)
	}
	if entry.Status != StatusPending {
		t.Errorf("Status = %q, want pending", entry.Status)
	}

	// Detail file written on registration
	if _, err := fs.Stat(filepath.Join("/report", entry.DataFile)); err != nil {
		t.Errorf("detail file not written: %v", err)
	}
	if w.ID() != "TestLogin" {
		t.Errorf("writer ID = %q", w.ID())
	}
}

func TestRun_Test_SameNameReturnsSameWriter(t *testing.T) {
	run, _ := createTestRun(t)

	w1 := run.Test("TestLogin")
	w2 := run.Test("TestLogin")

	if w1 != w2 {
		t.Error("expected the same writer for repeated registration")
	}
	if got := len(run.Index().Tests); got != 1 {
		t.Errorf("len(Tests) = %d, want 1", got)
	}
}

func TestRun_Test_CollidingIDsGetSuffix(t *testing.T) {
	run, _ := createTestRun(t)

	w1 := run.Test("Test/Login")
	w2 := run.Test("Test-Login")

	if w1.ID() != "Test-Login" {
		t.Errorf("first ID = %q, want %q", w1.ID(), "Test-Login")
	}
	if w2.ID() != "Test-Login-2" {
		t.Errorf("second ID = %q, want %q", w2.ID(), "Test-Login-2")
	}
}

func TestTestWriter_StartAttempt(t *testing.T) {
	run, _ := createTestRun(t)
	w := run.Test("TestLogin")

	before := time.Now()
	w.StartAttempt(0)
	after := time.Now()

	detail := w.GetDetail()
	if len(detail.Attempts) != 1 {
		t.Fatalf("len(Attempts) = %d, want 1", len(detail.Attempts))
	}
	attempt := detail.Attempts[0]
	if attempt.Retry != 0 {
		t.Errorf("Retry = %d, want 0", attempt.Retry)
	}
	if attempt.Status != StatusRunning {
		t.Errorf("Status = %q, want running", attempt.Status)
	}
	if attempt.StartTime.Before(before) || attempt.StartTime.After(after) {
		t.Error("StartTime not set correctly")
	}
	if detail.Status != StatusRunning {
		t.Errorf("detail.Status = %q, want running", detail.Status)
	}
}

func TestTestWriter_Steps(t *testing.T) {
	run, _ := createTestRun(t)
	w := run.Test("TestLogin")
	w.StartAttempt(0)

	first := w.StepStart(`tap("text="Login"")()`)
	if first != 0 {
		t.Fatalf("StepStart() = %d, want 0", first)
	}
	w.StepEnd(first, nil)

	second := w.StepStart(`fill("id="email"")("user@example.com")`)
	w.StepEnd(second, errors.New("element not interactable"))

	steps := w.GetDetail().Attempts[0].Steps
	if len(steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(steps))
	}
	if steps[0].Status != StatusPassed {
		t.Errorf("steps[0].Status = %q, want passed", steps[0].Status)
	}
	if steps[0].Duration == nil {
		t.Error("steps[0].Duration not set")
	}
	if steps[1].Status != StatusFailed {
		t.Errorf("steps[1].Status = %q, want failed", steps[1].Status)
	}
	if steps[1].Error == nil || steps[1].Error.Message != "element not interactable" {
		t.Errorf("steps[1].Error = %+v", steps[1].Error)
	}

	summary := w.stepSummary()
	if summary.Total != 2 || summary.Passed != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestTestWriter_StepWithoutAttempt(t *testing.T) {
	run, _ := createTestRun(t)
	w := run.Test("TestLogin")

	if got := w.StepStart("tap()(1 , 2)"); got != -1 {
		t.Errorf("StepStart() = %d, want -1", got)
	}
	// Must not panic
	w.StepEnd(-1, nil)
	w.StepEnd(5, nil)
}

func TestTestWriter_Attach(t *testing.T) {
	run, fs := createTestRun(t)
	w := run.Test("TestLogin")
	w.StartAttempt(0)

	data := []byte("png-bytes")
	relPath, err := w.Attach("screenshot-1700000000000.png", data, core.ContentTypePNG)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	want := filepath.Join("assets", "TestLogin", "screenshot-1700000000000.png")
	if relPath != want {
		t.Errorf("path = %q, want %q", relPath, want)
	}

	saved, err := afero.ReadFile(fs, filepath.Join("/report", relPath))
	if err != nil {
		t.Fatalf("attachment not written: %v", err)
	}
	if !bytes.Equal(saved, data) {
		t.Errorf("saved = %q, want %q", saved, data)
	}

	attachments := w.GetDetail().Attempts[0].Attachments
	if len(attachments) != 1 {
		t.Fatalf("len(Attachments) = %d, want 1", len(attachments))
	}
	att := attachments[0]
	if att.ContentType != core.ContentTypePNG {
		t.Errorf("ContentType = %q", att.ContentType)
	}
	if att.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", att.Size, len(data))
	}
}

func TestTestWriter_AttachWithoutAttempt(t *testing.T) {
	run, _ := createTestRun(t)
	w := run.Test("TestLogin")

	if _, err := w.Attach("a.png", []byte("x"), core.ContentTypePNG); err == nil {
		t.Error("expected error when no attempt is in progress")
	}
}

func TestTestWriter_SaveVideo(t *testing.T) {
	run, fs := createTestRun(t)
	w := run.Test("TestLogin")
	w.StartAttempt(1)

	relPath, err := w.SaveVideo(bytes.NewReader([]byte("mp4-bytes")))
	if err != nil {
		t.Fatalf("SaveVideo() error = %v", err)
	}
	want := filepath.Join("assets", "TestLogin", "video-retry-1.mp4")
	if relPath != want {
		t.Errorf("path = %q, want %q", relPath, want)
	}

	saved, err := afero.ReadFile(fs, filepath.Join("/report", relPath))
	if err != nil {
		t.Fatalf("video not written: %v", err)
	}
	if string(saved) != "mp4-bytes" {
		t.Errorf("saved = %q", saved)
	}
	if got := w.GetDetail().Attempts[0].Video; got != want {
		t.Errorf("attempt.Video = %q, want %q", got, want)
	}
}

func TestTestWriter_EndAttempt(t *testing.T) {
	run, _ := createTestRun(t)
	w := run.Test("TestLogin")
	w.StartAttempt(0)
	w.EndAttempt(StatusFailed, core.ErrElementNotFound)

	detail := w.GetDetail()
	attempt := detail.Attempts[0]
	if attempt.Status != StatusFailed {
		t.Errorf("attempt.Status = %q, want failed", attempt.Status)
	}
	if attempt.EndTime == nil || attempt.Duration == nil {
		t.Error("attempt end time or duration not set")
	}
	if attempt.Error == nil || attempt.Error.Type != "element_not_found" {
		t.Errorf("attempt.Error = %+v", attempt.Error)
	}
	if detail.Status != StatusFailed {
		t.Errorf("detail.Status = %q, want failed", detail.Status)
	}

	entry := run.Index().Tests[0]
	if entry.Status != StatusFailed {
		t.Errorf("index status = %q, want failed", entry.Status)
	}
	if entry.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", entry.Attempts)
	}
	if len(entry.AttemptHistory) != 1 {
		t.Fatalf("len(AttemptHistory) = %d, want 1", len(entry.AttemptHistory))
	}
	if entry.AttemptHistory[0].Error == "" {
		t.Error("history error not recorded")
	}
}

func TestTestWriter_RetryOverwritesFailure(t *testing.T) {
	run, _ := createTestRun(t)
	w := run.Test("TestLogin")

	w.StartAttempt(0)
	w.EndAttempt(StatusFailed, errors.New("flaky"))
	w.StartAttempt(1)
	w.EndAttempt(StatusPassed, nil)

	detail := w.GetDetail()
	if detail.Status != StatusPassed {
		t.Errorf("detail.Status = %q, want passed", detail.Status)
	}
	if len(detail.Attempts) != 2 {
		t.Fatalf("len(Attempts) = %d, want 2", len(detail.Attempts))
	}

	entry := run.Index().Tests[0]
	if entry.Status != StatusPassed {
		t.Errorf("index status = %q, want passed", entry.Status)
	}
	if entry.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", entry.Attempts)
	}
	if entry.AttemptHistory[0].Status != StatusFailed || entry.AttemptHistory[1].Status != StatusPassed {
		t.Errorf("history = %+v", entry.AttemptHistory)
	}
}

func TestTestWriter_SetDevice(t *testing.T) {
	run, _ := createTestRun(t)
	w := run.Test("TestLogin")

	w.SetDevice(Device{Name: "Pixel 8", Platform: "android"})

	device := w.GetDetail().Device
	if device == nil || device.Name != "Pixel 8" {
		t.Errorf("Device = %+v", device)
	}
}
