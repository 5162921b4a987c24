package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// RunInfo describes the run being reported.
type RunInfo struct {
	Device Device
	App    App
	CI     *CI
	Runner RunnerInfo
}

// Run is the top-level report for one invocation of the host runner.
// Tests register dynamically and write through their own TestWriter.
type Run struct {
	mu        sync.Mutex
	fs        afero.Fs
	outputDir string
	index     *IndexWriter
	writers   map[string]*TestWriter
	seen      map[string]int
}

// NewRun creates the report directory layout and an empty index.
// A nil fs falls back to the OS filesystem.
func NewRun(fs afero.Fs, outputDir string, info RunInfo) (*Run, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	if err := ensureDir(fs, filepath.Join(outputDir, "tests")); err != nil {
		return nil, fmt.Errorf("create tests dir: %w", err)
	}
	if err := ensureDir(fs, filepath.Join(outputDir, "assets")); err != nil {
		return nil, fmt.Errorf("create assets dir: %w", err)
	}

	index := &Index{
		Version: Version,
		RunID:   uuid.NewString(),
		Status:  StatusPending,
		Device:  info.Device,
		App:     info.App,
		CI:      info.CI,
		Runner:  info.Runner,
		Tests:   []TestEntry{},
	}

	r := &Run{
		fs:        fs,
		outputDir: outputDir,
		index:     NewIndexWriter(fs, outputDir, index),
		writers:   make(map[string]*TestWriter),
		seen:      make(map[string]int),
	}
	r.index.Start()
	return r, nil
}

// Test registers a test and returns its writer. Calling Test again with
// the same name returns the writer already registered for it, so retries
// within one host test reuse a single writer.
func (r *Run) Test(name string) *TestWriter {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := sanitizeID(name)
	if w, ok := r.writers[name]; ok {
		return w
	}

	// A second distinct test collapsing to the same sanitized ID gets a
	// numeric suffix to keep data files apart.
	r.seen[id]++
	if n := r.seen[id]; n > 1 {
		id = fmt.Sprintf("%s-%d", id, n)
	}

	ensureDir(r.fs, filepath.Join(r.outputDir, "assets", id))

	detail := &TestDetail{
		ID:     id,
		Name:   name,
		Status: StatusPending,
	}
	w := newTestWriter(r.fs, detail, r.outputDir, r.index)
	r.writers[name] = w

	r.index.Register(TestEntry{
		ID:        id,
		Name:      name,
		DataFile:  filepath.Join("tests", id+".json"),
		AssetsDir: filepath.Join("assets", id),
		Status:    StatusPending,
	})
	w.flush()
	return w
}

// End marks the run as complete and flushes everything.
func (r *Run) End() {
	r.index.End()
}

// Index returns a snapshot of the run index.
func (r *Run) Index() Index {
	return r.index.GetIndex()
}

// OutputDir returns the report directory.
func (r *Run) OutputDir() string {
	return r.outputDir
}

// LoadIndex reads a report index the way an external consumer would.
func LoadIndex(fs afero.Fs, outputDir string) (*Index, error) {
	data, err := afero.ReadFile(fs, filepath.Join(outputDir, "report.json"))
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	return &index, nil
}

// LoadTestDetail reads one test's detail file referenced from the index.
func LoadTestDetail(fs afero.Fs, outputDir string, entry TestEntry) (*TestDetail, error) {
	data, err := afero.ReadFile(fs, filepath.Join(outputDir, entry.DataFile))
	if err != nil {
		return nil, fmt.Errorf("read test detail %s: %w", entry.ID, err)
	}
	var detail TestDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("parse test detail %s: %w", entry.ID, err)
	}
	return &detail, nil
}

// DetectCI reads build metadata from common CI environment variables.
// Returns nil when not running in CI.
func DetectCI() *CI {
	switch {
	case os.Getenv("GITHUB_ACTIONS") == "true":
		ci := &CI{
			Provider: "github-actions",
			BuildID:  os.Getenv("GITHUB_RUN_ID"),
			Branch:   os.Getenv("GITHUB_REF_NAME"),
			Commit:   os.Getenv("GITHUB_SHA"),
		}
		if server, repo := os.Getenv("GITHUB_SERVER_URL"), os.Getenv("GITHUB_REPOSITORY"); server != "" && repo != "" {
			ci.BuildURL = fmt.Sprintf("%s/%s/actions/runs/%s", server, repo, ci.BuildID)
		}
		return ci
	case os.Getenv("CIRCLECI") == "true":
		return &CI{
			Provider: "circleci",
			BuildID:  os.Getenv("CIRCLE_BUILD_NUM"),
			BuildURL: os.Getenv("CIRCLE_BUILD_URL"),
			Branch:   os.Getenv("CIRCLE_BRANCH"),
			Commit:   os.Getenv("CIRCLE_SHA1"),
		}
	case os.Getenv("GITLAB_CI") == "true":
		return &CI{
			Provider: "gitlab",
			BuildID:  os.Getenv("CI_PIPELINE_ID"),
			BuildURL: os.Getenv("CI_PIPELINE_URL"),
			Branch:   os.Getenv("CI_COMMIT_REF_NAME"),
			Commit:   os.Getenv("CI_COMMIT_SHA"),
		}
	case os.Getenv("CI") != "":
		return &CI{Provider: "generic"}
	}
	return nil
}

// sanitizeID makes a test name safe for file paths. Subtest separators
// and any other unsafe runes become dashes.
func sanitizeID(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// ensureDir creates a directory and its parents.
func ensureDir(fs afero.Fs, dir string) error {
	return fs.MkdirAll(dir, 0o755)
}

// atomicWriteJSON writes JSON via a temp file and rename so a consumer
// polling the report never reads a partial document.
func atomicWriteJSON(fs afero.Fs, path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return err
	}
	return fs.Rename(tmp, path)
}
