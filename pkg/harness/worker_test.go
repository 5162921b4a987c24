package harness

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
	"github.com/bheemreddy-samsara/appwright/pkg/device"
	"github.com/bheemreddy-samsara/appwright/pkg/driver"
	"github.com/bheemreddy-samsara/appwright/pkg/report"
)

// countingSyncer records provider sync calls.
type countingSyncer struct {
	mu      sync.Mutex
	details []core.TestDetails
}

func (s *countingSyncer) SyncTestDetails(ctx context.Context, details core.TestDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details = append(s.details, details)
	return nil
}

func (s *countingSyncer) recorded() []core.TestDetails {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.TestDetails, len(s.details))
	copy(out, s.details)
	return out
}

// newWorkerDevice connects a Device to a fake WebDriver server that
// serves session bootstrap, taps, screenshots and teardown.
func newWorkerDevice(t *testing.T) *device.Device {
	t.Helper()

	frame := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeValue := func(v interface{}) {
			if err := json.NewEncoder(w).Encode(map[string]interface{}{"value": v}); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/session":
			writeValue(map[string]interface{}{
				"sessionId":    "sess",
				"capabilities": map[string]interface{}{"platformName": "Android"},
			})
		case r.URL.Path == "/session/sess/window/rect":
			writeValue(map[string]interface{}{"width": 1080.0, "height": 1920.0})
		case r.URL.Path == "/session/sess/screenshot":
			frame++
			writeValue(base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("frame-%d", frame))))
		case r.URL.Path == "/session/sess/actions":
			writeValue(nil)
		case r.Method == http.MethodDelete && r.URL.Path == "/session/sess":
			writeValue(nil)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	client := driver.NewClient(server.URL, quietLogger())
	require.NoError(t, client.Connect(map[string]interface{}{"platformName": "Android"}))
	return device.NewDevice(client, "com.example.app", nil, quietLogger())
}

func TestWorkerSyncsAroundAttempts(t *testing.T) {
	syncer := &countingSyncer{}
	persistent := device.NewPersistent(nil, syncer, quietLogger())
	w := NewWorker(persistent, nil, quietLogger())

	ft := &fakeT{name: "TestOnWorker"}
	w.Run(ft, Options{Name: "Login works"}, func(ti *TestInfo, dev *device.Device) error {
		return nil
	})

	assert.False(t, ft.failed())

	details := syncer.recorded()
	require.Len(t, details, 2)
	assert.Equal(t, "Login works", details[0].Name)
	assert.Equal(t, core.StatusUnknown, details[0].Status)
	assert.Equal(t, core.StatusPassed, details[1].Status)
	assert.Empty(t, details[1].Reason)
}

func TestWorkerSyncsEachRetry(t *testing.T) {
	syncer := &countingSyncer{}
	persistent := device.NewPersistent(nil, syncer, quietLogger())
	w := NewWorker(persistent, nil, quietLogger())

	ft := &fakeT{name: "TestRetry"}
	calls := 0
	w.Run(ft, Options{Retries: 1}, func(ti *TestInfo, dev *device.Device) error {
		calls++
		if calls == 1 {
			return errors.New("first attempt fails")
		}
		return nil
	})

	assert.False(t, ft.failed())
	assert.Equal(t, 2, calls)

	// prepare + finalize per attempt
	details := syncer.recorded()
	require.Len(t, details, 4)
	assert.Equal(t, core.StatusFailed, details[1].Status)
	assert.Equal(t, "first attempt fails", details[1].Reason)
	assert.Equal(t, core.StatusPassed, details[3].Status)
}

func TestWorkerEndToEnd(t *testing.T) {
	dev := newWorkerDevice(t)
	syncer := &countingSyncer{}
	persistent := device.NewPersistent(dev, syncer, quietLogger())
	run, fs := newMemReport(t)
	w := NewWorker(persistent, run, quietLogger())

	require.Same(t, dev, w.Device())

	ft := &fakeT{name: "TestTapFlow"}
	w.Run(ft, Options{Trace: core.TraceOn}, func(ti *TestInfo, d *device.Device) error {
		return d.Tap(100, 200)
	})

	require.False(t, ft.failed(), "run failed: %s", ft.lastFatal())

	// Step recorded in the report
	entry := run.Index().Tests[0]
	assert.Equal(t, report.StatusPassed, entry.Status)
	assert.Equal(t, 1, entry.Steps.Total)
	assert.Equal(t, 1, entry.Steps.Passed)

	// Trace-on policy captured a screenshot for the passing action
	detail, err := report.LoadTestDetail(fs, "/report", entry)
	require.NoError(t, err)
	require.Len(t, detail.Attempts, 1)
	require.Len(t, detail.Attempts[0].Attachments, 1)
	att := detail.Attempts[0].Attachments[0]
	assert.True(t, strings.HasPrefix(att.Name, "screenshot-"), "attachment %q", att.Name)
	assert.Equal(t, core.ContentTypePNG, att.ContentType)

	saved, err := afero.ReadFile(fs, "/report/"+att.Path)
	require.NoError(t, err)
	assert.Equal(t, "frame-1", string(saved))

	// Provider saw the attempt come and go
	details := syncer.recorded()
	require.Len(t, details, 2)
	assert.Equal(t, core.StatusPassed, details[1].Status)

	require.NoError(t, w.Close(context.Background()))
}

func TestWorkerDeviceSharedAcrossTests(t *testing.T) {
	dev := newWorkerDevice(t)
	persistent := device.NewPersistent(dev, nil, quietLogger())
	run, _ := newMemReport(t)
	w := NewWorker(persistent, run, quietLogger())

	for _, name := range []string{"TestFirst", "TestSecond"} {
		ft := &fakeT{name: name}
		w.Run(ft, Options{}, func(ti *TestInfo, d *device.Device) error {
			assert.Same(t, dev, d)
			return d.Tap(1, 2)
		})
		assert.False(t, ft.failed(), "%s failed: %s", name, ft.lastFatal())
	}

	index := run.Index()
	require.Len(t, index.Tests, 2)
	run.End()
	assert.Equal(t, report.StatusPassed, run.Index().Status)
}
