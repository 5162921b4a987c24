package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
)

func newTestBrowserStack(t *testing.T, apiBase string) *BrowserStack {
	t.Helper()
	t.Setenv("BROWSERSTACK_USERNAME", "alice")
	t.Setenv("BROWSERSTACK_ACCESS_KEY", "secret")

	b := NewBrowserStack(Options{
		Platform:   "android",
		AppPath:    "/builds/app.apk",
		DeviceName: "Google Pixel 8",
		OSVersion:  "14.0",
		Build:      "nightly-42",
		Logger:     testLogger(),
	})
	if apiBase != "" {
		b.apiBase = apiBase
	}
	b.api.retryInterval = 0
	return b
}

func TestBrowserStackSetupRequiresCredentials(t *testing.T) {
	t.Setenv("BROWSERSTACK_USERNAME", "")
	t.Setenv("BROWSERSTACK_ACCESS_KEY", "")

	b := NewBrowserStack(Options{Logger: testLogger()})
	err := b.Setup(context.Background())
	require.Error(t, err)

	var execErr *core.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "missing_required", execErr.Code)
}

func TestBrowserStackSetupSkipsUploadForRef(t *testing.T) {
	t.Setenv("BROWSERSTACK_USERNAME", "alice")
	t.Setenv("BROWSERSTACK_ACCESS_KEY", "secret")

	b := NewBrowserStack(Options{AppPath: "bs://already-uploaded", Logger: testLogger()})
	require.NoError(t, b.Setup(context.Background()))
	assert.Equal(t, "bs://already-uploaded", b.appURL)
}

func TestBrowserStackUpload(t *testing.T) {
	dir := t.TempDir()
	appPath := dir + "/app.apk"
	require.NoError(t, writeTestFile(appPath, []byte("fake-apk")))

	var uploaded []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/upload", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "alice", user)
		require.Equal(t, "secret", pass)

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		uploaded, _ = io.ReadAll(file)

		json.NewEncoder(w).Encode(map[string]string{"app_url": "bs://abc123"})
	}))
	defer srv.Close()

	b := newTestBrowserStack(t, srv.URL)
	b.opts.AppPath = appPath

	require.NoError(t, b.Setup(context.Background()))
	assert.Equal(t, "bs://abc123", b.appURL)
	assert.Equal(t, "fake-apk", string(uploaded))

	caps := b.Capabilities()
	assert.Equal(t, "bs://abc123", caps["appium:app"])
}

func TestBrowserStackCapabilities(t *testing.T) {
	b := newTestBrowserStack(t, "")
	b.appURL = "bs://abc123"

	caps := b.Capabilities()
	assert.Equal(t, "Android", caps["platformName"])
	assert.Equal(t, "UiAutomator2", caps["appium:automationName"])

	bstack, ok := caps["bstack:options"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", bstack["userName"])
	assert.Equal(t, "secret", bstack["accessKey"])
	assert.Equal(t, "Google Pixel 8", bstack["deviceName"])
	assert.Equal(t, "14.0", bstack["osVersion"])
	assert.Equal(t, "nightly-42", bstack["buildName"])
}

func TestBrowserStackEndpoint(t *testing.T) {
	b := newTestBrowserStack(t, "")
	assert.Equal(t, "https://hub.browserstack.com/wd/hub", b.Endpoint())

	b.opts.Endpoint = "https://hub-eu.browserstack.com/wd/hub"
	assert.Equal(t, "https://hub-eu.browserstack.com/wd/hub", b.Endpoint())
}

func TestBrowserStackSyncTestDetails(t *testing.T) {
	type update struct {
		path string
		body map[string]string
	}
	var updates []update
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		updates = append(updates, update{path: r.URL.Path, body: body})
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	b := newTestBrowserStack(t, srv.URL)
	b.BindSession("sess-9")

	ctx := context.Background()
	require.NoError(t, b.SyncTestDetails(ctx, core.TestDetails{Name: "Login works"}))
	require.NoError(t, b.SyncTestDetails(ctx, core.TestDetails{
		Name:   "Login works",
		Status: core.StatusFailed,
		Reason: "button missing",
	}))

	require.Len(t, updates, 2)
	assert.Equal(t, "/sessions/sess-9.json", updates[0].path)
	assert.Equal(t, map[string]string{"name": "Login works"}, updates[0].body)
	assert.Equal(t, map[string]string{"status": "failed", "reason": "button missing"}, updates[1].body)
}

func TestBrowserStackSyncWithoutSession(t *testing.T) {
	b := newTestBrowserStack(t, "")
	err := b.SyncTestDetails(context.Background(), core.TestDetails{Name: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrSessionLost))
}

func TestBrowserStackDownloadVideo(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/sessions/sess-9.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"automation_session": map[string]string{"video_url": srv.URL + "/video.mp4"},
		})
	})
	mux.HandleFunc("/video.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mp4-bytes"))
	})

	b := newTestBrowserStack(t, srv.URL)
	b.BindSession("sess-9")

	rc, err := b.DownloadVideo(context.Background())
	require.NoError(t, err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "mp4-bytes", string(body))
}

func TestBrowserStackDownloadVideoTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Video never becomes available.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"automation_session": map[string]string{},
		})
	}))
	defer srv.Close()

	b := newTestBrowserStack(t, srv.URL)
	b.BindSession("sess-9")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.DownloadVideo(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTimeout))
}
