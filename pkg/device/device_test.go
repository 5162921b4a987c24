package device

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
	"github.com/bheemreddy-samsara/appwright/pkg/driver"
	"github.com/bheemreddy-samsara/appwright/pkg/trace"
)

// stubTest is a minimal host-runner stand-in recording steps and
// attachments.
type stubTest struct {
	id          string
	retry       int
	traceMode   core.TraceMode
	screenshots core.ScreenshotMode
	status      core.TestStatus
	errs        []error

	steps    []string
	attached []core.Attachment
}

func (s *stubTest) TestID() string                      { return s.id }
func (s *stubTest) Title() string                       { return s.id }
func (s *stubTest) Retry() int                          { return s.retry }
func (s *stubTest) TraceMode() core.TraceMode           { return s.traceMode }
func (s *stubTest) ScreenshotMode() core.ScreenshotMode { return s.screenshots }
func (s *stubTest) Status() core.TestStatus             { return s.status }
func (s *stubTest) Errors() []error                     { return s.errs }

func (s *stubTest) Attach(name string, body []byte, contentType string) error {
	s.attached = append(s.attached, core.Attachment{Name: name, ContentType: contentType, Body: body})
	return nil
}

func (s *stubTest) Step(title string, fn func() error) error {
	s.steps = append(s.steps, title)
	return fn()
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// newTestDevice builds a Device connected to a fake WebDriver server. The
// handle callback serves everything beyond session bootstrap and
// screenshots; screenshots return a distinct frame per call.
func newTestDevice(t *testing.T, cfg *trace.Config, handle func(w http.ResponseWriter, r *http.Request) bool) (*Device, *httptest.Server) {
	t.Helper()

	frame := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/session" && r.Method == "POST":
			writeJSON(w, map[string]interface{}{
				"value": map[string]interface{}{
					"sessionId": "sess",
					"capabilities": map[string]interface{}{
						"platformName": "Android",
					},
				},
			})
		case r.URL.Path == "/session/sess/window/rect":
			writeJSON(w, map[string]interface{}{
				"value": map[string]interface{}{"width": 1080.0, "height": 1920.0},
			})
		case r.URL.Path == "/session/sess/screenshot":
			frame++
			writeJSON(w, map[string]interface{}{
				"value": base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("frame-%d", frame))),
			})
		default:
			if handle != nil && handle(w, r) {
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	client := driver.NewClient(server.URL, quietLogger())
	if err := client.Connect(map[string]interface{}{"platformName": "Android"}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	return NewDevice(client, "com.example.app", cfg, quietLogger()), server
}

func TestDeviceUnboundActionRunsPlain(t *testing.T) {
	actionsCalled := false
	dev, _ := newTestDevice(t, nil, func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/session/sess/actions" {
			actionsCalled = true
			writeJSON(w, map[string]interface{}{"value": nil})
			return true
		}
		return false
	})

	if err := dev.Tap(10, 20); err != nil {
		t.Fatalf("Tap failed: %v", err)
	}
	if !actionsCalled {
		t.Error("Expected the action to reach the driver without a bound test")
	}
	if dev.Engine() != nil {
		t.Error("Unbound device should not have built a capture engine")
	}
}

func TestInstrumentedActionCapturesScreenshot(t *testing.T) {
	dev, _ := newTestDevice(t, nil, func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/session/sess/actions" {
			writeJSON(w, map[string]interface{}{"value": nil})
			return true
		}
		return false
	})

	tc := &stubTest{id: "login-test", traceMode: core.TraceOn}
	dev.BindTest(tc)

	if err := dev.Tap(10, 20); err != nil {
		t.Fatalf("Tap failed: %v", err)
	}

	if len(tc.steps) != 1 || tc.steps[0] != `tap()(10 , 20)` {
		t.Errorf("Expected boxed step 'tap()(10 , 20)', got %v", tc.steps)
	}
	if len(tc.attached) != 1 {
		t.Fatalf("Expected 1 attachment, got %d", len(tc.attached))
	}
	att := tc.attached[0]
	if !strings.HasPrefix(att.Name, "screenshot-") || !strings.HasSuffix(att.Name, ".png") {
		t.Errorf("Unexpected attachment name %q", att.Name)
	}
	if att.ContentType != core.ContentTypePNG {
		t.Errorf("Expected image/png content type, got %q", att.ContentType)
	}
	if !strings.HasPrefix(string(att.Body), "frame-") {
		t.Errorf("Attachment body should be the served frame, got %q", att.Body)
	}
}

func TestInstrumentedActionPreservesError(t *testing.T) {
	dev, _ := newTestDevice(t, nil, func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/session/sess/element" {
			writeJSON(w, map[string]interface{}{
				"value": map[string]interface{}{
					"error":   "no such element",
					"message": "An element could not be located",
				},
			})
			return true
		}
		return false
	})

	// Default policy is retain-on-failure, so the failing step captures.
	tc := &stubTest{id: "missing-element"}
	dev.BindTest(tc)

	err := dev.GetByText("Login").Tap()
	if err == nil {
		t.Fatal("Expected the locator action to fail")
	}
	if !errors.Is(err, core.ErrElementNotFound) {
		t.Errorf("Expected ErrElementNotFound passthrough, got %v", err)
	}

	want := `tap("text="Login"")()`
	if len(tc.steps) != 1 || tc.steps[0] != want {
		t.Errorf("Expected step %q, got %v", want, tc.steps)
	}
	if len(tc.attached) != 1 {
		t.Errorf("Expected failure screenshot, got %d attachments", len(tc.attached))
	}
}

func TestInstrumentedActionSkipsCaptureWhenPassing(t *testing.T) {
	dev, _ := newTestDevice(t, nil, func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/session/sess/actions" {
			writeJSON(w, map[string]interface{}{"value": nil})
			return true
		}
		return false
	})

	// Default retain-on-failure policy, passing attempt: no capture.
	tc := &stubTest{id: "passing"}
	dev.BindTest(tc)

	if err := dev.Tap(1, 2); err != nil {
		t.Fatalf("Tap failed: %v", err)
	}
	if len(tc.attached) != 0 {
		t.Errorf("Expected no attachments for a passing attempt, got %d", len(tc.attached))
	}
	if len(tc.steps) != 1 {
		t.Errorf("Step should still be boxed, got %v", tc.steps)
	}
}

func TestLocatorFill(t *testing.T) {
	var sentText string
	dev, _ := newTestDevice(t, nil, func(w http.ResponseWriter, r *http.Request) bool {
		switch r.URL.Path {
		case "/session/sess/element":
			writeJSON(w, map[string]interface{}{
				"value": map[string]interface{}{
					"element-6066-11e4-a52e-4f735466cecf": "elem-1",
				},
			})
			return true
		case "/session/sess/element/elem-1/value":
			var body map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				sentText, _ = body["text"].(string)
			}
			writeJSON(w, map[string]interface{}{"value": nil})
			return true
		}
		return false
	})

	tc := &stubTest{id: "fill-test", traceMode: core.TraceOff}
	dev.BindTest(tc)

	if err := dev.GetByID("email").Fill("user@example.com"); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if sentText != "user@example.com" {
		t.Errorf("Expected typed text to reach the driver, got %q", sentText)
	}

	want := `fill("id="email"")("user@example.com")`
	if len(tc.steps) != 1 || tc.steps[0] != want {
		t.Errorf("Expected step %q, got %v", want, tc.steps)
	}
}

func TestLocatorIsVisibleMissingElement(t *testing.T) {
	dev, _ := newTestDevice(t, nil, func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/session/sess/element" {
			writeJSON(w, map[string]interface{}{
				"value": map[string]interface{}{
					"error":   "no such element",
					"message": "not there",
				},
			})
			return true
		}
		return false
	})

	tc := &stubTest{id: "visibility", traceMode: core.TraceOff}
	dev.BindTest(tc)

	visible, err := dev.GetByText("Ghost").IsVisible()
	if err != nil {
		t.Fatalf("IsVisible should swallow not-found, got %v", err)
	}
	if visible {
		t.Error("Missing element should not be visible")
	}
}

func TestLocatorGetText(t *testing.T) {
	dev, _ := newTestDevice(t, nil, func(w http.ResponseWriter, r *http.Request) bool {
		switch r.URL.Path {
		case "/session/sess/element":
			writeJSON(w, map[string]interface{}{
				"value": map[string]interface{}{
					"element-6066-11e4-a52e-4f735466cecf": "elem-1",
				},
			})
			return true
		case "/session/sess/element/elem-1/text":
			writeJSON(w, map[string]interface{}{"value": "Welcome"})
			return true
		}
		return false
	})

	tc := &stubTest{id: "get-text", traceMode: core.TraceOff}
	dev.BindTest(tc)

	text, err := dev.GetByText("Welcome").GetText()
	if err != nil {
		t.Fatalf("GetText failed: %v", err)
	}
	if text != "Welcome" {
		t.Errorf("Expected 'Welcome', got %q", text)
	}
}

func TestLazyEngineInitForWorkerScopedDevice(t *testing.T) {
	dev, _ := newTestDevice(t, nil, func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/session/sess/actions" {
			writeJSON(w, map[string]interface{}{"value": nil})
			return true
		}
		return false
	})

	tc := &stubTest{id: "worker-test", traceMode: core.TraceOn}
	dev.BindTest(tc)

	// A worker-scoped device can reach an action without the per-test
	// engine setup having run; the wrapper must build one on the fly.
	dev.scope.Clear()
	if dev.Engine() != nil {
		t.Fatal("precondition: no active engine")
	}

	if err := dev.Tap(5, 5); err != nil {
		t.Fatalf("Tap failed: %v", err)
	}
	if dev.Engine() == nil {
		t.Error("Expected the wrapper to lazily initialize an engine")
	}
	if len(tc.attached) != 1 {
		t.Errorf("Expected capture through the lazy engine, got %d attachments", len(tc.attached))
	}
}

func TestDeviceClipboard(t *testing.T) {
	dev, _ := newTestDevice(t, nil, func(w http.ResponseWriter, r *http.Request) bool {
		switch r.URL.Path {
		case "/session/sess/appium/device/get_clipboard":
			writeJSON(w, map[string]interface{}{
				"value": base64.StdEncoding.EncodeToString([]byte("copied")),
			})
			return true
		case "/session/sess/appium/device/set_clipboard":
			writeJSON(w, map[string]interface{}{"value": nil})
			return true
		}
		return false
	})

	tc := &stubTest{id: "clipboard", traceMode: core.TraceOff}
	dev.BindTest(tc)

	if err := dev.SetClipboard("copied"); err != nil {
		t.Fatalf("SetClipboard failed: %v", err)
	}
	text, err := dev.GetClipboard()
	if err != nil {
		t.Fatalf("GetClipboard failed: %v", err)
	}
	if text != "copied" {
		t.Errorf("Expected 'copied', got %q", text)
	}
	if len(tc.steps) != 2 {
		t.Errorf("Expected both clipboard actions boxed, got %v", tc.steps)
	}
}

func TestReleaseTestDropsEngine(t *testing.T) {
	dev, _ := newTestDevice(t, nil, nil)

	tc := &stubTest{id: "released", traceMode: core.TraceOn}
	dev.BindTest(tc)
	if dev.Engine() == nil {
		t.Fatal("BindTest should initialize an engine")
	}

	dev.ReleaseTest()
	if dev.Engine() != nil {
		t.Error("ReleaseTest should drop the engine")
	}
	if dev.testContext() != nil {
		t.Error("ReleaseTest should detach the test context")
	}
}
