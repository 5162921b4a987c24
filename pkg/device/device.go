// Package device exposes the ergonomic automation surface: Device and
// Locator actions over a WebDriver session, each one instrumented as a
// reported step with policy-driven screenshot capture, plus the lifecycle
// coordinator for worker-scoped persistent devices.
package device

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
	"github.com/bheemreddy-samsara/appwright/pkg/driver"
	"github.com/bheemreddy-samsara/appwright/pkg/selector"
	"github.com/bheemreddy-samsara/appwright/pkg/trace"
)

// Device wraps one exclusive WebDriver session. It owns its own capture
// engine scope; there is no process-global "current engine".
type Device struct {
	client *driver.Client
	appID  string
	logger logrus.FieldLogger
	scope  *trace.Scope

	mu sync.Mutex
	tc core.TestContext
}

// FindOptions tunes element matching for the getBy helpers.
type FindOptions struct {
	Exact bool // Match the whole string instead of substring
}

// NewDevice wraps a connected driver client. appID is the app under test,
// used as the default for app management actions. A nil cfg means default
// trace policy.
func NewDevice(client *driver.Client, appID string, cfg *trace.Config, logger logrus.FieldLogger) *Device {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Device{
		client: client,
		appID:  appID,
		logger: logger.WithField("component", "device"),
		scope:  trace.NewScope(cfg, logger),
	}
}

// BindTest attaches a live test attempt and gives it a fresh capture
// engine. A worker-scoped device is re-bound by every attempt that adopts
// it; the previous attempt's engine is replaced.
func (d *Device) BindTest(tc core.TestContext) {
	d.mu.Lock()
	d.tc = tc
	d.mu.Unlock()
	if tc != nil {
		d.scope.Initialize(tc, tc.Retry())
	}
}

// ReleaseTest detaches the current attempt and drops its capture engine.
func (d *Device) ReleaseTest() {
	d.mu.Lock()
	d.tc = nil
	d.mu.Unlock()
	d.scope.Clear()
}

// Close ends the WebDriver session.
func (d *Device) Close() error {
	return d.client.Disconnect()
}

// Platform returns the session platform (ios/android).
func (d *Device) Platform() string {
	return d.client.Platform()
}

// Engine returns the capture engine for the bound attempt, nil when no
// attempt has touched this device.
func (d *Device) Engine() *trace.Engine {
	return d.scope.Active()
}

func (d *Device) testContext() core.TestContext {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tc
}

// Element lookup

// GetByText returns a locator matching visible text (substring by default).
func (d *Device) GetByText(text string, opts ...FindOptions) *Locator {
	exact := false
	if len(opts) > 0 {
		exact = opts[0].Exact
	}
	return &Locator{device: d, sel: selector.ByText(d.client.Platform(), text, exact)}
}

// GetByID returns a locator matching a resource ID (Android) or
// accessibility ID (iOS).
func (d *Device) GetByID(id string) *Locator {
	return &Locator{device: d, sel: selector.ByID(d.client.Platform(), id)}
}

// GetByXPath returns a locator matching an XPath expression.
func (d *Device) GetByXPath(path string) *Locator {
	return &Locator{device: d, sel: selector.ByXPath(path)}
}

// Device-level actions

// Tap taps at absolute screen coordinates.
func (d *Device) Tap(x, y int) error {
	return d.instrument(stepLabel("tap", "", x, y), func() error {
		return d.client.Tap(x, y)
	})
}

// Swipe performs a swipe gesture between two points.
func (d *Device) Swipe(startX, startY, endX, endY, durationMs int) error {
	return d.instrument(stepLabel("swipe", "", startX, startY, endX, endY, durationMs), func() error {
		return d.client.Swipe(startX, startY, endX, endY, durationMs)
	})
}

// SendKeyEvent presses an Android keycode.
func (d *Device) SendKeyEvent(keycode int) error {
	return d.instrument(stepLabel("sendKeyEvent", "", keycode), func() error {
		return d.client.PressKeyCode(keycode)
	})
}

// Back presses the back button.
func (d *Device) Back() error {
	return d.instrument(stepLabel("back", ""), func() error {
		return d.client.PressKeyCode(4) // Android KEYCODE_BACK
	})
}

// OpenURL opens a URL or deep link in the system default handler.
func (d *Device) OpenURL(url string) error {
	return d.instrument(stepLabel("openURL", "", url), func() error {
		return d.client.OpenURL(url)
	})
}

// HideKeyboard hides the on-screen keyboard.
func (d *Device) HideKeyboard() error {
	return d.instrument(stepLabel("hideKeyboard", ""), func() error {
		return d.client.HideKeyboard()
	})
}

// GetClipboard returns the device clipboard text.
func (d *Device) GetClipboard() (string, error) {
	var text string
	err := d.instrument(stepLabel("getClipboard", ""), func() error {
		var err error
		text, err = d.client.GetClipboard()
		return err
	})
	return text, err
}

// SetClipboard sets the device clipboard text.
func (d *Device) SetClipboard(text string) error {
	return d.instrument(stepLabel("setClipboard", "", text), func() error {
		return d.client.SetClipboard(text)
	})
}

// ActivateApp brings an app to the foreground. An empty appID activates
// the app under test.
func (d *Device) ActivateApp(appID string) error {
	if appID == "" {
		appID = d.appID
	}
	return d.instrument(stepLabel("activateApp", "", appID), func() error {
		return d.client.ActivateApp(appID)
	})
}

// TerminateApp stops an app. An empty appID terminates the app under test.
func (d *Device) TerminateApp(appID string) error {
	if appID == "" {
		appID = d.appID
	}
	return d.instrument(stepLabel("terminateApp", "", appID), func() error {
		return d.client.TerminateApp(appID)
	})
}

// Screenshot returns the current screen as PNG bytes. Not instrumented:
// the capture engine calls this itself after instrumented actions.
func (d *Device) Screenshot() ([]byte, error) {
	return d.client.Screenshot()
}
