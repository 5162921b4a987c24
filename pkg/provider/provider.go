// Package provider abstracts where the device under test lives. A provider
// hands out the WebDriver endpoint and capabilities for a session, uploads
// app builds when the backend needs them, and pushes per-test status to the
// backend's dashboard.
//
// The usual wiring order is Setup, then driver connect with Capabilities
// against Endpoint, then BindSession on cloud providers so status sync and
// video download can address the session.
package provider

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
)

// Provider prepares device sessions and receives test status. Implementations
// are safe for use by a single worker at a time.
type Provider interface {
	// Name identifies the provider in config and logs.
	Name() string

	// Setup uploads the app build and validates credentials. It must be
	// called before Capabilities.
	Setup(ctx context.Context) error

	// Capabilities returns the negotiated WebDriver capabilities.
	Capabilities() map[string]interface{}

	// Endpoint returns the WebDriver hub URL.
	Endpoint() string

	// SyncTestDetails pushes attempt status to the provider's dashboard.
	// Best-effort: callers log errors and never fail a test on them.
	core.StatusSyncer
}

// VideoDownloader is implemented by providers that record sessions.
type VideoDownloader interface {
	// DownloadVideo fetches the session recording. The recording is
	// usually available only after the session ended.
	DownloadVideo(ctx context.Context) (io.ReadCloser, error)
}

// Options configures a provider.
type Options struct {
	// Platform is android or ios.
	Platform string

	// AppPath points at the app build to install. Cloud providers accept
	// their own upload IDs here (bs://, lt://) to skip the upload.
	AppPath string

	// DeviceName selects the device, provider-specific semantics. Local
	// runs treat it as an adb serial or simulator name.
	DeviceName string

	// OSVersion requests an OS version on cloud devices.
	OSVersion string

	// Build groups sessions on cloud dashboards.
	Build string

	// Endpoint overrides the provider's default WebDriver endpoint.
	Endpoint string

	Logger logrus.FieldLogger
}

// New builds a provider by name. An empty name selects the local emulator.
func New(name string, opts Options) (Provider, error) {
	switch name {
	case "", "emulator", "local":
		return NewEmulator(opts), nil
	case "browserstack":
		return NewBrowserStack(opts), nil
	case "lambdatest":
		return NewLambdaTest(opts), nil
	case "device-farm", "devicefarm":
		return NewDeviceFarm(opts), nil
	default:
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown provider %q", name))
	}
}

// automationName maps a platform to its Appium driver.
func automationName(platform string) string {
	if platform == "ios" {
		return "XCUITest"
	}
	return "UiAutomator2"
}

// platformName maps a platform to its WebDriver capability value.
func platformName(platform string) string {
	if platform == "ios" {
		return "iOS"
	}
	return "Android"
}

// statusIndicator collapses a test status for provider dashboards.
// Empty means the attempt has no reportable outcome yet.
func statusIndicator(status core.TestStatus) string {
	switch status {
	case core.StatusUnknown, core.StatusSkipped:
		return ""
	default:
		if status.Collapse() == core.StatusFailed {
			return "failed"
		}
		return "passed"
	}
}
