package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
	"github.com/bheemreddy-samsara/appwright/pkg/logger"
)

const (
	browserStackAPIBase = "https://api-cloud.browserstack.com/app-automate"
	browserStackHub     = "https://hub.browserstack.com/wd/hub"

	// videoPollInterval is how often to re-check a session for its
	// recording. Providers process videos asynchronously after the
	// session ends.
	videoPollInterval = 2 * time.Second
)

type browserStackEnv struct {
	Username  null.String `envconfig:"BROWSERSTACK_USERNAME"`
	AccessKey null.String `envconfig:"BROWSERSTACK_ACCESS_KEY"`
}

// BrowserStack provisions sessions on BrowserStack App Automate. Credentials
// come from BROWSERSTACK_USERNAME and BROWSERSTACK_ACCESS_KEY.
type BrowserStack struct {
	opts   Options
	logger logrus.FieldLogger
	api    *apiClient

	apiBase   string
	hub       string
	appURL    string
	sessionID string
}

// NewBrowserStack creates the BrowserStack provider. Credentials are
// validated in Setup, not here.
func NewBrowserStack(opts Options) *BrowserStack {
	log := opts.Logger
	if log == nil {
		log = logger.New("provider")
	}
	log = log.WithField("provider", "browserstack")

	var env browserStackEnv
	_ = envconfig.Process("", &env)

	return &BrowserStack{
		opts:    opts,
		logger:  log,
		api:     newAPIClient(env.Username.String, env.AccessKey.String, log),
		apiBase: browserStackAPIBase,
		hub:     browserStackHub,
	}
}

// Name identifies the provider in config and logs.
func (b *BrowserStack) Name() string { return "browserstack" }

// SessionID returns the bound WebDriver session, empty before BindSession.
func (b *BrowserStack) SessionID() string { return b.sessionID }

// BindSession points status sync and video download at a WebDriver session.
// Call it right after the session is created.
func (b *BrowserStack) BindSession(sessionID string) {
	b.sessionID = sessionID
}

// Setup validates credentials and uploads the app build. An AppPath that is
// already a bs:// reference skips the upload.
func (b *BrowserStack) Setup(ctx context.Context) error {
	if b.api.username == "" || b.api.accessKey == "" {
		return core.ErrMissingRequired.WithMessage(
			"BrowserStack credentials missing; set BROWSERSTACK_USERNAME and BROWSERSTACK_ACCESS_KEY")
	}
	if isUploadRef(b.opts.AppPath, "bs") {
		b.appURL = b.opts.AppPath
		return nil
	}
	if b.opts.AppPath == "" {
		return core.ErrMissingRequired.WithMessage("BrowserStack needs an app build path or bs:// reference")
	}
	return b.uploadApp(ctx)
}

func (b *BrowserStack) uploadApp(ctx context.Context) error {
	b.logger.WithField("app", b.opts.AppPath).Info("uploading app build")

	req, err := uploadForm(b.apiBase+"/upload", "file", b.opts.AppPath, nil)
	if err != nil {
		return core.ErrUploadFailed.WithCause(err)
	}

	var resp struct {
		AppURL string `json:"app_url"`
	}
	if err := b.api.DoUpload(req.WithContext(ctx), &resp); err != nil {
		return core.ErrUploadFailed.WithCause(err)
	}
	if resp.AppURL == "" {
		return core.ErrUploadFailed.WithMessage("upload response carried no app_url")
	}

	b.appURL = resp.AppURL
	b.logger.WithField("app_url", b.appURL).Info("app build uploaded")
	return nil
}

// Capabilities returns the bstack:options capability set.
func (b *BrowserStack) Capabilities() map[string]interface{} {
	bstack := map[string]interface{}{
		"userName":    b.api.username,
		"accessKey":   b.api.accessKey,
		"debug":       true,
		"networkLogs": true,
		"idleTimeout": 180,
	}
	if b.opts.DeviceName != "" {
		bstack["deviceName"] = b.opts.DeviceName
	}
	if b.opts.OSVersion != "" {
		bstack["osVersion"] = b.opts.OSVersion
	}
	if b.opts.Build != "" {
		bstack["buildName"] = b.opts.Build
	}

	return map[string]interface{}{
		"platformName":          platformName(b.opts.Platform),
		"appium:automationName": automationName(b.opts.Platform),
		"appium:app":            b.appURL,
		"bstack:options":        bstack,
	}
}

// Endpoint returns the App Automate WebDriver hub.
func (b *BrowserStack) Endpoint() string {
	if b.opts.Endpoint != "" {
		return b.opts.Endpoint
	}
	return b.hub
}

// SyncTestDetails pushes attempt status to the session on the BrowserStack
// dashboard. Before the attempt has an outcome only the session name is set.
func (b *BrowserStack) SyncTestDetails(ctx context.Context, details core.TestDetails) error {
	if b.sessionID == "" {
		return core.ErrSessionLost.WithMessage("no BrowserStack session bound")
	}

	body := map[string]string{}
	if ind := statusIndicator(details.Status); ind == "" {
		body["name"] = details.Name
	} else {
		body["status"] = ind
		body["reason"] = details.Reason
	}

	req, err := b.api.NewRequest(http.MethodPut, b.sessionURL(), body)
	if err != nil {
		return err
	}
	return b.api.Do(req.WithContext(ctx), nil)
}

// DownloadVideo fetches the session recording. BrowserStack processes the
// video after the session ends; the context bounds how long to wait for it.
func (b *BrowserStack) DownloadVideo(ctx context.Context) (io.ReadCloser, error) {
	if b.sessionID == "" {
		return nil, core.ErrSessionLost.WithMessage("no BrowserStack session bound")
	}

	videoURL, err := b.waitForVideoURL(ctx)
	if err != nil {
		return nil, err
	}
	return b.fetchVideo(ctx, videoURL)
}

func (b *BrowserStack) waitForVideoURL(ctx context.Context) (string, error) {
	ticker := time.NewTicker(videoPollInterval)
	defer ticker.Stop()

	for {
		var resp struct {
			AutomationSession struct {
				VideoURL string `json:"video_url"`
			} `json:"automation_session"`
		}
		req, err := b.api.NewRequest(http.MethodGet, b.sessionURL(), nil)
		if err != nil {
			return "", err
		}
		if err := b.api.Do(req.WithContext(ctx), &resp); err != nil {
			return "", err
		}
		if url := resp.AutomationSession.VideoURL; url != "" {
			return url, nil
		}

		select {
		case <-ctx.Done():
			return "", core.ErrTimeout.WithMessage("timed out waiting for session video")
		case <-ticker.C:
		}
	}
}

func (b *BrowserStack) fetchVideo(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(b.api.username, b.api.accessKey)

	resp, err := b.api.uploads.Do(req)
	if err != nil {
		return nil, core.ErrProviderRejected.WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, core.ErrProviderRejected.WithMessage(
			fmt.Sprintf("video download returned %d", resp.StatusCode))
	}
	return resp.Body, nil
}

func (b *BrowserStack) sessionURL() string {
	return b.apiBase + "/sessions/" + b.sessionID + ".json"
}
