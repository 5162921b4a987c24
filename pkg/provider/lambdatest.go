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
	lambdaTestUploadURL = "https://manual-api.lambdatest.com/app/upload/realDevice"
	lambdaTestAPIBase   = "https://mobile-api.lambdatest.com/mobile-automation/api/v1"
	lambdaTestHub       = "https://mobile-hub.lambdatest.com/wd/hub"
)

type lambdaTestEnv struct {
	Username  null.String `envconfig:"LT_USERNAME"`
	AccessKey null.String `envconfig:"LT_ACCESS_KEY"`
}

// LambdaTest provisions sessions on LambdaTest real devices. Credentials
// come from LT_USERNAME and LT_ACCESS_KEY.
type LambdaTest struct {
	opts   Options
	logger logrus.FieldLogger
	api    *apiClient

	uploadURL string
	apiBase   string
	hub       string
	appURL    string
	sessionID string
}

// NewLambdaTest creates the LambdaTest provider. Credentials are validated
// in Setup, not here.
func NewLambdaTest(opts Options) *LambdaTest {
	log := opts.Logger
	if log == nil {
		log = logger.New("provider")
	}
	log = log.WithField("provider", "lambdatest")

	var env lambdaTestEnv
	_ = envconfig.Process("", &env)

	return &LambdaTest{
		opts:      opts,
		logger:    log,
		api:       newAPIClient(env.Username.String, env.AccessKey.String, log),
		uploadURL: lambdaTestUploadURL,
		apiBase:   lambdaTestAPIBase,
		hub:       lambdaTestHub,
	}
}

// Name identifies the provider in config and logs.
func (l *LambdaTest) Name() string { return "lambdatest" }

// SessionID returns the bound WebDriver session, empty before BindSession.
func (l *LambdaTest) SessionID() string { return l.sessionID }

// BindSession points status sync and video download at a WebDriver session.
// Call it right after the session is created.
func (l *LambdaTest) BindSession(sessionID string) {
	l.sessionID = sessionID
}

// Setup validates credentials and uploads the app build. An AppPath that is
// already an lt:// reference skips the upload.
func (l *LambdaTest) Setup(ctx context.Context) error {
	if l.api.username == "" || l.api.accessKey == "" {
		return core.ErrMissingRequired.WithMessage(
			"LambdaTest credentials missing; set LT_USERNAME and LT_ACCESS_KEY")
	}
	if isUploadRef(l.opts.AppPath, "lt") {
		l.appURL = l.opts.AppPath
		return nil
	}
	if l.opts.AppPath == "" {
		return core.ErrMissingRequired.WithMessage("LambdaTest needs an app build path or lt:// reference")
	}
	return l.uploadApp(ctx)
}

func (l *LambdaTest) uploadApp(ctx context.Context) error {
	l.logger.WithField("app", l.opts.AppPath).Info("uploading app build")

	req, err := uploadForm(l.uploadURL, "appFile", l.opts.AppPath, nil)
	if err != nil {
		return core.ErrUploadFailed.WithCause(err)
	}

	var resp struct {
		AppURL string `json:"app_url"`
	}
	if err := l.api.DoUpload(req.WithContext(ctx), &resp); err != nil {
		return core.ErrUploadFailed.WithCause(err)
	}
	if resp.AppURL == "" {
		return core.ErrUploadFailed.WithMessage("upload response carried no app_url")
	}

	l.appURL = resp.AppURL
	l.logger.WithField("app_url", l.appURL).Info("app build uploaded")
	return nil
}

// Capabilities returns the lt:options capability set.
func (l *LambdaTest) Capabilities() map[string]interface{} {
	lt := map[string]interface{}{
		"username":             l.api.username,
		"accessKey":            l.api.accessKey,
		"app":                  l.appURL,
		"isRealMobile":         true,
		"video":                true,
		"devicelog":            true,
		"autoGrantPermissions": true,
		"w3c":                  true,
	}
	if l.opts.DeviceName != "" {
		lt["deviceName"] = l.opts.DeviceName
	}
	if l.opts.OSVersion != "" {
		lt["platformVersion"] = l.opts.OSVersion
	}
	if l.opts.Build != "" {
		lt["build"] = l.opts.Build
	}

	return map[string]interface{}{
		"platformName":          platformName(l.opts.Platform),
		"appium:automationName": automationName(l.opts.Platform),
		"lt:options":            lt,
	}
}

// Endpoint returns the LambdaTest mobile WebDriver hub.
func (l *LambdaTest) Endpoint() string {
	if l.opts.Endpoint != "" {
		return l.opts.Endpoint
	}
	return l.hub
}

// SyncTestDetails pushes attempt status to the session on the LambdaTest
// dashboard. Before the attempt has an outcome only the session name is set.
func (l *LambdaTest) SyncTestDetails(ctx context.Context, details core.TestDetails) error {
	if l.sessionID == "" {
		return core.ErrSessionLost.WithMessage("no LambdaTest session bound")
	}

	body := map[string]string{"name": details.Name}
	if ind := statusIndicator(details.Status); ind != "" {
		body["status_ind"] = ind
	}

	req, err := l.api.NewRequest(http.MethodPatch, l.sessionURL(), body)
	if err != nil {
		return err
	}
	return l.api.Do(req.WithContext(ctx), nil)
}

// DownloadVideo fetches the session recording. LambdaTest processes the
// video after the session ends; the context bounds how long to wait for it.
func (l *LambdaTest) DownloadVideo(ctx context.Context) (io.ReadCloser, error) {
	if l.sessionID == "" {
		return nil, core.ErrSessionLost.WithMessage("no LambdaTest session bound")
	}

	videoURL, err := l.waitForVideoURL(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(l.api.username, l.api.accessKey)

	resp, err := l.api.uploads.Do(req)
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

func (l *LambdaTest) waitForVideoURL(ctx context.Context) (string, error) {
	ticker := time.NewTicker(videoPollInterval)
	defer ticker.Stop()

	for {
		var resp struct {
			Data struct {
				VideoURL string `json:"video_url"`
			} `json:"data"`
		}
		req, err := l.api.NewRequest(http.MethodGet, l.sessionURL(), nil)
		if err != nil {
			return "", err
		}
		if err := l.api.Do(req.WithContext(ctx), &resp); err != nil {
			return "", err
		}
		if url := resp.Data.VideoURL; url != "" {
			return url, nil
		}

		select {
		case <-ctx.Done():
			return "", core.ErrTimeout.WithMessage("timed out waiting for session video")
		case <-ticker.C:
		}
	}
}

func (l *LambdaTest) sessionURL() string {
	return l.apiBase + "/sessions/" + l.sessionID
}
