package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/devicefarm"
	dftypes "github.com/aws/aws-sdk-go-v2/service/devicefarm/types"
	"github.com/aws/smithy-go"
	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
	"github.com/bheemreddy-samsara/appwright/pkg/logger"
)

const (
	// deviceFarmRegion is the only region AWS Device Farm runs in.
	deviceFarmRegion = "us-west-2"

	// uploadPollInterval is how often to re-check upload processing.
	uploadPollInterval = 2 * time.Second

	// gridURLExpiry is the lifetime requested for the WebDriver endpoint
	// URL, the API maximum.
	gridURLExpiry int32 = 86400
)

// deviceFarmAPI is the slice of the Device Farm SDK this provider uses.
type deviceFarmAPI interface {
	CreateUpload(ctx context.Context, params *devicefarm.CreateUploadInput, optFns ...func(*devicefarm.Options)) (*devicefarm.CreateUploadOutput, error)
	GetUpload(ctx context.Context, params *devicefarm.GetUploadInput, optFns ...func(*devicefarm.Options)) (*devicefarm.GetUploadOutput, error)
	CreateTestGridUrl(ctx context.Context, params *devicefarm.CreateTestGridUrlInput, optFns ...func(*devicefarm.Options)) (*devicefarm.CreateTestGridUrlOutput, error)
}

type deviceFarmEnv struct {
	ProjectArn  null.String `envconfig:"DEVICEFARM_PROJECT_ARN"`
	TestGridArn null.String `envconfig:"DEVICEFARM_TEST_GRID_ARN"`
	Region      null.String `envconfig:"DEVICEFARM_REGION"`
}

// DeviceFarm provisions sessions on AWS Device Farm. The project ARN comes
// from DEVICEFARM_PROJECT_ARN; AWS credentials resolve through the default
// SDK chain.
type DeviceFarm struct {
	opts   Options
	logger logrus.FieldLogger
	env    deviceFarmEnv
	client deviceFarmAPI
	httpc  *http.Client

	appArn  string
	gridURL string
}

// NewDeviceFarm creates the Device Farm provider. The SDK client is built
// lazily in Setup so construction never touches AWS.
func NewDeviceFarm(opts Options) *DeviceFarm {
	return NewDeviceFarmWithClient(opts, nil)
}

// NewDeviceFarmWithClient injects a Device Farm API client, for tests.
func NewDeviceFarmWithClient(opts Options, client deviceFarmAPI) *DeviceFarm {
	log := opts.Logger
	if log == nil {
		log = logger.New("provider")
	}

	var env deviceFarmEnv
	_ = envconfig.Process("", &env)

	return &DeviceFarm{
		opts:   opts,
		logger: log.WithField("provider", "device-farm"),
		env:    env,
		client: client,
		httpc:  &http.Client{Timeout: uploadTimeout},
	}
}

// Name identifies the provider in config and logs.
func (d *DeviceFarm) Name() string { return "device-farm" }

// AppArn returns the uploaded app's ARN, empty before Setup.
func (d *DeviceFarm) AppArn() string { return d.appArn }

// Setup uploads the app build and mints the WebDriver endpoint URL. An
// AppPath that is already an arn: reference skips the upload.
func (d *DeviceFarm) Setup(ctx context.Context) error {
	if !d.env.ProjectArn.Valid || d.env.ProjectArn.String == "" {
		return core.ErrMissingRequired.WithMessage(
			"Device Farm project missing; set DEVICEFARM_PROJECT_ARN")
	}

	client, err := d.resolveClient(ctx)
	if err != nil {
		return core.ErrInvalidConfig.WithCause(err)
	}

	if strings.HasPrefix(d.opts.AppPath, "arn:") {
		d.appArn = d.opts.AppPath
	} else if d.opts.AppPath != "" {
		if err := d.uploadApp(ctx, client); err != nil {
			return err
		}
	}

	return d.mintGridURL(ctx, client)
}

func (d *DeviceFarm) resolveClient(ctx context.Context) (deviceFarmAPI, error) {
	if d.client != nil {
		return d.client, nil
	}

	region := deviceFarmRegion
	if d.env.Region.Valid && d.env.Region.String != "" {
		region = d.env.Region.String
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	d.client = devicefarm.NewFromConfig(awsCfg)
	return d.client, nil
}

// uploadApp registers the upload, PUTs the build to the presigned URL, and
// polls until Device Farm finishes processing it.
func (d *DeviceFarm) uploadApp(ctx context.Context, client deviceFarmAPI) error {
	d.logger.WithField("app", d.opts.AppPath).Info("uploading app build")

	created, err := client.CreateUpload(ctx, &devicefarm.CreateUploadInput{
		ProjectArn:  aws.String(d.env.ProjectArn.String),
		Name:        aws.String(filepath.Base(d.opts.AppPath)),
		Type:        uploadTypeFor(d.opts.Platform),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return deviceFarmError(err)
	}
	if created.Upload == nil || created.Upload.Url == nil {
		return core.ErrUploadFailed.WithMessage("CreateUpload returned no presigned URL")
	}

	if err := d.putBuild(ctx, aws.ToString(created.Upload.Url)); err != nil {
		return err
	}

	arn := aws.ToString(created.Upload.Arn)
	if err := d.waitForUpload(ctx, client, arn); err != nil {
		return err
	}

	d.appArn = arn
	d.logger.WithField("arn", arn).Info("app build uploaded")
	return nil
}

func (d *DeviceFarm) putBuild(ctx context.Context, url string) error {
	file, err := os.Open(d.opts.AppPath)
	if err != nil {
		return core.ErrUploadFailed.WithCause(err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return core.ErrUploadFailed.WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, file)
	if err != nil {
		return core.ErrUploadFailed.WithCause(err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.httpc.Do(req)
	if err != nil {
		return core.ErrUploadFailed.WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.ErrUploadFailed.WithMessage(
			fmt.Sprintf("presigned upload returned %d", resp.StatusCode))
	}
	return nil
}

func (d *DeviceFarm) waitForUpload(ctx context.Context, client deviceFarmAPI, arn string) error {
	ticker := time.NewTicker(uploadPollInterval)
	defer ticker.Stop()

	for {
		got, err := client.GetUpload(ctx, &devicefarm.GetUploadInput{Arn: aws.String(arn)})
		if err != nil {
			return deviceFarmError(err)
		}
		if got.Upload != nil {
			switch got.Upload.Status {
			case dftypes.UploadStatusSucceeded:
				return nil
			case dftypes.UploadStatusFailed:
				return core.ErrUploadFailed.WithMessage(
					fmt.Sprintf("Device Farm rejected the build: %s", aws.ToString(got.Upload.Metadata)))
			}
		}

		select {
		case <-ctx.Done():
			return core.ErrTimeout.WithMessage("timed out waiting for upload processing")
		case <-ticker.C:
		}
	}
}

func (d *DeviceFarm) mintGridURL(ctx context.Context, client deviceFarmAPI) error {
	projectArn := d.env.ProjectArn.String
	if d.env.TestGridArn.Valid && d.env.TestGridArn.String != "" {
		projectArn = d.env.TestGridArn.String
	}

	resp, err := client.CreateTestGridUrl(ctx, &devicefarm.CreateTestGridUrlInput{
		ProjectArn:       aws.String(projectArn),
		ExpiresInSeconds: aws.Int32(gridURLExpiry),
	})
	if err != nil {
		return deviceFarmError(err)
	}
	if resp.Url == nil || *resp.Url == "" {
		return core.ErrProviderRejected.WithMessage("CreateTestGridUrl returned no URL")
	}

	d.gridURL = *resp.Url
	return nil
}

// Capabilities returns capabilities for a Device Farm session.
func (d *DeviceFarm) Capabilities() map[string]interface{} {
	caps := map[string]interface{}{
		"platformName":          platformName(d.opts.Platform),
		"appium:automationName": automationName(d.opts.Platform),
	}
	if d.appArn != "" {
		caps["appium:app"] = d.appArn
	}
	if d.opts.DeviceName != "" {
		caps["appium:deviceName"] = d.opts.DeviceName
	}
	if d.opts.OSVersion != "" {
		caps["appium:platformVersion"] = d.opts.OSVersion
	}
	return caps
}

// Endpoint returns the signed WebDriver URL minted by Setup.
func (d *DeviceFarm) Endpoint() string {
	if d.opts.Endpoint != "" {
		return d.opts.Endpoint
	}
	return d.gridURL
}

// SyncTestDetails logs the outcome. Device Farm has no per-test status API.
func (d *DeviceFarm) SyncTestDetails(ctx context.Context, details core.TestDetails) error {
	d.logger.WithFields(logrus.Fields{
		"test":   details.Name,
		"status": details.Status,
	}).Debug("test finished on Device Farm")
	return nil
}

// deviceFarmError maps SDK errors onto the provider error codes.
func deviceFarmError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return core.ErrProviderRejected.WithMessage(
			fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage()))
	}
	return core.ErrProviderRejected.WithCause(err)
}

func uploadTypeFor(platform string) dftypes.UploadType {
	if platform == "ios" {
		return dftypes.UploadTypeIosApp
	}
	return dftypes.UploadTypeAndroidApp
}
