package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
	"github.com/bheemreddy-samsara/appwright/pkg/logger"
)

// defaultLocalEndpoint is where a stock Appium 2 server listens.
const defaultLocalEndpoint = "http://127.0.0.1:4723"

// Emulator runs sessions against a locally booted Android emulator or iOS
// simulator through a local Appium server. It never boots devices itself;
// Setup only verifies one is ready.
type Emulator struct {
	opts   Options
	logger logrus.FieldLogger
	udid   string
}

// NewEmulator creates the local device provider.
func NewEmulator(opts Options) *Emulator {
	log := opts.Logger
	if log == nil {
		log = logger.New("provider")
	}
	return &Emulator{
		opts:   opts,
		logger: log.WithField("provider", "emulator"),
	}
}

// Name identifies the provider in config and logs.
func (e *Emulator) Name() string { return "emulator" }

// UDID returns the device picked by Setup.
func (e *Emulator) UDID() string { return e.udid }

// Setup picks a booted local device. DeviceName narrows the choice to an
// adb serial or a simulator name; otherwise the first booted device wins.
func (e *Emulator) Setup(ctx context.Context) error {
	if e.opts.Platform == "ios" {
		return e.setupIOS(ctx)
	}
	return e.setupAndroid(ctx)
}

func (e *Emulator) setupAndroid(ctx context.Context) error {
	adbPath, err := findADB()
	if err != nil {
		return core.ErrInvalidConfig.WithCause(err)
	}

	serial := e.opts.DeviceName
	if serial == "" {
		devices, err := ListAndroidDevices(ctx)
		if err != nil {
			return err
		}
		for _, dev := range devices {
			if dev.State == "device" {
				serial = dev.Serial
				break
			}
		}
		if serial == "" {
			return core.ErrInvalidConfig.WithMessage(
				"no connected Android devices; boot an emulator or attach a device first")
		}
	}

	// State "device" is not enough: the framework may still be starting.
	out, err := exec.CommandContext(ctx, adbPath, "-s", serial,
		"shell", "getprop", "sys.boot_completed").Output()
	if err != nil || strings.TrimSpace(string(out)) != "1" {
		return core.ErrInvalidConfig.WithMessage(
			fmt.Sprintf("Android device %s is not fully booted", serial))
	}

	e.udid = serial
	e.logger.WithField("serial", serial).Info("using Android device")
	return nil
}

func (e *Emulator) setupIOS(ctx context.Context) error {
	sims, err := ListSimulators(ctx)
	if err != nil {
		return err
	}

	sim, ok := pickSimulator(sims, e.opts.DeviceName)
	if !ok {
		if e.opts.DeviceName != "" {
			return core.ErrInvalidConfig.WithMessage(
				fmt.Sprintf("no booted simulator named %q", e.opts.DeviceName))
		}
		return core.ErrInvalidConfig.WithMessage(
			"no booted iOS simulators; boot one with xcrun simctl boot first")
	}

	e.udid = sim.UDID
	e.logger.WithFields(logrus.Fields{
		"name": sim.Name,
		"udid": sim.UDID,
	}).Info("using iOS simulator")
	return nil
}

// Capabilities returns capabilities for a local Appium session.
func (e *Emulator) Capabilities() map[string]interface{} {
	caps := map[string]interface{}{
		"platformName":             platformName(e.opts.Platform),
		"appium:automationName":    automationName(e.opts.Platform),
		"appium:newCommandTimeout": 240,
	}
	if e.udid != "" {
		caps["appium:udid"] = e.udid
	}
	if e.opts.AppPath != "" {
		caps["appium:app"] = e.opts.AppPath
	}
	if e.opts.Platform != "ios" {
		caps["appium:autoGrantPermissions"] = true
	}
	return caps
}

// Endpoint returns the WebDriver hub URL.
func (e *Emulator) Endpoint() string {
	if e.opts.Endpoint != "" {
		return e.opts.Endpoint
	}
	return defaultLocalEndpoint
}

// SyncTestDetails is a no-op; local devices have no dashboard.
func (e *Emulator) SyncTestDetails(ctx context.Context, details core.TestDetails) error {
	e.logger.WithFields(logrus.Fields{
		"test":   details.Name,
		"status": details.Status,
	}).Debug("test finished on local device")
	return nil
}

// AndroidDevice is one row of adb devices output.
type AndroidDevice struct {
	Serial string
	State  string // device, offline, unauthorized
}

// ListAndroidDevices returns all adb-visible devices, booted or not.
func ListAndroidDevices(ctx context.Context) ([]AndroidDevice, error) {
	adbPath, err := findADB()
	if err != nil {
		return nil, err
	}

	out, err := exec.CommandContext(ctx, adbPath, "devices").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return parseAdbDevices(string(out)), nil
}

// parseAdbDevices parses adb devices output, one device per line after the
// header.
func parseAdbDevices(out string) []AndroidDevice {
	var devices []AndroidDevice
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		devices = append(devices, AndroidDevice{Serial: parts[0], State: parts[1]})
	}
	return devices
}

// Simulator is one device from xcrun simctl list output.
type Simulator struct {
	Name      string
	UDID      string
	State     string // Booted, Shutdown
	OSVersion string
}

// simctlListOutput represents the JSON output of xcrun simctl list devices.
type simctlListOutput struct {
	Devices map[string][]simctlDevice `json:"devices"`
}

type simctlDevice struct {
	Name        string `json:"name"`
	UDID        string `json:"udid"`
	State       string `json:"state"`
	IsAvailable bool   `json:"isAvailable"`
}

// ListSimulators returns all available iOS simulators.
func ListSimulators(ctx context.Context) ([]Simulator, error) {
	if _, err := exec.LookPath("xcrun"); err != nil {
		return nil, core.ErrInvalidConfig.WithMessage(
			"xcrun not found; install Xcode Command Line Tools: xcode-select --install")
	}

	out, err := exec.CommandContext(ctx, "xcrun", "simctl", "list", "devices", "available", "-j").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list simulators: %w", err)
	}
	return parseSimctlList(out)
}

func parseSimctlList(data []byte) ([]Simulator, error) {
	var parsed simctlListOutput
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse simctl output: %w", err)
	}

	var sims []Simulator
	for runtime, devices := range parsed.Devices {
		osVersion := extractRuntimeVersion(runtime)
		for _, dev := range devices {
			if !dev.IsAvailable {
				continue
			}
			sims = append(sims, Simulator{
				Name:      dev.Name,
				UDID:      dev.UDID,
				State:     dev.State,
				OSVersion: osVersion,
			})
		}
	}
	return sims, nil
}

// pickSimulator chooses a booted simulator, by name or UDID when given.
func pickSimulator(sims []Simulator, name string) (Simulator, bool) {
	for _, sim := range sims {
		if sim.State != "Booted" {
			continue
		}
		if name == "" || sim.Name == name || sim.UDID == name {
			return sim, true
		}
	}
	return Simulator{}, false
}

// extractRuntimeVersion extracts the version from a runtime identifier,
// e.g. "com.apple.CoreSimulator.SimRuntime.iOS-17-2" becomes "17.2".
func extractRuntimeVersion(runtime string) string {
	for _, prefix := range []string{"iOS-", "watchOS-", "tvOS-", "xrOS-"} {
		idx := strings.LastIndex(runtime, prefix)
		if idx == -1 {
			continue
		}
		version := runtime[idx+len(prefix):]
		return strings.ReplaceAll(version, "-", ".")
	}
	return ""
}

// findADB locates the adb binary via PATH or the Android SDK env vars.
func findADB() (string, error) {
	if path, err := exec.LookPath("adb"); err == nil {
		return path, nil
	}

	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT", "ANDROID_SDK_HOME"} {
		home := os.Getenv(env)
		if home == "" {
			continue
		}
		adbPath := filepath.Join(home, "platform-tools", "adb")
		if _, err := os.Stat(adbPath); err == nil {
			return adbPath, nil
		}
	}

	return "", fmt.Errorf("adb not found in PATH; ensure the Android SDK is installed")
}
