package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/bheemreddy-samsara/appwright/pkg/config"
	"github.com/bheemreddy-samsara/appwright/pkg/driver"
	"github.com/bheemreddy-samsara/appwright/pkg/logger"
	"github.com/bheemreddy-samsara/appwright/pkg/provider"
)

var doctorCommand = &cli.Command{
	Name:  "doctor",
	Usage: "Check the local setup and provider configuration",
	Description: `Verify that appwright can run tests with the current configuration:
the config file parses and validates, the Appium server answers (local
provider), cloud credentials are present, and the app binary exists.

Examples:
  appwright doctor
  appwright -c configs/ci.yaml doctor`,
	Action: runDoctor,
}

func runDoctor(c *cli.Context) error {
	initLogging(c)
	defer logger.Close()

	green := getColor(color.NoColor, color.FgGreen)
	red := getColor(color.NoColor, color.FgRed)

	fmt.Println("Checking appwright setup...")
	fmt.Println()

	cfg, err := loadConfig(c)
	if err != nil {
		fmt.Printf("  %s %-16s %v\n", red.Sprint("✗"), "configuration", err)
		return fmt.Errorf("1 of 1 checks failed")
	}

	failed := 0
	total := 0
	report := func(name string, err error, detail string) {
		total++
		if err != nil {
			failed++
			fmt.Printf("  %s %-16s %v\n", red.Sprint("✗"), name, err)
			return
		}
		fmt.Printf("  %s %-16s %s\n", green.Sprint("✓"), name, detail)
	}

	report("configuration", cfg.Validate(), describeConfig(cfg))

	switch cfg.Provider {
	case "", "emulator", "local":
		detail, err := checkDriverServer(cfg)
		report("appium server", err, detail)

		detail, err = checkLocalDevices(c.Context, cfg.Platform)
		report("devices", err, detail)
	case "browserstack":
		report("credentials",
			checkCredentials("BROWSERSTACK_USERNAME", "BROWSERSTACK_ACCESS_KEY"),
			"BrowserStack credentials present")
	case "lambdatest":
		report("credentials",
			checkCredentials("LT_USERNAME", "LT_ACCESS_KEY"),
			"LambdaTest credentials present")
	case "device-farm", "devicefarm":
		report("credentials",
			checkCredentials("DEVICEFARM_PROJECT_ARN"),
			"Device Farm project configured")
	}

	report("app binary", checkApp(cfg), describeApp(cfg))

	fmt.Println()
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, total)
	}
	fmt.Println(green.Sprint("All checks passed."))
	return nil
}

func describeConfig(cfg *config.Config) string {
	platform := cfg.Platform
	if platform == "" {
		platform = "android"
	}
	prov := cfg.Provider
	if prov == "" {
		prov = "emulator"
	}
	return fmt.Sprintf("%s on %s", platform, prov)
}

// checkDriverServer probes the Appium /status endpoint of the local provider.
func checkDriverServer(cfg *config.Config) (string, error) {
	prov, err := provider.New(cfg.Provider, cfg.ProviderOptions(logger.New("doctor")))
	if err != nil {
		return "", err
	}

	endpoint := prov.Endpoint()
	client := driver.NewClient(endpoint, logger.New("doctor"))
	if _, err := client.Status(); err != nil {
		return "", fmt.Errorf("no Appium server answering at %s (start one with: appium)", endpoint)
	}
	return endpoint, nil
}

func checkLocalDevices(ctx context.Context, platform string) (string, error) {
	if platform == "ios" {
		sims, err := provider.ListSimulators(ctx)
		if err != nil {
			return "", err
		}
		booted := 0
		for _, s := range sims {
			if s.State == "Booted" {
				booted++
			}
		}
		if booted == 0 {
			return "", fmt.Errorf("no booted simulators; start one with: xcrun simctl boot <name>")
		}
		return fmt.Sprintf("%d booted simulator(s)", booted), nil
	}

	devices, err := provider.ListAndroidDevices(ctx)
	if err != nil {
		return "", err
	}
	ready := 0
	for _, d := range devices {
		if d.State == "device" {
			ready++
		}
	}
	if ready == 0 {
		return "", fmt.Errorf("no connected devices; start an emulator or plug in a device")
	}
	return fmt.Sprintf("%d connected device(s)", ready), nil
}

func checkCredentials(vars ...string) error {
	var missing []string
	for _, v := range vars {
		if os.Getenv(v) == "" {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("set %s", strings.Join(missing, " and "))
	}
	return nil
}

func checkApp(cfg *config.Config) error {
	if cfg.App == "" || isRemoteApp(cfg.App) {
		return nil
	}
	if _, err := os.Stat(cfg.App); err != nil {
		return fmt.Errorf("app binary not found: %s", cfg.App)
	}
	return nil
}

func describeApp(cfg *config.Config) string {
	switch {
	case cfg.App == "":
		return "none configured (tests run against the installed app)"
	case isRemoteApp(cfg.App):
		return cfg.App + " (already uploaded)"
	default:
		return cfg.App
	}
}

// isRemoteApp reports whether the app value references an already uploaded
// build (bs://, lt://) or a Device Farm upload ARN instead of a local file.
func isRemoteApp(app string) bool {
	return strings.Contains(app, "://") || strings.HasPrefix(app, "arn:")
}
