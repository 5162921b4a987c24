// Package cli provides the command-line interface for appwright.
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/bheemreddy-samsara/appwright/pkg/config"
	"github.com/bheemreddy-samsara/appwright/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to appwright.yaml (default: search the working directory)",
		EnvVars: []string{"APPWRIGHT_CONFIG"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"APPWRIGHT_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	},
}

// Execute runs the CLI.
func Execute() {
	app := &cli.App{
		Name:    "appwright",
		Usage:   "End-to-end test tooling for mobile apps",
		Version: Version,
		Description: `Appwright drives native apps on local emulators and simulators or on
device clouds (BrowserStack, LambdaTest, AWS Device Farm) through an
Appium-compatible endpoint. Tests are ordinary Go tests; appwright adds
device setup, action tracing and report generation around them.

Examples:
  appwright doctor
  appwright devices
  appwright -c configs/appwright.yaml doctor`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			doctorCommand,
			devicesCommand,
			versionCommand,
		},
		Before: applyGlobalFlags,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Print the appwright version",
	Action: func(c *cli.Context) error {
		fmt.Printf("appwright %s\n", Version)
		return nil
	},
}

func applyGlobalFlags(c *cli.Context) error {
	if c.Bool("no-color") {
		color.NoColor = true
	}
	return nil
}

// loadConfig resolves the project configuration from --config or, when the
// flag is absent, from appwright.yaml in the working directory.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.LoadFromDir(dir)
}

// initLogging points the file logger at the appwright home directory. A
// failure is reported but does not abort the command.
func initLogging(c *cli.Context) {
	if err := logger.Init(config.LogPath()); err != nil {
		fmt.Printf("Warning: failed to initialize logger: %v\n", err)
	}
	logger.SetVerbose(c.Bool("verbose"))
}

// getColor returns a color for terminal output, disabled when colors are
// turned off globally.
func getColor(noColor bool, attributes ...color.Attribute) *color.Color {
	if noColor {
		c := color.New()
		c.DisableColor()
		return c
	}
	return color.New(attributes...)
}
