package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/bheemreddy-samsara/appwright/pkg/provider"
)

var devicesCommand = &cli.Command{
	Name:  "devices",
	Usage: "List connected Android devices and booted iOS simulators",
	Description: `List the local devices appwright can run tests on: Android devices and
emulators visible to adb, and booted iOS simulators.

Examples:
  appwright devices`,
	Action: runDevices,
}

func runDevices(c *cli.Context) error {
	ctx := c.Context
	cyan := getColor(color.NoColor, color.FgCyan)

	found := 0

	devices, adbErr := provider.ListAndroidDevices(ctx)
	if adbErr == nil && len(devices) > 0 {
		fmt.Println(cyan.Sprint("Android devices:"))
		for _, d := range devices {
			fmt.Printf("  %-28s %s\n", d.Serial, d.State)
			found++
		}
		fmt.Println()
	}

	sims, simErr := provider.ListSimulators(ctx)
	if simErr == nil {
		booted := make([]provider.Simulator, 0, len(sims))
		for _, s := range sims {
			if s.State == "Booted" {
				booted = append(booted, s)
			}
		}
		if len(booted) > 0 {
			fmt.Println(cyan.Sprint("iOS simulators:"))
			for _, s := range booted {
				fmt.Printf("  %-28s iOS %-8s %s\n", s.Name, s.OSVersion, s.UDID)
				found++
			}
			fmt.Println()
		}
	}

	if found == 0 {
		fmt.Println("No devices found.")
		if adbErr != nil {
			fmt.Printf("  android: %v\n", adbErr)
		}
		if simErr != nil {
			fmt.Printf("  ios: %v\n", simErr)
		}
		fmt.Println("Start an Android emulator or boot an iOS simulator and try again.")
	}
	return nil
}
