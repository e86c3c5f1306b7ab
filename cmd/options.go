package cmd

import (
	"path/filepath"
	"strings"

	"github.com/sergev/floppyflux/config"
	"github.com/sergev/floppyflux/disk"
	"github.com/sergev/floppyflux/flux"
	"github.com/sergev/floppyflux/geom"
)

// loadOptions merges the --clock flag over the [pll] settings.
// Clocks are given in microseconds.
func loadOptions(clockFlag float64, pll config.PLLConfig, rpm int) disk.LoadOptions {
	clock := pll.Clock
	if clockFlag > 0 {
		clock = clockFlag
	}
	return disk.LoadOptions{
		ClockHint: clock * 1e-6,
		RPM:       geom.RPM(rpm),
		WeakRun:   pll.WeakRun,
		Tuning: flux.Tuning{
			ClockGain: pll.ClockGain,
			PhaseGain: pll.PhaseGain,
			MaxAdjust: pll.MaxAdjust,
		},
	}
}

func captureRevs(flag, configured int) int {
	if flag > 0 {
		return flag
	}
	return configured
}

// captureDest names the output of a capture. A destination without a
// known extension gets the configured one.
func captureDest(dest, format string) string {
	if dest == "" {
		dest = "floppy"
	}
	switch disk.DetectFormat(dest) {
	case disk.FormatSCP, disk.FormatHFE:
		return dest
	}
	return strings.TrimSuffix(dest, filepath.Ext(dest)) + "." + format
}

func currentOptions() disk.LoadOptions {
	return loadOptions(settings.GetFloat64("clock"), config.PLL, 0)
}
