package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	conf := Default()
	drive, err := conf.SelectedDrive()
	if err != nil {
		t.Fatalf("SelectedDrive() error: %v", err)
	}
	if drive.Name != "3.5" || drive.Cyls != 80 || drive.Heads != 2 || drive.RPM != 300 {
		t.Errorf("default drive = %+v", drive)
	}
	if conf.Capture.Revolutions != 3 || conf.Capture.Format != "scp" {
		t.Errorf("capture = %+v", conf.Capture)
	}
	if conf.PLL.Clock != 0 || conf.PLL.WeakRun != 4 {
		t.Errorf("pll = %+v", conf.PLL)
	}
}

const validConfig = `
default = "a"

[[drive]]
name = "a"
cyls = 40
heads = 1
rpm = 300
maxkbps = 250

[pll]
clock = 4.0
max_adjust = 0.1
clock_gain = 0.05
phase_gain = 0.6
weak_run = 6

[capture]
revolutions = 5
format = "hfe"
`

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name    string
		replace [2]string
		want    string
	}{
		{"syntax", [2]string{"cyls = 40", "cyls = "}, "parse"},
		{"no default", [2]string{`default = "a"`, ""}, "default"},
		{"unknown drive", [2]string{`default = "a"`, `default = "b"`}, "not found"},
		{"zero cyls", [2]string{"cyls = 40", "cyls = 0"}, "cyls"},
		{"three heads", [2]string{"heads = 1", "heads = 3"}, "heads"},
		{"zero rpm", [2]string{"rpm = 300", "rpm = 0"}, "rpm"},
		{"zero rate", [2]string{"maxkbps = 250", "maxkbps = 0"}, "maxkbps"},
		{"negative clock", [2]string{"clock = 4.0", "clock = -1.0"}, "clock"},
		{"adjust", [2]string{"max_adjust = 0.1", "max_adjust = 1.5"}, "max_adjust"},
		{"gain", [2]string{"phase_gain = 0.6", "phase_gain = 2.0"}, "gains"},
		{"weak run", [2]string{"weak_run = 6", "weak_run = -1"}, "weak_run"},
		{"revolutions", [2]string{"revolutions = 5", "revolutions = 0"}, "revolutions"},
		{"format", [2]string{`format = "hfe"`, `format = "img"`}, "format"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := strings.Replace(validConfig, tc.replace[0], tc.replace[1], 1)
			_, err := Parse([]byte(data))
			if err == nil {
				t.Fatalf("Parse() accepted the config")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestInitializeFrom(t *testing.T) {
	dir := t.TempDir()

	// Missing file is created from the embedded default
	path := filepath.Join(dir, "sub", ".floppyflux")
	if err := InitializeFrom(path); err != nil {
		t.Fatalf("InitializeFrom() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if string(data) != string(defaultConfigData) {
		t.Errorf("written config differs from the default")
	}
	if DriveName != "3.5" || Cyls != 80 || Capture.Format != "scp" {
		t.Errorf("globals = %q %d %q", DriveName, Cyls, Capture.Format)
	}

	// An existing file is used as is
	custom := filepath.Join(dir, "custom.toml")
	if err := os.WriteFile(custom, []byte(validConfig), 0644); err != nil {
		t.Fatal(err)
	}
	if err := InitializeFrom(custom); err != nil {
		t.Fatalf("InitializeFrom() error: %v", err)
	}
	if DriveName != "a" || Cyls != 40 || Heads != 1 || MaxKBps != 250 {
		t.Errorf("drive globals = %q %d %d %d", DriveName, Cyls, Heads, MaxKBps)
	}
	if PLL.Clock != 4.0 || PLL.PhaseGain != 0.6 || Capture.Revolutions != 5 {
		t.Errorf("settings = %+v %+v", PLL, Capture)
	}

	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("default = 1"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := InitializeFrom(bad); err == nil {
		t.Errorf("InitializeFrom() accepted a bad config")
	}
}
