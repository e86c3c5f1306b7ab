package geom

import "testing"

func TestRPMFromIndexTime(t *testing.T) {
	testCases := []struct {
		name    string
		seconds float64
		want    RPM
		ok      bool
	}{
		{"nominal 300", 0.2, Rpm300, true},
		{"slow 300", 0.22, Rpm300, true},
		{"nominal 360", 60.0 / 360, Rpm360, true},
		{"too slow", 0.3, 0, false},
		{"too fast", 0.1, 0, false},
		{"zero", 0, 0, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := RPMFromIndexTime(tc.seconds)
			if got != tc.want || ok != tc.ok {
				t.Errorf("RPMFromIndexTime(%v) = (%v, %v), want (%v, %v)", tc.seconds, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestDataRateFromBitsPerSecond(t *testing.T) {
	testCases := []struct {
		bps  float64
		want DataRate
		ok   bool
	}{
		{250_000, Rate250K, true},
		{262_000, Rate250K, true},
		{300_500, Rate300K, true},
		{498_000, Rate500K, true},
		{125_000, Rate125K, true},
		{1_000_000, Rate1M, true},
		{700_000, DataRate(700_000), false},
	}
	for _, tc := range testCases {
		got, ok := DataRateFromBitsPerSecond(tc.bps)
		if got != tc.want || ok != tc.ok {
			t.Errorf("DataRateFromBitsPerSecond(%v) = (%v, %v), want (%v, %v)", tc.bps, got, ok, tc.want, tc.ok)
		}
	}
}

func TestBaseClock(t *testing.T) {
	if got := DensityDouble.BaseClock(Rpm300); got != 2e-6 {
		t.Errorf("DD clock = %v", got)
	}
	if got := Rpm360.AdjustClock(2e-6); got < 1.66e-6 || got > 1.67e-6 {
		t.Errorf("DD clock at 360 RPM = %v", got)
	}
	if got := Rpm360.AdjustClock(1e-6); got != 1e-6 {
		t.Errorf("HD clock adjusted to %v", got)
	}
	if d, ok := DensityFromBaseClock(1e-6); !ok || d != DensityHigh {
		t.Errorf("DensityFromBaseClock(1us) = %v", d)
	}
}

func TestSectorSize(t *testing.T) {
	for n := uint8(0); n < 7; n++ {
		if SizeCode(SectorSize(n)) != n {
			t.Errorf("size code %d does not round trip", n)
		}
	}
	if SectorSize(2) != 512 {
		t.Errorf("SectorSize(2) = %d", SectorSize(2))
	}
}
