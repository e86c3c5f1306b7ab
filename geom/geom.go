// Package geom holds the addressing and timing value types shared by the
// codec, flux and image layers.
package geom

import "fmt"

// Ch addresses a physical track.
type Ch struct {
	Cyl  uint16
	Head uint8
}

func (ch Ch) String() string {
	return fmt.Sprintf("c:%d h:%d", ch.Cyl, ch.Head)
}

// Chs addresses a sector by its ID field.
type Chs struct {
	Cyl    uint16
	Head   uint8
	Sector uint8
}

func (c Chs) Ch() Ch {
	return Ch{Cyl: c.Cyl, Head: c.Head}
}

func (c Chs) String() string {
	return fmt.Sprintf("c:%d h:%d s:%d", c.Cyl, c.Head, c.Sector)
}

// Chsn is a full sector ID: address plus size code.
type Chsn struct {
	Chs
	N uint8
}

// Size returns the sector length in bytes for the size code.
func (c Chsn) Size() int {
	return SectorSize(c.N)
}

func (c Chsn) String() string {
	return fmt.Sprintf("c:%d h:%d s:%d n:%d", c.Cyl, c.Head, c.Sector, c.N)
}

// SectorSize converts an IBM size code to bytes. Codes above 7 are capped.
func SectorSize(n uint8) int {
	return 128 << min(n, 7)
}

// SizeCode converts a sector length to its IBM size code.
func SizeCode(size int) uint8 {
	var n uint8
	for 128<<n < size && n < 7 {
		n++
	}
	return n
}

// RPM is a nominal rotation speed.
type RPM int

const (
	Rpm300 RPM = 300
	Rpm360 RPM = 360
)

// RPMFromIndexTime classifies the time between index pulses, in seconds.
func RPMFromIndexTime(seconds float64) (RPM, bool) {
	if seconds <= 0 {
		return 0, false
	}
	rpm := 60 / seconds
	switch {
	case rpm >= 255 && rpm < 345:
		return Rpm300, true
	case rpm >= 345 && rpm < 414:
		return Rpm360, true
	}
	return 0, false
}

// IndexTime returns the nominal time of one revolution in seconds.
func (r RPM) IndexTime() float64 {
	return 60 / float64(r)
}

// AdjustClock scales a double density base clock for a drive spinning
// at 360 RPM. Other clocks are returned as is.
func (r RPM) AdjustClock(base float64) float64 {
	if r == Rpm360 && base >= 1.5e-6 {
		return base * 300 / 360
	}
	return base
}

func (r RPM) String() string {
	return fmt.Sprintf("%dRPM", int(r))
}

// DataRate is a data rate in bits per second (half the bitcell rate).
type DataRate int

const (
	Rate125K DataRate = 125_000
	Rate250K DataRate = 250_000
	Rate300K DataRate = 300_000
	Rate500K DataRate = 500_000
	Rate1M   DataRate = 1_000_000
)

// DataRateFromBitsPerSecond snaps a measured rate to a standard one.
// The second result is false for nonstandard rates, which are returned as is.
func DataRateFromBitsPerSecond(bps float64) (DataRate, bool) {
	switch {
	case bps >= 93_750 && bps < 143_750:
		return Rate125K, true
	case bps >= 212_000 && bps < 271_000:
		return Rate250K, true
	case bps >= 271_000 && bps < 345_000:
		return Rate300K, true
	case bps >= 425_000 && bps < 575_000:
		return Rate500K, true
	case bps >= 850_000 && bps < 1_150_000:
		return Rate1M, true
	}
	return DataRate(bps), false
}

// Kbps returns the rate in kilobits per second.
func (d DataRate) Kbps() int {
	return int(d) / 1000
}

func (d DataRate) String() string {
	return fmt.Sprintf("%dKbps", d.Kbps())
}

// Density is the recording density of a track.
type Density int

const (
	DensityStandard Density = iota
	DensityDouble
	DensityHigh
	DensityExtended
)

// DensityFromDataRate maps a standard data rate to its density.
func DensityFromDataRate(rate DataRate) Density {
	switch rate {
	case Rate125K:
		return DensityStandard
	case Rate500K:
		return DensityHigh
	case Rate1M:
		return DensityExtended
	}
	return DensityDouble
}

// DensityFromBaseClock guesses a density from a PLL base clock in seconds.
func DensityFromBaseClock(clock float64) (Density, bool) {
	switch {
	case clock >= 0.375e-6 && clock < 0.625e-6:
		return DensityExtended, true
	case clock >= 0.75e-6 && clock < 1.25e-6:
		return DensityHigh, true
	case clock >= 1.5e-6 && clock < 2.5e-6:
		return DensityDouble, true
	}
	return DensityDouble, false
}

// BaseClock returns the nominal bitcell period in seconds.
func (d Density) BaseClock(rpm RPM) float64 {
	switch d {
	case DensityStandard:
		return 4e-6
	case DensityHigh:
		return 1e-6
	case DensityExtended:
		return 5e-7
	}
	if rpm == Rpm360 {
		return 1.666e-6
	}
	return 2e-6
}

// DataRate returns the nominal data rate for the density.
func (d Density) DataRate() DataRate {
	switch d {
	case DensityStandard:
		return Rate125K
	case DensityHigh:
		return Rate500K
	case DensityExtended:
		return Rate1M
	}
	return Rate250K
}

// Bitcells estimates the bitcell count of one revolution.
func (d Density) Bitcells(rpm RPM) int {
	switch d {
	case DensityStandard:
		return 50_000
	case DensityHigh:
		if rpm == Rpm360 {
			return 166_666
		}
		return 200_000
	case DensityExtended:
		return 400_000
	}
	return 100_000
}

func (d Density) String() string {
	switch d {
	case DensityStandard:
		return "Standard"
	case DensityDouble:
		return "Double"
	case DensityHigh:
		return "High"
	case DensityExtended:
		return "Extended"
	}
	return "Unknown"
}
