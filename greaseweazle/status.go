package greaseweazle

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/sergev/floppyflux/config"
)

// getPinValue reads the level of a floppy bus pin. Unsupported pins
// return ErrBadPin.
func (c *Client) getPinValue(pin byte) (bool, error) {
	if err := c.doCommand(command(cmdGetPin, pin)); err != nil {
		return false, err
	}
	var level [1]byte
	if _, err := io.ReadFull(c.port, level[:]); err != nil {
		return false, fmt.Errorf("failed to read pin level: %w", err)
	}
	return level[0] == 1, nil
}

func (c *Client) PrintBwStats() {
	stats, err := c.fetchBwStats()
	if err != nil {
		fmt.Printf("Warning: Failed to fetch bandwidth statistics: %v\n", err)
		return
	}
	fmt.Printf("\nBandwidth Statistics:\n")
	fmt.Printf("  Min: %d bytes in %d μs (%.2f MB/s)\n", stats.MinBw.Bytes, stats.MinBw.Usecs, stats.MinBw.MBps())
	fmt.Printf("  Max: %d bytes in %d μs (%.2f MB/s)\n", stats.MaxBw.Bytes, stats.MaxBw.Usecs, stats.MaxBw.MBps())
}

func (c *Client) PrintPins() {
	fmt.Printf("\nPin Status:\n")
	for pin := byte(1); pin <= 34; pin++ {
		high, err := c.getPinValue(pin)
		if err == ErrBadPin {
			continue
		}
		if err != nil {
			fmt.Printf("  Pin %d: Error reading pin: %v\n", pin, err)
			continue
		}
		level := "Low"
		if high {
			level = "High"
		}
		fmt.Printf("  Pin %d: %s\n", pin, level)
	}
}

// PrintRotationSpeed spins drive 0 for two index pulses and reports
// whether a disk is present and its speed.
func (c *Client) PrintRotationSpeed() {
	if c.SetHead(0) != nil || c.SetMotor(0, true) != nil {
		return
	}
	if !c.motorOn {
		defer c.SetMotor(0, false)
	}

	data, err := c.ReadFlux(0, 2)
	if err != nil {
		fmt.Printf("Floppy Disk: Not inserted\n")
		return
	}
	fmt.Printf("Floppy Disk: Inserted\n")

	_, index, err := DecodeStream(data)
	if err != nil || len(index) < 2 {
		fmt.Printf("Rotation Speed: unknown\n")
		return
	}
	fmt.Printf("Rotation Speed: %d RPM\n", estimateRPM(ticksToNs(index, c.firmwareInfo.SampleFreqHz)))
}

var mcuNames = map[uint8]string{
	1: "STM32F1",
	4: "AT32F4",
	7: "STM32F7",
}

func mcuName(model uint8) string {
	if name, ok := mcuNames[model]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (model %d)", model)
}

func usbSpeedName(speed uint8) string {
	switch speed {
	case 0:
		return "Full Speed"
	case 1:
		return "High Speed"
	}
	return fmt.Sprintf("Unknown (%d)", speed)
}

// PrintStatus prints the firmware information, then probes drive 0.
func (c *Client) PrintStatus() {
	fw := c.firmwareInfo
	fmt.Printf("Greaseweazle Firmware Version: %d.%d\n", fw.FwMajor, fw.FwMinor)
	if fw.MainFirmware == 0 {
		fmt.Printf("Mode: Bootloader\n")
	}
	fmt.Printf("Serial Number: %s\n", c.serialNumber)
	fmt.Printf("Max Command: %d\n", fw.MaxCmd)
	fmt.Printf("Sample Frequency: %.1f MHz\n", float64(fw.SampleFreqHz)*1.0e-6)
	fmt.Printf("Hardware Model: %d.%d\n", fw.HwModel, fw.HwSubmodel)
	fmt.Printf("USB Speed: %s\n", usbSpeedName(fw.USBSpeed))
	fmt.Printf("MCU: %s, %d MHz, %d KB SRAM\n", mcuName(fw.HwModel), fw.MCUMhz, fw.MCUSRAMKB)
	fmt.Printf("USB Buffer: %d KB\n", fw.USBBufKB)

	if log.IsLevelEnabled(log.DebugLevel) {
		c.PrintBwStats()
		c.PrintPins()
	}

	// Reset, then try to seek to track 0.
	if c.Reset() != nil || c.SetBusType() != nil || c.SelectDrive(0) != nil || c.Seek(0) != nil {
		fmt.Printf("Floppy Drive: Not detected\n")
		return
	}
	fmt.Printf("Floppy Drive: %s\n", config.DriveName)
	c.PrintRotationSpeed()
}
