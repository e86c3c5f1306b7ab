package supercardpro

import (
	"fmt"
	"io"
)

// SCPInfo holds the hardware and firmware versions, one nibble each
// for major and minor.
type SCPInfo struct {
	Hardware uint8
	Firmware uint8
}

func version(v uint8) string {
	return fmt.Sprintf("%d.%d", v>>4, v&0x0f)
}

func (info SCPInfo) String() string {
	return "hardware " + version(info.Hardware) + ", firmware " + version(info.Firmware)
}

func (c *Client) getSCPInfo() (SCPInfo, error) {
	var info SCPInfo
	if err := c.scpSend(cmdSCPInfo, nil, nil); err != nil {
		return info, fmt.Errorf("failed to send SCPINFO command: %w", err)
	}
	var reply [2]byte
	if _, err := io.ReadFull(c.port, reply[:]); err != nil {
		return info, fmt.Errorf("failed to read version info: %w", err)
	}
	info.Hardware, info.Firmware = reply[0], reply[1]
	return info, nil
}

// PrintStatus prints the device versions, then probes drive 0 and the
// rotation speed of the inserted disk.
func (c *Client) PrintStatus() {
	if info, err := c.getSCPInfo(); err != nil {
		fmt.Printf("SuperCard Pro Firmware Version: Unknown\n")
	} else {
		fmt.Printf("SuperCard Pro Hardware Version: %s\n", version(info.Hardware))
		fmt.Printf("Firmware Version: %s\n", version(info.Firmware))
	}
	fmt.Printf("Serial Number: %s\n", c.serialNumber)

	err := c.selectDrive(0)
	if err == nil && !c.selected {
		defer c.deselectDrive(0)
	}
	if err != nil || c.seekTrack(0) != nil {
		fmt.Printf("Floppy Drive: Disconnected\n")
		return
	}
	fmt.Printf("Floppy Drive: Connected\n")

	fd, err := c.readFlux(2)
	if err != nil || fd.Info[0].IndexTime == 0 {
		fmt.Printf("Floppy Disk: Not inserted\n")
		return
	}
	fmt.Printf("Floppy Disk: Inserted\n")
	fmt.Printf("Rotation Speed: %.1f RPM\n", fd.Info[0].RPM())
}
