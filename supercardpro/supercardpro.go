package supercardpro

import (
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/sergev/floppyflux/adapter"
)

const (
	VendorID  = 0x0403
	ProductID = 0x6015
)

// The device buffers at most this many revolutions
const MaxRevolutions = 5

// Command codes
const (
	cmdSelectA     = 0x80
	cmdSelectB     = 0x81
	cmdDeselectA   = 0x82
	cmdDeselectB   = 0x83
	cmdMotorAOn    = 0x84
	cmdMotorBOn    = 0x85
	cmdMotorAOff   = 0x86
	cmdMotorBOff   = 0x87
	cmdSeek0       = 0x88
	cmdStepTo      = 0x89
	cmdSide        = 0x8d
	cmdReadFlux    = 0xa0
	cmdGetFluxInfo = 0xa1 // info for the last flux read
	cmdSendRAMUSB  = 0xa9 // send buffer memory to USB
	cmdSCPInfo     = 0xd0
)

const statusOK = 0x4f

// driveCommands are the select and motor commands of drives A and B.
var driveCommands = [2]struct {
	sel, desel, motorOn, motorOff byte
}{
	{cmdSelectA, cmdDeselectA, cmdMotorAOn, cmdMotorAOff},
	{cmdSelectB, cmdDeselectB, cmdMotorBOn, cmdMotorBOff},
}

// FluxInfo contains information about a single revolution of flux data
type FluxInfo struct {
	IndexTime  uint32 // Revolution time in 25ns units
	NrBitcells uint32 // Number of flux words
}

// FluxData contains flux information and data for up to 5 revolutions
type FluxData struct {
	Info [MaxRevolutions]FluxInfo // Information for up to 5 revolutions
	Data []byte                   // Flux data (512KB raw bytes from device)
}

// Client wraps a serial port connection to a SuperCard Pro device
type Client struct {
	port         serial.Port
	serialNumber string
	selected     bool
}

func init() {
	adapter.RegisterAdapter("SuperCard Pro", VendorID, ProductID, NewClient)
}

// NewClient opens the serial port and checks that the device answers
// an info request, since the FTDI bridge shares its VID/PID with other
// devices.
func NewClient(portDetails *enumerator.PortDetails) (adapter.FloppyAdapter, error) {
	port, err := serial.Open(portDetails.Name, &serial.Mode{BaudRate: 38400})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portDetails.Name, err)
	}
	client := &Client{
		port:         port,
		serialNumber: portDetails.SerialNumber,
	}
	info, err := client.getSCPInfo()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("no SuperCard Pro on %s: %w", portDetails.Name, err)
	}
	log.Debugf("supercardpro: %v", info)
	return client, nil
}

// packet frames a command as cmd, length, data, checksum. The checksum
// is 0x4a plus the sum of the preceding bytes.
func packet(cmd byte, data []byte) ([]byte, error) {
	if len(data) > 255 {
		return nil, fmt.Errorf("data length %d exceeds maximum 255", len(data))
	}
	p := append([]byte{cmd, byte(len(data))}, data...)
	sum := byte(0x4a)
	for _, b := range p {
		sum += b
	}
	return append(p, sum), nil
}

// scpSend sends a command and checks the reply: the echoed command and
// a status byte. The RAM transfer command delivers readData before the
// reply.
func (c *Client) scpSend(cmd byte, data []byte, readData []byte) error {
	p, err := packet(cmd, data)
	if err != nil {
		return err
	}
	if _, err := c.port.Write(p); err != nil {
		return fmt.Errorf("failed to write command packet: %w", err)
	}
	if cmd == cmdSendRAMUSB && readData != nil {
		if _, err := io.ReadFull(c.port, readData); err != nil {
			return fmt.Errorf("failed to read RAM data: %w", err)
		}
	}

	var reply [2]byte
	if _, err := io.ReadFull(c.port, reply[:]); err != nil {
		return fmt.Errorf("failed to read command response: %w", err)
	}
	if reply[0] != cmd {
		return fmt.Errorf("command echo mismatch: sent 0x%02x, received 0x%02x", cmd, reply[0])
	}
	if reply[1] != statusOK {
		return fmt.Errorf("command failed with status 0x%02x", reply[1])
	}
	return nil
}

// selectDrive selects a drive and turns on its motor
func (c *Client) selectDrive(drive uint) error {
	cmds := driveCommands[drive&1]
	if err := c.scpSend(cmds.sel, nil, nil); err != nil {
		return fmt.Errorf("failed to select drive %d: %w", drive, err)
	}
	if err := c.scpSend(cmds.motorOn, nil, nil); err != nil {
		return fmt.Errorf("failed to turn on motor for drive %d: %w", drive, err)
	}
	return nil
}

// deselectDrive turns off the motor of a drive and deselects it
func (c *Client) deselectDrive(drive uint) error {
	cmds := driveCommands[drive&1]
	if err := c.scpSend(cmds.motorOff, nil, nil); err != nil {
		return fmt.Errorf("failed to turn off motor for drive %d: %w", drive, err)
	}
	if err := c.scpSend(cmds.desel, nil, nil); err != nil {
		return fmt.Errorf("failed to deselect drive %d: %w", drive, err)
	}
	return nil
}

// seekTrack moves to track/2 and selects side track&1, then waits for
// the head to settle.
func (c *Client) seekTrack(track uint) error {
	cyl, side := track>>1, byte(track&1)
	if cyl == 0 {
		if err := c.scpSend(cmdSeek0, nil, nil); err != nil {
			return fmt.Errorf("failed to seek to track 0: %w", err)
		}
	} else if err := c.scpSend(cmdStepTo, []byte{byte(cyl)}, nil); err != nil {
		return fmt.Errorf("failed to step to cylinder %d: %w", cyl, err)
	}
	if err := c.scpSend(cmdSide, []byte{side}, nil); err != nil {
		return fmt.Errorf("failed to select side %d: %w", side, err)
	}
	time.Sleep(20 * time.Millisecond)
	return nil
}

// Close turns the motor off and closes the serial port connection
func (c *Client) Close() error {
	if c.selected {
		if err := c.deselectDrive(0); err != nil {
			log.Warnf("supercardpro: %v", err)
		}
		c.selected = false
	}
	if c.port != nil {
		return c.port.Close()
	}
	return nil
}
