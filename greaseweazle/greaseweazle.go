package greaseweazle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-restruct/restruct"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/sergev/floppyflux/adapter"
)

const (
	VendorID  = 0x1209 // Open source hardware projects
	ProductID = 0x4d69 // Keir Fraser Greaseweazle
)

// Command codes
const (
	cmdGetInfo       = 0
	cmdSeek          = 2
	cmdHead          = 3
	cmdMotor         = 6
	cmdReadFlux      = 7
	cmdGetFluxStatus = 9
	cmdSelect        = 12
	cmdSetBusType    = 14
	cmdReset         = 16
	cmdGetPin        = 20
)

// Get info indices
const (
	infoFirmware = 0
	infoBwStats  = 1
)

// ACK return codes
const (
	ackOkay          = 0
	ackBadCommand    = 1
	ackNoIndex       = 2
	ackNoTrk0        = 3
	ackFluxOverflow  = 4
	ackFluxUnderflow = 5
	ackWrProt        = 6
	ackNoUnit        = 7
	ackNoBus         = 8
	ackBadUnit       = 9
	ackBadPin        = 10
	ackBadCylinder   = 11
)

// Flux stream opcodes
const (
	fluxOpIndex = 1
	fluxOpSpace = 2
)

// IBM PC bus type code
const busIBMPC = 1

// Client wraps a serial port connection to a Greaseweazle device
type Client struct {
	port         serial.Port
	firmwareInfo FirmwareInfo
	serialNumber string
	motorOn      bool
}

func init() {
	adapter.RegisterAdapter("Greaseweazle", VendorID, ProductID, NewClient)
}

// NewClient opens the serial port, reads the firmware information and
// puts the bus into IBM PC mode.
func NewClient(portDetails *enumerator.PortDetails) (adapter.FloppyAdapter, error) {
	port, err := serial.Open(portDetails.Name, &serial.Mode{BaudRate: 9600})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portDetails.Name, err)
	}
	client := &Client{
		port:         port,
		serialNumber: portDetails.SerialNumber,
	}
	if err := client.setup(); err != nil {
		port.Close()
		return nil, err
	}
	return client, nil
}

func (c *Client) setup() error {
	fw, err := c.fetchFirmwareVersion()
	if err != nil {
		return fmt.Errorf("failed to fetch firmware version: %w", err)
	}
	if fw.SampleFreqHz == 0 {
		return errors.New("device reports zero sample frequency")
	}
	c.firmwareInfo = fw
	log.Debugf("greaseweazle: firmware %d.%d, %d Hz", fw.FwMajor, fw.FwMinor, fw.SampleFreqHz)

	// A baud rate change tells the device the data stream was reset.
	if err := c.port.SetMode(&serial.Mode{BaudRate: 10000}); err != nil {
		return fmt.Errorf("failed to set baud rate to 10000: %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := c.port.SetMode(&serial.Mode{BaudRate: 9600}); err != nil {
		return fmt.Errorf("failed to set baud rate to 9600: %w", err)
	}
	if err := c.SetBusType(); err != nil {
		return fmt.Errorf("failed to set bus type: %w", err)
	}
	return nil
}

// AckError is a non-zero status returned by the device.
type AckError byte

// ErrBadPin is returned for pins the device cannot read.
const ErrBadPin = AckError(ackBadPin)

var ackMessages = map[AckError]string{
	ackBadCommand:    "bad command",
	ackNoIndex:       "no index",
	ackNoTrk0:        "no track 0",
	ackFluxOverflow:  "overflow",
	ackFluxUnderflow: "underflow",
	ackWrProt:        "write protected",
	ackNoUnit:        "no unit",
	ackNoBus:         "no bus",
	ackBadUnit:       "invalid unit",
	ackBadPin:        "invalid pin",
	ackBadCylinder:   "invalid track",
}

func (e AckError) Error() string {
	msg, ok := ackMessages[e]
	if !ok {
		msg = fmt.Sprintf("unknown error %d", byte(e))
	}
	return "Greaseweazle error: " + msg
}

func ackError(code byte) error {
	if code == ackOkay {
		return nil
	}
	return AckError(code)
}

// command frames op with its length byte.
func command(op byte, args ...byte) []byte {
	return append([]byte{op, byte(2 + len(args))}, args...)
}

// doCommand sends a command and checks the two byte acknowledgement:
// the echoed opcode and a status.
func (c *Client) doCommand(cmd []byte) error {
	if _, err := c.port.Write(cmd); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	var ack [2]byte
	if _, err := io.ReadFull(c.port, ack[:]); err != nil {
		return fmt.Errorf("failed to read ACK: %w", err)
	}
	if ack[0] != cmd[0] {
		return fmt.Errorf("command returned garbage (0x%02x != 0x%02x with status 0x%02x)",
			ack[0], cmd[0], ack[1])
	}
	return ackError(ack[1])
}

// query sends a get info command and unpacks the reply into v.
func (c *Client) query(index byte, size int, v any) error {
	if err := c.doCommand(command(cmdGetInfo, index)); err != nil {
		return err
	}
	reply := make([]byte, size)
	if _, err := io.ReadFull(c.port, reply); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	return restruct.Unpack(reply, binary.LittleEndian, v)
}

// FirmwareInfo is the packed reply to the firmware info query.
type FirmwareInfo struct {
	FwMajor      uint8
	FwMinor      uint8
	MainFirmware uint8 // 0 in the bootloader
	MaxCmd       uint8
	SampleFreqHz uint32
	HwModel      uint8
	HwSubmodel   uint8
	USBSpeed     uint8
	MCUID        uint8
	MCUMhz       uint16
	MCUSRAMKB    uint16
	USBBufKB     uint16
}

// BwStats is the packed reply to the bandwidth statistics query.
type BwStats struct {
	MinBw Bandwidth
	MaxBw Bandwidth
}

type Bandwidth struct {
	Bytes uint32
	Usecs uint32
}

// MBps returns the throughput in megabytes per second.
func (b Bandwidth) MBps() float64 {
	if b.Usecs == 0 {
		return 0
	}
	return float64(b.Bytes) / float64(b.Usecs) * 1e6 / (1 << 20)
}

func (c *Client) fetchFirmwareVersion() (FirmwareInfo, error) {
	var info FirmwareInfo
	if err := c.query(infoFirmware, 32, &info); err != nil {
		return info, fmt.Errorf("GET_INFO firmware: %w", err)
	}
	return info, nil
}

func (c *Client) fetchBwStats() (BwStats, error) {
	var stats BwStats
	if err := c.query(infoBwStats, 16, &stats); err != nil {
		return stats, fmt.Errorf("GET_INFO bandwidth: %w", err)
	}
	return stats, nil
}

// Seek moves the head to the specified cylinder
func (c *Client) Seek(cylinder byte) error {
	return c.doCommand(command(cmdSeek, cylinder))
}

// SetHead selects the specified head (0=bottom, 1=top)
func (c *Client) SetHead(head byte) error {
	return c.doCommand(command(cmdHead, head))
}

func (c *Client) SelectDrive(drive byte) error {
	return c.doCommand(command(cmdSelect, drive))
}

// SetMotor turns the drive motor on or off
func (c *Client) SetMotor(drive byte, on bool) error {
	var state byte
	if on {
		state = 1
	}
	return c.doCommand(command(cmdMotor, drive, state))
}

// GetFluxStatus reports the outcome of the last flux read.
func (c *Client) GetFluxStatus() error {
	return c.doCommand(command(cmdGetFluxStatus))
}

func (c *Client) Reset() error {
	return c.doCommand(command(cmdReset))
}

func (c *Client) SetBusType() error {
	return c.doCommand(command(cmdSetBusType, busIBMPC))
}
