package kryoflux

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/gousb"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial/enumerator"

	"github.com/sergev/floppyflux/adapter"
)

// FirmwarePath names the firmware image uploaded to a device that comes
// up in bootloader mode.
var FirmwarePath string

const (
	VendorID  = 0x03eb
	ProductID = 0x6124

	// Highest track the head is allowed to step to
	MaxTrack = 83

	// Default clocks in Hz
	DefaultSampleClock = 24027428.57142857
	DefaultIndexClock  = 3003428.5714285625
)

const (
	usbInterface    = 1
	endpointBulkOut = 0x01
	endpointBulkIn  = 0x82

	controlRequestType = 0xc3 // vendor request, device to host, other recipient

	requestReset    = 0x05
	requestDevice   = 0x06
	requestMotor    = 0x07
	requestDensity  = 0x08
	requestSide     = 0x09
	requestTrack    = 0x0a
	requestStream   = 0x0b
	requestMinTrack = 0x0c
	requestMaxTrack = 0x0d
	requestStatus   = 0x80
	requestInfo     = 0x81

	streamOnValue   = 0x601
	readBufferSize  = 6400
	maxControlReply = 512
)

// Client wraps a USB connection to a KryoFlux device
type Client struct {
	ctx        *gousb.Context
	dev        *gousb.Device
	cfg        *gousb.Config
	intf       *gousb.Interface
	bulkOut    *gousb.OutEndpoint
	bulkIn     *gousb.InEndpoint
	info       []string
	configured bool
	spinning   bool
}

func init() {
	adapter.RegisterUSBAdapter("KryoFlux", NewClient)
}

// NewClient opens the first KryoFlux on the USB bus. The port details
// are ignored. A device still in its bootloader gets the firmware from
// FirmwarePath and is opened again once it has re-enumerated.
func NewClient(portDetails *enumerator.PortDetails) (adapter.FloppyAdapter, error) {
	c, err := open(0)
	if err != nil {
		return nil, err
	}
	if !c.firmwarePresent() {
		log.Infof("kryoflux: uploading firmware %s", FirmwarePath)
		err = c.uploadFirmware()
		c.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to upload firmware: %w", err)
		}

		time.Sleep(time.Second)
		if c, err = open(25); err != nil {
			return nil, fmt.Errorf("failed to reopen device after firmware upload: %w", err)
		}
		if !c.firmwarePresent() {
			c.Close()
			return nil, errors.New("firmware not present after upload")
		}
	}
	if err := c.reset(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to reset device: %w", err)
	}
	return c, nil
}

// open claims the bulk endpoints of the first matching device. Claiming
// the interface is retried up to retries times, 200ms apart.
func open(retries int) (*Client, error) {
	c := &Client{ctx: gousb.NewContext()}
	devs, err := c.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == VendorID && uint16(desc.Product) == ProductID
	})
	if err == nil && len(devs) == 0 {
		err = fmt.Errorf("KryoFlux device not found (VID=0x%04X PID=0x%04X)", VendorID, ProductID)
	}
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		c.Close()
		return nil, fmt.Errorf("failed to open USB device: %w", err)
	}
	for _, d := range devs[1:] {
		d.Close()
	}
	c.dev = devs[0]

	if c.cfg, err = c.dev.Config(1); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to get config 1: %w", err)
	}
	for attempt := 0; ; attempt++ {
		c.intf, err = c.cfg.Interface(usbInterface, 0)
		if err == nil || attempt >= retries {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to claim interface %d: %w", usbInterface, err)
	}
	if c.bulkOut, err = c.intf.OutEndpoint(endpointBulkOut); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open bulk out endpoint: %w", err)
	}
	if c.bulkIn, err = c.intf.InEndpoint(endpointBulkIn); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open bulk in endpoint: %w", err)
	}
	return c, nil
}

// control performs a vendor control transfer and checks the reply.
func (c *Client) control(request byte, index uint16) ([]byte, error) {
	buf := make([]byte, maxControlReply)
	n, err := c.dev.Control(controlRequestType, request, 0, index, buf)
	if err != nil {
		return nil, fmt.Errorf("control transfer failed: %w", err)
	}
	reply := buf[:min(n, maxControlReply)]
	if err := checkReply(reply, index); err != nil {
		return nil, err
	}
	return reply, nil
}

// checkReply verifies that a text reply of the form "name=value..."
// echoes the low byte of the request index as its leading number.
// Replies without '=' are accepted.
func checkReply(reply []byte, index uint16) error {
	text := string(reply)
	eq := strings.IndexByte(text, '=')
	if eq < 0 {
		return nil
	}
	value := strings.TrimSpace(text[eq+1:])
	end := 0
	for end < len(value) && value[end] >= '0' && value[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(value[:end])
	if err != nil || n != int(index&0xff) {
		return fmt.Errorf("device request failed: response value %q does not match index %d", value[:end], index&0xff)
	}
	return nil
}

// firmwarePresent reports whether status requests succeed twice in a
// row. The bootloader does not answer them.
func (c *Client) firmwarePresent() bool {
	for i := 0; i < 2; i++ {
		if _, err := c.control(requestStatus, 0); err != nil {
			return false
		}
	}
	return true
}

// setting is one control request that sets a device parameter.
type setting struct {
	request byte
	value   uint16
	name    string
}

func (c *Client) apply(settings ...setting) error {
	for _, s := range settings {
		if _, err := c.control(s.request, s.value); err != nil {
			return fmt.Errorf("failed to set %s: %w", s.name, err)
		}
	}
	return nil
}

// reset resets the device and keeps both info strings for PrintStatus.
func (c *Client) reset() error {
	if _, err := c.control(requestReset, 0); err != nil {
		return fmt.Errorf("reset request failed: %w", err)
	}
	c.info = c.info[:0]
	for index := uint16(1); index <= 2; index++ {
		data, err := c.control(requestInfo, index)
		if err != nil {
			return fmt.Errorf("info request %d failed: %w", index, err)
		}
		c.info = append(c.info, strings.TrimSpace(string(data)))
	}
	return nil
}

func (c *Client) configure(device, density, minTrack, maxTrack int) error {
	err := c.apply(
		setting{requestDevice, uint16(device), "device"},
		setting{requestDensity, uint16(density), "density"},
		setting{requestMinTrack, uint16(minTrack), "min track"},
		setting{requestMaxTrack, uint16(maxTrack), "max track"},
	)
	c.configured = err == nil
	return err
}

// motorOn spins the motor up and positions the head.
func (c *Client) motorOn(side, track int) error {
	if err := c.apply(setting{requestMotor, 1, "motor on"}); err != nil {
		return err
	}
	c.spinning = true
	return c.apply(
		setting{requestSide, uint16(side), "side"},
		setting{requestTrack, uint16(track), "track"},
	)
}

func (c *Client) motorOff() error {
	if err := c.apply(setting{requestMotor, 0, "motor off"}); err != nil {
		return err
	}
	c.spinning = false
	return nil
}

// PrintStatus prints the device info, then probes drive 0 and the
// rotation speed of the inserted disk.
func (c *Client) PrintStatus() {
	fmt.Printf("KryoFlux Adapter Info:\n")
	for _, line := range c.info {
		fmt.Printf("%s\n", line)
	}

	if err := c.configure(0, 0, 0, MaxTrack); err != nil {
		fmt.Printf("Floppy Drive: Not detected\n")
		return
	}
	err := c.motorOn(0, 0)
	if c.spinning {
		defer c.motorOff()
	}
	if err != nil {
		fmt.Printf("Floppy Drive: Not detected\n")
		return
	}
	fmt.Printf("Floppy Drive: Connected\n")

	data, err := c.captureStream()
	if err != nil {
		fmt.Printf("Floppy Disk: Not inserted\n")
		return
	}
	stream, err := DecodeStream(data)
	if err != nil || len(stream.Index) < 2 {
		fmt.Printf("Floppy Disk: Not inserted\n")
		return
	}
	fmt.Printf("Floppy Disk: Inserted\n")
	if seconds, ok := stream.RotationTime(); ok && seconds > 0 {
		fmt.Printf("Rotation Speed: %.1f RPM\n", 60/seconds)
	}
}

// Close turns the motor off and releases the USB device.
func (c *Client) Close() error {
	if c.spinning {
		if err := c.motorOff(); err != nil {
			log.Warnf("kryoflux: %v", err)
		}
	}
	if c.intf != nil {
		c.intf.Close()
		c.intf = nil
	}
	if c.cfg != nil {
		c.cfg.Close()
		c.cfg = nil
	}
	if c.dev != nil {
		c.dev.Close()
		c.dev = nil
	}
	if c.ctx == nil {
		return nil
	}
	err := c.ctx.Close()
	c.ctx = nil
	return err
}
