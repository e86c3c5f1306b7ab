package greaseweazle

import (
	"bufio"
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sergev/floppyflux/flux"
	"github.com/sergev/floppyflux/geom"
)

// ReadFlux streams flux from the current track until ticks sample
// clocks or maxIndex index pulses have passed. Zero means no limit.
// The returned stream excludes its terminating zero byte.
func (c *Client) ReadFlux(ticks uint32, maxIndex uint16) ([]byte, error) {
	args := binary.LittleEndian.AppendUint32(nil, ticks)
	args = binary.LittleEndian.AppendUint16(args, maxIndex)
	if err := c.doCommand(command(cmdReadFlux, args...)); err != nil {
		return nil, fmt.Errorf("failed to send READ_FLUX command: %w", err)
	}

	var data []byte
	r := bufio.NewReader(c.port)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("failed to read flux data: %w", err)
		}
		if b == 0 {
			return data, nil
		}
		data = append(data, b)
	}
}

// startMotor selects drive 0 and spins it up once per session.
func (c *Client) startMotor() error {
	if c.motorOn {
		return nil
	}
	err := c.SelectDrive(0)
	if err != nil {
		return fmt.Errorf("failed to select drive: %w", err)
	}
	err = c.SetMotor(0, true)
	if err != nil {
		return fmt.Errorf("failed to turn on motor: %w", err)
	}
	c.motorOn = true
	return nil
}

// ReadTrack seeks to the track and captures revs revolutions, bounded by
// revs+1 index pulses.
func (c *Client) ReadTrack(ch geom.Ch, revs int) ([]flux.Capture, error) {
	if revs < 1 {
		revs = 1
	}
	if err := c.startMotor(); err != nil {
		return nil, err
	}

	err := c.Seek(byte(ch.Cyl))
	if err != nil {
		return nil, fmt.Errorf("failed to seek to cylinder %d: %w", ch.Cyl, err)
	}
	err = c.SetHead(ch.Head)
	if err != nil {
		return nil, fmt.Errorf("failed to set head %d: %w", ch.Head, err)
	}

	data, err := c.ReadFlux(0, uint16(revs+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read flux data from %v: %w", ch, err)
	}
	err = c.GetFluxStatus()
	if err != nil {
		return nil, fmt.Errorf("flux status error after reading %v: %w", ch, err)
	}

	transitions, index, err := DecodeStream(data)
	if err != nil {
		return nil, fmt.Errorf("bad flux stream from %v: %w", ch, err)
	}
	freq := c.firmwareInfo.SampleFreqHz
	captures := flux.SplitRevolutions(ticksToNs(transitions, freq), ticksToNs(index, freq))
	log.WithFields(log.Fields{
		"track":       ch.String(),
		"bytes":       len(data),
		"transitions": len(transitions),
		"index":       len(index),
	}).Debug("greaseweazle: captured")
	return captures, nil
}

// Close turns the motor off and releases the serial port.
func (c *Client) Close() error {
	if c.motorOn {
		if err := c.SetMotor(0, false); err != nil {
			log.Warnf("greaseweazle: motor off: %v", err)
		}
		c.motorOn = false
	}
	return c.port.Close()
}
