package kryoflux

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sergev/floppyflux/flux"
	"github.com/sergev/floppyflux/geom"
)

// captureStream reads raw stream data until the end-of-stream block.
// A stalled or overlong capture returns what arrived so far.
func (c *Client) captureStream() ([]byte, error) {
	var streamData []byte

	if err := c.apply(setting{requestStream, streamOnValue, "stream on"}); err != nil {
		return nil, err
	}
	defer c.control(requestStream, 0)

	buf := make([]byte, readBufferSize)
	maxTotalTime := 30 * time.Second // Absolute maximum time for stream capture
	noDataTimeout := 5 * time.Second // Timeout if no data received for this duration
	startTime := time.Now()
	lastDataTime := time.Now()
	scanned := 0

	for {
		if time.Since(startTime) > maxTotalTime {
			// If we have some data, return it anyway - might be a partial stream
			if len(streamData) > 0 {
				return streamData, nil
			}
			return nil, fmt.Errorf("stream read timeout: maximum time %v exceeded", maxTotalTime)
		}
		if time.Since(lastDataTime) > noDataTimeout {
			if len(streamData) > 0 {
				return streamData, nil
			}
			return nil, fmt.Errorf("stream read timeout: no data received within %v", noDataTimeout)
		}

		length, err := c.bulkIn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("failed to read stream data: %w", err)
		}
		if length == 0 {
			continue
		}
		lastDataTime = time.Now()
		streamData = append(streamData, buf[:length]...)

		// Stop processing if EOF found
		var done bool
		scanned, done = endOfStream(streamData, scanned)
		if done {
			return streamData, nil
		}
	}
}

// ReadTrack positions the head and captures revs revolutions. The
// device streams a fixed number of revolutions; extra ones are dropped.
func (c *Client) ReadTrack(ch geom.Ch, revs int) ([]flux.Capture, error) {
	if !c.configured {
		if err := c.configure(0, 0, 0, MaxTrack); err != nil {
			return nil, fmt.Errorf("failed to configure device: %w", err)
		}
	}
	if int(ch.Cyl) > MaxTrack {
		return nil, fmt.Errorf("cylinder %d beyond track %d", ch.Cyl, MaxTrack)
	}

	err := c.motorOn(int(ch.Head), int(ch.Cyl))
	if err != nil {
		return nil, fmt.Errorf("failed to position head at %v: %w", ch, err)
	}
	data, err := c.captureStream()
	if err != nil {
		return nil, fmt.Errorf("failed to capture stream from %v: %w", ch, err)
	}
	stream, err := DecodeStream(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stream from %v: %w", ch, err)
	}

	captures := stream.Captures()
	log.WithFields(log.Fields{
		"track":       ch.String(),
		"bytes":       len(data),
		"transitions": len(stream.Transitions),
		"revolutions": len(captures),
	}).Debug("kryoflux: captured")
	if revs > 0 && len(captures) > revs {
		captures = captures[:revs]
	}
	return captures, nil
}
