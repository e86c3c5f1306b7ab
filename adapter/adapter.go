// Package adapter defines the interface of flux capture devices and
// finds a connected one.
package adapter

import (
	"go.bug.st/serial/enumerator"

	"github.com/sergev/floppyflux/flux"
	"github.com/sergev/floppyflux/geom"
)

// FloppyAdapter defines the interface for floppy disk adapters
type FloppyAdapter interface {
	// PrintStatus prints adapter status information to stdout
	PrintStatus()

	// ReadTrack captures revs full revolutions of one track.
	ReadTrack(ch geom.Ch, revs int) ([]flux.Capture, error)

	// Close stops the motor and releases the device.
	Close() error
}

// NewClientFunc is a function type that creates a new adapter client
type NewClientFunc func(portDetails *enumerator.PortDetails) (FloppyAdapter, error)
