package adapter

import (
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial/enumerator"
)

// AdapterFactory is a function that creates an adapter from port details
type AdapterFactory func(portDetails *enumerator.PortDetails) (FloppyAdapter, error)

// AdapterInfo contains information about an adapter type
type AdapterInfo struct {
	Name      string
	VendorID  uint16
	ProductID uint16
	Factory   AdapterFactory
}

var registeredAdapters []AdapterInfo

// RegisterAdapter registers an adapter factory with its VID/PID
func RegisterAdapter(name string, vendorID, productID uint16, factory AdapterFactory) {
	registeredAdapters = append(registeredAdapters, AdapterInfo{
		Name:      name,
		VendorID:  vendorID,
		ProductID: productID,
		Factory:   factory,
	})
}

// RegisterUSBAdapter registers an adapter that doesn't use serial ports
func RegisterUSBAdapter(name string, factory AdapterFactory) {
	registeredAdapters = append(registeredAdapters, AdapterInfo{
		Name:    name,
		Factory: factory,
	})
}

// Registered lists the known adapter types.
func Registered() []AdapterInfo {
	return append([]AdapterInfo(nil), registeredAdapters...)
}

// Find attempts to find and initialize a registered adapter.
func Find() (FloppyAdapter, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return FindIn(ports)
}

// FindIn tries serial adapters on the given ports first, then USB-only
// adapters such as KryoFlux.
func FindIn(ports []*enumerator.PortDetails) (FloppyAdapter, error) {
	for _, port := range ports {
		portVID, err := strconv.ParseUint(port.VID, 16, 16)
		if err != nil {
			continue
		}
		portPID, err := strconv.ParseUint(port.PID, 16, 16)
		if err != nil {
			continue
		}
		for _, info := range registeredAdapters {
			if info.VendorID == 0 && info.ProductID == 0 {
				continue
			}
			if uint16(portVID) == info.VendorID && uint16(portPID) == info.ProductID {
				a, err := info.Factory(port)
				if err != nil {
					log.Debugf("adapter: %s on %s: %v", info.Name, port.Name, err)
					continue
				}
				log.Debugf("adapter: using %s on %s", info.Name, port.Name)
				return a, nil
			}
		}
	}

	for _, info := range registeredAdapters {
		if info.VendorID == 0 && info.ProductID == 0 {
			a, err := info.Factory(nil)
			if err == nil && a != nil {
				log.Debugf("adapter: using %s", info.Name)
				return a, nil
			}
			log.Debugf("adapter: %s: %v", info.Name, err)
		}
	}
	return nil, fmt.Errorf("no supported USB floppy adapter found")
}
