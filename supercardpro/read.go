package supercardpro

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-restruct/restruct"
	log "github.com/sirupsen/logrus"

	"github.com/sergev/floppyflux/flux"
	"github.com/sergev/floppyflux/geom"
	"github.com/sergev/floppyflux/scp"
)

// ramSize is the flux buffer of the device
const ramSize = 512 * 1024

// RPM derives the rotation speed from the index time.
func (fi FluxInfo) RPM() float64 {
	if fi.IndexTime == 0 {
		return 0
	}
	return 60 / (float64(fi.IndexTime) * scp.BaseTick)
}

// parseFluxInfo decodes the GETFLUXINFO reply: per revolution a
// big-endian index time and bitcell count.
func parseFluxInfo(data []byte) [MaxRevolutions]FluxInfo {
	var info [MaxRevolutions]FluxInfo
	for i := range info {
		offset := i * 8
		if offset+8 > len(data) {
			break
		}
		info[i].IndexTime = binary.BigEndian.Uint32(data[offset : offset+4])
		info[i].NrBitcells = binary.BigEndian.Uint32(data[offset+4 : offset+8])
	}
	return info
}

// ramRequest is the argument of the RAM transfer command.
type ramRequest struct {
	Offset uint32
	Length uint32
}

// readFlux captures nrRevs revolutions starting at the index pulse and
// transfers the whole flux buffer.
func (c *Client) readFlux(nrRevs uint) (*FluxData, error) {
	if err := c.scpSend(cmdReadFlux, []byte{byte(nrRevs), 1}, nil); err != nil {
		return nil, fmt.Errorf("failed to send READFLUX command: %w", err)
	}
	if err := c.scpSend(cmdGetFluxInfo, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to send GETFLUXINFO command: %w", err)
	}
	infoData := make([]byte, MaxRevolutions*8)
	if _, err := io.ReadFull(c.port, infoData); err != nil {
		return nil, fmt.Errorf("failed to read flux info: %w", err)
	}
	fd := &FluxData{Info: parseFluxInfo(infoData)}

	req, err := restruct.Pack(binary.BigEndian, &ramRequest{Offset: 0, Length: ramSize})
	if err != nil {
		return nil, err
	}
	fd.Data = make([]byte, ramSize)
	if err := c.scpSend(cmdSendRAMUSB, req, fd.Data); err != nil {
		return nil, fmt.Errorf("failed to read flux data: %w", err)
	}
	return fd, nil
}

// Captures splits the RAM buffer into revolutions. The device stores
// them back to back, each NrBitcells 16-bit words long.
func (fd *FluxData) Captures(revs int) ([]flux.Capture, error) {
	var captures []flux.Capture
	offset := 0
	for i := 0; i < revs && i < len(fd.Info); i++ {
		info := fd.Info[i]
		if info.IndexTime == 0 {
			break
		}
		n := int(info.NrBitcells) * 2
		if offset+n > len(fd.Data) {
			return nil, fmt.Errorf("revolution %d overruns the flux buffer (%d+%d bytes)", i, offset, n)
		}
		captures = append(captures, flux.Capture{
			Deltas:    scp.DecodeFlux(fd.Data[offset:offset+n], 16, scp.BaseTick),
			IndexTime: float64(info.IndexTime) * scp.BaseTick,
		})
		offset += n
	}
	return captures, nil
}

// ReadTrack seeks to the track and captures up to five revolutions.
func (c *Client) ReadTrack(ch geom.Ch, revs int) ([]flux.Capture, error) {
	revs = max(1, min(revs, MaxRevolutions))
	if !c.selected {
		if err := c.selectDrive(0); err != nil {
			return nil, fmt.Errorf("failed to select drive: %w", err)
		}
		c.selected = true
	}

	track := uint(ch.Cyl)*2 + uint(ch.Head)
	err := c.seekTrack(track)
	if err != nil {
		return nil, fmt.Errorf("failed to seek to %v: %w", ch, err)
	}

	fluxData, err := c.readFlux(uint(revs))
	if err != nil {
		return nil, fmt.Errorf("failed to read flux data from %v: %w", ch, err)
	}
	captures, err := fluxData.Captures(revs)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", ch, err)
	}
	log.WithFields(log.Fields{
		"track":       ch.String(),
		"revolutions": len(captures),
		"rpm":         fluxData.Info[0].RPM(),
	}).Debug("supercardpro: captured")
	return captures, nil
}
