package disk

import (
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/sergev/floppyflux/codec"
	"github.com/sergev/floppyflux/flux"
	"github.com/sergev/floppyflux/geom"
	"github.com/sergev/floppyflux/hfe"
	"github.com/sergev/floppyflux/scp"
	"github.com/sergev/floppyflux/system34"
)

// LoadOptions steer the decoding of flux and bitstream images.
type LoadOptions struct {
	ClockHint float64  // bitcell in seconds, 0 for auto
	RPM       geom.RPM // 0 for auto
	Tuning    flux.Tuning

	// Zero runs longer than WeakRun bits become weak bits on bitstream
	// tracks stored without a weak mask. 0 selects codec.WeakBitRun.
	WeakRun int
}

// Load reads an image, picking the container by signature and then by
// extension.
func Load(path string) (*Image, error) {
	return LoadWithOptions(path, LoadOptions{})
}

func LoadWithOptions(path string, opts LoadOptions) (*Image, error) {
	format, err := sniff(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatHFE:
		d, err := hfe.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return fromHFE(d, SourceEntry{Path: path, Format: FormatHFE}, opts.WeakRun), nil
	case FormatSCP:
		d, err := scp.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return fromSCP(d, SourceEntry{Path: path, Format: FormatSCP}, opts), nil
	case FormatIMG:
		return loadIMG(path)
	}
	return nil, fmt.Errorf("%w: image format of %s", ErrUnsupported, path)
}

func sniff(path string) (Format, error) {
	file, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()
	head := make([]byte, 8)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, fmt.Errorf("failed to read file: %w", err)
	}
	if f := DetectSignature(head[:n]); f != FormatUnknown {
		return f, nil
	}
	return DetectFormat(path), nil
}

func fromHFE(d *hfe.Disk, src SourceEntry, weakRun int) *Image {
	if weakRun <= 0 {
		weakRun = codec.WeakBitRun
	}
	img := NewImage()
	for cyl := range d.Tracks {
		for head := 0; head < d.Heads(); head++ {
			ch := geom.Ch{Cyl: uint16(cyl), Head: uint8(head)}
			bits, weak, ok := d.Bitstream(ch)
			if !ok {
				continue
			}
			c := codec.New(d.Encoding(), bits, 0, weak)
			if weak == nil {
				detectWeakBits(ch, c, weakRun)
			}
			img.AddTrack(NewBitStream(NewBitStreamTrack(ch, c, d.DataRate(), d.RPM())), src)
		}
	}
	return img
}

// detectWeakBits marks long zero runs of c as weak.
func detectWeakBits(ch geom.Ch, c codec.TrackCodec, run int) {
	mask := c.CreateWeakBitMask(run)
	if mask.Count() == 0 {
		return
	}
	log.Debugf("disk: %v: detected %d weak bits", ch, mask.Count())
	if err := c.SetWeakMask(mask); err != nil {
		log.Warnf("disk: %v: %v", ch, err)
	}
}

// DecodeCaptures builds a flux track from captured revolutions. A track
// that fails to decode is returned unresolved.
func DecodeCaptures(ch geom.Ch, captures []flux.Capture, opts LoadOptions) Track {
	ft := flux.NewTrack(ch)
	ft.SetTuning(opts.Tuning)
	ft.AddCaptures(captures)
	if err := ft.Resolve(opts.ClockHint, opts.RPM); err != nil {
		log.Warnf("disk: %v", err)
	}
	return NewFluxStream(ft)
}

func fromSCP(d *scp.Disk, src SourceEntry, opts LoadOptions) *Image {
	img := NewImage()
	for _, t := range d.Tracks {
		track := DecodeCaptures(t.Ch, t.Revolutions, opts)
		id := img.AddTrack(track, src)
		if enc := track.Encoding(); enc != codec.EncodingMFM {
			img.Annotate(id, "encoding", enc.String())
		}
	}
	return img
}

// Save writes img in the format named by the file extension. HFE images
// are written as version 3 when any track carries weak bits.
func Save(path string, img *Image) error {
	var err error
	switch format := DetectFormat(path); format {
	case FormatHFE:
		var d *hfe.Disk
		var version hfe.Version
		if d, version, err = toHFE(img); err == nil {
			err = hfe.WriteFile(path, d, version)
		}
	case FormatSCP:
		var d *scp.Disk
		if d, err = toSCP(img); err == nil {
			err = scp.WriteFile(path, d)
		}
	case FormatIMG:
		var file *os.File
		if file, err = os.Create(path); err != nil {
			return fmt.Errorf("failed to create file: %w", err)
		}
		err = writeIMG(file, img)
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	default:
		return fmt.Errorf("%w: cannot save %s as %v", ErrUnsupported, path, format)
	}
	return err
}

// toHFE takes the layout of the first resolved track.
func toHFE(img *Image) (*hfe.Disk, hfe.Version, error) {
	cyls, heads := img.Geometry()
	var d *hfe.Disk
	version := hfe.Version1
	for _, t := range img.Tracks() {
		c, ok := t.Codec()
		if !ok {
			log.Warnf("disk: %v: skipped, not resolved", t.Ch())
			continue
		}
		if d == nil {
			d = hfe.NewDisk(cyls, heads, t.DataRate(), t.RPM(), t.Encoding())
		}
		weak := c.WeakMask()
		if weak.Count() > 0 {
			version = hfe.Version3
		}
		d.SetBitstream(t.Ch(), c.Data(), weak)
	}
	if d == nil {
		return nil, 0, fmt.Errorf("%w: no resolved tracks", ErrUnresolved)
	}
	return d, version, nil
}

// toSCP keeps captured revolutions of flux tracks and synthesizes one
// revolution for every other track.
func toSCP(img *Image) (*scp.Disk, error) {
	var d *scp.Disk
	for _, t := range img.Tracks() {
		if d == nil {
			d = scp.NewDisk(scp.DiskTypeFor(t.DataRate(), t.RPM()), t.RPM())
		}
		var revs []flux.Capture
		if ft, ok := t.FluxStream(); ok {
			for _, r := range ft.Revolutions() {
				if r.Type == flux.Source {
					revs = append(revs, flux.Capture{Deltas: r.FluxDeltas, IndexTime: r.IndexTime})
				}
			}
		}
		if len(revs) == 0 {
			c, ok := t.Codec()
			if !ok {
				log.Warnf("disk: %v: skipped, no flux", t.Ch())
				continue
			}
			deltas, err := system34.GenerateFluxDeltas(c.Data(), t.DataRate(), t.RPM())
			if err != nil {
				return nil, fmt.Errorf("track %v: %w", t.Ch(), err)
			}
			revs = []flux.Capture{{Deltas: deltas, IndexTime: t.RPM().IndexTime()}}
		}
		if err := d.AddTrack(t.Ch(), revs); err != nil {
			return nil, err
		}
	}
	if d == nil {
		return nil, fmt.Errorf("%w: empty image", ErrNoTrack)
	}
	return d, nil
}
