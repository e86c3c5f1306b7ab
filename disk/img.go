package disk

import (
	"fmt"
	"io"
	"os"

	"github.com/sergev/floppyflux/geom"
)

const imgSectorSize = 512

// imgGeometry is a raw image layout.
type imgGeometry struct {
	cyls, heads, sectors int
}

// Common PC layouts, tried before factoring.
var imgLayouts = []imgGeometry{
	{80, 2, 18}, // 1.44M
	{80, 2, 9},  // 720K
	{40, 2, 9},  // 360K
	{80, 2, 15}, // 1.2M
	{80, 2, 36}, // 2.88M
	{80, 2, 21}, // 1.68M DMF
	{80, 2, 10}, // 800K
	{40, 2, 8},  // 320K
	{40, 1, 9},  // 180K
	{40, 1, 8},  // 160K
}

// detectIMGGeometry finds the layout of a raw image from its size.
func detectIMGGeometry(size int64) (imgGeometry, error) {
	if size%imgSectorSize != 0 {
		return imgGeometry{}, fmt.Errorf("file size %d is not divisible by sector size %d", size, imgSectorSize)
	}
	total := int(size / imgSectorSize)
	for _, g := range imgLayouts {
		if g.cyls*g.heads*g.sectors == total {
			return g, nil
		}
	}
	for heads := 2; heads > 0; heads-- {
		if total%heads != 0 {
			continue
		}
		perSide := total / heads
		for cyls := 80; cyls >= 40; cyls -= 40 {
			if perSide%cyls == 0 {
				if spt := perSide / cyls; spt >= 8 && spt <= 18 {
					return imgGeometry{cyls, heads, spt}, nil
				}
			}
		}
	}
	return imgGeometry{}, fmt.Errorf("unable to determine geometry for %d sectors", total)
}

// rateForSectors picks the data rate and speed of a PC format.
func rateForSectors(spt int) (geom.DataRate, geom.RPM) {
	switch {
	case spt >= 36:
		return geom.Rate1M, geom.Rpm300
	case spt == 15:
		return geom.Rate500K, geom.Rpm360
	case spt > 12:
		return geom.Rate500K, geom.Rpm300
	default:
		return geom.Rate250K, geom.Rpm300
	}
}

// readIMG builds metasector tracks from a raw image.
func readIMG(r io.Reader, size int64, src SourceEntry) (*Image, error) {
	g, err := detectIMGGeometry(size)
	if err != nil {
		return nil, fmt.Errorf("failed to detect format: %w", err)
	}
	rate, rpm := rateForSectors(g.sectors)
	img := NewImage()
	for cyl := 0; cyl < g.cyls; cyl++ {
		for head := 0; head < g.heads; head++ {
			ch := geom.Ch{Cyl: uint16(cyl), Head: uint8(head)}
			m := &MetaSectorTrack{Ch: ch, DataRate: rate, RPM: rpm}
			for s := 1; s <= g.sectors; s++ {
				data := make([]byte, imgSectorSize)
				if _, err := io.ReadFull(r, data); err != nil {
					return nil, fmt.Errorf("failed to read sector %d of track %v: %w", s, ch, err)
				}
				m.Sectors = append(m.Sectors, Sector{
					ID:   geom.Chsn{Chs: geom.Chs{Cyl: ch.Cyl, Head: ch.Head, Sector: uint8(s)}, N: 2},
					Data: data,
				})
			}
			img.AddTrack(NewMetaSector(m), src)
		}
	}
	return img, nil
}

func loadIMG(path string) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	return readIMG(file, info.Size(), SourceEntry{Path: path, Format: FormatIMG})
}

// writeIMG writes every sector in cylinder, head, sector order. The
// sector count per track is taken from track 0.
func writeIMG(w io.Writer, img *Image) error {
	cyls, heads := img.Geometry()
	_, first, err := img.TrackByCh(geom.Ch{})
	if err != nil {
		return err
	}
	spt := len(first.Sectors())
	if spt < 8 || (spt > 23 && spt != 36) {
		return fmt.Errorf("invalid number of sectors per track: %d (valid values: 8-23, 36)", spt)
	}
	for cyl := 0; cyl < cyls; cyl++ {
		for head := 0; head < heads; head++ {
			_, t, err := img.TrackByCh(geom.Ch{Cyl: uint16(cyl), Head: uint8(head)})
			if err != nil {
				return err
			}
			for s := 1; s <= spt; s++ {
				data, ok, err := t.ReadSector(uint8(s))
				if err != nil {
					return fmt.Errorf("missing sector %d of track %v: %w", s, t.Ch(), err)
				}
				if !ok {
					return fmt.Errorf("bad CRC in sector %d of track %v", s, t.Ch())
				}
				if len(data) != imgSectorSize {
					return fmt.Errorf("sector %d of track %v has %d bytes", s, t.Ch(), len(data))
				}
				if _, err := w.Write(data); err != nil {
					return fmt.Errorf("failed to write sector %d of track %v: %w", s, t.Ch(), err)
				}
			}
		}
	}
	return nil
}
