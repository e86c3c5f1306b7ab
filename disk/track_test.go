package disk

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/sergev/floppyflux/bitring"
	"github.com/sergev/floppyflux/codec"
	"github.com/sergev/floppyflux/flux"
	"github.com/sergev/floppyflux/geom"
	"github.com/sergev/floppyflux/system34"
)

// metaTrack returns a formatted track whose sectors hold distinct data.
func metaTrack(ch geom.Ch, count int, rate geom.DataRate) *MetaSectorTrack {
	m := &MetaSectorTrack{Ch: ch, DataRate: rate, RPM: geom.Rpm300}
	for _, s := range system34.FormatSectors(ch, count, 2, 0) {
		data := make([]byte, len(s.Data))
		for j := range data {
			data[j] = byte(int(s.ID.Sector)*31 + j)
		}
		m.Sectors = append(m.Sectors, Sector{ID: s.ID, Data: data})
	}
	return m
}

func fluxTrack(t *testing.T, m *MetaSectorTrack) *flux.Track {
	t.Helper()
	c := m.Render()
	deltas, err := system34.GenerateFluxDeltas(c.Data(), m.DataRate, m.RPM)
	if err != nil {
		t.Fatalf("GenerateFluxDeltas() error: %v", err)
	}
	ft := flux.NewTrack(m.Ch)
	ft.AddRevolution(deltas, m.RPM.IndexTime())
	if err := ft.Resolve(0, 0); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	return ft
}

func TestTrackKinds(t *testing.T) {
	ch := geom.Ch{Cyl: 4, Head: 1}
	testCases := []struct {
		name  string
		kind  Kind
		track func(t *testing.T) Track
	}{
		{"metasector", KindMetaSector, func(t *testing.T) Track {
			return NewMetaSector(metaTrack(ch, 18, geom.Rate500K))
		}},
		{"bitstream", KindBitStream, func(t *testing.T) Track {
			m := metaTrack(ch, 18, geom.Rate500K)
			return NewBitStream(NewBitStreamTrack(ch, m.Render(), m.DataRate, m.RPM))
		}},
		{"fluxstream", KindFluxStream, func(t *testing.T) Track {
			return NewFluxStream(fluxTrack(t, metaTrack(ch, 18, geom.Rate500K)))
		}},
	}
	want := metaTrack(ch, 18, geom.Rate500K)

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			track := tc.track(t)
			if track.Kind() != tc.kind || track.Ch() != ch || track.Encoding() != codec.EncodingMFM {
				t.Fatalf("kind %v ch %v encoding %v", track.Kind(), track.Ch(), track.Encoding())
			}
			if _, ok := track.MetaSector(); ok != (tc.kind == KindMetaSector) {
				t.Errorf("MetaSector() ok = %v", ok)
			}
			if _, ok := track.BitStream(); ok != (tc.kind == KindBitStream) {
				t.Errorf("BitStream() ok = %v", ok)
			}
			if _, ok := track.FluxStream(); ok != (tc.kind == KindFluxStream) {
				t.Errorf("FluxStream() ok = %v", ok)
			}

			sectors := track.Sectors()
			if len(sectors) != 18 {
				t.Fatalf("%d sectors, want 18", len(sectors))
			}
			for i, s := range sectors {
				if s.ID != want.Sectors[i].ID || !s.DataCrcOK || !s.IDCrcOK {
					t.Errorf("sector %d = %+v", i, s)
				}
			}

			data, ok, err := track.ReadSector(5)
			if err != nil || !ok || !bytes.Equal(data, want.Sectors[4].Data) {
				t.Fatalf("ReadSector(5) = %d bytes, %v, %v", len(data), ok, err)
			}

			update := bytes.Repeat([]byte{0xa5}, 512)
			if err := track.WriteSector(5, update); err != nil {
				t.Fatalf("WriteSector() error: %v", err)
			}
			data, ok, err = track.ReadSector(5)
			if err != nil || !ok || !bytes.Equal(data, update) {
				t.Errorf("ReadSector(5) after write = %d bytes, %v, %v", len(data), ok, err)
			}
			if data, _, _ := track.ReadSector(6); !bytes.Equal(data, want.Sectors[5].Data) {
				t.Errorf("sector 6 changed by write to sector 5")
			}

			if err := track.WriteSector(5, update[:100]); !errors.Is(err, system34.ErrSectorSize) {
				t.Errorf("short WriteSector() error = %v", err)
			}
			if _, _, err := track.ReadSector(40); !errors.Is(err, ErrNoSector) {
				t.Errorf("ReadSector(40) error = %v", err)
			}
			if err := track.WriteSector(40, update); !errors.Is(err, ErrNoSector) {
				t.Errorf("WriteSector(40) error = %v", err)
			}

			info := track.Info()
			if info.Kind != tc.name || info.Sectors != 18 || info.GoodSectors != 18 ||
				info.DataRate != 500 || info.RPM != 300 || !info.Resolved || info.BitLength == 0 {
				t.Errorf("Info() = %+v", info)
			}
			if track.HasWeakBits() {
				t.Errorf("HasWeakBits() = true")
			}
		})
	}
}

func TestUnresolvedFluxTrack(t *testing.T) {
	track := NewFluxStream(flux.NewTrack(geom.Ch{Cyl: 1}))
	if _, ok := track.Codec(); ok {
		t.Errorf("Codec() ok for an empty flux track")
	}
	if _, _, err := track.ReadSector(1); !errors.Is(err, ErrUnresolved) {
		t.Errorf("ReadSector() error = %v", err)
	}
	if err := track.WriteSector(1, make([]byte, 512)); !errors.Is(err, ErrUnresolved) {
		t.Errorf("WriteSector() error = %v", err)
	}
	if s := track.Sectors(); s != nil {
		t.Errorf("Sectors() = %v", s)
	}
	if info := track.Info(); info.Resolved || info.Kind != "fluxstream" {
		t.Errorf("Info() = %+v", info)
	}
}

func TestRenderDoubleDensity(t *testing.T) {
	m := metaTrack(geom.Ch{Cyl: 0}, 9, geom.Rate250K)
	c := m.Render()
	scan := system34.Scan(c)
	if scan.Score() != 3*9 {
		t.Errorf("rendered track scores %d, want 27", scan.Score())
	}
	if c.Len() > system34.TrackBits(geom.Rate250K, geom.Rpm300)+16 {
		t.Errorf("rendered track is %d bits", c.Len())
	}
}

func TestConcurrentWeakSectorReads(t *testing.T) {
	ch := geom.Ch{Cyl: 1}
	m := metaTrack(ch, 9, geom.Rate250K)
	c := m.Render()
	bt := NewBitStreamTrack(ch, c, m.DataRate, m.RPM)
	if err := c.SetWeakMask(bitring.FilledVec(c.Len(), true)); err != nil {
		t.Fatalf("SetWeakMask() error: %v", err)
	}
	img := NewImage()
	img.AddTrack(NewBitStream(bt), SourceEntry{Path: "weak.hfe", Format: FormatHFE})
	lock := NewTrackingLock[*Image, int](img)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				g, err := lock.Read(id)
				if err != nil {
					errs <- err
					return
				}
				_, track, err := g.Value().TrackByCh(ch)
				if err == nil {
					_, _, err = track.ReadSector(1)
				}
				g.Release()
				if err != nil {
					errs <- err
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("ReadSector() error: %v", err)
	}
}
