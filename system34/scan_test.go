package system34

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sergev/floppyflux/codec"
	"github.com/sergev/floppyflux/geom"
	"github.com/sergev/floppyflux/pll"
)

func encodeTrack(t *testing.T, count int, rate geom.DataRate) codec.TrackCodec {
	t.Helper()
	sectors := FormatSectors(geom.Ch{Cyl: 3, Head: 1}, count, 2, 0x0f)
	w := NewWriter(TrackBits(rate, geom.Rpm300))
	bits := w.EncodeTrackIBMPC(sectors, rate)
	if bits.IsEmpty() {
		t.Fatalf("EncodeTrackIBMPC returned an empty track")
	}
	return codec.NewMfm(bits, 0, nil)
}

func TestScanCountSectors(t *testing.T) {
	testCases := []struct {
		name    string
		sectors int
		rate    geom.DataRate
	}{
		{"15 sectors", 15, geom.Rate500K},
		{"18 sectors", 18, geom.Rate500K},
		{"9 sectors", 9, geom.Rate250K},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			track := Scan(encodeTrack(t, tc.sectors, tc.rate))
			if len(track.Sectors) != tc.sectors {
				t.Fatalf("found %d sectors, want %d", len(track.Sectors), tc.sectors)
			}
			for i, s := range track.Sectors {
				if !s.IDCrcOK || !s.HasData || !s.DataCrcOK {
					t.Errorf("sector %d: %+v", i, s)
				}
				if s.ID.Cyl != 3 || s.ID.Head != 1 || int(s.ID.Sector) != i+1 || s.ID.N != 2 {
					t.Errorf("sector %d id = %v", i, s.ID)
				}
			}
			if got, want := track.Score(), 3*tc.sectors; got != want {
				t.Errorf("Score = %d, want %d", got, want)
			}
			if track.Markers[0].Kind != IAM {
				t.Errorf("first marker = %v, want IAM", track.Markers[0].Kind)
			}
		})
	}
}

func TestScanDataRanges(t *testing.T) {
	c := encodeTrack(t, 9, geom.Rate250K)
	track := Scan(c)
	s, ok := track.Find(5)
	if !ok {
		t.Fatalf("sector 5 not found")
	}
	if !c.IsData(s.DataOffset, false) || !c.IsData(s.DataEnd, false) {
		t.Errorf("data field of sector 5 not registered")
	}
	if c.IsData(s.IDOffset, false) {
		t.Errorf("ID field of sector 5 reported as data")
	}
}

func TestReadWriteSector(t *testing.T) {
	c := encodeTrack(t, 9, geom.Rate250K)
	track := Scan(c)
	s, ok := track.Find(2)
	if !ok {
		t.Fatalf("sector 2 not found")
	}

	data, good, err := ReadSector(c, s)
	if err != nil || !good {
		t.Fatalf("ReadSector = (%v, %v)", good, err)
	}
	if !bytes.Equal(data, bytes.Repeat([]byte{0x0f}, 512)) {
		t.Errorf("sector data mismatch")
	}

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	if err := WriteSector(c, s, payload); err != nil {
		t.Fatalf("WriteSector: %v", err)
	}
	data, good, err = ReadSector(c, s)
	if err != nil || !good || !bytes.Equal(data, payload) {
		t.Errorf("after write: good %v err %v equal %v", good, err, bytes.Equal(data, payload))
	}

	track = Scan(c)
	if got := track.Score(); got != 27 {
		t.Errorf("Score after write = %d, want 27", got)
	}

	if err := WriteSector(c, s, payload[:100]); !errors.Is(err, ErrSectorSize) {
		t.Errorf("short write error = %v", err)
	}
	if _, _, err := ReadSector(c, Sector{}); !errors.Is(err, ErrNoData) {
		t.Errorf("ReadSector without data = %v", err)
	}
}

func TestWriteSectorKeepsMark(t *testing.T) {
	testCases := []struct {
		name    string
		mark    byte
		deleted bool
	}{
		{"FA", 0xFA, false},
		{"F9", 0xF9, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := encodeTrack(t, 9, geom.Rate250K)
			s, _ := Scan(c).Find(4)
			c.WriteEncodedBuf([]byte{tc.mark}, s.DataOffset-codec.MfmByteLen)

			s, ok := Scan(c).Find(4)
			if !ok || s.Mark != tc.mark || s.Deleted != tc.deleted || s.DataCrcOK {
				t.Fatalf("after mark change: %+v", s)
			}
			data := bytes.Repeat([]byte{0x5A}, s.Size())
			if err := WriteSector(c, s, data); err != nil {
				t.Fatalf("WriteSector: %v", err)
			}
			s, _ = Scan(c).Find(4)
			if s.Mark != tc.mark || !s.DataCrcOK {
				t.Errorf("after write: %+v", s)
			}
			if got, ok, err := ReadSector(c, s); err != nil || !ok || !bytes.Equal(got, data) {
				t.Errorf("ReadSector = %v, %v", ok, err)
			}
		})
	}
}

func TestScanBadCrc(t *testing.T) {
	c := encodeTrack(t, 9, geom.Rate250K)
	s, _ := Scan(c).Find(4)
	// Flip one data byte without touching the CRC.
	b, _ := c.ReadDecodedU8(s.DataOffset)
	c.WriteEncodedBuf([]byte{^b}, s.DataOffset)

	track := Scan(c)
	s, _ = track.Find(4)
	if s.DataCrcOK {
		t.Errorf("corrupted sector reported good")
	}
	if got := track.Score(); got != 8*3+1-1 {
		t.Errorf("Score = %d, want %d", got, 8*3)
	}
}

func TestScanGcr(t *testing.T) {
	c := codec.NewGcr(encodeTrack(t, 9, geom.Rate250K).Data(), 0, nil)
	if track := Scan(c); len(track.Sectors) != 0 {
		t.Errorf("GCR scan found %d sectors", len(track.Sectors))
	}
}

// A synthetic track survives conversion to flux and back through the PLL.
func TestScanThroughPll(t *testing.T) {
	sectors := FormatSectors(geom.Ch{}, 18, 2, 0xE5)
	bits := NewWriter(TrackBits(geom.Rate500K, geom.Rpm300)).EncodeTrackIBMPC(sectors, geom.Rate500K)

	deltas, err := GenerateFluxDeltas(bits, geom.Rate500K, geom.Rpm300)
	if err != nil {
		t.Fatalf("GenerateFluxDeltas: %v", err)
	}
	p := pll.New()
	p.SetClock(1e6, 0)
	res := p.Decode(deltas, codec.EncodingMFM)
	if len(res.Markers) < 2*18 {
		t.Errorf("PLL saw %d markers, want at least %d", len(res.Markers), 2*18)
	}

	track := Scan(codec.NewMfm(res.Bits, 0, nil))
	if track.Score() != 3*18 {
		t.Errorf("Score = %d, want %d (%s)", track.Score(), 3*18, track)
	}
}
