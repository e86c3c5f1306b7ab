package disk

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/sergev/floppyflux/codec"
	"github.com/sergev/floppyflux/geom"
	"github.com/sergev/floppyflux/system34"
)

func TestDetectFormat(t *testing.T) {
	testCases := []struct {
		filename string
		want     Format
	}{
		{"disk.hfe", FormatHFE},
		{"DISK.HFE", FormatHFE},
		{"capture.scp", FormatSCP},
		{"dos.img", FormatIMG},
		{"dos.IMA", FormatIMG},
		{"archive.td0", FormatUnknown},
		{"noext", FormatUnknown},
		{"dir.hfe/file", FormatUnknown},
	}
	for _, tc := range testCases {
		if got := DetectFormat(tc.filename); got != tc.want {
			t.Errorf("DetectFormat(%q) = %v, want %v", tc.filename, got, tc.want)
		}
	}
}

func TestDetectSignature(t *testing.T) {
	testCases := []struct {
		head string
		want Format
	}{
		{"HXCPICFE", FormatHFE},
		{"HXCHFEV3", FormatHFE},
		{"SCP\x22\x80", FormatSCP},
		{"\xeb\x3c\x90MSDOS", FormatUnknown},
		{"", FormatUnknown},
	}
	for _, tc := range testCases {
		if got := DetectSignature([]byte(tc.head)); got != tc.want {
			t.Errorf("DetectSignature(%q) = %v, want %v", tc.head, got, tc.want)
		}
	}
}

func TestDetectIMGGeometry(t *testing.T) {
	testCases := []struct {
		name    string
		size    int64
		want    imgGeometry
		wantErr bool
	}{
		{"1.44M", 1474560, imgGeometry{80, 2, 18}, false},
		{"720K", 737280, imgGeometry{80, 2, 9}, false},
		{"360K", 368640, imgGeometry{40, 2, 9}, false},
		{"1.2M", 1228800, imgGeometry{80, 2, 15}, false},
		{"2.88M", 2949120, imgGeometry{80, 2, 36}, false},
		{"160K", 163840, imgGeometry{40, 1, 8}, false},
		{"factored 40x2x12", 40 * 2 * 12 * 512, imgGeometry{40, 2, 12}, false},
		{"not sector aligned", 1000, imgGeometry{}, true},
		{"no layout", 7 * 512, imgGeometry{}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := detectIMGGeometry(tc.size)
			if (err != nil) != tc.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("geometry = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestRateForSectors(t *testing.T) {
	testCases := []struct {
		spt  int
		rate geom.DataRate
		rpm  geom.RPM
	}{
		{9, geom.Rate250K, geom.Rpm300},
		{15, geom.Rate500K, geom.Rpm360},
		{18, geom.Rate500K, geom.Rpm300},
		{36, geom.Rate1M, geom.Rpm300},
	}
	for _, tc := range testCases {
		if rate, rpm := rateForSectors(tc.spt); rate != tc.rate || rpm != tc.rpm {
			t.Errorf("rateForSectors(%d) = %v, %v", tc.spt, rate, rpm)
		}
	}
}

func TestIMGThroughHFE(t *testing.T) {
	dir := t.TempDir()
	raw := make([]byte, 368640)
	rand.New(rand.NewSource(1)).Read(raw)
	imgPath := filepath.Join(dir, "dos.img")
	if err := os.WriteFile(imgPath, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	img, err := Load(imgPath)
	if err != nil {
		t.Fatalf("Load(img) error: %v", err)
	}
	if img.Len() != 80 {
		t.Fatalf("%d tracks, want 80", img.Len())
	}
	_, tr, err := img.TrackByCh(geom.Ch{Cyl: 1, Head: 1})
	if err != nil || tr.Kind() != KindMetaSector {
		t.Fatalf("track 1.1: %v %v", tr.Kind(), err)
	}
	// Track 1.1 is the fourth track in the file.
	offset := ((1*2+1)*9 + 2) * 512
	if data, _, _ := tr.ReadSector(3); !bytes.Equal(data, raw[offset:offset+512]) {
		t.Errorf("sector 3 of track 1.1 does not match the raw image")
	}

	hfePath := filepath.Join(dir, "dos.hfe")
	if err := Save(hfePath, img); err != nil {
		t.Fatalf("Save(hfe) error: %v", err)
	}
	bitImg, err := Load(hfePath)
	if err != nil {
		t.Fatalf("Load(hfe) error: %v", err)
	}
	id, tr, err := bitImg.TrackByCh(geom.Ch{Cyl: 39, Head: 1})
	if err != nil || tr.Kind() != KindBitStream || tr.DataRate() != geom.Rate250K {
		t.Fatalf("track 39.1: %v %v %v", tr.Kind(), tr.DataRate(), err)
	}
	if src, _ := bitImg.Source(id); src.Format != FormatHFE || src.Path != hfePath {
		t.Errorf("source = %+v", src)
	}

	outPath := filepath.Join(dir, "copy.ima")
	if err := Save(outPath, bitImg); err != nil {
		t.Fatalf("Save(ima) error: %v", err)
	}
	out, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, raw) {
		t.Errorf("IMG -> HFE -> IMG changed the data")
	}
}

func TestSCPRoundTrip(t *testing.T) {
	dir := t.TempDir()
	img := NewImage()
	for _, ch := range []geom.Ch{{Cyl: 0, Head: 0}, {Cyl: 0, Head: 1}} {
		img.AddTrack(NewMetaSector(metaTrack(ch, 18, geom.Rate500K)), SourceEntry{})
	}
	want := metaTrack(geom.Ch{Cyl: 0, Head: 1}, 18, geom.Rate500K)

	path := filepath.Join(dir, "synth.scp")
	if err := Save(path, img); err != nil {
		t.Fatalf("Save(scp) error: %v", err)
	}
	fluxImg, err := LoadWithOptions(path, LoadOptions{RPM: geom.Rpm300})
	if err != nil {
		t.Fatalf("Load(scp) error: %v", err)
	}
	_, tr, err := fluxImg.TrackByCh(geom.Ch{Cyl: 0, Head: 1})
	if err != nil || tr.Kind() != KindFluxStream {
		t.Fatalf("track 0.1: %v %v", tr.Kind(), err)
	}
	info := tr.Info()
	if !info.Resolved || info.GoodSectors != 18 || info.DataRate != 500 || info.Revolutions != 1 {
		t.Errorf("Info() = %+v", info)
	}
	if data, ok, err := tr.ReadSector(18); err != nil || !ok || !bytes.Equal(data, want.Sectors[17].Data) {
		t.Errorf("ReadSector(18) = %v, %v", ok, err)
	}

	// Captured revolutions are written back as they are.
	again := filepath.Join(dir, "again.bin.scp")
	if err := Save(again, fluxImg); err != nil {
		t.Fatalf("Save(scp) of flux image error: %v", err)
	}
	if _, err := Load(again); err != nil {
		t.Errorf("Load(again) error: %v", err)
	}
	if err := Save(filepath.Join(dir, "decoded.hfe"), fluxImg); err != nil {
		t.Errorf("Save(hfe) of flux image error: %v", err)
	}
}

func TestWeakRunsSurviveHFE(t *testing.T) {
	dir := t.TempDir()
	ch := geom.Ch{Cyl: 3}
	m := metaTrack(ch, 9, geom.Rate250K)
	bits := m.Render().Data().Clone()
	s, ok := system34.Scan(codec.NewMfm(bits, 0, nil)).Find(5)
	if !ok {
		t.Fatalf("sector 5 not found")
	}
	for i := s.DataOffset + 160; i < s.DataOffset+224; i++ {
		bits.Set(i, false)
	}
	img := NewImage()
	img.AddTrack(NewBitStream(NewBitStreamTrack(ch, codec.NewMfm(bits, 0, nil), m.DataRate, m.RPM)), SourceEntry{})

	weakMask := func(img *Image) int {
		t.Helper()
		_, tr, err := img.TrackByCh(ch)
		if err != nil {
			t.Fatalf("TrackByCh() error: %v", err)
		}
		c, _ := tr.Codec()
		if !tr.HasWeakBits() {
			t.Errorf("HasWeakBits() = false")
		}
		return c.WeakMask().Count()
	}

	// No weak mask in a version 1 file: zero runs are detected on load.
	first := filepath.Join(dir, "first.hfe")
	if err := Save(first, img); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	loaded, err := Load(first)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if n := weakMask(loaded); n < 64 {
		t.Fatalf("detected %d weak bits, want at least 64", n)
	}

	// Saved again the mask is kept, even when detection is off.
	second := filepath.Join(dir, "second.hfe")
	if err := Save(second, loaded); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	reloaded, err := LoadWithOptions(second, LoadOptions{WeakRun: 1 << 20})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if n := weakMask(reloaded); n == 0 {
		t.Errorf("weak bits lost on save")
	}
}

func TestLoadBySignature(t *testing.T) {
	dir := t.TempDir()
	img := NewImage()
	img.AddTrack(NewMetaSector(metaTrack(geom.Ch{}, 9, geom.Rate250K)), SourceEntry{})
	path := filepath.Join(dir, "a.hfe")
	if err := Save(path, img); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	renamed := filepath.Join(dir, "a.bin")
	if err := os.Rename(path, renamed); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(renamed)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Len() != 1 {
		t.Errorf("%d tracks, want 1", loaded.Len())
	}
}

func TestUnsupported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.td0")
	if err := os.WriteFile(path, []byte("TD"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Load() error = %v", err)
	}
	if err := Save(path, NewImage()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Save() error = %v", err)
	}
	if err := Save(filepath.Join(dir, "x.hfe"), NewImage()); !errors.Is(err, ErrUnresolved) {
		t.Errorf("Save(empty hfe) error = %v", err)
	}
	if err := Save(filepath.Join(dir, "x.scp"), NewImage()); !errors.Is(err, ErrNoTrack) {
		t.Errorf("Save(empty scp) error = %v", err)
	}
}
