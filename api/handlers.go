package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sergev/floppyflux/bitring"
	"github.com/sergev/floppyflux/codec"
	"github.com/sergev/floppyflux/disk"
)

// Largest raw read served in one request
const maxRawBytes = 64 * 1024

// TrackEntry is one element of the track list.
type TrackEntry struct {
	ID disk.TrackID `json:"id"`
	disk.TrackInfo
	Source disk.SourceEntry `json:"source"`
}

// SectorData carries sector contents as hex.
type SectorData struct {
	Sector uint8  `json:"sector"`
	CrcOK  bool   `json:"crc_ok"`
	Data   string `json:"data"`
}

// RawData is a window of raw track bits.
type RawData struct {
	Offset int    `json:"offset"` // bits
	Length int    `json:"length"` // bytes
	Data   string `json:"data"`
}

// MarkerEntry is an address mark found on a track.
type MarkerEntry struct {
	Kind   string `json:"kind"`
	Offset int    `json:"offset"`
}

// Region is an inclusive range of bit offsets.
type Region struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// WeakInfo describes the weak bits of a track: the recorded mask and
// the zero runs long enough to be read back randomly.
type WeakInfo struct {
	Bits     int      `json:"bits"`
	Mask     []Region `json:"mask"`
	Detected []Region `json:"detected"`
}

// withTrack runs fn on the addressed track under a read lock and sends
// its result as JSON.
func withTrack[R any](s *Server, w http.ResponseWriter, req *http.Request, fn func(disk.Track) (R, error)) {
	ch, err := trackAddr(req)
	if handleError(err, http.StatusBadRequest, w) {
		return
	}
	reply, err := disk.WithRead(s.image, s.holder(req), func(img *disk.Image) (R, error) {
		_, t, err := img.TrackByCh(ch)
		if err != nil {
			var zero R
			return zero, err
		}
		return fn(t)
	})
	if handleError(err, statusFor(err), w) {
		return
	}
	sendJSONReply(reply, http.StatusOK, w)
}

func (s *Server) tracks(w http.ResponseWriter, req *http.Request) {
	reply, err := disk.WithRead(s.image, s.holder(req), func(img *disk.Image) ([]TrackEntry, error) {
		list := []TrackEntry{}
		for id, t := range img.Tracks() {
			src, _ := img.Source(id)
			list = append(list, TrackEntry{ID: id, TrackInfo: t.Info(), Source: src})
		}
		return list, nil
	})
	if handleError(err, statusFor(err), w) {
		return
	}
	sendJSONReply(reply, http.StatusOK, w)
}

func (s *Server) track(w http.ResponseWriter, req *http.Request) {
	withTrack(s, w, req, func(t disk.Track) (disk.TrackInfo, error) {
		return t.Info(), nil
	})
}

func (s *Server) sectors(w http.ResponseWriter, req *http.Request) {
	withTrack(s, w, req, func(t disk.Track) ([]disk.SectorInfo, error) {
		list := t.Sectors()
		if list == nil {
			list = []disk.SectorInfo{}
		}
		return list, nil
	})
}

func (s *Server) readSector(w http.ResponseWriter, req *http.Request) {
	n, err := sectorNumber(req)
	if handleError(err, http.StatusBadRequest, w) {
		return
	}
	withTrack(s, w, req, func(t disk.Track) (SectorData, error) {
		data, ok, err := t.ReadSector(n)
		if err != nil {
			return SectorData{}, err
		}
		return SectorData{Sector: n, CrcOK: ok, Data: hex.EncodeToString(data)}, nil
	})
}

func (s *Server) writeSector(w http.ResponseWriter, req *http.Request) {
	ch, err := trackAddr(req)
	if handleError(err, http.StatusBadRequest, w) {
		return
	}
	n, err := sectorNumber(req)
	if handleError(err, http.StatusBadRequest, w) {
		return
	}

	var body SectorData
	dec := json.NewDecoder(io.LimitReader(req.Body, 2*maxRawBytes))
	if handleError(dec.Decode(&body), http.StatusBadRequest, w) {
		return
	}
	data, err := hex.DecodeString(body.Data)
	if handleError(err, http.StatusBadRequest, w) {
		return
	}

	reply, err := disk.WithWrite(s.image, s.holder(req), func(g *disk.WriteGuard[*disk.Image, string]) (SectorData, error) {
		_, t, err := g.Value().TrackByCh(ch)
		if err != nil {
			return SectorData{}, err
		}
		if err := t.WriteSector(n, data); err != nil {
			return SectorData{}, err
		}
		back, ok, err := t.ReadSector(n)
		if err != nil {
			return SectorData{}, err
		}
		return SectorData{Sector: n, CrcOK: ok, Data: hex.EncodeToString(back)}, nil
	})
	if handleError(err, statusFor(err), w) {
		return
	}
	sendJSONReply(reply, http.StatusOK, w)
}

func (s *Server) raw(w http.ResponseWriter, req *http.Request) {
	offset, err := intArg(req, "offset", 0)
	if handleError(err, http.StatusBadRequest, w) {
		return
	}
	length, err := intArg(req, "length", -1)
	if handleError(err, http.StatusBadRequest, w) {
		return
	}
	withTrack(s, w, req, func(t disk.Track) (RawData, error) {
		c, err := resolvedCodec(t)
		if err != nil {
			return RawData{}, err
		}
		if offset >= c.Len() {
			return RawData{}, fmt.Errorf("%w: offset %d beyond %d bits", disk.ErrUnsupported, offset, c.Len())
		}
		n := length
		if n < 0 {
			n = c.Len() / 8
		}
		n = min(n, maxRawBytes)
		buf := make([]byte, n)
		c.ReadRawBuf(buf, offset)
		return RawData{Offset: offset, Length: n, Data: hex.EncodeToString(buf)}, nil
	})
}

func (s *Server) markers(w http.ResponseWriter, req *http.Request) {
	withTrack(s, w, req, func(t disk.Track) ([]MarkerEntry, error) {
		layout, _, err := t.Layout()
		if err != nil {
			return nil, err
		}
		list := make([]MarkerEntry, len(layout.Markers))
		for i, m := range layout.Markers {
			list[i] = MarkerEntry{Kind: m.Kind.String(), Offset: m.Offset}
		}
		return list, nil
	})
}

func (s *Server) weak(w http.ResponseWriter, req *http.Request) {
	run, err := intArg(req, "run", s.weakRun)
	if handleError(err, http.StatusBadRequest, w) {
		return
	}
	if run == 0 {
		run = codec.WeakBitRun
	}
	withTrack(s, w, req, func(t disk.Track) (WeakInfo, error) {
		c, err := resolvedCodec(t)
		if err != nil {
			return WeakInfo{}, err
		}
		mask := c.WeakMask()
		info := WeakInfo{
			Bits:     mask.Count(),
			Mask:     maskRegions(mask),
			Detected: []Region{},
		}
		for _, r := range c.DetectWeakRegions(run) {
			info.Detected = append(info.Detected, Region{Start: r.Start, End: r.End})
		}
		return info, nil
	})
}

func resolvedCodec(t disk.Track) (codec.TrackCodec, error) {
	c, ok := t.Codec()
	if !ok {
		return nil, fmt.Errorf("%w: %v", disk.ErrUnresolved, t.Ch())
	}
	return c, nil
}

// maskRegions lists the runs of set bits.
func maskRegions(mask *bitring.BitVec) []Region {
	regions := []Region{}
	start := -1
	for i := 0; i < mask.Len(); i++ {
		switch {
		case mask.Get(i) && start < 0:
			start = i
		case !mask.Get(i) && start >= 0:
			regions = append(regions, Region{Start: start, End: i - 1})
			start = -1
		}
	}
	if start >= 0 {
		regions = append(regions, Region{Start: start, End: mask.Len() - 1})
	}
	return regions
}
