package codec

import (
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/sergev/floppyflux/bitring"
)

// DefaultSeed initializes the weak bit generator of every new codec.
const DefaultSeed int64 = 0x57A857FA

// Error map bits above this count are reported.
const maxErrorBits = 16

type encodeFunc func(data []byte, prevBit bool, variant EncodingVariant) *bitring.BitVec

// stream holds the state common to all codecs: the bit ring and its
// clock, weak and error maps. Clocked streams interleave clock and data
// bits; unclocked streams (GCR) are read bit by bit.
type stream struct {
	bits     *bitring.Ring
	clockMap *bitring.Ring
	errorMap *bitring.Ring
	weakMask *bitring.Ring

	weakEnabled bool
	clocked     bool
	phase       int
	cursor      int

	dataRanges         rangeChecker
	dataRangesFiltered rangeChecker

	// Weak bits are drawn from a generator made for each read, seeded
	// from seed, the read offset and the read count.
	seed   int64
	reads  atomic.Uint64
	encode encodeFunc
}

func newStream(bits *bitring.BitVec, bitCount int, weakMask *bitring.BitVec, clocked bool, encode encodeFunc) *stream {
	if bitCount > 0 && bitCount < bits.Len() {
		bits = bits.Clone()
		bits.Truncate(bitCount)
		if weakMask != nil && weakMask.Len() > bitCount {
			weakMask = weakMask.Clone()
			weakMask.Truncate(bitCount)
		}
	}
	if weakMask != nil && weakMask.Len() != bits.Len() {
		panic(fmt.Sprintf("codec: weak mask length %d does not match bitstream length %d",
			weakMask.Len(), bits.Len()))
	}
	if weakMask == nil {
		weakMask = bitring.NewVec(bits.Len())
	}
	s := &stream{
		weakEnabled: true,
		clocked:     clocked,
		seed:        DefaultSeed,
		encode:      encode,
	}
	s.weakMask = bitring.New(weakMask)
	s.load(bits)
	return s
}

// load installs a new bitstream and rebuilds the derived maps.
func (s *stream) load(bits *bitring.BitVec) {
	s.bits = bitring.New(bits)
	s.phase = 0
	if s.clocked {
		if phase, ok := SyncPhase(bits); ok {
			s.phase = phase
		}
		s.clockMap = bitring.New(clockMapForPhase(bits.Len(), s.phase))
	} else {
		s.clockMap = bitring.Filled(bits.Len(), false)
	}
	s.clockMap.SetWrapValue(false)

	if s.weakMask.Len() != bits.Len() {
		s.weakMask = bitring.Filled(bits.Len(), false)
	}
	s.errorMap = bitring.New(createErrorMap(s.bits))
	s.cursor = s.phase
}

// clockMapForPhase marks every bit at index ≡ phase (mod 2) as a clock bit.
func clockMapForPhase(n, phase int) *bitring.BitVec {
	m := bitring.NewVec(n)
	for i := phase; i < n; i += 2 {
		m.Set(i, true)
	}
	return m
}

// createErrorMap flags bits that follow more than three consecutive zeros.
func createErrorMap(bits *bitring.Ring) *bitring.BitVec {
	errs := bitring.NewVec(bits.WrapLen())
	zeros := 0
	bad := false
	count := 0
	for i, bit := range bits.Revolution() {
		if bit {
			if zeros < 4 {
				bad = false
			}
			zeros = 0
		} else {
			zeros++
			if zeros > 3 {
				bad = true
			}
		}
		if bad {
			errs.Set(i, true)
			count++
		}
	}
	if count > maxErrorBits {
		log.Warnf("codec: bitstream has %d bits in violation of run length limits", count)
	}
	return errs
}

func (s *stream) Len() int {
	return s.bits.Len()
}

func (s *stream) IsEmpty() bool {
	return s.bits.IsEmpty()
}

// Replace swaps in a new bitstream. Clock, weak and error maps are rebuilt.
func (s *stream) Replace(bits *bitring.BitVec) {
	s.load(bits)
}

func (s *stream) Data() *bitring.BitVec {
	return s.bits.Bits()
}

func (s *stream) DataBytes() []byte {
	return s.bits.Bytes()
}

// SetClockMap replaces the clock map. It panics on a length mismatch.
func (s *stream) SetClockMap(clockMap *bitring.BitVec) {
	if clockMap.Len() != s.bits.Len() {
		panic(fmt.Sprintf("codec: clock map length %d does not match bitstream length %d",
			clockMap.Len(), s.bits.Len()))
	}
	s.clockMap = bitring.New(clockMap)
	s.clockMap.SetWrapValue(false)
}

func (s *stream) ClockMap() *bitring.BitVec {
	return s.clockMap.Bits()
}

func (s *stream) Phase() int {
	return s.phase
}

func (s *stream) EnableWeak(enable bool) {
	s.weakEnabled = enable
}

// Seed restarts the weak bit generator.
func (s *stream) Seed(seed int64) {
	s.seed = seed
	s.reads.Store(0)
}

func (s *stream) WeakMask() *bitring.BitVec {
	return s.weakMask.Bits()
}

func (s *stream) WeakData() []byte {
	return s.weakMask.Bytes()
}

func (s *stream) SetWeakMask(mask *bitring.BitVec) error {
	if mask.Len() != s.bits.Len() {
		return fmt.Errorf("%w: %d != %d", ErrWeakMaskLength, mask.Len(), s.bits.Len())
	}
	s.weakMask = bitring.New(mask)
	return nil
}

func (s *stream) HasWeakBits() bool {
	regions, _ := s.DetectWeakBits(WeakBitRun)
	return regions > 0
}

func (s *stream) ErrorMap() *bitring.BitVec {
	return s.errorMap.Bits()
}

// weakSource returns the generator for one read at offset.
func (s *stream) weakSource(offset int) *rand.Rand {
	n := s.reads.Add(1)
	return rand.New(rand.NewPCG(uint64(s.seed), uint64(offset)<<32^n))
}

// decodedBit returns bit i, substituting a random value for weak bits.
func (s *stream) decodedBit(i int, rng *rand.Rand) bool {
	if s.weakEnabled && s.weakMask.Get(i) {
		return rng.IntN(2) == 1
	}
	return s.bits.Get(i)
}

// alignClock moves index forward by one if it sits just before a clock bit.
func (s *stream) alignClock(index int) int {
	if !s.clockMap.Get(index) && s.clockMap.Get(index+1) {
		return index + 1
	}
	return index
}

func (s *stream) ReadRawU8(index int) uint8 {
	var b uint8
	for i := 0; i < 8; i++ {
		b <<= 1
		if s.bits.Get(index + i) {
			b |= 1
		}
	}
	return b
}

func (s *stream) ReadRawU32(index int) uint32 {
	var w uint32
	for i := 0; i < 32; i++ {
		w <<= 1
		if s.bits.Get(index + i) {
			w |= 1
		}
	}
	return w
}

// ReadRawBuf copies raw bits MSB-first into buf, wrapping at the end of track.
func (s *stream) ReadRawBuf(buf []byte, offset int) int {
	if s.IsEmpty() {
		return 0
	}
	for i := range buf {
		buf[i] = s.ReadRawU8(offset + i*8)
	}
	return len(buf)
}

func (s *stream) WriteRawU8(index int, b uint8) {
	for i := 0; i < 8; i++ {
		s.bits.Set(index+i, b&(0x80>>i) != 0)
	}
}

// WriteRawBuf stores buf MSB-first at offset and returns the byte count.
func (s *stream) WriteRawBuf(buf []byte, offset int) int {
	if s.IsEmpty() {
		return 0
	}
	for i, b := range buf {
		s.WriteRawU8(offset+i*8, b)
	}
	return len(buf)
}

func (s *stream) ReadDecodedU8(index int) (uint8, bool) {
	if s.IsEmpty() {
		return 0, false
	}
	return s.readDecodedU8(index, s.weakSource(index)), true
}

func (s *stream) readDecodedU8(index int, rng *rand.Rand) uint8 {
	cursor := s.alignClock(index) + 1
	var b uint8
	for i := 0; i < 8; i++ {
		b <<= 1
		if s.decodedBit(cursor, rng) {
			b |= 1
		}
		cursor += 2
	}
	return b
}

func (s *stream) ReadDecodedU32LE(index int) uint32 {
	var buf [4]byte
	s.ReadDecodedBuf(buf[:], index)
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

func (s *stream) ReadDecodedU32BE(index int) uint32 {
	var buf [4]byte
	s.ReadDecodedBuf(buf[:], index)
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}

// ReadDecodedBuf decodes len(buf) bytes starting at the raw offset.
func (s *stream) ReadDecodedBuf(buf []byte, offset int) int {
	if s.IsEmpty() {
		return 0
	}
	offset = s.alignClock(offset)
	rng := s.weakSource(offset)
	for i := range buf {
		buf[i] = s.readDecodedU8(offset+i*MfmByteLen, rng)
	}
	return len(buf)
}

// WriteEncodedBuf encodes buf as data and stores it at the raw offset.
// It returns the number of bytes covered by the written bits.
func (s *stream) WriteEncodedBuf(buf []byte, offset int) int {
	if s.IsEmpty() {
		return 0
	}
	offset = s.alignClock(offset)
	prev := false
	if offset > 0 {
		prev = s.bits.Get(offset - 1)
	}
	encoded := s.encode(buf, prev, Data)
	for i := 0; i < encoded.Len(); i++ {
		s.bits.Set(offset+i, encoded.Get(i))
	}
	return (encoded.Len() + 7) / 8
}

// FindMarker scans for marker from start up to limit (or the track end).
// It returns the offset of the first marker bit and the low 16 bits of the
// matched window. A match needs more than marker.Len bits shifted in, so
// a marker beginning exactly at start is not found: callers must start at
// least one bit before it.
func (s *stream) FindMarker(marker Marker, start, limit int) (int, uint16, bool) {
	if s.IsEmpty() {
		return 0, 0, false
	}
	end := s.bits.Len()
	if limit >= 0 {
		end = min(limit, end)
	}
	var reg uint64
	shifted := 0
	for i := start; i < end; i++ {
		reg <<= 1
		if s.bits.Get(i) {
			reg |= 1
		}
		shifted++
		if shifted > marker.Len && reg&marker.Mask == marker.Bits {
			return i - marker.Len + 1, uint16(reg), true
		}
	}
	log.Tracef("codec: marker %016x not found from %d", marker.Bits, start)
	return 0, 0, false
}

// SetDataRanges records the raw ranges holding sector data.
func (s *stream) SetDataRanges(ranges []Region) {
	s.dataRanges = newRangeChecker(ranges)
	var filtered []Region
	n := s.bits.Len()
	for _, r := range ranges {
		if r.Start < n && r.End < n {
			filtered = append(filtered, r)
		}
	}
	s.dataRangesFiltered = newRangeChecker(filtered)
}

// IsData reports whether index lies in a data range. With wrapping set,
// ranges reaching past the end of track are included.
func (s *stream) IsData(index int, wrapping bool) bool {
	if wrapping {
		return s.dataRanges.Contains(index)
	}
	return s.dataRangesFiltered.Contains(index)
}

// DetectWeakBits counts zero runs of at least run bits (regions) and bits
// following more than three zeros (bits).
func (s *stream) DetectWeakBits(run int) (int, int) {
	regions, weak, zeros := 0, 0, 0
	for _, bit := range s.bits.Revolution() {
		if bit {
			if zeros >= run {
				regions++
			}
			zeros = 0
			continue
		}
		zeros++
		if zeros > 3 {
			weak++
		}
	}
	return regions, weak
}

// DetectWeakRegions returns the zero runs of at least run bits that are
// terminated by a one.
func (s *stream) DetectWeakRegions(run int) []Region {
	var regions []Region
	zeros, start := 0, 0
	for i, bit := range s.bits.Revolution() {
		if bit {
			if zeros >= run {
				regions = append(regions, Region{Start: start, End: i - 1})
			}
			zeros = 0
			continue
		}
		zeros++
		if zeros == 1 {
			start = i
		}
	}
	return regions
}

// CreateWeakBitMask flags every zero run longer than run bits.
func (s *stream) CreateWeakBitMask(run int) *bitring.BitVec {
	mask := bitring.NewVec(s.bits.Len())
	zeros := 0
	flag := func(end int) {
		if zeros > run {
			for i := end - zeros; i < end; i++ {
				mask.Set(i, true)
			}
		}
		zeros = 0
	}
	for i, bit := range s.bits.Revolution() {
		if bit {
			flag(i)
		} else {
			zeros++
		}
	}
	flag(s.bits.WrapLen())
	log.Debugf("codec: weak bit mask has %d bits", mask.Count())
	return mask
}

// DebugMarker renders the 64 raw bits at index.
func (s *stream) DebugMarker(index int) string {
	var sb strings.Builder
	for i := 0; i < MfmMarkerLen; i++ {
		if s.bits.Get(index + i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// DebugDecode renders the data bits of the four bytes at index.
func (s *stream) DebugDecode(index int) string {
	if s.IsEmpty() {
		return ""
	}
	var sb strings.Builder
	cursor := s.alignClock(index) + 1
	for i := 0; i < 32; i++ {
		if i > 0 && i%8 == 0 {
			sb.WriteByte(' ')
		}
		if s.bits.Get(cursor) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
		cursor += 2
	}
	return sb.String()
}

// Seek positions the decoded read cursor at a raw bit offset.
func (s *stream) Seek(offset int64, whence int) (int64, error) {
	if s.IsEmpty() {
		return 0, ErrEmptyStream
	}
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(s.cursor) + offset
	case io.SeekEnd:
		pos = int64(s.bits.Len()) + offset
	default:
		return 0, fmt.Errorf("codec: invalid whence %d", whence)
	}
	if pos < 0 {
		pos = 0
	}
	s.cursor = int(pos)
	if s.clocked {
		s.cursor = s.alignClock(s.cursor)
	}
	return int64(s.cursor), nil
}

// Read decodes bytes at the cursor. Clocked streams yield one data bit
// per bit cell; unclocked streams yield raw bits. The cursor wraps at the
// end of track.
func (s *stream) Read(p []byte) (int, error) {
	if s.IsEmpty() {
		return 0, ErrEmptyStream
	}
	n := s.bits.Len()
	rng := s.weakSource(s.cursor)
	for i := range p {
		var b byte
		for j := 0; j < 8; j++ {
			b <<= 1
			if s.nextBit(rng) {
				b |= 1
			}
			if s.cursor >= n {
				s.cursor -= n
			}
		}
		p[i] = b
	}
	return len(p), nil
}

func (s *stream) nextBit(rng *rand.Rand) bool {
	if !s.clocked {
		bit := s.decodedBit(s.cursor, rng)
		s.cursor++
		return bit
	}
	if aligned := s.alignClock(s.cursor); aligned != s.cursor {
		log.Tracef("codec: read cursor realigned to clock at %d", aligned)
		s.cursor = aligned
	}
	bit := s.decodedBit(s.cursor+1, rng)
	s.cursor += 2
	return bit
}
