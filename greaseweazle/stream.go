package greaseweazle

import "fmt"

// readN28 decodes a 28-bit value from Greaseweazle N28 encoding
// Returns the decoded value and the number of bytes consumed
func readN28(data []byte, offset int) (uint32, int, error) {
	if offset+4 > len(data) {
		return 0, 0, fmt.Errorf("insufficient data for N28 encoding at offset %d", offset)
	}

	b0 := data[offset]
	b1 := data[offset+1]
	b2 := data[offset+2]
	b3 := data[offset+3]

	value := ((uint32(b0) & 0xfe) >> 1) |
		((uint32(b1) & 0xfe) << 6) |
		((uint32(b2) & 0xfe) << 13) |
		((uint32(b3) & 0xfe) << 20)

	return value, 4, nil
}

// encodeN28 encodes a 28-bit value; every byte has bit 0 set so the
// stream never contains a zero.
func encodeN28(value uint32) []byte {
	result := make([]byte, 4)
	result[0] = byte(1 | ((value & 0x7F) << 1))
	result[1] = byte(1 | (((value >> 7) & 0x7F) << 1))
	result[2] = byte(1 | (((value >> 14) & 0x7F) << 1))
	result[3] = byte(1 | (((value >> 21) & 0x7F) << 1))
	return result
}

// DecodeStream parses a READ_FLUX stream (without the terminating zero)
// into absolute sample-clock tick counts of every transition and index
// pulse.
func DecodeStream(data []byte) (transitions, index []uint64, err error) {
	var last, pending uint64

	i := 0
	for i < len(data) {
		b := data[i]
		switch {
		case b == 0xFF:
			if i+1 >= len(data) {
				return nil, nil, fmt.Errorf("incomplete opcode at offset %d", i)
			}
			opcode := data[i+1]
			n28, consumed, err := readN28(data, i+2)
			if err != nil {
				return nil, nil, err
			}
			i += 2 + consumed

			switch opcode {
			case fluxOpIndex:
				// Index pulse doesn't advance the cursor
				index = append(index, last+pending+uint64(n28))
			case fluxOpSpace:
				pending += uint64(n28)
			default:
				return nil, nil, fmt.Errorf("unknown opcode 0x%02x at offset %d", opcode, i-6)
			}

		case b == 0:
			return nil, nil, fmt.Errorf("unexpected end of stream at offset %d", i)

		case b < 250:
			// Direct interval: 1-249 ticks
			last += pending + uint64(b)
			pending = 0
			transitions = append(transitions, last)
			i++

		default:
			// Extended interval: 250-1524 ticks
			if i+1 >= len(data) {
				return nil, nil, fmt.Errorf("incomplete extended interval at offset %d", i)
			}
			delta := 250 + uint64(b-250)*255 + uint64(data[i+1]) - 1
			last += pending + delta
			pending = 0
			transitions = append(transitions, last)
			i += 2
		}
	}
	return transitions, index, nil
}

// EncodeStream is the inverse of DecodeStream: it renders absolute tick
// counts as a READ_FLUX stream, terminated with a zero byte.
func EncodeStream(transitions, index []uint64) []byte {
	var result []byte
	var last uint64

	t, x := 0, 0
	for t < len(transitions) || x < len(index) {
		if x < len(index) && (t == len(transitions) || index[x] <= transitions[t]) {
			result = append(result, 0xFF, fluxOpIndex)
			result = append(result, encodeN28(uint32(index[x]-last))...)
			x++
			continue
		}

		interval := transitions[t] - last
		if interval == 0 {
			// Minimum interval is 1 tick
			interval = 1
		}
		switch {
		case interval < 250:
			result = append(result, byte(interval))
		case interval < 1525:
			v := interval - 250
			result = append(result, byte(250+v/255), byte(v%255+1))
		default:
			result = append(result, 0xFF, fluxOpSpace)
			result = append(result, encodeN28(uint32(interval-1))...)
			result = append(result, 1)
		}
		last += interval
		t++
	}

	// Terminate stream with null byte
	return append(result, 0x00)
}

// ticksToNs converts tick counts at the given sample frequency to
// nanoseconds.
func ticksToNs(ticks []uint64, freq uint32) []uint64 {
	out := make([]uint64, len(ticks))
	for i, t := range ticks {
		out[i] = t * 1_000_000_000 / uint64(freq)
	}
	return out
}

// estimateRPM rounds the rotation speed measured between the first two
// index pulses to 300 or 360.
func estimateRPM(indexNs []uint64) uint16 {
	if len(indexNs) < 2 {
		return 300
	}
	rpm := 60e9 / (indexNs[1] - indexNs[0])

	// Use 330 RPM as the threshold (midpoint between 300 and 360)
	if rpm < 330 {
		return 300
	}
	return 360
}
