package system34

// CRC-16/CCITT (polynomial 0x1021, MSB first) as used by the WD177x and
// uPD765 controllers. The register starts at 0xFFFF before the sync bytes.
const crcInit uint16 = 0xFFFF

// Register values after the MFM sync bytes, and after sync plus the mark.
const (
	crcAfterSync uint16 = 0xCDB4 // A1 A1 A1
	crcAfterIDAM uint16 = 0xB230 // A1 A1 A1 FE
)

func crc16CCITTByte(crc uint16, b byte) uint16 {
	crc ^= uint16(b) << 8
	for i := 0; i < 8; i++ {
		if crc&0x8000 != 0 {
			crc = crc<<1 ^ 0x1021
		} else {
			crc <<= 1
		}
	}
	return crc
}

func crc16CCITT(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crc16CCITTByte(crc, b)
	}
	return crc
}
