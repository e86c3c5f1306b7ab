package disk

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Format is a container file format.
type Format int

const (
	FormatUnknown Format = iota
	FormatHFE            // HxC Floppy Emulator bitstream
	FormatSCP            // SuperCard Pro flux transitions
	FormatIMG            // raw sector-by-sector copy, also IMA
)

func (f Format) String() string {
	switch f {
	case FormatHFE:
		return "HFE"
	case FormatSCP:
		return "SCP"
	case FormatIMG:
		return "IMG"
	default:
		return "Unknown"
	}
}

func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// DetectFormat guesses the format from the file extension. The check is
// case-insensitive.
func DetectFormat(filename string) Format {
	ext := filepath.Ext(filename)
	if ext == "" {
		return FormatUnknown
	}
	switch strings.ToLower(ext[1:]) {
	case "hfe":
		return FormatHFE
	case "scp":
		return FormatSCP
	case "img", "ima":
		return FormatIMG
	default:
		return FormatUnknown
	}
}

// DetectSignature recognizes the format from the first bytes of a file.
// Raw sector images have no signature.
func DetectSignature(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, []byte("HXCPICFE")), bytes.HasPrefix(head, []byte("HXCHFEV3")):
		return FormatHFE
	case bytes.HasPrefix(head, []byte("SCP")):
		return FormatSCP
	}
	return FormatUnknown
}
