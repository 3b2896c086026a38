// Package bytesize parses human-readable sizes from configuration, so
// limits like max_chunk_bytes can be written as "8Mi" instead of
// 8388608.
package bytesize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes.
type ByteSize uint64

const (
	B ByteSize = 1

	// Decimal units.
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	// Binary units.
	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

var units = map[string]ByteSize{
	"": B, "b": B,
	"k": KB, "kb": KB,
	"m": MB, "mb": MB,
	"g": GB, "gb": GB,
	"t": TB, "tb": TB,
	"ki": KiB, "kib": KiB,
	"mi": MiB, "mib": MiB,
	"gi": GiB, "gib": GiB,
	"ti": TiB, "tib": TiB,
}

// ParseByteSize parses strings like "8Mi", "4Gi", "100MB", "1.5Gi" or
// a plain byte count. Unit suffixes are case-insensitive; Ki/Mi/Gi/Ti
// are powers of 1024, K/M/G/T powers of 1000.
func ParseByteSize(s string) (ByteSize, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, errors.New("empty size")
	}

	// Split the trailing unit letters from the number.
	cut := len(raw)
	for cut > 0 {
		c := raw[cut-1]
		if c >= '0' && c <= '9' || c == '.' {
			break
		}
		cut--
	}
	num := strings.TrimSpace(raw[:cut])
	unit, ok := units[strings.ToLower(strings.TrimSpace(raw[cut:]))]
	if !ok {
		return 0, fmt.Errorf("unknown size unit in %q", s)
	}

	if strings.Contains(num, ".") {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil || f < 0 {
			return 0, fmt.Errorf("invalid size %q", s)
		}
		return ByteSize(f * float64(unit)), nil
	}
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return ByteSize(n) * unit, nil
}

// UnmarshalText lets ByteSize fields decode directly from config
// strings.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// String renders the size with the largest binary unit that fits.
func (b ByteSize) String() string {
	switch {
	case b >= TiB:
		return fmt.Sprintf("%.2fTiB", float64(b)/float64(TiB))
	case b >= GiB:
		return fmt.Sprintf("%.2fGiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.2fMiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.2fKiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", uint64(b))
	}
}
