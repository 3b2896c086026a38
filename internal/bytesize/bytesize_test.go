package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  ByteSize
		err   bool
	}{
		{"plain bytes", "1048576", 1 << 20, false},
		{"zero", "0", 0, false},
		{"explicit byte suffix", "512B", 512, false},

		{"chunk limit", "8Mi", 8 * MiB, false},
		{"file limit", "4Gi", 4 * GiB, false},
		{"kibibytes", "512KiB", 512 * KiB, false},
		{"tebibytes", "1Ti", TiB, false},

		{"decimal megabytes", "100MB", 100 * MB, false},
		{"decimal short form", "2G", 2 * GB, false},

		{"case insensitive", "8mi", 8 * MiB, false},
		{"surrounding whitespace", "  8Mi  ", 8 * MiB, false},
		{"space before unit", "8 Mi", 8 * MiB, false},
		{"fractional", "1.5Gi", ByteSize(1.5 * float64(GiB)), false},

		{"empty", "", 0, true},
		{"whitespace only", "   ", 0, true},
		{"unknown unit", "8Xi", 0, true},
		{"negative", "-8Mi", 0, true},
		{"negative fraction", "-1.5Gi", 0, true},
		{"unit without number", "Mi", 0, true},
		{"garbage", "lots", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("8Mi")))
	assert.Equal(t, 8*MiB, b)

	require.Error(t, b.UnmarshalText([]byte("huge")))
}

func TestString(t *testing.T) {
	assert.Equal(t, "512B", ByteSize(512).String())
	assert.Equal(t, "8.00MiB", (8 * MiB).String())
	assert.Equal(t, "4.00GiB", (4 * GiB).String())
	assert.Equal(t, "1.50GiB", ByteSize(1.5*float64(GiB)).String())
	assert.Equal(t, "2.00TiB", (2 * TiB).String())
}
