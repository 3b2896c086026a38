package audio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cbrFrame is a valid MPEG1 Layer III header: 128 kbps, 44100 Hz, stereo,
// no padding. Frame length 417 bytes, 1152 samples.
var cbrFrame = []byte{0xFF, 0xFB, 0x90, 0x00}

const cbrFrameLen = 417

func buildCBR(t *testing.T, frames int, id3 []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(id3)
	for i := 0; i < frames; i++ {
		buf.Write(cbrFrame)
		filler := make([]byte, cbrFrameLen-len(cbrFrame))
		for j := range filler {
			filler[j] = byte((i + j) % 251)
		}
		buf.Write(filler)
	}
	return buf.Bytes()
}

func id3v2Tag(payload int) []byte {
	tag := make([]byte, 10+payload)
	copy(tag, "ID3")
	tag[3] = 4 // v2.4
	// Syncsafe payload size.
	tag[6] = byte(payload >> 21 & 0x7F)
	tag[7] = byte(payload >> 14 & 0x7F)
	tag[8] = byte(payload >> 7 & 0x7F)
	tag[9] = byte(payload & 0x7F)
	return tag
}

func TestProbeCBR(t *testing.T) {
	const frames = 400
	data := buildCBR(t, frames, nil)
	info, err := Probe(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	assert.Equal(t, 128, info.BitrateKbps)
	assert.Equal(t, 44100, info.SampleRate)
	assert.Equal(t, int64(0), info.AudioStart)
	assert.False(t, info.VBR)

	want := float64(frames) * 1152 / 44100
	assert.InDelta(t, want, info.Duration, 0.1)
}

func TestProbeSkipsID3v2(t *testing.T) {
	tag := id3v2Tag(3000)
	data := buildCBR(t, 100, tag)
	info, err := Probe(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(tag)), info.AudioStart)
}

func TestProbeRejectsGarbage(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 4096)
	_, err := Probe(bytes.NewReader(data), int64(len(data)))
	assert.Error(t, err)
}

func TestAlignToFrame(t *testing.T) {
	data := buildCBR(t, 50, nil)
	r := bytes.NewReader(data)
	size := int64(len(data))

	// Mid-frame offsets snap forward to the next frame start.
	aligned, err := AlignToFrame(r, size, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(cbrFrameLen), aligned)

	// Exact boundaries are stable.
	aligned, err = AlignToFrame(r, size, int64(cbrFrameLen*10))
	require.NoError(t, err)
	assert.Equal(t, int64(cbrFrameLen*10), aligned)

	// Offsets at or past EOF clamp to size.
	aligned, err = AlignToFrame(r, size, size+5)
	require.NoError(t, err)
	assert.Equal(t, size, aligned)

	aligned, err = AlignToFrame(r, size, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), aligned)
}

func TestTimeToOffsetProportional(t *testing.T) {
	assert.Equal(t, int64(0), TimeToOffset(0, 100, 1000, 0))
	assert.Equal(t, int64(500), TimeToOffset(50, 100, 1000, 0))
	assert.Equal(t, int64(1000), TimeToOffset(100, 100, 1000, 0))
	assert.Equal(t, int64(1000), TimeToOffset(200, 100, 1000, 0))

	// Leading metadata shifts the mapping into the audio region.
	assert.Equal(t, int64(100), TimeToOffset(0, 100, 1100, 100))
	assert.Equal(t, int64(600), TimeToOffset(50, 100, 1100, 100))
}
