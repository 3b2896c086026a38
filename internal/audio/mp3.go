// Package audio probes MPEG audio files for duration and locates frame
// boundaries so that chapter cuts never split an MPEG frame.
package audio

import (
	"fmt"
	"io"
)

// Info is the result of probing an audio file.
type Info struct {
	// Duration in seconds, estimated from the bitrate for CBR files or
	// taken from the Xing/Info frame count for VBR files.
	Duration float64

	BitrateKbps int
	SampleRate  int
	Channels    int

	// Frames is the total frame count from a Xing/Info header, 0 when the
	// file carries none.
	Frames int64

	// AudioStart is the byte offset of the first MPEG frame, after any
	// leading ID3v2 tag.
	AudioStart int64

	VBR bool
}

var mpeg1Bitrates = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
var mpeg2Bitrates = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
var sampleRates = [4][4]int{
	{11025, 12000, 8000, 0},  // MPEG 2.5
	{0, 0, 0, 0},             // reserved
	{22050, 24000, 16000, 0}, // MPEG 2
	{44100, 48000, 32000, 0}, // MPEG 1
}

type frameHeader struct {
	version    int // index into sampleRates
	sampleRate int
	bitrate    int // kbps
	samples    int // per frame
	length     int // whole frame, bytes
	channels   int
}

// parseFrameHeader decodes a 4-byte MPEG Layer III frame header. Returns
// false for anything that is not a valid Layer III sync.
func parseFrameHeader(b []byte) (frameHeader, bool) {
	var h frameHeader
	if len(b) < 4 {
		return h, false
	}
	if b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return h, false
	}

	h.version = int(b[1] >> 3 & 0x03)
	layer := int(b[1] >> 1 & 0x03)
	if h.version == 1 || layer != 0x01 { // reserved version, or not Layer III
		return h, false
	}

	bitrateIdx := int(b[2] >> 4 & 0x0F)
	rateIdx := int(b[2] >> 2 & 0x03)
	padding := int(b[2] >> 1 & 0x01)
	if bitrateIdx == 0 || bitrateIdx == 15 || rateIdx == 3 {
		return h, false
	}

	h.sampleRate = sampleRates[h.version][rateIdx]
	if h.version == 3 { // MPEG 1
		h.bitrate = mpeg1Bitrates[bitrateIdx]
		h.samples = 1152
	} else { // MPEG 2 / 2.5
		h.bitrate = mpeg2Bitrates[bitrateIdx]
		h.samples = 576
	}
	if h.sampleRate == 0 || h.bitrate == 0 {
		return h, false
	}

	h.length = h.samples / 8 * h.bitrate * 1000 / h.sampleRate
	h.length += padding

	if b[3]>>6&0x03 == 3 {
		h.channels = 1
	} else {
		h.channels = 2
	}
	return h, true
}

// id3v2Size returns the total byte size of a leading ID3v2 tag, or 0.
func id3v2Size(b []byte) int64 {
	if len(b) < 10 || b[0] != 'I' || b[1] != 'D' || b[2] != '3' {
		return 0
	}
	// Syncsafe 28-bit size, excluding the 10-byte header.
	size := int64(b[6]&0x7F)<<21 | int64(b[7]&0x7F)<<14 | int64(b[8]&0x7F)<<7 | int64(b[9]&0x7F)
	return size + 10
}

// maxSyncScan bounds how far a frame search walks before giving up.
const maxSyncScan = 1 << 20

// findFrame scans forward from offset for a frame header that is confirmed
// by a second valid header exactly one frame later. The double check avoids
// false syncs inside audio data.
func findFrame(r io.ReaderAt, size, offset int64) (int64, frameHeader, error) {
	buf := make([]byte, 64*1024)
	for scanned := int64(0); scanned < maxSyncScan && offset < size; {
		n, err := r.ReadAt(buf, offset)
		if n == 0 {
			if err != nil && err != io.EOF {
				return 0, frameHeader{}, err
			}
			break
		}
		window := buf[:n]
		for i := 0; i+4 <= len(window); i++ {
			h, ok := parseFrameHeader(window[i : i+4])
			if !ok {
				continue
			}
			pos := offset + int64(i)
			next := pos + int64(h.length)
			if next+4 <= size {
				peek := make([]byte, 4)
				if _, err := r.ReadAt(peek, next); err != nil {
					return 0, frameHeader{}, err
				}
				if _, ok := parseFrameHeader(peek); !ok {
					continue
				}
			}
			return pos, h, nil
		}
		step := int64(n - 3)
		if step <= 0 {
			break
		}
		offset += step
		scanned += step
	}
	return 0, frameHeader{}, fmt.Errorf("no MPEG frame sync found")
}

// Probe inspects an MP3 and estimates its duration. A Xing/Info header gives
// the exact frame count for VBR files; otherwise the duration is the audio
// byte count over the first frame's bitrate.
func Probe(r io.ReaderAt, size int64) (*Info, error) {
	if size < 4 {
		return nil, fmt.Errorf("file too small to probe")
	}

	head := make([]byte, 10)
	if _, err := r.ReadAt(head, 0); err != nil && err != io.EOF {
		return nil, err
	}
	audioStart := id3v2Size(head)

	pos, h, err := findFrame(r, size, audioStart)
	if err != nil {
		return nil, err
	}

	info := &Info{
		BitrateKbps: h.bitrate,
		SampleRate:  h.sampleRate,
		Channels:    h.channels,
		AudioStart:  pos,
	}

	if frames, ok := readXingFrames(r, pos, h); ok {
		info.Frames = frames
		info.VBR = true
		info.Duration = float64(frames) * float64(h.samples) / float64(h.sampleRate)
		return info, nil
	}

	audioBytes := size - pos
	info.Duration = float64(audioBytes) * 8 / float64(h.bitrate*1000)
	return info, nil
}

// readXingFrames extracts the frame count from a Xing or Info header in the
// first frame, when present.
func readXingFrames(r io.ReaderAt, frameOffset int64, h frameHeader) (int64, bool) {
	// Side info size positions the Xing tag inside the first frame.
	var side int
	if h.version == 3 {
		side = 32
		if h.channels == 1 {
			side = 17
		}
	} else {
		side = 17
		if h.channels == 1 {
			side = 9
		}
	}

	buf := make([]byte, 16)
	if _, err := r.ReadAt(buf, frameOffset+4+int64(side)); err != nil {
		return 0, false
	}
	tag := string(buf[:4])
	if tag != "Xing" && tag != "Info" {
		return 0, false
	}
	flags := uint32(buf[4])<<24 | uint32(buf[5])<<16 | uint32(buf[6])<<8 | uint32(buf[7])
	if flags&0x01 == 0 { // frames field absent
		return 0, false
	}
	frames := int64(buf[8])<<24 | int64(buf[9])<<16 | int64(buf[10])<<8 | int64(buf[11])
	return frames, true
}

// AlignToFrame snaps a byte offset forward to the nearest MPEG frame
// boundary at or after it. Offsets at or past the end of file return size.
func AlignToFrame(r io.ReaderAt, size, offset int64) (int64, error) {
	if offset <= 0 {
		return 0, nil
	}
	if offset >= size {
		return size, nil
	}
	pos, _, err := findFrame(r, size, offset)
	if err != nil {
		return 0, err
	}
	return pos, nil
}

// TimeToOffset maps a playback time to an approximate byte offset by linear
// proportion over the audio bytes. The caller aligns the result to a frame
// boundary before cutting.
func TimeToOffset(t, duration float64, size, audioStart int64) int64 {
	if duration <= 0 || t <= 0 {
		return audioStart
	}
	if t >= duration {
		return size
	}
	audioBytes := size - audioStart
	return audioStart + int64(t/duration*float64(audioBytes))
}
