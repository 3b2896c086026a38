package streamer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/audiovault/audiovault/pkg/models"
)

// ByteRange is a resolved half-open byte window [Start, Start+Length).
type ByteRange struct {
	Start  int64
	Length int64
}

// End returns the inclusive last byte offset, as Content-Range wants it.
func (r ByteRange) End() int64 {
	return r.Start + r.Length - 1
}

// ParseRange resolves an HTTP Range header against a resource of the given
// size. An empty header yields the full range. Multi-range requests are not
// supported and fall back to the full range, which RFC 9110 permits.
// Unsatisfiable ranges return models.ErrInvalidRange so handlers can answer
// 416.
func ParseRange(header string, size int64) (ByteRange, error) {
	full := ByteRange{Start: 0, Length: size}
	if header == "" {
		return full, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return full, nil
	}
	if strings.Contains(spec, ",") {
		return full, nil
	}

	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return ByteRange{}, fmt.Errorf("malformed range %q", header)
	}

	// Suffix form: bytes=-N means the last N bytes.
	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, models.ErrInvalidRange
		}
		if n > size {
			n = size
		}
		return ByteRange{Start: size - n, Length: n}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, models.ErrInvalidRange
	}
	if start >= size {
		return ByteRange{}, models.ErrInvalidRange
	}

	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return ByteRange{}, models.ErrInvalidRange
		}
		if end > size-1 {
			end = size - 1
		}
	}
	return ByteRange{Start: start, Length: end - start + 1}, nil
}

// IsFull reports whether the range covers the whole resource.
func (r ByteRange) IsFull(size int64) bool {
	return r.Start == 0 && r.Length == size
}

// ContentRange formats the Content-Range header value for a 206 response.
func ContentRange(r ByteRange, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End(), size)
}

// UnsatisfiableContentRange formats the Content-Range value for a 416.
func UnsatisfiableContentRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}
