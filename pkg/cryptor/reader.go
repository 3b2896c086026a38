package cryptor

import (
	"context"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/audiovault/audiovault/internal/blob"
	"github.com/audiovault/audiovault/pkg/bufpool"
	"github.com/audiovault/audiovault/pkg/models"
)

// Reader provides random access over the plaintext of one encrypted chapter
// blob. It fetches and decrypts only the frames covering the requested byte
// range, so seeking deep into a chapter never touches earlier frames.
//
// Reader is safe for concurrent use; each call decrypts into its own
// buffers.
type Reader struct {
	store     blob.Store
	key       string
	aead      cipher.AEAD
	prefix    []byte
	plainSize int64
}

// NewReader opens a chapter blob for range reads. plainSize is the recorded
// plaintext size of the chapter; the header is read and verified once.
func NewReader(ctx context.Context, store blob.Store, blobKey string, dataKey []byte, plainSize int64) (*Reader, error) {
	head, err := store.ReadRange(ctx, blobKey, 0, headerSize)
	if err != nil {
		return nil, err
	}
	header, err := DecodeHeader(head)
	if err != nil {
		return nil, err
	}
	aead, err := newGCM(dataKey)
	if err != nil {
		return nil, err
	}
	return &Reader{
		store:     store,
		key:       blobKey,
		aead:      aead,
		prefix:    header.NoncePrefix,
		plainSize: plainSize,
	}, nil
}

// Size returns the plaintext size.
func (r *Reader) Size() int64 {
	return r.plainSize
}

// ReadAt fills p with plaintext starting at off. Implements io.ReaderAt
// semantics: a short read at EOF returns io.EOF.
func (r *Reader) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset")
	}
	if off >= r.plainSize {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > r.plainSize {
		want = r.plainSize - off
	}

	firstBlock := off / BlockSize
	lastBlock := (off + want - 1) / BlockSize

	// One ranged fetch covers all needed frames; they are contiguous.
	start := frameOffset(firstBlock)
	end := frameOffset(lastBlock) + frameLength(lastBlock, r.plainSize)
	raw, err := r.store.ReadRange(ctx, r.key, start, end-start)
	if err != nil {
		return 0, err
	}

	var n int64
	plain := make([]byte, 0, BlockSize)
	cursor := int64(0)
	for block := firstBlock; block <= lastBlock; block++ {
		if cursor+frameHeader > int64(len(raw)) {
			return int(n), fmt.Errorf("blob truncated at frame %d", block)
		}
		frameLen := int64(binary.BigEndian.Uint32(raw[cursor : cursor+frameHeader]))
		cursor += frameHeader
		if frameLen < gcmTagSize || cursor+frameLen > int64(len(raw)) {
			return int(n), fmt.Errorf("invalid frame %d length %d", block, frameLen)
		}

		nonce := frameNonce(r.prefix, uint64(block))
		plain, err = r.aead.Open(plain[:0], nonce, raw[cursor:cursor+frameLen], nil)
		if err != nil {
			return int(n), models.ErrDecryptFailed
		}
		cursor += frameLen

		// Trim the decrypted block to the requested window.
		blockStart := block * BlockSize
		lo := int64(0)
		if off > blockStart {
			lo = off - blockStart
		}
		hi := int64(len(plain))
		if blockStart+hi > off+want {
			hi = off + want - blockStart
		}
		if lo > hi {
			lo = hi
		}
		n += int64(copy(p[n:], plain[lo:hi]))
	}

	if off+n >= r.plainSize {
		return int(n), io.EOF
	}
	return int(n), nil
}

// WriteRangeTo streams plaintext [off, off+length) to w in block-sized
// steps, bounding memory regardless of the range size.
func (r *Reader) WriteRangeTo(ctx context.Context, w io.Writer, off, length int64) (int64, error) {
	if length <= 0 {
		return 0, nil
	}
	var written int64
	buf := bufpool.Get(BlockSize)
	defer bufpool.Put(buf)
	for written < length {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		step := length - written
		if step > int64(len(buf)) {
			step = int64(len(buf))
		}
		n, err := r.ReadAt(ctx, buf[:step], off+written)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrNoProgress
		}
	}
	return written, nil
}
