package cryptor

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/audiovault/audiovault/pkg/bufpool"
	"github.com/audiovault/audiovault/pkg/models"
)

// Blob layout:
//
//	header | frame 0 | frame 1 | ... | frame N-1
//
// header (12 bytes):
//
//	magic "AVLT" (4) | version (1) | scheme (1) | nonce prefix len (1) |
//	reserved (1) | nonce prefix (4)
//
// Each frame encrypts one fixed-size plaintext block (the last block may be
// shorter):
//
//	ciphertext length (u32 BE) | ciphertext || GCM tag
//
// The per-frame nonce is noncePrefix || block counter (u64 BE). Fixed block
// size makes frame offsets computable, so a reader can seek to any plaintext
// offset and fetch exactly the frames it needs.

const (
	// BlockSize is the plaintext bytes per frame.
	BlockSize = 64 * 1024

	// NoncePrefixSize plus the 8-byte counter fills the 12-byte GCM nonce.
	NoncePrefixSize = 4

	headerSize  = 12
	gcmTagSize  = 16
	frameHeader = 4

	// FrameSize is the on-disk size of a full frame.
	FrameSize = frameHeader + BlockSize + gcmTagSize

	blobVersion = 1
)

var blobMagic = [4]byte{'A', 'V', 'L', 'T'}

// Header is the decoded blob header.
type Header struct {
	Version     uint8
	Scheme      uint8
	NoncePrefix []byte
}

// NewNoncePrefix draws a random per-chapter nonce prefix. The prefix plus
// the monotonically increasing block counter guarantees nonce uniqueness
// under one key.
func NewNoncePrefix() ([]byte, error) {
	prefix := make([]byte, NoncePrefixSize)
	if _, err := rand.Read(prefix); err != nil {
		return nil, err
	}
	return prefix, nil
}

func encodeHeader(scheme uint8, noncePrefix []byte) []byte {
	h := make([]byte, headerSize)
	copy(h, blobMagic[:])
	h[4] = blobVersion
	h[5] = scheme
	h[6] = uint8(len(noncePrefix))
	copy(h[8:], noncePrefix)
	return h
}

// DecodeHeader parses and verifies a blob header.
func DecodeHeader(b []byte) (*Header, error) {
	if len(b) < headerSize {
		return nil, fmt.Errorf("blob header truncated: %d bytes", len(b))
	}
	if [4]byte(b[:4]) != blobMagic {
		return nil, fmt.Errorf("bad blob magic")
	}
	h := &Header{Version: b[4], Scheme: b[5]}
	if h.Version != blobVersion {
		return nil, fmt.Errorf("unsupported blob version %d", h.Version)
	}
	if h.Scheme != SchemeFramedGCM {
		return nil, fmt.Errorf("unsupported encryption scheme %d", h.Scheme)
	}
	prefixLen := int(b[6])
	if prefixLen != NoncePrefixSize {
		return nil, fmt.Errorf("unsupported nonce prefix length %d", prefixLen)
	}
	h.NoncePrefix = append([]byte(nil), b[8:8+prefixLen]...)
	return h, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func frameNonce(noncePrefix []byte, blockIndex uint64) []byte {
	nonce := make([]byte, NoncePrefixSize+8)
	copy(nonce, noncePrefix)
	binary.BigEndian.PutUint64(nonce[NoncePrefixSize:], blockIndex)
	return nonce
}

// Encrypt reads plaintext from r and writes the framed blob to w. Returns
// the plaintext and blob byte counts.
func Encrypt(w io.Writer, r io.Reader, key, noncePrefix []byte) (plainSize, blobSize int64, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return 0, 0, err
	}

	header := encodeHeader(SchemeFramedGCM, noncePrefix)
	if _, err := w.Write(header); err != nil {
		return 0, 0, err
	}
	blobSize = int64(len(header))

	buf := bufpool.Get(BlockSize)
	defer bufpool.Put(buf)
	sealed := make([]byte, 0, BlockSize+gcmTagSize)
	var lenBuf [frameHeader]byte
	var blockIndex uint64

	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			nonce := frameNonce(noncePrefix, blockIndex)
			sealed = aead.Seal(sealed[:0], nonce, buf[:n], nil)
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sealed)))
			if _, err := w.Write(lenBuf[:]); err != nil {
				return 0, 0, err
			}
			if _, err := w.Write(sealed); err != nil {
				return 0, 0, err
			}
			plainSize += int64(n)
			blobSize += int64(frameHeader + len(sealed))
			blockIndex++
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return 0, 0, rerr
		}
	}
	return plainSize, blobSize, nil
}

// Decrypt reads a framed blob from r and writes the plaintext to w. Used by
// whole-chapter paths; range reads go through Reader.
func Decrypt(w io.Writer, r io.Reader, key []byte) (int64, error) {
	head := make([]byte, headerSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return 0, fmt.Errorf("reading blob header: %w", err)
	}
	header, err := DecodeHeader(head)
	if err != nil {
		return 0, err
	}

	aead, err := newGCM(key)
	if err != nil {
		return 0, err
	}

	var written int64
	var lenBuf [frameHeader]byte
	frame := make([]byte, BlockSize+gcmTagSize)
	plain := make([]byte, 0, BlockSize)

	for blockIndex := uint64(0); ; blockIndex++ {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, fmt.Errorf("reading frame length: %w", err)
		}
		frameLen := binary.BigEndian.Uint32(lenBuf[:])
		if frameLen < gcmTagSize || frameLen > BlockSize+gcmTagSize {
			return written, fmt.Errorf("invalid frame length %d", frameLen)
		}
		if _, err := io.ReadFull(r, frame[:frameLen]); err != nil {
			return written, fmt.Errorf("reading frame: %w", err)
		}

		nonce := frameNonce(header.NoncePrefix, blockIndex)
		plain, err = aead.Open(plain[:0], nonce, frame[:frameLen], nil)
		if err != nil {
			return written, models.ErrDecryptFailed
		}
		n, err := w.Write(plain)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
}

// blockCount returns the number of frames for a plaintext size.
func blockCount(plainSize int64) int64 {
	return (plainSize + BlockSize - 1) / BlockSize
}

// frameOffset returns the blob offset of frame i. Fixed plaintext block
// size makes every frame except the last FrameSize bytes long.
func frameOffset(i int64) int64 {
	return headerSize + i*FrameSize
}

// frameLength returns the on-disk length of frame i.
func frameLength(i int64, plainSize int64) int64 {
	blocks := blockCount(plainSize)
	if i < blocks-1 {
		return FrameSize
	}
	last := plainSize - (blocks-1)*BlockSize
	return frameHeader + last + gcmTagSize
}
