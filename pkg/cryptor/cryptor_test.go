package cryptor

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"math"
	mrand "math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiovault/audiovault/internal/blob"
	"github.com/audiovault/audiovault/pkg/models"
)

func testCryptor(t *testing.T) *Cryptor {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	c, err := New(key)
	require.NoError(t, err)
	return c
}

func TestChapterKeyDerivation(t *testing.T) {
	c := testCryptor(t)

	k1, err := c.ChapterKey("file-1", "ch-1")
	require.NoError(t, err)
	k2, err := c.ChapterKey("file-1", "ch-1")
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "derivation must be deterministic")

	k3, err := c.ChapterKey("file-1", "ch-2")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3, "sibling chapters must get distinct keys")

	k4, err := c.ChapterKey("file-2", "ch-1")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4, "same chapter id under another file must differ")

	other := testCryptor(t)
	k5, err := other.ChapterKey("file-1", "ch-1")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k5, "different root keys must derive different chapter keys")
}

func TestRootKeyLength(t *testing.T) {
	_, err := New([]byte("short"))
	assert.Error(t, err)
}

func encryptBuf(t *testing.T, key []byte, plaintext []byte) ([]byte, []byte) {
	t.Helper()
	prefix, err := NewNoncePrefix()
	require.NoError(t, err)
	var buf bytes.Buffer
	plainSize, blobSize, err := Encrypt(&buf, bytes.NewReader(plaintext), key, prefix)
	require.NoError(t, err)
	assert.Equal(t, int64(len(plaintext)), plainSize)
	assert.Equal(t, int64(buf.Len()), blobSize)
	return buf.Bytes(), prefix
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := testCryptor(t)
	key, err := c.ChapterKey("f", "c")
	require.NoError(t, err)

	sizes := []int{0, 1, 100, BlockSize - 1, BlockSize, BlockSize + 1, 3*BlockSize + 17}
	for _, size := range sizes {
		plaintext := make([]byte, size)
		_, err := rand.Read(plaintext)
		require.NoError(t, err)

		sealed, _ := encryptBuf(t, key, plaintext)

		var out bytes.Buffer
		n, err := Decrypt(&out, bytes.NewReader(sealed), key)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, int64(size), n)
		assert.Equal(t, plaintext, out.Bytes())
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	c := testCryptor(t)
	key, err := c.ChapterKey("f", "c")
	require.NoError(t, err)
	wrong, err := c.ChapterKey("f", "other")
	require.NoError(t, err)

	sealed, _ := encryptBuf(t, key, []byte("some chapter audio bytes"))

	var out bytes.Buffer
	_, err = Decrypt(&out, bytes.NewReader(sealed), wrong)
	assert.ErrorIs(t, err, models.ErrDecryptFailed)
}

func TestDecryptTamperedBlobFails(t *testing.T) {
	c := testCryptor(t)
	key, err := c.ChapterKey("f", "c")
	require.NoError(t, err)

	plaintext := make([]byte, BlockSize+500)
	_, err = rand.Read(plaintext)
	require.NoError(t, err)
	sealed, _ := encryptBuf(t, key, plaintext)

	// Flip one ciphertext bit in the second frame.
	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-20] ^= 0x01

	var out bytes.Buffer
	_, err = Decrypt(&out, bytes.NewReader(tampered), key)
	assert.ErrorIs(t, err, models.ErrDecryptFailed)
}

func TestDecodeHeaderRejectsGarbage(t *testing.T) {
	_, err := DecodeHeader([]byte("notablob...."))
	assert.Error(t, err)
	_, err = DecodeHeader([]byte{0x01})
	assert.Error(t, err)
}

func testReader(t *testing.T, plaintext []byte) (*Reader, []byte) {
	t.Helper()
	c := testCryptor(t)
	key, err := c.ChapterKey("f", "c")
	require.NoError(t, err)
	sealed, _ := encryptBuf(t, key, plaintext)

	store, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Write(context.Background(), "f/c", sealed))

	r, err := NewReader(context.Background(), store, "f/c", key, int64(len(plaintext)))
	require.NoError(t, err)
	return r, plaintext
}

func TestReaderRandomAccess(t *testing.T) {
	plaintext := make([]byte, 5*BlockSize+12345)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)
	r, _ := testReader(t, plaintext)
	ctx := context.Background()

	cases := []struct{ off, n int64 }{
		{0, 10},
		{int64(len(plaintext)) - 10, 10},
		{BlockSize - 5, 10},                // spans a frame boundary
		{2*BlockSize + 100, 3 * BlockSize}, // spans several frames
		{0, int64(len(plaintext))},         // whole chapter
	}
	for _, tc := range cases {
		buf := make([]byte, tc.n)
		n, err := r.ReadAt(ctx, buf, tc.off)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
		}
		assert.Equal(t, plaintext[tc.off:tc.off+int64(n)], buf[:n], "off=%d n=%d", tc.off, tc.n)
		assert.Equal(t, tc.n, int64(n))
	}

	// Reads past EOF are truncated and flagged.
	buf := make([]byte, 100)
	n, err := r.ReadAt(ctx, buf, int64(len(plaintext))-40)
	assert.Equal(t, 40, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = r.ReadAt(ctx, buf, int64(len(plaintext)))
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderFuzzedOffsets(t *testing.T) {
	plaintext := make([]byte, 3*BlockSize+777)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)
	r, _ := testReader(t, plaintext)
	ctx := context.Background()

	rng := mrand.New(mrand.NewSource(42))
	for i := 0; i < 50; i++ {
		off := rng.Int63n(int64(len(plaintext)))
		n := rng.Int63n(2*BlockSize) + 1
		if off+n > int64(len(plaintext)) {
			n = int64(len(plaintext)) - off
		}
		buf := make([]byte, n)
		got, err := r.ReadAt(ctx, buf, off)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
		}
		require.Equal(t, n, int64(got))
		assert.Equal(t, plaintext[off:off+n], buf[:got])
	}
}

func TestWriteRangeTo(t *testing.T) {
	plaintext := make([]byte, 2*BlockSize+99)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)
	r, _ := testReader(t, plaintext)

	var out bytes.Buffer
	n, err := r.WriteRangeTo(context.Background(), &out, 1000, BlockSize+500)
	require.NoError(t, err)
	assert.Equal(t, int64(BlockSize+500), n)
	assert.Equal(t, plaintext[1000:1000+BlockSize+500], out.Bytes())

	// Ranges running past EOF stop there without error.
	out.Reset()
	n, err = r.WriteRangeTo(context.Background(), &out, int64(len(plaintext))-50, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
}

// fakeChapterStore records chapter state transitions in memory.
type fakeChapterStore struct {
	mu       sync.Mutex
	chapters map[string]*models.Chapter
}

func newFakeChapterStore(chapters []*models.Chapter) *fakeChapterStore {
	m := make(map[string]*models.Chapter, len(chapters))
	for _, c := range chapters {
		m[c.ID] = c
	}
	return &fakeChapterStore{chapters: m}
}

func (f *fakeChapterStore) ListChapters(ctx context.Context, fileID string) ([]*models.Chapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Chapter
	for _, c := range f.chapters {
		if c.FileID == fileID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChapterStore) MarkChapterReady(ctx context.Context, chapter *models.Chapter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chapters[chapter.ID] = chapter
	return nil
}

func (f *fakeChapterStore) MarkChapterFailed(ctx context.Context, id, errorCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.chapters[id]; ok {
		c.Status = string(models.ChapterFailed)
		c.ErrorCode = errorCode
	}
	return nil
}

// buildTestMP3 synthesizes a CBR MPEG1 Layer III byte stream.
func buildTestMP3(frames int) []byte {
	header := []byte{0xFF, 0xFB, 0x90, 0x00}
	const frameLen = 417
	var buf bytes.Buffer
	for i := 0; i < frames; i++ {
		buf.Write(header)
		filler := make([]byte, frameLen-len(header))
		for j := range filler {
			filler[j] = byte((i*7 + j) % 251)
		}
		buf.Write(filler)
	}
	return buf.Bytes()
}

func TestFinalizePartitionsFileExactly(t *testing.T) {
	ctx := context.Background()
	c := testCryptor(t)

	data := buildTestMP3(2000) // ~52s of audio
	srcPath := filepath.Join(t.TempDir(), "book.mp3")
	require.NoError(t, os.WriteFile(srcPath, data, 0o600))

	duration := 2000.0 * 1152 / 44100
	end1 := math.Floor(duration / 3)
	end2 := math.Floor(2 * duration / 3)
	file := &models.AudioFile{ID: "file-1", Duration: duration, Size: int64(len(data))}
	chapters := []*models.Chapter{
		{ID: "ch-1", FileID: "file-1", Ordinal: 0, Label: "One", StartSeconds: 0, EndSeconds: &end1, Status: string(models.ChapterPending)},
		{ID: "ch-2", FileID: "file-1", Ordinal: 1, Label: "Two", StartSeconds: end1, EndSeconds: &end2, Status: string(models.ChapterPending)},
		{ID: "ch-3", FileID: "file-1", Ordinal: 2, Label: "Three", StartSeconds: end2, Status: string(models.ChapterPending)},
	}
	chapterStore := newFakeChapterStore(chapters)

	blobs, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	defer blobs.Close()

	fin := NewFinalizer(c, chapterStore, blobs, models.ChapterStorageFilesystem, 2)
	result, err := fin.FinalizeFile(ctx, file, srcPath)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Ready)
	assert.Equal(t, 0, result.Failed)

	// Decrypting every chapter in order must reproduce the original.
	var rebuilt bytes.Buffer
	var totalPlain int64
	for _, ch := range chapters {
		require.Equal(t, string(models.ChapterReady), ch.Status)
		require.Equal(t, SchemeFramedGCM, ch.Scheme)
		require.Equal(t, KeyModeHKDF, ch.KeyMode)
		require.NotEmpty(t, ch.NoncePrefix)

		key, err := c.ChapterKey(ch.FileID, ch.ID)
		require.NoError(t, err)
		sealed, err := blobs.Read(ctx, ch.Location)
		require.NoError(t, err)
		require.Equal(t, ch.EncryptedSize, int64(len(sealed)))

		n, err := Decrypt(&rebuilt, bytes.NewReader(sealed), key)
		require.NoError(t, err)
		require.Equal(t, ch.PlainSize, n)
		totalPlain += n
	}
	assert.Equal(t, int64(len(data)), totalPlain)
	assert.Equal(t, data, rebuilt.Bytes())

	// Interior cuts landed on frame boundaries.
	cut := chapters[0].PlainSize
	assert.Equal(t, int64(0), cut%417, "first cut should land on a frame boundary")
}

func TestFinalizeNoPending(t *testing.T) {
	c := testCryptor(t)
	blobs, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	defer blobs.Close()

	fin := NewFinalizer(c, newFakeChapterStore(nil), blobs, models.ChapterStorageFilesystem, 2)
	result, err := fin.FinalizeFile(context.Background(), &models.AudioFile{ID: "f"}, "/nonexistent")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Ready)
}
