package cryptor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/audiovault/audiovault/internal/audio"
	"github.com/audiovault/audiovault/internal/blob"
	"github.com/audiovault/audiovault/internal/logger"
	"github.com/audiovault/audiovault/pkg/models"
)

// ChapterStore is the persistence surface the finalizer needs.
type ChapterStore interface {
	ListChapters(ctx context.Context, fileID string) ([]*models.Chapter, error)
	MarkChapterReady(ctx context.Context, chapter *models.Chapter) error
	MarkChapterFailed(ctx context.Context, id, errorCode string) error
}

// Finalizer cuts an audio file into its pending chapters and encrypts each
// cut into the blob store. Chapter boundaries are aligned to MPEG frame
// starts and partition the file bytes exactly: concatenating the plaintext
// of all chapters reproduces the original byte for byte.
type Finalizer struct {
	cryptor  *Cryptor
	chapters ChapterStore
	blobs    blob.Store
	backend  string

	// sem bounds concurrent chapter encryption jobs across all files.
	sem *semaphore.Weighted

	// mu serializes finalization per file.
	mu     sync.Mutex
	inWork map[string]*sync.Mutex
}

// NewFinalizer creates a Finalizer writing blobs to the given backend.
func NewFinalizer(c *Cryptor, chapters ChapterStore, blobs blob.Store, backend string, maxConcurrent int) *Finalizer {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if backend == "" {
		backend = models.ChapterStorageFilesystem
	}
	return &Finalizer{
		cryptor:  c,
		chapters: chapters,
		blobs:    blobs,
		backend:  backend,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		inWork:   make(map[string]*sync.Mutex),
	}
}

func (f *Finalizer) fileLock(fileID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.inWork[fileID]
	if !ok {
		l = &sync.Mutex{}
		f.inWork[fileID] = l
	}
	return l
}

// Result summarizes one finalization run.
type Result struct {
	Ready  int `json:"ready"`
	Failed int `json:"failed"`
}

// FinalizeFile encrypts every pending chapter of a file. sourcePath is the
// location of the original bytes. Chapters that fail are marked failed and
// counted; a failure in one chapter does not abort the others.
func (f *Finalizer) FinalizeFile(ctx context.Context, file *models.AudioFile, sourcePath string) (*Result, error) {
	lock := f.fileLock(file.ID)
	lock.Lock()
	defer lock.Unlock()

	all, err := f.chapters.ListChapters(ctx, file.ID)
	if err != nil {
		return nil, err
	}
	var pending []*models.Chapter
	for _, c := range all {
		if c.Status == string(models.ChapterPending) {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		return &Result{}, nil
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()

	cuts, err := chapterCuts(src, size, file.Duration, pending)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	var wg sync.WaitGroup
	var resMu sync.Mutex

	for i := range pending {
		if err := f.sem.Acquire(ctx, 1); err != nil {
			return result, err
		}
		wg.Add(1)
		go func(c *models.Chapter, start, end int64) {
			defer wg.Done()
			defer f.sem.Release(1)

			err := f.encryptChapter(ctx, src, c, start, end)
			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				logger.ErrorCtx(ctx, "chapter finalization failed",
					logger.KeyFileID, c.FileID, logger.KeyChapterID, c.ID, logger.KeyError, err)
				result.Failed++
				code := models.CodeIOFailed
				if merr := f.chapters.MarkChapterFailed(ctx, c.ID, code); merr != nil {
					logger.ErrorCtx(ctx, "marking chapter failed", logger.KeyChapterID, c.ID, logger.KeyError, merr)
				}
				return
			}
			result.Ready++
		}(pending[i], cuts[i], cuts[i+1])
	}
	wg.Wait()
	return result, nil
}

// DeleteBlob removes a chapter ciphertext from this finalizer's backend.
func (f *Finalizer) DeleteBlob(ctx context.Context, blobKey string) error {
	return f.blobs.Delete(ctx, blobKey)
}

// Blobs returns the blob store this finalizer writes to.
func (f *Finalizer) Blobs() blob.Store {
	return f.blobs
}

// encryptChapter seals bytes [start, end) of src into the blob store and
// records the crypto metadata.
func (f *Finalizer) encryptChapter(ctx context.Context, src io.ReaderAt, c *models.Chapter, start, end int64) error {
	key, err := f.cryptor.ChapterKey(c.FileID, c.ID)
	if err != nil {
		return err
	}
	noncePrefix, err := NewNoncePrefix()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	section := io.NewSectionReader(src, start, end-start)
	plainSize, blobSize, err := Encrypt(&buf, section, key, noncePrefix)
	if err != nil {
		return err
	}

	blobKey := c.FileID + "/" + c.ID
	if err := f.blobs.Write(ctx, blobKey, buf.Bytes()); err != nil {
		return err
	}

	c.StorageBackend = f.backend
	c.Location = blobKey
	c.PlainSize = plainSize
	c.EncryptedSize = blobSize
	c.Scheme = SchemeFramedGCM
	c.KeyMode = KeyModeHKDF
	c.WrappedKey = nil
	c.NoncePrefix = noncePrefix
	c.Status = string(models.ChapterReady)
	return f.chapters.MarkChapterReady(ctx, c)
}

// chapterCuts maps chapter start times to byte boundaries. The first cut is
// byte zero (leading metadata belongs to the first chapter) and the last is
// the file size; interior cuts are frame-aligned so no MPEG frame is split.
func chapterCuts(src io.ReaderAt, size int64, duration float64, pending []*models.Chapter) ([]int64, error) {
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].StartSeconds < pending[j].StartSeconds
	})

	probe, err := audio.Probe(src, size)
	if err != nil {
		return nil, fmt.Errorf("probing audio: %w", err)
	}
	if duration <= 0 {
		duration = probe.Duration
	}

	cuts := make([]int64, len(pending)+1)
	cuts[0] = 0
	cuts[len(pending)] = size
	for i := 1; i < len(pending); i++ {
		approx := audio.TimeToOffset(pending[i].StartSeconds, duration, size, probe.AudioStart)
		aligned, err := audio.AlignToFrame(src, size, approx)
		if err != nil {
			return nil, fmt.Errorf("aligning chapter boundary: %w", err)
		}
		if aligned <= cuts[i-1] {
			aligned = cuts[i-1] + 1
			if aligned > size {
				aligned = size
			}
		}
		cuts[i] = aligned
	}
	return cuts, nil
}
