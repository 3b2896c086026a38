// Package streamer serves decrypted audio over HTTP byte ranges. A file that
// has been chapterized is presented as the virtual concatenation of its
// chapter plaintexts, byte-identical to the original upload, so range
// requests behave exactly as they would against the unencrypted file.
package streamer

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/audiovault/audiovault/internal/blob"
	"github.com/audiovault/audiovault/pkg/cryptor"
	"github.com/audiovault/audiovault/pkg/models"
)

// Store is the persistence surface the streamer needs.
type Store interface {
	GetFile(ctx context.Context, id string) (*models.AudioFile, error)
	GetChapter(ctx context.Context, id string) (*models.Chapter, error)
	ListChapters(ctx context.Context, fileID string) ([]*models.Chapter, error)
}

// BlobResolver maps a chapter storage backend name to its blob store. The
// empty name resolves to the default backend.
type BlobResolver func(backend string) (blob.Store, error)

// Service resolves stream sources and pumps decrypted bytes to clients.
type Service struct {
	store   Store
	crypt   *cryptor.Cryptor
	resolve BlobResolver
}

// New creates the streaming service over a single blob backend.
func New(store Store, crypt *cryptor.Cryptor, blobs blob.Store) *Service {
	return NewMulti(store, crypt, func(string) (blob.Store, error) { return blobs, nil })
}

// NewMulti creates the streaming service with a per-backend blob resolver,
// for deployments that finalize chapters into more than one backend.
func NewMulti(store Store, crypt *cryptor.Cryptor, resolve BlobResolver) *Service {
	return &Service{store: store, crypt: crypt, resolve: resolve}
}

// rangeWriter streams a plaintext window to a writer.
type rangeWriter interface {
	WriteRangeTo(ctx context.Context, w io.Writer, off, length int64) (int64, error)
}

// ChapterError reports which chapter a streaming failure struck, so the
// caller can flag it for re-finalization.
type ChapterError struct {
	ChapterID string
	Err       error
}

func (e *ChapterError) Error() string {
	return fmt.Sprintf("chapter %s: %v", e.ChapterID, e.Err)
}

func (e *ChapterError) Unwrap() error { return e.Err }

// section is one contiguous piece of a source. The underlying reader is
// opened on first touch, so serving a range deep in a file never opens the
// chapters before it. chapterID is empty for passthrough sections.
type section struct {
	size      int64
	chapterID string

	once sync.Once
	rw   rangeWriter
	err  error
	open func(ctx context.Context) (rangeWriter, error)
}

func (s *section) fail(err error) error {
	if s.chapterID == "" {
		return err
	}
	return &ChapterError{ChapterID: s.chapterID, Err: err}
}

func (s *section) writer(ctx context.Context) (rangeWriter, error) {
	s.once.Do(func() {
		s.rw, s.err = s.open(ctx)
	})
	return s.rw, s.err
}

// Source is a resolved, streamable resource: either a passthrough of the
// original file or the virtual concatenation of decrypted chapters.
type Source struct {
	FileID   string
	Size     int64
	MimeType string

	sections []*section
}

// WriteRange streams plaintext [off, off+length) to w, crossing section
// boundaries as needed.
func (s *Source) WriteRange(ctx context.Context, w io.Writer, off, length int64) (int64, error) {
	if off < 0 || off+length > s.Size {
		return 0, models.ErrInvalidRange
	}
	var written int64
	base := int64(0)
	for _, sec := range s.sections {
		if length <= 0 {
			break
		}
		secEnd := base + sec.size
		if off >= secEnd {
			base = secEnd
			continue
		}
		localOff := off - base
		localLen := sec.size - localOff
		if localLen > length {
			localLen = length
		}

		rw, err := sec.writer(ctx)
		if err != nil {
			return written, sec.fail(err)
		}
		n, err := rw.WriteRangeTo(ctx, w, localOff, localLen)
		written += n
		if err != nil {
			return written, sec.fail(err)
		}
		if n < localLen {
			return written, sec.fail(io.ErrUnexpectedEOF)
		}
		off += n
		length -= n
		base = secEnd
	}
	return written, nil
}

// fileRange serves a window of a plain file on disk, opening it per call so
// the source itself holds no descriptors.
type fileRange struct {
	path string
}

func (f *fileRange) WriteRangeTo(ctx context.Context, w io.Writer, off, length int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	file, err := os.Open(f.path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	return io.Copy(w, io.NewSectionReader(file, off, length))
}

// chapterSection builds a lazily opened section over one ready chapter.
func (s *Service) chapterSection(chapter *models.Chapter) (*section, error) {
	if !chapter.IsReady() {
		return nil, models.ErrChapterNotReady
	}
	if chapter.KeyMode != cryptor.KeyModeHKDF {
		return nil, fmt.Errorf("unsupported chapter key mode %q", chapter.KeyMode)
	}
	fileID, chapterID, location := chapter.FileID, chapter.ID, chapter.Location
	backend := chapter.StorageBackend
	plainSize := chapter.PlainSize
	return &section{
		size:      plainSize,
		chapterID: chapterID,
		open: func(ctx context.Context) (rangeWriter, error) {
			blobs, err := s.resolve(backend)
			if err != nil {
				return nil, err
			}
			key, err := s.crypt.ChapterKey(fileID, chapterID)
			if err != nil {
				return nil, err
			}
			return cryptor.NewReader(ctx, blobs, location, key, plainSize)
		},
	}, nil
}

// OpenFile resolves a whole-file source. A fully chapterized file streams
// from its encrypted chapters; anything else falls back to the stored
// original.
func (s *Service) OpenFile(ctx context.Context, fileID string) (*Source, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	chapters, err := s.store.ListChapters(ctx, fileID)
	if err != nil {
		return nil, err
	}

	allReady := len(chapters) > 0
	for _, c := range chapters {
		if !c.IsReady() {
			allReady = false
			break
		}
	}
	if !allReady {
		return &Source{
			FileID:   fileID,
			Size:     file.Size,
			MimeType: file.MimeType,
			sections: []*section{{size: file.Size, open: func(context.Context) (rangeWriter, error) {
				return &fileRange{path: file.StoragePath}, nil
			}}},
		}, nil
	}

	src := &Source{FileID: fileID, MimeType: file.MimeType}
	for _, chapter := range chapters {
		sec, err := s.chapterSection(chapter)
		if err != nil {
			return nil, err
		}
		src.sections = append(src.sections, sec)
		src.Size += sec.size
	}
	return src, nil
}

// OpenChapter resolves a single ready chapter as a standalone source.
func (s *Service) OpenChapter(ctx context.Context, chapterID string) (*Source, error) {
	chapter, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	file, err := s.store.GetFile(ctx, chapter.FileID)
	if err != nil {
		return nil, err
	}
	sec, err := s.chapterSection(chapter)
	if err != nil {
		return nil, err
	}
	return &Source{
		FileID:   chapter.FileID,
		Size:     sec.size,
		MimeType: file.MimeType,
		sections: []*section{sec},
	}, nil
}

// TimeWindow maps a playback window [startMs, endMs) onto the byte range of
// a source, proportionally over the source size. The mapping matches the one
// used to cut chapters, so window edges land near frame boundaries.
func (s *Source) TimeWindow(durationSeconds float64, startMs, endMs int64) (ByteRange, error) {
	if durationSeconds <= 0 {
		return ByteRange{Start: 0, Length: s.Size}, nil
	}
	durationMs := int64(durationSeconds * 1000)
	if startMs < 0 || endMs <= startMs || startMs >= durationMs {
		return ByteRange{}, models.ErrInvalidRange
	}
	if endMs > durationMs {
		endMs = durationMs
	}

	start := s.Size * startMs / durationMs
	end := s.Size * endMs / durationMs
	if end > s.Size {
		end = s.Size
	}
	if start >= end {
		return ByteRange{}, models.ErrInvalidRange
	}
	return ByteRange{Start: start, Length: end - start}, nil
}
