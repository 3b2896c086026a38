package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for AudioVault operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	// ========================================================================
	// Identity attributes
	// ========================================================================
	AttrUserID    = "user.id"
	AttrUserEmail = "user.email"
	AttrSessionID = "session.id"
	AttrDeviceID  = "device.id"

	// ========================================================================
	// Media attributes
	// ========================================================================
	AttrFileID    = "media.file_id"
	AttrChapterID = "media.chapter_id"
	AttrUploadID  = "media.upload_id"
	AttrFileSize  = "media.file_size"
	AttrMimeType  = "media.mime_type"
	AttrDuration  = "media.duration_s"

	// ========================================================================
	// Streaming attributes
	// ========================================================================
	AttrRangeStart  = "stream.range_start"
	AttrRangeLength = "stream.range_length"
	AttrBytesSent   = "stream.bytes_sent"
	AttrTokenType   = "stream.token_type"

	// ========================================================================
	// Upload attributes
	// ========================================================================
	AttrChunkIndex  = "upload.chunk_index"
	AttrChunkBytes  = "upload.chunk_bytes"
	AttrTotalChunks = "upload.total_chunks"
	AttrUploadState = "upload.state"

	// ========================================================================
	// Storage backend attributes
	// ========================================================================
	AttrStoreName = "store.name"
	AttrStoreType = "store.type"
	AttrBlobKey   = "storage.key"
	AttrBucket    = "storage.bucket"
	AttrRegion    = "storage.region"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	SpanLogin           = "auth.login"
	SpanRegister        = "auth.register"
	SpanUploadChunk     = "upload.chunk"
	SpanUploadFinalize  = "upload.finalize"
	SpanChapterEncrypt  = "chapter.encrypt"
	SpanChapterFinalize = "chapter.finalize"
	SpanTokenMint       = "drm.mint"
	SpanTokenValidate   = "drm.validate"
	SpanStreamRange     = "stream.range"
	SpanBlobRead        = "blob.read"
	SpanBlobWrite       = "blob.write"
)

// ClientIP returns an attribute for client IP address
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for full client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// UserID returns an attribute for the authenticated user
func UserID(id string) attribute.KeyValue {
	return attribute.String(AttrUserID, id)
}

// SessionID returns an attribute for the login session
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// DeviceID returns an attribute for the bound device
func DeviceID(id string) attribute.KeyValue {
	return attribute.String(AttrDeviceID, id)
}

// FileID returns an attribute for an audio file
func FileID(id string) attribute.KeyValue {
	return attribute.String(AttrFileID, id)
}

// ChapterID returns an attribute for a chapter
func ChapterID(id string) attribute.KeyValue {
	return attribute.String(AttrChapterID, id)
}

// UploadID returns an attribute for an upload session
func UploadID(id string) attribute.KeyValue {
	return attribute.String(AttrUploadID, id)
}

// FileSize returns an attribute for a file size in bytes
func FileSize(size int64) attribute.KeyValue {
	return attribute.Int64(AttrFileSize, size)
}

// RangeStart returns an attribute for a stream range offset
func RangeStart(off int64) attribute.KeyValue {
	return attribute.Int64(AttrRangeStart, off)
}

// RangeLength returns an attribute for a stream range length
func RangeLength(length int64) attribute.KeyValue {
	return attribute.Int64(AttrRangeLength, length)
}

// BytesSent returns an attribute for bytes actually streamed
func BytesSent(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytesSent, n)
}

// TokenType returns an attribute for a DRM token type
func TokenType(t string) attribute.KeyValue {
	return attribute.String(AttrTokenType, t)
}

// ChunkIndex returns an attribute for an upload chunk index
func ChunkIndex(i int) attribute.KeyValue {
	return attribute.Int(AttrChunkIndex, i)
}

// StoreName returns an attribute for store name
func StoreName(name string) attribute.KeyValue {
	return attribute.String(AttrStoreName, name)
}

// StoreType returns an attribute for store type
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// BlobKey returns an attribute for a blob storage key
func BlobKey(key string) attribute.KeyValue {
	return attribute.String(AttrBlobKey, key)
}

// Bucket returns an attribute for S3 bucket name
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// Region returns an attribute for cloud region
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartStreamSpan starts a span for one streamed byte range.
func StartStreamSpan(ctx context.Context, fileID string, off, length int64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		FileID(fileID),
		RangeStart(off),
		RangeLength(length),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanStreamRange, trace.WithAttributes(allAttrs...))
}

// StartUploadSpan starts a span for an upload pipeline operation.
func StartUploadSpan(ctx context.Context, operation, uploadID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		UploadID(uploadID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "upload."+operation, trace.WithAttributes(allAttrs...))
}

// StartBlobSpan starts a span for a blob store operation.
func StartBlobSpan(ctx context.Context, operation, backend, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		StoreType(backend),
		BlobKey(key),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "blob."+operation, trace.WithAttributes(allAttrs...))
}
