// Package bufpool provides a tiered buffer pool for efficient memory reuse.
//
// Streaming decrypts chapters one frame at a time, so every ranged request
// churns through short-lived block buffers. Pooling them keeps GC pressure
// flat no matter how many concurrent streams are open.
//
// The pool uses three size tiers:
//   - Small buffers (default 4KB): headers, frame prefixes, small payloads
//   - Medium buffers (default 64KB): one cipher frame of plaintext
//   - Large buffers (default 1MB): bulk copies during upload assembly
//
// Buffers larger than the large tier are allocated directly and not pooled
// to avoid keeping very large buffers in memory indefinitely.
//
// All operations are thread-safe via sync.Pool.
//
// Usage:
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
//	// ... use buf ...
package bufpool

import (
	"sync"
)

// Default buffer size classes.
// These can be overridden when creating a custom pool with NewPool.
const (
	// DefaultSmallSize covers blob headers and control payloads (4KB)
	DefaultSmallSize = 4 << 10

	// DefaultMediumSize matches the cipher frame plaintext size (64KB)
	DefaultMediumSize = 64 << 10

	// DefaultLargeSize handles bulk data transfer (1MB)
	DefaultLargeSize = 1 << 20
)

// Pool manages a set of byte slice pools organized by size class.
// It automatically selects the appropriate pool based on requested size
// and provides fallback allocation for oversized requests.
type Pool struct {
	small      sync.Pool
	medium     sync.Pool
	large      sync.Pool
	smallSize  int
	mediumSize int
	largeSize  int
}

// Config holds configuration for creating a custom buffer pool.
type Config struct {
	// SmallSize is the size of small buffers (default: 4KB)
	SmallSize int

	// MediumSize is the size of medium buffers (default: 64KB)
	MediumSize int

	// LargeSize is the size of large buffers (default: 1MB)
	LargeSize int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		SmallSize:  DefaultSmallSize,
		MediumSize: DefaultMediumSize,
		LargeSize:  DefaultLargeSize,
	}
}

// NewPool creates a new buffer pool with the given configuration.
// If config is nil, default values are used.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		defaultCfg := DefaultConfig()
		cfg = &defaultCfg
	}

	if cfg.SmallSize <= 0 {
		cfg.SmallSize = DefaultSmallSize
	}
	if cfg.MediumSize <= 0 {
		cfg.MediumSize = DefaultMediumSize
	}
	if cfg.LargeSize <= 0 {
		cfg.LargeSize = DefaultLargeSize
	}

	p := &Pool{
		smallSize:  cfg.SmallSize,
		mediumSize: cfg.MediumSize,
		largeSize:  cfg.LargeSize,
	}

	p.small = sync.Pool{
		New: func() any {
			buf := make([]byte, p.smallSize)
			return &buf
		},
	}
	p.medium = sync.Pool{
		New: func() any {
			buf := make([]byte, p.mediumSize)
			return &buf
		},
	}
	p.large = sync.Pool{
		New: func() any {
			buf := make([]byte, p.largeSize)
			return &buf
		},
	}

	return p
}

// Get returns a byte slice of exactly the requested length, backed by a
// pooled buffer whose capacity may exceed it. The caller must call Put()
// when finished with the buffer to return it to the pool.
//
// For sizes larger than LargeSize, a new slice is allocated directly
// and will not be pooled.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.mediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= p.largeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		buf := make([]byte, size)
		return buf
	}

	buf := *bufPtr
	return buf[:size]
}

// Put returns a buffer to the pool for reuse.
// The buffer must have been obtained from Get() and should not be used after Put().
//
// Buffers whose capacity does not match a pool size class are not pooled
// and will be GC'd normally.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	switch cap(buf) {
	case p.smallSize:
		fullBuf := buf[:cap(buf)]
		p.small.Put(&fullBuf)
	case p.mediumSize:
		fullBuf := buf[:cap(buf)]
		p.medium.Put(&fullBuf)
	case p.largeSize:
		fullBuf := buf[:cap(buf)]
		p.large.Put(&fullBuf)
	default:
	}
}

// globalPool is the package-level buffer pool with default configuration.
var globalPool = NewPool(nil)

// Get returns a byte slice of the requested length from the global pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the global pool.
// Always pair this with Get(), normally via defer.
func Put(buf []byte) {
	globalPool.Put(buf)
}
