package blob

import (
	"context"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps blobs inside an embedded BadgerDB. This is the "database"
// backend: a single directory holds metadata-free key/value pairs, useful when
// the deployment should not scatter loose blob files.
type BadgerStore struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// NewBadgerStore opens (or creates) the database at dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("database blob store requires a directory")
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger blob store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *BadgerStore) Write(ctx context.Context, key string, data []byte) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *BadgerStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *BadgerStore) ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	data, err := s.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	size := int64(len(data))
	if offset < 0 || offset > size {
		return nil, fmt.Errorf("range offset %d out of bounds (size %d)", offset, size)
	}
	end := offset + length
	if end > size {
		end = size
	}
	return data[offset:end], nil
}

func (s *BadgerStore) Size(ctx context.Context, key string) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	var size int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		size = item.ValueSize()
		return nil
	})
	return size, err
}

func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (s *BadgerStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix)})
		defer it.Close()
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) HealthCheck(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error { return nil })
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
