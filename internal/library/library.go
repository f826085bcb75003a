// internal/library/library.go
package library

import (
	"fmt"

	"waypoint/internal/tour"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const keyPrefix = "tour:"

// Library persists tours in a badger database, zstd-compressed. It is the
// CLI's working set; export/import move the plain JSON form in and out.
type Library struct {
	db     *badger.DB
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger *zap.Logger
}

func Open(path string, logger *zap.Logger) (*Library, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable logging noise

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening library database: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	return &Library{db: db, enc: enc, dec: dec, logger: logger}, nil
}

// OpenInMemory opens a library backed by an in-memory database, for tests.
func OpenInMemory(logger *zap.Logger) (*Library, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening in-memory library: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	return &Library{db: db, enc: enc, dec: dec, logger: logger}, nil
}

func (l *Library) Close() error {
	l.enc.Close()
	l.dec.Close()
	return l.db.Close()
}

func makeKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// Save writes a tour, overwriting any previous revision of it.
func (l *Library) Save(t *tour.Tour) error {
	if t.ID == "" {
		return fmt.Errorf("tour ID cannot be empty")
	}

	data, err := tour.Serialize(t)
	if err != nil {
		return fmt.Errorf("serializing tour: %w", err)
	}
	compressed := l.enc.EncodeAll(data, nil)

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(t.ID), compressed)
	})
	if err != nil {
		return fmt.Errorf("saving tour %s: %w", t.ID, err)
	}

	l.logger.Debug("saved tour",
		zap.String("tour", t.ID),
		zap.Int("bytes", len(data)),
		zap.Int("compressed_bytes", len(compressed)))
	return nil
}

func (l *Library) Get(id string) (*tour.Tour, error) {
	var compressed []byte
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			compressed = append([]byte(nil), val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("tour not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting tour %s: %w", id, err)
	}

	data, err := l.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing tour %s: %w", id, err)
	}
	return tour.Deserialize(data)
}

func (l *Library) Delete(id string) error {
	err := l.db.Update(func(txn *badger.Txn) error {
		key := makeKey(id)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err == badger.ErrKeyNotFound {
		return fmt.Errorf("tour not found: %s", id)
	}
	if err != nil {
		return fmt.Errorf("deleting tour %s: %w", id, err)
	}
	return nil
}

// List returns every stored tour.
func (l *Library) List() ([]*tour.Tour, error) {
	var tours []*tour.Tour

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var compressed []byte
			err := it.Item().Value(func(val []byte) error {
				compressed = append([]byte(nil), val...)
				return nil
			})
			if err != nil {
				return err
			}

			data, err := l.dec.DecodeAll(compressed, nil)
			if err != nil {
				return err
			}
			t, err := tour.Deserialize(data)
			if err != nil {
				return err
			}
			tours = append(tours, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing tours: %w", err)
	}
	return tours, nil
}
