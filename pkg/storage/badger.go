package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	pkgerrors "github.com/vortexml/traind/pkg/errors"
	"github.com/vortexml/traind/params"
)

const defaultBadgerDir = "./data"

type storedValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type badgerStorage struct {
	sync.RWMutex

	db *badger.DB
}

// NewBadgerStorage opens a durable badger-backed store under dataDir. Used
// by parameter-holder processes that must survive restarts without losing
// the shared model state.
func NewBadgerStorage(dataDir string) (Storage, error) {
	if dataDir == "" {
		dataDir = defaultBadgerDir
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	opts := badger.DefaultOptions(dataDir)
	opts.Logger = nil // Disable Badger's default logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open Badger database: %w", err)
	}

	return &badgerStorage{
		db: db,
	}, nil
}

func (s *badgerStorage) Create(ctx context.Context, key string, value any) error {
	if key == "" {
		return pkgerrors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return pkgerrors.ErrEntityExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to check key existence: %w", err)
		}

		return s.writeValue(txn, key, value)
	})
}

func (s *badgerStorage) Get(ctx context.Context, key string) (any, error) {
	if key == "" {
		return nil, pkgerrors.ErrEmptyKey
	}

	s.RLock()
	defer s.RUnlock()

	var result any
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return pkgerrors.ErrNotFound
			}

			return fmt.Errorf("failed to get key: %w", err)
		}

		return item.Value(func(val []byte) error {
			result, err = s.unmarshalValue(val)

			return err
		})
	})

	return result, err
}

func (s *badgerStorage) Update(ctx context.Context, key string, value any) error {
	if key == "" {
		return pkgerrors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return pkgerrors.ErrNotFound
			}

			return fmt.Errorf("failed to check key existence: %w", err)
		}

		return s.writeValue(txn, key, value)
	})
}

func (s *badgerStorage) Upsert(ctx context.Context, key string, value any) error {
	if key == "" {
		return pkgerrors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		return s.writeValue(txn, key, value)
	})
}

func (s *badgerStorage) List(ctx context.Context, offset, limit uint64) (result []any, total uint64, err error) {
	s.RLock()
	defer s.RUnlock()

	var keys []string
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()))
		}

		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list keys: %w", err)
	}

	sort.Strings(keys)
	total = uint64(len(keys))

	if offset >= total {
		return nil, total, nil
	}

	end := min(offset+limit, total)
	result = make([]any, 0, end-offset)

	err = s.db.View(func(txn *badger.Txn) error {
		for i := offset; i < end; i++ {
			item, err := txn.Get([]byte(keys[i]))
			if err != nil {
				continue
			}

			err = item.Value(func(val []byte) error {
				value, err := s.unmarshalValue(val)
				if err == nil {
					result = append(result, value)
				}

				return err
			})
			if err != nil {
				continue
			}
		}

		return nil
	})

	return result, total, err
}

func (s *badgerStorage) Delete(ctx context.Context, key string) error {
	if key == "" {
		return pkgerrors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return pkgerrors.ErrNotFound
			}

			return fmt.Errorf("failed to check key existence: %w", err)
		}

		return txn.Delete([]byte(key))
	})
}

func (s *badgerStorage) Close() error {
	s.Lock()
	defer s.Unlock()

	return s.db.Close()
}

func (s *badgerStorage) writeValue(txn *badger.Txn, key string, value any) error {
	typeName := typeNameOf(value)

	valueData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	stored := storedValue{
		Type:  typeName,
		Value: valueData,
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal stored value: %w", err)
	}

	return txn.Set([]byte(key), data)
}

func (s *badgerStorage) unmarshalValue(data []byte) (any, error) {
	var stored storedValue
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored value: %w", err)
	}

	switch stored.Type {
	case "parameter":
		var p params.Parameter
		if err := json.Unmarshal(stored.Value, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameter: %w", err)
		}

		return p, nil
	default:
		var v any
		if err := json.Unmarshal(stored.Value, &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal raw value: %w", err)
		}

		return v, nil
	}
}

func typeNameOf(value any) string {
	switch value.(type) {
	case params.Parameter:
		return "parameter"
	default:
		return ""
	}
}
