package agent

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
)

var partPrefix = []byte("part/")

// BadgerStore keeps parts as records in an embedded badger database.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func partKey(name string) []byte {
	return append(append([]byte{}, partPrefix...), name...)
}

func (s *BadgerStore) Put(name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	rec := &Record{CreateTime: time.Now().Unix(), Data: data}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(partKey(name), rec.Encode())
	})
}

func (s *BadgerStore) Get(name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(partKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err := DecodeRecord(val)
			if err != nil {
				return err
			}
			data = rec.Data
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrPartNotFound
	}
	return data, err
}

func (s *BadgerStore) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(partKey(name)); err != nil {
			return err
		}
		return txn.Delete(partKey(name))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrPartNotFound
	}
	return err
}

func (s *BadgerStore) Search(substr []byte) ([]string, error) {
	var matches []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = partPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(partPrefix):])
			err := item.Value(func(val []byte) error {
				rec, err := DecodeRecord(val)
				if err != nil {
					return err
				}
				if bytes.Contains(rec.Data, substr) {
					matches = append(matches, name)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return matches, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
