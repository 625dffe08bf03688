// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	bdb "github.com/AleutianAI/kernelbench/services/bench/storage/badger"
)

const keyPrefix = "baseline/"

func baselineKey(name string) []byte {
	return []byte(keyPrefix + name)
}

// BadgerStore keeps baselines in BadgerDB, one JSON value per name.
type BadgerStore struct {
	db *bdb.DB
}

// NewBadgerStore creates a store over an open database. The caller keeps
// ownership of db.
func NewBadgerStore(db *bdb.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(ctx context.Context, name string) (*Entry, error) {
	var entry Entry
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(baselineKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err != nil {
			return fmt.Errorf("get baseline %s: %w", name, err)
		}
		return item.Value(func(val []byte) error {
			return decode(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *BadgerStore) Save(ctx context.Context, entry *Entry) error {
	if err := prepare(entry); err != nil {
		return err
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBaseline, err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(baselineKey(entry.Name), val)
	})
}

func (s *BadgerStore) List(ctx context.Context) ([]*Entry, error) {
	var out []*Entry
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return decode(val, &entry)
			}); err != nil {
				return err
			}
			out = append(out, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByName(out)
	return out, nil
}

func (s *BadgerStore) Delete(ctx context.Context, name string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(baselineKey(name)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, name)
			}
			return err
		}
		return txn.Delete(baselineKey(name))
	})
}

func decode(val []byte, entry *Entry) error {
	if err := json.Unmarshal(val, entry); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBaseline, err)
	}
	return nil
}
