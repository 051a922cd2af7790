// Copyright 2024 The Vertex Authors
// This file is part of the Vertex library.
//
// The Vertex library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The Vertex library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the Vertex library. If not, see <http://www.gnu.org/licenses/>.

package statestore

import (
	"encoding/json"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelStore is a goleveldb-backed Store, the durable backend used by the
// peer manager and settlement providers in production (spec.md §3/§4.6/§4.7).
type levelStore struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a leveldb database at path.
func NewLevelDB(path string) (Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &levelStore{db: db}, nil
}

func (s *levelStore) Get(key string, v interface{}) error {
	b, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(b, v)
}

func (s *levelStore) Put(key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(key), b, nil)
}

func (s *levelStore) Delete(key string) error {
	return s.db.Delete([]byte(key), nil)
}

func (s *levelStore) Iterate(prefix string, fn func(key string, value []byte) (bool, error)) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		key := string(iter.Key())
		value := append([]byte(nil), iter.Value()...)
		stop, err := fn(key, value)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}
	return iter.Error()
}

func (s *levelStore) Close() error {
	return s.db.Close()
}
