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
	"strings"
	"sync"
)

// memoryStore is an in-memory Store, used by tests and by light / ephemeral
// configurations that don't need cross-restart persistence.
type memoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory constructs an in-memory Store.
func NewMemory() Store {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) Get(key string, v interface{}) error {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

func (m *memoryStore) Put(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Iterate(prefix string, fn func(key string, value []byte) (bool, error)) error {
	m.mu.RLock()
	type kv struct {
		k string
		v []byte
	}
	var snapshot []kv
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			snapshot = append(snapshot, kv{k, v})
		}
	}
	m.mu.RUnlock()

	for _, e := range snapshot {
		stop, err := fn(e.k, e.v)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

func (m *memoryStore) Close() error { return nil }
