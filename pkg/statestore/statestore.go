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

// Package statestore is the small key-value abstraction the peer manager and
// the settlement providers persist through — mirroring the teacher's
// state.Store interface (swap/swap.go), backed here either by an in-memory
// map (tests) or goleveldb (production).
package statestore

import "errors"

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("statestore: key not found")

// Store is a generic JSON-valued key-value store.
type Store interface {
	// Get unmarshals the value stored at key into v. Returns ErrNotFound if absent.
	Get(key string, v interface{}) error
	// Put marshals v and stores it at key.
	Put(key string, v interface{}) error
	// Delete removes key, if present.
	Delete(key string) error
	// Iterate calls fn for every key with the given prefix, in undefined order,
	// stopping early if fn returns stop == true.
	Iterate(prefix string, fn func(key string, value []byte) (stop bool, err error)) error
	// Close releases any underlying resources.
	Close() error
}
