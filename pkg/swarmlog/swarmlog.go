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

// Package swarmlog gives every core package a shared, stably-named logger
// rather than each reaching for the stdlib log package independently.
package swarmlog

import "github.com/ethereum/go-ethereum/log"

// Logger is the interface every core package depends on. It is satisfied
// directly by go-ethereum's log.Logger.
type Logger = log.Logger

// New returns a named sub-logger, e.g. New("kademlia", "base", overlay).
func New(component string, ctx ...interface{}) Logger {
	return log.Root().New(append([]interface{}{"component", component}, ctx...)...)
}

// Root is the process-wide root logger, exposed for components that want to
// derive their own named children without going through New.
func Root() Logger {
	return log.Root()
}
