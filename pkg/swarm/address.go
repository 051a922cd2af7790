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

// Package swarm holds the overlay address type and the peer record it
// authenticates, shared by every other core package.
package swarm

import (
	"encoding/hex"
	"errors"
)

// AddressLength is the size in bytes of an overlay address (256 bits).
const AddressLength = 32

// MaxPO is the largest proximity order the Kademlia table routes on.
const MaxPO = 31

// MaxPOExtended is the proximity cap used outside of routing (full bit match).
const MaxPOExtended = 255

// ErrInvalidAddressLength is returned when decoding an address of the wrong size.
var ErrInvalidAddressLength = errors.New("swarm: invalid address length")

// Address is a 256-bit overlay locator. It carries no authentication of its
// own; see Peer for the signed, network-bound record.
type Address struct {
	b [AddressLength]byte
}

// ZeroAddress is the additive identity, never a valid overlay for a live peer.
var ZeroAddress = Address{}

// NewAddress copies b into a new Address. b must be exactly AddressLength bytes.
func NewAddress(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLength {
		return a, ErrInvalidAddressLength
	}
	copy(a.b[:], b)
	return a, nil
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.b[:])
	return out
}

// Equal reports byte-wise equality.
func (a Address) Equal(o Address) bool {
	return a.b == o.b
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// String renders the address as a hex string.
func (a Address) String() string {
	return hex.EncodeToString(a.b[:])
}

// MarshalJSON renders the address as a hex string, quoted.
func (a Address) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON parses a quoted hex string into the address.
func (a *Address) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New("swarm: address must be a quoted hex string")
	}
	b, err := hex.DecodeString(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	decoded, err := NewAddress(b)
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// Proximity returns the number of leading matching bits between a and b,
// capped at maxBits. A maxBits of MaxPO is used for routing; MaxPOExtended
// elsewhere.
func Proximity(a, b Address, maxBits int) uint8 {
	if maxBits > AddressLength*8 {
		maxBits = AddressLength * 8
	}
	var count int
	for i := 0; i < AddressLength; i++ {
		x := a.b[i] ^ b.b[i]
		if x == 0 {
			count += 8
			if count >= maxBits {
				return uint8(maxBits)
			}
			continue
		}
		// count leading zero bits of x within this byte
		for bit := 7; bit >= 0; bit-- {
			if x&(1<<uint(bit)) != 0 {
				return uint8(min(count, maxBits))
			}
			count++
			if count >= maxBits {
				return uint8(maxBits)
			}
		}
	}
	return uint8(min(count, maxBits))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// DistanceCmp orders a and b by XOR-distance to target: it returns -1 if a is
// closer, 1 if b is closer, 0 if equidistant.
func DistanceCmp(target, a, b Address) int {
	for i := 0; i < AddressLength; i++ {
		da := a.b[i] ^ target.b[i]
		db := b.b[i] ^ target.b[i]
		if da == db {
			continue
		}
		if da < db {
			return -1
		}
		return 1
	}
	return 0
}
