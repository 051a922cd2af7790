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

package swarm

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	ma "github.com/multiformats/go-multiaddr"
)

// HandshakeDomainPrefix is the EIP-191 domain-separation prefix used to sign
// and verify the handshake message, per spec.md §4.1/§6.
const HandshakeDomainPrefix = "bee-handshake-"

// Signer is the minimal signing capability a Peer construction needs. It is
// satisfied by *crypto.Identity (pkg/crypto), kept as an interface here to
// avoid an import cycle.
type Signer interface {
	Sign(digest []byte) ([]byte, error)
}

// Peer is an immutable, validated, signed record binding a set of multiaddrs
// to an overlay address and an Ethereum address, on a specific network.
type Peer struct {
	Multiaddrs      []ma.Multiaddr
	Signature       [65]byte
	Overlay         Address
	Nonce           [32]byte
	EthereumAddress common.Address
}

// HandshakeDigest returns the domain-separated byte string the handshake
// signature covers: "bee-handshake-" || serialized_multiaddrs || overlay || network_id_be(8).
func HandshakeDigest(multiaddrsBytes []byte, overlay Address, networkID uint64) []byte {
	var nidBE [8]byte
	binary.BigEndian.PutUint64(nidBE[:], networkID)
	buf := bytes.NewBuffer(nil)
	buf.WriteString(HandshakeDomainPrefix)
	buf.Write(multiaddrsBytes)
	buf.Write(overlay.Bytes())
	buf.Write(nidBE[:])
	return buf.Bytes()
}

// SerializeMultiaddrs encodes addrs as a length-prefixed concatenation of
// their wire bytes, matching the "underlay bytes" wire representation
// spec.md §6 describes. Each entry is self-delimiting so the concatenation
// can later be split back into individual multiaddrs.
func SerializeMultiaddrs(addrs []ma.Multiaddr) []byte {
	buf := bytes.NewBuffer(nil)
	for _, a := range addrs {
		raw := a.Bytes()
		var lenBuf [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(lenBuf[:], uint64(len(raw)))
		buf.Write(lenBuf[:n])
		buf.Write(raw)
	}
	return buf.Bytes()
}

// DeserializeMultiaddrs splits the length-prefixed concatenation produced by
// SerializeMultiaddrs back into individual multiaddrs.
func DeserializeMultiaddrs(data []byte) ([]ma.Multiaddr, error) {
	var out []ma.Multiaddr
	for len(data) > 0 {
		l, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, errors.New("swarm: malformed multiaddr length prefix")
		}
		data = data[n:]
		if uint64(len(data)) < l {
			return nil, errors.New("swarm: truncated multiaddr entry")
		}
		addr, err := ma.NewMultiaddrBytes(data[:l])
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
		data = data[l:]
	}
	return out, nil
}

// WithSigner builds a locally-originated Peer: it signs the handshake
// message over the given multiaddrs and overlay with signer, for networkID.
func WithSigner(signer Signer, multiaddrs []ma.Multiaddr, overlay Address, nonce [32]byte, ethAddr common.Address, networkID uint64) (*Peer, error) {
	maBytes := SerializeMultiaddrs(multiaddrs)
	digest := HandshakeDigest(maBytes, overlay, networkID)
	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, err
	}
	p := &Peer{
		Multiaddrs:      multiaddrs,
		Overlay:         overlay,
		Nonce:           nonce,
		EthereumAddress: ethAddr,
	}
	copy(p.Signature[:], sig)
	return p, nil
}

// RecoverFunc recovers the signer's Ethereum address from a digest and a
// 65-byte recoverable signature. Implemented by pkg/crypto to avoid a cycle.
type RecoverFunc func(digest, sig []byte) (common.Address, error)

// OverlayDeriveFunc recomputes the overlay for an Ethereum address, nonce,
// and network ID. Implemented by pkg/crypto.
type OverlayDeriveFunc func(ethAddr common.Address, networkID uint64, nonce [32]byte) Address

// FromSigned reconstructs and optionally validates a Peer received over the
// wire: it recovers the Ethereum address from the signature and, when
// validateOverlay is true, recomputes the overlay and compares it against
// the advertised one.
func FromSigned(multiaddrs []ma.Multiaddr, sig [65]byte, overlay Address, nonce [32]byte, networkID uint64, validateOverlay bool, recover RecoverFunc, deriveOverlay OverlayDeriveFunc) (*Peer, error) {
	maBytes := SerializeMultiaddrs(multiaddrs)
	digest := HandshakeDigest(maBytes, overlay, networkID)
	ethAddr, err := recover(digest, sig[:])
	if err != nil {
		return nil, err
	}
	if validateOverlay {
		expected := deriveOverlay(ethAddr, networkID, nonce)
		if !expected.Equal(overlay) {
			return nil, errInvalidOverlay
		}
	}
	return &Peer{
		Multiaddrs:      multiaddrs,
		Signature:       sig,
		Overlay:         overlay,
		Nonce:           nonce,
		EthereumAddress: ethAddr,
	}, nil
}

// FromValidated constructs a Peer from already-trusted storage (e.g. a peer
// store snapshot) without re-verifying the signature.
func FromValidated(multiaddrs []ma.Multiaddr, sig [65]byte, overlay Address, nonce [32]byte, ethAddr common.Address) *Peer {
	return &Peer{
		Multiaddrs:      multiaddrs,
		Signature:       sig,
		Overlay:         overlay,
		Nonce:           nonce,
		EthereumAddress: ethAddr,
	}
}

// Dialable reports whether the peer record carries at least one multiaddr.
// Non-dialable peers are still valid for reception and gossip (spec.md §3).
func (p *Peer) Dialable() bool {
	return len(p.Multiaddrs) > 0
}

var errInvalidOverlay = overlayMismatchError{}

type overlayMismatchError struct{}

func (overlayMismatchError) Error() string { return "swarm: recomputed overlay does not match advertised overlay" }
