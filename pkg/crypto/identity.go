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

// Package crypto turns an Ethereum signing key plus a per-node nonce into a
// stable overlay identity, and provides the EIP-191/EIP-712 signing and
// recovery the handshake and chequebook protocols need.
package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/nxm-rs/vertex/pkg/swarm"
)

// MaxWelcomeMessageLength is the maximum UTF-8 scalar-value length of a
// handshake welcome message, per spec.md §4.2.
const MaxWelcomeMessageLength = 140

// ErrWelcomeTooLong is returned when a welcome message exceeds MaxWelcomeMessageLength.
var ErrWelcomeTooLong = errors.New("crypto: welcome message exceeds 140 characters")

// Identity derives and caches the overlay address for a signing key, nonce,
// and network ID, and signs handshake messages on behalf of the local node.
type Identity struct {
	key        *ecdsa.PrivateKey
	nonce      [32]byte
	networkID  uint64
	isFullNode bool
	welcome    string

	ethAddress common.Address
	overlay    swarm.Address
}

// NewIdentity constructs an Identity, deriving and caching the overlay.
// welcome must not exceed MaxWelcomeMessageLength UTF-8 scalar values.
func NewIdentity(key *ecdsa.PrivateKey, nonce [32]byte, networkID uint64, isFullNode bool, welcome string) (*Identity, error) {
	if utf8.RuneCountInString(welcome) > MaxWelcomeMessageLength {
		return nil, ErrWelcomeTooLong
	}
	ethAddr := gethcrypto.PubkeyToAddress(key.PublicKey)
	overlay := DeriveOverlay(ethAddr, networkID, nonce)
	return &Identity{
		key:        key,
		nonce:      nonce,
		networkID:  networkID,
		isFullNode: isFullNode,
		welcome:    welcome,
		ethAddress: ethAddr,
		overlay:    overlay,
	}, nil
}

// DeriveOverlay computes overlay = keccak256(ethereum_address || network_id_le || nonce),
// per spec.md §3. Deterministic across runs and platforms.
func DeriveOverlay(ethAddr common.Address, networkID uint64, nonce [32]byte) swarm.Address {
	var nidLE [8]byte
	binary.LittleEndian.PutUint64(nidLE[:], networkID)
	buf := make([]byte, 0, common.AddressLength+8+32)
	buf = append(buf, ethAddr.Bytes()...)
	buf = append(buf, nidLE[:]...)
	buf = append(buf, nonce[:]...)
	h := gethcrypto.Keccak256(buf)
	addr, _ := swarm.NewAddress(h)
	return addr
}

// EthereumAddress returns the secp256k1-derived Ethereum address. Changing
// the nonce changes Overlay but never EthereumAddress (spec.md §3).
func (id *Identity) EthereumAddress() common.Address { return id.ethAddress }

// Overlay returns the cached overlay address.
func (id *Identity) Overlay() swarm.Address { return id.overlay }

// Nonce returns the node's nonce.
func (id *Identity) Nonce() [32]byte { return id.nonce }

// NetworkID returns the network ID this identity is bound to.
func (id *Identity) NetworkID() uint64 { return id.networkID }

// IsFullNode reports the node-kind flag.
func (id *Identity) IsFullNode() bool { return id.isFullNode }

// Welcome returns the configured welcome message.
func (id *Identity) Welcome() string { return id.welcome }

// Sign Keccak256-hashes digest and produces a 65-byte recoverable ECDSA
// signature over the resulting 32-byte hash (gethcrypto.Sign requires an
// exact 32-byte input). It satisfies swarm.Signer, so Identity can be passed
// directly to swarm.WithSigner.
func (id *Identity) Sign(digest []byte) ([]byte, error) {
	hash := gethcrypto.Keccak256(digest)
	return gethcrypto.Sign(hash, id.key)
}

// SignHandshakeMessage signs the EIP-191 domain-separated handshake digest
// for the given multiaddrs bytes and overlay, per spec.md §4.1.
func (id *Identity) SignHandshakeMessage(multiaddrsBytes []byte, overlay swarm.Address) ([]byte, error) {
	digest := swarm.HandshakeDigest(multiaddrsBytes, overlay, id.networkID)
	return id.Sign(digest)
}

// RecoverEIP191 Keccak256-hashes digest and recovers the signer's Ethereum
// address from the resulting hash and a 65-byte recoverable signature,
// matching swarm.RecoverFunc. Used for the handshake digest, which (unlike
// eip712.ChequeSigningHash's output) is not itself a 32-byte hash.
func RecoverEIP191(digest, sig []byte) (common.Address, error) {
	hash := gethcrypto.Keccak256(digest)
	return recoverFromHash(hash, sig)
}

// recoverFromHash recovers the signer's Ethereum address from an
// already-hashed 32-byte digest and a 65-byte recoverable signature.
func recoverFromHash(hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("crypto: signature must be 65 bytes")
	}
	pub, err := gethcrypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, err
	}
	return gethcrypto.PubkeyToAddress(*pub), nil
}
