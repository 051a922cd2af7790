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

// Package handshake drives the three-message SYN / SYN-ACK / ACK exchange
// (spec.md §4.2) over a length-delimited protobuf stream, producing an
// authenticated remote Peer or a Kind-tagged failure.
package handshake

import (
	"context"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/nxm-rs/vertex/pkg/crypto"
	"github.com/nxm-rs/vertex/pkg/protobuf"
	"github.com/nxm-rs/vertex/pkg/swarm"
	"github.com/nxm-rs/vertex/pkg/swarmerr"
)

// Stream is the minimal substream abstraction the handshake needs: a
// bidirectional byte stream, as produced by the transport layer (pkg/p2p).
type Stream interface {
	io.Reader
	io.Writer
}

// Info is what a completed handshake yields to the caller (spec.md §4.2).
type Info struct {
	RemotePeer        *swarm.Peer
	IsFullNode         bool
	Welcome            string
	ObservedMultiaddr  ma.Multiaddr
}

// Service drives the handshake protocol for a local Identity.
type Service struct {
	identity     *crypto.Identity
	networkID    uint64
	timeout      time.Duration
	maxFrameSize int

	mu       sync.Mutex
	underlay []ma.Multiaddr // this node's own advertised multiaddr(s)
}

// New constructs a handshake Service bound to identity, networkID, timeout,
// and the codec's frame cap.
func New(identity *crypto.Identity, networkID uint64, timeout time.Duration, maxFrameSize int) *Service {
	return &Service{identity: identity, networkID: networkID, timeout: timeout, maxFrameSize: maxFrameSize}
}

// SetUnderlay updates the multiaddr(s) this node advertises in its Ack
// messages, e.g. once the transport's listen addresses are known.
func (s *Service) SetUnderlay(addrs []ma.Multiaddr) {
	s.mu.Lock()
	s.underlay = addrs
	s.mu.Unlock()
}

func (s *Service) getUnderlay() []ma.Multiaddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.underlay
}

// Initiate runs the dialer side of the handshake: send Syn, receive SynAck,
// send Ack (spec.md §4.2 "Initiator"). peerUnderlay is the remote peer's
// address as this node dialed it (sent in Syn.ObservedUnderlay).
func (s *Service) Initiate(ctx context.Context, stream Stream, peerUnderlay ma.Multiaddr) (*Info, error) {
	deadline := time.Now().Add(s.timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	done := make(chan struct{})
	var info *Info
	var err error
	go func() {
		defer close(done)
		info, err = s.initiate(stream, peerUnderlay)
	}()

	select {
	case <-done:
		return info, err
	case <-ctx.Done():
		return nil, swarmerr.New(swarmerr.Timeout, "handshake initiate timed out after %s", s.timeout)
	}
}

func (s *Service) initiate(stream Stream, peerUnderlay ma.Multiaddr) (*Info, error) {
	syn := &protobuf.Syn{ObservedUnderlay: peerUnderlay.Bytes()}
	if err := protobuf.WriteMessage(stream, syn, s.maxFrameSize); err != nil {
		return nil, err
	}

	synAck := &protobuf.SynAck{}
	if err := protobuf.ReadMessage(stream, synAck, s.maxFrameSize); err != nil {
		return nil, err
	}
	if synAck.Syn == nil || synAck.Ack == nil {
		return nil, swarmerr.New(swarmerr.InvalidMessage, "SynAck")
	}

	if synAck.Ack.NetworkID != s.networkID {
		return nil, swarmerr.New(swarmerr.NetworkIDMismatch, "remote network id %d != local %d", synAck.Ack.NetworkID, s.networkID)
	}

	remotePeer, err := s.reconstructPeer(synAck.Ack)
	if err != nil {
		return nil, err
	}

	ack, err := s.buildAck()
	if err != nil {
		return nil, err
	}
	if err := protobuf.WriteMessage(stream, ack, s.maxFrameSize); err != nil {
		return nil, err
	}

	observed, err := ma.NewMultiaddrBytes(synAck.Syn.ObservedUnderlay)
	if err != nil {
		observed = nil
	}

	return &Info{
		RemotePeer:        remotePeer,
		IsFullNode:        synAck.Ack.FullNode,
		Welcome:           synAck.Ack.WelcomeMessage,
		ObservedMultiaddr: observed,
	}, nil
}

// Handle runs the listener side of the handshake: receive Syn, send SynAck,
// receive Ack (spec.md §4.2 "Responder"). observedAddr is the remote peer's
// address as this node sees it on the connection (sent back in
// SynAck.Syn.ObservedUnderlay).
func (s *Service) Handle(ctx context.Context, stream Stream, observedAddr ma.Multiaddr) (*Info, error) {
	deadline := time.Now().Add(s.timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	done := make(chan struct{})
	var info *Info
	var err error
	go func() {
		defer close(done)
		info, err = s.handle(stream, observedAddr)
	}()

	select {
	case <-done:
		return info, err
	case <-ctx.Done():
		return nil, swarmerr.New(swarmerr.Timeout, "handshake handle timed out after %s", s.timeout)
	}
}

func (s *Service) handle(stream Stream, observedAddr ma.Multiaddr) (*Info, error) {
	syn := &protobuf.Syn{}
	if err := protobuf.ReadMessage(stream, syn, s.maxFrameSize); err != nil {
		return nil, err
	}
	// syn.ObservedUnderlay is the peer's view of our address; callers that
	// want to feed it to an address manager can read it back from the
	// returned Info's peer-observed counterpart via a higher layer (C11).

	ack, err := s.buildAck()
	if err != nil {
		return nil, err
	}
	synAck := &protobuf.SynAck{
		Syn: &protobuf.Syn{ObservedUnderlay: observedAddr.Bytes()},
		Ack: ack,
	}
	if err := protobuf.WriteMessage(stream, synAck, s.maxFrameSize); err != nil {
		return nil, err
	}

	gotAck := &protobuf.Ack{}
	if err := protobuf.ReadMessage(stream, gotAck, s.maxFrameSize); err != nil {
		return nil, err
	}
	if gotAck.NetworkID != s.networkID {
		return nil, swarmerr.New(swarmerr.NetworkIDMismatch, "remote network id %d != local %d", gotAck.NetworkID, s.networkID)
	}

	remotePeer, err := s.reconstructPeer(gotAck)
	if err != nil {
		return nil, err
	}

	observedByPeer, err := ma.NewMultiaddrBytes(syn.ObservedUnderlay)
	if err != nil {
		observedByPeer = nil
	}

	return &Info{
		RemotePeer:        remotePeer,
		IsFullNode:        gotAck.FullNode,
		Welcome:           gotAck.WelcomeMessage,
		ObservedMultiaddr: observedByPeer,
	}, nil
}

func (s *Service) buildAck() (*protobuf.Ack, error) {
	if utf8.RuneCountInString(s.identity.Welcome()) > crypto.MaxWelcomeMessageLength {
		return nil, swarmerr.New(swarmerr.FieldLengthLimitExceeded, "welcome message exceeds %d characters", crypto.MaxWelcomeMessageLength)
	}
	overlay := s.identity.Overlay()
	maBytes := swarm.SerializeMultiaddrs(s.getUnderlay())
	sig, err := s.identity.SignHandshakeMessage(maBytes, overlay)
	if err != nil {
		return nil, err
	}
	nonce := s.identity.Nonce()
	return &protobuf.Ack{
		Address: &protobuf.BzzAddress{
			Underlay:  maBytes,
			Signature: sig,
			Overlay:   overlay.Bytes(),
		},
		NetworkID:      s.networkID,
		FullNode:       s.identity.IsFullNode(),
		Nonce:          nonce[:],
		WelcomeMessage: s.identity.Welcome(),
	}, nil
}

func (s *Service) reconstructPeer(ack *protobuf.Ack) (*swarm.Peer, error) {
	if ack.Address == nil {
		return nil, swarmerr.New(swarmerr.MissingField, "address")
	}
	if len(ack.Address.Signature) != 65 {
		return nil, swarmerr.New(swarmerr.InvalidSignature, "signature must be 65 bytes, got %d", len(ack.Address.Signature))
	}
	if utf8.RuneCountInString(ack.WelcomeMessage) > crypto.MaxWelcomeMessageLength {
		return nil, swarmerr.New(swarmerr.FieldLengthLimitExceeded, "welcome message exceeds %d characters", crypto.MaxWelcomeMessageLength)
	}
	overlay, err := swarm.NewAddress(ack.Address.Overlay)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.InvalidOverlay, err, "decode overlay")
	}
	multiaddrs, err := swarm.DeserializeMultiaddrs(ack.Address.Underlay)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.InvalidMessage, err, "decode underlay")
	}
	var nonce [32]byte
	copy(nonce[:], ack.Nonce)
	var sig [65]byte
	copy(sig[:], ack.Address.Signature)

	peer, err := swarm.FromSigned(multiaddrs, sig, overlay, nonce, s.networkID, true, crypto.RecoverEIP191, crypto.DeriveOverlay)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.InvalidSignature, err, "recover/verify remote peer")
	}
	return peer, nil
}
