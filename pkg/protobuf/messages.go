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

// Package protobuf holds the wire messages for the handshake, hive, and
// pingpong sub-protocols (spec.md §6) and the length-delimited framing codec
// they are sent over. Messages are declared the way hand-written (non
// protoc-generated) gogo/protobuf messages are: plain structs carrying
// `protobuf:"..."` struct tags, satisfying proto.Message via Reset/String/
// ProtoMessage, marshaled through the library's reflection-based path.
package protobuf

import "fmt"

// BzzAddress is the wire form of a signed peer record (spec.md §6). Nonce
// travels alongside the signature so a receiver can recompute the overlay
// independently of the claim (swarm.FromSigned), the same binding the
// handshake's Ack.Nonce field establishes for a freshly dialed peer.
type BzzAddress struct {
	Underlay  []byte `protobuf:"bytes,1,opt,name=Underlay,proto3" json:"Underlay,omitempty"`
	Signature []byte `protobuf:"bytes,2,opt,name=Signature,proto3" json:"Signature,omitempty"`
	Overlay   []byte `protobuf:"bytes,3,opt,name=Overlay,proto3" json:"Overlay,omitempty"`
	Nonce     []byte `protobuf:"bytes,4,opt,name=Nonce,proto3" json:"Nonce,omitempty"`
}

func (m *BzzAddress) Reset()         { *m = BzzAddress{} }
func (m *BzzAddress) String() string { return fmt.Sprintf("BzzAddress{underlay=%x}", m.Underlay) }
func (*BzzAddress) ProtoMessage()    {}

// Syn is the first handshake message (spec.md §6).
type Syn struct {
	ObservedUnderlay []byte `protobuf:"bytes,1,opt,name=ObservedUnderlay,proto3" json:"ObservedUnderlay,omitempty"`
}

func (m *Syn) Reset()         { *m = Syn{} }
func (m *Syn) String() string { return fmt.Sprintf("Syn{observed=%x}", m.ObservedUnderlay) }
func (*Syn) ProtoMessage()    {}

// Ack is the second/third handshake message (spec.md §6).
type Ack struct {
	Address        *BzzAddress `protobuf:"bytes,1,opt,name=Address,proto3" json:"Address,omitempty"`
	NetworkID      uint64      `protobuf:"varint,2,opt,name=NetworkID,proto3" json:"NetworkID,omitempty"`
	FullNode       bool        `protobuf:"varint,3,opt,name=FullNode,proto3" json:"FullNode,omitempty"`
	Nonce          []byte      `protobuf:"bytes,4,opt,name=Nonce,proto3" json:"Nonce,omitempty"`
	WelcomeMessage string      `protobuf:"bytes,5,opt,name=WelcomeMessage,proto3" json:"WelcomeMessage,omitempty"`
}

func (m *Ack) Reset()         { *m = Ack{} }
func (m *Ack) String() string { return fmt.Sprintf("Ack{networkID=%d}", m.NetworkID) }
func (*Ack) ProtoMessage()    {}

// SynAck is the responder's combined second message (spec.md §6).
type SynAck struct {
	Syn *Syn `protobuf:"bytes,1,opt,name=Syn,proto3" json:"Syn,omitempty"`
	Ack *Ack `protobuf:"bytes,2,opt,name=Ack,proto3" json:"Ack,omitempty"`
}

func (m *SynAck) Reset()         { *m = SynAck{} }
func (m *SynAck) String() string { return "SynAck{}" }
func (*SynAck) ProtoMessage()    {}

// Peers is a batch of at most config.HiveBatchSize signed peer records,
// the Hive gossip unit (spec.md §6, §4.8).
type Peers struct {
	Peers []*BzzAddress `protobuf:"bytes,1,rep,name=Peers,proto3" json:"Peers,omitempty"`
}

func (m *Peers) Reset()         { *m = Peers{} }
func (m *Peers) String() string { return fmt.Sprintf("Peers{n=%d}", len(m.Peers)) }
func (*Peers) ProtoMessage()    {}

// Ping is the pingpong request (spec.md §6).
type Ping struct {
	Greeting string `protobuf:"bytes,1,opt,name=Greeting,proto3" json:"Greeting,omitempty"`
}

func (m *Ping) Reset()         { *m = Ping{} }
func (m *Ping) String() string { return fmt.Sprintf("Ping{%q}", m.Greeting) }
func (*Ping) ProtoMessage()    {}

// Pong is the pingpong response (spec.md §6).
type Pong struct {
	Greeting string `protobuf:"bytes,1,opt,name=Greeting,proto3" json:"Greeting,omitempty"`
}

func (m *Pong) Reset()         { *m = Pong{} }
func (m *Pong) String() string { return fmt.Sprintf("Pong{%q}", m.Greeting) }
func (*Pong) ProtoMessage()    {}

// Payment is the pseudosettle network-backed settlement request (spec.md §4.7).
type Payment struct {
	Amount int64 `protobuf:"varint,1,opt,name=Amount,proto3" json:"Amount,omitempty"`
}

func (m *Payment) Reset()         { *m = Payment{} }
func (m *Payment) String() string { return fmt.Sprintf("Payment{amount=%d}", m.Amount) }
func (*Payment) ProtoMessage()    {}

// PaymentAck is the pseudosettle network-backed settlement response
// (spec.md §4.7). Timestamp is Unix seconds, sanity-checked by the payer
// against local wall time within a configurable tolerance.
type PaymentAck struct {
	Amount    int64 `protobuf:"varint,1,opt,name=Amount,proto3" json:"Amount,omitempty"`
	Timestamp int64 `protobuf:"varint,2,opt,name=Timestamp,proto3" json:"Timestamp,omitempty"`
}

func (m *PaymentAck) Reset()         { *m = PaymentAck{} }
func (m *PaymentAck) String() string { return fmt.Sprintf("PaymentAck{amount=%d}", m.Amount) }
func (*PaymentAck) ProtoMessage()    {}
