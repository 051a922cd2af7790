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

// Package config collects every tunable the network core exposes into one
// struct. Loading it from TOML/CLI flags is out of scope here (spec.md's
// Non-goals keep the CLI front end external); callers construct a Config
// directly or via Default and override fields.
package config

import "time"

// SettlementMode selects which settlement providers are active for a node.
type SettlementMode int

const (
	// SettlementPseudosettleOnly runs time-based forgiveness only.
	SettlementPseudosettleOnly SettlementMode = iota
	// SettlementFull runs pseudosettle followed by chequebook settlement.
	SettlementFull
)

// Config is the single configuration surface for the network core.
type Config struct {
	NetworkID uint64

	// Kademlia / C7
	SaturationTarget int
	MaxBinSize       int

	// Handshake / C3
	HandshakeTimeout time.Duration
	MaxFrameSize     int
	HandshakeProto   string

	// Hive / C10
	HiveProto      string
	HiveBatchSize  int
	HiveRateLimit  time.Duration // minimum spacing between accepted batches per peer

	// Pingpong
	PingpongProto    string
	PingpongTimeout  time.Duration
	SubstreamIdleTTL time.Duration

	// Accounting / C8
	PaymentThreshold    int64
	PaymentTolerancePct int64
	RefreshRate         int64
	LightFactor         int64
	BasePrice           int64
	EarlyPaymentPct     int64
	SettlementMode      SettlementMode

	// Chequebook / C9
	ChainID int64

	// IP tracker / C6
	MaxOverlaysPerIP   int
	OverlayBanWarnRate int
}

// Default returns the configuration defaults named throughout spec.md §4/§6.
func Default() Config {
	return Config{
		NetworkID: 1,

		SaturationTarget: 2,
		MaxBinSize:       16,

		HandshakeTimeout: 15 * time.Second,
		MaxFrameSize:     1024,
		HandshakeProto:   "/swarm/handshake/13.0.0/handshake",

		HiveProto:     "/swarm/hive/1.0.0/hive",
		HiveBatchSize: 30,
		HiveRateLimit: time.Second,

		PingpongProto:    "/swarm/pingpong/1.0.0/pingpong",
		PingpongTimeout:  5 * time.Second,
		SubstreamIdleTTL: 30 * time.Second,

		PaymentThreshold:    13_500_000,
		PaymentTolerancePct: 25,
		RefreshRate:         4_500_000,
		LightFactor:         10,
		BasePrice:           10_000,
		EarlyPaymentPct:     50,
		SettlementMode:      SettlementFull,

		ChainID: 1,

		MaxOverlaysPerIP:   8,
		OverlayBanWarnRate: 3,
	}
}

// DisconnectThreshold computes the disconnect threshold from the payment
// threshold and tolerance percent, per spec.md §4.6.
func (c Config) DisconnectThreshold() int64 {
	return c.PaymentThreshold * (100 + c.PaymentTolerancePct) / 100
}
