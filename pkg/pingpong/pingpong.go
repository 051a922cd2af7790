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

// Package pingpong drives the one-request/one-response RTT sub-protocol
// (spec.md §4.9/§6): a single framed Ping carrying a greeting, answered by a
// single framed Pong echoing it. Built in the same request/response-over-a-
// framed-stream idiom as pkg/handshake, scaled down to one round trip.
package pingpong

import (
	"context"
	"io"
	"time"

	"github.com/nxm-rs/vertex/pkg/protobuf"
	"github.com/nxm-rs/vertex/pkg/swarmerr"
)

// Stream is the minimal substream abstraction pingpong needs.
type Stream interface {
	io.Reader
	io.Writer
}

// Service drives the pingpong protocol.
type Service struct {
	timeout      time.Duration
	maxFrameSize int
}

// New constructs a pingpong Service. timeout bounds one full round trip.
func New(timeout time.Duration, maxFrameSize int) *Service {
	return &Service{timeout: timeout, maxFrameSize: maxFrameSize}
}

// Ping sends a greeting over stream and waits for the echoed Pong, returning
// the measured round-trip time.
func (s *Service) Ping(ctx context.Context, stream Stream, greeting string) (time.Duration, string, error) {
	type result struct {
		rtt  time.Duration
		pong string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		start := time.Now()
		if err := protobuf.WriteMessage(stream, &protobuf.Ping{Greeting: greeting}, s.maxFrameSize); err != nil {
			done <- result{err: swarmerr.Wrap(swarmerr.Transport, err, "pingpong: writing ping")}
			return
		}
		var pong protobuf.Pong
		if err := protobuf.ReadMessage(stream, &pong, s.maxFrameSize); err != nil {
			done <- result{err: swarmerr.Wrap(swarmerr.Transport, err, "pingpong: reading pong")}
			return
		}
		done <- result{rtt: time.Since(start), pong: pong.Greeting}
	}()

	deadline := time.Now().Add(s.timeout)
	tctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	select {
	case r := <-done:
		return r.rtt, r.pong, r.err
	case <-tctx.Done():
		return 0, "", swarmerr.New(swarmerr.Timeout, "pingpong: round trip exceeded %s", s.timeout)
	}
}

// HandlePing reads one Ping frame from stream and echoes it back as a Pong,
// the responder side spec.md §4.9 requires.
func (s *Service) HandlePing(stream Stream) error {
	var ping protobuf.Ping
	if err := protobuf.ReadMessage(stream, &ping, s.maxFrameSize); err != nil {
		return swarmerr.Wrap(swarmerr.Transport, err, "pingpong: reading ping")
	}
	if err := protobuf.WriteMessage(stream, &protobuf.Pong{Greeting: ping.Greeting}, s.maxFrameSize); err != nil {
		return swarmerr.Wrap(swarmerr.Transport, err, "pingpong: writing pong")
	}
	return nil
}
