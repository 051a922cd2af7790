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

package pseudosettle

import (
	"context"
	"io"
	"time"

	"github.com/nxm-rs/vertex/pkg/protobuf"
	"github.com/nxm-rs/vertex/pkg/swarmerr"
)

// PaymentStream is the minimal substream abstraction PaymentService needs.
type PaymentStream interface {
	io.Reader
	io.Writer
}

// PaymentService drives the network-backed settlement exchange spec.md §4.7
// names as Settle's optional delegate: a single Payment{amount} answered by
// a single PaymentAck{amount, timestamp}, built in the same one-round-trip,
// framed-protobuf idiom as pkg/pingpong.
type PaymentService struct {
	timeout      time.Duration
	maxFrameSize int
	tolerance    time.Duration
	nowFunc      func() time.Time
}

// NewPaymentService constructs a PaymentService. timeout bounds one full
// round trip; tolerance bounds how far a peer's PaymentAck.Timestamp may
// drift from local wall time before the ack is rejected.
func NewPaymentService(timeout time.Duration, maxFrameSize int, tolerance time.Duration) *PaymentService {
	return &PaymentService{timeout: timeout, maxFrameSize: maxFrameSize, tolerance: tolerance, nowFunc: time.Now}
}

// Pay sends a Payment for amount over stream and waits for the peer's
// PaymentAck, returning the accepted amount. A responder may accept less
// than requested (partial acceptance, spec.md §4.7); Pay never returns more
// than amount regardless of what the peer claims.
func (p *PaymentService) Pay(ctx context.Context, stream PaymentStream, amount int64) (int64, error) {
	type result struct {
		accepted int64
		err      error
	}
	done := make(chan result, 1)

	go func() {
		if err := protobuf.WriteMessage(stream, &protobuf.Payment{Amount: amount}, p.maxFrameSize); err != nil {
			done <- result{err: swarmerr.Wrap(swarmerr.Transport, err, "pseudosettle: writing payment")}
			return
		}
		var ack protobuf.PaymentAck
		if err := protobuf.ReadMessage(stream, &ack, p.maxFrameSize); err != nil {
			done <- result{err: swarmerr.Wrap(swarmerr.Transport, err, "pseudosettle: reading payment ack")}
			return
		}

		drift := p.nowFunc().Unix() - ack.Timestamp
		if drift < 0 {
			drift = -drift
		}
		if time.Duration(drift)*time.Second > p.tolerance {
			done <- result{err: swarmerr.New(swarmerr.SettlementRejected, "pseudosettle: payment ack timestamp drift %ds exceeds tolerance %s", drift, p.tolerance)}
			return
		}

		accepted := ack.Amount
		if accepted > amount {
			accepted = amount
		}
		if accepted < 0 {
			accepted = 0
		}
		done <- result{accepted: accepted}
	}()

	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	select {
	case r := <-done:
		return r.accepted, r.err
	case <-tctx.Done():
		return 0, swarmerr.New(swarmerr.Timeout, "pseudosettle: payment round trip exceeded %s", p.timeout)
	}
}

// HandlePayment reads one Payment frame from stream, asks accept to decide
// how much of the requested amount to honor (partial acceptance is a valid
// response), and writes back the PaymentAck.
func (p *PaymentService) HandlePayment(stream PaymentStream, accept func(requested int64) int64) error {
	var payment protobuf.Payment
	if err := protobuf.ReadMessage(stream, &payment, p.maxFrameSize); err != nil {
		return swarmerr.Wrap(swarmerr.Transport, err, "pseudosettle: reading payment")
	}

	accepted := accept(payment.Amount)
	ack := &protobuf.PaymentAck{Amount: accepted, Timestamp: p.nowFunc().Unix()}
	if err := protobuf.WriteMessage(stream, ack, p.maxFrameSize); err != nil {
		return swarmerr.Wrap(swarmerr.Transport, err, "pseudosettle: writing payment ack")
	}
	return nil
}
