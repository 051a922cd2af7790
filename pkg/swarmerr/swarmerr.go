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

// Package swarmerr defines the closed set of error kinds the core raises,
// and the policy each kind carries (fail connection, ban, retry, ...).
package swarmerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories the network core can raise.
// It is never used for adversarial-input panics: every path that can be
// driven by a remote peer returns a Kind-wrapped error instead.
type Kind int

const (
	_ Kind = iota
	InvalidMessage
	NetworkIDMismatch
	InvalidSignature
	InvalidOverlay
	MissingField
	FieldLengthLimitExceeded
	FrameTooLarge
	Timeout
	ThresholdExceeded
	SettlementRejected
	Storage
	Transport
	Protocol
)

var kindNames = map[Kind]string{
	InvalidMessage:           "invalid_message",
	NetworkIDMismatch:        "network_id_mismatch",
	InvalidSignature:         "invalid_signature",
	InvalidOverlay:           "invalid_overlay",
	MissingField:             "missing_field",
	FieldLengthLimitExceeded: "field_length_limit_exceeded",
	FrameTooLarge:            "frame_too_large",
	Timeout:                  "timeout",
	ThresholdExceeded:        "threshold_exceeded",
	SettlementRejected:       "settlement_rejected",
	Storage:                  "storage",
	Transport:                "transport",
	Protocol:                 "protocol",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is a Kind-tagged error carrying a human detail and an optional cause.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, swarmerr.New(Kind, "")) to match on Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs a Kind-tagged error.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a Kind, preserving it as the cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Cause: cause}
}

// Of reports the Kind of err, if it (or something it wraps) is a *Error.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
