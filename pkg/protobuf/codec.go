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

package protobuf

import (
	"encoding/binary"
	"io"

	"github.com/gogo/protobuf/proto"

	"github.com/nxm-rs/vertex/pkg/swarmerr"
)

// maxVarintLen is the largest varint encoding of an int (binary.MaxVarintLen64).
const maxVarintLen = binary.MaxVarintLen64

// WriteMessage marshals msg and writes it as a varint-length-prefixed frame.
// It fails with swarmerr.FrameTooLarge if the encoded message exceeds maxFrameSize.
func WriteMessage(w io.Writer, msg proto.Message, maxFrameSize int) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return swarmerr.Wrap(swarmerr.Protocol, err, "marshal message")
	}
	if len(data) > maxFrameSize {
		return swarmerr.New(swarmerr.FrameTooLarge, "message of %d bytes exceeds cap %d", len(data), maxFrameSize)
	}
	var lenBuf [maxVarintLen]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(data)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return swarmerr.Wrap(swarmerr.Transport, err, "write frame length")
	}
	if _, err := w.Write(data); err != nil {
		return swarmerr.Wrap(swarmerr.Transport, err, "write frame body")
	}
	return nil
}

// ReadMessage reads one varint-length-prefixed frame and unmarshals it into msg.
// It fails with swarmerr.FrameTooLarge if the declared length exceeds maxFrameSize.
func ReadMessage(r io.Reader, msg proto.Message, maxFrameSize int) error {
	length, err := readUvarint(r)
	if err != nil {
		return swarmerr.Wrap(swarmerr.Transport, err, "read frame length")
	}
	if length > uint64(maxFrameSize) {
		return swarmerr.New(swarmerr.FrameTooLarge, "frame of %d bytes exceeds cap %d", length, maxFrameSize)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return swarmerr.Wrap(swarmerr.Transport, err, "read frame body")
	}
	if err := proto.Unmarshal(data, msg); err != nil {
		return swarmerr.Wrap(swarmerr.Protocol, err, "unmarshal message")
	}
	return nil
}

// readUvarint reads a binary.Uvarint one byte at a time from r, since r is
// not guaranteed to be a bufio.Reader / io.ByteReader.
func readUvarint(r io.Reader) (uint64, error) {
	var x uint64
	var s uint
	var b [1]byte
	for i := 0; i < maxVarintLen; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		if b[0] < 0x80 {
			return x | uint64(b[0])<<s, nil
		}
		x |= uint64(b[0]&0x7f) << s
		s += 7
	}
	return 0, io.ErrShortBuffer
}
