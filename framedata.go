// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// FrameData is a byte array used as a network data frame.
type FrameData []byte

// NewFrameData allocates a new FrameData.
func NewFrameData() FrameData {
	return FrameData(make([]byte, 0, FrameMaxSize))
}

// NewFrameDataID allocates a new FrameData with a FrameHeader and the given StreamID set.
func NewFrameDataID(streamID StreamID) (fd FrameData) {
	fd = NewFrameData()
	fd.WriteHeader(streamID)
	return
}

// Clear removes everything in a frame, including the header.
func (fd *FrameData) Clear() {
	*fd = (*fd)[:0]
}

// ClearID removes everything in a frame and writes a header with the given StreamID.
func (fd *FrameData) ClearID(streamID StreamID) {
	fd.WriteHeader(streamID)
}

func (fd FrameData) String() string {
	if fd == nil {
		return "[FrameData nil]"
	}
	if len(fd) < FrameHeaderSize {
		return fmt.Sprintf("[FrameData (%d)]", len(fd))
	}
	var contents string
	if len(fd) > 32 {
		contents = hex.EncodeToString(fd[FrameHeaderSize:32]) + "..."
	} else {
		contents = hex.EncodeToString(fd[FrameHeaderSize:])
	}
	return fmt.Sprintf("[FrameData %v %v]", fd.Header(), contents)
}

// Header returns the FrameHeader part of a FrameData.
func (fd FrameData) Header() FrameHeader {
	return FrameHeader(fd[:FrameHeaderSize])
}

// Payload returns the payload of a FrameData as a byte slice.
func (fd FrameData) Payload() []byte {
	return fd[FrameHeaderSize:]
}

// Available returns number of free bytes in the FrameData.
func (fd FrameData) Available() int {
	return FrameMaxSize - len(fd)
}

// Buffered returns the number of bytes that have been written to the
// current frame, including the header size.
func (fd FrameData) Buffered() int {
	return len(fd)
}

// Write implements io.Writer for FrameData, and is used to write payload data.
func (fd *FrameData) Write(p []byte) (n int, err error) {
	if len(p) > fd.Available() {
		return 0, errors.WithStack(ErrFrameTooBig{})
	}
	*fd = append(*fd, p...)
	return len(p), nil
}

// WriteHeader initializes the frame header, discarding any previous contents.
func (fd *FrameData) WriteHeader(streamID StreamID) {
	*fd = append((*fd)[:0], 0, 0, 0, 0)
	fd.Header().SetStreamID(streamID)
}

// WriteMuxerControl initializes the frame as a muxer control frame.
func (fd *FrameData) WriteMuxerControl(mc MuxerControl) {
	fd.WriteHeader(MuxerStreamID)
	fd.Header().SetMuxerControl(mc)
}

// SetSizeValue sets the header Size value to the current payload size.
func (fd FrameData) SetSizeValue() {
	fd.Header().SetSizeValue(len(fd) - FrameHeaderSize)
}

// WriteUint64 writes an uint64 to a FrameData using a portable encoding.
func (fd *FrameData) WriteUint64(x uint64) {
	for x >= 0x80 {
		*fd = append(*fd, byte(x)|0x80)
		x >>= 7
	}
	*fd = append(*fd, byte(x))
}

// WriteInt64 writes an int64 to a FrameData using a portable encoding.
func (fd *FrameData) WriteInt64(x int64) {
	ux := uint64(x) << 1
	if x < 0 {
		ux = ^ux
	}
	fd.WriteUint64(ux)
}

// WriteLen writes a nonnegative integer less than 0x8000 to a FrameData
// using a portable encoding.
func (fd *FrameData) WriteLen(x int) error {
	switch {
	case x < 0:
		return errors.WithStack(ErrLengthNegative{})
	case x < 0x80:
		*fd = append(*fd, byte(x))
	case x <= 0x7fff:
		*fd = append(*fd, byte(x>>8)|0x80, byte(x))
	default:
		return errors.WithStack(ErrLengthOverflow{})
	}
	return nil
}

// WriteString writes a string to a FrameData. The string must be
// less than 0x8000 bytes long.
func (fd *FrameData) WriteString(s string) (err error) {
	if len(s) == 0 {
		*fd = append(*fd, byte(0), byte(1))
		return
	}
	if err = fd.WriteLen(len(s)); err == nil {
		*fd = append(*fd, s...)
	}
	return
}

// WriteByte appends a single byte.
func (fd *FrameData) WriteByte(b byte) error {
	*fd = append(*fd, b)
	return nil
}

// WriteRecordType writes a frame record type constant and sets the Head bit.
func (fd *FrameData) WriteRecordType(rt RecordType) {
	fd.Header().SetHead()
	*fd = append(*fd, byte(rt))
}

// WriteRequest writes a Request record followed by the request payload.
func (fd *FrameData) WriteRequest(mode InteractionMode, route string, payload []byte) (err error) {
	fd.WriteRecordType(RecordTypeRequest)
	fd.WriteByte(byte(mode))
	if err = fd.WriteString(route); err == nil {
		fd.Header().SetBody()
		_, err = fd.Write(payload)
	}
	return
}

// WriteError writes an Error record. Messages that would not fit
// in the frame are truncated.
func (fd *FrameData) WriteError(code ErrorCode, msg string) error {
	fd.WriteRecordType(RecordTypeError)
	fd.WriteByte(byte(code))
	if maxLen := fd.Available() - 2; len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	if len(msg) > 0x7fff {
		msg = msg[:0x7fff]
	}
	return fd.WriteString(msg)
}

// ReadFrom reads a complete or partial FrameData from an io.Reader.
// Implements io.ReaderFrom interface for FrameData.
func (fd *FrameData) ReadFrom(r io.Reader) (n int64, err error) {
	var num int // needed to let ReadFrom/ReadFull integrate well.

	if len(*fd) < FrameHeaderSize {
		num, err = io.ReadFull(r, (*fd)[len(*fd):FrameHeaderSize])
		*fd = (*fd)[:len(*fd)+num]
		n = int64(num)
		if len(*fd) < FrameHeaderSize {
			return
		}
	}
	if err == nil && fd.Header().HasPayload() {
		size := fd.Header().SizeValue()
		if size > FrameMaxPayloadSize {
			return n, errors.WithStack(ErrFrameTooBig{})
		}
		num, err = io.ReadFull(r, (*fd)[len(*fd):FrameHeaderSize+size])
		*fd = (*fd)[:len(*fd)+num]
		n += int64(num)
	}

	return
}

// WriteTo implements io.WriterTo for FrameData.
func (fd FrameData) WriteTo(w io.Writer) (int64, error) {
	if len(fd) < FrameHeaderSize {
		panic("FrameData.WriteTo(): frame has incomplete header")
	}
	if fd.Header().HasPayload() {
		payloadLength := len(fd) - FrameHeaderSize
		if payloadLength > FrameMaxPayloadSize {
			return 0, errors.WithStack(ErrFrameTooBig{})
		}
		fd.Header().SetSizeValue(payloadLength)
	}
	n := 0
	for n < len(fd) {
		m, err := w.Write(fd[n:])
		n += m
		if err != nil {
			return int64(n), err
		}
	}
	return int64(n), nil
}
