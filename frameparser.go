// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// FrameParser implements reading frame payload from a byte slice.
// Malformed input results in a ProtocolError rather than a panic,
// since the bytes come straight off the network.
type FrameParser []byte

// NewFrameParser returns a FrameParser from a FrameData
func NewFrameParser(fd FrameData) FrameParser {
	return fd.Payload()
}

func (fp FrameParser) String() string {
	switch {
	case len(fp) < 1:
		return "[FrameParser 0]"
	case len(fp) < 32:
		return fmt.Sprintf("[FrameParser %v %v]", len(fp), hex.EncodeToString(fp))
	default:
		return fmt.Sprintf("[FrameParser %v %v...]", len(fp), hex.EncodeToString(fp[:32]))
	}
}

func (fp *FrameParser) Read(p []byte) (n int, err error) {
	if len(*fp) == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	n = copy(p, (*fp))
	(*fp) = (*fp)[n:]
	return
}

func (fp FrameParser) short(what string) error {
	return errors.Wrapf(ProtocolError{}, "short frame reading %s", what)
}

// ReadUint64 reads an uint64
func (fp *FrameParser) ReadUint64() (x uint64, err error) {
	var s uint
	for i, b := range *fp {
		if b < 0x80 {
			if i > 9 || i == 9 && b > 1 {
				return 0, errors.Wrap(ProtocolError{}, "uint64 overflow")
			}
			*fp = (*fp)[i+1:]
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	// Did not end with a byte < 0x80
	return 0, fp.short("uint64")
}

// ReadInt64 reads an int64
func (fp *FrameParser) ReadInt64() (x int64, err error) {
	var ux uint64
	if ux, err = fp.ReadUint64(); err == nil {
		x = int64(ux >> 1)
		if (ux & 1) != 0 {
			x = ^x
		}
	}
	return
}

// ReadByte reads a single byte.
func (fp *FrameParser) ReadByte() (b byte, err error) {
	if len(*fp) < 1 {
		return 0, fp.short("byte")
	}
	b = (*fp)[0]
	(*fp) = (*fp)[1:]
	return
}

// ReadRecordType reads a byte as RecordType
func (fp *FrameParser) ReadRecordType() (rt RecordType, err error) {
	var b byte
	if b, err = fp.ReadByte(); err == nil {
		rt = RecordType(b)
	}
	return
}

// ReadLen reads a length value
func (fp *FrameParser) ReadLen() (n int, err error) {
	if len(*fp) < 1 {
		return 0, fp.short("length")
	}
	n = int((*fp)[0])
	if n < 0x80 {
		(*fp) = (*fp)[1:]
	} else {
		if len(*fp) < 2 {
			return 0, fp.short("length")
		}
		n = (n&0x7f)<<8 | int((*fp)[1])
		(*fp) = (*fp)[2:]
	}
	return
}

// ReadString reads a string. A NULL string returns isNull true.
func (fp *FrameParser) ReadString() (s string, isNull bool, err error) {
	var n int
	if n, err = fp.ReadLen(); err != nil {
		return
	}
	if n < 1 {
		var code int
		if code, err = fp.ReadLen(); err != nil {
			return
		}
		if code > 1 {
			return "", false, errors.Wrapf(ProtocolError{}, "unmapped string index %d", code)
		}
		isNull = code < 1
		return
	}
	if len(*fp) < n {
		return "", false, fp.short("string")
	}
	s = string((*fp)[:n])
	(*fp) = (*fp)[n:]
	return
}

// ReadRequest reads the body of a Request record, the record type
// having been consumed already. The remaining bytes are the request payload.
func (fp *FrameParser) ReadRequest() (mode InteractionMode, route string, err error) {
	var b byte
	if b, err = fp.ReadByte(); err == nil {
		mode = InteractionMode(b)
		if !mode.IsValid() {
			return mode, "", errors.WithStack(ModeMismatchError{Mode: mode})
		}
		var isNull bool
		if route, isNull, err = fp.ReadString(); err == nil && isNull {
			err = errors.Wrap(ProtocolError{}, "null route")
		}
	}
	return
}

// ReadError reads the body of an Error record, the record type
// having been consumed already.
func (fp *FrameParser) ReadError() (se *StreamError, err error) {
	var b byte
	if b, err = fp.ReadByte(); err == nil {
		var msg string
		if msg, _, err = fp.ReadString(); err == nil {
			se = &StreamError{Code: ErrorCode(b), Message: msg}
		}
	}
	return
}
