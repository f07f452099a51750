package raprelay

import (
	"bytes"
	"io"
	"io/ioutil"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewFrameData(t *testing.T) {
	fd := NewFrameData()
	assert.NotNil(t, fd)
	assert.Equal(t, 0, fd.Buffered())
	fd.WriteHeader(0)
	assert.Equal(t, FrameHeaderSize, fd.Buffered())
	assert.Equal(t, FrameMaxSize-FrameHeaderSize, fd.Available())
}

func Test_NewFrameData_stream_ID_range(t *testing.T) {
	fd := NewFrameData()
	fd.WriteHeader(StreamID(1))
	assert.Equal(t, StreamID(1), fd.Header().StreamID())
	fd.WriteHeader(MaxStreamID)
	assert.Equal(t, MaxStreamID, fd.Header().StreamID())
	assert.Panics(t, func() { fd.WriteHeader(StreamID(0xFFFF)) })
}

func Test_FrameData_String(t *testing.T) {
	fd := NewFrameData()
	fd.WriteHeader(0)
	fd.WriteString("Hello world")
	assert.Equal(t, "[FrameData [FrameHeader [ID 0000] ... 0 (4)] 0b48656c6c6f20776f726c64]", fd.String())
	fd.WriteString("the data is greater than 32 length")
	assert.Equal(t, "[FrameData [FrameHeader [ID 0000] ... 0 (4)] 0b48656c6c6f20776f726c6422746865206461746120697320677265...]", fd.String())
	assert.Equal(t, "[FrameData (2)]", FrameData([]byte{1, 2}).String())
	fd = nil
	assert.Equal(t, "[FrameData nil]", fd.String())
}

type shortWriter struct {
	w io.Writer
	n int64
}

func (t *shortWriter) Write(p []byte) (n int, err error) {
	if t.n <= 0 {
		return 0, io.ErrShortWrite
	}
	// real write
	n = len(p)
	if int64(n) > t.n {
		n = int(t.n)
	}
	n, err = t.w.Write(p[0:n])
	t.n -= int64(n)
	return
}

func Test_FrameData_Write(t *testing.T) {
	fd := NewFrameDataID(0)
	n, err := fd.Write([]byte{0x01})
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	fp := NewFrameParser(fd)
	ba := make([]byte, 1)
	n, err = fp.Read(ba)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = fp.Read(ba)
	assert.Equal(t, io.EOF, err)

	_, err = fd.Write(make([]byte, FrameMaxPayloadSize))
	assert.Equal(t, ErrFrameTooBig{}, errors.Cause(err))
}

func Test_FrameData_WriteTo(t *testing.T) {
	fd := NewFrameDataID(0)
	assert.NotNil(t, fd.Payload())
	assert.Equal(t, 0, len(fd.Payload()))
	ba := make([]byte, 0, FrameMaxPayloadSize)
	assert.Panics(t, func() { FrameData(ba).WriteTo(ioutil.Discard) })
	for i := 0; i < FrameMaxPayloadSize; i++ {
		b := byte(i % 0xff)
		fd.WriteByte(b)
		ba = append(ba, b)
	}
	assert.Equal(t, ba, fd.Payload())
	fd.Header().SetBody()

	_, err := fd.WriteTo(&shortWriter{ioutil.Discard, 1})
	assert.Equal(t, io.ErrShortWrite, err)

	_, err = fd.WriteTo(ioutil.Discard)
	assert.NoError(t, err)
	fd.WriteByte(0x00)

	_, err = fd.WriteTo(ioutil.Discard)
	assert.Equal(t, ErrFrameTooBig{}, errors.Cause(err))
}

func Test_FrameData_ReadFrom(t *testing.T) {
	src := NewFrameDataID(3)
	src.Header().SetBody()
	src.Write([]byte("payload"))
	var buf bytes.Buffer
	_, err := src.WriteTo(&buf)
	require.NoError(t, err)

	// a flow frame carries no payload even if Size is set
	ack := NewFrameDataID(3)
	ack.Header().SetKind(FrameKindAck)
	ack.Header().SetSizeValue(99)
	ack.WriteTo(&buf)

	fd := NewFrameData()
	n, err := fd.ReadFrom(&buf)
	assert.NoError(t, err)
	assert.Equal(t, int64(FrameHeaderSize+7), n)
	assert.Equal(t, StreamID(3), fd.Header().StreamID())
	assert.Equal(t, []byte("payload"), fd.Payload())

	fd.Clear()
	n, err = fd.ReadFrom(&buf)
	assert.NoError(t, err)
	assert.Equal(t, int64(FrameHeaderSize), n)
	assert.Equal(t, FrameKindAck, fd.Header().Kind())

	fd.Clear()
	_, err = fd.ReadFrom(&buf)
	assert.Equal(t, io.EOF, err)
}

func Test_FrameData_ReadFrom_truncated(t *testing.T) {
	src := NewFrameDataID(1)
	src.Header().SetBody()
	src.Write([]byte("0123456789"))
	src.SetSizeValue()
	fd := NewFrameData()
	_, err := fd.ReadFrom(bytes.NewReader(src[:8]))
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

func Test_FrameData_WriteUint64(t *testing.T) {
	// Test encodings
	for i := uint(0); i < 64; i++ {
		for j := uint64(0); j < 3; j++ {
			n := ((uint64(1) << i) - 1) + j
			fd := NewFrameDataID(0)
			fd.WriteUint64(n)
			fp := NewFrameParser(fd)
			x, err := fp.ReadUint64()
			assert.NoError(t, err)
			assert.Equal(t, n, x)
		}
	}
	// Test unterminated
	fd := NewFrameDataID(0)
	for i := 0; i < 11; i++ {
		fd.WriteByte(0xff)
	}
	fp := NewFrameParser(fd)
	_, err := fp.ReadUint64()
	assert.Equal(t, ProtocolError{}, errors.Cause(err))
	// Test overflow
	fd.WriteByte(0x00)
	fp = NewFrameParser(fd)
	_, err = fp.ReadUint64()
	assert.Equal(t, ProtocolError{}, errors.Cause(err))
}

func Test_FrameData_WriteInt64(t *testing.T) {
	for i := uint(0); i < 64; i++ {
		for j := int64(0); j < 3; j++ {
			for k := int64(-1); k < 2; k += 2 {
				n := (((int64(1) << i) - 1) + j) * k
				fd := NewFrameDataID(0)
				fd.WriteInt64(n)
				fp := NewFrameParser(fd)
				x, err := fp.ReadInt64()
				assert.NoError(t, err)
				assert.Equal(t, n, x)
			}
		}
	}
}

func Test_FrameData_WriteLen(t *testing.T) {
	for i := uint(0); i < 16; i++ {
		for j := int(-1); j < 3; j++ {
			n := (((1 << i) - 1) + j)
			fd := NewFrameDataID(0)
			err := fd.WriteLen(n)
			if n < 0 || n > 0x7fff {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				fp := NewFrameParser(fd)
				x, err := fp.ReadLen()
				assert.NoError(t, err)
				assert.Equal(t, n, x)
			}
		}
	}
}

func Test_FrameData_WriteLen_errors(t *testing.T) {
	fd := NewFrameDataID(0)
	assert.Equal(t, ErrLengthNegative{}.Error(), fd.WriteLen(-1).Error())
	assert.Equal(t, ErrLengthOverflow{}.Error(), fd.WriteLen(0x8000).Error())
}

func Test_FrameData_WriteString(t *testing.T) {
	fd := NewFrameDataID(0)
	fd = append(fd, 0, 0) // NULL string
	fd.WriteString("")
	fd.WriteString("route")
	fp := NewFrameParser(fd)

	s, isNull, err := fp.ReadString()
	assert.NoError(t, err)
	assert.True(t, isNull)
	assert.Equal(t, "", s)

	s, isNull, err = fp.ReadString()
	assert.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, "", s)

	s, isNull, err = fp.ReadString()
	assert.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, "route", s)
	assert.Zero(t, len(fp))
}

func Test_FrameData_WriteRequest(t *testing.T) {
	fd := NewFrameDataID(7)
	assert.NoError(t, fd.WriteRequest(Channel, "channel", []byte("first")))
	assert.Equal(t, FrameKindRecordValue, fd.Header().Kind())
	assert.True(t, isRequestFrame(fd))

	fp := NewFrameParser(fd)
	rt, err := fp.ReadRecordType()
	assert.NoError(t, err)
	assert.Equal(t, RecordTypeRequest, rt)
	mode, route, err := fp.ReadRequest()
	assert.NoError(t, err)
	assert.Equal(t, Channel, mode)
	assert.Equal(t, "channel", route)
	assert.Equal(t, []byte("first"), []byte(fp))
}

func Test_FrameData_WriteError(t *testing.T) {
	fd := NewFrameDataID(7)
	assert.NoError(t, fd.WriteError(ErrorCodeNoData, "nothing"))
	assert.False(t, isRequestFrame(fd))
	fp := NewFrameParser(fd)
	rt, err := fp.ReadRecordType()
	assert.NoError(t, err)
	assert.Equal(t, RecordTypeError, rt)
	se, err := fp.ReadError()
	assert.NoError(t, err)
	assert.Equal(t, &StreamError{Code: ErrorCodeNoData, Message: "nothing"}, se)
}

func Test_FrameData_WriteError_truncates(t *testing.T) {
	fd := NewFrameDataID(0)
	assert.NoError(t, fd.WriteError(ErrorCodeApplication, string(make([]byte, 0x9000))))
	fp := NewFrameParser(fd)
	fp.ReadRecordType()
	se, err := fp.ReadError()
	assert.NoError(t, err)
	assert.Equal(t, 0x7fff, len(se.Message))
}
