// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

import "fmt"

/*
FrameHeader is the 4-byte prefix of every frame on the wire:

	byte 0-1  Size, big endian
	byte 2    Flow, Body and Head flags in the top three bits,
	          high 5 bits of the Stream ID below them
	byte 3    low 8 bits of the Stream ID

Stream ID MuxerStreamID (0x1fff) addresses the Muxer itself, and the
three flag bits then hold a MuxerControl value. Size is always the
payload length for those.

For any other Stream ID the flags select a FrameKind:

	..H  record          payload is one record
	.B.  value           payload is one value
	.BH  record+value    payload is a record followed by a value
	F..  ack             one value frame was consumed
	F.H  cancel          stop sending, then send final
	FB.  final           nothing more will be sent
	FBH  final ack       the peer's final was seen

Flow frames never carry a payload and take no send window credit.
*/
type FrameHeader []byte

// FrameFlag enumerates the flags used in the frame control bits.
type FrameFlag byte

const (
	// FrameFlagHead marks a record at the start of the payload.
	FrameFlagHead FrameFlag = 0x20
	// FrameFlagBody marks a value in the payload, after the record if any.
	FrameFlagBody FrameFlag = 0x40
	// FrameFlagFlow marks stream control frames.
	FrameFlagFlow FrameFlag = 0x80
	// FrameFlagMask is a byte mask of the bits used in the third header byte.
	FrameFlagMask = byte(FrameFlagFlow | FrameFlagBody | FrameFlagHead)
)

func (f FrameFlag) String() string {
	b := []byte("...")
	if f&FrameFlagFlow != 0 {
		b[0] = 'F'
	}
	if f&FrameFlagBody != 0 {
		b[1] = 'B'
	}
	if f&FrameFlagHead != 0 {
		b[2] = 'H'
	}
	return string(b)
}

// FrameKind is the meaning of the flags of a stream frame.
type FrameKind byte

const (
	// FrameKindInvalid has no flags set and is never sent.
	FrameKindInvalid = FrameKind(0)
	// FrameKindRecord carries a record and no value.
	FrameKindRecord = FrameKind(FrameFlagHead)
	// FrameKindValue carries one payload value.
	FrameKindValue = FrameKind(FrameFlagBody)
	// FrameKindRecordValue carries a record followed by a payload value.
	FrameKindRecordValue = FrameKind(FrameFlagBody | FrameFlagHead)
	// FrameKindAck acknowledges one received data frame.
	FrameKindAck = FrameKind(FrameFlagFlow)
	// FrameKindCancel asks the receiver to stop sending.
	FrameKindCancel = FrameKind(FrameFlagFlow | FrameFlagHead)
	// FrameKindFinal is the last frame the sender sends on the Stream.
	FrameKindFinal = FrameKind(FrameFlagFlow | FrameFlagBody)
	// FrameKindFinalAck acknowledges a FrameKindFinal.
	FrameKindFinalAck = FrameKind(FrameFlagFlow | FrameFlagBody | FrameFlagHead)
)

var frameKindTexts = map[FrameKind]string{
	FrameKindInvalid:     "invalid",
	FrameKindRecord:      "record",
	FrameKindValue:       "value",
	FrameKindRecordValue: "record+value",
	FrameKindAck:         "ack",
	FrameKindCancel:      "cancel",
	FrameKindFinal:       "final",
	FrameKindFinalAck:    "final-ack",
}

func (k FrameKind) String() string {
	return frameKindTexts[k&FrameKind(FrameFlagMask)]
}

// IsFlow returns true for ack, cancel, final and final ack.
func (k FrameKind) IsFlow() bool {
	return FrameFlag(k)&FrameFlagFlow != 0
}

// MuxerControl enumerates the different types of muxer control frames.
// The remaining five values are reserved, and receiving one is a
// protocol error.
type MuxerControl byte

const (
	// MuxerControlPanic means the sender is shutting down due to error.
	// The payload is optional text describing the error.
	MuxerControlPanic = MuxerControl(0)
	// MuxerControlPing asks for a Pong with the same payload.
	MuxerControlPing = MuxerControl(FrameFlagBody)
	// MuxerControlPong answers a Ping, echoing its payload.
	MuxerControlPong = MuxerControl(FrameFlagBody | FrameFlagHead)
)

func (mc MuxerControl) String() string {
	switch mc {
	case MuxerControlPanic:
		return "Panic"
	case MuxerControlPing:
		return "Ping"
	case MuxerControlPong:
		return "Pong"
	}
	return "Rsvd" + FrameFlag(mc).String()
}

func (fh FrameHeader) String() string {
	var midText string
	if fh.IsMuxerControl() {
		midText = fh.MuxerControl().String()
	} else {
		midText = fh.FrameControl().String()
	}
	return fmt.Sprintf("[FrameHeader %s %s %d (%d)]", fh.StreamID(), midText, fh.SizeValue(), len(fh))
}

// SizeValue returns the Size value of the frame.
func (fh FrameHeader) SizeValue() int {
	return int(fh[0])<<8 | int(fh[1])
}

// SetSizeValue sets the Size value of the header.
func (fh FrameHeader) SetSizeValue(n int) {
	fh[0] = byte(n >> 8)
	fh[1] = byte(n)
}

// StreamID returns the Stream ID of the frame.
func (fh FrameHeader) StreamID() StreamID {
	return StreamID(fh[2]&^FrameFlagMask)<<8 | StreamID(fh[3])
}

// SetStreamID sets the Stream ID, keeping the flags.
func (fh FrameHeader) SetStreamID(streamID StreamID) {
	if streamID > MuxerStreamID {
		panic("SetStreamID(): streamID > MuxerStreamID")
	}
	fh[2] = (fh[2] & FrameFlagMask) | byte(streamID>>8)
	fh[3] = byte(streamID)
}

// HasPayload returns true if the Size value is the payload size.
// Muxer control frames always have one. Stream frames have one unless
// they are flow frames or have no flags set.
func (fh FrameHeader) HasPayload() bool {
	if fh.IsMuxerControl() {
		return true
	}
	return !fh.HasFlow() && fh.HasBodyOrHead()
}

// Kind returns the FrameKind of a stream frame.
func (fh FrameHeader) Kind() FrameKind {
	return FrameKind(fh[2] & FrameFlagMask)
}

// SetKind replaces the flags of a stream frame.
func (fh FrameHeader) SetKind(k FrameKind) {
	fh[2] = (fh[2] &^ FrameFlagMask) | (byte(k) & FrameFlagMask)
}

// IsMuxerControl returns true if the Stream ID indicates this is a muxer control frame.
func (fh FrameHeader) IsMuxerControl() bool {
	return fh.StreamID() == MuxerStreamID
}

// MuxerControl returns the control bits of a muxer control frame.
func (fh FrameHeader) MuxerControl() MuxerControl {
	return MuxerControl(fh[2] & FrameFlagMask)
}

// FrameControl returns the control bits of a stream frame.
func (fh FrameHeader) FrameControl() FrameFlag {
	return FrameFlag(fh[2] & FrameFlagMask)
}

// SetMuxerControl makes the header a muxer control frame of type mc.
func (fh FrameHeader) SetMuxerControl(mc MuxerControl) {
	fh[2] = (fh[2] &^ FrameFlagMask) | byte(mc)
	fh.SetStreamID(MuxerStreamID)
}

// HasFlow returns true if the Flow bit is set.
func (fh FrameHeader) HasFlow() bool {
	return FrameFlag(fh[2])&FrameFlagFlow != 0
}

// HasBodyOrHead returns true if either the Body or Head bits are set.
func (fh FrameHeader) HasBodyOrHead() bool {
	return FrameFlag(fh[2])&(FrameFlagBody|FrameFlagHead) != 0
}

// HasHead returns true if the Head bit is set.
func (fh FrameHeader) HasHead() bool {
	return FrameFlag(fh[2])&FrameFlagHead != 0
}

// SetHead sets the Head bit.
func (fh FrameHeader) SetHead() {
	fh[2] |= byte(FrameFlagHead)
}

// SetBody sets the Body bit.
func (fh FrameHeader) SetBody() {
	fh[2] |= byte(FrameFlagBody)
}

// Clear zeroes out the frameheader bytes.
func (fh FrameHeader) Clear() {
	fh[0], fh[1], fh[2], fh[3] = 0, 0, 0, 0
}

// ClearID zeroes out the frameheader bytes and sets the StreamID.
func (fh FrameHeader) ClearID(streamID StreamID) {
	fh.Clear()
	fh.SetStreamID(streamID)
}
