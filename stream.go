// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// StreamID identifies a logical stream within a Muxer.
type StreamID uint16

func (streamID StreamID) String() string {
	return fmt.Sprintf("[ID %04x]", uint16(streamID))
}

// StreamMuxer is the interface that a Stream needs in order to
// communicate with the outside world and clean up.
type StreamMuxer interface {
	// StreamWrite allows a Stream to write a FrameData
	StreamWrite(fd FrameData) error
	// StreamAbortChannel returns the channel that is closed when owner is closing
	StreamAbortChannel() <-chan struct{}
}

// Sender is the outbound half of a Stream.
type Sender interface {
	Send(ctx context.Context, p []byte) error
}

// Receiver is the inbound half of a Stream.
type Receiver interface {
	Recv(ctx context.Context) ([]byte, error)
}

// Stream is one logical interaction multiplexed over a Muxer.
// It handles the per-stream flow control mechanism, which is a simple
// transmission window with ACKs from the receiver, and the final frame
// handshake that decides when the Stream ID may be reused.
type Stream struct {
	ID     StreamID
	mux    StreamMuxer
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	credits chan struct{}  // send window, one token per frame allowed in flight
	readCh  chan FrameData // data frames from peer, nil marks the peer's final frame
	done    chan struct{}  // closed when released

	readTimeout  time.Duration
	writeTimeout time.Duration
	netLog       bool

	mode    InteractionMode
	route   string
	request []byte

	wmu sync.Mutex // serializes frame writes, held while checking send state

	mu           sync.Mutex // guards the state below
	sentFinal    bool       // we sent our final frame
	finalAcked   bool       // peer acknowledged our final frame
	gotFinal     bool       // peer sent its final frame
	ackedFinal   bool       // we acknowledged the peer's final frame
	cancelSent   bool       // we asked the peer to stop sending
	peerCanceled bool       // peer asked us to stop sending
	released     bool
	unused       bool // opened locally, nothing written yet
	onRecycle    func(*Stream)
	canceledCh   chan struct{} // closed when peer cancels

	serialNumber uint32
}

var streamNextSerialNumber uint32

// NewStream creates a new Stream. The Stream's context is derived from ctx
// and is cancelled when the Stream is released, cancelled by the peer or
// when ctx is done.
func NewStream(ctx context.Context, mux StreamMuxer, streamID StreamID) (s *Stream) {
	if streamID >= MuxerStreamID {
		panic(fmt.Sprintf("illegal Stream ID %d", int(streamID)))
	}
	s = &Stream{
		ID:           streamID,
		mux:          mux,
		logger:       zap.NewNop(),
		credits:      make(chan struct{}, MaxSendWindowSize),
		readCh:       make(chan FrameData, MaxSendWindowSize+1),
		done:         make(chan struct{}),
		canceledCh:   make(chan struct{}),
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		serialNumber: atomic.AddUint32(&streamNextSerialNumber, 1),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < SendWindowSize; i++ {
		s.credits <- struct{}{}
	}
	return
}

func (s *Stream) String() string {
	s.mu.Lock()
	flags := []byte("....")
	if s.sentFinal {
		flags[0] = 'S'
	}
	if s.finalAcked {
		flags[1] = 'A'
	}
	if s.gotFinal {
		flags[2] = 'R'
	}
	if s.ackedFinal {
		flags[3] = 'K'
	}
	s.mu.Unlock()
	return fmt.Sprintf("[Stream %04x %v %s (%d+%d)]", s.serialNumber, s.ID, flags, len(s.credits), len(s.readCh))
}

// Context returns the Stream's context.
func (s *Stream) Context() context.Context {
	return s.ctx
}

// Mode returns the interaction mode of the Stream's request.
func (s *Stream) Mode() InteractionMode {
	return s.mode
}

// Route returns the route name of the Stream's request.
func (s *Stream) Route() string {
	return s.route
}

// Done returns a channel that is closed once the Stream is released.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// OnRecycle sets the function to call when the Stream is released.
func (s *Stream) OnRecycle(fn func(*Stream)) {
	s.mu.Lock()
	s.onRecycle = fn
	s.mu.Unlock()
}

func (s *Stream) netlog(msg string, fd FrameData) {
	if s.netLog {
		s.logger.Debug(msg, zap.Stringer("stream", s), zap.Stringer("frame", fd))
	}
}

// SubmitFrame gives the Stream an incoming FrameData.
// None of the frames seen may be muxer control frames.
// It is called from the Muxer's reader and must never block.
func (s *Stream) SubmitFrame(fd FrameData) (err error) {
	s.netlog("READ", fd)
	fh := fd.Header()
	if kind := fh.Kind(); kind.IsFlow() {
		defer FrameDataFree(fd)
		switch kind {
		case FrameKindAck:
			select {
			case s.credits <- struct{}{}:
			default:
				return errors.Wrapf(ProtocolError{}, "%v: ack without frame in flight", s.ID)
			}
		case FrameKindCancel:
			s.mu.Lock()
			if !s.peerCanceled {
				s.peerCanceled = true
				close(s.canceledCh)
			}
			s.mu.Unlock()
			s.cancel()
		case FrameKindFinalAck:
			s.mu.Lock()
			if !s.sentFinal || s.finalAcked {
				s.mu.Unlock()
				return errors.Wrapf(ProtocolError{}, "%v: unexpected final ack", s.ID)
			}
			s.finalAcked = true
			s.releaseLocked()
		case FrameKindFinal:
			s.mu.Lock()
			if s.gotFinal {
				s.mu.Unlock()
				return errors.Wrapf(ProtocolError{}, "%v: multiple final frames", s.ID)
			}
			s.gotFinal = true
			s.mu.Unlock()
			select {
			case s.readCh <- nil:
			default:
				return errors.Wrapf(ProtocolError{}, "%v: send window exceeded", s.ID)
			}
		}
		return
	}

	if fh.Kind() == FrameKindInvalid {
		FrameDataFree(fd)
		return errors.Wrapf(ProtocolError{}, "%v: frame without flags", s.ID)
	}

	s.mu.Lock()
	gotFinal := s.gotFinal
	s.mu.Unlock()
	if gotFinal {
		FrameDataFree(fd)
		return errors.Wrapf(ProtocolError{}, "%v: data after final frame", s.ID)
	}

	select {
	case s.readCh <- fd:
	default:
		FrameDataFree(fd)
		return errors.Wrapf(ProtocolError{}, "%v: send window exceeded", s.ID)
	}
	return
}

// releaseLocked releases the Stream if both sides are done with it.
// It must be called with s.mu held, and unlocks it.
func (s *Stream) releaseLocked() {
	if s.released || !(s.sentFinal && s.finalAcked && s.gotFinal && s.ackedFinal) {
		s.mu.Unlock()
		return
	}
	s.released = true
	onRecycle := s.onRecycle
	s.mu.Unlock()
	s.cancel()
	if onRecycle != nil {
		onRecycle(s)
	}
	close(s.done)
}

// replaceable returns true if the only thing left to do for the Stream
// is for it to acknowledge the peer's final frame.
func (s *Stream) replaceable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gotFinal && s.finalAcked
}

func (s *Stream) writeFlow(kind FrameKind) error {
	fd := FrameDataAllocID(s.ID)
	fd.Header().SetKind(kind)
	s.netlog("WRIT", fd)
	return s.mux.StreamWrite(fd)
}

func (s *Stream) waitDeadline(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}

// acquire waits for a send window credit.
func (s *Stream) acquire(ctx context.Context) error {
	select {
	case <-s.credits:
		return nil
	default:
	}
	timeout, stop := s.waitDeadline(s.writeTimeout)
	defer stop()
	select {
	case <-s.credits:
		return nil
	case <-s.canceledCh:
		return errors.WithStack(CanceledError{})
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case <-s.mux.StreamAbortChannel():
		return errors.WithStack(SessionClosedError{})
	case <-timeout:
		return errors.WithStack(timeoutError{})
	}
}

// writeData writes a frame that counts against the send window.
func (s *Stream) writeData(ctx context.Context, fd FrameData) (err error) {
	if err = s.acquire(ctx); err != nil {
		FrameDataFree(fd)
		return
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	sentFinal, peerCanceled := s.sentFinal, s.peerCanceled
	s.mu.Unlock()
	switch {
	case sentFinal:
		err = errors.Wrap(io.ErrClosedPipe, "send after final frame")
	case peerCanceled:
		err = errors.WithStack(CanceledError{})
	default:
		s.mu.Lock()
		s.unused = false
		s.mu.Unlock()
		s.netlog("WRIT", fd)
		return s.mux.StreamWrite(fd)
	}
	FrameDataFree(fd)
	select {
	case s.credits <- struct{}{}:
	default:
	}
	return
}

// Send sends p as one payload value. It blocks while the send window is
// full, and fails with CanceledError once the peer has cancelled the Stream.
func (s *Stream) Send(ctx context.Context, p []byte) (err error) {
	fd := FrameDataAllocID(s.ID)
	fd.Header().SetBody()
	if _, err = fd.Write(p); err != nil {
		FrameDataFree(fd)
		return
	}
	return s.writeData(ctx, fd)
}

// SendError sends an Error record carrying ErrorCodeOf(err) and the error text.
func (s *Stream) SendError(ctx context.Context, err error) error {
	fd := FrameDataAllocID(s.ID)
	if werr := fd.WriteError(ErrorCodeOf(err), err.Error()); werr != nil {
		FrameDataFree(fd)
		return werr
	}
	return s.writeData(ctx, fd)
}

func (s *Stream) sendRequest(ctx context.Context, mode InteractionMode, route string, p []byte) (err error) {
	fd := FrameDataAllocID(s.ID)
	if err = fd.WriteRequest(mode, route, p); err != nil {
		FrameDataFree(fd)
		return
	}
	s.mode, s.route = mode, route
	return s.writeData(ctx, fd)
}

// CloseSend sends the final frame, telling the peer nothing more will be sent.
// Calling it more than once has no effect.
func (s *Stream) CloseSend() (err error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	if s.sentFinal {
		s.mu.Unlock()
		return
	}
	s.sentFinal = true
	s.mu.Unlock()
	return s.writeFlow(FrameKindFinal)
}

// Cancel asks the peer to stop sending. The peer will send its final frame,
// and data already in flight must still be read or Close'd.
func (s *Stream) Cancel() (err error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	if s.gotFinal || s.cancelSent {
		s.mu.Unlock()
		return
	}
	s.cancelSent = true
	s.mu.Unlock()
	return s.writeFlow(FrameKindCancel)
}

func (s *Stream) readEOF() error {
	s.wmu.Lock()
	s.mu.Lock()
	if s.ackedFinal {
		s.mu.Unlock()
		s.wmu.Unlock()
		return io.EOF
	}
	s.mu.Unlock()
	err := s.writeFlow(FrameKindFinalAck)
	s.mu.Lock()
	s.ackedFinal = true
	s.wmu.Unlock()
	s.releaseLocked()
	if err != nil {
		return err
	}
	return io.EOF
}

// readFrame returns the next frame from the peer, acknowledging data frames.
// A nil frame means the peer has sent its final frame.
func (s *Stream) readFrame(ctx context.Context) (fd FrameData, err error) {
	s.mu.Lock()
	eof := s.ackedFinal
	s.mu.Unlock()
	if eof {
		return nil, io.EOF
	}
	timeout, stop := s.waitDeadline(s.readTimeout)
	defer stop()
	select {
	case fd = <-s.readCh:
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	case <-s.mux.StreamAbortChannel():
		return nil, errors.WithStack(SessionClosedError{})
	case <-timeout:
		return nil, errors.WithStack(timeoutError{})
	}
	if fd == nil {
		return nil, s.readEOF()
	}
	ack := FrameDataAllocID(s.ID)
	ack.Header().SetKind(FrameKindAck)
	s.netlog("WRIT", ack)
	if err = s.mux.StreamWrite(ack); err != nil {
		FrameDataFree(fd)
		fd = nil
	}
	return
}

// Recv returns the next payload value sent by the peer. It returns io.EOF
// after the peer's final frame, and a *StreamError if the peer sent an
// Error record. Recv does not stop because the peer cancelled the Stream.
func (s *Stream) Recv(ctx context.Context) (p []byte, err error) {
	var fd FrameData
	if fd, err = s.readFrame(ctx); err != nil {
		return
	}
	defer FrameDataFree(fd)
	fp := NewFrameParser(fd)
	if fd.Header().HasHead() {
		var rt RecordType
		if rt, err = fp.ReadRecordType(); err != nil {
			return
		}
		if rt != RecordTypeError {
			return nil, errors.WithStack(ErrUnhandledRecordType{Value: rt})
		}
		var se *StreamError
		if se, err = fp.ReadError(); err == nil {
			err = se
		}
		return
	}
	p = make([]byte, len(fp))
	copy(p, fp)
	return
}

// readRequest reads the Request record that opens a served Stream.
func (s *Stream) readRequest(ctx context.Context) (err error) {
	var fd FrameData
	if fd, err = s.readFrame(ctx); err != nil {
		return
	}
	defer FrameDataFree(fd)
	if !fd.Header().HasHead() {
		return errors.WithStack(ErrMissingFrameHead{})
	}
	fp := NewFrameParser(fd)
	var rt RecordType
	if rt, err = fp.ReadRecordType(); err != nil {
		return
	}
	if rt != RecordTypeRequest {
		return errors.WithStack(ErrUnhandledRecordType{Value: rt})
	}
	if s.mode, s.route, err = fp.ReadRequest(); err != nil {
		return
	}
	s.request = make([]byte, len(fp))
	copy(s.request, fp)
	return
}

// readInputEOF reads the end of a single value input.
func (s *Stream) readInputEOF(ctx context.Context) error {
	p, err := s.Recv(ctx)
	if errors.Cause(err) == io.EOF {
		return nil
	}
	if err == nil {
		return WithCode(errors.Errorf("%v accepts a single value, got %d more bytes", s.mode, len(p)), ErrorCodeInvalidRequest)
	}
	return err
}

// Close ends the Stream. If the peer has not finished sending, it is asked to
// stop, and remaining inbound values are discarded. A fire-and-forget Stream
// is never cancelled, since the peer has yet to run its handler.
// Close waits at most DefaultCloseTimeout for the peer to complete the
// final frame handshake.
func (s *Stream) Close() (err error) {
	s.mu.Lock()
	if s.unused {
		// the peer never heard of it
		s.sentFinal, s.finalAcked, s.gotFinal, s.ackedFinal = true, true, true, true
		s.releaseLocked()
		return nil
	}
	s.mu.Unlock()
	if s.mode != FireAndForget {
		s.Cancel()
	}
	if err = s.CloseSend(); err != nil && !isClosedError(err) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultCloseTimeout)
	defer cancel()
	for {
		_, rerr := s.Recv(ctx)
		if rerr == nil {
			continue
		}
		switch errors.Cause(rerr).(type) {
		case *StreamError, ErrUnhandledRecordType, ProtocolError:
			continue
		}
		break
	}
	select {
	case <-s.done:
		return nil
	case <-s.mux.StreamAbortChannel():
		return errors.WithStack(SessionClosedError{})
	case <-ctx.Done():
		return errors.WithStack(timeoutError{})
	}
}
