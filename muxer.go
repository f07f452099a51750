// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// StatsCollector is the interface required to collect statistics
type StatsCollector interface {
	AddBytesWritten(int64)
	AddBytesRead(int64)
}

// Muxer multiplexes concurrent Streams over one io.ReadWriteCloser.
//
// Streams are opened by one side only. The side that calls Serve with a
// non-nil StreamHandler accepts Streams, the other side opens them with
// NewStream and the request methods, and maintains the set of free
// Stream IDs.
type Muxer struct {
	io.ReadWriteCloser // The I/O endpoint
	StatsCollector     // Where to report statistics (optional)
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	Logger             *zap.Logger
	handler            StreamHandler
	ctx                context.Context
	cancel             context.CancelFunc
	writeCh            chan FrameData
	ids                chan StreamID
	streamLastID       int32
	mu                 sync.Mutex // guards streams, isServing and handler
	streams            []*Stream
	isServing          bool
	readerWaitGroup    sync.WaitGroup
	activeStreams      int32 // atomic count of served Streams still running
	lastPingSent       int64 // Unix nanoseconds
	lastPongRcvd       int64 // Unix nanoseconds
	latency            int64 // nanoseconds
	closeErr           error
	serialNumber       uint32
	netLog             int32 // atomic nonzero to log frames at debug level
}

var muxerNextSerialNumber uint32

func (mux *Muxer) String() string {
	return fmt.Sprintf("[Muxer %x]", mux.serialNumber)
}

// NewMuxer creates a new Muxer and initializes it.
func NewMuxer(rwc io.ReadWriteCloser) *Muxer {
	mux := &Muxer{
		ReadWriteCloser: rwc,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		Logger:          zap.NewNop(),
		writeCh:         make(chan FrameData),
		ids:             make(chan StreamID, int(MaxStreamID)+1),
		streams:         make([]*Stream, int(MaxStreamID)+1),
		serialNumber:    atomic.AddUint32(&muxerNextSerialNumber, 1),
	}
	mux.ctx, mux.cancel = context.WithCancel(context.Background())
	return mux
}

func muxerControlPingHandler(mux *Muxer, fd FrameData) (err error) {
	fd.Header().SetMuxerControl(MuxerControlPong)
	select {
	case mux.writeCh <- fd:
	case <-mux.ctx.Done():
		FrameDataFree(fd)
		return errors.WithStack(SessionClosedError{})
	}
	return
}

func muxerControlPongHandler(mux *Muxer, fd FrameData) (err error) {
	defer FrameDataFree(fd)
	var now = time.Now().UnixNano()
	atomic.StoreInt64(&mux.lastPongRcvd, now)
	if fd.Header().SizeValue() > 0 {
		fp := NewFrameParser(fd)
		var sent int64
		if sent, err = fp.ReadInt64(); err == nil {
			atomic.StoreInt64(&mux.latency, now-sent)
		}
	}
	return
}

func muxerControlPanicHandler(mux *Muxer, fd FrameData) error {
	defer FrameDataFree(fd)
	var msg string
	if fd.Header().SizeValue() > 0 {
		fp := NewFrameParser(fd)
		msg, _, _ = fp.ReadString()
	}
	return errors.Wrap(PanicError{}, msg)
}

func muxerControlReservedHandler(mux *Muxer, fd FrameData) error {
	defer FrameDataFree(fd)
	return errors.Wrapf(ProtocolError{}, "unknown Muxer control frame %v", fd.Header())
}

func (mux *Muxer) handleMuxerControl(fd FrameData) error {
	switch fd.Header().MuxerControl() {
	case MuxerControlPing:
		return muxerControlPingHandler(mux, fd)
	case MuxerControlPong:
		return muxerControlPongHandler(mux, fd)
	case MuxerControlPanic:
		return muxerControlPanicHandler(mux, fd)
	}
	return muxerControlReservedHandler(mux, fd)
}

// Ping sends a ping frame and returns without waiting for response.
func (mux *Muxer) Ping() {
	fd := FrameDataAlloc()
	fd.WriteMuxerControl(MuxerControlPing)
	now := time.Now().UnixNano()
	atomic.StoreInt64(&mux.lastPingSent, now)
	fd.WriteInt64(now)
	fd.SetSizeValue()
	select {
	case mux.writeCh <- fd:
	case <-mux.ctx.Done():
		FrameDataFree(fd)
	}
}

// Latency returns the result of the last successful ping/pong measurement,
// or the zero value if there is no current valid measurement.
func (mux *Muxer) Latency() (d time.Duration) {
	ping := atomic.LoadInt64(&mux.lastPingSent)
	if ping > 0 {
		pong := atomic.LoadInt64(&mux.lastPongRcvd)
		if ping <= pong {
			d = time.Duration(atomic.LoadInt64(&mux.latency))
		}
	}
	return
}

// writePanic sends a Panic control frame telling the peer why we are
// shutting down. It gives up if the writer does not accept it quickly.
func (mux *Muxer) writePanic(reason string) {
	fd := FrameDataAlloc()
	fd.WriteMuxerControl(MuxerControlPanic)
	if len(reason) > 0x7fff {
		reason = reason[:0x7fff]
	}
	fd.WriteString(reason)
	fd.SetSizeValue()
	timer := time.NewTimer(time.Millisecond * 100)
	defer timer.Stop()
	select {
	case mux.writeCh <- fd:
	case <-mux.ctx.Done():
		FrameDataFree(fd)
	case <-timer.C:
		FrameDataFree(fd)
	}
}

// NetLog enables or disables logging of frames and Stream state
// changes at debug level.
func (mux *Muxer) NetLog(state bool) {
	var v int32
	if state {
		v = 1
	}
	atomic.StoreInt32(&mux.netLog, v)
}

func (mux *Muxer) isNetLog() bool {
	return atomic.LoadInt32(&mux.netLog) != 0
}

func (mux *Muxer) logger() *zap.Logger {
	if mux.Logger == nil {
		return zap.NewNop()
	}
	return mux.Logger
}

// ReadFrom implements io.ReaderFrom.
func (mux *Muxer) ReadFrom(r io.Reader) (n int64, err error) {
	var unreported int64

	hasCollector := mux.StatsCollector != nil

	mux.mu.Lock()
	select {
	case <-mux.ctx.Done():
		mux.mu.Unlock()
		return 0, errors.WithStack(SessionClosedError{})
	default:
		mux.readerWaitGroup.Add(1)
		defer mux.readerWaitGroup.Done()
	}
	mux.mu.Unlock()

	for {
		var m int64
		fd := FrameDataAlloc()

		m, err = fd.ReadFrom(r)
		n += m

		if hasCollector {
			unreported += m
			if unreported > int64(FrameMaxSize) || (err != nil && unreported > 0) {
				mux.StatsCollector.AddBytesRead(unreported)
				unreported = 0
			}
		}

		if err != nil {
			FrameDataFree(fd)
			break
		}

		if fd.Header().IsMuxerControl() {
			if err = mux.handleMuxerControl(fd); err != nil {
				return
			}
			continue
		}

		if err = mux.dispatch(fd); err != nil {
			return
		}
	}
	return
}

func isRequestFrame(fd FrameData) bool {
	fh := fd.Header()
	return fh.Kind() == FrameKindRecordValue && len(fd) > FrameHeaderSize && RecordType(fd[FrameHeaderSize]) == RecordTypeRequest
}

// dispatch hands a stream frame to its Stream, starting a new served
// Stream if the frame carries a Request for an idle Stream ID.
func (mux *Muxer) dispatch(fd FrameData) error {
	streamID := fd.Header().StreamID()
	if streamID > MaxStreamID {
		FrameDataFree(fd)
		return errors.Wrapf(ProtocolError{}, "%v exceeds max stream ID", streamID)
	}

	mux.mu.Lock()
	s := mux.streams[streamID]
	if s == nil || (mux.handler != nil && isRequestFrame(fd) && s.replaceable()) {
		switch {
		case fd.Header().Kind().IsFlow():
			// late flow control for a released Stream
			mux.mu.Unlock()
			FrameDataFree(fd)
			return nil
		case mux.handler == nil || !isRequestFrame(fd):
			mux.mu.Unlock()
			mux.logger().Debug("dropped frame for idle stream", zap.Stringer("muxer", mux), zap.Stringer("frame", fd))
			FrameDataFree(fd)
			return nil
		}
		s = mux.newStreamLocked(streamID)
		s.OnRecycle(mux.servedRelease)
		mux.streams[streamID] = s
		atomic.AddInt32(&mux.activeStreams, 1)
		go mux.serve(s, mux.handler)
	}
	mux.mu.Unlock()

	return s.SubmitFrame(fd)
}

func (mux *Muxer) newStreamLocked(streamID StreamID) (s *Stream) {
	s = NewStream(mux.ctx, mux, streamID)
	s.logger = mux.logger()
	s.netLog = mux.isNetLog()
	s.readTimeout = mux.ReadTimeout
	s.writeTimeout = mux.WriteTimeout
	return
}

// serve runs the handler for a Stream opened by the peer.
func (mux *Muxer) serve(s *Stream, h StreamHandler) {
	defer atomic.AddInt32(&mux.activeStreams, -1)
	defer s.Close()
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("panic serving %v: %v", s.Route(), r)
			mux.logger().Error("stream handler panic", zap.Stringer("muxer", mux), zap.Stringer("stream", s), zap.Any("panic", r))
			respondError(s, err)
		}
	}()
	if err := s.readRequest(s.Context()); err != nil {
		mux.logger().Debug("bad request", zap.Stringer("stream", s), zap.Error(err))
		respondError(s, err)
		return
	}
	h.ServeStream(s, s.request)
}

type flusher interface {
	Flush() error
}

// WriteTo implements io.WriterTo. FrameData arriving on the write channel
// are buffered and written to w until the Muxer is closed or
// an error occurs.
func (mux *Muxer) WriteTo(w io.Writer) (n int64, err error) {
	var unreported int64
	var written int64
	f, hasFlusher := w.(flusher)
	hasCollector := mux.StatsCollector != nil

	for err == nil {
		var fd FrameData

		select {
		case fd = <-mux.writeCh:
		default:
			// no immediately available FrameData, flush the output
			if hasFlusher {
				if err = f.Flush(); err != nil {
					return
				}
			}
			if hasCollector && unreported > 0 {
				mux.StatsCollector.AddBytesWritten(unreported)
				unreported = 0
			}
			select {
			case fd = <-mux.writeCh:
			case <-mux.ctx.Done():
				return n, errors.WithStack(SessionClosedError{})
			}
		}

		if mux.isNetLog() {
			mux.logger().Debug("WRIT", zap.Stringer("muxer", mux), zap.Stringer("frame", fd))
		}

		written, err = fd.WriteTo(w)
		n += written
		FrameDataFree(fd)

		if hasCollector {
			unreported += written
			if unreported > int64(FrameMaxSize) {
				mux.StatsCollector.AddBytesWritten(unreported)
				unreported = 0
			}
		}
	}

	return
}

func (mux *Muxer) isClosed() bool {
	select {
	case <-mux.ctx.Done():
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the Muxer is closed.
func (mux *Muxer) Done() <-chan struct{} {
	return mux.ctx.Done()
}

// Serve processes incoming and outgoing frames for the Muxer until closed.
// If h is not nil, Streams opened by the peer are served by it.
func (mux *Muxer) Serve(h StreamHandler) (err error) {
	mux.mu.Lock()
	if mux.isServing {
		mux.mu.Unlock()
		return errors.New("Muxer.Serve() called twice")
	}
	mux.isServing = true
	mux.handler = h
	mux.mu.Unlock()

	errCh := make(chan error, 2)

	go func() {
		_, err := mux.ReadFrom(bufio.NewReaderSize(mux.ReadWriteCloser, FrameMaxSize))
		if _, ok := errors.Cause(err).(ProtocolError); ok {
			mux.logger().Warn("protocol error", zap.Stringer("muxer", mux), zap.Error(err))
			mux.writePanic(err.Error())
		}
		errCh <- err
	}()
	go func() {
		_, err := mux.WriteTo(bufio.NewWriterSize(mux.ReadWriteCloser, FrameMaxSize))
		errCh <- err
	}()

	err = <-errCh

	if closeErr := mux.Close(); closeErr != nil && (err == nil || isClosedError(err)) {
		err = closeErr
	}

	if otherErr := <-errCh; otherErr != nil && err == nil {
		err = otherErr
	}

	if isClosedError(err) {
		err = nil
	}
	return err
}

func (mux *Muxer) closeReader() (err error) {
	// closing the I/O stream will cause the reader goroutine to stop with an error
	err = mux.ReadWriteCloser.Close()
	done := make(chan struct{})
	go func() {
		mux.readerWaitGroup.Wait()
		close(done)
	}()
	timer := time.NewTimer(DefaultCloseTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		if err == nil {
			err = errors.WithStack(ErrTimeoutWaitingForReader{})
		}
	}
	return
}

// Close closes the Muxer immediately, aborting all active Streams.
func (mux *Muxer) Close() (err error) {
	mux.mu.Lock()
	if mux.isClosed() {
		err = mux.closeErr
		mux.mu.Unlock()
		return
	}
	mux.cancel()
	mux.mu.Unlock()

	err = mux.closeReader()
	if isClosedError(err) {
		err = nil
	}

	mux.mu.Lock()
	mux.closeErr = err
	mux.mu.Unlock()
	return
}

// Shutdown attempts a graceful shutdown of the Muxer. It waits for
// served Streams to finish until ctx is done, then closes the Muxer.
func (mux *Muxer) Shutdown(ctx context.Context) (err error) {
	ticker := time.NewTicker(time.Millisecond * 10)
	defer ticker.Stop()
	for err == nil && mux.ActiveStreams() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			err = errors.WithStack(ctx.Err())
		}
	}
	if cerr := mux.Close(); err == nil {
		err = cerr
	}
	return
}

// ActiveStreams returns the number of Streams opened by the peer
// whose handlers are still running.
func (mux *Muxer) ActiveStreams() int {
	return int(atomic.LoadInt32(&mux.activeStreams))
}

// NewStreamWait returns the next available Stream, waiting for one to
// become available until ctx is done.
func (mux *Muxer) NewStreamWait(ctx context.Context) (s *Stream, err error) {
	if s, err = mux.NewStream(); s == nil && err == nil {
		select {
		case streamID := <-mux.ids:
			s, err = mux.openStream(streamID)
		case <-ctx.Done():
			err = errors.WithStack(ctx.Err())
		case <-mux.ctx.Done():
			err = errors.WithStack(SessionClosedError{})
		}
	}
	return
}

// AvailableStreams returns the number of Streams that are
// currently able to be returned from NewStream(). Note that
// the value may not be exact if there are other goroutines using
// the Muxer.
func (mux *Muxer) AvailableStreams() (streamCount int) {
	streamCount = len(mux.ids)
	lastID := atomic.LoadInt32(&mux.streamLastID)
	if lastID < int32(MaxStreamID)+1 {
		streamCount += int(int32(MaxStreamID) + 1 - lastID)
	}
	return
}

// NewStream returns the next available Stream, or nil if none are available.
func (mux *Muxer) NewStream() (s *Stream, err error) {
	if mux.isClosed() {
		return nil, errors.WithStack(SessionClosedError{})
	}
	select {
	case streamID := <-mux.ids:
		return mux.openStream(streamID)
	default:
	}
	for {
		lastID := atomic.LoadInt32(&mux.streamLastID)
		if lastID > int32(MaxStreamID) {
			return
		}
		if atomic.CompareAndSwapInt32(&mux.streamLastID, lastID, lastID+1) {
			return mux.openStream(StreamID(lastID))
		}
	}
}

func (mux *Muxer) openStream(streamID StreamID) (s *Stream, err error) {
	mux.mu.Lock()
	defer mux.mu.Unlock()
	if mux.handler != nil {
		mux.ids <- streamID
		return nil, errors.New("Muxer serving a StreamHandler can not open Streams")
	}
	s = mux.newStreamLocked(streamID)
	s.unused = true
	s.OnRecycle(mux.StreamRelease)
	mux.streams[streamID] = s
	return
}

// StreamWrite allows a Stream to write a FrameData
func (mux *Muxer) StreamWrite(fd FrameData) error {
	select {
	case mux.writeCh <- fd:
		return nil
	case <-mux.ctx.Done():
		FrameDataFree(fd)
		return errors.WithStack(SessionClosedError{})
	}
}

func (mux *Muxer) unlink(s *Stream) {
	mux.mu.Lock()
	if mux.streams[s.ID] == s {
		mux.streams[s.ID] = nil
	}
	mux.mu.Unlock()
}

func (mux *Muxer) servedRelease(s *Stream) {
	mux.unlink(s)
	if mux.isNetLog() {
		mux.logger().Debug("IDLE", zap.Stringer("muxer", mux), zap.Stringer("stream", s))
	}
}

// StreamRelease returns the Stream ID to the Muxer, allowing it to
// be re-used for other Streams.
func (mux *Muxer) StreamRelease(s *Stream) {
	mux.unlink(s)
	select {
	case mux.ids <- s.ID:
		if mux.isNetLog() {
			mux.logger().Debug("IDLE", zap.Stringer("muxer", mux), zap.Stringer("stream", s))
		}
	default:
		panic(fmt.Sprint("can't release Stream, len(mux.ids) ", len(mux.ids), " cap(mux.ids) ", cap(mux.ids), " max ", MaxStreamID, " stream ", s))
	}
}

// StreamAbortChannel returns the abort signalling channel
func (mux *Muxer) StreamAbortChannel() <-chan struct{} {
	return mux.ctx.Done()
}
