// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package relay

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/linkdata/raprelay"
	"github.com/linkdata/raprelay/aircraft"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ChannelState is the state of a channel interaction.
type ChannelState int32

// Channel states. A new observation in AwaitingFetch or Streaming
// cancels the fetch in progress and returns to AwaitingFetch.
const (
	ChannelIdle ChannelState = iota
	ChannelAwaitingFetch
	ChannelStreaming
	ChannelTerminated
)

var channelStateTexts = map[ChannelState]string{
	ChannelIdle:          "Idle",
	ChannelAwaitingFetch: "AwaitingFetch",
	ChannelStreaming:     "Streaming",
	ChannelTerminated:    "Terminated",
}

func (cs ChannelState) String() string {
	if s, ok := channelStateTexts[cs]; ok {
		return s
	}
	return fmt.Sprintf("ChannelState(%d)", int32(cs))
}

// fetchJob is one fetch and the forwarding of its results.
type fetchJob struct {
	seq    int
	cancel context.CancelFunc
	done   chan struct{}
	err    error // valid after done is closed
}

type channel struct {
	relay   *Relay
	out     raprelay.Sender
	observe func(ChannelState)

	mu    sync.Mutex // guards state and seq
	state ChannelState
	seq   int
}

// setState moves to state if seq is still the current fetch.
func (ch *channel) setState(seq int, state ChannelState) {
	ch.mu.Lock()
	if seq != ch.seq || ch.state == ChannelTerminated {
		ch.mu.Unlock()
		return
	}
	ch.state = state
	ch.mu.Unlock()
	if ch.observe != nil {
		ch.observe(state)
	}
}

func (ch *channel) start(ctx context.Context, w aircraft.Weather) *fetchJob {
	ch.mu.Lock()
	ch.seq++
	job := &fetchJob{seq: ch.seq, done: make(chan struct{})}
	ch.mu.Unlock()
	ch.setState(job.seq, ChannelAwaitingFetch)

	var jctx context.Context
	jctx, job.cancel = context.WithCancel(ctx)
	go func() {
		defer close(job.done)
		recs, err := ch.relay.fetch(jctx)
		if err == nil {
			ch.setState(job.seq, ChannelStreaming)
			err = sendRecords(jctx, ch.out, recs)
		}
		if err != nil && jctx.Err() != nil {
			// superseded, or the channel is ending
			err = nil
		}
		job.err = err
	}()
	return job
}

// stop cancels the job and waits for it to finish.
func (job *fetchJob) stop() error {
	job.cancel()
	<-job.done
	return job.err
}

func (ch *channel) run(ctx context.Context, values <-chan aircraft.Weather) (err error) {
	var job *fetchJob
	defer func() {
		if job != nil {
			job.stop()
		}
		ch.mu.Lock()
		ch.state = ChannelTerminated
		ch.mu.Unlock()
		if ch.observe != nil {
			ch.observe(ChannelTerminated)
		}
	}()

	for {
		var jobDone <-chan struct{}
		if job != nil {
			jobDone = job.done
		}
		select {
		case w, ok := <-values:
			if !ok {
				// inbound completed: finish forwarding the latest fetch
				if job != nil {
					select {
					case <-job.done:
						err = job.err
					case <-ctx.Done():
						err = ctx.Err()
					}
				}
				return
			}
			ch.relay.logger.Infow("channel: observation", "when", w.When, "observation", w.Observation)
			if job != nil {
				if err = job.stop(); err != nil {
					job = nil
					return
				}
			}
			job = ch.start(ctx, w)
		case <-jobDone:
			if err = job.err; err != nil {
				job = nil
				return
			}
			job = nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Channel fetches anew for every inbound observation and forwards the
// results of the latest fetch only. A superseded fetch is cancelled.
// It ends when the inbound values end and the latest fetch is forwarded,
// when ctx is done, or on the first fetch or send failure.
func (r *Relay) Channel(ctx context.Context, in raprelay.Receiver, out raprelay.Sender) error {
	return r.channel(ctx, in, out, nil)
}

func (r *Relay) channel(ctx context.Context, in raprelay.Receiver, out raprelay.Sender, observe func(ChannelState)) error {
	r.logger.Infow("channel: subscribed")
	ch := &channel{relay: r, out: out, observe: observe}
	values := make(chan aircraft.Weather)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(values)
		for {
			p, err := in.Recv(gctx)
			if err != nil {
				if errors.Cause(err) == io.EOF {
					return nil
				}
				return err
			}
			w, err := aircraft.DecodeWeather(p)
			if err != nil {
				return raprelay.WithCode(err, raprelay.ErrorCodeInvalidRequest)
			}
			select {
			case values <- w:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})
	g.Go(func() error {
		return ch.run(gctx, values)
	})
	return g.Wait()
}
