// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xfer

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"code.hybscloud.com/iox"
)

// inFlight is a buffer on the wire that has not been acknowledged yet.
type inFlight struct {
	sentAt time.Time
	buf    Buffer
}

// writeState is the per-channel dispatcher state of a DataWriter.
type writeState struct {
	mu   sync.Mutex
	id   string
	slot int
	in   *Feed
	out  *Feed

	// held is a scheduled buffer the send feed had no room for.
	held     Buffer
	heldID   uint64
	inflight map[uint64]inFlight
}

// DataWriter stamps payloads into buffers, offers them on each channel's
// send feed and retires them when the peer DataReader acknowledges them.
// Unacknowledged buffers are offered again once InFlightTimeout elapses.
type DataWriter struct {
	handlerBase
	cfg    WriterConfig
	queue  *BufferQueue
	states []writeState
}

// NewDataWriter creates a writer for channels. Zero config fields take
// their defaults; a config that is still invalid panics.
func NewDataWriter(name, job string, cfg WriterConfig, channels []Channel) *DataWriter {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		panic(err.Error())
	}
	w := &DataWriter{
		cfg:    cfg,
		queue:  NewBufferQueue(channels),
		states: make([]writeState, len(channels)),
	}
	w.setup(name, job, KindDataWriter, channels)
	for i, ch := range channels {
		st := &w.states[i]
		st.id = ch.ID()
		st.slot = i
		st.in = NewFeed(cfg.FeedCapacity)
		st.out = NewFeed(cfg.FeedCapacity)
		st.inflight = make(map[uint64]inFlight, MaxBuffersPerChannel)
	}
	return w
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.FeedCapacity == 0 {
		c.FeedCapacity = defaultFeedCapacity
	}
	if c.InFlightTimeout == 0 {
		c.InFlightTimeout = Duration(defaultInFlightTimeout)
	}
	return c
}

func (w *DataWriter) state(channelID string) *writeState {
	return &w.states[w.slots.lookup(channelID)]
}

// SendFeed returns the feed buffers for ch are written to.
func (w *DataWriter) SendFeed(ch Channel) *Feed {
	return w.state(ch.ID()).out
}

// RecvFeed returns the feed the transport delivers ch's acks to.
func (w *DataWriter) RecvFeed(ch Channel) *Feed {
	return w.state(ch.ID()).in
}

// TryWrite queues payload on the channel. It returns false when the
// channel already holds MaxBuffersPerChannel unacknowledged buffers.
func (w *DataWriter) TryWrite(channelID string, payload []byte) bool {
	return w.queue.TryPush(channelID, payload)
}

// Write queues payload on the channel, backing off while the channel is
// full. It returns ctx.Err() if ctx is done first.
func (w *DataWriter) Write(ctx context.Context, channelID string, payload []byte) error {
	var bo iox.Backoff
	for !w.TryWrite(channelID, payload) {
		if err := ctx.Err(); err != nil {
			return err
		}
		bo.Wait()
	}
	return nil
}

// Len returns the number of unacknowledged buffers queued on the channel.
func (w *DataWriter) Len(channelID string) int {
	return w.queue.Len(channelID)
}

// InFlight returns how many buffers of the channel are on the wire
// awaiting an ack.
func (w *DataWriter) InFlight(channelID string) int {
	st := w.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.inflight)
}

// Start launches the dispatcher goroutine. Calling Start on a running
// writer does nothing.
func (w *DataWriter) Start() {
	w.start(w.dispatch)
}

// Close stops the dispatcher after its current sweep, waits for it to
// exit and flushes metrics. Queued buffers stay queued.
func (w *DataWriter) Close() {
	w.stop()
}

func (w *DataWriter) dispatch() {
	var bo iox.Backoff
	for w.isRunning() {
		progress := false
		for i := range w.states {
			if w.sweep(&w.states[i]) {
				progress = true
			}
		}
		if progress {
			bo.Reset()
		} else {
			bo.Wait()
		}
	}
}

// sweep retires acknowledged buffers, re-offers timed out ones and then
// offers newly scheduled buffers until the send feed is full.
func (w *DataWriter) sweep(st *writeState) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	progress := w.recvAcks(st)
	now := time.Now()
	if w.resend(st, now) {
		progress = true
	}
	if st.held != nil {
		if st.out.TrySend(st.held) != nil {
			return progress
		}
		w.sent(st, st.heldID, st.held, now)
		st.held = nil
		progress = true
	}
	for {
		b, ok := w.queue.ScheduleNext(st.id)
		if !ok {
			return progress
		}
		id, err := b.ID()
		if err != nil {
			panic("xfer: corrupt queued buffer on channel " + st.id)
		}
		if st.out.TrySend(b) != nil {
			st.held, st.heldID = b, id
			return progress
		}
		w.sent(st, id, b, now)
		progress = true
	}
}

func (w *DataWriter) sent(st *writeState, id uint64, b Buffer, now time.Time) {
	st.inflight[id] = inFlight{sentAt: now, buf: b}
	c := w.metrics.slot(st.slot)
	c.buffersSent.Inc()
	c.bytesSent.Add(float64(len(b)))
}

func (w *DataWriter) recvAcks(st *writeState) bool {
	c := w.metrics.slot(st.slot)
	progress := false
	for {
		b, err := st.in.TryRecv()
		if err != nil {
			return progress
		}
		progress = true
		c.bytesReceived.Add(float64(len(b)))
		ack, err := UnmarshalAck(b)
		if err != nil {
			c.malformed.Inc()
			w.log.Warn().Err(err).Str("channel", st.id).Int("size", len(b)).Msg("dropping ack")
			continue
		}
		if ack.ChannelID != st.id {
			c.malformed.Inc()
			w.log.Warn().Str("channel", st.id).Str("ack_channel", ack.ChannelID).Msg("dropping ack for another channel")
			continue
		}
		c.acksReceived.Inc()
		w.queue.RequestPop(st.id, ack.BufferID)
		if _, ok := st.inflight[ack.BufferID]; ok {
			delete(st.inflight, ack.BufferID)
			c.buffersDelivered.Inc()
		}
	}
}

// resend re-offers in-flight buffers older than the timeout in id order.
// It stops at the first one the send feed has no room for.
func (w *DataWriter) resend(st *writeState, now time.Time) bool {
	timeout := time.Duration(w.cfg.InFlightTimeout)
	progress := false
	for _, id := range slices.Sorted(maps.Keys(st.inflight)) {
		f := st.inflight[id]
		if now.Sub(f.sentAt) < timeout {
			continue
		}
		if st.out.TrySend(f.buf) != nil {
			return progress
		}
		st.inflight[id] = inFlight{sentAt: now, buf: f.buf}
		c := w.metrics.slot(st.slot)
		c.buffersResent.Inc()
		c.bytesSent.Add(float64(len(f.buf)))
		w.log.Debug().Str("channel", st.id).Uint64("buffer_id", id).Msg("resending buffer")
		progress = true
	}
	return progress
}
