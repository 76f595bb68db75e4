// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xfer

import (
	"sync"

	"code.hybscloud.com/iox"
)

// outputStream is the bounded FIFO shared by every channel of a
// DataReader. Capacity is exact.
type outputStream struct {
	mu   sync.Mutex
	buf  [][]byte
	head int
	n    int
}

func (o *outputStream) init(capacity int) {
	o.buf = make([][]byte, capacity)
}

func (o *outputStream) push(b []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.n == len(o.buf) {
		return false
	}
	o.buf[(o.head+o.n)%len(o.buf)] = b
	o.n++
	return true
}

func (o *outputStream) pop() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.n == 0 {
		return nil, false
	}
	b := o.buf[o.head]
	o.buf[o.head] = nil
	o.head = (o.head + 1) % len(o.buf)
	o.n--
	return b, true
}

// recvState is the per-channel receive side. watermark, pending and
// backlog are written only by the dispatcher goroutine; mu lets
// diagnostics read them consistently.
type recvState struct {
	mu   sync.Mutex
	id   string
	slot int
	in   *Feed
	out  *Feed

	// watermark is the highest id delivered with all lower ids, or -1.
	watermark int64
	// pending holds payloads received ahead of the watermark.
	pending map[uint64][]byte
	// backlog holds encoded acks the send feed had no room for.
	backlog [][]byte
}

// DataReader receives buffers on every owned channel, discards
// duplicates, restores per-channel order and publishes payloads to a
// single bounded output stream read with ReadBytes. Every delivered or
// redundant buffer is acknowledged on the channel's send feed.
//
// One dispatcher goroutine, started by Start, owns all receive state.
type DataReader struct {
	handlerBase
	cfg    ReaderConfig
	states []recvState
	output outputStream
}

// NewDataReader creates a reader for channels. Zero config fields take
// their defaults; a config that is still invalid panics.
func NewDataReader(name, job string, cfg ReaderConfig, channels []Channel) *DataReader {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		panic(err.Error())
	}
	r := &DataReader{
		cfg:    cfg,
		states: make([]recvState, len(channels)),
	}
	r.setup(name, job, KindDataReader, channels)
	r.output.init(cfg.OutputQueueSize)
	for i, ch := range channels {
		st := &r.states[i]
		st.id = ch.ID()
		st.slot = i
		st.in = NewFeed(cfg.FeedCapacity)
		st.out = NewFeed(cfg.FeedCapacity)
		st.watermark = -1
		st.pending = make(map[uint64][]byte)
	}
	return r
}

func (c ReaderConfig) withDefaults() ReaderConfig {
	if c.OutputQueueSize == 0 {
		c.OutputQueueSize = defaultOutputQueueSize
	}
	if c.FeedCapacity == 0 {
		c.FeedCapacity = defaultFeedCapacity
	}
	if c.MaxOutOfOrder == 0 {
		c.MaxOutOfOrder = defaultMaxOutOfOrder
	}
	return c
}

func (r *DataReader) state(channelID string) *recvState {
	return &r.states[r.slots.lookup(channelID)]
}

// SendFeed returns the feed acks for ch are written to.
func (r *DataReader) SendFeed(ch Channel) *Feed {
	return r.state(ch.ID()).out
}

// RecvFeed returns the feed the transport delivers ch's buffers to.
func (r *DataReader) RecvFeed(ch Channel) *Feed {
	return r.state(ch.ID()).in
}

// ReadBytes pops the oldest delivered payload. It never blocks;
// false means the output stream is empty.
func (r *DataReader) ReadBytes() ([]byte, bool) {
	return r.output.pop()
}

// Watermark returns the highest buffer id delivered on the channel
// together with all lower ids, or -1 before the first delivery.
func (r *DataReader) Watermark(channelID string) int64 {
	st := r.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.watermark
}

// Pending returns how many buffers the channel holds ahead of its
// watermark.
func (r *DataReader) Pending(channelID string) int {
	st := r.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.pending)
}

// Start launches the dispatcher goroutine. Calling Start on a running
// reader does nothing.
func (r *DataReader) Start() {
	r.start(r.dispatch)
}

// Close stops the dispatcher after its current sweep, waits for it to
// exit and flushes metrics.
func (r *DataReader) Close() {
	r.stop()
}

// dispatch sweeps every channel until the running flag is cleared.
// The flag is checked once per sweep. Sweeps that move nothing back off.
func (r *DataReader) dispatch() {
	var bo iox.Backoff
	for r.isRunning() {
		progress := false
		for i := range r.states {
			if r.sweep(&r.states[i]) {
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

// sweep flushes queued acks, drains contiguous pending payloads freed up
// by the consumer, then takes at most one buffer off the recv feed.
func (r *DataReader) sweep(st *recvState) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	progress := r.flushAcks(st)
	if r.drain(st) {
		progress = true
	}
	b, err := st.in.TryRecv()
	if err != nil {
		return progress
	}
	r.accept(st, b)
	return true
}

func (r *DataReader) accept(st *recvState, b []byte) {
	c := r.metrics.slot(st.slot)
	c.buffersReceived.Inc()
	c.bytesReceived.Add(float64(len(b)))

	m, err := parseBuffer(b)
	if err != nil {
		c.malformed.Inc()
		r.log.Warn().Err(err).Str("channel", st.id).Int("size", len(b)).Msg("dropping frame")
		return
	}
	if m.channelID != st.id {
		c.malformed.Inc()
		r.log.Warn().Str("channel", st.id).Str("frame_channel", m.channelID).Msg("dropping frame for another channel")
		return
	}

	if st.watermark >= 0 && m.id <= uint64(st.watermark) {
		// Stale: the peer most likely missed the earlier ack.
		c.duplicates.Inc()
		r.log.Trace().Str("channel", st.id).Uint64("buffer_id", m.id).Msg("stale buffer")
		r.emitAck(st, m.id)
		return
	}
	if _, ok := st.pending[m.id]; ok {
		c.duplicates.Inc()
		r.log.Trace().Str("channel", st.id).Uint64("buffer_id", m.id).Msg("duplicate pending buffer")
		r.emitAck(st, m.id)
		return
	}
	if len(st.pending) >= r.cfg.MaxOutOfOrder && m.id != uint64(st.watermark+1) {
		// Unacknowledged, so the writer offers it again later.
		c.overflow.Inc()
		r.log.Debug().Str("channel", st.id).Uint64("buffer_id", m.id).Int("pending", len(st.pending)).Msg("out of order limit reached")
		return
	}
	st.pending[m.id] = m.payload
	r.drain(st)
}

// drain moves the contiguous run after the watermark to the output
// stream, acknowledging each payload, and stops when the stream is full.
func (r *DataReader) drain(st *recvState) bool {
	moved := false
	for {
		next := uint64(st.watermark + 1)
		p, ok := st.pending[next]
		if !ok {
			return moved
		}
		if !r.output.push(p) {
			return moved
		}
		delete(st.pending, next)
		st.watermark++
		r.metrics.slot(st.slot).buffersDelivered.Inc()
		r.emitAck(st, next)
		moved = true
	}
}

// emitAck writes an ack for id onto the channel's send feed, behind any
// acks already waiting for room.
func (r *DataReader) emitAck(st *recvState, id uint64) {
	c := r.metrics.slot(st.slot)
	c.acksSent.Inc()
	b := Ack{ChannelID: st.id, BufferID: id}.Marshal()
	if len(st.backlog) == 0 {
		if err := st.out.TrySend(b); err == nil {
			c.bytesSent.Add(float64(len(b)))
			return
		}
	}
	st.backlog = append(st.backlog, b)
}

func (r *DataReader) flushAcks(st *recvState) bool {
	flushed := false
	for len(st.backlog) > 0 {
		b := st.backlog[0]
		if err := st.out.TrySend(b); err != nil {
			break
		}
		r.metrics.slot(st.slot).bytesSent.Add(float64(len(b)))
		st.backlog[0] = nil
		st.backlog = st.backlog[1:]
		flushed = true
	}
	return flushed
}
