// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xfer

import (
	"sync"
)

// sendState is the per-channel send side. All fields are guarded by mu.
type sendState struct {
	mu      sync.Mutex
	id      string
	queue   []Buffer
	ids     []uint64
	cursor  int
	nextID  uint64
	evicted uint64
	acked   map[uint64]struct{}
}

// BufferQueue holds unacknowledged buffers per channel, assigns sequence
// numbers, exposes a retransmission cursor and evicts acknowledged
// buffers strictly as a contiguous prefix.
//
// The channel set is fixed at construction. Operations on different
// channels never contend; a channel id the queue was not built with
// panics.
type BufferQueue struct {
	slots  slots
	states []sendState
}

// NewBufferQueue creates a queue for channels.
func NewBufferQueue(channels []Channel) *BufferQueue {
	q := &BufferQueue{
		slots:  newSlots(channels),
		states: make([]sendState, len(channels)),
	}
	for i, ch := range channels {
		st := &q.states[i]
		st.id = ch.ID()
		st.queue = make([]Buffer, 0, MaxBuffersPerChannel)
		st.ids = make([]uint64, 0, MaxBuffersPerChannel)
		st.acked = make(map[uint64]struct{}, MaxBuffersPerChannel)
	}
	return q
}

func (q *BufferQueue) state(channelID string) *sendState {
	return &q.states[q.slots.lookup(channelID)]
}

// TryPush stamps payload with the channel's next buffer id and appends it.
// Returns false without queuing when the channel already holds
// MaxBuffersPerChannel buffers.
func (q *BufferQueue) TryPush(channelID string, payload []byte) bool {
	st := q.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.queue) == MaxBuffersPerChannel {
		return false
	}
	id := st.nextID
	st.nextID++
	st.queue = append(st.queue, stampBuffer(st.id, id, payload))
	st.ids = append(st.ids, id)
	return true
}

// ScheduleNext returns the buffer at the schedule cursor without removing
// it and advances the cursor. Returns false when every queued buffer has
// been offered since the last eviction.
func (q *BufferQueue) ScheduleNext(channelID string) (Buffer, bool) {
	st := q.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cursor >= len(st.queue) {
		return nil, false
	}
	b := st.queue[st.cursor]
	st.cursor++
	return b, true
}

// RequestPop records bufferID as acknowledged, then evicts the longest
// acknowledged prefix of the queue. An ack for a buffer behind an
// unacknowledged one is kept until its predecessors are acknowledged.
// Acks for ids already evicted or never issued are ignored.
func (q *BufferQueue) RequestPop(channelID string, bufferID uint64) {
	st := q.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if bufferID < st.evicted || bufferID >= st.nextID {
		return
	}
	st.acked[bufferID] = struct{}{}
	n := 0
	for n < len(st.ids) {
		id := st.ids[n]
		if _, ok := st.acked[id]; !ok {
			break
		}
		delete(st.acked, id)
		st.queue[n] = nil
		n++
	}
	if n == 0 {
		return
	}
	st.queue = append(st.queue[:0], st.queue[n:]...)
	st.ids = append(st.ids[:0], st.ids[n:]...)
	st.evicted += uint64(n)
	st.cursor = max(st.cursor-n, 0)
}

// Len returns the number of buffers queued on the channel.
func (q *BufferQueue) Len(channelID string) int {
	st := q.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.queue)
}
