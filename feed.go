// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xfer

import (
	"code.hybscloud.com/lfq"
)

// defaultFeedCapacity is used when a config leaves the feed capacity unset.
const defaultFeedCapacity = 64

// Feed is a bounded byte-message conduit between a handler and the
// transport driving it. One goroutine sends and one goroutine receives.
// Both sides are non-blocking: TrySend and TryRecv return
// iox.ErrWouldBlock when the feed is full or empty.
type Feed struct {
	q lfq.SPSC[[]byte]
}

// NewFeed creates a feed holding at least capacity messages.
// A non-positive capacity selects the default.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = defaultFeedCapacity
	}
	f := &Feed{}
	f.q.Init(capacity)
	return f
}

// TrySend enqueues b. The receiver must treat b as read-only; a writer
// may offer the same buffer again.
func (f *Feed) TrySend(b []byte) error {
	return f.q.Enqueue(&b)
}

// TryRecv dequeues the oldest message.
func (f *Feed) TryRecv() ([]byte, error) {
	return f.q.Dequeue()
}
