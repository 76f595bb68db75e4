// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xfer

import (
	"bytes"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// linkDispatcher is implemented by every effect a hop performs.
// dispatchLink never blocks: it returns iox.ErrWouldBlock when the feed
// cannot make progress and the suspension is retried on a later pump.
type linkDispatcher interface {
	dispatchLink() (kont.Resumed, error)
}

// take is the effect operation that dequeues one frame from src.
type take struct {
	kont.Phantom[[]byte]
	src *Feed
}

func (t take) dispatchLink() (kont.Resumed, error) {
	b, err := t.src.TryRecv()
	if err != nil {
		return nil, err
	}
	return b, nil
}

// put is the effect operation that enqueues one frame onto dst.
type put struct {
	kont.Phantom[struct{}]
	dst *Feed
	b   []byte
}

func (p put) dispatchLink() (kont.Resumed, error) {
	if err := p.dst.TrySend(p.b); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

// hopResult is what one completed hop moved.
type hopResult struct {
	size    int
	dropped bool
}

// hopProtocol takes one frame from src and puts a copy onto dst, unless
// lose discards it first.
func hopProtocol(src, dst *Feed, lose func([]byte) bool) kont.Expr[hopResult] {
	return kont.Reify(kont.Bind(kont.Perform(take{src: src}), func(b []byte) kont.Eff[hopResult] {
		if lose != nil && lose(b) {
			return kont.Pure(hopResult{size: len(b), dropped: true})
		}
		return kont.Then(kont.Perform(put{dst: dst, b: bytes.Clone(b)}), kont.Pure(hopResult{size: len(b)}))
	}))
}

// hop is one direction of one channel. susp is the pending protocol
// step; nil means a fresh protocol starts on the next pump.
type hop struct {
	slot int
	data bool
	src  *Feed
	dst  *Feed
	susp *kont.Suspension[hopResult]
}

// LinkOption configures a Link or every Link an IOLoop builds.
type LinkOption func(*linkOptions)

type linkOptions struct {
	job  string
	lose func([]byte) bool
}

// WithJob sets the job label a link logs and records metrics under.
func WithJob(job string) LinkOption {
	return func(o *linkOptions) { o.job = job }
}

// WithLoss makes the link discard every frame for which lose returns
// true, in both directions. lose is called from the pump goroutine only.
func WithLoss(lose func([]byte) bool) LinkOption {
	return func(o *linkOptions) { o.lose = lose }
}

// Link is an in-process transport between a DataWriter and a DataReader
// sharing local channels. Per channel it moves buffers from the writer's
// send feed to the reader's recv feed and acks from the reader's send
// feed to the writer's recv feed. Each frame is copied across.
type Link struct {
	handlerBase
	lose func([]byte) bool
	hops []hop
}

// NewLink creates a link for channels between writer and reader. Both
// handlers must own every channel.
func NewLink(name string, writer, reader IOHandler, channels []Channel, opts ...LinkOption) *Link {
	o := linkOptions{job: "xfer"}
	for _, opt := range opts {
		opt(&o)
	}
	l := &Link{
		lose: o.lose,
		hops: make([]hop, 0, 2*len(channels)),
	}
	l.setup(name, o.job, KindTransferSender, channels)
	for i, ch := range channels {
		l.hops = append(l.hops,
			hop{slot: i, data: true, src: writer.SendFeed(ch), dst: reader.RecvFeed(ch)},
			hop{slot: i, src: reader.SendFeed(ch), dst: writer.RecvFeed(ch)},
		)
	}
	return l
}

// Start launches the pump goroutine. Calling Start on a running link
// does nothing.
func (l *Link) Start() {
	l.start(l.pump)
}

// Close stops the pump and waits for it to exit. A frame taken but not
// yet put is lost, as on a real wire.
func (l *Link) Close() {
	l.stop()
}

func (l *Link) pump() {
	var bo iox.Backoff
	for l.isRunning() {
		progress := false
		for i := range l.hops {
			if l.advance(&l.hops[i]) {
				progress = true
			}
		}
		if progress {
			bo.Reset()
		} else {
			bo.Wait()
		}
	}
	for i := range l.hops {
		if h := &l.hops[i]; h.susp != nil {
			h.susp.Discard()
			h.susp = nil
		}
	}
}

// advance steps h until it completes one frame or would block.
func (l *Link) advance(h *hop) bool {
	if h.susp == nil {
		r, susp := kont.StepExpr(hopProtocol(h.src, h.dst, l.lose))
		if susp == nil {
			l.record(h, r)
			return true
		}
		h.susp = susp
	}
	progress := false
	for h.susp != nil {
		op, ok := h.susp.Op().(linkDispatcher)
		if !ok {
			panic("xfer: unhandled effect in link")
		}
		v, err := op.dispatchLink()
		if err != nil {
			return progress
		}
		r, next := h.susp.Resume(v)
		h.susp = next
		progress = true
		if next == nil {
			l.record(h, r)
		}
	}
	return progress
}

func (l *Link) record(h *hop, r hopResult) {
	c := l.metrics.slot(h.slot)
	if r.dropped {
		c.linkDropped.Inc()
		l.log.Trace().Str("channel", l.channels[h.slot].ID()).Bool("data", h.data).Msg("frame dropped")
		return
	}
	if h.data {
		c.buffersSent.Inc()
	} else {
		c.acksSent.Inc()
	}
	c.bytesSent.Add(float64(r.size))
}
