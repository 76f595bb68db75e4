// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xfer_test

import (
	"fmt"
	"testing"
	"time"

	"code.hybscloud.com/xfer"
	"github.com/prometheus/client_golang/prometheus"
)

// localChannels returns n local channels named ch-0 .. ch-(n-1).
func localChannels(n int) []xfer.Channel {
	chs := make([]xfer.Channel, n)
	for i := range chs {
		chs[i] = xfer.LocalChannel{ChannelID: fmt.Sprintf("ch-%d", i)}
	}
	return chs
}

// waitFor polls cond until it holds or five seconds pass.
func waitFor(tb testing.TB, what string, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			tb.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// mustSend retries TrySend until the feed accepts b.
func mustSend(tb testing.TB, f *xfer.Feed, b []byte) {
	tb.Helper()
	waitFor(tb, "feed room", func() bool { return f.TrySend(b) == nil })
}

// readN reads exactly n payloads from r.
func readN(tb testing.TB, r *xfer.DataReader, n int) [][]byte {
	tb.Helper()
	out := make([][]byte, 0, n)
	waitFor(tb, fmt.Sprintf("%d payloads", n), func() bool {
		for len(out) < n {
			p, ok := r.ReadBytes()
			if !ok {
				return false
			}
			out = append(out, p)
		}
		return true
	})
	return out
}

// collectAcks appends every ack currently on f to acks.
func collectAcks(tb testing.TB, f *xfer.Feed, acks []xfer.Ack) []xfer.Ack {
	tb.Helper()
	for {
		b, err := f.TryRecv()
		if err != nil {
			return acks
		}
		a, err := xfer.UnmarshalAck(b)
		if err != nil {
			tb.Fatalf("UnmarshalAck: %v", err)
		}
		acks = append(acks, a)
	}
}

// counter sums the xfer counter name over the series labeled with
// handler and channel.
func counter(tb testing.TB, name, handler, channel string) float64 {
	tb.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(xfer.Metrics())
	mfs, err := reg.Gather()
	if err != nil {
		tb.Fatalf("Gather: %v", err)
	}
	var sum float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			var h, c string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "handler":
					h = lp.GetValue()
				case "channel":
					c = lp.GetValue()
				}
			}
			if h == handler && c == channel {
				sum += m.GetCounter().GetValue()
			}
		}
	}
	return sum
}
