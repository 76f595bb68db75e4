// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xfer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.hybscloud.com/xfer"
)

// takeFrames reads n buffers off f and returns their ids.
func takeFrames(t *testing.T, f *xfer.Feed, n int) []uint64 {
	t.Helper()
	ids := make([]uint64, 0, n)
	waitFor(t, "frames", func() bool {
		for len(ids) < n {
			b, err := f.TryRecv()
			if err != nil {
				return false
			}
			id, err := xfer.Buffer(b).ID()
			if err != nil {
				t.Fatalf("ID: %v", err)
			}
			ids = append(ids, id)
		}
		return true
	})
	return ids
}

func ack(t *testing.T, w *xfer.DataWriter, ch xfer.Channel, id uint64) {
	t.Helper()
	mustSend(t, w.RecvFeed(ch), xfer.Ack{ChannelID: ch.ID(), BufferID: id}.Marshal())
}

func TestWriterSendsAndRetires(t *testing.T) {
	skipRace(t)
	chs := localChannels(1)
	w := xfer.NewDataWriter(t.Name(), "test", xfer.DefaultWriterConfig(), chs)
	w.Start()
	t.Cleanup(w.Close)

	for _, s := range []string{"a", "b", "c"} {
		if !w.TryWrite("ch-0", []byte(s)) {
			t.Fatalf("TryWrite(%s) rejected", s)
		}
	}
	ids := takeFrames(t, w.SendFeed(chs[0]), 3)
	for i, id := range ids {
		if id != uint64(i) {
			t.Fatalf("frame %d has id %d", i, id)
		}
	}
	waitFor(t, "3 in flight", func() bool { return w.InFlight("ch-0") == 3 })

	ack(t, w, chs[0], 1)
	ack(t, w, chs[0], 0)
	waitFor(t, "prefix evicted", func() bool { return w.Len("ch-0") == 1 && w.InFlight("ch-0") == 1 })
	ack(t, w, chs[0], 2)
	waitFor(t, "queue empty", func() bool { return w.Len("ch-0") == 0 && w.InFlight("ch-0") == 0 })

	if got := counter(t, "xfer_buffers_delivered_total", t.Name(), "ch-0"); got != 3 {
		t.Fatalf("delivered counter got %v, want 3", got)
	}
}

func TestWriterResendsAfterTimeout(t *testing.T) {
	skipRace(t)
	chs := localChannels(1)
	cfg := xfer.DefaultWriterConfig()
	cfg.InFlightTimeout = xfer.Duration(20 * time.Millisecond)
	w := xfer.NewDataWriter(t.Name(), "test", cfg, chs)
	w.Start()
	t.Cleanup(w.Close)

	w.TryWrite("ch-0", []byte("lost"))
	out := w.SendFeed(chs[0])
	first := takeFrames(t, out, 1)
	again := takeFrames(t, out, 1)
	if first[0] != 0 || again[0] != 0 {
		t.Fatalf("ids got %d and %d, want 0 twice", first[0], again[0])
	}
	ack(t, w, chs[0], 0)
	waitFor(t, "queue empty", func() bool { return w.Len("ch-0") == 0 })
	if got := counter(t, "xfer_buffers_resent_total", t.Name(), "ch-0"); got < 1 {
		t.Fatalf("resent counter got %v, want at least 1", got)
	}
}

func TestWriterHoldsWhenFeedFull(t *testing.T) {
	skipRace(t)
	chs := localChannels(1)
	cfg := xfer.DefaultWriterConfig()
	cfg.FeedCapacity = 2
	cfg.InFlightTimeout = xfer.Duration(time.Hour)
	w := xfer.NewDataWriter(t.Name(), "test", cfg, chs)
	w.Start()
	t.Cleanup(w.Close)

	for range xfer.MaxBuffersPerChannel {
		w.TryWrite("ch-0", nil)
	}
	ids := takeFrames(t, w.SendFeed(chs[0]), xfer.MaxBuffersPerChannel)
	for i, id := range ids {
		if id != uint64(i) {
			t.Fatalf("frame %d has id %d", i, id)
		}
	}
}

func TestWriterDropsMalformedAcks(t *testing.T) {
	skipRace(t)
	chs := localChannels(2)
	w := xfer.NewDataWriter(t.Name(), "test", xfer.DefaultWriterConfig(), chs)
	w.Start()
	t.Cleanup(w.Close)

	w.TryWrite("ch-0", nil)
	takeFrames(t, w.SendFeed(chs[0]), 1)
	mustSend(t, w.RecvFeed(chs[0]), []byte{0x80})
	mustSend(t, w.RecvFeed(chs[0]), xfer.Ack{ChannelID: "ch-1", BufferID: 0}.Marshal())
	waitFor(t, "malformed acks counted", func() bool {
		return counter(t, "xfer_malformed_total", t.Name(), "ch-0") == 2
	})
	if got := w.Len("ch-0"); got != 1 {
		t.Fatalf("Len got %d, want 1", got)
	}
}

func TestWriterWriteHonorsContext(t *testing.T) {
	w := xfer.NewDataWriter(t.Name(), "test", xfer.WriterConfig{}, localChannels(1))
	for range xfer.MaxBuffersPerChannel {
		if err := w.Write(context.Background(), "ch-0", nil); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := w.Write(ctx, "ch-0", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Write on full channel got %v, want DeadlineExceeded", err)
	}
}

func TestWriterWriteUnblocksOnAck(t *testing.T) {
	skipRace(t)
	chs := localChannels(1)
	w := xfer.NewDataWriter(t.Name(), "test", xfer.DefaultWriterConfig(), chs)
	w.Start()
	t.Cleanup(w.Close)
	for range xfer.MaxBuffersPerChannel {
		w.TryWrite("ch-0", nil)
	}
	takeFrames(t, w.SendFeed(chs[0]), 1)

	done := make(chan error, 1)
	go func() { done <- w.Write(context.Background(), "ch-0", []byte("late")) }()
	ack(t, w, chs[0], 0)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Write did not return after ack")
	}
}

func TestWriterInvalidConfigPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("negative in-flight timeout accepted")
		}
	}()
	xfer.NewDataWriter(t.Name(), "test", xfer.WriterConfig{InFlightTimeout: -1}, localChannels(1))
}
