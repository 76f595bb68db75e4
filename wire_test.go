// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xfer_test

import (
	"bytes"
	"errors"
	"testing"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/xfer"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestBufferMetadata(t *testing.T) {
	b := xfer.StampBuffer("ch-7", 1<<40, []byte("payload"))
	id, err := b.ID()
	if err != nil || id != 1<<40 {
		t.Fatalf("ID got %d, %v", id, err)
	}
	ch, err := b.ChannelID()
	if err != nil || ch != "ch-7" {
		t.Fatalf("ChannelID got %q, %v", ch, err)
	}
	p, err := b.Payload()
	if err != nil || !bytes.Equal(p, []byte("payload")) {
		t.Fatalf("Payload got %q, %v", p, err)
	}
}

func TestBufferEmptyPayload(t *testing.T) {
	p, err := xfer.StampBuffer("ch-0", 0, nil).Payload()
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	if len(p) != 0 {
		t.Fatalf("Payload got %q, want empty", p)
	}
}

func TestBufferMalformed(t *testing.T) {
	full := xfer.StampBuffer("ch-0", 3, []byte("abc"))
	cases := map[string]xfer.Buffer{
		"empty":     nil,
		"garbage":   {0xff, 0xff, 0xff},
		"truncated": full[:len(full)-1],
		"no-payload": protowire.AppendVarint(
			protowire.AppendTag(protowire.AppendString(
				protowire.AppendTag(nil, 1, protowire.BytesType), "ch-0"),
				2, protowire.VarintType), 3),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := b.ID(); !errors.Is(err, xfer.ErrMalformedBuffer) {
				t.Fatalf("ID error got %v, want ErrMalformedBuffer", err)
			}
		})
	}
}

func TestAckSkipsUnknownFields(t *testing.T) {
	b := xfer.Ack{ChannelID: "ch-1", BufferID: 42}.Marshal()
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	a, err := xfer.UnmarshalAck(b)
	if err != nil {
		t.Fatalf("UnmarshalAck: %v", err)
	}
	if a != (xfer.Ack{ChannelID: "ch-1", BufferID: 42}) {
		t.Fatalf("got %+v", a)
	}
}

func TestAckMalformed(t *testing.T) {
	onlyID := protowire.AppendVarint(protowire.AppendTag(nil, 2, protowire.VarintType), 1)
	for _, b := range [][]byte{nil, {0x80}, onlyID} {
		if _, err := xfer.UnmarshalAck(b); !errors.Is(err, xfer.ErrMalformedAck) {
			t.Fatalf("UnmarshalAck(%x) error got %v, want ErrMalformedAck", b, err)
		}
	}
}

func TestFeedFIFO(t *testing.T) {
	f := xfer.NewFeed(4)
	if _, err := f.TryRecv(); !errors.Is(err, iox.ErrWouldBlock) {
		t.Fatalf("TryRecv on empty feed got %v, want ErrWouldBlock", err)
	}
	for _, s := range []string{"a", "b", "c"} {
		if err := f.TrySend([]byte(s)); err != nil {
			t.Fatalf("TrySend(%s): %v", s, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		b, err := f.TryRecv()
		if err != nil || string(b) != want {
			t.Fatalf("TryRecv got %q, %v, want %q", b, err, want)
		}
	}
}

func TestFeedFull(t *testing.T) {
	f := xfer.NewFeed(2)
	var err error
	for n := 0; n < 1<<12; n++ {
		if err = f.TrySend([]byte{1}); err != nil {
			break
		}
	}
	if !iox.IsWouldBlock(err) {
		t.Fatalf("TrySend on full feed got %v, want ErrWouldBlock", err)
	}
}
