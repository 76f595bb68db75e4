// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package xfer provides reliable, ordered, deduplicated buffer transfer
// between a send-side [DataWriter] and a receive-side [DataReader] over
// an unreliable, reordering transport.
//
// Each channel is an independent ordered stream. The sender stamps every
// payload with a per-channel buffer id and keeps it until the receiver
// acknowledges it; the receiver delivers each id exactly once in id order
// and acknowledges every buffer it delivers or discards as redundant.
//
// # Architecture
//
//   - Send state: [BufferQueue] holds at most [MaxBuffersPerChannel] unacknowledged buffers per channel and evicts them only as an acknowledged prefix.
//   - Receive state: [DataReader] keeps a per-channel watermark and out-of-order map and publishes payloads to one bounded output stream.
//   - Transport: every handler exposes a send and a recv [Feed] per channel, lock-free bounded SPSC queues via [code.hybscloud.com/lfq]. Feeds return [code.hybscloud.com/iox.ErrWouldBlock] on backpressure.
//   - Wire format: buffers and [Ack] records are protobuf-wire records built with [google.golang.org/protobuf/encoding/protowire].
//
// # Integration
//
//   - Registration: [IOLoop] starts registered handlers and links every [LocalChannel] shared by a writer and a reader with an in-process [Link].
//   - External transports drive [IOHandler.SendFeed] and [IOHandler.RecvFeed] directly, for example for a [RemoteChannel].
//   - Configuration: [LoadConfig] reads TOML; [NewLogger] and [SetLogger] install a zerolog logger; [Metrics] exports prometheus counters.
//
// # Example
//
//	chs := []xfer.Channel{xfer.LocalChannel{ChannelID: "ch-0"}}
//	w := xfer.NewDataWriter("writer", "job", xfer.DefaultWriterConfig(), chs)
//	r := xfer.NewDataReader("reader", "job", xfer.DefaultReaderConfig(), chs)
//	loop := xfer.NewIOLoop("loop")
//	loop.Register(w)
//	loop.Register(r)
//	loop.Start()
//	defer loop.Close()
//	_ = w.Write(ctx, "ch-0", []byte("hello"))
//	for {
//		if p, ok := r.ReadBytes(); ok {
//			fmt.Println(string(p))
//			break
//		}
//	}
package xfer
