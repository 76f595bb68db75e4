// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xfer

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxBuffersPerChannel caps the number of unacknowledged buffers a
// BufferQueue holds per channel.
const MaxBuffersPerChannel = 10

// Buffer field numbers. The frame is protobuf wire compatible; payload is
// always written last so it can be returned as a subslice.
const (
	bufferChannelField protowire.Number = 1
	bufferIDField      protowire.Number = 2
	bufferPayloadField protowire.Number = 3
)

// ErrMalformedBuffer reports a frame that does not decode as a Buffer.
var ErrMalformedBuffer = errors.New("xfer: malformed buffer")

// Buffer is one payload plus its transport metadata, in wire form.
type Buffer []byte

// stampBuffer encodes payload with its channel id and sequence number.
func stampBuffer(channelID string, id uint64, payload []byte) Buffer {
	n := protowire.SizeTag(bufferChannelField) + protowire.SizeBytes(len(channelID)) +
		protowire.SizeTag(bufferIDField) + protowire.SizeVarint(id) +
		protowire.SizeTag(bufferPayloadField) + protowire.SizeBytes(len(payload))
	b := make([]byte, 0, n)
	b = protowire.AppendTag(b, bufferChannelField, protowire.BytesType)
	b = protowire.AppendString(b, channelID)
	b = protowire.AppendTag(b, bufferIDField, protowire.VarintType)
	b = protowire.AppendVarint(b, id)
	b = protowire.AppendTag(b, bufferPayloadField, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b
}

// bufferMeta is the decoded view of a Buffer. payload aliases the frame.
type bufferMeta struct {
	channelID string
	id        uint64
	payload   []byte
}

func parseBuffer(b Buffer) (bufferMeta, error) {
	var m bufferMeta
	var seen uint8
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return bufferMeta{}, ErrMalformedBuffer
		}
		b = b[n:]
		switch {
		case num == bufferChannelField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return bufferMeta{}, ErrMalformedBuffer
			}
			m.channelID = string(v)
			seen |= 1
			b = b[n:]
		case num == bufferIDField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return bufferMeta{}, ErrMalformedBuffer
			}
			m.id = v
			seen |= 2
			b = b[n:]
		case num == bufferPayloadField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return bufferMeta{}, ErrMalformedBuffer
			}
			m.payload = v
			seen |= 4
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return bufferMeta{}, ErrMalformedBuffer
			}
			b = b[n:]
		}
	}
	if seen != 7 {
		return bufferMeta{}, ErrMalformedBuffer
	}
	return m, nil
}

// ID returns the buffer's per-channel sequence number.
func (b Buffer) ID() (uint64, error) {
	m, err := parseBuffer(b)
	return m.id, err
}

// ChannelID returns the id of the channel the buffer was stamped for.
func (b Buffer) ChannelID() (string, error) {
	m, err := parseBuffer(b)
	return m.channelID, err
}

// Payload returns the payload with metadata stripped. The result aliases b.
func (b Buffer) Payload() ([]byte, error) {
	m, err := parseBuffer(b)
	return m.payload, err
}
