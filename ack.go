// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xfer

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	ackChannelField  protowire.Number = 1
	ackBufferIDField protowire.Number = 2
)

// ErrMalformedAck reports bytes that do not decode as an Ack.
var ErrMalformedAck = errors.New("xfer: malformed ack")

// Ack acknowledges delivery of one buffer to the consumer side.
type Ack struct {
	ChannelID string
	BufferID  uint64
}

// Marshal encodes the ack in protobuf wire format.
func (a Ack) Marshal() []byte {
	n := protowire.SizeTag(ackChannelField) + protowire.SizeBytes(len(a.ChannelID)) +
		protowire.SizeTag(ackBufferIDField) + protowire.SizeVarint(a.BufferID)
	b := make([]byte, 0, n)
	b = protowire.AppendTag(b, ackChannelField, protowire.BytesType)
	b = protowire.AppendString(b, a.ChannelID)
	b = protowire.AppendTag(b, ackBufferIDField, protowire.VarintType)
	b = protowire.AppendVarint(b, a.BufferID)
	return b
}

// UnmarshalAck decodes an ack produced by Marshal. Unknown fields are
// skipped; both known fields are required.
func UnmarshalAck(b []byte) (Ack, error) {
	var a Ack
	var seen uint8
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Ack{}, ErrMalformedAck
		}
		b = b[n:]
		switch {
		case num == ackChannelField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Ack{}, ErrMalformedAck
			}
			a.ChannelID = string(v)
			seen |= 1
			b = b[n:]
		case num == ackBufferIDField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Ack{}, ErrMalformedAck
			}
			a.BufferID = v
			seen |= 2
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Ack{}, ErrMalformedAck
			}
			b = b[n:]
		}
	}
	if seen != 3 {
		return Ack{}, ErrMalformedAck
	}
	return a, nil
}
