// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xfer

// Channel is the immutable identity of one logical point-to-point link.
// ID is the join key for every per-channel structure.
type Channel interface {
	ID() string
	channel()
}

// LocalChannel connects two handlers on the same node.
type LocalChannel struct {
	ChannelID string
	IPCAddr   string
}

// ID returns the channel id.
func (c LocalChannel) ID() string { return c.ChannelID }

func (LocalChannel) channel() {}

// RemoteChannel connects handlers on different nodes. Each side attaches
// to its own local address; the transport between nodes is external.
type RemoteChannel struct {
	ChannelID          string
	SourceLocalIPCAddr string
	SourceNodeIP       string
	SourceNodeID       string
	TargetLocalIPCAddr string
	TargetNodeIP       string
	TargetNodeID       string
	Port               int
}

// ID returns the channel id.
func (c RemoteChannel) ID() string { return c.ChannelID }

func (RemoteChannel) channel() {}

// slots maps channel ids to registry slots. Built once at construction
// and read without locking afterwards.
type slots map[string]int

// newSlots assigns slots in channel order. Duplicate ids are a
// construction error.
func newSlots(channels []Channel) slots {
	s := make(slots, len(channels))
	for i, ch := range channels {
		id := ch.ID()
		if _, dup := s[id]; dup {
			panic("xfer: duplicate channel " + id)
		}
		s[id] = i
	}
	return s
}

// lookup returns the slot for id. An unknown id means the caller is
// using a channel the structure was never built with.
func (s slots) lookup(id string) int {
	i, ok := s[id]
	if !ok {
		panic("xfer: unregistered channel " + id)
	}
	return i
}
