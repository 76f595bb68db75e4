// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xfer

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// IOLoop registers handlers, starts them together and wires an in-process
// Link for every LocalChannel owned by both a registered DataWriter and a
// registered DataReader. RemoteChannels are left to an external transport
// driving the handlers' feeds.
type IOLoop struct {
	name string
	opts []LinkOption
	log  zerolog.Logger

	mu       sync.Mutex
	handlers []IOHandler
	links    []*Link
	started  bool
}

// NewIOLoop creates a loop. opts apply to every Link it builds.
func NewIOLoop(name string, opts ...LinkOption) *IOLoop {
	return &IOLoop{
		name: name,
		opts: opts,
		log:  baseLogger().With().Str("loop", name).Logger(),
	}
}

// Register adds h. Handlers registered after Start are started but not
// linked.
func (l *IOLoop) Register(h IOHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
	l.log.Debug().Str("handler", h.Name()).Str("kind", h.Kind().String()).Msg("registered")
	if l.started {
		h.Start()
	}
}

// Handlers returns the registered handlers in registration order.
func (l *IOLoop) Handlers() []IOHandler {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]IOHandler(nil), l.handlers...)
}

// Start builds the local links, then starts every registered handler and
// every link. A local channel owned by more than one writer or by more
// than one reader panics before anything starts. Calling Start twice does nothing.
func (l *IOLoop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	links := l.buildLinks()
	for _, h := range l.handlers {
		h.Start()
	}
	l.links = links
	for _, lk := range l.links {
		lk.Start()
	}
	l.started = true
	l.log.Info().Int("handlers", len(l.handlers)).Int("links", len(l.links)).Msg("io loop started")
}

type linkEnds struct {
	writer, reader IOHandler
}

func (l *IOLoop) buildLinks() []*Link {
	writers := make(map[string]IOHandler)
	readers := make(map[string]IOHandler)
	seen := make(map[string]struct{})
	var order []Channel
	for _, h := range l.handlers {
		var owners map[string]IOHandler
		switch h.Kind() {
		case KindDataWriter:
			owners = writers
		case KindDataReader:
			owners = readers
		default:
			continue
		}
		for _, ch := range h.Channels() {
			if rc, ok := ch.(RemoteChannel); ok {
				l.log.Warn().Str("handler", h.Name()).Str("channel", rc.ChannelID).
					Str("target", fmt.Sprintf("%s:%d", rc.TargetNodeIP, rc.Port)).
					Msg("remote channel needs an external transport")
				continue
			}
			if prev, ok := owners[ch.ID()]; ok {
				panic(fmt.Sprintf("xfer: channel %s owned by both %s and %s", ch.ID(), prev.Name(), h.Name()))
			}
			owners[ch.ID()] = h
			if _, ok := seen[ch.ID()]; !ok {
				seen[ch.ID()] = struct{}{}
				order = append(order, ch)
			}
		}
	}

	grouped := make(map[linkEnds][]Channel)
	var keys []linkEnds
	for _, ch := range order {
		w, okW := writers[ch.ID()]
		r, okR := readers[ch.ID()]
		if !okW || !okR {
			continue
		}
		k := linkEnds{writer: w, reader: r}
		if _, ok := grouped[k]; !ok {
			keys = append(keys, k)
		}
		grouped[k] = append(grouped[k], ch)
	}
	for _, ch := range order {
		_, okW := writers[ch.ID()]
		_, okR := readers[ch.ID()]
		if okW != okR {
			l.log.Warn().Str("channel", ch.ID()).Msg("local channel has no peer handler")
		}
	}

	links := make([]*Link, 0, len(keys))
	for _, k := range keys {
		name := k.writer.Name() + "->" + k.reader.Name()
		links = append(links, NewLink(name, k.writer, k.reader, grouped[k], l.opts...))
	}
	return links
}

// Close stops every link, then every handler. The loop can be started
// again afterwards.
func (l *IOLoop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return
	}
	for _, lk := range l.links {
		lk.Close()
	}
	l.links = nil
	for _, h := range l.handlers {
		h.Close()
	}
	l.started = false
	l.log.Info().Msg("io loop stopped")
}
