// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xfer

import (
	"slices"
	"sync"

	"code.hybscloud.com/atomix"
	"github.com/rs/zerolog"
)

// HandlerKind identifies the role of an IOHandler.
type HandlerKind uint8

const (
	KindDataReader HandlerKind = iota
	KindDataWriter
	KindTransferSender
	KindTransferReceiver
)

func (k HandlerKind) String() string {
	switch k {
	case KindDataReader:
		return "data_reader"
	case KindDataWriter:
		return "data_writer"
	case KindTransferSender:
		return "transfer_sender"
	case KindTransferReceiver:
		return "transfer_receiver"
	default:
		return "unknown"
	}
}

// IOHandler is the lifecycle and registration contract an IOLoop uses to
// manage handlers uniformly.
//
// SendFeed carries bytes the handler emits on a channel; RecvFeed carries
// bytes the transport delivers to it. Start is idempotent. Close stops
// the handler's goroutine after its in-flight sweep and returns once it
// has exited.
type IOHandler interface {
	Name() string
	Kind() HandlerKind
	Channels() []Channel
	SendFeed(ch Channel) *Feed
	RecvFeed(ch Channel) *Feed
	Start()
	Close()
}

// Serial is a monotonically increasing instance identifier.
// Each handler and link is assigned the next value at construction.
type Serial = uint32

var serialCounter atomix.Uint32

func nextSerial() Serial {
	return serialCounter.Add(1)
}

// handlerBase carries the identity, channel registry and lifecycle shared
// by DataReader and DataWriter.
type handlerBase struct {
	name     string
	job      string
	kind     HandlerKind
	serial   Serial
	channels []Channel
	slots    slots
	log      zerolog.Logger
	metrics  *metricsRecorder

	// running is checked once per sweep by the dispatcher goroutine.
	running atomix.Uint32
	// lifecycle serializes Start and Close.
	lifecycle sync.Mutex
	done      chan struct{}
}

func (h *handlerBase) setup(name, job string, kind HandlerKind, channels []Channel) {
	h.name = name
	h.job = job
	h.kind = kind
	h.serial = nextSerial()
	h.channels = slices.Clone(channels)
	h.slots = newSlots(channels)
	h.log = baseLogger().With().
		Str("handler", name).
		Str("kind", kind.String()).
		Str("job", job).
		Uint32("serial", h.serial).
		Logger()
	h.metrics = newMetricsRecorder(job, name, kind, channels)
}

// Name returns the handler name.
func (h *handlerBase) Name() string { return h.name }

// Kind returns the handler kind.
func (h *handlerBase) Kind() HandlerKind { return h.kind }

// Serial returns the instance serial assigned at construction.
func (h *handlerBase) Serial() Serial { return h.serial }

// Channels returns the channels in construction order.
func (h *handlerBase) Channels() []Channel { return slices.Clone(h.channels) }

// start spawns sweep in a goroutine unless one is already running.
func (h *handlerBase) start(sweep func()) {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	if h.done != nil {
		return
	}
	h.running.Store(1)
	done := make(chan struct{})
	h.done = done
	go func() {
		defer close(done)
		sweep()
	}()
	h.log.Info().Int("channels", len(h.channels)).Msg("dispatcher started")
}

// stop clears the running flag and waits for the dispatcher goroutine to
// finish its in-flight sweep. Metrics are flushed once it has exited.
func (h *handlerBase) stop() {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	if h.done == nil {
		return
	}
	h.running.Store(0)
	<-h.done
	h.done = nil
	h.metrics.flush(h.log)
	h.log.Info().Msg("dispatcher stopped")
}

func (h *handlerBase) isRunning() bool {
	return h.running.Load() != 0
}
