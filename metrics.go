// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xfer

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
)

var metricLabels = []string{"job", "handler", "kind", "channel"}

func newCounter(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xfer",
			Name:      name,
			Help:      help,
		},
		metricLabels,
	)
}

var (
	buffersSent      = newCounter("buffers_sent_total", "Buffers offered to the transport for the first time.")
	buffersResent    = newCounter("buffers_resent_total", "Buffers offered again after the in-flight timeout.")
	buffersReceived  = newCounter("buffers_received_total", "Buffers taken off a recv feed.")
	buffersDelivered = newCounter("buffers_delivered_total", "Buffers delivered in order (reader) or confirmed by ack (writer).")
	bytesSent        = newCounter("bytes_sent_total", "Bytes written onto send feeds.")
	bytesReceived    = newCounter("bytes_received_total", "Bytes taken off recv feeds.")
	acksSent         = newCounter("acks_sent_total", "Acks emitted, including re-emitted acks for redundant buffers.")
	acksReceived     = newCounter("acks_received_total", "Acks decoded from a recv feed.")
	duplicates       = newCounter("duplicates_total", "Stale or already pending buffers discarded.")
	malformed        = newCounter("malformed_total", "Frames that failed to decode and were dropped.")
	overflow         = newCounter("overflow_total", "Buffers dropped unacknowledged because the out-of-order limit was reached.")
	linkDropped      = newCounter("link_dropped_total", "Frames a link discarded through its loss function.")

	collectors = []*prometheus.CounterVec{
		buffersSent, buffersResent, buffersReceived, buffersDelivered,
		bytesSent, bytesReceived, acksSent, acksReceived, duplicates, malformed, overflow, linkDropped,
	}
)

type metricsCollector struct{}

// Metrics returns a collector for every xfer counter. Register it with a
// prometheus.Registerer to export the transfer metrics.
func Metrics() prometheus.Collector {
	return metricsCollector{}
}

func (metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range collectors {
		c.Describe(ch)
	}
}

func (metricsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, c := range collectors {
		c.Collect(ch)
	}
}

// channelCounters are the counters of one handler curried to one channel.
type channelCounters struct {
	buffersSent      prometheus.Counter
	buffersResent    prometheus.Counter
	buffersReceived  prometheus.Counter
	buffersDelivered prometheus.Counter
	bytesSent        prometheus.Counter
	bytesReceived    prometheus.Counter
	acksSent         prometheus.Counter
	acksReceived     prometheus.Counter
	duplicates       prometheus.Counter
	malformed        prometheus.Counter
	overflow         prometheus.Counter
	linkDropped      prometheus.Counter
}

// metricsRecorder resolves label values once per channel so dispatch
// loops only touch prometheus.Counter.
type metricsRecorder struct {
	channels []string
	counters []channelCounters
}

func newMetricsRecorder(job, handler string, kind HandlerKind, channels []Channel) *metricsRecorder {
	r := &metricsRecorder{
		channels: make([]string, len(channels)),
		counters: make([]channelCounters, len(channels)),
	}
	k := kind.String()
	for i, ch := range channels {
		id := ch.ID()
		r.channels[i] = id
		r.counters[i] = channelCounters{
			buffersSent:      buffersSent.WithLabelValues(job, handler, k, id),
			buffersResent:    buffersResent.WithLabelValues(job, handler, k, id),
			buffersReceived:  buffersReceived.WithLabelValues(job, handler, k, id),
			buffersDelivered: buffersDelivered.WithLabelValues(job, handler, k, id),
			bytesSent:        bytesSent.WithLabelValues(job, handler, k, id),
			bytesReceived:    bytesReceived.WithLabelValues(job, handler, k, id),
			acksSent:         acksSent.WithLabelValues(job, handler, k, id),
			acksReceived:     acksReceived.WithLabelValues(job, handler, k, id),
			duplicates:       duplicates.WithLabelValues(job, handler, k, id),
			malformed:        malformed.WithLabelValues(job, handler, k, id),
			overflow:         overflow.WithLabelValues(job, handler, k, id),
			linkDropped:      linkDropped.WithLabelValues(job, handler, k, id),
		}
	}
	return r
}

func (r *metricsRecorder) slot(i int) *channelCounters {
	return &r.counters[i]
}

// flush writes one summary record per channel.
func (r *metricsRecorder) flush(log zerolog.Logger) {
	for i, id := range r.channels {
		c := &r.counters[i]
		log.Info().
			Str("channel", id).
			Float64("buffers_sent", counterValue(c.buffersSent)).
			Float64("buffers_resent", counterValue(c.buffersResent)).
			Float64("buffers_received", counterValue(c.buffersReceived)).
			Float64("buffers_delivered", counterValue(c.buffersDelivered)).
			Float64("bytes_sent", counterValue(c.bytesSent)).
			Float64("bytes_received", counterValue(c.bytesReceived)).
			Float64("duplicates", counterValue(c.duplicates)).
			Msg("channel metrics")
	}
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
