// Package metrics exposes Prometheus counters/gauges for the capture,
// dissection and storage pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturePacketsTotal counts packets read per input.
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sngrep_capture_packets_total",
			Help: "Total number of packets read by an input",
		},
		[]string{"input"},
	)

	// CaptureDropsTotal counts packets an input failed to deliver.
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sngrep_capture_drops_total",
			Help: "Total number of packets dropped while reading an input",
		},
		[]string{"input"},
	)

	// DissectErrorsTotal counts dissector failures by protocol.
	DissectErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sngrep_dissect_errors_total",
			Help: "Total number of dissector errors",
		},
		[]string{"protocol"},
	)

	// StorageQueueDepth tracks the storage consumer's queue occupancy.
	StorageQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sngrep_storage_queue_depth",
			Help: "Current number of packets queued for storage processing",
		},
	)

	// ActiveCalls tracks the number of calls currently held in storage.
	ActiveCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sngrep_active_calls",
			Help: "Current number of calls held in storage",
		},
	)

	// ActiveStreams tracks the number of registered RTP/RTCP streams.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sngrep_active_streams",
			Help: "Current number of RTP/RTCP streams tracked across all calls",
		},
	)

	// ReassemblyActiveFragments tracks in-flight IP fragments awaiting reassembly.
	ReassemblyActiveFragments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sngrep_reassembly_active_fragments",
			Help: "Number of IP fragments currently buffered awaiting reassembly",
		},
	)

	// PipelineLatencySeconds measures per-protocol dissection latency.
	PipelineLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sngrep_pipeline_latency_seconds",
			Help:    "Latency of a dissector's Dissect call in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20),
		},
		[]string{"protocol"},
	)
)
