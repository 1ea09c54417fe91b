// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newTestMetrics builds a Metrics instance on an isolated registry so tests
// do not collide with the global default registry.
func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()

	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: newsdeskSubsystem,
				Name:      "requests_total",
				Help:      "Total chat requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		TimeToFirstTokenSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: newsdeskSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first streamed token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),
		StreamDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: newsdeskSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),
		ActiveStreams: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: newsdeskSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: newsdeskSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by type and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),
		KeepAlivesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: newsdeskSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent",
			},
			[]string{"endpoint"},
		),
		ClientDisconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: newsdeskSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
		RetrievalWidenedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: newsdeskSubsystem,
				Name:      "retrieval_widened_total",
				Help:      "Turns where thin coverage widened the time window",
			},
		),
		RetrievalDegradedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: newsdeskSubsystem,
				Name:      "retrieval_degraded_total",
				Help:      "Turns served by the keyword fallback index",
			},
		),
		SummariesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: newsdeskSubsystem,
				Name:      "summaries_total",
				Help:      "Batch story summarizations by status",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.TimeToFirstTokenSeconds,
		m.StreamDurationSeconds,
		m.ActiveStreams,
		m.ErrorsTotal,
		m.KeepAlivesTotal,
		m.ClientDisconnectsTotal,
		m.RetrievalWidenedTotal,
		m.RetrievalDegradedTotal,
		m.SummariesTotal,
	)

	return m
}

func TestRecordRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRequest(EndpointChatStream, true)
	m.RecordRequest(EndpointChatStream, true)
	m.RecordRequest(EndpointChatStream, false)

	got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat_stream", "success"))
	if got != 2 {
		t.Errorf("success count = %v, want 2", got)
	}
	got = testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat_stream", "error"))
	if got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
}

func TestStreamGaugeBalances(t *testing.T) {
	m := newTestMetrics(t)

	m.StreamStarted(EndpointChatStream)
	m.StreamStarted(EndpointChatStream)
	m.StreamEnded(EndpointChatStream)

	got := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("chat_stream"))
	if got != 1 {
		t.Errorf("active streams = %v, want 1", got)
	}
}

func TestRecordError(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordError(EndpointChat, ErrorCodeLLMError)
	m.RecordError(EndpointChat, ErrorCodeLLMError)
	m.RecordError(EndpointChat, ErrorCodeTimeout)

	got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("chat", "llm_error"))
	if got != 2 {
		t.Errorf("llm_error count = %v, want 2", got)
	}
}

func TestRecordRetrieval(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRetrieval(true, false)
	m.RecordRetrieval(true, true)
	m.RecordRetrieval(false, false)

	if got := testutil.ToFloat64(m.RetrievalWidenedTotal); got != 2 {
		t.Errorf("widened count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RetrievalDegradedTotal); got != 1 {
		t.Errorf("degraded count = %v, want 1", got)
	}
}

func TestRecordSummary(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSummary(true)
	m.RecordSummary(false)
	m.RecordSummary(false)

	if got := testutil.ToFloat64(m.SummariesTotal.WithLabelValues("error")); got != 2 {
		t.Errorf("summary error count = %v, want 2", got)
	}
}
