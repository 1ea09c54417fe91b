// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
)

// SSEWriter defines the contract for writing Server-Sent Events to HTTP
// responses.
//
// # Description
//
// SSEWriter abstracts SSE serialization from HTTP response mechanics so
// streaming handlers stay testable. Implementations emit the SSE wire format
// (event: type\ndata: json\n\n) and flush after every write.
//
// The event payloads are part of the client compatibility contract:
//
//   - token: {"text": "<delta>"}
//   - done:  the full datatypes.ChatResult
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The heartbeat goroutine
// and the token loop write from different goroutines.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before the first write.
type SSEWriter interface {
	// WriteToken writes one token event carrying a text delta.
	WriteToken(text string) error

	// WriteDone writes the terminal done event with the full turn result.
	// Exactly one done event ends every stream that was not cancelled.
	WriteDone(result datatypes.ChatResult) error

	// WriteKeepAlive sends an SSE comment (": ping") to keep the connection
	// alive through proxies and load balancers. Comments are invisible to
	// SSE clients.
	WriteKeepAlive() error
}

// sseWriter implements SSEWriter over an http.ResponseWriter.
//
// Thread-safe via mutex; cannot be reused across requests.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter creates an SSEWriter for the given ResponseWriter.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - SSEWriter: Ready to write events.
//   - error: Non-nil if the ResponseWriter does not support flushing.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:  w,
		flusher: flusher,
	}, nil
}

func (w *sseWriter) writeEvent(eventType string, payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return fmt.Errorf("write %s event: %w", eventType, err)
	}

	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteToken(text string) error {
	return w.writeEvent("token", datatypes.TokenEvent{Text: text})
}

func (w *sseWriter) WriteDone(result datatypes.ChatResult) error {
	return w.writeEvent("done", result)
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment format: colon followed by text, then double newline
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures the response headers required for SSE streaming:
// text/event-stream content type, caching disabled, keep-alive, and nginx
// buffering off. Must be called before any body write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
