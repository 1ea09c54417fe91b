// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Newswire/services/llm"
	"github.com/AleutianAI/Newswire/services/newsdesk/conversation"
	"github.com/AleutianAI/Newswire/services/newsdesk/corpus"
	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
	"github.com/AleutianAI/Newswire/services/newsdesk/digest"
	"github.com/AleutianAI/Newswire/services/newsdesk/handlers"
	"github.com/AleutianAI/Newswire/services/newsdesk/retrieval"
	"github.com/AleutianAI/Newswire/services/newsdesk/services"
	badgerstore "github.com/AleutianAI/Newswire/services/newsdesk/storage/badger"
)

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// mockLLMClient is a minimal mock for llm.LLMClient.
type mockLLMClient struct{}

func (m *mockLLMClient) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	return "mock response", nil
}

func (m *mockLLMClient) ChatStream(_ context.Context, _ []datatypes.Message, _ llm.GenerationParams, callback llm.StreamCallback) error {
	_ = callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: "mock stream"})
	return nil
}

type emptyIndex struct{}

func (emptyIndex) Search(_ context.Context, _ string, _, _ int) ([]datatypes.ScoredDocument, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	articles, err := corpus.NewStore(db)
	if err != nil {
		t.Fatalf("corpus store: %v", err)
	}
	conversations := conversation.NewStore(db)
	gateway := retrieval.NewGateway(nil, emptyIndex{}, retrieval.DefaultGatewayConfig())
	client := &mockLLMClient{}

	chat := handlers.NewChatHandler(gateway, services.NewAnswerService(client), conversations, 7)
	articleHandler := handlers.NewArticleHandler(articles, nil, conversations)
	digests := handlers.NewDigestHandler(digest.NewService(db, articles, gateway, client, "test-model"), articles)

	router := gin.New()
	SetupRoutes(router, chat, articleHandler, digests)
	return router
}

func TestSetupRoutes_CoreRoutesRegistered(t *testing.T) {
	router := newTestRouter(t)

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/chat"},
		{"POST", "/v1/chat/stream"},
		{"GET", "/v1/conversations"},
		{"GET", "/v1/conversations/:id"},
		{"POST", "/v1/feedback"},
		{"POST", "/v1/articles"},
		{"GET", "/v1/articles"},
		{"GET", "/v1/articles/:id"},
		{"GET", "/v1/stats"},
		{"GET", "/v1/digest"},
		{"GET", "/v1/stories"},
		{"POST", "/v1/stories/summarize"},
		{"POST", "/v1/stories/:id/summarize"},
	}

	routes := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range routes {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected route %s %s not found", want.method, want.path)
		}
	}
}

func TestSetupRoutes_HealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Health endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Metrics endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("Content-Type") == "" {
		t.Error("Metrics endpoint should return Content-Type header")
	}
}
