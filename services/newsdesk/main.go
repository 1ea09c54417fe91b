// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/Newswire/services/llm"
	"github.com/AleutianAI/Newswire/services/newsdesk/config"
	"github.com/AleutianAI/Newswire/services/newsdesk/conversation"
	"github.com/AleutianAI/Newswire/services/newsdesk/corpus"
	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
	"github.com/AleutianAI/Newswire/services/newsdesk/digest"
	"github.com/AleutianAI/Newswire/services/newsdesk/handlers"
	"github.com/AleutianAI/Newswire/services/newsdesk/observability"
	"github.com/AleutianAI/Newswire/services/newsdesk/retrieval"
	"github.com/AleutianAI/Newswire/services/newsdesk/routes"
	"github.com/AleutianAI/Newswire/services/newsdesk/scheduler"
	"github.com/AleutianAI/Newswire/services/newsdesk/services"
	badgerstore "github.com/AleutianAI/Newswire/services/newsdesk/storage/badger"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer(cfg *config.Config) (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := cfg.OTLPEndpoint
	if otelEndpoint == "" {
		otelEndpoint = "aleutian-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateClient connects to Weaviate and ensures the article schema.
// Returns nil when no host is configured; the service then runs in
// lightweight mode on the keyword index alone.
func newWeaviateClient(cfg *config.Config) *weaviate.Client {
	if cfg.WeaviateHost == "" {
		slog.Info("WEAVIATE_HOST not set. Running in lightweight mode (keyword search only).")
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.WeaviateHost,
		Scheme: cfg.WeaviateScheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client, running in lightweight mode", "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := datatypes.EnsureNewsSchema(ctx, client); err != nil {
		slog.Error("Failed to ensure Weaviate schema, running in lightweight mode", "error", err)
		return nil
	}
	return client
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	observability.InitMetrics()

	cleanup, err := initTracer(cfg)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	// --- Storage ---
	dbCfg := badgerstore.DefaultConfig()
	dbCfg.Path = cfg.DataDir
	dbCfg.Logger = logger
	db, err := badgerstore.Open(dbCfg)
	if err != nil {
		log.Fatalf("failed to open database at %s: %v", cfg.DataDir, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	articles, err := corpus.NewStore(db)
	if err != nil {
		log.Fatalf("failed to initialize article store: %v", err)
	}
	conversations := conversation.NewStore(db)

	// --- Retrieval ---
	weaviateClient := newWeaviateClient(cfg)
	var primary retrieval.SearchIndex
	var indexer *corpus.Indexer
	if weaviateClient != nil {
		primary = retrieval.NewWeaviateIndex(weaviateClient)
		indexer = corpus.NewIndexer(weaviateClient)
	}
	gatewayCfg := retrieval.DefaultGatewayConfig()
	gatewayCfg.SufficiencyThreshold = cfg.MinCoverageDocs
	gatewayCfg.MaxWindowDays = cfg.MaxWindowDays
	gateway := retrieval.NewGateway(primary, retrieval.NewKeywordIndex(articles), gatewayCfg)

	// --- LLM ---
	llmClient, err := llm.NewOpenAIClient()
	if err != nil {
		log.Fatalf("failed to initialize LLM client: %v", err)
	}

	// --- Services and handlers ---
	digests := digest.NewService(db, articles, gateway, llmClient, llmClient.Model())
	chat := handlers.NewChatHandler(gateway, services.NewAnswerService(llmClient), conversations, cfg.DefaultWindowDays)
	articleHandler := handlers.NewArticleHandler(articles, indexer, conversations)
	digestHandler := handlers.NewDigestHandler(digests, articles)

	router := gin.Default()
	router.Use(otelgin.Middleware(cfg.ServiceName))
	routes.SetupRoutes(router, chat, articleHandler, digestHandler)

	// --- Background jobs ---
	if cfg.SchedulerEnabled {
		jobs := scheduler.New(digests, cfg.DigestAudience, cfg.DefaultWindowDays)
		if err := jobs.Start(); err != nil {
			log.Fatalf("failed to start scheduler: %v", err)
		}
		defer jobs.Stop()
	}

	// --- Serve with graceful shutdown ---
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}
	go func() {
		slog.Info("starting the newsdesk server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
}
