// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the typed environment configuration for the newsdesk
// service.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v6"
)

// Config is the full service configuration, populated from the environment.
//
// The service runs in lightweight mode when WeaviateHost is empty: retrieval
// falls back to the keyword index and ingestion skips chunk indexing.
type Config struct {
	// HTTP
	Port int `env:"NEWSDESK_PORT" envDefault:"8084"`

	// Storage
	DataDir string `env:"NEWSDESK_DATA_DIR" envDefault:"data/newsdesk"`

	// Retrieval
	WeaviateHost   string `env:"WEAVIATE_HOST"`
	WeaviateScheme string `env:"WEAVIATE_SCHEME" envDefault:"http"`

	// Windowing
	DefaultWindowDays int `env:"NEWSDESK_WINDOW_DAYS" envDefault:"7"`
	MaxWindowDays     int `env:"NEWSDESK_MAX_WINDOW_DAYS" envDefault:"30"`
	MinCoverageDocs   int `env:"NEWSDESK_MIN_COVERAGE_DOCS" envDefault:"5"`

	// Scheduler
	SchedulerEnabled bool   `env:"NEWSDESK_SCHEDULER_ENABLED" envDefault:"true"`
	DigestAudience   string `env:"NEWSDESK_DIGEST_AUDIENCE" envDefault:"Exec"`

	// Observability
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"newswire-newsdesk"`
}

// Load parses the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment config: %w", err)
	}
	if cfg.DefaultWindowDays <= 0 || cfg.DefaultWindowDays > cfg.MaxWindowDays {
		return nil, fmt.Errorf("invalid window config: default %d, max %d", cfg.DefaultWindowDays, cfg.MaxWindowDays)
	}
	return cfg, nil
}
