// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler runs the background jobs that keep summaries and
// digests warm: an hourly summarization sweep over pending articles and a
// daily digest pre-generation so the first reader of the day gets a cache
// hit.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/AleutianAI/Newswire/services/newsdesk/digest"
)

const (
	// sweepLimit caps articles summarized per hourly sweep.
	sweepLimit = 50

	// jobTimeout bounds one scheduled job end to end.
	jobTimeout = 10 * time.Minute
)

// Scheduler owns the cron instance and the jobs it runs.
type Scheduler struct {
	cron     *cron.Cron
	digests  *digest.Service
	audience string
	window   int
}

// New creates a Scheduler. All cron schedules are evaluated in UTC.
//
// # Inputs
//
//   - digests: Digest and summarization service. Required.
//   - audience: Audience the daily digest is pre-generated for.
//   - windowDays: Digest window in days.
func New(digests *digest.Service, audience string, windowDays int) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		digests:  digests,
		audience: audience,
		window:   windowDays,
	}
}

// Start registers the jobs and starts the cron loop. Jobs run on the
// cron goroutine one at a time per schedule.
func (s *Scheduler) Start() error {
	// Hourly summarization sweep at minute 10.
	if _, err := s.cron.AddFunc("10 * * * *", s.runSummarySweep); err != nil {
		return err
	}
	// Daily digest pre-generation at 07:00 UTC, before US market hours.
	if _, err := s.cron.AddFunc("0 7 * * *", s.runDigestWarm); err != nil {
		return err
	}

	s.cron.Start()
	slog.Info("scheduler started",
		"summary_sweep", "10 * * * *",
		"digest_warm", "0 7 * * *")
	return nil
}

// Stop stops the cron loop and waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler stopped")
}

func (s *Scheduler) runSummarySweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	done, failed, err := s.digests.SummarizeAllPending(ctx, sweepLimit)
	if err != nil {
		slog.Error("scheduled summary sweep failed", "error", err)
		return
	}
	if done > 0 || failed > 0 {
		slog.Info("scheduled summary sweep complete", "done", done, "failed", failed)
	}
}

func (s *Scheduler) runDigestWarm() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	date := time.Now().UTC().Format("2006-01-02")
	if _, err := s.digests.Digest(ctx, date, s.audience, s.window); err != nil {
		slog.Error("scheduled digest generation failed",
			"date", date, "audience", s.audience, "error", err)
		return
	}
	slog.Info("daily digest pre-generated", "date", date, "audience", s.audience)
}
