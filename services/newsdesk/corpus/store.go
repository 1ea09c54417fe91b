// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package corpus persists the news article corpus in BadgerDB.
//
// The corpus is the system of record for article content. The vector index
// holds derived chunk embeddings only; everything a handler returns comes
// from here.
package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/Newswire/services/newsdesk/citations"
	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
	"github.com/AleutianAI/Newswire/services/newsdesk/storage/badger"
)

const (
	articlePrefix = "article:"
	urlPrefix     = "article_url:"
	summaryPrefix = "summary:"
	sequenceKey   = "seq:article"
)

// ErrNotFound is returned when no article or summary exists for a key.
var ErrNotFound = errors.New("corpus: not found")

// FilterOptions narrows article listings.
type FilterOptions struct {
	WindowDays int
	Market     string
	Topic      string
	Limit      int
}

// Store is the BadgerDB-backed article store.
//
// # Thread Safety
//
// Safe for concurrent use. Badger transactions provide snapshot isolation;
// ID assignment goes through a badger sequence.
type Store struct {
	db  *badger.DB
	seq *badgerdb.Sequence
}

// NewStore creates a Store on the given database.
func NewStore(db *badger.DB) (*Store, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), 100)
	if err != nil {
		return nil, fmt.Errorf("acquire article sequence: %w", err)
	}
	return &Store{db: db, seq: seq}, nil
}

// Close releases the ID sequence. The database itself is owned by the caller.
func (s *Store) Close() error {
	return s.seq.Release()
}

func articleKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%016d", articlePrefix, id))
}

func summaryKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%016d", summaryPrefix, id))
}

func urlKey(rawURL string) []byte {
	return []byte(urlPrefix + citations.CanonicalURL(rawURL))
}

// Put stores a new article, deduplicating by canonical URL.
//
// # Description
//
// When an article with the same canonical URL already exists, the existing
// record is returned unchanged and created is false. The dedupe lookup runs
// inside the write transaction, so Badger's conflict detection catches two
// concurrent ingests of the same URL: the loser retries, finds the winner's
// record, and returns it instead of writing a duplicate.
//
// # Outputs
//
//   - *datatypes.Article: The stored (new or existing) record.
//   - bool: True if a new record was created.
//   - error: Non-nil on storage failure.
func (s *Store) Put(ctx context.Context, req *datatypes.IngestArticleRequest) (*datatypes.Article, bool, error) {
	var (
		article *datatypes.Article
		created bool
	)
	for {
		article, created = nil, false
		err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
			item, err := txn.Get(urlKey(req.URL))
			if err == nil {
				var id int64
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &id)
				}); err != nil {
					return err
				}
				existing, err := txn.Get(articleKey(id))
				if err != nil {
					return err
				}
				article = &datatypes.Article{}
				return existing.Value(func(val []byte) error {
					return json.Unmarshal(val, article)
				})
			}
			if !errors.Is(err, badgerdb.ErrKeyNotFound) {
				return err
			}

			next, err := s.seq.Next()
			if err != nil {
				return fmt.Errorf("next article id: %w", err)
			}
			article = &datatypes.Article{
				ID:            int64(next) + 1, // sequences start at 0
				Title:         req.Title,
				Content:       req.Content,
				URL:           req.URL,
				Source:        req.Source,
				SourceType:    req.SourceType,
				Author:        req.Author,
				Tags:          req.Tags,
				PublishedDate: req.PublishedDate,
				ScrapedDate:   time.Now().UTC(),
			}
			data, err := json.Marshal(article)
			if err != nil {
				return fmt.Errorf("marshal article: %w", err)
			}
			if err := txn.Set(articleKey(article.ID), data); err != nil {
				return err
			}
			idBytes, _ := json.Marshal(article.ID)
			if err := txn.Set(urlKey(article.URL), idBytes); err != nil {
				return err
			}
			created = true
			return nil
		})
		if errors.Is(err, badgerdb.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("store article: %w", err)
		}
		return article, created, nil
	}
}

// Get returns one article by ID.
func (s *Store) Get(ctx context.Context, id int64) (*datatypes.Article, error) {
	var article datatypes.Article
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get(articleKey(id))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &article)
		})
	})
	if err != nil {
		return nil, err
	}
	return &article, nil
}

// GetByURL resolves an article through the URL index.
func (s *Store) GetByURL(ctx context.Context, rawURL string) (*datatypes.Article, error) {
	var id int64
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get(urlKey(rawURL))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &id)
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// effectiveDate orders articles by published date, falling back to scrape
// time for items whose publisher date could not be parsed.
func effectiveDate(a *datatypes.Article) time.Time {
	if a.PublishedDate != nil {
		return *a.PublishedDate
	}
	return a.ScrapedDate
}

// scan iterates every article, calling fn for each. fn returns false to
// stop early.
func (s *Store) scan(ctx context.Context, fn func(a *datatypes.Article) bool) error {
	return s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(articlePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var article datatypes.Article
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &article)
			})
			if err != nil {
				return err
			}
			if !fn(&article) {
				return nil
			}
		}
		return nil
	})
}

// Recent returns articles within the window, newest first.
func (s *Store) Recent(ctx context.Context, windowDays, limit int) ([]datatypes.Article, error) {
	return s.Filter(ctx, FilterOptions{WindowDays: windowDays, Limit: limit})
}

// Filter returns articles matching the window, market, and topic filters,
// newest first.
func (s *Store) Filter(ctx context.Context, opts FilterOptions) ([]datatypes.Article, error) {
	var cutoff time.Time
	if opts.WindowDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -opts.WindowDays)
	}
	markets := termsFor(marketTerms, opts.Market)
	topics := termsFor(topicTerms, opts.Topic)

	var matched []datatypes.Article
	err := s.scan(ctx, func(a *datatypes.Article) bool {
		if !cutoff.IsZero() && effectiveDate(a).Before(cutoff) {
			return true
		}
		if !matchesAny(a, markets) || !matchesAny(a, topics) {
			return true
		}
		matched = append(matched, *a)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("filter articles: %w", err)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return effectiveDate(&matched[i]).After(effectiveDate(&matched[j]))
	})
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// PendingSummaries returns up to limit articles that have no story summary
// yet, oldest first so the backlog drains in ingest order.
func (s *Store) PendingSummaries(ctx context.Context, limit int) ([]datatypes.Article, error) {
	var pending []datatypes.Article
	err := s.scan(ctx, func(a *datatypes.Article) bool {
		if a.HasSummary {
			return true
		}
		pending = append(pending, *a)
		return limit <= 0 || len(pending) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("list pending summaries: %w", err)
	}
	return pending, nil
}

// PutSummary stores a story summary and flips the article's summary flag in
// the same transaction. Overwrites any prior summary for the article.
func (s *Store) PutSummary(ctx context.Context, summary *datatypes.StorySummary) error {
	article, err := s.Get(ctx, summary.ArticleID)
	if err != nil {
		return err
	}
	article.HasSummary = true

	return s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		summaryData, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		if err := txn.Set(summaryKey(summary.ArticleID), summaryData); err != nil {
			return err
		}
		articleData, err := json.Marshal(article)
		if err != nil {
			return fmt.Errorf("marshal article: %w", err)
		}
		return txn.Set(articleKey(article.ID), articleData)
	})
}

// GetSummary returns the stored summary for an article.
func (s *Store) GetSummary(ctx context.Context, articleID int64) (*datatypes.StorySummary, error) {
	var summary datatypes.StorySummary
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get(summaryKey(articleID))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &summary)
		})
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// Stats aggregates corpus counters for the stats endpoint. The conversation
// count is owned by the conversation store and filled in by the handler.
func (s *Store) Stats(ctx context.Context) (*datatypes.CorpusStats, error) {
	stats := &datatypes.CorpusStats{BySource: make(map[string]int)}
	dayAgo := time.Now().UTC().Add(-24 * time.Hour)

	err := s.scan(ctx, func(a *datatypes.Article) bool {
		stats.TotalArticles++
		stats.BySource[a.Source]++
		if a.HasSummary {
			stats.WithSummary++
		}
		if effectiveDate(a).After(dayAgo) {
			stats.RecentArticles++
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	return stats, nil
}
