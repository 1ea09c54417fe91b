// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation persists chat conversations in BadgerDB.
//
// A conversation is a metadata record plus an append-only message log under
// sequential keys. All mutation of one conversation happens under that
// conversation's lock and inside a single transaction, so readers observe
// either the pre-turn or post-turn state, never a partial turn.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
	"github.com/AleutianAI/Newswire/services/newsdesk/storage/badger"
)

const (
	metaPrefix = "conv:"
	msgPrefix  = "convmsg:"

	// maxTitleRunes caps derived conversation titles.
	maxTitleRunes = 60
)

var (
	// ErrNotFound is returned when the conversation or message does not exist.
	ErrNotFound = errors.New("conversation: not found")

	// ErrNoAssistantMessage is returned by TruncateLastAssistantTurn when the
	// conversation has no assistant message to replace.
	ErrNoAssistantMessage = errors.New("conversation: no assistant message to regenerate")

	// ErrNotAssistantMessage is returned by SetFeedback when the target
	// message is not an assistant message.
	ErrNotAssistantMessage = errors.New("conversation: feedback targets a non-assistant message")
)

// Store is the BadgerDB-backed conversation store.
//
// # Thread Safety
//
// Safe for concurrent use. Mutations of one conversation are serialized by
// a per-conversation mutex; distinct conversations do not contend.
type Store struct {
	db        *badger.DB
	locks     sync.Map // conversation id → *sync.Mutex
	turnLocks sync.Map // conversation id → *sync.Mutex
}

// NewStore creates a Store on the given database.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

func (s *Store) lock(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// LockTurn acquires the conversation's turn lock and returns its release
// function.
//
// # Description
//
// The per-method mutex serializes individual store operations; it cannot
// make a multi-operation turn atomic. A regenerate must hold the turn lock
// from truncation through the final append so no concurrent turn lands
// between the two, and a plain turn holds it around its own append so it
// queues behind an in-flight regenerate instead of interleaving with it.
func (s *Store) LockTurn(id string) (release func()) {
	mu, _ := s.turnLocks.LoadOrStore(id, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func metaKey(id string) []byte {
	return []byte(metaPrefix + id)
}

func msgKey(id string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%012d", msgPrefix, id, seq))
}

// Create starts a new empty conversation and persists its metadata.
func (s *Store) Create(ctx context.Context) (*datatypes.Conversation, error) {
	now := time.Now().UTC()
	conv := &datatypes.Conversation{
		ID:            uuid.New().String(),
		CreatedAt:     now,
		UpdatedAt:     now,
		NextMessageID: 1,
	}
	err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return writeMeta(txn, conv)
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func writeMeta(txn *badgerdb.Txn, conv *datatypes.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	return txn.Set(metaKey(conv.ID), data)
}

func readMeta(txn *badgerdb.Txn, id string) (*datatypes.Conversation, error) {
	item, err := txn.Get(metaKey(id))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var conv datatypes.Conversation
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &conv)
	}); err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendTurn appends messages to a conversation in one transaction.
//
// # Description
//
// Assigns sequential message IDs, bumps UpdatedAt, and derives the title
// from the first user message when the conversation is still untitled.
// Either every message lands or none does; the store never exposes a
// user message whose turn is still incomplete.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - id: Conversation ID. Must exist.
//   - messages: One turn's messages, typically user then assistant.
//
// # Outputs
//
//   - []datatypes.Message: The stored messages with assigned IDs.
//   - error: ErrNotFound if the conversation does not exist.
func (s *Store) AppendTurn(ctx context.Context, id string, messages ...datatypes.Message) ([]datatypes.Message, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	stored := make([]datatypes.Message, len(messages))
	err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		conv, err := readMeta(txn, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for i, msg := range messages {
			msg.ID = conv.NextMessageID
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = now
			}
			conv.NextMessageID++
			conv.MessageCount++

			if conv.Title == "" && msg.Role == datatypes.RoleUser {
				conv.Title = deriveTitle(msg.Content)
			}

			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("marshal message: %w", err)
			}
			if err := txn.Set(msgKey(id, msg.ID), data); err != nil {
				return err
			}
			stored[i] = msg
		}
		conv.UpdatedAt = now
		return writeMeta(txn, conv)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Get returns a conversation's metadata and full ordered message log.
func (s *Store) Get(ctx context.Context, id string) (*datatypes.Conversation, []datatypes.Message, error) {
	var conv *datatypes.Conversation
	var messages []datatypes.Message
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		var err error
		conv, err = readMeta(txn, id)
		if err != nil {
			return err
		}
		messages, err = readMessages(txn, id)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return conv, messages, nil
}

func readMessages(txn *badgerdb.Txn, id string) ([]datatypes.Message, error) {
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = []byte(msgPrefix + id + ":")
	it := txn.NewIterator(opts)
	defer it.Close()

	var messages []datatypes.Message
	for it.Rewind(); it.Valid(); it.Next() {
		var msg datatypes.Message
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// List returns conversation summaries, most recently updated first.
func (s *Store) List(ctx context.Context) ([]datatypes.ConversationSummary, error) {
	var summaries []datatypes.ConversationSummary
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var conv datatypes.Conversation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &conv)
			}); err != nil {
				return err
			}
			summaries = append(summaries, datatypes.ConversationSummary{
				ID:           conv.ID,
				Title:        conv.Title,
				UpdatedAt:    conv.UpdatedAt,
				MessageCount: conv.MessageCount,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// Count returns the number of conversations.
func (s *Store) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// TruncateLastAssistantTurn removes the most recent assistant message,
// preparing a regenerate.
//
// # Description
//
// Deletes the latest assistant message and returns the nearest user message
// that preceded it, whose text becomes the regenerated query. User messages
// are never touched. Returns ErrNoAssistantMessage when the conversation has
// no assistant message yet.
func (s *Store) TruncateLastAssistantTurn(ctx context.Context, id string) (*datatypes.Message, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	var priorUser *datatypes.Message
	err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		conv, err := readMeta(txn, id)
		if err != nil {
			return err
		}
		messages, err := readMessages(txn, id)
		if err != nil {
			return err
		}

		lastAssistant := -1
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == datatypes.RoleAssistant {
				lastAssistant = i
				break
			}
		}
		if lastAssistant < 0 {
			return ErrNoAssistantMessage
		}
		for i := lastAssistant - 1; i >= 0; i-- {
			if messages[i].Role == datatypes.RoleUser {
				m := messages[i]
				priorUser = &m
				break
			}
		}

		if err := txn.Delete(msgKey(id, messages[lastAssistant].ID)); err != nil {
			return err
		}
		conv.MessageCount--
		conv.UpdatedAt = time.Now().UTC()
		return writeMeta(txn, conv)
	})
	if err != nil {
		return nil, err
	}
	return priorUser, nil
}

// SetFeedback records a rating on an assistant message.
func (s *Store) SetFeedback(ctx context.Context, id string, messageID int64, rating string) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	return s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get(msgKey(id, messageID))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var msg datatypes.Message
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return err
		}
		if msg.Role != datatypes.RoleAssistant {
			return ErrNotAssistantMessage
		}
		if rating == "none" {
			msg.Rating = ""
		} else {
			msg.Rating = rating
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return txn.Set(msgKey(id, messageID), data)
	})
}

// deriveTitle builds a display title from the first user message.
func deriveTitle(query string) string {
	title := strings.Join(strings.Fields(query), " ")
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = strings.TrimSpace(string(runes[:maxTitleRunes])) + "…"
	}
	return title
}
