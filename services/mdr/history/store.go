// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history keeps a durable log of processed faults across boots.
package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
	mdrbadger "github.com/AleutianAI/AleutianMDR/services/mdr/storage/badger"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	keyBootSeq   = "meta/bootseq"
	keyFaultSeq  = "meta/faultseq"
	prefixFault  = "fault/"
	defaultLimit = 100
)

var (
	ErrClosed   = errors.New("history store is closed")
	ErrNotFound = errors.New("history entry not found")
)

// Outcomes recorded on an Entry. An entry is appended as OutcomeRecorded
// before dumping and is updated once the reset decision is made.
const (
	OutcomeRecorded  = "recorded"
	OutcomeHandled   = "handled"
	OutcomeRestarted = "restarted"
)

// Entry is one processed fault.
type Entry struct {
	Seq      uint64                      `json:"seq"`
	ID       uuid.UUID                   `json:"id"`
	ModID    uint32                      `json:"modid"`
	Arg1     uint32                      `json:"arg1"`
	Arg2     uint32                      `json:"arg2"`
	Record   datatypes.ReportRecordEntry `json:"record"`
	DumpPath string                      `json:"dump_path,omitempty"`
	Outcome  string                      `json:"outcome,omitempty"`
	StoredAt time.Time                   `json:"stored_at"`
}

// Store persists fault history.
type Store interface {
	Append(ctx context.Context, e Entry) (uint64, error)
	SetOutcome(ctx context.Context, seq uint64, outcome string) error
	List(ctx context.Context, limit int) ([]Entry, error)
	BootSequence() uint64
	Close() error
}

// BadgerStore is a Store backed by BadgerDB.
//
// # Description
//
// Keys are "fault/<seq>" with a zero-padded decimal sequence, so lexical
// order equals insertion order. Opening the store increments the boot
// sequence stored under "meta/bootseq".
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerStore struct {
	db      *mdrbadger.DB
	bootSeq uint64

	mu     sync.Mutex
	closed bool
}

var _ Store = (*BadgerStore)(nil)

// Open opens the store and advances the boot sequence.
func Open(ctx context.Context, cfg mdrbadger.Config) (*BadgerStore, error) {
	db, err := mdrbadger.OpenDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	s := &BadgerStore{db: db}

	err = db.WithTxn(ctx, func(txn *badger.Txn) error {
		seq, err := readUint64(txn, keyBootSeq)
		if err != nil {
			return err
		}
		seq++
		s.bootSeq = seq
		return txn.Set([]byte(keyBootSeq), encodeUint64(seq))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("advance boot sequence: %w", err)
	}
	return s, nil
}

// BootSequence returns this boot's sequence number, starting at 1.
func (s *BadgerStore) BootSequence() uint64 {
	return s.bootSeq
}

// Append stores e under the next fault sequence and returns it.
func (s *BadgerStore) Append(ctx context.Context, e Entry) (uint64, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now()
	}
	var seq uint64
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		last, err := readUint64(txn, keyFaultSeq)
		if err != nil {
			return err
		}
		seq = last + 1
		e.Seq = seq
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		if err := txn.Set(faultKey(seq), data); err != nil {
			return err
		}
		return txn.Set([]byte(keyFaultSeq), encodeUint64(seq))
	})
	if err != nil {
		return 0, fmt.Errorf("append history: %w", err)
	}
	return seq, nil
}

// SetOutcome rewrites the outcome of the entry stored under seq.
func (s *BadgerStore) SetOutcome(ctx context.Context, seq uint64, outcome string) error {
	if s.isClosed() {
		return ErrClosed
	}
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(faultKey(seq))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var e Entry
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
			return fmt.Errorf("decode entry %d: %w", seq, err)
		}
		e.Outcome = outcome
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		return txn.Set(faultKey(seq), data)
	})
	if err != nil {
		return fmt.Errorf("set history outcome: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first. limit <= 0 uses 100.
func (s *BadgerStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	var out []Entry
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefixFault)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the largest key <= the seek key.
		seek := append([]byte(prefixFault), 0xFF)
		for it.Seek(seek); it.Valid() && len(out) < limit; it.Next() {
			var e Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return out, nil
}

// Close closes the database. Calling it twice is safe.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *BadgerStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func faultKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixFault, seq))
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func readUint64(txn *badger.Txn, key string) (uint64, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("%s: expected 8 bytes, got %d", key, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// NopStore discards entries. Used when history is disabled.
type NopStore struct{}

var _ Store = NopStore{}

func (NopStore) Append(context.Context, Entry) (uint64, error)    { return 0, nil }
func (NopStore) SetOutcome(context.Context, uint64, string) error { return nil }
func (NopStore) List(context.Context, int) ([]Entry, error)       { return nil, nil }
func (NopStore) BootSequence() uint64                             { return 0 }
func (NopStore) Close() error                                     { return nil }
