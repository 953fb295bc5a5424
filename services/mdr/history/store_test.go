// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"testing"

	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
	mdrbadger "github.com/AleutianAI/AleutianMDR/services/mdr/storage/badger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerStore_AppendList(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, mdrbadger.InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, uint64(1), s.BootSequence())

	for i, core := range []datatypes.Core{datatypes.CoreAP, datatypes.CoreCP, datatypes.CoreHIFI} {
		seq, err := s.Append(ctx, Entry{
			ID:     uuid.New(),
			ModID:  uint32(0x100 + i),
			Record: datatypes.ReportRecordEntry{Category: "MDR", Core: core},
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), seq)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, datatypes.CoreHIFI, all[0].Record.Core, "newest first")
	assert.Equal(t, uint64(3), all[0].Seq)
	assert.Equal(t, uint32(0x100), all[2].ModID)
	assert.False(t, all[0].StoredAt.IsZero())

	two, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestBadgerStore_BootSequenceAdvancesOnReopen(t *testing.T) {
	ctx := context.Background()
	cfg := mdrbadger.DefaultConfig(t.TempDir())
	cfg.GCInterval = 0

	var seqs []uint64
	for i := 0; i < 3; i++ {
		s, err := Open(ctx, cfg)
		require.NoError(t, err)
		seqs = append(seqs, s.BootSequence())
		_, err = s.Append(ctx, Entry{ModID: uint32(i)})
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}
	assert.Equal(t, []uint64{1, 2, 3}, seqs)

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()
	entries, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(3), entries[0].Seq, "fault sequence continues across boots")
}

func TestBadgerStore_SetOutcome(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, mdrbadger.InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()

	seq, err := s.Append(ctx, Entry{ModID: 7, Outcome: OutcomeRecorded})
	require.NoError(t, err)
	require.NoError(t, s.SetOutcome(ctx, seq, OutcomeHandled))

	entries, err := s.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, OutcomeHandled, entries[0].Outcome)
	assert.Equal(t, uint32(7), entries[0].ModID)
	assert.Equal(t, seq, entries[0].Seq)

	assert.ErrorIs(t, s.SetOutcome(ctx, seq+1, OutcomeHandled), ErrNotFound)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.SetOutcome(ctx, seq, OutcomeRestarted), ErrClosed)
}

func TestBadgerStore_Closed(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, mdrbadger.InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Append(ctx, Entry{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.List(ctx, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBadgerStore_EmptyList(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, mdrbadger.InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.List(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
