// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianMDR/services/mdr/policy"
)

func TestLoadPolicy(t *testing.T) {
	t.Run("policy section", func(t *testing.T) {
		sw, ok, err := LoadPolicy(writeConfig(t, "policy:\n  modem: true\n  wireless: true\n"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, policy.Switches{Modem: true, Wireless: true}, sw)
	})

	t.Run("no policy section", func(t *testing.T) {
		_, ok, err := LoadPolicy(writeConfig(t, "category: MDR\n"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed", func(t *testing.T) {
		_, _, err := LoadPolicy(writeConfig(t, "policy: [\n"))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestPolicyWatcher_ReloadKeepsPreviousOnError(t *testing.T) {
	path := writeConfig(t, "policy:\n  modem: true\n")
	src := policy.NewSource(policy.Switches{})

	w, err := NewPolicyWatcher(path, src, nil)
	require.NoError(t, err)
	defer w.Stop()

	w.Reload()
	assert.True(t, src.Load().Modem)

	require.NoError(t, os.WriteFile(path, []byte("policy: {modem: [\n"), 0o600))
	w.Reload()
	assert.True(t, src.Load().Modem, "a broken file must not clear the switches")
}

func TestPolicyWatcher_FollowsFileWrites(t *testing.T) {
	path := writeConfig(t, "policy:\n  modem: false\n")
	src := policy.NewSource(policy.Switches{})

	w, err := NewPolicyWatcher(path, src, nil)
	require.NoError(t, err)

	applied := make(chan policy.Switches, 8)
	w.OnApply(func(sw policy.Switches) { applied <- sw })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Start(ctx)
	}()

	require.NoError(t, os.WriteFile(path, []byte("policy:\n  soc_coprocessors: true\n  wireless: true\n"), 0o600))

	require.Eventually(t, func() bool {
		sw := src.Load()
		return sw.SoCCoprocessors && sw.Wireless && !sw.Modem
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case sw := <-applied:
		assert.True(t, sw.Wireless)
	case <-time.After(time.Second):
		t.Fatal("OnApply was not called")
	}

	require.NoError(t, w.Stop())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
