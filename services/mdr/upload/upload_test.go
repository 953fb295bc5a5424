// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package upload

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu      sync.Mutex
	objects map[string][]byte
}

type memWriter struct {
	bytes.Buffer
	name string
	sink *memSink
}

func (w *memWriter) Close() error {
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	w.sink.objects[w.name] = w.Bytes()
	return nil
}

func (s *memSink) NewWriter(_ context.Context, name string) io.WriteCloser {
	return &memWriter{name: name, sink: s}
}

func newTestUploader(prefix string) (*GCSUploader, *memSink) {
	sink := &memSink{objects: make(map[string][]byte)}
	return &GCSUploader{sink: sink, bucket: "test", prefix: prefix, logger: slog.Default()}, sink
}

func TestGCSUploader_RecordAndDump(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ap"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ap", "log.txt"), []byte("log"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cp.bin"), []byte{1, 2}, 0o644))

	u, sink := newTestUploader("faults")
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	err := u.Upload(context.Background(), Artifact{
		BootSeq:  7,
		ID:       id,
		Record:   []byte(`{"modid":1}`),
		DumpPath: dir,
	})
	require.NoError(t, err)

	base := "faults/7/" + id.String()
	assert.Equal(t, []byte(`{"modid":1}`), sink.objects[base+"/record.json"])
	assert.Equal(t, []byte("log"), sink.objects[base+"/dump/ap/log.txt"])
	assert.Equal(t, []byte{1, 2}, sink.objects[base+"/dump/cp.bin"])
	assert.Len(t, sink.objects, 3)
}

func TestGCSUploader_MissingDumpDir(t *testing.T) {
	u, sink := newTestUploader("")
	err := u.Upload(context.Background(), Artifact{
		BootSeq:  1,
		ID:       uuid.New(),
		Record:   []byte("{}"),
		DumpPath: filepath.Join(t.TempDir(), "never-created"),
	})
	require.NoError(t, err)
	assert.Len(t, sink.objects, 1)
}

func TestNewGCSUploader_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := NewGCSUploader(ctx, Config{}, nil)
	assert.ErrorIs(t, err, ErrNoBucket)

	_, err = NewGCSUploader(ctx, Config{Bucket: "b", CredentialsFile: filepath.Join(t.TempDir(), "missing.json")}, nil)
	assert.ErrorIs(t, err, ErrCredentialsFile)
}

func TestArtifact_Prefix(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, "p/3/"+id.String(), Artifact{BootSeq: 3, ID: id}.Prefix("p"))
	assert.Equal(t, "3/"+id.String(), Artifact{BootSeq: 3, ID: id}.Prefix(""))
}
