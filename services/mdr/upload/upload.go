// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package upload ships fault artifacts to object storage.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

var (
	ErrNoBucket        = errors.New("upload bucket is not configured")
	ErrCredentialsFile = errors.New("service account key not found")
)

// Artifact is one processed fault ready for upload.
type Artifact struct {
	BootSeq  uint64
	ID       uuid.UUID
	Record   []byte // JSON-encoded history entry
	DumpPath string // directory of per-domain dumps; may be empty or absent
}

// Prefix returns "<prefix>/<bootseq>/<id>".
func (a Artifact) Prefix(prefix string) string {
	return path.Join(prefix, strconv.FormatUint(a.BootSeq, 10), a.ID.String())
}

// Uploader copies an artifact off the device.
type Uploader interface {
	Upload(ctx context.Context, a Artifact) error
	Close() error
}

// NopUploader drops artifacts.
type NopUploader struct{}

var _ Uploader = NopUploader{}

func (NopUploader) Upload(context.Context, Artifact) error { return nil }
func (NopUploader) Close() error                           { return nil }

// Config selects the destination bucket.
type Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket" validate:"required_if=Enabled true"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// objectSink opens object writers. *storage.BucketHandle satisfies it
// through bucketSink; tests substitute an in-memory sink.
type objectSink interface {
	NewWriter(ctx context.Context, name string) io.WriteCloser
}

type bucketSink struct {
	bucket *storage.BucketHandle
}

func (b bucketSink) NewWriter(ctx context.Context, name string) io.WriteCloser {
	w := b.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.CacheControl = "no-cache, no-store, must-revalidate"
	return w
}

// GCSUploader writes artifacts to Google Cloud Storage.
//
// # Description
//
// Each artifact becomes gs://<bucket>/<prefix>/<bootseq>/<id>/record.json
// plus one object per file under DumpPath, keeping relative paths.
type GCSUploader struct {
	client *storage.Client
	sink   objectSink
	bucket string
	prefix string
	logger *slog.Logger
}

var _ Uploader = (*GCSUploader)(nil)

// NewGCSUploader creates a storage client. Without CredentialsFile the
// client uses application default credentials.
func NewGCSUploader(ctx context.Context, cfg Config, logger *slog.Logger) (*GCSUploader, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	if logger == nil {
		logger = slog.Default()
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("%w at path %s: %v", ErrCredentialsFile, cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSUploader{
		client: client,
		sink:   bucketSink{bucket: client.Bucket(cfg.Bucket)},
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

// Upload writes the record and every dump file.
func (u *GCSUploader) Upload(ctx context.Context, a Artifact) error {
	base := a.Prefix(u.prefix)
	if err := u.put(ctx, path.Join(base, "record.json"), bytes.NewReader(a.Record)); err != nil {
		return err
	}
	if a.DumpPath == "" {
		return nil
	}

	count := 0
	err := filepath.WalkDir(a.DumpPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(a.DumpPath, p)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open the local file: %s: %w", p, err)
		}
		defer f.Close()
		count++
		return u.put(ctx, path.Join(base, "dump", filepath.ToSlash(rel)), f)
	})
	if errors.Is(err, fs.ErrNotExist) {
		// No domain produced a dump for this fault.
		err = nil
	}
	if err != nil {
		return fmt.Errorf("upload dump %s: %w", a.DumpPath, err)
	}
	u.logger.Info("uploaded fault artifact", "bucket", u.bucket, "prefix", base, "files", count)
	return nil
}

func (u *GCSUploader) put(ctx context.Context, name string, r io.Reader) error {
	w := u.sink.NewWriter(ctx, name)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("failed to copy to GCS object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", name, err)
	}
	return nil
}

// Close releases the storage client.
func (u *GCSUploader) Close() error {
	if u.client == nil {
		return nil
	}
	return u.client.Close()
}
