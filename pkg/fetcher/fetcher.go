/*
Copyright 2026 Altaira Labs.

SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package fetcher provides interfaces and implementations for fetching
// template sources (Git repositories and local directories) onto local disk.
package fetcher

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Snapshot is a fetched source tree on local disk.
type Snapshot struct {
	// Dir is the root of the fetched tree.
	Dir string

	// Revision is the source revision identifier: the commit SHA for Git
	// sources, the content hash for directories.
	Revision string

	// LastModified is when the source was last modified.
	LastModified time.Time

	// tmpDir is removed by Close when set.
	tmpDir string
}

// Close releases any temporary files backing the snapshot.
func (s *Snapshot) Close() error {
	if s == nil || s.tmpDir == "" {
		return nil
	}
	return os.RemoveAll(s.tmpDir)
}

// Fetcher defines the interface for fetching template sources.
type Fetcher interface {
	// Fetch materializes the source and returns a Snapshot. Callers must
	// Close the snapshot when done. Every error is a *SourceFetchError.
	Fetch(ctx context.Context) (*Snapshot, error)

	// Type returns the source type (git, dir).
	Type() string
}

// Options contains common options for fetcher implementations.
type Options struct {
	// Timeout is the maximum duration for fetch operations.
	Timeout time.Duration

	// WorkDir is the directory for temporary files during fetch.
	WorkDir string
}

// DefaultOptions returns default fetcher options.
func DefaultOptions() Options {
	return Options{
		Timeout: 2 * time.Minute,
		WorkDir: "",
	}
}

// SourceFetchError reports a source that could not be fetched. It is raised
// before any change to the template store.
type SourceFetchError struct {
	// Source is the URL or path that was fetched.
	Source string
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.Source, e.Err)
}

func (e *SourceFetchError) Unwrap() error {
	return e.Err
}
