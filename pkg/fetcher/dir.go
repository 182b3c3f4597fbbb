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

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DirFetcher implements the Fetcher interface for a local directory.
// The directory is read in place; the store copies what it installs.
type DirFetcher struct {
	path string
}

// NewDirFetcher creates a fetcher for a local directory.
func NewDirFetcher(path string) *DirFetcher {
	return &DirFetcher{path: path}
}

// Type returns the source type.
func (f *DirFetcher) Type() string {
	return "dir"
}

// Fetch resolves the directory and hashes its contents as the revision.
func (f *DirFetcher) Fetch(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SourceFetchError{Source: f.path, Err: err}
	}

	abs, err := filepath.Abs(f.path)
	if err != nil {
		return nil, &SourceFetchError{Source: f.path, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, &SourceFetchError{Source: abs, Err: err}
	}
	if !info.IsDir() {
		return nil, &SourceFetchError{Source: abs, Err: errors.New("not a directory")}
	}

	hash, err := CalculateDirectoryHash(abs)
	if err != nil {
		return nil, &SourceFetchError{Source: abs, Err: fmt.Errorf("failed to read directory: %w", err)}
	}

	return &Snapshot{
		Dir:          abs,
		Revision:     "sha256:" + hash,
		LastModified: info.ModTime(),
	}, nil
}

// CopyDirectory recursively copies a directory from src to dst.
// All file permissions are preserved.
func CopyDirectory(src, dst string) error {
	return CopyDirectoryExcluding(src, dst, nil)
}

// CopyDirectoryExcluding recursively copies a directory from src to dst,
// excluding any paths matching the provided patterns.
// Patterns are matched against the relative path from src and against the base name.
// Symlinks are not followed or copied so an installed template cannot point
// outside its own directory.
func CopyDirectoryExcluding(src, dst string, exclude []string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		for _, pattern := range exclude {
			matchedRel, _ := filepath.Match(pattern, relPath)
			matchedName, _ := filepath.Match(pattern, info.Name())
			if matchedRel || matchedName {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		targetPath := filepath.Join(dst, relPath)

		if info.IsDir() {
			return os.MkdirAll(targetPath, info.Mode().Perm()|0700)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFileWithMode(path, targetPath, info.Mode().Perm())
	})
}

// copyFileWithMode copies a file preserving its mode.
func copyFileWithMode(src, dst string, mode os.FileMode) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = sourceFile.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	destFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		_ = destFile.Close()
		return err
	}

	if err := destFile.Sync(); err != nil {
		_ = destFile.Close()
		return err
	}

	return destFile.Close()
}

// Ensure DirFetcher implements Fetcher interface.
var _ Fetcher = (*DirFetcher)(nil)
