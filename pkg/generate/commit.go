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

package generate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/gofrs/flock"

	"github.com/altairalabs/stencil/internal/fsutil"
	"github.com/altairalabs/stencil/pkg/logctx"
	"github.com/altairalabs/stencil/pkg/manifest"
)

var (
	// ErrTargetBusy is returned when another process is committing to the
	// same application.
	ErrTargetBusy = errors.New("another generation is committing to this target")

	// ErrManifestChanged is returned when the application manifest changed
	// between ResolveInputs and Commit.
	ErrManifestChanged = errors.New("application manifest changed during generation")

	// ErrFileExists is returned when a component file would overwrite an
	// existing file.
	ErrFileExists = errors.New("file already exists in the application")
)

// CommitError is a failure applying a request to its target. The target is
// left as it was before the request.
type CommitError struct {
	Target string
	Err    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit to %s failed: %v", e.Target, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// targetLocks serializes commits per target inside the process.
type targetLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTargetLocks() *targetLocks {
	return &targetLocks{locks: make(map[string]*sync.Mutex)}
}

func (t *targetLocks) lock(key string) func() {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	t.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// lockPath returns the lock file for root inside dir. Lock files live
// outside the user's tree and are never removed, so every process locks the
// same inode.
func lockPath(dir, root string) string {
	sum := sha256.Sum256([]byte(root))
	return filepath.Join(dir, hex.EncodeToString(sum[:12])+".lock")
}

// lockFile takes the cross-process lock for root. The operating system drops
// the lock when the holder exits, however it exits.
func lockFile(dir, root string) (func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	fl := flock.New(lockPath(dir, root))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", root, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock file %s)", ErrTargetBusy, fl.Path())
	}
	return func() { _ = fl.Unlock() }, nil
}

func (e *Engine) commit(ctx context.Context, st *stage, in *inputs, p *plan) (*Result, error) {
	log := logctx.LoggerWithContext(e.log, ctx)

	unlock := e.locks.lock(in.root)
	defer unlock()
	release, err := lockFile(e.lockDir, in.root)
	if err != nil {
		return nil, &CommitError{Target: in.root, Err: err}
	}
	defer release()

	if in.manifestPath == "" {
		files := st.paths()
		if err := commitCreate(st, in.root); err != nil {
			return nil, &CommitError{Target: in.root, Err: err}
		}
		log.V(1).Info("stage renamed onto target")
		return &Result{Root: in.root, Files: files}, nil
	}

	result, err := commitIncremental(st, in, p)
	if err != nil {
		return nil, &CommitError{Target: in.manifestPath, Err: err}
	}
	log.V(1).Info("components merged", "components", result.Components)
	return result, nil
}

// commitCreate renames the stage onto root, which must be absent or empty.
func commitCreate(st *stage, root string) error {
	if err := checkCreatable(root); err != nil {
		return err
	}
	if empty, _ := fsutil.IsEmptyDir(root); empty {
		if err := os.Remove(root); err != nil {
			return err
		}
	}
	if err := os.Rename(st.dir, root); err != nil {
		return err
	}
	st.done = true
	return fsutil.SyncDir(filepath.Dir(root))
}

type move struct {
	from, to string
}

// commitIncremental moves component files into the application and then
// replaces the manifest. Moved files are moved back if any step fails.
func commitIncremental(st *stage, in *inputs, p *plan) (*Result, error) {
	current, err := os.ReadFile(in.manifestPath)
	if err != nil {
		return nil, err
	}
	if manifest.Digest(current) != in.digest {
		return nil, ErrManifestChanged
	}

	merged, err := manifest.Merge(current, p.components)
	if err != nil {
		return nil, err
	}

	targets := make([]string, 0, len(p.moves))
	for from := range p.moves {
		targets = append(targets, from)
	}
	sort.Strings(targets)

	moves := make([]move, 0, len(targets))
	written := make([]string, 0, len(targets)+1)
	for _, from := range targets {
		rel := p.moves[from]
		src, err := st.path(from)
		if err != nil {
			return nil, err
		}
		dst, err := securejoin.SecureJoin(in.root, filepath.FromSlash(rel))
		if err != nil {
			return nil, err
		}
		exists, err := fsutil.Exists(dst)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrFileExists, rel)
		}
		moves = append(moves, move{from: src, to: dst})
		written = append(written, rel)
	}

	var done []move
	var created []string
	rollback := func() {
		for i := len(done) - 1; i >= 0; i-- {
			_ = os.Rename(done[i].to, done[i].from)
		}
		for i := len(created) - 1; i >= 0; i-- {
			_ = os.Remove(created[i])
		}
	}

	for _, m := range moves {
		dirs, err := mkdirAllTracked(filepath.Dir(m.to))
		created = append(created, dirs...)
		if err != nil {
			rollback()
			return nil, err
		}
		if err := os.Rename(m.from, m.to); err != nil {
			rollback()
			return nil, err
		}
		done = append(done, m)
	}

	perm := in.manifestPerm
	if perm == 0 {
		perm = 0o644
	}
	if err := fsutil.WriteFileAtomic(in.manifestPath, merged, perm); err != nil {
		rollback()
		return nil, err
	}

	ids := make([]string, len(p.components))
	for i, c := range p.components {
		ids[i] = c.ID
	}
	written = append(written, manifest.FileName)
	return &Result{Root: in.root, Files: written, Components: ids}, nil
}

// mkdirAllTracked creates dir and its missing parents, returning the
// directories it created from the outermost in.
func mkdirAllTracked(dir string) ([]string, error) {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		exists, err := fsutil.Exists(d)
		if err != nil {
			return nil, err
		}
		if exists {
			break
		}
		missing = append(missing, d)
		if filepath.Dir(d) == d {
			break
		}
	}
	var created []string
	for i := len(missing) - 1; i >= 0; i-- {
		if err := os.Mkdir(missing[i], 0o755); err != nil {
			return created, err
		}
		created = append(created, missing[i])
	}
	return created, nil
}
