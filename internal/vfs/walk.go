package vfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/StinkyLord/modlist-builder/internal/model"
	"github.com/StinkyLord/modlist-builder/internal/workpool"
)

// perFileMemory is the working set assumed per concurrent indexing task
// when no worker count is configured.
const perFileMemory = 256 << 20

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 1<<20)
		return &b
	},
}

// AddRoots indexes each root in order.
func (ix *Index) AddRoots(ctx context.Context, roots []string) error {
	for _, root := range roots {
		if err := ix.AddRoot(ctx, root); err != nil {
			return err
		}
	}
	return nil
}

// AddRoot indexes every file under root. Files already in the index are
// skipped; files whose size and modification time match a loaded cache
// snapshot are taken from it without hashing.
func (ix *Index) AddRoot(ctx context.Context, root string) error {
	root = filepath.Clean(root)
	info, err := ix.fs.Stat(root)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrMissingRoot, root)
	}

	ix.mu.RLock()
	done := ix.roots[root]
	ix.mu.RUnlock()
	if done {
		return nil
	}

	var files []string
	err = afero.Walk(ix.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			ix.logger.Warn("skipping unreadable path", "path", path, "error", err)
			ix.skip(path, err)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if _, ok := ix.ByPath(path); ok {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", root, err)
	}
	slices.Sort(files)

	workers := ix.workers
	if workers < 1 {
		workers = workpool.Recommend(perFileMemory)
	}
	var reused int
	var reusedMu sync.Mutex
	entries, err := workpool.Map(ctx, files, workers, func(ctx context.Context, path string) (*entry, error) {
		if e := ix.fromPrior(path); e != nil {
			reusedMu.Lock()
			reused++
			reusedMu.Unlock()
			return e, nil
		}
		e, err := ix.indexFile(ctx, path, filepath.Base(path), path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			ix.logger.Warn("skipping file", "path", path, "error", err)
			ix.skip(path, err)
			return nil, nil
		}
		e.name = path
		return e, nil
	}, nil)
	if err != nil {
		return fmt.Errorf("indexing %s: %w", root, err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, e := range entries {
		if e == nil {
			continue
		}
		if _, ok := ix.byPath[e.name]; ok {
			continue
		}
		ix.merge(e, model.NoParent, 0)
		delete(ix.skipped, e.name)
	}
	ix.roots[root] = true
	ix.logger.Info("indexed root", "root", root, "files", len(files), "from_cache", reused)
	return nil
}

func (ix *Index) skip(path string, err error) {
	ix.mu.Lock()
	ix.skipped[path] = err
	ix.mu.Unlock()
}

// fromPrior returns the cached subtree for path if the file is unchanged.
func (ix *Index) fromPrior(path string) *entry {
	ix.mu.RLock()
	e := ix.prior[path]
	ix.mu.RUnlock()
	if e == nil {
		return nil
	}
	info, err := ix.fs.Stat(path)
	if err != nil || info.Size() != e.size || !info.ModTime().Equal(e.modTime) {
		return nil
	}
	return e
}

// indexFile hashes the file at path and, if it is an archive, unpacks and
// indexes its contents. name is the entry name recorded for the node.
func (ix *Index) indexFile(ctx context.Context, path, name, label string) (*entry, error) {
	info, err := ix.fs.Stat(path)
	if err != nil {
		return nil, err
	}
	hash, err := ix.hashFile(path)
	if err != nil {
		return nil, fmt.Errorf("hashing %s: %w", label, err)
	}
	e := &entry{
		name:    name,
		hash:    hash,
		size:    info.Size(),
		modTime: info.ModTime(),
	}
	if ix.extractor == nil || !ix.extractor.CanExtract(name) {
		return e, nil
	}

	e.archive = true
	children, err := ix.indexArchive(ctx, path, label)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ix.logger.Warn("archive extraction failed, contents not indexed", "archive", label, "error", err)
		return e, nil
	}
	e.children = children
	return e, nil
}

func (ix *Index) indexArchive(ctx context.Context, path, label string) ([]*entry, error) {
	dir, err := ix.scratchDir()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ix.fs.RemoveAll(dir); err != nil {
			ix.logger.Warn("removing scratch directory", "dir", dir, "error", err)
		}
	}()

	if err := ix.extractor.Extract(ctx, path, dir); err != nil {
		return nil, err
	}

	var inner []string
	err = afero.Walk(ix.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			inner = append(inner, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking extracted %s: %w", label, err)
	}
	slices.Sort(inner)

	children := make([]*entry, 0, len(inner))
	for _, p := range inner {
		if err := workpool.Cancelled(ctx); err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return nil, err
		}
		name := filepath.ToSlash(rel)
		child, err := ix.indexFile(ctx, p, name, label+NestSeparator+name)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func (ix *Index) scratchDir() (string, error) {
	dir := filepath.Join(ix.scratch, uuid.NewString())
	if err := ix.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating scratch directory: %w", err)
	}
	return dir, nil
}

func (ix *Index) hashFile(path string) (model.Hash, error) {
	f, err := ix.fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := bufPool.Get().(*[]byte)
	defer bufPool.Put(buf)

	d := xxhash.New()
	if _, err := io.CopyBuffer(d, f, *buf); err != nil {
		return 0, err
	}
	return model.Hash(d.Sum64()), nil
}
