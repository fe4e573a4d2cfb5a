package vfs

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"

	"github.com/StinkyLord/modlist-builder/internal/codec"
	"github.com/StinkyLord/modlist-builder/internal/model"
)

const (
	cacheMagic   = "MLVC"
	cacheVersion = 1
)

// snapshot is the on-disk form of one root's subtrees. Nodes are stored in
// pre-order; Parent indexes into Nodes and is -1 for top-level files.
type snapshot struct {
	Version int          `cbor:"version"`
	RootKey string       `cbor:"root_key"`
	Root    string       `cbor:"root"`
	Nodes   []cachedNode `cbor:"nodes"`
}

type cachedNode struct {
	Name    string `cbor:"name"`
	Hash    uint64 `cbor:"hash"`
	Size    int64  `cbor:"size"`
	ModTime int64  `cbor:"mtime"`
	Parent  int32  `cbor:"parent"`
	Archive bool   `cbor:"archive,omitempty"`
}

func rootKey(root string) string {
	sum := blake3.Sum256([]byte(filepath.Clean(root)))
	return hex.EncodeToString(sum[:])
}

// CachePath returns the snapshot file used for root inside dir.
func CachePath(dir, root string) string {
	return filepath.Join(dir, rootKey(root)[:32]+".vfscache")
}

// WriteCache stores the indexed contents of root at path. The file is
// replaced atomically.
func (ix *Index) WriteCache(path, root string) error {
	snap := snapshot{
		Version: cacheVersion,
		RootKey: rootKey(root),
		Root:    filepath.Clean(root),
	}
	ix.mu.RLock()
	for i := range ix.nodes {
		n := &ix.nodes[i]
		if n.Parent != model.NoParent || !isUnder(n.Name, root) {
			continue
		}
		ix.appendCached(&snap, model.NodeID(i), -1)
	}
	ix.mu.RUnlock()

	if err := ix.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := writeSnapshot(ix.fs, tmp, &snap); err != nil {
		_ = ix.fs.Remove(tmp)
		return fmt.Errorf("writing index cache: %w", err)
	}
	if err := ix.fs.Rename(tmp, path); err != nil {
		_ = ix.fs.Remove(tmp)
		return fmt.Errorf("replacing index cache: %w", err)
	}
	ix.logger.Debug("wrote index cache", "path", path, "nodes", len(snap.Nodes))
	return nil
}

func (ix *Index) appendCached(snap *snapshot, id model.NodeID, parent int32) {
	n := &ix.nodes[id]
	self := int32(len(snap.Nodes))
	snap.Nodes = append(snap.Nodes, cachedNode{
		Name:    n.Name,
		Hash:    uint64(n.Hash),
		Size:    n.Size,
		ModTime: n.ModTime.UnixNano(),
		Parent:  parent,
		Archive: n.Archive,
	})
	for _, c := range n.Children {
		ix.appendCached(snap, c, self)
	}
}

func writeSnapshot(fs afero.Fs, path string, snap *snapshot) error {
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(cacheMagic); err != nil {
		f.Close()
		return err
	}
	zw := lz4.NewWriter(w)
	if err := codec.NewEncoder(zw).Encode(snap); err != nil {
		f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadCache reads the snapshot at path for root. Its subtrees are reused
// by the next AddRoot for files whose size and modification time are
// unchanged; everything else is indexed again. A snapshot written for a
// different root fails with ErrStaleCache.
func (ix *Index) LoadCache(path, root string) error {
	f, err := ix.fs.Open(path)
	if err != nil {
		return fmt.Errorf("opening index cache: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(cacheMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != cacheMagic {
		return fmt.Errorf("%w: %s is not an index cache", ErrStaleCache, path)
	}
	var snap snapshot
	if err := codec.NewDecoder(lz4.NewReader(r)).Decode(&snap); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrStaleCache, path, err)
	}
	if snap.Version != cacheVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrStaleCache, snap.Version, cacheVersion)
	}
	if snap.RootKey != rootKey(root) {
		return fmt.Errorf("%w: snapshot is for %s, not %s", ErrStaleCache, snap.Root, root)
	}

	entries := make([]*entry, len(snap.Nodes))
	prior := make(map[string]*entry)
	for i, cn := range snap.Nodes {
		e := &entry{
			name:    cn.Name,
			hash:    model.Hash(cn.Hash),
			size:    cn.Size,
			modTime: time.Unix(0, cn.ModTime),
			archive: cn.Archive,
		}
		entries[i] = e
		switch {
		case cn.Parent < 0:
			prior[cn.Name] = e
		case int(cn.Parent) < i:
			p := entries[cn.Parent]
			p.children = append(p.children, e)
		default:
			return fmt.Errorf("%w: node %d has forward parent %d", ErrStaleCache, i, cn.Parent)
		}
	}

	ix.mu.Lock()
	for k, e := range prior {
		ix.prior[k] = e
	}
	ix.mu.Unlock()
	ix.logger.Debug("loaded index cache", "path", path, "files", len(prior), "nodes", len(entries))
	return nil
}
