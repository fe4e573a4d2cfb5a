// Package catalog enumerates downloaded archives and their sidecar
// metadata.
package catalog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/StinkyLord/modlist-builder/internal/extract"
	"github.com/StinkyLord/modlist-builder/internal/model"
	"github.com/StinkyLord/modlist-builder/internal/vfs"
	"github.com/StinkyLord/modlist-builder/internal/workpool"
)

// MetaExt is the sidecar suffix appended to an archive's file name.
const MetaExt = ".meta"

// ErrInconsistent is returned when a downloaded archive is missing from the
// content index.
var ErrInconsistent = errors.New("catalog inconsistent with content index")

// Entry is one downloaded archive.
type Entry struct {
	Node    model.NodeID
	Hash    model.Hash
	Size    int64
	Name    string
	Path    string
	Format  string
	Meta    map[string]string
	RawMeta string
	State   model.ArchiveState
}

// Selected converts the entry to its manifest form.
func (e *Entry) Selected() model.SelectedArchive {
	return model.SelectedArchive{
		Hash:    e.Hash,
		Name:    e.Name,
		Size:    e.Size,
		Meta:    e.Meta,
		RawMeta: e.RawMeta,
		State:   e.State,
	}
}

// Catalog is the read-only set of downloaded archives.
type Catalog struct {
	entries []*Entry
	byPath  map[string]*Entry
	byNode  map[model.NodeID]*Entry
	byHash  map[model.Hash]*Entry
	members map[string][]model.NodeID
	logger  *slog.Logger
}

// Options configures Build.
type Options struct {
	Logger *slog.Logger
}

// Build catalogs every file under downloadsDir that has a sidecar. The
// index must already cover downloadsDir. Provenance is left empty until
// InferStates runs.
func Build(ctx context.Context, fs afero.Fs, index *vfs.Index, downloadsDir string, opts Options) (*Catalog, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var archives []string
	err := afero.Walk(fs, downloadsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() || strings.HasSuffix(strings.ToLower(path), MetaExt) {
			return nil
		}
		if _, err := fs.Stat(path + MetaExt); err != nil {
			logger.Debug("archive has no sidecar, skipping", "path", path)
			return nil
		}
		archives = append(archives, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking downloads %s: %w", downloadsDir, err)
	}

	entries := make([]*Entry, 0, len(archives))
	for _, path := range archives {
		if err := workpool.Cancelled(ctx); err != nil {
			return nil, err
		}
		id, ok := index.ByPath(path)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInconsistent, path)
		}
		raw, err := afero.ReadFile(fs, path+MetaExt)
		if err != nil {
			return nil, fmt.Errorf("reading sidecar for %s: %w", path, err)
		}
		node := index.Node(id)
		entries = append(entries, &Entry{
			Node:    id,
			Hash:    node.Hash,
			Size:    node.Size,
			Name:    filepath.Base(path),
			Path:    path,
			Format:  sniffFormat(fs, path),
			Meta:    ParseMeta(string(raw)),
			RawMeta: string(raw),
		})
	}

	c := New(entries)
	c.logger = logger
	c.members = membersByName(index, c.entries)
	for _, e := range c.entries {
		if e.Format == "" {
			logger.Debug("unrecognised archive format", "archive", e.Name)
		}
	}
	return c, nil
}

// InferStates fills every entry's provenance from its sidecar keys.
func (c *Catalog) InferStates(ctx context.Context, workers int) error {
	states, err := workpool.Map(ctx, c.entries, workers, func(_ context.Context, e *Entry) (model.ArchiveState, error) {
		return InferState(e.Meta), nil
	}, nil)
	if err != nil {
		return err
	}
	for i, e := range c.entries {
		e.State = states[i]
		if !e.State.Known() {
			c.logger.Warn("archive has unknown provenance", "archive", e.Name)
		}
	}
	return nil
}

// New returns a catalog over entries, sorted by name.
func New(entries []*Entry) *Catalog {
	slices.SortFunc(entries, func(a, b *Entry) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	c := &Catalog{
		logger:  slog.New(slog.DiscardHandler),
		entries: entries,
		byPath:  make(map[string]*Entry, len(entries)),
		byNode:  make(map[model.NodeID]*Entry, len(entries)),
		byHash:  make(map[model.Hash]*Entry, len(entries)),
	}
	for _, e := range entries {
		c.byPath[e.Path] = e
		c.byNode[e.Node] = e
		if _, dup := c.byHash[e.Hash]; !dup {
			c.byHash[e.Hash] = e
		}
	}
	return c
}

// sniffFormat names the container format from the file's leading bytes,
// falling back to its extension.
func sniffFormat(fs afero.Fs, path string) string {
	if f, err := fs.Open(path); err == nil {
		defer f.Close()
		header := make([]byte, extract.SniffLen)
		n, _ := io.ReadFull(f, header)
		if format := extract.Sniff(header[:n]); format != nil {
			return format.Name
		}
	}
	if format := extract.Lookup(path); format != nil {
		return format.Name
	}
	return ""
}

// Entries returns all entries sorted by name.
func (c *Catalog) Entries() []*Entry {
	return c.entries
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// ByFullPath returns the entry for an absolute archive path.
func (c *Catalog) ByFullPath(path string) (*Entry, bool) {
	e, ok := c.byPath[path]
	return e, ok
}

// ByHash returns an entry whose archive has hash h. Duplicated downloads
// resolve to the first by name.
func (c *Catalog) ByHash(h model.Hash) (*Entry, bool) {
	e, ok := c.byHash[h]
	return e, ok
}

// IsArchive reports whether id is a cataloged archive.
func (c *Catalog) IsArchive(id model.NodeID) bool {
	_, ok := c.byNode[id]
	return ok
}

// MembersNamed returns the files nested in cataloged archives whose base
// name matches name case-insensitively, shallowest first then by full path.
// The result is fixed when the catalog is built and must not be modified.
func (c *Catalog) MembersNamed(name string) []model.NodeID {
	return c.members[strings.ToLower(path.Base(name))]
}

func membersByName(index *vfs.Index, entries []*Entry) map[string][]model.NodeID {
	byName := make(map[string][]model.NodeID)
	for _, e := range entries {
		index.Walk(e.Node, func(id model.NodeID, n *vfs.Node) {
			if n.Parent == model.NoParent {
				return
			}
			key := strings.ToLower(path.Base(n.Name))
			byName[key] = append(byName[key], id)
		})
	}
	for _, ids := range byName {
		slices.SortFunc(ids, func(a, b model.NodeID) int {
			if c := cmp.Compare(index.Node(a).Depth, index.Node(b).Depth); c != 0 {
				return c
			}
			return strings.Compare(index.FullPath(a), index.FullPath(b))
		})
	}
	return byName
}
