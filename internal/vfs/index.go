// Package vfs is the content index: a flattened tree of every file under a
// set of root folders, including files nested inside archives to any depth.
//
// Nodes live in one arena slice and refer to each other by model.NodeID.
// A top-level node is a real file and its Name is its absolute path. A
// nested node's Name is its slash path inside the parent archive, and its
// full path is the parent's full path, a '|' and that name.
package vfs

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/StinkyLord/modlist-builder/internal/model"
)

// NestSeparator joins the segments of a nested node's full path.
const NestSeparator = "|"

var (
	// ErrMissingRoot is returned when a root folder does not exist.
	ErrMissingRoot = errors.New("root folder does not exist")
	// ErrStaleCache is returned when a cache snapshot belongs to another root.
	ErrStaleCache = errors.New("index cache is stale")
	// ErrHashMismatch is returned when staged bytes no longer match the index.
	ErrHashMismatch = errors.New("content hash mismatch")
	// ErrUnindexed is returned when files under a root could not be indexed.
	ErrUnindexed = errors.New("files could not be indexed")
)

// Extractor unpacks archives found while indexing.
type Extractor interface {
	CanExtract(name string) bool
	Extract(ctx context.Context, archive, dest string) error
}

// Node is one indexed file.
type Node struct {
	Name     string
	Hash     model.Hash
	Size     int64
	ModTime  time.Time
	Depth    int
	Parent   model.NodeID
	Children []model.NodeID
	Archive  bool

	fullPath string
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// WithScratchDir sets where archives are unpacked while indexing.
func WithScratchDir(dir string) Option {
	return func(ix *Index) { ix.scratch = dir }
}

// WithWorkers bounds how many top-level files are indexed at once.
func WithWorkers(n int) Option {
	return func(ix *Index) { ix.workers = n }
}

// Index is the content index. Lookups are safe for concurrent use once
// indexing has finished.
type Index struct {
	fs        afero.Fs
	extractor Extractor
	logger    *slog.Logger
	scratch   string
	workers   int

	mu     sync.RWMutex
	nodes  []Node
	byPath map[string]model.NodeID
	byHash map[model.Hash][]model.NodeID
	roots  map[string]bool
	prior  map[string]*entry
	// skipped holds real files or folders the walk found but could not index.
	skipped map[string]error
}

// New returns an empty index reading through fs. A nil extractor indexes
// archives as plain files.
func New(fs afero.Fs, extractor Extractor, opts ...Option) *Index {
	ix := &Index{
		fs:        fs,
		extractor: extractor,
		logger:    slog.New(slog.DiscardHandler),
		scratch:   filepath.Join(os.TempDir(), "modlist-builder"),
		byPath:    make(map[string]model.NodeID),
		byHash:    make(map[model.Hash][]model.NodeID),
		roots:     make(map[string]bool),
		prior:     make(map[string]*entry),
		skipped:   make(map[string]error),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Len returns the number of indexed nodes.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.nodes)
}

// Node returns the node for id. The pointer must not be retained across
// further indexing.
func (ix *Index) Node(id model.NodeID) *Node {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return &ix.nodes[id]
}

// ByPath looks up a node by full path.
func (ix *Index) ByPath(path string) (model.NodeID, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	id, ok := ix.byPath[path]
	return id, ok
}

// ByHash returns every node with content hash h, shallowest first. Nodes at
// the same depth are ordered by full path.
func (ix *Index) ByHash(h model.Hash) []model.NodeID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids := slices.Clone(ix.byHash[h])
	slices.SortFunc(ids, func(a, b model.NodeID) int {
		na, nb := &ix.nodes[a], &ix.nodes[b]
		if c := cmp.Compare(na.Depth, nb.Depth); c != 0 {
			return c
		}
		return strings.Compare(na.fullPath, nb.fullPath)
	})
	return ids
}

// FullPath returns the node's absolute path, with nested segments joined
// by NestSeparator.
func (ix *Index) FullPath(id model.NodeID) string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.nodes[id].fullPath
}

// TopLevel returns the real file that contains id, or id itself.
func (ix *Index) TopLevel(id model.NodeID) model.NodeID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for ix.nodes[id].Parent != model.NoParent {
		id = ix.nodes[id].Parent
	}
	return id
}

// Chain returns the ids from the top-level ancestor down to id.
func (ix *Index) Chain(id model.NodeID) []model.NodeID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var chain []model.NodeID
	for cur := id; cur != model.NoParent; cur = ix.nodes[cur].Parent {
		chain = append(chain, cur)
	}
	slices.Reverse(chain)
	return chain
}

// IsUnder reports whether id's top-level file lives inside root.
func (ix *Index) IsUnder(id model.NodeID, root string) bool {
	top := ix.Node(ix.TopLevel(id)).Name
	return isUnder(top, root)
}

// TopLevelUnder returns the top-level nodes inside root in path order.
func (ix *Index) TopLevelUnder(root string) []model.NodeID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var ids []model.NodeID
	for i := range ix.nodes {
		n := &ix.nodes[i]
		if n.Parent == model.NoParent && isUnder(n.Name, root) {
			ids = append(ids, model.NodeID(i))
		}
	}
	slices.SortFunc(ids, func(a, b model.NodeID) int {
		return strings.Compare(ix.nodes[a].Name, ix.nodes[b].Name)
	})
	return ids
}

// Unindexed returns the paths under root that were found while walking but
// could not be read or hashed, sorted.
func (ix *Index) Unindexed(root string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var paths []string
	for p := range ix.skipped {
		if isUnder(p, root) {
			paths = append(paths, p)
		}
	}
	slices.Sort(paths)
	return paths
}

// Walk calls fn for id and every node below it, parents first.
func (ix *Index) Walk(id model.NodeID, fn func(model.NodeID, *Node)) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ix.walkLocked(id, fn)
}

func (ix *Index) walkLocked(id model.NodeID, fn func(model.NodeID, *Node)) {
	n := &ix.nodes[id]
	fn(id, n)
	for _, c := range n.Children {
		ix.walkLocked(c, fn)
	}
}

func isUnder(path, root string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// entry is a detached subtree built by a worker before it is merged into
// the arena. Warm-start snapshots are held in the same form.
type entry struct {
	name     string
	hash     model.Hash
	size     int64
	modTime  time.Time
	archive  bool
	children []*entry
}

// merge appends e and its descendants to the arena. Callers hold mu.
func (ix *Index) merge(e *entry, parent model.NodeID, depth int) model.NodeID {
	id := model.NodeID(len(ix.nodes))
	full := e.name
	if parent != model.NoParent {
		full = ix.nodes[parent].fullPath + NestSeparator + e.name
	}
	ix.nodes = append(ix.nodes, Node{
		Name:     e.name,
		Hash:     e.hash,
		Size:     e.size,
		ModTime:  e.modTime,
		Depth:    depth,
		Parent:   parent,
		Archive:  e.archive,
		fullPath: full,
	})
	ix.byPath[full] = id
	ix.byHash[e.hash] = append(ix.byHash[e.hash], id)

	children := make([]model.NodeID, 0, len(e.children))
	for _, c := range e.children {
		children = append(children, ix.merge(c, id, depth+1))
	}
	ix.nodes[id].Children = children
	return id
}
