package strategies

import (
	"github.com/StinkyLord/modlist-builder/internal/catalog"
	"github.com/StinkyLord/modlist-builder/internal/model"
	"github.com/StinkyLord/modlist-builder/internal/vfs"
)

// DirectMatchStrategy places a file that is byte-identical to a file in a
// downloaded archive. The shallowest copy wins.
type DirectMatchStrategy struct{}

func (s *DirectMatchStrategy) Name() string { return "direct-match" }

func (s *DirectMatchStrategy) Match(file model.SourceFile, index *vfs.Index, cat *catalog.Catalog) (model.Directive, bool) {
	for _, id := range index.ByHash(file.Hash) {
		if id == file.Node {
			continue
		}
		if path, ok := archivePath(id, index, cat); ok {
			return model.NewFromArchive(file, path), true
		}
	}
	return nil, false
}

// archivePath locates id inside a cataloged archive.
func archivePath(id model.NodeID, index *vfs.Index, cat *catalog.Catalog) (model.ArchiveHashPath, bool) {
	chain := index.Chain(id)
	if !cat.IsArchive(chain[0]) {
		return model.ArchiveHashPath{}, false
	}
	entry, ok := cat.ByFullPath(index.FullPath(chain[0]))
	if !ok {
		return model.ArchiveHashPath{}, false
	}
	parts := make([]model.RelativePath, 0, len(chain)-1)
	for _, c := range chain[1:] {
		parts = append(parts, model.RelativePath(index.Node(c).Name))
	}
	return model.ArchiveHashPath{BaseHash: entry.Hash, Parts: parts}, true
}
