package strategies

import (
	"github.com/StinkyLord/modlist-builder/internal/catalog"
	"github.com/StinkyLord/modlist-builder/internal/model"
	"github.com/StinkyLord/modlist-builder/internal/vfs"
)

// IncludePatchesStrategy pairs a file with an archived file of the same
// name but different content. The patch itself is built later; the
// directive returned here carries no patch id yet.
type IncludePatchesStrategy struct{}

func (s *IncludePatchesStrategy) Name() string { return "include-patches" }

func (s *IncludePatchesStrategy) Match(file model.SourceFile, index *vfs.Index, cat *catalog.Catalog) (model.Directive, bool) {
	for _, id := range cat.MembersNamed(file.Path.FileName()) {
		n := index.Node(id)
		if n.Hash == file.Hash {
			continue
		}
		archived, ok := archivePath(id, index, cat)
		if !ok {
			continue
		}
		return model.NewPatchedFromArchive(file, archived, id, n.Hash), true
	}
	return nil, false
}
