package strategies

import (
	"github.com/StinkyLord/modlist-builder/internal/catalog"
	"github.com/StinkyLord/modlist-builder/internal/model"
	"github.com/StinkyLord/modlist-builder/internal/vfs"
)

// DropAllStrategy accepts every file as unmatched. It ends every pipeline.
type DropAllStrategy struct{}

func (s *DropAllStrategy) Name() string { return "drop-all" }

func (s *DropAllStrategy) Match(file model.SourceFile, _ *vfs.Index, _ *catalog.Catalog) (model.Directive, bool) {
	return model.NewNoMatch(file, "no archive contains this file or a file with the same name"), true
}

func (s *DropAllStrategy) terminal() {}

// Default returns the standard pipeline: downloads, the tool's own folders
// (output, cache, scratch) and configured globs are ignored, configured globs
// are inlined, then exact and patch matches are tried before giving up.
// Empty own folders are skipped.
func Default(downloadsDir string, ignore, inline []string, ownDirs ...string) (*Pipeline, error) {
	ignorer, err := NewIgnorePattern(ignore...)
	if err != nil {
		return nil, err
	}
	inliner, err := NewInlinePattern(inline...)
	if err != nil {
		return nil, err
	}
	stack := []Strategy{
		&IgnoreUnderFolderStrategy{Folder: downloadsDir, Reason: "file is in the downloads folder"},
	}
	for _, dir := range ownDirs {
		if dir != "" {
			stack = append(stack, &IgnoreUnderFolderStrategy{Folder: dir, Reason: "file was written by modlist-builder"})
		}
	}
	stack = append(stack,
		ignorer,
		inliner,
		&DirectMatchStrategy{},
		&IncludePatchesStrategy{},
		&DropAllStrategy{},
	)
	return NewPipeline(stack...)
}
