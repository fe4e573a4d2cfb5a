// Package manifest assembles the exported modlist manifest from the
// classified directives and validates it before export.
package manifest

import (
	"slices"
	"strings"

	"github.com/StinkyLord/modlist-builder/internal/catalog"
	"github.com/StinkyLord/modlist-builder/internal/model"
)

// Info is the run-level data written into the manifest header.
type Info struct {
	Game        string
	ToolVersion string
	Metadata    model.Metadata
}

// Assemble builds the manifest. Ignored and unmatched directives are left
// out; the rest are ordered by target path. Selected archives are the
// catalog entries referenced by at least one directive, in catalog order.
func Assemble(directives []model.Directive, cat *catalog.Catalog, info Info) *model.Manifest {
	kept := make([]model.Directive, 0, len(directives))
	referenced := make(map[model.Hash]bool)
	for _, d := range directives {
		switch d.Kind() {
		case model.KindIgnored, model.KindNoMatch:
			continue
		}
		kept = append(kept, d)
		if h, ok := model.ArchiveHash(d); ok {
			referenced[h] = true
		}
	}
	slices.SortStableFunc(kept, func(a, b model.Directive) int {
		return strings.Compare(string(a.Target()), string(b.Target()))
	})

	selected := make([]*catalog.Entry, 0, len(referenced))
	for h := range referenced {
		if e, ok := cat.ByHash(h); ok {
			selected = append(selected, e)
		}
	}
	slices.SortFunc(selected, func(a, b *catalog.Entry) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	archives := make([]model.SelectedArchive, 0, len(selected))
	for _, e := range selected {
		archives = append(archives, e.Selected())
	}

	return &model.Manifest{
		Game:        info.Game,
		ToolVersion: info.ToolVersion,
		Metadata:    info.Metadata,
		Archives:    archives,
		Directives:  kept,
	}
}
