package strategies

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/StinkyLord/modlist-builder/internal/catalog"
	"github.com/StinkyLord/modlist-builder/internal/model"
	"github.com/StinkyLord/modlist-builder/internal/vfs"
)

type fakeExtractor struct {
	fs       afero.Fs
	archives map[string]map[string]string
}

func (f *fakeExtractor) CanExtract(name string) bool { return strings.HasSuffix(name, ".zip") }

func (f *fakeExtractor) Extract(_ context.Context, archive, dest string) error {
	files, ok := f.archives[filepath.Base(archive)]
	if !ok {
		return fmt.Errorf("%s: not an archive", archive)
	}
	for name, content := range files {
		if err := afero.WriteFile(f.fs, filepath.Join(dest, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

type env struct {
	index *vfs.Index
	cat   *catalog.Catalog
}

func setup(t *testing.T) *env {
	t.Helper()
	return setupWithArchive(t, map[string]string{
		"textures/a.dds": "AAA",
		"Plugin.esp":     "plugin-v1",
	})
}

// setupWithArchive builds an index and catalog where /dl/mod.zip unpacks
// to members.
func setupWithArchive(t *testing.T, members map[string]string) *env {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/game/Data/textures/a.dds": "AAA",
		"/game/Data/plugin.esp":     "plugin-v2",
		"/game/Data/local.ini":      "cfg",
		"/game/Data/debug.log":      "log",
		"/game/Data/unknown.bin":    "???",
		"/game/Data/dup1.txt":       "same",
		"/game/Data/dup2.txt":       "same",
		"/game/downloads/x.txt":     "AAA",
		"/dl/mod.zip":               "zip-bytes",
		"/dl/mod.zip.meta":          "directURL=https://example.com/mod.zip",
	}
	for p, c := range files {
		if err := afero.WriteFile(fs, p, []byte(c), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ex := &fakeExtractor{fs: fs, archives: map[string]map[string]string{"mod.zip": members}}
	ix := vfs.New(fs, ex, vfs.WithScratchDir("/scratch"))
	if err := ix.AddRoots(context.Background(), []string{"/game", "/dl"}); err != nil {
		t.Fatal(err)
	}
	cat, err := catalog.Build(context.Background(), fs, ix, "/dl", catalog.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return &env{index: ix, cat: cat}
}

func (e *env) source(t *testing.T, rel string) model.SourceFile {
	t.Helper()
	abs := filepath.Join("/game", filepath.FromSlash(rel))
	id, ok := e.index.ByPath(abs)
	if !ok {
		t.Fatalf("%s not indexed", abs)
	}
	n := e.index.Node(id)
	return model.SourceFile{Node: id, Path: model.RelativePath(rel), AbsPath: abs, Hash: n.Hash, Size: n.Size}
}

func (e *env) defaultPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := Default("/game/downloads", []string{"**/*.log"}, []string{"**/*.ini"})
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}
	return p
}

// ============================================================
// Pipeline construction
// ============================================================

func TestPipeline_RequiresTerminal(t *testing.T) {
	if _, err := NewPipeline(); !errors.Is(err, ErrNoTerminal) {
		t.Errorf("empty pipeline error = %v, want ErrNoTerminal", err)
	}
	if _, err := NewPipeline(&DropAllStrategy{}, &DirectMatchStrategy{}); !errors.Is(err, ErrNoTerminal) {
		t.Errorf("non-terminal last error = %v, want ErrNoTerminal", err)
	}
	p, err := NewPipeline(&DirectMatchStrategy{}, &DropAllStrategy{})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	if diff := cmp.Diff([]string{"direct-match", "drop-all"}, p.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
}

func TestPatterns_RejectInvalidGlob(t *testing.T) {
	if _, err := NewIgnorePattern("Data/[abc"); err == nil {
		t.Error("NewIgnorePattern should reject an unterminated class")
	}
	if _, err := NewInlinePattern("Data/[abc"); err == nil {
		t.Error("NewInlinePattern should reject an unterminated class")
	}
}

// ============================================================
// Individual strategies through the default pipeline
// ============================================================

func TestDirectMatch_FromArchive(t *testing.T) {
	e := setup(t)
	d := e.defaultPipeline(t).Classify(e.source(t, "Data/textures/a.dds"), e.index, e.cat)

	fa, ok := d.(model.FromArchive)
	if !ok {
		t.Fatalf("directive = %T, want FromArchive", d)
	}
	mod, _ := e.cat.ByFullPath("/dl/mod.zip")
	want := model.ArchiveHashPath{BaseHash: mod.Hash, Parts: []model.RelativePath{"textures/a.dds"}}
	if diff := cmp.Diff(want, fa.ArchiveHashPath); diff != "" {
		t.Errorf("ArchiveHashPath mismatch (-want +got):\n%s", diff)
	}
	if fa.To != "Data/textures/a.dds" || fa.Hash != model.HashBytes([]byte("AAA")) {
		t.Errorf("directive = %+v", fa)
	}
}

func TestIncludePatches_PendingPatch(t *testing.T) {
	e := setup(t)
	d := e.defaultPipeline(t).Classify(e.source(t, "Data/plugin.esp"), e.index, e.cat)

	pf, ok := d.(model.PatchedFromArchive)
	if !ok {
		t.Fatalf("directive = %T, want PatchedFromArchive", d)
	}
	if pf.PatchID != "" {
		t.Errorf("PatchID = %q, want empty until built", pf.PatchID)
	}
	if pf.FromHash != model.HashBytes([]byte("plugin-v1")) {
		t.Error("FromHash should be the archived plugin's hash")
	}
	if got := e.index.FullPath(pf.FromNode); got != "/dl/mod.zip|Plugin.esp" {
		t.Errorf("FromNode = %s, want /dl/mod.zip|Plugin.esp", got)
	}
}

func TestIgnoreAndInline(t *testing.T) {
	e := setup(t)
	p := e.defaultPipeline(t)

	tests := []struct {
		rel  string
		want model.Kind
	}{
		{"downloads/x.txt", model.KindIgnored},
		{"Data/debug.log", model.KindIgnored},
		{"Data/local.ini", model.KindInlineFile},
		{"Data/unknown.bin", model.KindNoMatch},
		{"Data/dup1.txt", model.KindNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			d := p.Classify(e.source(t, tt.rel), e.index, e.cat)
			if d.Kind() != tt.want {
				t.Errorf("Classify(%s) = %s, want %s", tt.rel, d.Kind(), tt.want)
			}
			if d.Target() != model.RelativePath(tt.rel) {
				t.Errorf("Target() = %s, want %s", d.Target(), tt.rel)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	e := setup(t)
	rels := []string{
		"Data/textures/a.dds", "Data/plugin.esp", "Data/local.ini",
		"Data/debug.log", "Data/unknown.bin", "Data/dup1.txt", "Data/dup2.txt",
	}

	run := func() []model.Directive {
		p := e.defaultPipeline(t)
		var out []model.Directive
		for _, rel := range rels {
			out = append(out, p.Classify(e.source(t, rel), e.index, e.cat))
		}
		return out
	}
	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("two runs differ (-first +second):\n%s", diff)
	}
}

func TestClassify_SamePipelineAcrossIndexes(t *testing.T) {
	p := setup(t).defaultPipeline(t)

	first := setup(t)
	d := p.Classify(first.source(t, "Data/plugin.esp"), first.index, first.cat)
	if _, ok := d.(model.PatchedFromArchive); !ok {
		t.Fatalf("first index: directive = %T, want PatchedFromArchive", d)
	}

	// The second archive has no plugin.esp, so nothing may be paired with
	// members remembered from the first index.
	second := setupWithArchive(t, map[string]string{"readme.txt": "hello"})
	d = p.Classify(second.source(t, "Data/plugin.esp"), second.index, second.cat)
	if d.Kind() != model.KindNoMatch {
		t.Errorf("second index: directive = %s, want NoMatch", d.Kind())
	}

	d = p.Classify(first.source(t, "Data/plugin.esp"), first.index, first.cat)
	if _, ok := d.(model.PatchedFromArchive); !ok {
		t.Errorf("first index again: directive = %T, want PatchedFromArchive", d)
	}
}
