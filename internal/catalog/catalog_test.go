package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/StinkyLord/modlist-builder/internal/model"
	"github.com/StinkyLord/modlist-builder/internal/vfs"
)

func TestParseMeta(t *testing.T) {
	raw := `[General]
gameName=skyrimspecialedition
modID = 1234
FileID=5678
# comment
; another comment
name="Cool Mod"
broken line
=novalue
`
	want := map[string]string{
		"gamename": "skyrimspecialedition",
		"modid":    "1234",
		"fileid":   "5678",
		"name":     "Cool Mod",
	}
	if diff := cmp.Diff(want, ParseMeta(raw)); diff != "" {
		t.Errorf("ParseMeta mismatch (-want +got):\n%s", diff)
	}
}

func TestInferState(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]string
		want model.StateKind
	}{
		{"nexus", map[string]string{"gamename": "sse", "modid": "1", "fileid": "2"}, model.StateNexus},
		{"direct url wins", map[string]string{"directurl": "https://x/a.zip", "gamename": "sse", "modid": "1", "fileid": "2"}, model.StateHTTP},
		{"game file", map[string]string{"gamefile": "Data/Skyrim.esm"}, model.StateGameFile},
		{"partial nexus", map[string]string{"gamename": "sse", "modid": "1"}, model.StateUnknown},
		{"empty", map[string]string{}, model.StateUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferState(tt.meta).Kind; got != tt.want {
				t.Errorf("InferState() = %q, want %q", got, tt.want)
			}
		})
	}
}

func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for p, c := range files {
		if err := afero.WriteFile(fs, p, []byte(c), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestBuild(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/dl/b.zip":      "PK\x03\x04bbb",
		"/dl/b.zip.meta": "[General]\ndirectURL=https://example.com/b.zip\n",
		"/dl/a.7z":       "aaa",
		"/dl/a.7z.meta":  "gameName=sse\nmodID=1\nfileID=2\n",
		"/dl/no-meta.7z": "ccc",
	})
	ix := vfs.New(fs, nil)
	if err := ix.AddRoot(context.Background(), "/dl"); err != nil {
		t.Fatal(err)
	}

	cat, err := Build(context.Background(), fs, ix, "/dl", Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := cat.InferStates(context.Background(), 2); err != nil {
		t.Fatalf("InferStates failed: %v", err)
	}

	var names []string
	for _, e := range cat.Entries() {
		names = append(names, e.Name)
	}
	if diff := cmp.Diff([]string{"a.7z", "b.zip"}, names); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	b, ok := cat.ByFullPath("/dl/b.zip")
	if !ok {
		t.Fatal("ByFullPath(/dl/b.zip) not found")
	}
	if b.State.Kind != model.StateHTTP || b.State.URL != "https://example.com/b.zip" {
		t.Errorf("b.zip state = %+v", b.State)
	}
	if b.Format != "zip" {
		t.Errorf("b.zip format = %q, want zip", b.Format)
	}
	if b.Hash != model.HashBytes([]byte("PK\x03\x04bbb")) {
		t.Error("entry hash should come from the index")
	}
	if !cat.IsArchive(b.Node) {
		t.Error("IsArchive(b.zip) = false")
	}
	if e, ok := cat.ByHash(b.Hash); !ok || e != b {
		t.Error("ByHash did not return b.zip")
	}
	if a, _ := cat.ByFullPath("/dl/a.7z"); a.Format != "7z" || a.State.Kind != model.StateNexus {
		t.Errorf("a.7z = %+v", a)
	}
	if _, ok := cat.ByFullPath("/dl/no-meta.7z"); ok {
		t.Error("archive without sidecar should not be cataloged")
	}
}

func TestBuildInconsistentIndex(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/dl/a.zip":      "aaa",
		"/dl/a.zip.meta": "directURL=x",
	})
	ix := vfs.New(fs, nil)

	_, err := Build(context.Background(), fs, ix, "/dl", Options{})
	if !errors.Is(err, ErrInconsistent) {
		t.Errorf("Build error = %v, want ErrInconsistent", err)
	}
}

type zipExtractor struct {
	fs      afero.Fs
	members map[string]string
}

func (z *zipExtractor) CanExtract(name string) bool { return strings.HasSuffix(name, ".zip") }

func (z *zipExtractor) Extract(_ context.Context, _, dest string) error {
	for name, content := range z.members {
		if err := afero.WriteFile(z.fs, filepath.Join(dest, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func TestMembersNamed(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/dl/mod.zip":      "zip",
		"/dl/mod.zip.meta": "directURL=https://example.com/mod.zip\n",
		"/dl/loose.esp":    "not in an archive",
	})
	ex := &zipExtractor{fs: fs, members: map[string]string{
		"Data/Plugin.ESP": "deep",
		"plugin.esp":      "shallow",
		"readme.txt":      "hi",
	}}
	ix := vfs.New(fs, ex, vfs.WithScratchDir("/scratch"))
	if err := ix.AddRoot(context.Background(), "/dl"); err != nil {
		t.Fatal(err)
	}
	cat, err := Build(context.Background(), fs, ix, "/dl", Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ids := cat.MembersNamed("Data/plugin.esp")
	var got []string
	for _, id := range ids {
		got = append(got, ix.FullPath(id))
	}
	// Both sit one archive deep, so the full path breaks the tie.
	want := []string{"/dl/mod.zip|Data/Plugin.ESP", "/dl/mod.zip|plugin.esp"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MembersNamed mismatch (-want +got):\n%s", diff)
	}
	if len(cat.MembersNamed("missing.esp")) != 0 {
		t.Error("unknown name should have no members")
	}
}
