package vfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/StinkyLord/modlist-builder/internal/model"
)

// fakeExtractor unpacks ".zip" files by base name from a fixed table.
type fakeExtractor struct {
	fs       afero.Fs
	archives map[string]map[string]string
	calls    atomic.Int32
}

func (f *fakeExtractor) CanExtract(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".zip")
}

func (f *fakeExtractor) Extract(_ context.Context, archive, dest string) error {
	f.calls.Add(1)
	files, ok := f.archives[filepath.Base(archive)]
	if !ok {
		return fmt.Errorf("%s: not an archive", archive)
	}
	for name, content := range files {
		if err := afero.WriteFile(f.fs, filepath.Join(dest, filepath.FromSlash(name)), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

const scratch = "/scratch"

func fixture(t *testing.T) (afero.Fs, *fakeExtractor) {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/game/Data/textures/a.dds": "AAA",
		"/game/Data/plugin.esp":     "plugin-v2",
		"/dl/mod.zip":               "zip-bytes",
		"/dl/broken.zip":            "garbage",
	}
	for p, c := range files {
		if err := afero.WriteFile(fs, p, []byte(c), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ex := &fakeExtractor{
		fs: fs,
		archives: map[string]map[string]string{
			"mod.zip": {
				"textures/a.dds": "AAA",
				"inner.zip":      "inner-bytes",
			},
			"inner.zip": {
				"deep.txt": "deep",
			},
		},
	}
	return fs, ex
}

func newIndex(t *testing.T, fs afero.Fs, ex Extractor) *Index {
	t.Helper()
	ix := New(fs, ex, WithScratchDir(scratch), WithWorkers(2))
	if err := ix.AddRoots(context.Background(), []string{"/game", "/dl"}); err != nil {
		t.Fatalf("AddRoots failed: %v", err)
	}
	return ix
}

func TestIndexNestedArchives(t *testing.T) {
	fs, ex := fixture(t)
	ix := newIndex(t, fs, ex)

	deep, ok := ix.ByPath("/dl/mod.zip|inner.zip|deep.txt")
	if !ok {
		t.Fatal("nested file deep.txt not indexed")
	}
	n := ix.Node(deep)
	if n.Depth != 2 || n.Name != "deep.txt" || n.Hash != model.HashBytes([]byte("deep")) {
		t.Errorf("deep node = %+v", n)
	}

	var chain []string
	for _, id := range ix.Chain(deep) {
		chain = append(chain, ix.Node(id).Name)
	}
	if diff := cmp.Diff([]string{"/dl/mod.zip", "inner.zip", "deep.txt"}, chain); diff != "" {
		t.Errorf("Chain mismatch (-want +got):\n%s", diff)
	}

	top, _ := ix.ByPath("/dl/mod.zip")
	if ix.TopLevel(deep) != top {
		t.Errorf("TopLevel(deep) = %d, want %d", ix.TopLevel(deep), top)
	}
	if !ix.Node(top).Archive {
		t.Error("mod.zip should be flagged as an archive")
	}
	if !ix.IsUnder(deep, "/dl") || ix.IsUnder(deep, "/game") {
		t.Error("IsUnder should follow the top-level file")
	}
}

func TestByHashOrdersShallowFirst(t *testing.T) {
	fs, ex := fixture(t)
	ix := newIndex(t, fs, ex)

	var got []string
	for _, id := range ix.ByHash(model.HashBytes([]byte("AAA"))) {
		got = append(got, ix.FullPath(id))
	}
	want := []string{"/game/Data/textures/a.dds", "/dl/mod.zip|textures/a.dds"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ByHash mismatch (-want +got):\n%s", diff)
	}
}

func TestBrokenArchiveIsIndexedWithoutContents(t *testing.T) {
	fs, ex := fixture(t)
	ix := newIndex(t, fs, ex)

	id, ok := ix.ByPath("/dl/broken.zip")
	if !ok {
		t.Fatal("broken.zip should still be indexed as a file")
	}
	if n := ix.Node(id); len(n.Children) != 0 {
		t.Errorf("broken.zip has %d children, want 0", len(n.Children))
	}
}

func TestScratchIsRemovedAfterIndexing(t *testing.T) {
	fs, ex := fixture(t)
	newIndex(t, fs, ex)

	entries, err := afero.ReadDir(fs, scratch)
	if err != nil {
		t.Fatalf("ReadDir(scratch) failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch has %d leftover entries", len(entries))
	}
}

func TestMissingRoot(t *testing.T) {
	ix := New(afero.NewMemMapFs(), nil)
	err := ix.AddRoot(context.Background(), "/nope")
	if !errors.Is(err, ErrMissingRoot) {
		t.Errorf("AddRoot error = %v, want ErrMissingRoot", err)
	}
}

func TestAddRootTwiceIsNoop(t *testing.T) {
	fs, ex := fixture(t)
	ix := newIndex(t, fs, ex)
	before := ix.Len()
	if err := ix.AddRoot(context.Background(), "/game"); err != nil {
		t.Fatal(err)
	}
	if ix.Len() != before {
		t.Errorf("Len() = %d after re-adding root, want %d", ix.Len(), before)
	}
}

func TestTopLevelUnder(t *testing.T) {
	fs, ex := fixture(t)
	ix := newIndex(t, fs, ex)

	var got []string
	for _, id := range ix.TopLevelUnder("/game") {
		got = append(got, ix.Node(id).Name)
	}
	want := []string{"/game/Data/plugin.esp", "/game/Data/textures/a.dds"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("TopLevelUnder mismatch (-want +got):\n%s", diff)
	}
}

func TestAddRootCancelled(t *testing.T) {
	fs, ex := fixture(t)
	ix := New(fs, ex, WithScratchDir(scratch))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ix.AddRoot(ctx, "/dl"); err == nil {
		t.Fatal("AddRoot should fail on a cancelled context")
	}
	if ix.Len() != 0 {
		t.Errorf("Len() = %d after cancelled AddRoot, want 0", ix.Len())
	}
}

// failOpenFs refuses to open one path.
type failOpenFs struct {
	afero.Fs
	path string
}

func (f failOpenFs) Open(name string) (afero.File, error) {
	if filepath.Clean(name) == f.path {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return f.Fs.Open(name)
}

func TestUnreadableFileIsReported(t *testing.T) {
	fs, ex := fixture(t)
	ix := newIndex(t, failOpenFs{Fs: fs, path: "/game/Data/textures/a.dds"}, ex)

	if _, ok := ix.ByPath("/game/Data/textures/a.dds"); ok {
		t.Fatal("unreadable file should not be indexed")
	}
	if diff := cmp.Diff([]string{"/game/Data/textures/a.dds"}, ix.Unindexed("/game")); diff != "" {
		t.Errorf("Unindexed mismatch (-want +got):\n%s", diff)
	}
	if got := ix.Unindexed("/dl"); len(got) != 0 {
		t.Errorf("Unindexed(/dl) = %v, want none", got)
	}
}
