package vfs

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"

	"github.com/StinkyLord/modlist-builder/internal/model"
)

func TestStageNestedFile(t *testing.T) {
	fs, ex := fixture(t)
	ix := newIndex(t, fs, ex)

	deep, _ := ix.ByPath("/dl/mod.zip|inner.zip|deep.txt")
	dds, _ := ix.ByPath("/dl/mod.zip|textures/a.dds")
	staged, err := ix.Stage(context.Background(), []model.NodeID{deep, dds})
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	data, err := staged.ReadFile(deep)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "deep" {
		t.Errorf("ReadFile = %q, want %q", data, "deep")
	}
	if data, err := staged.ReadFile(dds); err != nil || string(data) != "AAA" {
		t.Errorf("ReadFile(a.dds) = %q, %v", data, err)
	}

	if err := staged.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	entries, _ := afero.ReadDir(fs, scratch)
	if len(entries) != 0 {
		t.Errorf("scratch has %d entries after Close", len(entries))
	}
}

func TestStageDetectsChangedContent(t *testing.T) {
	fs, ex := fixture(t)
	ix := newIndex(t, fs, ex)
	dds, _ := ix.ByPath("/dl/mod.zip|textures/a.dds")

	ex.archives["mod.zip"] = map[string]string{"textures/a.dds": "CCC"}
	staged, err := ix.Stage(context.Background(), []model.NodeID{dds})
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	defer staged.Close()

	if _, err := staged.ReadFile(dds); !errors.Is(err, ErrHashMismatch) {
		t.Errorf("ReadFile error = %v, want ErrHashMismatch", err)
	}
}
