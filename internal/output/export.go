// Package output writes a compiled modlist to disk.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/StinkyLord/modlist-builder/internal/model"
)

// Format selects the manifest encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// BlobDir is the output subdirectory holding patch and inline blobs.
const BlobDir = "blobs"

// ErrUnknownFormat is returned for a format other than json or yaml.
var ErrUnknownFormat = errors.New("unknown manifest format")

// ParseFormat validates a format name. Empty means json.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ManifestName returns the manifest file name for format.
func ManifestName(format Format) string {
	return "modlist." + string(format)
}

// Encode writes the manifest to w.
func Encode(w io.Writer, m *model.Manifest, format Format) error {
	switch format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding manifest: %w", err)
		}
		_, err = w.Write(append(data, '\n'))
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encoding manifest: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Export writes the manifest and blobs into dir, replacing whatever dir
// held before. Everything is first written to a sibling directory which is
// then swapped into place, so a failed export leaves the previous output
// untouched.
func Export(fs afero.Fs, dir string, m *model.Manifest, blobs map[string][]byte, format Format) error {
	if format == "" {
		format = FormatJSON
	}
	dir = filepath.Clean(dir)
	tmp := fmt.Sprintf("%s.tmp-%s", dir, uuid.NewString())
	if err := writeTree(fs, tmp, m, blobs, format); err != nil {
		_ = fs.RemoveAll(tmp)
		return err
	}
	if err := swap(fs, tmp, dir); err != nil {
		_ = fs.RemoveAll(tmp)
		return err
	}
	return nil
}

func writeTree(fs afero.Fs, dir string, m *model.Manifest, blobs map[string][]byte, format Format) error {
	if err := fs.MkdirAll(filepath.Join(dir, BlobDir), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	f, err := fs.Create(filepath.Join(dir, ManifestName(format)))
	if err != nil {
		return fmt.Errorf("creating manifest: %w", err)
	}
	if err := Encode(f, m, format); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	ids := make([]string, 0, len(blobs))
	for id := range blobs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if id == "" || id != filepath.Base(id) {
			return fmt.Errorf("invalid blob id %q", id)
		}
		if err := afero.WriteFile(fs, filepath.Join(dir, BlobDir, id), blobs[id], 0o644); err != nil {
			return fmt.Errorf("writing blob %s: %w", id, err)
		}
	}
	return nil
}

// swap moves src to dst, restoring the old dst if the move fails.
func swap(fs afero.Fs, src, dst string) error {
	_, err := fs.Stat(dst)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("creating output parent: %w", err)
		}
		if err := fs.Rename(src, dst); err != nil {
			return fmt.Errorf("moving output into place: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("checking output directory: %w", err)
	}

	backup := fmt.Sprintf("%s.old-%s", dst, uuid.NewString())
	if err := fs.Rename(dst, backup); err != nil {
		return fmt.Errorf("moving previous output aside: %w", err)
	}
	if err := fs.Rename(src, dst); err != nil {
		if rerr := fs.Rename(backup, dst); rerr != nil {
			return errors.Join(fmt.Errorf("moving output into place: %w", err), fmt.Errorf("restoring previous output: %w", rerr))
		}
		return fmt.Errorf("moving output into place: %w", err)
	}
	if err := fs.RemoveAll(backup); err != nil {
		return fmt.Errorf("removing previous output: %w", err)
	}
	return nil
}
