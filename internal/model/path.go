package model

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RelativePath is a slash-separated path relative to some root folder.
type RelativePath string

// NewRelativePath returns the path of abs relative to root. It fails when
// abs does not live under root.
func NewRelativePath(root, abs string) (RelativePath, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", fmt.Errorf("cannot relativize %q to %q: %w", abs, root, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q is not under %q", abs, root)
	}
	return RelativePath(filepath.ToSlash(rel)), nil
}

// FileName returns the last path element.
func (p RelativePath) FileName() string {
	s := string(p)
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// RelativeTo joins the path onto root using the OS separator.
func (p RelativePath) RelativeTo(root string) string {
	return filepath.Join(root, filepath.FromSlash(string(p)))
}

// NodeID addresses a node in the content index arena.
type NodeID int32

// NoParent marks a top-level node.
const NoParent NodeID = -1

// SourceFile is an installed file: a top-level content node reached under
// the installation root, paired with its path relative to that root.
type SourceFile struct {
	Node    NodeID
	Path    RelativePath
	AbsPath string
	Hash    Hash
	Size    int64
}
