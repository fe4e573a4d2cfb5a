package strategies

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/StinkyLord/modlist-builder/internal/catalog"
	"github.com/StinkyLord/modlist-builder/internal/model"
	"github.com/StinkyLord/modlist-builder/internal/vfs"
)

// IgnoreUnderFolderStrategy ignores files that live under Folder, such as
// the downloads folder when it sits inside the installation.
type IgnoreUnderFolderStrategy struct {
	Folder string
	Reason string
}

func (s *IgnoreUnderFolderStrategy) Name() string { return "ignore-under-folder" }

func (s *IgnoreUnderFolderStrategy) Match(file model.SourceFile, index *vfs.Index, _ *catalog.Catalog) (model.Directive, bool) {
	if !index.IsUnder(file.Node, s.Folder) {
		return nil, false
	}
	reason := s.Reason
	if reason == "" {
		reason = "file is under " + s.Folder
	}
	return model.NewIgnored(file, reason), true
}

// IgnorePatternStrategy ignores files whose relative path matches one of
// the doublestar globs.
type IgnorePatternStrategy struct {
	patterns []string
}

// NewIgnorePattern validates patterns and returns the strategy.
func NewIgnorePattern(patterns ...string) (*IgnorePatternStrategy, error) {
	if err := validatePatterns(patterns, "ignore"); err != nil {
		return nil, err
	}
	return &IgnorePatternStrategy{patterns: patterns}, nil
}

func (s *IgnorePatternStrategy) Name() string { return "ignore-pattern" }

func (s *IgnorePatternStrategy) Match(file model.SourceFile, _ *vfs.Index, _ *catalog.Catalog) (model.Directive, bool) {
	if pat, ok := firstMatch(s.patterns, file.Path); ok {
		return model.NewIgnored(file, "matches ignore pattern "+pat), true
	}
	return nil, false
}

// validatePatterns checks that every pattern is a valid doublestar glob.
func validatePatterns(patterns []string, label string) error {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("invalid %s pattern %q: %w", label, pat, doublestar.ErrBadPattern)
		}
	}
	return nil
}

func firstMatch(patterns []string, path model.RelativePath) (string, bool) {
	for _, pat := range patterns {
		if matched, err := doublestar.Match(pat, string(path)); err == nil && matched {
			return pat, true
		}
	}
	return "", false
}
