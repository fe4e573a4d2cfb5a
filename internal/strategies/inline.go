package strategies

import (
	"github.com/StinkyLord/modlist-builder/internal/catalog"
	"github.com/StinkyLord/modlist-builder/internal/model"
	"github.com/StinkyLord/modlist-builder/internal/vfs"
)

// InlinePatternStrategy stores files matching the globs in the modlist
// itself, typically generated config files that no archive provides.
type InlinePatternStrategy struct {
	patterns []string
}

// NewInlinePattern validates patterns and returns the strategy.
func NewInlinePattern(patterns ...string) (*InlinePatternStrategy, error) {
	if err := validatePatterns(patterns, "inline"); err != nil {
		return nil, err
	}
	return &InlinePatternStrategy{patterns: patterns}, nil
}

func (s *InlinePatternStrategy) Name() string { return "inline-pattern" }

func (s *InlinePatternStrategy) Match(file model.SourceFile, _ *vfs.Index, _ *catalog.Catalog) (model.Directive, bool) {
	if _, ok := firstMatch(s.patterns, file.Path); ok {
		return model.NewInlineFile(file), true
	}
	return nil, false
}
