// Package strategies holds the matcher pipeline: an ordered list of
// strategies that decide how each installed file will be reconstructed.
package strategies

import (
	"errors"
	"fmt"

	"github.com/StinkyLord/modlist-builder/internal/catalog"
	"github.com/StinkyLord/modlist-builder/internal/model"
	"github.com/StinkyLord/modlist-builder/internal/vfs"
)

// ErrNoTerminal is returned when the last strategy can decline a file.
var ErrNoTerminal = errors.New("pipeline must end with a terminal strategy")

// Strategy is the interface every matcher must implement. Match returns
// false to pass the file to the next strategy. Implementations must be
// safe for concurrent use and must not mutate the index or catalog.
type Strategy interface {
	Name() string
	Match(file model.SourceFile, index *vfs.Index, cat *catalog.Catalog) (model.Directive, bool)
}

// Terminal is implemented by strategies that accept every file.
type Terminal interface {
	Strategy
	terminal()
}

// Pipeline runs strategies in order; the first match wins.
type Pipeline struct {
	strategies []Strategy
}

// NewPipeline returns a pipeline over strategies.
func NewPipeline(strategies ...Strategy) (*Pipeline, error) {
	if len(strategies) == 0 {
		return nil, ErrNoTerminal
	}
	if _, ok := strategies[len(strategies)-1].(Terminal); !ok {
		return nil, fmt.Errorf("%w: last is %s", ErrNoTerminal, strategies[len(strategies)-1].Name())
	}
	return &Pipeline{strategies: strategies}, nil
}

// Names lists the strategies in order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.strategies))
	for i, s := range p.strategies {
		names[i] = s.Name()
	}
	return names
}

// Classify returns the directive for file.
func (p *Pipeline) Classify(file model.SourceFile, index *vfs.Index, cat *catalog.Catalog) model.Directive {
	for _, s := range p.strategies {
		if d, ok := s.Match(file, index, cat); ok {
			return d
		}
	}
	// Unreachable: NewPipeline guarantees a terminal strategy.
	return model.NewNoMatch(file, "no strategy matched")
}
