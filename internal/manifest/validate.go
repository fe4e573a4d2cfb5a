package manifest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/StinkyLord/modlist-builder/internal/model"
)

// ErrValidation is matched by every error a Validator returns.
var ErrValidation = errors.New("manifest validation failed")

// ValidationError collects every problem found in a manifest.
type ValidationError struct {
	Errors []error
}

func (ve *ValidationError) Error() string {
	if len(ve.Errors) == 1 {
		return fmt.Sprintf("validation failed: %v", ve.Errors[0])
	}
	var buf strings.Builder
	fmt.Fprintf(&buf, "validation failed with %d errors:\n", len(ve.Errors))
	for i, err := range ve.Errors {
		fmt.Fprintf(&buf, "  %d. %v\n", i+1, err)
	}
	return buf.String()
}

// Unwrap returns the individual problems.
func (ve *ValidationError) Unwrap() []error {
	return ve.Errors
}

// Is makes errors.Is(err, ErrValidation) hold.
func (ve *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}

// Validator checks a finished manifest before it is exported.
type Validator interface {
	Validate(ctx context.Context, m *model.Manifest) error
}

// BasicValidator checks structural consistency. HasBlob reports whether
// a patch or inline blob id will be exported; nil skips the blob check.
type BasicValidator struct {
	HasBlob func(id string) bool
}

// Validate returns a *ValidationError listing every problem, or nil.
func (v BasicValidator) Validate(_ context.Context, m *model.Manifest) error {
	var errs []error

	if m.Name == "" {
		errs = append(errs, errors.New("metadata name is empty"))
	}
	if m.Game == "" {
		errs = append(errs, errors.New("game is empty"))
	}
	if m.Version == "" {
		errs = append(errs, errors.New("metadata version is empty"))
	} else if !semver.IsValid(canonicalVersion(m.Version)) {
		errs = append(errs, fmt.Errorf("metadata version %q is not a semantic version", m.Version))
	}

	selected := make(map[model.Hash]bool, len(m.Archives))
	for _, a := range m.Archives {
		selected[a.Hash] = true
		if !a.State.Known() {
			errs = append(errs, fmt.Errorf("archive %s has no known download source", a.Name))
		}
	}

	targets := make(map[model.RelativePath]bool, len(m.Directives))
	for _, d := range m.Directives {
		if targets[d.Target()] {
			errs = append(errs, fmt.Errorf("duplicate target %s", d.Target()))
		}
		targets[d.Target()] = true

		if h, ok := model.ArchiveHash(d); ok && !selected[h] {
			errs = append(errs, fmt.Errorf("%s references archive %s which is not selected", d.Target(), h))
		}

		switch d := d.(type) {
		case model.NoMatch:
			errs = append(errs, fmt.Errorf("%s is unmatched: %s", d.To, d.Reason))
		case model.PatchedFromArchive:
			if d.PatchID == "" {
				errs = append(errs, fmt.Errorf("%s has no patch", d.To))
			} else if v.HasBlob != nil && !v.HasBlob(d.PatchID) {
				errs = append(errs, fmt.Errorf("%s references missing patch %s", d.To, d.PatchID))
			}
		case model.InlineFile:
			if v.HasBlob != nil && !v.HasBlob(d.SourceDataID) {
				errs = append(errs, fmt.Errorf("%s references missing blob %s", d.To, d.SourceDataID))
			}
		}
	}

	return newValidationError(errs)
}

// canonicalVersion adds the "v" prefix x/mod/semver requires.
func canonicalVersion(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
