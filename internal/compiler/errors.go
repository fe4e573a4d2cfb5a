package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/StinkyLord/modlist-builder/internal/model"
)

// ErrUnmatched is matched by an UnmatchedError.
var ErrUnmatched = errors.New("unmatched files")

// UnmatchedError lists every installed file no strategy could place.
type UnmatchedError struct {
	Files  []model.NoMatch
	Errors []error
}

func newUnmatchedError(files []model.NoMatch) *UnmatchedError {
	errs := make([]error, len(files))
	for i, f := range files {
		errs[i] = fmt.Errorf("%s: %s", f.To, f.Reason)
	}
	return &UnmatchedError{Files: files, Errors: errs}
}

func (e *UnmatchedError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("1 file has no match: %v", e.Errors[0])
	}
	var buf strings.Builder
	fmt.Fprintf(&buf, "%d files have no match:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&buf, "  %d. %v\n", i+1, err)
	}
	return buf.String()
}

// Unwrap returns one error per unmatched file.
func (e *UnmatchedError) Unwrap() []error {
	return e.Errors
}

// Is makes errors.Is(err, ErrUnmatched) hold.
func (e *UnmatchedError) Is(target error) bool {
	return target == ErrUnmatched
}
