package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/StinkyLord/modlist-builder/internal/process"
)

// DefaultSevenZip is the executable looked up on PATH when none is set.
const DefaultSevenZip = "7z"

// SevenZip unpacks archives by running the 7-Zip command line tool.
type SevenZip struct {
	Path   string
	Runner process.Runner
	Logger *slog.Logger
}

// CanExtract reports whether name has an extension 7-Zip can unpack.
func (s *SevenZip) CanExtract(name string) bool {
	f := Lookup(name)
	return f != nil && f.SevenZip
}

// Extract unpacks archive into dest, which must exist. Tool output is
// logged at debug level; a non-zero exit is an error carrying the last
// line the tool wrote to stderr.
func (s *SevenZip) Extract(ctx context.Context, archive, dest string) error {
	exe := s.Path
	if exe == "" {
		exe = DefaultSevenZip
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	proc, err := s.Runner.Start(ctx, exe, "x", "-bsp1", "-y", "-o"+dest, archive)
	if err != nil {
		return fmt.Errorf("extracting %s: %w", archive, err)
	}

	var lastErr string
	for line := range proc.Lines() {
		if line.Text == "" {
			continue
		}
		if line.Stream == process.Stderr {
			lastErr = line.Text
		}
		logger.Debug("7z", "archive", archive, "stream", line.Stream.String(), "line", line.Text)
	}

	code, err := proc.Wait()
	if err != nil {
		return fmt.Errorf("extracting %s: %w", archive, err)
	}
	if code != 0 {
		if lastErr != "" {
			return fmt.Errorf("extracting %s: 7z exited with code %d: %s", archive, code, lastErr)
		}
		return fmt.Errorf("extracting %s: 7z exited with code %d", archive, code)
	}
	return nil
}
