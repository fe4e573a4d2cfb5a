package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/StinkyLord/modlist-builder/internal/compiler"
	"github.com/StinkyLord/modlist-builder/internal/config"
	"github.com/StinkyLord/modlist-builder/internal/extract"
	"github.com/StinkyLord/modlist-builder/internal/output"
	"github.com/StinkyLord/modlist-builder/internal/process"
)

func runCompile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, path, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	policy, err := cfg.PatchPolicy()
	if err != nil {
		return err
	}
	if err := absolutize(cfg); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	if path != "" {
		logger.Debug("loaded config", "path", path)
	}

	procs := process.NewTracker(logger)
	defer func() {
		if err := procs.Close(); err != nil {
			logger.Warn("stopping child processes", "err", err)
		}
	}()

	c, err := compiler.New(compiler.Options{
		Fs:           afero.NewOsFs(),
		Game:         cfg.Game,
		InstallDir:   cfg.InstallDir,
		DownloadsDir: cfg.DownloadsDir,
		OutputDir:    cfg.OutputDir,
		CacheDir:     cfg.CacheDir,
		Extractor: &extract.SevenZip{
			Path:   cfg.SevenZipPath,
			Runner: procs,
			Logger: logger,
		},
		IgnorePatterns:  cfg.Ignore,
		InlinePatterns:  cfg.Inline,
		PatchPolicy:     policy,
		FailOnUnmatched: cfg.FailOnUnmatched,
		Workers:         cfg.Workers,
		Format:          output.Format(cfg.Format),
		Metadata:        cfg.ModelMetadata(),
		ToolVersion:     toolVersion,
		Tracker:         &stageLog{logger: logger},
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "modlist-builder v%s\n", toolVersion)
	res, err := c.Compile(ctx)
	if err != nil {
		var unmatched *compiler.UnmatchedError
		if errors.As(err, &unmatched) {
			renderUnmatched(cmd.ErrOrStderr(), unmatched.Files)
			return fmt.Errorf("%d installed file(s) have no match; rerun with --allow-unmatched to skip them", len(unmatched.Files))
		}
		return fmt.Errorf("compile failed: %w", err)
	}

	if len(res.Unmatched) > 0 {
		renderUnmatched(cmd.ErrOrStderr(), res.Unmatched)
	}
	renderSummary(cmd.ErrOrStderr(), res, cfg.OutputDir)
	return nil
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("game") {
		cfg.Game = flagGame
	}
	if flags.Changed("install") {
		cfg.InstallDir = flagInstall
	}
	if flags.Changed("downloads") {
		cfg.DownloadsDir = flagDownloads
	}
	if flags.Changed("output") {
		cfg.OutputDir = flagOutput
	}
	if flags.Changed("cache") {
		cfg.CacheDir = flagCache
	}
	if flags.Changed("format") {
		cfg.Format = flagFormat
	}
	if flags.Changed("7z") {
		cfg.SevenZipPath = flagSevenZip
	}
	if flags.Changed("workers") {
		cfg.Workers = flagWorkers
	}
	if flags.Changed("allow-unmatched") {
		cfg.FailOnUnmatched = !flagAllowUnmatched
	}
}

func absolutize(cfg *config.Config) error {
	for _, p := range []*string{&cfg.InstallDir, &cfg.DownloadsDir, &cfg.OutputDir, &cfg.CacheDir} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("cannot resolve directory %q: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// stageLog reports compiler stages through the logger.
type stageLog struct {
	logger *slog.Logger
	n      int
	name   string
	start  time.Time
}

func (s *stageLog) NextStage(name string) {
	if s.name != "" {
		s.logger.Debug("stage done", "stage", s.name, "took", time.Since(s.start).Round(time.Millisecond))
	}
	s.n++
	s.name = name
	s.start = time.Now()
	s.logger.Info(name, "step", s.n)
}

func (s *stageLog) Reset() {
	s.n = 0
	s.name = ""
}
