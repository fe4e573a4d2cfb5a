// Package compiler orchestrates a modlist compilation run: index the
// installation and downloads, catalog archives, classify every installed
// file, build patches, then assemble, validate and export the manifest.
package compiler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/StinkyLord/modlist-builder/internal/catalog"
	"github.com/StinkyLord/modlist-builder/internal/manifest"
	"github.com/StinkyLord/modlist-builder/internal/model"
	"github.com/StinkyLord/modlist-builder/internal/output"
	"github.com/StinkyLord/modlist-builder/internal/patch"
	"github.com/StinkyLord/modlist-builder/internal/strategies"
	"github.com/StinkyLord/modlist-builder/internal/vfs"
	"github.com/StinkyLord/modlist-builder/internal/workpool"
)

// Stage names reported to the Tracker, in run order.
const (
	StageLoadCache  = "Loading cache"
	StageIndex      = "Indexing"
	StageWriteCache = "Writing cache"
	StageCatalog    = "Building catalog"
	StageInfer      = "Inferring archive metadata"
	StageCollect    = "Collecting source files"
	StagePipeline   = "Running pipeline"
	StagePatches    = "Building patches"
	StageUnmatched  = "Checking unmatched"
	StageAssemble   = "Assembling manifest"
	StageValidate   = "Validating"
	StageExport     = "Exporting"
)

// perTaskMemory is the working set assumed per worker when sizing the pool.
const perTaskMemory = 256 << 20

// Tracker receives stage transitions for progress display.
type Tracker interface {
	NextStage(name string)
	Reset()
}

type noopTracker struct{}

func (noopTracker) NextStage(string) {}
func (noopTracker) Reset()           {}

// Options configures a Compiler.
type Options struct {
	Fs           afero.Fs
	Game         string
	InstallDir   string
	DownloadsDir string
	// OutputDir receives the exported modlist. Empty skips export.
	OutputDir string
	// CacheDir holds content index snapshots. Empty disables the cache.
	CacheDir   string
	ScratchDir string

	Extractor vfs.Extractor
	// Pipeline overrides the default strategy stack built from the
	// ignore and inline patterns.
	Pipeline       *strategies.Pipeline
	IgnorePatterns []string
	InlinePatterns []string

	PatchPolicy     patch.Policy
	FailOnUnmatched bool
	// Workers bounds parallelism. Zero derives it from CPUs and memory.
	Workers int
	Format  output.Format

	Metadata    model.Metadata
	ToolVersion string
	// Validator overrides manifest.BasicValidator.
	Validator manifest.Validator
	Tracker   Tracker
	Logger    *slog.Logger
}

// Stats summarises a run. Files and ByKind count installed files only; the
// downloads folder and the compiler's own folders are left out.
type Stats struct {
	Files       int
	ByKind      map[model.Kind]int
	Archives    int
	PatchBytes  int64
	InlineBytes int64
	Duration    time.Duration
}

// Result is the outcome of a successful run.
type Result struct {
	// Directives holds one directive per installed file, in path order,
	// including ignored and unmatched files.
	Directives []model.Directive
	Manifest   *model.Manifest
	// AllFiles lists the installed files, excluding the downloads folder.
	AllFiles  []model.SourceFile
	Unmatched []model.NoMatch
	Stats     Stats
}

// Compiler runs compilations.
type Compiler struct {
	opts     Options
	fs       afero.Fs
	pipeline *strategies.Pipeline
	workers  int
	tracker  Tracker
	logger   *slog.Logger
}

// New validates opts and returns a Compiler.
func New(opts Options) (*Compiler, error) {
	if opts.InstallDir == "" {
		return nil, errors.New("install directory is required")
	}
	if opts.DownloadsDir == "" {
		return nil, errors.New("downloads directory is required")
	}
	if _, err := output.ParseFormat(string(opts.Format)); err != nil {
		return nil, err
	}

	c := &Compiler{
		opts:     opts,
		fs:       opts.Fs,
		pipeline: opts.Pipeline,
		workers:  opts.Workers,
		tracker:  opts.Tracker,
		logger:   opts.Logger,
	}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.tracker == nil {
		c.tracker = noopTracker{}
	}
	if c.workers < 1 {
		c.workers = workpool.Recommend(perTaskMemory)
	}
	if c.pipeline == nil {
		p, err := strategies.Default(opts.DownloadsDir, opts.IgnorePatterns, opts.InlinePatterns, c.ownDirs()...)
		if err != nil {
			return nil, err
		}
		c.pipeline = p
	}
	return c, nil
}

// stage reports the next stage, refusing to start it once ctx is done.
func (c *Compiler) stage(ctx context.Context, name string) error {
	if err := workpool.Cancelled(ctx); err != nil {
		return err
	}
	c.tracker.NextStage(name)
	c.logger.Info("stage", "name", name)
	return nil
}

// Compile runs every stage. Nothing is written to OutputDir unless every
// stage before export succeeds.
func (c *Compiler) Compile(ctx context.Context) (*Result, error) {
	start := time.Now()
	c.tracker.Reset()
	defer c.tracker.Reset()

	roots := []string{c.opts.InstallDir, c.opts.DownloadsDir}
	vfsOpts := []vfs.Option{vfs.WithLogger(c.logger), vfs.WithWorkers(c.workers)}
	if dir := c.scratchDir(); dir != "" {
		vfsOpts = append(vfsOpts, vfs.WithScratchDir(dir))
	}
	index := vfs.New(c.fs, c.opts.Extractor, vfsOpts...)

	if err := c.stage(ctx, StageLoadCache); err != nil {
		return nil, err
	}
	c.loadCaches(index, roots)

	if err := c.stage(ctx, StageIndex); err != nil {
		return nil, err
	}
	if err := index.AddRoots(ctx, roots); err != nil {
		return nil, err
	}

	if err := c.stage(ctx, StageWriteCache); err != nil {
		return nil, err
	}
	c.writeCaches(index, roots)

	if err := c.stage(ctx, StageCatalog); err != nil {
		return nil, err
	}
	cat, err := catalog.Build(ctx, c.fs, index, c.opts.DownloadsDir, catalog.Options{Logger: c.logger})
	if err != nil {
		return nil, err
	}

	if err := c.stage(ctx, StageInfer); err != nil {
		return nil, err
	}
	if err := cat.InferStates(ctx, c.workers); err != nil {
		return nil, err
	}

	if err := c.stage(ctx, StageCollect); err != nil {
		return nil, err
	}
	files, err := c.sourceFiles(index)
	if err != nil {
		return nil, err
	}

	if err := c.stage(ctx, StagePipeline); err != nil {
		return nil, err
	}
	directives, err := workpool.Map(ctx, files, c.workers, func(_ context.Context, f model.SourceFile) (model.Directive, error) {
		return c.pipeline.Classify(f, index, cat), nil
	}, c.progress(StagePipeline))
	if err != nil {
		return nil, err
	}

	if err := c.stage(ctx, StagePatches); err != nil {
		return nil, err
	}
	blobs := make(map[string][]byte)
	if err := c.buildPatches(ctx, index, directives, blobs); err != nil {
		return nil, err
	}

	if err := c.stage(ctx, StageUnmatched); err != nil {
		return nil, err
	}
	var unmatched []model.NoMatch
	for _, d := range directives {
		if nm, ok := d.(model.NoMatch); ok {
			unmatched = append(unmatched, nm)
		}
	}
	if len(unmatched) > 0 {
		if c.opts.FailOnUnmatched {
			return nil, newUnmatchedError(unmatched)
		}
		for _, nm := range unmatched {
			c.logger.Warn("no match", "file", nm.To, "reason", nm.Reason)
		}
	}

	if err := c.stage(ctx, StageAssemble); err != nil {
		return nil, err
	}
	if err := c.readInline(files, directives, blobs); err != nil {
		return nil, err
	}
	m := manifest.Assemble(directives, cat, manifest.Info{
		Game:        c.opts.Game,
		ToolVersion: c.opts.ToolVersion,
		Metadata:    c.opts.Metadata,
	})

	if err := c.stage(ctx, StageValidate); err != nil {
		return nil, err
	}
	validator := c.opts.Validator
	if validator == nil {
		validator = manifest.BasicValidator{HasBlob: func(id string) bool {
			_, ok := blobs[id]
			return ok
		}}
	}
	if err := validator.Validate(ctx, m); err != nil {
		return nil, err
	}

	if c.opts.OutputDir != "" {
		if err := c.stage(ctx, StageExport); err != nil {
			return nil, err
		}
		if err := output.Export(c.fs, c.opts.OutputDir, m, blobs, c.opts.Format); err != nil {
			return nil, err
		}
	}

	installed := c.installed(index, files)
	res := &Result{
		Directives: directives,
		Manifest:   m,
		AllFiles:   installed.files,
		Unmatched:  unmatched,
		Stats:      c.stats(installed.directives(directives), m, blobs, time.Since(start)),
	}
	c.logger.Info("compilation finished",
		"files", res.Stats.Files,
		"archives", res.Stats.Archives,
		"unmatched", len(unmatched),
		"duration", res.Stats.Duration.Round(time.Millisecond))
	return res, nil
}

func (c *Compiler) scratchDir() string {
	if c.opts.ScratchDir != "" {
		return c.opts.ScratchDir
	}
	if c.opts.CacheDir != "" {
		return filepath.Join(c.opts.CacheDir, "scratch")
	}
	return ""
}

// ownDirs lists the folders the compiler writes to. They are ignored when
// they sit inside the installation.
func (c *Compiler) ownDirs() []string {
	var dirs []string
	for _, d := range []string{c.opts.OutputDir, c.opts.CacheDir, c.scratchDir()} {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

func (c *Compiler) loadCaches(index *vfs.Index, roots []string) {
	if c.opts.CacheDir == "" {
		return
	}
	for _, root := range roots {
		err := index.LoadCache(vfs.CachePath(c.opts.CacheDir, root), root)
		switch {
		case err == nil:
		case errors.Is(err, fs.ErrNotExist):
			c.logger.Debug("no index cache yet", "root", root)
		default:
			c.logger.Warn("ignoring index cache", "root", root, "error", err)
		}
	}
}

func (c *Compiler) writeCaches(index *vfs.Index, roots []string) {
	if c.opts.CacheDir == "" {
		return
	}
	for _, root := range roots {
		if err := index.WriteCache(vfs.CachePath(c.opts.CacheDir, root), root); err != nil {
			c.logger.Warn("could not write index cache", "root", root, "error", err)
		}
	}
}

// sourceFiles returns one SourceFile per real file under the installation,
// sorted by relative path.
func (c *Compiler) sourceFiles(index *vfs.Index) ([]model.SourceFile, error) {
	if missing := index.Unindexed(c.opts.InstallDir); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %d under %s: %s", vfs.ErrUnindexed, len(missing), c.opts.InstallDir, strings.Join(missing, ", "))
	}
	ids := index.TopLevelUnder(c.opts.InstallDir)
	files := make([]model.SourceFile, 0, len(ids))
	for _, id := range ids {
		n := index.Node(id)
		rel, err := model.NewRelativePath(c.opts.InstallDir, n.Name)
		if err != nil {
			return nil, err
		}
		files = append(files, model.SourceFile{
			Node:    id,
			Path:    rel,
			AbsPath: n.Name,
			Hash:    n.Hash,
			Size:    n.Size,
		})
	}
	slices.SortFunc(files, func(a, b model.SourceFile) int {
		return cmp.Compare(a.Path, b.Path)
	})
	return files, nil
}

// installedFiles is the subset of source files outside the downloads
// folder and the compiler's own folders, with their positions in the full
// source list.
type installedFiles struct {
	files []model.SourceFile
	at    []int
}

func (c *Compiler) installed(index *vfs.Index, files []model.SourceFile) installedFiles {
	out := installedFiles{files: make([]model.SourceFile, 0, len(files))}
	skip := append([]string{c.opts.DownloadsDir}, c.ownDirs()...)
	for i, f := range files {
		if slices.ContainsFunc(skip, func(dir string) bool { return index.IsUnder(f.Node, dir) }) {
			continue
		}
		out.files = append(out.files, f)
		out.at = append(out.at, i)
	}
	return out
}

func (in installedFiles) directives(all []model.Directive) []model.Directive {
	out := make([]model.Directive, len(in.at))
	for i, at := range in.at {
		out[i] = all[at]
	}
	return out
}

// readInline loads the bytes of every inline directive into blobs.
func (c *Compiler) readInline(files []model.SourceFile, directives []model.Directive, blobs map[string][]byte) error {
	for i, d := range directives {
		inline, ok := d.(model.InlineFile)
		if !ok {
			continue
		}
		if _, done := blobs[inline.SourceDataID]; done {
			continue
		}
		data, err := afero.ReadFile(c.fs, files[i].AbsPath)
		if err != nil {
			return fmt.Errorf("reading inline file %s: %w", inline.To, err)
		}
		if model.HashBytes(data) != inline.Hash {
			return fmt.Errorf("%s changed during compilation", inline.To)
		}
		blobs[inline.SourceDataID] = data
	}
	return nil
}

func (c *Compiler) progress(stage string) func(done, total int) {
	return func(done, total int) {
		if done == total || done%1000 == 0 {
			c.logger.Debug("progress", "stage", stage, "done", done, "total", total)
		}
	}
}

// stats counts the installed files; directives for the downloads folder
// are not passed in.
func (c *Compiler) stats(directives []model.Directive, m *model.Manifest, blobs map[string][]byte, d time.Duration) Stats {
	s := Stats{
		Files:    len(directives),
		ByKind:   make(map[model.Kind]int),
		Archives: len(m.Archives),
		Duration: d,
	}
	for _, dir := range directives {
		s.ByKind[dir.Kind()]++
	}
	for _, dir := range m.Directives {
		switch v := dir.(type) {
		case model.PatchedFromArchive:
			s.PatchBytes += int64(len(blobs[v.PatchID]))
		case model.InlineFile:
			s.InlineBytes += v.Size
		}
	}
	return s
}
