package compiler

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"

	"github.com/StinkyLord/modlist-builder/internal/model"
	"github.com/StinkyLord/modlist-builder/internal/patch"
	"github.com/StinkyLord/modlist-builder/internal/vfs"
	"github.com/StinkyLord/modlist-builder/internal/workpool"
)

// patchJob is every pending patch whose source lives in one downloaded
// archive, so the archive is unpacked once.
type patchJob struct {
	archive model.NodeID
	members []int
}

type patchOutcome struct {
	index int
	id    string
	data  []byte
	err   error
}

// blobID names a patch blob by its content.
func blobID(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// buildPatches completes every pending PatchedFromArchive in directives.
// A patch that cannot be built or breaks the size policy is replaced by an
// InlineFile. Built patches are added to blobs.
func (c *Compiler) buildPatches(ctx context.Context, index *vfs.Index, directives []model.Directive, blobs map[string][]byte) error {
	byArchive := make(map[model.NodeID][]int)
	for i, d := range directives {
		if pf, ok := d.(model.PatchedFromArchive); ok && pf.PatchID == "" {
			top := index.TopLevel(pf.FromNode)
			byArchive[top] = append(byArchive[top], i)
		}
	}
	if len(byArchive) == 0 {
		return nil
	}

	jobs := make([]patchJob, 0, len(byArchive))
	for archive, members := range byArchive {
		jobs = append(jobs, patchJob{archive: archive, members: members})
	}
	slices.SortFunc(jobs, func(a, b patchJob) int {
		return strings.Compare(index.FullPath(a.archive), index.FullPath(b.archive))
	})

	results, err := workpool.Map(ctx, jobs, c.workers, func(ctx context.Context, job patchJob) ([]patchOutcome, error) {
		return c.runPatchJob(ctx, index, directives, job)
	}, c.progress(StagePatches))
	if err != nil {
		return err
	}

	for _, outcomes := range results {
		for _, o := range outcomes {
			pf := directives[o.index].(model.PatchedFromArchive)
			if o.err != nil {
				c.logger.Warn("storing file inline instead of patching", "file", pf.To, "error", o.err)
				directives[o.index] = model.InlineFrom(pf)
				continue
			}
			blobs[o.id] = o.data
			directives[o.index] = pf.WithPatch(o.id)
		}
	}
	return nil
}

func (c *Compiler) runPatchJob(ctx context.Context, index *vfs.Index, directives []model.Directive, job patchJob) ([]patchOutcome, error) {
	rejected := make(map[int]error)
	var stageIDs []model.NodeID
	for _, i := range job.members {
		pf := directives[i].(model.PatchedFromArchive)
		if err := c.opts.PatchPolicy.CheckSource(index.Node(pf.FromNode).Size); err != nil {
			rejected[i] = err
			continue
		}
		stageIDs = append(stageIDs, pf.FromNode)
	}

	var staged *vfs.Staged
	if len(stageIDs) > 0 {
		var err error
		staged, err = index.Stage(ctx, stageIDs)
		if err == nil {
			defer func() {
				if err := staged.Close(); err != nil {
					c.logger.Warn("removing staged archive", "archive", index.FullPath(job.archive), "error", err)
				}
			}()
		}
		if cerr := workpool.Cancelled(ctx); cerr != nil {
			return nil, cerr
		}
		if err != nil {
			for _, i := range job.members {
				if rejected[i] == nil {
					rejected[i] = err
				}
			}
		}
	}

	outcomes := make([]patchOutcome, 0, len(job.members))
	for _, i := range job.members {
		if err := rejected[i]; err != nil {
			outcomes = append(outcomes, patchOutcome{index: i, err: err})
			continue
		}
		data, err := c.buildOne(ctx, staged, directives[i].(model.PatchedFromArchive))
		if cerr := workpool.Cancelled(ctx); cerr != nil {
			return nil, cerr
		}
		o := patchOutcome{index: i, data: data, err: err}
		if err == nil {
			o.id = blobID(data)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func (c *Compiler) buildOne(ctx context.Context, staged *vfs.Staged, pf model.PatchedFromArchive) ([]byte, error) {
	policy := c.opts.PatchPolicy
	source, err := staged.ReadFile(pf.FromNode)
	if err != nil {
		return nil, err
	}
	target, err := afero.ReadFile(c.fs, pf.To.RelativeTo(c.opts.InstallDir))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", pf.To, err)
	}
	if model.HashBytes(target) != pf.Hash {
		return nil, fmt.Errorf("%s changed during compilation", pf.To)
	}

	buildCtx := ctx
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}
	data, err := patch.BuildContext(buildCtx, target, source)
	if err != nil {
		if errors.Is(err, workpool.ErrCancelled) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: building took longer than %s", patch.ErrOversize, policy.Timeout)
		}
		return nil, err
	}
	if err := policy.CheckPatch(len(data), len(target)); err != nil {
		return nil, err
	}
	return data, nil
}
