package vfs

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/StinkyLord/modlist-builder/internal/model"
)

// Staged holds nodes materialised on disk so their bytes can be read.
// Archives are unpacked on demand, once each, into scratch directories
// that Close removes.
type Staged struct {
	ix  *Index
	ctx context.Context

	mu        sync.Mutex
	unpacked  map[model.NodeID]string
	scratches []string
}

// Stage unpacks the archives containing ids. Nested archives are unpacked
// from their already unpacked parents.
func (ix *Index) Stage(ctx context.Context, ids []model.NodeID) (*Staged, error) {
	s := &Staged{
		ix:       ix,
		ctx:      ctx,
		unpacked: make(map[model.NodeID]string),
	}
	for _, id := range ids {
		if _, err := s.path(id); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// path returns where id's bytes are on disk, unpacking parents as needed.
func (s *Staged) path(id model.NodeID) (string, error) {
	n := s.ix.Node(id)
	if n.Parent == model.NoParent {
		return n.Name, nil
	}
	dir, err := s.unpack(n.Parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(n.Name)), nil
}

func (s *Staged) unpack(archive model.NodeID) (string, error) {
	s.mu.Lock()
	dir, ok := s.unpacked[archive]
	s.mu.Unlock()
	if ok {
		return dir, nil
	}

	src, err := s.path(archive)
	if err != nil {
		return "", err
	}
	if s.ix.extractor == nil {
		return "", fmt.Errorf("staging %s: no extractor", s.ix.FullPath(archive))
	}
	dir, err = s.ix.scratchDir()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.scratches = append(s.scratches, dir)
	s.mu.Unlock()

	if err := s.ix.extractor.Extract(s.ctx, src, dir); err != nil {
		return "", fmt.Errorf("staging %s: %w", s.ix.FullPath(archive), err)
	}

	s.mu.Lock()
	s.unpacked[archive] = dir
	s.mu.Unlock()
	return dir, nil
}

// ReadFile returns the bytes of id, verified against the indexed hash.
func (s *Staged) ReadFile(id model.NodeID) ([]byte, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.ix.fs, p)
	if err != nil {
		return nil, fmt.Errorf("reading staged %s: %w", s.ix.FullPath(id), err)
	}
	if got, want := model.HashBytes(data), s.ix.Node(id).Hash; got != want {
		return nil, fmt.Errorf("%w: %s is %s, indexed as %s", ErrHashMismatch, s.ix.FullPath(id), got, want)
	}
	return data, nil
}

// Close removes every scratch directory created for this staging.
func (s *Staged) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, dir := range s.scratches {
		if err := s.ix.fs.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.scratches = nil
	s.unpacked = map[model.NodeID]string{}
	return firstErr
}
