package compile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Artifact is one built plugin.
type Artifact struct {
	Key       string    `msgpack:"key"`
	Assembly  string    `msgpack:"assembly"`
	Path      string    `msgpack:"path"`
	Files     []string  `msgpack:"files"`
	Size      int64     `msgpack:"size"`
	CreatedAt time.Time `msgpack:"created_at"`
}

// ArtifactStore indexes built artifacts by content key.
type ArtifactStore interface {
	Get(ctx context.Context, key string) (*Artifact, bool, error)
	Put(ctx context.Context, a *Artifact) error
	Delete(ctx context.Context, key string) error
	// List returns all artifacts ordered by key.
	List(ctx context.Context) ([]*Artifact, error)
	Close() error
}

// manifest is the on-disk form of a ManifestStore.
type manifest struct {
	Version   int                  `msgpack:"version"`
	Artifacts map[string]*Artifact `msgpack:"artifacts"`
}

const manifestVersion = 1

// ManifestStore keeps the index in a single msgpack file, rewritten on
// every change.
type ManifestStore struct {
	path string

	mu        sync.RWMutex
	artifacts map[string]*Artifact
}

// OpenManifest loads the manifest at path, or starts an empty one when the
// file does not exist.
func OpenManifest(path string) (*ManifestStore, error) {
	s := &ManifestStore{path: path, artifacts: make(map[string]*Artifact)}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	if m.Version != manifestVersion {
		// Entries written by another version are rebuilt on demand.
		return s, nil
	}
	if m.Artifacts != nil {
		s.artifacts = m.Artifacts
	}
	return s, nil
}

// Get implements ArtifactStore.
func (s *ManifestStore) Get(_ context.Context, key string) (*Artifact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[key]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

// Put implements ArtifactStore.
func (s *ManifestStore) Put(_ context.Context, a *Artifact) error {
	if a == nil || a.Key == "" {
		return errors.New("forge: artifact key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.artifacts[a.Key] = &cp
	return s.flush()
}

// Delete implements ArtifactStore.
func (s *ManifestStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[key]; !ok {
		return nil
	}
	delete(s.artifacts, key)
	return s.flush()
}

// List implements ArtifactStore.
func (s *ManifestStore) List(context.Context) ([]*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Artifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close implements ArtifactStore.
func (s *ManifestStore) Close() error { return nil }

// flush writes the manifest through a temporary file so a crash never
// leaves a truncated index. The caller holds s.mu.
func (s *ManifestStore) flush() error {
	data, err := msgpack.Marshal(&manifest{Version: manifestVersion, Artifacts: s.artifacts})
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".manifest-*")
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
