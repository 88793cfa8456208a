// Package probe defines the artifact ground-truth boundary: the orchestrator
// never trusts a completion claim without asking the probe whether the
// claimed artifacts actually exist. The reconciler uses the same boundary to
// classify interrupted work on resume.
package probe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Probe inspects observable ground truth for a claimed artifact id. It must
// never mutate anything.
type Probe interface {
	// Exists reports whether the artifact is present at all.
	Exists(ctx context.Context, artifactID string) bool
	// Validate reports whether the artifact is well-formed enough to trust.
	Validate(ctx context.Context, artifactID string) error
}

// Filesystem is a Probe over a project directory, treating artifact ids as
// file paths relative to Root.
type Filesystem struct {
	Root string
}

// NewFilesystem creates a filesystem probe rooted at the given directory.
func NewFilesystem(root string) *Filesystem {
	return &Filesystem{Root: root}
}

func (f *Filesystem) path(artifactID string) string {
	if filepath.IsAbs(artifactID) {
		return artifactID
	}
	return filepath.Join(f.Root, artifactID)
}

// Exists reports whether the artifact path exists.
func (f *Filesystem) Exists(ctx context.Context, artifactID string) bool {
	_, err := os.Stat(f.path(artifactID))
	return err == nil
}

// Validate accepts non-empty regular files and non-empty directories.
func (f *Filesystem) Validate(ctx context.Context, artifactID string) error {
	path := f.path(artifactID)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("artifact %q: %w", artifactID, err)
	}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return fmt.Errorf("artifact %q: %w", artifactID, err)
		}
		if len(entries) == 0 {
			return fmt.Errorf("artifact %q is an empty directory", artifactID)
		}
		return nil
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("artifact %q is not a regular file", artifactID)
	}
	if info.Size() == 0 {
		return fmt.Errorf("artifact %q is empty", artifactID)
	}
	return nil
}
