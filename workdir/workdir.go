// Package workdir manages the NRG_WORKDIR-rooted scratch directory
// that holds per-step transformation and density-matrix blobs between
// the forward and backward passes, grounded on
// exactdiag/mat/mat.go's eigs/eigsDir temp-directory idiom
// (os.MkdirTemp + defer os.RemoveAll), generalized into a type with a
// Close method mirroring mat.DiskMatrix.Close.
package workdir

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// EnvVar is the environment variable spec.md §6 names to override the
// scratch directory root.
const EnvVar = "NRG_WORKDIR"

// Dir is a unique scratch subdirectory, created under the root named
// by NRG_WORKDIR (or "." if unset). Close removes it only when
// removeFiles was set at New; otherwise the directory is left in place.
type Dir struct {
	Path        string
	removeFiles bool
}

// New creates a unique scratch subdirectory under NRG_WORKDIR (or "."),
// via mkdtemp-style creation.
func New(removeFiles bool) (*Dir, error) {
	root := os.Getenv(EnvVar)
	if root == "" {
		root = "."
	}
	path, err := os.MkdirTemp(root, "nrg-")
	if err != nil {
		return nil, errors.Wrapf(err, "workdir: creating scratch dir under root=%s", root)
	}
	return &Dir{Path: path, removeFiles: removeFiles}, nil
}

// Join returns path joined under the scratch directory.
func (d *Dir) Join(name string) string { return filepath.Join(d.Path, name) }

// Close removes the scratch directory and its contents when
// removeFiles was requested at New; otherwise it leaves the directory
// in place for post-mortem inspection.
func (d *Dir) Close() error {
	if !d.removeFiles {
		return nil
	}
	if err := os.RemoveAll(d.Path); err != nil {
		return errors.Wrapf(err, "workdir: removing path=%s", d.Path)
	}
	return nil
}
