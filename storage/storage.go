package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mkallweit/normrel/helper"
)

// ErrNotFound is returned when a ref does not resolve to stored content
var ErrNotFound = errors.New("stored object not found")

// Storage is the object storage contract for uploaded documents and
// derived artifacts. Refs are opaque to callers.
type Storage interface {
	Upload(ctx context.Context, data []byte) (string, error)
	Download(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

// Filesystem stores objects content-addressed under a root directory.
// Uploading the same bytes twice yields the same ref, which keeps
// replayed pipeline steps from accumulating copies.
type Filesystem struct {
	root string
}

// NewFilesystem creates a filesystem storage rooted at the given directory
func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		return nil, helper.NewError("storage root validation", fmt.Errorf("root directory is empty"))
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, helper.NewError("create storage root", err)
	}
	return &Filesystem{root: root}, nil
}

// Upload stores data and returns its content-addressed ref
func (f *Filesystem) Upload(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	ref := hex.EncodeToString(sum[:])

	path, err := f.path(ref)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", helper.NewError("create object directory", err)
	}

	// Write to a temp file first so a crash never leaves a partial object
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", helper.NewError("create temp file", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", helper.NewError("write object", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", helper.NewError("close object", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", helper.NewError("rename object", err)
	}

	return ref, nil
}

// Download returns the bytes stored for ref
func (f *Filesystem) Download(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := f.path(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, helper.NewError("read object", err)
	}
	return data, nil
}

// Delete removes the object for ref. Deleting a missing ref is a no-op.
func (f *Filesystem) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := f.path(ref)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return helper.NewError("remove object", err)
	}
	return nil
}

func (f *Filesystem) path(ref string) (string, error) {
	if len(ref) < 4 || strings.ContainsAny(ref, "/\\.") {
		return "", helper.NewError("ref validation", fmt.Errorf("invalid ref %q", ref))
	}
	return filepath.Join(f.root, ref[:2], ref), nil
}
