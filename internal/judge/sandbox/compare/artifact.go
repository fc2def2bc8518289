package compare

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"codelab/internal/common/storage"
	appErr "codelab/pkg/errors"
)

// Artifact is one side of a comparison.
type Artifact interface {
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
	// Release frees whatever backs the artifact. It must be safe to call
	// even when Open failed.
	Release(ctx context.Context) error
}

// Text is an in-memory artifact.
type Text string

func (t Text) Name() string { return "text" }

func (t Text) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(t))), nil
}

func (t Text) Release(context.Context) error { return nil }

// File is a captured output on disk; releasing it deletes the file.
type File struct {
	Path string
}

func (f File) Name() string { return f.Path }

func (f File) Open(context.Context) (io.ReadCloser, error) {
	return os.Open(f.Path)
}

func (f File) Release(context.Context) error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Object lives in object storage; releasing it deletes the object.
type Object struct {
	Store  storage.ObjectStorage
	Bucket string
	Key    string
}

func (o Object) Name() string { return o.Bucket + "/" + o.Key }

func (o Object) Open(ctx context.Context) (io.ReadCloser, error) {
	if o.Store == nil {
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("object storage is not configured")
	}
	return o.Store.GetObject(ctx, o.Bucket, o.Key)
}

func (o Object) Release(ctx context.Context) error {
	if o.Store == nil {
		return nil
	}
	return o.Store.RemoveObjects(ctx, o.Bucket, []string{o.Key})
}

func readAll(ctx context.Context, a Artifact, maxBytes int64) (string, error) {
	rc, err := a.Open(ctx)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", a.Name(), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", a.Name(), err)
	}
	if int64(len(data)) > maxBytes {
		return "", appErr.Newf(appErr.ArtifactTooLarge, "%s exceeds %d bytes", a.Name(), maxBytes)
	}
	return string(data), nil
}
