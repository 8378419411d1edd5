package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/pixelfx/internal/pixel"
	"github.com/dunamismax/pixelfx/internal/storage"
)

// ObjectStore is the subset of the storage client the stages need.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

var _ ObjectStore = (*storage.Client)(nil)

type ObjectStoreFetcher struct {
	Storage ObjectStore
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, name string, out Output) (Artifact, error) {
	if e.Storage == nil {
		return Artifact{}, errors.New("storage client is required")
	}

	objectKey := storage.OutputKey(e.OutputPrefix, PathToken(req.JobID), name)
	if err := e.Storage.WriteObject(ctx, objectKey, out.Data, pixel.ContentType(out.Format)); err != nil {
		return Artifact{}, err
	}

	return newArtifact(name, objectKey, out), nil
}
