package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/pixelfx/internal/domain"
	"github.com/dunamismax/pixelfx/internal/effect"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var ErrUnsupportedSourceType = domain.ErrUnsupportedSourceType

// Request identifies one effect job: where the source lives and what to do
// with it.
type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Effect     effect.Kind
	Strength   int
}

// Artifact describes an emitted result.
type Artifact struct {
	Effect  string `json:"effect"`
	Format  string `json:"format"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Bytes   int    `json:"bytes"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Success bool   `json:"success"`
}

type Result struct {
	SourceBytes int
	Artifact    Artifact
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// Transformer turns source bytes into an encoded effect result.
type Transformer interface {
	Process(ctx context.Context, input []byte, kind effect.Kind, strength int) (Output, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, name string, out Output) (Artifact, error)
}

type Processor struct {
	fetcher      Fetcher
	transformer  Transformer
	emitter      Emitter
	exportPrefix string
	now          func() time.Time
}

func NewProcessor(fetcher Fetcher, transformer Transformer, emitter Emitter, exportPrefix string) (*Processor, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if transformer == nil {
		return nil, errors.New("transformer is required")
	}
	if emitter == nil {
		return nil, errors.New("emitter is required")
	}

	return &Processor{
		fetcher:      fetcher,
		transformer:  transformer,
		emitter:      emitter,
		exportPrefix: exportPrefix,
		now:          time.Now,
	}, nil
}

// NewLocalProcessor reads sources from disk, refusing files above
// maxInputBytes (zero means unbounded), and writes results under outputDir.
func NewLocalProcessor(engine *Engine, outputDir, exportPrefix string, maxInputBytes int64) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{MaxBytes: maxInputBytes}, engine, LocalFileEmitter{OutputDir: outputDir}, exportPrefix)
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if err := effect.Lookup(req.Effect); err != nil {
		return Result{}, err
	}
	if err := effect.ValidateStrength(req.Strength); err != nil {
		return Result{}, err
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	out, err := p.transformer.Process(ctx, sourceBytes, req.Effect, req.Strength)
	if err != nil {
		return Result{}, fmt.Errorf("transform stage effect=%s: %w", req.Effect, err)
	}

	name := ExportFilename(p.exportPrefix, out.Kind, out.Format, p.now())
	written, err := p.emitter.Emit(ctx, req, name, out)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage effect=%s: %w", req.Effect, err)
	}

	return Result{SourceBytes: len(sourceBytes), Artifact: written}, nil
}

type LocalFileFetcher struct {
	MaxBytes int64
}

func (f LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	file, err := os.Open(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	defer file.Close()

	var r io.Reader = file
	if f.MaxBytes > 0 {
		r = io.LimitReader(file, f.MaxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	if f.MaxBytes > 0 && int64(len(data)) > f.MaxBytes {
		return nil, fmt.Errorf("read input file %s: %w of %d bytes", req.ObjectKey, domain.ErrSourceTooLarge, f.MaxBytes)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, name string, out Output) (Artifact, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Artifact{}, errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, PathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, name)
	if err := writeFileAtomic(fullPath, out.Data); err != nil {
		return Artifact{}, err
	}

	return newArtifact(name, fullPath, out), nil
}

// writeFileAtomic never leaves a partially written result at path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod output file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move output file: %w", err)
	}
	return nil
}

func newArtifact(name, location string, out Output) Artifact {
	return Artifact{
		Effect:  out.Kind.String(),
		Format:  out.Format,
		Name:    name,
		Path:    location,
		Bytes:   len(out.Data),
		Width:   out.Width,
		Height:  out.Height,
		Success: true,
	}
}
