package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelfx/internal/effect"
	"github.com/dunamismax/pixelfx/internal/pixel"
	"github.com/dunamismax/pixelfx/internal/resize"
)

type Options struct {
	MaxWidth  int
	MaxHeight int
	Filter    resize.Filter
	Format    string
	Quality   int
}

// Engine runs decode, resize, effect and encode as one unit per image. It
// keeps no per-request state and is safe for concurrent use.
type Engine struct {
	policy  resize.Policy
	format  string
	quality int
	tracer  trace.Tracer
}

func NewEngine(opts Options) *Engine {
	return &Engine{
		policy:  resize.Policy{MaxWidth: opts.MaxWidth, MaxHeight: opts.MaxHeight, Filter: opts.Filter},
		format:  pixel.NormalizeFormat(opts.Format),
		quality: opts.Quality,
		tracer:  otel.Tracer("pixelfx/pipeline"),
	}
}

// EffectRequest is the untyped form of a Process call, as it arrives from
// HTTP or the job queue.
type EffectRequest struct {
	Data     []byte
	MimeHint string
	Effect   string
	Strength int
}

type Output struct {
	Data   []byte
	Format string
	Width  int
	Height int
	Kind   effect.Kind
}

// Format is the output format the engine encodes to.
func (e *Engine) Format() string {
	return e.format
}

// ProcessRequest validates the effect name and strength before any pixel work.
func (e *Engine) ProcessRequest(ctx context.Context, req EffectRequest) (Output, error) {
	kind, err := effect.ParseKind(req.Effect)
	if err != nil {
		return Output{}, err
	}
	return e.process(ctx, req.Data, req.MimeHint, kind, req.Strength)
}

func (e *Engine) Process(ctx context.Context, input []byte, kind effect.Kind, strength int) (Output, error) {
	return e.process(ctx, input, "", kind, strength)
}

func (e *Engine) process(ctx context.Context, input []byte, mimeHint string, kind effect.Kind, strength int) (Output, error) {
	if err := effect.Lookup(kind); err != nil {
		return Output{}, err
	}
	if err := effect.ValidateStrength(strength); err != nil {
		return Output{}, err
	}

	ctx, span := e.tracer.Start(ctx, "pipeline.process")
	span.SetAttributes(
		attribute.String("effect.kind", kind.String()),
		attribute.Int("effect.strength", strength),
		attribute.Int("input.bytes", len(input)),
	)
	defer span.End()

	out, err := e.run(ctx, input, mimeHint, kind, strength)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "process failed")
		return Output{}, err
	}

	span.SetAttributes(
		attribute.Int("output.width", out.Width),
		attribute.Int("output.height", out.Height),
		attribute.Int("output.bytes", len(out.Data)),
	)
	return out, nil
}

func (e *Engine) run(ctx context.Context, input []byte, mimeHint string, kind effect.Kind, strength int) (Output, error) {
	src, _, err := pixel.Decode(input, mimeHint)
	if err != nil {
		return Output{}, fmt.Errorf("decode stage: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	fitted := e.policy.Apply(src)
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	res, err := effect.ApplyContext(ctx, fitted, kind, effect.Intensity(strength))
	if err != nil {
		return Output{}, fmt.Errorf("effect stage kind=%s: %w", kind, err)
	}

	data, err := pixel.Encode(res.Buffer, e.format, e.quality)
	if err != nil {
		return Output{}, fmt.Errorf("encode stage: %w", err)
	}

	return Output{
		Data:   data,
		Format: e.format,
		Width:  res.Buffer.Width,
		Height: res.Buffer.Height,
		Kind:   res.Kind,
	}, nil
}
