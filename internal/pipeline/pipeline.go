// Package pipeline composes planning, fetching, reduction and encoding into
// one request-scoped operation.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/activestorage/s3-active-storage/internal/fetch"
	"github.com/activestorage/s3-active-storage/internal/plan"
	"github.com/activestorage/s3-active-storage/internal/reduce"
	"github.com/activestorage/s3-active-storage/pkg/errors"
	"github.com/activestorage/s3-active-storage/pkg/types"
)

// Recorder receives the outcome of each reduction.
type Recorder interface {
	RecordReduction(operation, dtype, status string, duration time.Duration)
}

// Service runs reductions against upstream objects.
type Service struct {
	registry *reduce.Registry
	fetcher  *fetch.Fetcher
	recorder Recorder
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates a Service. recorder may be nil.
func New(registry *reduce.Registry, fetcher *fetch.Fetcher, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: registry,
		fetcher:  fetcher,
		recorder: recorder,
		logger:   logger.With("component", "pipeline"),
		tracer:   otel.Tracer("github.com/activestorage/s3-active-storage/internal/pipeline"),
	}
}

// Registry returns the reducer lookup table.
func (s *Service) Registry() *reduce.Registry {
	return s.registry
}

// Run validates spec, plans and fetches its byte ranges from src, and reduces
// them with the named operation. No upstream request is made when
// validation or planning fails.
func (s *Service) Run(ctx context.Context, operation string, spec *types.RequestSpec, src fetch.Source) (enc *reduce.Encoded, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("dtype", string(spec.DType)),
		attribute.String("resource", src.Resource()),
	))
	defer func() {
		status := "ok"
		switch {
		case err != nil && ctx.Err() != nil:
			status = "cancelled"
		case err != nil:
			status = string(errors.AsProxyError(err).Category)
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		if s.recorder != nil {
			s.recorder.RecordReduction(operation, string(spec.DType), status, time.Since(start))
		}
		span.End()
	}()

	reducer, err := s.registry.Lookup(operation)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	p, err := plan.Build(spec)
	if err != nil {
		return nil, err
	}

	opts := reduce.EngineOptions{ByteOrder: spec.ByteOrder.Binary()}
	switch {
	case p.Selection:
		opts.Shape = p.Shape
	case spec.Shape != nil:
		opts.Strategy = reduce.Materialize
		opts.Shape = spec.Shape
		opts.Order = spec.Order
	}
	span.SetAttributes(
		attribute.Int("ranges", len(p.Ranges)),
		attribute.Bool("selection", p.Selection),
		attribute.Bool("materialize", opts.Strategy == reduce.Materialize),
	)

	s.logger.Debug("Planned reduction",
		"operation", operation,
		"resource", src.Resource(),
		"ranges", len(p.Ranges),
		"selection", p.Selection,
		"materialize", opts.Strategy == reduce.Materialize)

	engine := reduce.NewEngine(reducer, spec.DType, opts)
	if len(p.Ranges) > 0 {
		for chunk, err := range s.fetcher.Chunks(ctx, src, p.Ranges, spec.Width(), p.Selection) {
			if err != nil {
				return nil, err
			}
			if err := engine.Feed(chunk); err != nil {
				return nil, err
			}
		}
	}

	result, err := engine.Result()
	if err != nil {
		return nil, err
	}
	return reduce.Encode(result, spec.Order, spec.ByteOrder), nil
}
