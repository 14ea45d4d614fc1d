// Package fetch turns planned byte ranges into a lazy sequence of byte chunks
// read from an upstream object.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/sourcegraph/conc/stream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/activestorage/s3-active-storage/internal/plan"
	pkgerrors "github.com/activestorage/s3-active-storage/pkg/errors"
)

// DefaultChunkSize is the streaming chunk size for single-range reads.
const DefaultChunkSize = 8192

// Source opens byte ranges of one upstream object.
type Source interface {
	GetRange(ctx context.Context, r plan.ByteRange) (io.ReadCloser, error)
	Resource() string
}

// Recorder receives per-range outcomes. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordRange(status string, bytes int64)
}

// Options controls how ranges are fetched.
type Options struct {
	// ChunkSize bounds each chunk in single-range mode. Rounded down to a
	// multiple of the element width.
	ChunkSize int

	// Concurrency is the number of ranges in flight in multi-range mode.
	// 1 fetches strictly one after another.
	Concurrency int

	// Coalesce merges adjacent ranges before fetching.
	Coalesce bool
}

// Fetcher reads planned ranges from a Source.
type Fetcher struct {
	opts     Options
	recorder Recorder
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates a Fetcher. recorder may be nil.
func New(opts Options, recorder Recorder, logger *slog.Logger) *Fetcher {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		opts:     opts,
		recorder: recorder,
		logger:   logger.With("component", "fetch"),
		tracer:   otel.Tracer("github.com/activestorage/s3-active-storage/internal/fetch"),
	}
}

// Options returns the effective options.
func (f *Fetcher) Options() Options {
	return f.opts
}

// Chunks returns the chunk sequence for ranges. Every chunk length is a
// multiple of width. In single-range mode a chunk's backing array is reused,
// so it is only valid until the next iteration step. The sequence stops at
// the first error, and stopping early releases every upstream body.
//
// selection chooses multi-range mode, where each (possibly coalesced) range
// becomes exactly one chunk, yielded in plan order.
func (f *Fetcher) Chunks(ctx context.Context, src Source, ranges []plan.ByteRange, width int, selection bool) iter.Seq2[[]byte, error] {
	if !selection && len(ranges) == 1 {
		return f.stream(ctx, src, ranges[0], width)
	}
	if f.opts.Coalesce {
		planned := len(ranges)
		ranges = plan.Coalesce(ranges)
		f.logger.Debug("Coalesced ranges", "resource", src.Resource(), "planned", planned, "fetched", len(ranges))
	}
	if f.opts.Concurrency > 1 && len(ranges) > 1 {
		return f.fanOut(ctx, src, ranges, width)
	}
	return f.sequential(ctx, src, ranges, width)
}

// stream reads one range in fixed-size pieces.
func (f *Fetcher) stream(ctx context.Context, src Source, r plan.ByteRange, width int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		ctx, span := f.tracer.Start(ctx, "fetch.stream", trace.WithAttributes(
			attribute.String("resource", src.Resource()),
			attribute.String("range", r.Header()),
		))
		defer span.End()

		body, err := src.GetRange(ctx, r)
		if err != nil {
			f.record("error", 0)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
			return
		}
		defer body.Close()

		size := f.opts.ChunkSize - f.opts.ChunkSize%width
		if size == 0 {
			size = width
		}
		buf := make([]byte, size)

		var total int64
		for {
			n, err := io.ReadFull(body, buf)
			if n > 0 {
				total += int64(n)
				if n%width != 0 {
					f.record("error", total)
					derr := decodingError(n, width, src.Resource())
					span.SetStatus(codes.Error, derr.Error())
					yield(nil, derr)
					return
				}
				if !yield(buf[:n], nil) {
					f.record("cancelled", total)
					return
				}
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			if err != nil {
				f.record("error", total)
				rerr := readError(ctx, err)
				span.SetStatus(codes.Error, rerr.Error())
				yield(nil, rerr)
				return
			}
		}

		f.record("ok", total)
		span.SetAttributes(attribute.Int64("bytes", total))
	}
}

// sequential fetches each range fully before opening the next.
func (f *Fetcher) sequential(ctx context.Context, src Source, ranges []plan.ByteRange, width int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		ctx, span := f.tracer.Start(ctx, "fetch.ranges", trace.WithAttributes(
			attribute.String("resource", src.Resource()),
			attribute.Int("ranges", len(ranges)),
			attribute.Int("concurrency", 1),
		))
		defer span.End()

		for _, r := range ranges {
			chunk, err := f.readRange(ctx, src, r, width)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				yield(nil, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

type fetched struct {
	chunk []byte
	err   error
}

// fanOut keeps up to Concurrency ranges in flight and yields their bodies in
// plan order. The stream's callback queue bounds how many finished chunks
// wait for the consumer.
func (f *Fetcher) fanOut(ctx context.Context, src Source, ranges []plan.ByteRange, width int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		ctx, span := f.tracer.Start(ctx, "fetch.ranges", trace.WithAttributes(
			attribute.String("resource", src.Resource()),
			attribute.Int("ranges", len(ranges)),
			attribute.Int("concurrency", f.opts.Concurrency),
		))
		defer span.End()

		parent := ctx
		ctx, cancel := context.WithCancel(ctx)
		out := make(chan fetched)

		go func() {
			defer close(out)
			s := stream.New().WithMaxGoroutines(f.opts.Concurrency)
			for _, r := range ranges {
				if ctx.Err() != nil {
					break
				}
				s.Go(func() stream.Callback {
					chunk, err := f.readRange(ctx, src, r, width)
					return func() {
						select {
						case out <- fetched{chunk: chunk, err: err}:
						case <-ctx.Done():
						}
					}
				})
			}
			s.Wait()
		}()

		// Every reader has closed its body once out is drained.
		defer func() {
			cancel()
			for range out {
			}
		}()

		delivered := 0
		for res := range out {
			if res.err != nil {
				span.SetStatus(codes.Error, res.err.Error())
				yield(nil, res.err)
				return
			}
			delivered++
			if !yield(res.chunk, nil) {
				return
			}
		}
		if delivered < len(ranges) {
			err := parent.Err()
			if err == nil {
				err = context.Canceled
			}
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
		}
	}
}

// readRange reads one range fully into a fresh buffer.
func (f *Fetcher) readRange(ctx context.Context, src Source, r plan.ByteRange, width int) ([]byte, error) {
	body, err := src.GetRange(ctx, r)
	if err != nil {
		f.record("error", 0)
		return nil, err
	}
	defer body.Close()

	var buf bytes.Buffer
	if n := r.Len(); n > 0 {
		buf.Grow(int(n))
	}
	n, err := io.Copy(&buf, body)
	if err != nil {
		f.record("error", n)
		return nil, readError(ctx, err)
	}
	if buf.Len()%width != 0 {
		f.record("error", n)
		return nil, decodingError(buf.Len(), width, src.Resource())
	}
	f.record("ok", n)
	return buf.Bytes(), nil
}

func (f *Fetcher) record(status string, bytes int64) {
	if f.recorder != nil {
		f.recorder.RecordRange(status, bytes)
	}
}

func decodingError(n, width int, resource string) error {
	return pkgerrors.NewDecodingError(
		"chunk of %d bytes is not a multiple of the element width %d", n, width).
		WithResource(resource).
		WithComponent("fetch")
}

// readError classifies a failure while reading an already opened body.
func readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var pe *pkgerrors.ProxyError
	if errors.As(err, &pe) {
		return pe
	}
	return pkgerrors.NewUpstreamUnreachable(fmt.Errorf("reading upstream body: %w", err))
}
