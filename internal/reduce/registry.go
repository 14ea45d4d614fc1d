// Package reduce implements the reduction operations, the chunk-consuming
// reduction engine and the result encoder.
package reduce

import (
	"fmt"
	"strings"

	"github.com/activestorage/s3-active-storage/internal/dtype"
	"github.com/activestorage/s3-active-storage/pkg/errors"
)

// Operation names one member of the closed set of reductions.
type Operation string

const (
	OpSum    Operation = "sum"
	OpMin    Operation = "min"
	OpMax    Operation = "max"
	OpCount  Operation = "count"
	OpSelect Operation = "select"
	OpMean   Operation = "mean"
)

// Partial is a running or per-chunk reduction result.
type Partial struct {
	// Value is the reduced value in the result dtype. For select it is the
	// concatenated elements.
	Value Array

	// Count is the number of input elements covered.
	Count int64

	// sum is the running sum used by mean.
	sum exactSum
}

// Reducer carries one operation's rules as data.
type Reducer struct {
	Op Operation

	// Reduce turns one non-empty decoded chunk into a partial result.
	Reduce func(a Array) Partial

	// Combine folds a chunk's partial into the running partial. Chunks are
	// combined in order, and select depends on it.
	Combine func(running, p Partial) Partial

	// Finalize produces the result array from the final partial.
	Finalize func(p Partial) Array

	// Identity is the result over zero elements. A nil Identity means the
	// operation has none and empty input is an error.
	Identity func(d dtype.DType) Array

	// ident is the operation's name in "no identity" errors.
	ident string
}

// Empty returns the result over zero input elements.
func (r *Reducer) Empty(d dtype.DType) (Array, error) {
	if r.Identity == nil {
		return Array{}, errors.NewInvalidRequest(
			"zero-size array to reduction operation %s which has no identity", r.ident)
	}
	return r.Identity(d), nil
}

// Registry resolves operation names to reducers.
type Registry struct {
	reducers map[Operation]*Reducer
	order    []Operation
}

// NewRegistry builds the lookup table of all supported operations.
func NewRegistry() *Registry {
	r := &Registry{reducers: make(map[Operation]*Reducer)}
	for _, red := range []*Reducer{
		sumReducer(),
		minMaxReducer(OpMin, "minimum", func(k kernel, v any) any { return k.min(v) }),
		minMaxReducer(OpMax, "maximum", func(k kernel, v any) any { return k.max(v) }),
		countReducer(),
		selectReducer(),
		meanReducer(),
	} {
		r.reducers[red.Op] = red
		r.order = append(r.order, red.Op)
	}
	return r
}

// Lookup returns the reducer for name.
func (r *Registry) Lookup(name string) (*Reducer, error) {
	red, ok := r.reducers[Operation(name)]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeNotFound,
			fmt.Sprintf("unsupported operation %q: must be one of %s", name, strings.Join(r.Names(), ", ")))
	}
	return red, nil
}

// Names lists the operation names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	for i, op := range r.order {
		names[i] = string(op)
	}
	return names
}

func scalarOf(d dtype.DType, v any) Array {
	return Array{DType: d, Shape: []int{}, data: v}
}

func sumReducer() *Reducer {
	return &Reducer{
		Op: OpSum,
		Reduce: func(a Array) Partial {
			return Partial{Value: scalarOf(a.DType, kernels[a.DType].sum(a.data)), Count: int64(a.Len())}
		},
		Combine: func(running, p Partial) Partial {
			k := kernels[running.Value.DType]
			v := k.sum(k.concat(running.Value.data, p.Value.data))
			return Partial{Value: scalarOf(running.Value.DType, v), Count: running.Count + p.Count}
		},
		Finalize: func(p Partial) Array { return p.Value },
		Identity: func(d dtype.DType) Array { return scalarOf(d, kernels[d].zero()) },
		ident:    "sum",
	}
}

func minMaxReducer(op Operation, ident string, pick func(kernel, any) any) *Reducer {
	return &Reducer{
		Op: op,
		Reduce: func(a Array) Partial {
			return Partial{Value: scalarOf(a.DType, pick(kernels[a.DType], a.data)), Count: int64(a.Len())}
		},
		Combine: func(running, p Partial) Partial {
			k := kernels[running.Value.DType]
			v := pick(k, k.concat(running.Value.data, p.Value.data))
			return Partial{Value: scalarOf(running.Value.DType, v), Count: running.Count + p.Count}
		},
		Finalize: func(p Partial) Array { return p.Value },
		ident:    ident,
	}
}

func countReducer() *Reducer {
	return &Reducer{
		Op: OpCount,
		Reduce: func(a Array) Partial {
			return Partial{Count: int64(a.Len())}
		},
		Combine: func(running, p Partial) Partial {
			return Partial{Count: running.Count + p.Count}
		},
		Finalize: func(p Partial) Array { return Scalar(dtype.Int64, p.Count) },
		Identity: func(dtype.DType) Array { return Scalar(dtype.Int64, int64(0)) },
		ident:    "count",
	}
}

func selectReducer() *Reducer {
	return &Reducer{
		Op: OpSelect,
		// The first chunk is clipped so that growing the running value never
		// writes into memory the caller still holds.
		Reduce: func(a Array) Partial {
			a.data = kernels[a.DType].clip(a.data)
			return Partial{Value: a, Count: int64(a.Len())}
		},
		Combine: func(running, p Partial) Partial {
			return Partial{Value: Append(running.Value, p.Value), Count: running.Count + p.Count}
		},
		Finalize: func(p Partial) Array { return p.Value },
		Identity: func(d dtype.DType) Array {
			k := kernels[d]
			return Array{DType: d, Shape: []int{0}, data: k.gather(k.zero(), nil)}
		},
		ident: "select",
	}
}

func meanReducer() *Reducer {
	return &Reducer{
		Op: OpMean,
		Reduce: func(a Array) Partial {
			return Partial{
				Value: Array{DType: a.DType},
				Count: int64(a.Len()),
				sum:   kernels[a.DType].total(a.data),
			}
		},
		Combine: func(running, p Partial) Partial {
			return Partial{Value: running.Value, Count: running.Count + p.Count, sum: running.sum.add(p.sum)}
		},
		Finalize: func(p Partial) Array {
			d := p.Value.DType
			return scalarOf(d, kernels[d].fromFloat(p.sum.div(d, p.Count)))
		},
		ident: "mean",
	}
}
