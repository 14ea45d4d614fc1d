package reduce

import (
	"encoding/binary"
	"fmt"

	"github.com/activestorage/s3-active-storage/internal/dtype"
	"github.com/activestorage/s3-active-storage/internal/plan"
	"github.com/activestorage/s3-active-storage/pkg/types"
)

// State is the engine's position in its two-state machine.
type State int

const (
	Empty State = iota
	Accumulating
)

func (s State) String() string {
	if s == Accumulating {
		return "accumulating"
	}
	return "empty"
}

// Strategy selects how chunks are consumed.
type Strategy int

const (
	// Streaming decodes and reduces each chunk as it arrives.
	Streaming Strategy = iota

	// Materialize assembles every chunk, reshapes the result with Shape
	// and Order, and reduces once.
	Materialize
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	Strategy  Strategy
	ByteOrder binary.ByteOrder

	// Shape is the reshape target in Materialize mode. In Streaming mode it
	// is the shape given to a select result.
	Shape []int

	// Order is the storage order of the raw elements in Materialize mode.
	Order types.Order
}

// Engine folds a sequence of chunks into one result array.
type Engine struct {
	reducer *Reducer
	dtype   dtype.DType
	opts    EngineOptions

	state   State
	running Partial

	pending []byte
}

// NewEngine creates an engine in the Empty state.
func NewEngine(r *Reducer, d dtype.DType, opts EngineOptions) *Engine {
	if opts.ByteOrder == nil {
		opts.ByteOrder = binary.LittleEndian
	}
	return &Engine{reducer: r, dtype: d, opts: opts}
}

// State reports the current state.
func (e *Engine) State() State {
	return e.state
}

// Feed consumes one chunk of raw bytes. The chunk is not retained.
func (e *Engine) Feed(chunk []byte) error {
	if e.opts.Strategy == Materialize {
		e.pending = append(e.pending, chunk...)
		return nil
	}
	a, err := DecodeArray(e.dtype, chunk, e.opts.ByteOrder)
	if err != nil {
		return err
	}
	e.FeedArray(a)
	return nil
}

// FeedArray applies one decoded chunk. Empty arrays leave the state as is.
func (e *Engine) FeedArray(a Array) {
	if a.Len() == 0 {
		return
	}
	p := e.reducer.Reduce(a)
	if e.state == Empty {
		e.running = p
		e.state = Accumulating
		return
	}
	e.running = e.reducer.Combine(e.running, p)
}

// Result finishes the reduction. With no elements consumed it returns the
// operation's identity, or an error when there is none.
func (e *Engine) Result() (Array, error) {
	if e.opts.Strategy == Materialize {
		if err := e.assemble(); err != nil {
			return Array{}, err
		}
	}

	var out Array
	if e.state == Empty {
		id, err := e.reducer.Empty(e.dtype)
		if err != nil {
			return Array{}, err
		}
		out = id
	} else {
		out = e.reducer.Finalize(e.running)
	}

	if e.reducer.Op == OpSelect && e.opts.Shape != nil {
		return out.Reshape(e.opts.Shape)
	}
	return out, nil
}

// assemble turns the pending bytes into a single pre-assembled chunk in
// row-major logical order and applies it.
func (e *Engine) assemble() error {
	a, err := DecodeArray(e.dtype, e.pending, e.opts.ByteOrder)
	e.pending = nil
	if err != nil {
		return err
	}

	shape := e.opts.Shape
	if shape == nil {
		shape = []int{a.Len()}
	}
	if _, err := a.Reshape(shape); err != nil {
		return err
	}

	// Element order only matters when the elements themselves are returned.
	if e.reducer.Op == OpSelect && e.opts.Order == types.ColumnMajor && len(shape) > 1 {
		a = a.Gather(permutation(shape, types.ColumnMajor))
	}
	e.FeedArray(a)
	return nil
}

// permutation maps each row-major position of shape to the flat position of
// the same element under order.
func permutation(shape []int, order types.Order) []int {
	full := make([]types.Slice, len(shape))
	for d, n := range shape {
		full[d] = types.Slice{Start: 0, Stop: n, Stride: 1}
	}
	idx, _, err := plan.LinearIndices(shape, order, full)
	if err != nil {
		panic(fmt.Sprintf("reduce: full selection of %v rejected: %v", shape, err))
	}
	return idx
}
