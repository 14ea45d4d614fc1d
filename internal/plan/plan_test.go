package plan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/activestorage/s3-active-storage/internal/dtype"
	"github.com/activestorage/s3-active-storage/pkg/errors"
	"github.com/activestorage/s3-active-storage/pkg/types"
)

func i64(v int64) *int64 { return &v }

func spec(mut func(*types.RequestSpec)) *types.RequestSpec {
	s := &types.RequestSpec{
		Source: "http://localhost:9000",
		Bucket: "sample-data",
		Object: "data.dat",
		DType:  dtype.Int32,
	}
	if mut != nil {
		mut(s)
	}
	if err := s.Validate(); err != nil {
		panic(err)
	}
	return s
}

func headers(ranges []ByteRange) []string {
	out := make([]string, len(ranges))
	for i, r := range ranges {
		out[i] = r.Header()
	}
	return out
}

func TestBuildWholeObject(t *testing.T) {
	p, err := Build(spec(nil))
	require.NoError(t, err)
	assert.False(t, p.Selection)
	assert.Equal(t, []string{"bytes=0-"}, headers(p.Ranges))
	assert.True(t, p.Ranges[0].Whole())
	assert.Equal(t, int64(-1), p.Ranges[0].Len())
}

func TestBuildOffsetAndSize(t *testing.T) {
	p, err := Build(spec(func(s *types.RequestSpec) { s.Offset = i64(8) }))
	require.NoError(t, err)
	assert.Equal(t, []string{"bytes=8-"}, headers(p.Ranges))
	assert.False(t, p.Ranges[0].Whole())

	p, err = Build(spec(func(s *types.RequestSpec) {
		s.Offset = i64(8)
		s.Size = i64(16)
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"bytes=8-23"}, headers(p.Ranges))
	assert.Equal(t, int64(16), p.Ranges[0].Len())

	p, err = Build(spec(func(s *types.RequestSpec) { s.Size = i64(40) }))
	require.NoError(t, err)
	assert.Equal(t, []string{"bytes=0-39"}, headers(p.Ranges))
}

func TestBuildStridedSelection(t *testing.T) {
	p, err := Build(spec(func(s *types.RequestSpec) {
		s.Shape = []int{10}
		s.Selection = []types.Slice{{Start: 0, Stop: 10, Stride: 2}}
	}))
	require.NoError(t, err)

	assert.True(t, p.Selection)
	assert.Equal(t, []int{5}, p.Shape)
	assert.Equal(t, []string{
		"bytes=0-3", "bytes=8-11", "bytes=16-19", "bytes=24-27", "bytes=32-35",
	}, headers(p.Ranges))
}

func TestBuildSelectionRelativeToOffset(t *testing.T) {
	p, err := Build(spec(func(s *types.RequestSpec) {
		s.DType = dtype.Float64
		s.Offset = i64(16)
		s.Shape = []int{4}
		s.Selection = []types.Slice{{Start: 1, Stop: 3, Stride: 1}}
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"bytes=24-31", "bytes=32-39"}, headers(p.Ranges))
}

func TestBuildSelectionTruncatedBySize(t *testing.T) {
	p, err := Build(spec(func(s *types.RequestSpec) {
		s.Shape = []int{2, 5}
		s.Size = i64(24)
		s.Selection = []types.Slice{{Start: 0, Stop: 2, Stride: 1}, {Start: 0, Stop: 5, Stride: 2}}
	}))
	require.NoError(t, err)
	// Selected flat indices are 0 2 4 5 7 9; only the first four end within 24 bytes.
	assert.Equal(t, []string{"bytes=0-3", "bytes=8-11", "bytes=16-19", "bytes=20-23"}, headers(p.Ranges))
	assert.Equal(t, []int{4}, p.Shape)
}

func TestBuildSelectionOutOfRange(t *testing.T) {
	_, err := Build(spec(func(s *types.RequestSpec) {
		s.Shape = []int{4}
		s.Selection = []types.Slice{{Start: 0, Stop: 6, Stride: 1}}
	}))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidRequest))
	assert.Contains(t, err.Error(), "out of bounds")
}

func TestBuildEmptySelection(t *testing.T) {
	p, err := Build(spec(func(s *types.RequestSpec) {
		s.Shape = []int{4}
		s.Selection = []types.Slice{{Start: 3, Stop: 1, Stride: 1}}
	}))
	require.NoError(t, err)
	assert.Empty(t, p.Ranges)
	assert.Equal(t, []int{0}, p.Shape)
}

func TestExpand(t *testing.T) {
	idx, err := Expand(types.Slice{Start: 1, Stop: 8, Stride: 3}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 7}, idx)

	idx, err = Expand(types.Slice{Start: 2, Stop: 2, Stride: 1}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, idx)

	_, err = Expand(types.Slice{Start: 0, Stop: 3, Stride: 0}, 10, 1)
	assert.Error(t, err)

	_, err = Expand(types.Slice{Start: 9, Stop: 12, Stride: 2}, 10, 0)
	assert.Error(t, err)
}

func TestRavel(t *testing.T) {
	shape := []int{2, 3, 4}

	rowMajor, err := Strides(shape, types.RowMajor)
	require.NoError(t, err)
	assert.Equal(t, []int{12, 4, 1}, rowMajor)
	colMajor, err := Strides(shape, types.ColumnMajor)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 6}, colMajor)

	ravel := func(index []int, order types.Order) int {
		flat, err := Ravel(index, shape, order)
		require.NoError(t, err)
		return flat
	}
	assert.Equal(t, 1*12+2*4+3, ravel([]int{1, 2, 3}, types.RowMajor))
	assert.Equal(t, 1+2*2+3*6, ravel([]int{1, 2, 3}, types.ColumnMajor))
	assert.Equal(t, 0, ravel([]int{0, 0, 0}, types.ColumnMajor))
}

func TestExpandHugeStopRejectedWithoutAllocating(t *testing.T) {
	for _, s := range []types.Slice{
		{Start: 0, Stop: 1 << 42, Stride: 1},
		{Start: 0, Stop: 1 << 62, Stride: 1},
		{Start: 0, Stop: math.MaxInt, Stride: 2},
	} {
		_, err := Expand(s, 10, 0)
		require.Error(t, err, s)
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidRequest))
		assert.Contains(t, err.Error(), "out of bounds for dimension 0 with size 10")
	}

	_, err := Expand(types.Slice{Start: 0, Stop: math.MaxInt, Stride: 2}, 10, 0)
	assert.Contains(t, err.Error(), "index 10 is out of bounds")

	// The second index would wrap past MaxInt, so only the first is selected.
	idx, err := Expand(types.Slice{Start: 3, Stop: math.MaxInt, Stride: math.MaxInt}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, idx)
}

func TestStridesOverflow(t *testing.T) {
	_, err := Strides([]int{1 << 32, 1 << 32}, types.RowMajor)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidRequest))

	_, err = Elements([]int{1 << 31, 1 << 31, 4})
	assert.Error(t, err)

	n, err := Elements([]int{1 << 31, 1 << 31})
	require.NoError(t, err)
	assert.Equal(t, int64(1)<<62, n)
}

func TestBuildRejectsOverflowingOffsets(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*types.RequestSpec)
	}{
		{"shape bytes past int64", func(s *types.RequestSpec) {
			s.DType = dtype.Int64
			s.Shape = []int{1 << 62}
			s.Selection = []types.Slice{{Start: 1 << 61, Stop: 1<<61 + 1, Stride: 1}}
		}},
		{"shape elements past int64", func(s *types.RequestSpec) {
			s.Shape = []int{1 << 40, 1 << 40}
		}},
		{"shape plus offset", func(s *types.RequestSpec) {
			s.Offset = i64(math.MaxInt64 - 3)
			s.Shape = []int{2}
		}},
		{"offset plus size", func(s *types.RequestSpec) {
			s.Offset = i64(math.MaxInt64 - 3)
			s.Size = i64(8)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(spec(tt.mut))
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidRequest))
		})
	}
}

func TestBuildLargestAddressableElement(t *testing.T) {
	p, err := Build(spec(func(s *types.RequestSpec) {
		s.DType = dtype.Int64
		s.Shape = []int{1 << 59}
		s.Selection = []types.Slice{{Start: 1<<59 - 1, Stop: 1 << 59, Stride: 1}}
	}))
	require.NoError(t, err)
	assert.Equal(t, []ByteRange{{Start: 1<<62 - 8, End: 1<<62 - 1}}, p.Ranges)
}

func TestBuildSelectionTooLarge(t *testing.T) {
	_, err := Build(spec(func(s *types.RequestSpec) {
		s.Shape = []int{1 << 40}
		s.Selection = []types.Slice{{Start: 0, Stop: 1 << 40, Stride: 1}}
	}))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidRequest))
	assert.Contains(t, err.Error(), "more than the 1048576 allowed")

	// An empty axis selects nothing regardless of the others.
	p, err := Build(spec(func(s *types.RequestSpec) {
		s.Shape = []int{1 << 40, 4}
		s.Selection = []types.Slice{{Start: 0, Stop: 1 << 40, Stride: 1}, {Start: 2, Stop: 2, Stride: 1}}
	}))
	require.NoError(t, err)
	assert.Empty(t, p.Ranges)
	assert.Equal(t, []int{1 << 40, 0}, p.Shape)
}

func TestLinearIndicesCartesianOrder(t *testing.T) {
	sel := []types.Slice{{Start: 0, Stop: 2, Stride: 1}, {Start: 0, Stop: 3, Stride: 2}}

	idx, counts, err := LinearIndices([]int{2, 3}, types.RowMajor, sel)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3, 5}, idx)
	assert.Equal(t, []int{2, 2}, counts)

	// Same logical elements, column-major storage: (i, j) lives at i + 2j.
	idx, _, err = LinearIndices([]int{2, 3}, types.ColumnMajor, sel)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4, 1, 5}, idx)
}

func TestLinearIndicesFullSelectionIsIdentity(t *testing.T) {
	shape := []int{3, 4}
	sel := []types.Slice{{Start: 0, Stop: 3, Stride: 1}, {Start: 0, Stop: 4, Stride: 1}}

	idx, _, err := LinearIndices(shape, types.RowMajor, sel)
	require.NoError(t, err)
	for i, v := range idx {
		assert.Equal(t, i, v)
	}
}

func TestLinearIndicesLengthMismatch(t *testing.T) {
	_, _, err := LinearIndices([]int{2, 3}, types.RowMajor, []types.Slice{{Start: 0, Stop: 1, Stride: 1}})
	assert.Error(t, err)
}

func TestCoalesce(t *testing.T) {
	in := []ByteRange{
		{Start: 0, End: 3},
		{Start: 4, End: 7},
		{Start: 8, End: 11},
		{Start: 16, End: 19},
		{Start: 20, End: 23},
		{Start: 40, Open: true},
	}
	out := Coalesce(in)
	assert.Equal(t, []string{"bytes=0-11", "bytes=16-23", "bytes=40-"}, headers(out))

	var total int64
	for _, r := range out[:2] {
		total += r.Len()
	}
	assert.Equal(t, int64(20), total)

	assert.Equal(t, []ByteRange{{Start: 0, End: 3}}, Coalesce([]ByteRange{{Start: 0, End: 3}}))
	assert.Empty(t, Coalesce(nil))
}
