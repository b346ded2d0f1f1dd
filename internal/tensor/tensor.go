// Package tensor provides the dense rank-3 tensor the encoder passes
// between stages. Data is stored row-major in one contiguous slice of
// shape (batch, seq, dim) and exposed to gonum as zero-copy mat.Dense
// views, so matrix products run through gonum's BLAS.
package tensor

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-encoder/internal/simd"
)

// ErrShape reports a dimension mismatch between two operands.
var ErrShape = errors.New("shape mismatch")

// Tensor is a (batch, seq, dim) array of float64.
type Tensor struct {
	shape [3]int
	data  []float64
}

// New returns a zero tensor. All dimensions must be positive.
func New(batch, seq, dim int) *Tensor {
	if batch <= 0 || seq <= 0 || dim <= 0 {
		panic(fmt.Sprintf("tensor: invalid shape [%d %d %d]", batch, seq, dim))
	}
	return &Tensor{
		shape: [3]int{batch, seq, dim},
		data:  make([]float64, batch*seq*dim),
	}
}

// FromSlice wraps a copy of data as a (batch, seq, dim) tensor.
func FromSlice(data []float64, batch, seq, dim int) (*Tensor, error) {
	if batch <= 0 || seq <= 0 || dim <= 0 {
		return nil, fmt.Errorf("invalid shape [%d %d %d]: %w", batch, seq, dim, ErrShape)
	}
	if len(data) != batch*seq*dim {
		return nil, fmt.Errorf("data size %d does not match shape [%d %d %d]: %w",
			len(data), batch, seq, dim, ErrShape)
	}
	t := New(batch, seq, dim)
	copy(t.data, data)
	return t, nil
}

// FromNested builds a tensor from [batch][seq][dim] values. Every inner
// slice must have the same length.
func FromNested(values [][][]float64) (*Tensor, error) {
	if len(values) == 0 || len(values[0]) == 0 || len(values[0][0]) == 0 {
		return nil, fmt.Errorf("empty nested tensor: %w", ErrShape)
	}
	batch, seq, dim := len(values), len(values[0]), len(values[0][0])
	t := New(batch, seq, dim)
	for b, rows := range values {
		if len(rows) != seq {
			return nil, fmt.Errorf("sequence %d has length %d, want %d: %w", b, len(rows), seq, ErrShape)
		}
		for l, row := range rows {
			if len(row) != dim {
				return nil, fmt.Errorf("row [%d %d] has width %d, want %d: %w", b, l, len(row), dim, ErrShape)
			}
			copy(t.Row(b, l), row)
		}
	}
	return t, nil
}

func (t *Tensor) Shape() [3]int { return t.shape }
func (t *Tensor) Batch() int    { return t.shape[0] }
func (t *Tensor) Seq() int      { return t.shape[1] }
func (t *Tensor) Dim() int      { return t.shape[2] }

// Data returns the backing slice. Callers must not resize it.
func (t *Tensor) Data() []float64 { return t.data }

func (t *Tensor) index(b, l, d int) int {
	return (b*t.shape[1]+l)*t.shape[2] + d
}

func (t *Tensor) At(b, l, d int) float64 { return t.data[t.index(b, l, d)] }

func (t *Tensor) Set(b, l, d int, v float64) { t.data[t.index(b, l, d)] = v }

// Row returns the feature vector at (b, l), sharing memory with t.
func (t *Tensor) Row(b, l int) []float64 {
	off := t.index(b, l, 0)
	return t.data[off : off+t.shape[2] : off+t.shape[2]]
}

// Matrix returns batch element b as a (seq, dim) view sharing memory with t.
func (t *Tensor) Matrix(b int) *mat.Dense {
	size := t.shape[1] * t.shape[2]
	return mat.NewDense(t.shape[1], t.shape[2], t.data[b*size:(b+1)*size:(b+1)*size])
}

// Flat returns the whole tensor as a (batch*seq, dim) view.
func (t *Tensor) Flat() *mat.Dense {
	return mat.NewDense(t.shape[0]*t.shape[1], t.shape[2], t.data)
}

func (t *Tensor) Clone() *Tensor {
	out := &Tensor{shape: t.shape, data: make([]float64, len(t.data))}
	copy(out.data, t.data)
	return out
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	return a.shape == b.shape
}

// Add returns a + b elementwise.
func Add(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, fmt.Errorf("add %v + %v: %w", a.shape, b.shape, ErrShape)
	}
	out := a.Clone()
	for i, v := range b.data {
		out.data[i] += v
	}
	return out, nil
}

// Scale returns s * t.
func (t *Tensor) Scale(s float64) *Tensor {
	out := t.Clone()
	for i := range out.data {
		out.data[i] *= s
	}
	return out
}

// MulMatrix multiplies every (b, l) row of a by w: (B, L, K) x (K, N) -> (B, L, N).
func MulMatrix(a *Tensor, w mat.Matrix) (*Tensor, error) {
	k, n := w.Dims()
	if a.Dim() != k {
		return nil, fmt.Errorf("matmul %v x [%d %d]: %w", a.shape, k, n, ErrShape)
	}
	out := New(a.Batch(), a.Seq(), n)
	out.Flat().Mul(a.Flat(), w)
	return out, nil
}

// BatchedMul computes a[b] x c[b] for every batch element:
// (B, M, K) x (B, K, N) -> (B, M, N). The middle axis of c is the
// contraction axis.
func BatchedMul(a, c *Tensor) (*Tensor, error) {
	if a.Batch() != c.Batch() || a.Dim() != c.Seq() {
		return nil, fmt.Errorf("batched matmul %v x %v: %w", a.shape, c.shape, ErrShape)
	}
	out := New(a.Batch(), a.Seq(), c.Dim())
	for b := 0; b < a.Batch(); b++ {
		out.Matrix(b).Mul(a.Matrix(b), c.Matrix(b))
	}
	return out, nil
}

// BatchedMulT computes a[b] x c[b]^T for every batch element:
// (B, M, K) x (B, N, K) -> (B, M, N).
func BatchedMulT(a, c *Tensor) (*Tensor, error) {
	if a.Batch() != c.Batch() || a.Dim() != c.Dim() {
		return nil, fmt.Errorf("batched matmul-transpose %v x %v: %w", a.shape, c.shape, ErrShape)
	}
	out := New(a.Batch(), a.Seq(), c.Seq())
	for b := 0; b < a.Batch(); b++ {
		out.Matrix(b).Mul(a.Matrix(b), c.Matrix(b).T())
	}
	return out, nil
}

// SoftmaxLastAxis returns a copy of t normalized over its last axis.
func SoftmaxLastAxis(t *Tensor) *Tensor {
	out := t.Clone()
	simd.SoftmaxRows(out.data, out.Dim())
	return out
}

// ConcatLastAxis joins tensors of equal (batch, seq) along the feature axis,
// in argument order.
func ConcatLastAxis(parts ...*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("concat of zero tensors: %w", ErrShape)
	}
	batch, seq := parts[0].Batch(), parts[0].Seq()
	width := 0
	for i, p := range parts {
		if p.Batch() != batch || p.Seq() != seq {
			return nil, fmt.Errorf("concat part %d %v with %v: %w", i, p.shape, parts[0].shape, ErrShape)
		}
		width += p.Dim()
	}
	out := New(batch, seq, width)
	for b := 0; b < batch; b++ {
		for l := 0; l < seq; l++ {
			dst := out.Row(b, l)
			off := 0
			for _, p := range parts {
				off += copy(dst[off:], p.Row(b, l))
			}
		}
	}
	return out, nil
}

// SliceLastAxis copies features [from, to) of every row.
func (t *Tensor) SliceLastAxis(from, to int) (*Tensor, error) {
	if from < 0 || to > t.Dim() || from >= to {
		return nil, fmt.Errorf("slice [%d:%d] of %v: %w", from, to, t.shape, ErrShape)
	}
	out := New(t.Batch(), t.Seq(), to-from)
	for b := 0; b < t.Batch(); b++ {
		for l := 0; l < t.Seq(); l++ {
			copy(out.Row(b, l), t.Row(b, l)[from:to])
		}
	}
	return out, nil
}

// CountNonFinite returns the number of NaN and Inf entries.
func (t *Tensor) CountNonFinite() (nanCount, infCount int) {
	for _, v := range t.data {
		switch {
		case math.IsNaN(v):
			nanCount++
		case math.IsInf(v, 0):
			infCount++
		}
	}
	return nanCount, infCount
}

// AllClose reports whether a and b have the same shape and every pair of
// entries differs by at most tol.
func AllClose(a, b *Tensor, tol float64) bool {
	if !SameShape(a, b) {
		return false
	}
	for i := range a.data {
		if math.Abs(a.data[i]-b.data[i]) > tol {
			return false
		}
	}
	return true
}
