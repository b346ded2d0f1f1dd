package encoder

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-encoder/internal/tensor"
)

// PositionalEncoder adds the fixed sinusoidal table
//
//	PE[p, 2i]   = sin(p * w_i)
//	PE[p, 2i+1] = cos(p * w_i),   w_i = exp(-2i * ln(10000) / D)
//
// to its input. The table is built once and never written again.
type PositionalEncoder struct {
	maxLen int
	dim    int
	table  []float64 // (maxLen, dim) row-major
}

func NewPositionalEncoder(maxLen, dim int) (*PositionalEncoder, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("positional: max length %d must be positive: %w", maxLen, ErrConfig)
	}
	if dim <= 0 || dim%2 != 0 {
		return nil, fmt.Errorf("positional: dim %d must be positive and even: %w", dim, ErrConfig)
	}

	freqs := make([]float64, dim/2)
	logBase := math.Log(10000.0)
	for i := range freqs {
		freqs[i] = math.Exp(-float64(2*i) * logBase / float64(dim))
	}

	table := make([]float64, maxLen*dim)
	for p := 0; p < maxLen; p++ {
		row := table[p*dim : (p+1)*dim]
		for i, w := range freqs {
			angle := float64(p) * w
			row[2*i] = math.Sin(angle)
			row[2*i+1] = math.Cos(angle)
		}
	}
	return &PositionalEncoder{maxLen: maxLen, dim: dim, table: table}, nil
}

func (pe *PositionalEncoder) MaxLen() int { return pe.maxLen }
func (pe *PositionalEncoder) Dim() int    { return pe.dim }

// At returns PE[pos, i].
func (pe *PositionalEncoder) At(pos, i int) float64 {
	return pe.table[pos*pe.dim+i]
}

// Rows returns a copy of PE[0:n, :].
func (pe *PositionalEncoder) Rows(n int) ([][]float64, error) {
	if n < 0 || n > pe.maxLen {
		return nil, fmt.Errorf("positional: %d rows requested, table holds %d: %w", n, pe.maxLen, ErrRange)
	}
	out := make([][]float64, n)
	for p := range out {
		out[p] = append([]float64(nil), pe.table[p*pe.dim:(p+1)*pe.dim]...)
	}
	return out, nil
}

// Forward returns x + PE[0:L, :], broadcast over the batch axis.
func (pe *PositionalEncoder) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Dim() != pe.dim {
		return nil, fmt.Errorf("positional: input dim %d, table dim %d: %w", x.Dim(), pe.dim, ErrShape)
	}
	if x.Seq() > pe.maxLen {
		return nil, fmt.Errorf("positional: sequence length %d exceeds maximum %d: %w", x.Seq(), pe.maxLen, ErrRange)
	}
	out := x.Clone()
	for b := 0; b < out.Batch(); b++ {
		for l := 0; l < out.Seq(); l++ {
			row := out.Row(b, l)
			enc := pe.table[l*pe.dim : (l+1)*pe.dim]
			for i, v := range enc {
				row[i] += v
			}
		}
	}
	return out, nil
}
