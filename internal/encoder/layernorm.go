package encoder

import (
	"fmt"

	"github.com/23skdu/longbow-encoder/internal/simd"
	"github.com/23skdu/longbow-encoder/internal/tensor"
)

// LayerNorm standardizes each feature vector and applies a learned
// per-feature scale and shift.
type LayerNorm struct {
	scale []float64
	shift []float64
	eps   float64
}

func NewLayerNorm(dim int, p NormParams, eps float64) (*LayerNorm, error) {
	if len(p.Scale) != dim || len(p.Shift) != dim {
		return nil, fmt.Errorf("layer norm: scale/shift have %d/%d entries, want %d: %w",
			len(p.Scale), len(p.Shift), dim, ErrConfig)
	}
	if eps <= 0 {
		return nil, fmt.Errorf("layer norm: eps %g must be positive: %w", eps, ErrConfig)
	}
	return &LayerNorm{
		scale: append([]float64(nil), p.Scale...),
		shift: append([]float64(nil), p.Shift...),
		eps:   eps,
	}, nil
}

func (n *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Dim() != len(n.scale) {
		return nil, fmt.Errorf("layer norm: input %v, want feature dim %d: %w", x.Shape(), len(n.scale), ErrShape)
	}
	out := tensor.New(x.Batch(), x.Seq(), x.Dim())
	for b := 0; b < x.Batch(); b++ {
		for l := 0; l < x.Seq(); l++ {
			simd.LayerNorm(out.Row(b, l), x.Row(b, l), n.scale, n.shift, n.eps)
		}
	}
	return out, nil
}
