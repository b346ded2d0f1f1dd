package encoder

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-encoder/internal/tensor"
)

// Linear is y = x*W (+ b) applied to every feature vector of a tensor.
type Linear struct {
	w    *mat.Dense
	bias []float64
}

func newLinear(name string, p LinearParams, in, out int, withBias bool) (*Linear, error) {
	if p.Weight == nil {
		return nil, fmt.Errorf("%s: missing weight: %w", name, ErrConfig)
	}
	r, c := p.Weight.Dims()
	if r != in || c != out {
		return nil, fmt.Errorf("%s: weight is [%d %d], want [%d %d]: %w", name, r, c, in, out, ErrConfig)
	}
	l := &Linear{w: mat.DenseCopyOf(p.Weight)}
	switch {
	case withBias && len(p.Bias) != out:
		return nil, fmt.Errorf("%s: bias has %d entries, want %d: %w", name, len(p.Bias), out, ErrConfig)
	case !withBias && p.Bias != nil:
		return nil, fmt.Errorf("%s: projection takes no bias: %w", name, ErrConfig)
	case withBias:
		l.bias = append([]float64(nil), p.Bias...)
	}
	return l, nil
}

func (l *Linear) In() int {
	r, _ := l.w.Dims()
	return r
}

func (l *Linear) Out() int {
	_, c := l.w.Dims()
	return c
}

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := tensor.MulMatrix(x, l.w)
	if err != nil {
		return nil, err
	}
	if l.bias == nil {
		return y, nil
	}
	data := y.Data()
	width := len(l.bias)
	for off := 0; off < len(data); off += width {
		row := data[off : off+width]
		for i, b := range l.bias {
			row[i] += b
		}
	}
	return y, nil
}
