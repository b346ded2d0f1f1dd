package encoder

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-encoder/internal/tensor"
)

type attentionHead struct {
	query *Linear
	key   *Linear
	value *Linear
}

// MultiHeadAttention runs H independently projected attentions and
// recombines their concatenation, in head order, through one output
// projection.
type MultiHeadAttention struct {
	dim     int
	headDim int
	heads   []attentionHead
	output  *Linear
	workers int
	attend  ScaledDotProductAttention
}

// NewMultiHeadAttention builds an attention block over d_model = dim.
// The number of heads is len(p.Heads); dim must divide evenly by it and
// every head projection must be (dim, dim/heads). workers bounds how many
// heads run at once.
func NewMultiHeadAttention(dim int, p AttentionParams, workers int) (*MultiHeadAttention, error) {
	numHeads := len(p.Heads)
	if numHeads == 0 {
		return nil, fmt.Errorf("attention: no heads: %w", ErrConfig)
	}
	if dim <= 0 || dim%numHeads != 0 {
		return nil, fmt.Errorf("attention: dim (%d) must be divisible by num_heads (%d): %w", dim, numHeads, ErrConfig)
	}
	headDim := dim / numHeads
	if workers < 1 {
		workers = 1
	}

	m := &MultiHeadAttention{
		dim:     dim,
		headDim: headDim,
		heads:   make([]attentionHead, numHeads),
		workers: workers,
	}
	for h, hp := range p.Heads {
		var err error
		head := &m.heads[h]
		if head.query, err = newLinear(fmt.Sprintf("head %d query", h), LinearParams{Weight: hp.Query}, dim, headDim, false); err != nil {
			return nil, err
		}
		if head.key, err = newLinear(fmt.Sprintf("head %d key", h), LinearParams{Weight: hp.Key}, dim, headDim, false); err != nil {
			return nil, err
		}
		if head.value, err = newLinear(fmt.Sprintf("head %d value", h), LinearParams{Weight: hp.Value}, dim, headDim, false); err != nil {
			return nil, err
		}
	}

	out, err := newLinear("attention output", p.Output, numHeads*headDim, dim, true)
	if err != nil {
		return nil, err
	}
	m.output = out
	return m, nil
}

func (m *MultiHeadAttention) NumHeads() int { return len(m.heads) }
func (m *MultiHeadAttention) HeadDim() int  { return m.headDim }

// Forward attends queries over keys/values, all (B, L, d_model), and
// returns (B, Lq, d_model).
func (m *MultiHeadAttention) Forward(q, k, v *tensor.Tensor) (*tensor.Tensor, error) {
	for _, x := range []*tensor.Tensor{q, k, v} {
		if x.Dim() != m.dim {
			return nil, fmt.Errorf("attention: input %v, want feature dim %d: %w", x.Shape(), m.dim, ErrShape)
		}
	}

	results := make([]*tensor.Tensor, len(m.heads))
	var g errgroup.Group
	g.SetLimit(m.workers)
	for h := range m.heads {
		g.Go(func() error {
			out, err := m.head(h, q, k, v)
			if err != nil {
				return fmt.Errorf("head %d: %w", h, err)
			}
			results[h] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	concat, err := tensor.ConcatLastAxis(results...)
	if err != nil {
		return nil, err
	}
	return m.output.Forward(concat)
}

func (m *MultiHeadAttention) head(h int, q, k, v *tensor.Tensor) (*tensor.Tensor, error) {
	head := m.heads[h]
	pq, err := head.query.Forward(q)
	if err != nil {
		return nil, err
	}
	pk, err := head.key.Forward(k)
	if err != nil {
		return nil, err
	}
	pv, err := head.value.Forward(v)
	if err != nil {
		return nil, err
	}
	return m.attend.Forward(pq, pk, pv)
}
