package encoder

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-encoder/internal/tensor"
)

// ScaledDotProductAttention computes softmax(Q K^T / sqrt(d_k)) V with no
// masking. It holds no parameters.
type ScaledDotProductAttention struct{}

// Weights returns the (B, Lq, Lk) attention matrix. Each (batch, query)
// row is a softmax over the key axis and sums to 1.
func (ScaledDotProductAttention) Weights(q, k *tensor.Tensor) (*tensor.Tensor, error) {
	if q.Batch() != k.Batch() || q.Dim() != k.Dim() {
		return nil, fmt.Errorf("attention: queries %v and keys %v: %w", q.Shape(), k.Shape(), ErrShape)
	}
	scores, err := tensor.BatchedMulT(q, k)
	if err != nil {
		return nil, err
	}
	scale := 1.0 / math.Sqrt(float64(q.Dim()))
	data := scores.Data()
	for i := range data {
		data[i] *= scale
	}
	// The last axis of scores is the key axis.
	return tensor.SoftmaxLastAxis(scores), nil
}

// Forward maps queries (B, Lq, d_k), keys (B, Lk, d_k) and values
// (B, Lk, d_v) to a (B, Lq, d_v) tensor.
func (a ScaledDotProductAttention) Forward(q, k, v *tensor.Tensor) (*tensor.Tensor, error) {
	if k.Batch() != v.Batch() || k.Seq() != v.Seq() {
		return nil, fmt.Errorf("attention: keys %v and values %v: %w", k.Shape(), v.Shape(), ErrShape)
	}
	weights, err := a.Weights(q, k)
	if err != nil {
		return nil, err
	}
	return tensor.BatchedMul(weights, v)
}
