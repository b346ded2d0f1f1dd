package encoder

import (
	"github.com/23skdu/longbow-encoder/internal/simd"
	"github.com/23skdu/longbow-encoder/internal/tensor"
)

// FeedForward applies Down(ReLU(Up(x))) to every position independently.
type FeedForward struct {
	up   *Linear
	down *Linear
}

func NewFeedForward(dim, hiddenDim int, p FeedForwardParams) (*FeedForward, error) {
	up, err := newLinear("feed-forward up", p.Up, dim, hiddenDim, true)
	if err != nil {
		return nil, err
	}
	down, err := newLinear("feed-forward down", p.Down, hiddenDim, dim, true)
	if err != nil {
		return nil, err
	}
	return &FeedForward{up: up, down: down}, nil
}

func (f *FeedForward) HiddenDim() int { return f.up.Out() }

func (f *FeedForward) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	hidden, err := f.up.Forward(x)
	if err != nil {
		return nil, err
	}
	simd.ReLU(hidden.Data())
	return f.down.Forward(hidden)
}
