package encoder

import (
	"fmt"
	"time"

	"github.com/23skdu/longbow-encoder/internal/config"
	"github.com/23skdu/longbow-encoder/internal/metrics"
	"github.com/23skdu/longbow-encoder/internal/tensor"
)

// Layer is one post-norm encoder layer:
//
//	x2 = Norm1(x + SelfAttention(x))
//	y  = Norm2(x2 + FeedForward(x2))
type Layer struct {
	attention   *MultiHeadAttention
	feedForward *FeedForward
	norm1       *LayerNorm
	norm2       *LayerNorm
}

func NewLayer(cfg config.Config, p LayerParams) (*Layer, error) {
	if len(p.Attention.Heads) != cfg.Heads {
		return nil, fmt.Errorf("layer: %d heads supplied, configured %d: %w", len(p.Attention.Heads), cfg.Heads, ErrConfig)
	}
	attn, err := NewMultiHeadAttention(cfg.Dim, p.Attention, cfg.Workers)
	if err != nil {
		return nil, err
	}
	ff, err := NewFeedForward(cfg.Dim, cfg.HiddenDim, p.FeedForward)
	if err != nil {
		return nil, err
	}
	norm1, err := NewLayerNorm(cfg.Dim, p.Norm1, cfg.Eps)
	if err != nil {
		return nil, fmt.Errorf("norm1: %w", err)
	}
	norm2, err := NewLayerNorm(cfg.Dim, p.Norm2, cfg.Eps)
	if err != nil {
		return nil, fmt.Errorf("norm2: %w", err)
	}
	return &Layer{attention: attn, feedForward: ff, norm1: norm1, norm2: norm2}, nil
}

func (l *Layer) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	start := time.Now()
	attn, err := l.attention.Forward(x, x, x)
	if err != nil {
		return nil, fmt.Errorf("self-attention: %w", err)
	}
	metrics.RecordStageDuration("attention", time.Since(start))

	x1, err := tensor.Add(x, attn)
	if err != nil {
		return nil, err
	}
	x2, err := l.norm1.Forward(x1)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	ff, err := l.feedForward.Forward(x2)
	if err != nil {
		return nil, fmt.Errorf("feed-forward: %w", err)
	}
	metrics.RecordStageDuration("feed_forward", time.Since(start))

	x3, err := tensor.Add(x2, ff)
	if err != nil {
		return nil, err
	}
	return l.norm2.Forward(x3)
}
