// Package encoder implements the forward pass of a Transformer encoder:
// token embedding, sinusoidal positional encoding and a stack of post-norm
// layers built from multi-head self-attention and a position-wise
// feed-forward block.
//
// All components are immutable after construction and safe for
// concurrent use. Weights are supplied by the caller; see package weights
// for seeded fixtures.
package encoder

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-encoder/internal/config"
	"github.com/23skdu/longbow-encoder/internal/logger"
	"github.com/23skdu/longbow-encoder/internal/metrics"
	"github.com/23skdu/longbow-encoder/internal/tensor"
)

// Encoder turns (B, L) token batches into (B, L, d_model) representations.
type Encoder struct {
	cfg        config.Config
	embedding  *Embedding
	positional *PositionalEncoder
	stack      *Stack
}

func New(cfg config.Config, p Params) (*Encoder, error) {
	e, err := build(cfg, p)
	if err != nil {
		metrics.RecordValidationError("construct", Kind(err))
		logger.Log.With("encoder").Warn("encoder construction rejected", "kind", Kind(err), "err", err)
		return nil, err
	}
	logger.Log.With("encoder").Info("encoder ready",
		"vocab", cfg.VocabSize, "dim", cfg.Dim, "heads", cfg.Heads,
		"layers", cfg.Layers, "ff", cfg.HiddenDim, "max_seq", cfg.MaxSeqLen)
	return e, nil
}

func build(cfg config.Config, p Params) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	emb, err := NewEmbedding(p.Embedding)
	if err != nil {
		return nil, err
	}
	if emb.VocabSize() != cfg.VocabSize || emb.Dim() != cfg.Dim {
		return nil, fmt.Errorf("embedding table is [%d %d], want [%d %d]: %w",
			emb.VocabSize(), emb.Dim(), cfg.VocabSize, cfg.Dim, ErrConfig)
	}
	pe, err := NewPositionalEncoder(cfg.MaxSeqLen, cfg.Dim)
	if err != nil {
		return nil, err
	}
	stack, err := NewStack(cfg, p.Layers)
	if err != nil {
		return nil, err
	}
	return &Encoder{cfg: cfg, embedding: emb, positional: pe, stack: stack}, nil
}

func (e *Encoder) Config() config.Config { return e.cfg }

func (e *Encoder) Positional() *PositionalEncoder { return e.positional }

// Encode runs embedding, positional encoding and the layer stack over one
// rectangular batch of token indices.
func (e *Encoder) Encode(ids [][]int) (*tensor.Tensor, error) {
	start := time.Now()
	out, err := e.forward(ids)
	if err != nil {
		metrics.RecordValidationError("encode", Kind(err))
		logger.Log.With("encoder").Warn("encode rejected", "kind", Kind(err), "err", err)
		return nil, err
	}

	nans, infs := out.CountNonFinite()
	if nans > 0 || infs > 0 {
		metrics.RecordNumericalInstability("encoder_output", nans, infs)
		logger.Log.With("encoder").Warn("non-finite values in encoder output", "nan", nans, "inf", infs)
	}

	elapsed := time.Since(start)
	metrics.RecordForward(out.Batch(), out.Seq(), elapsed)
	logger.Log.With("encoder").Debug("encode done", "batch", out.Batch(), "seq_len", out.Seq(), "duration", elapsed.String())
	return out, nil
}

func (e *Encoder) forward(ids [][]int) (*tensor.Tensor, error) {
	start := time.Now()
	x, err := e.embedding.Forward(ids)
	if err != nil {
		return nil, err
	}
	metrics.RecordStageDuration("embedding", time.Since(start))

	start = time.Now()
	if x, err = e.positional.Forward(x); err != nil {
		return nil, err
	}
	metrics.RecordStageDuration("positional", time.Since(start))

	start = time.Now()
	if x, err = e.stack.Forward(x); err != nil {
		return nil, err
	}
	metrics.RecordStageDuration("stack", time.Since(start))
	return x, nil
}

// EncodeAll encodes independent batches concurrently, at most
// cfg.Workers at a time. Results keep the order of batches. The first
// failure cancels batches that have not started.
func (e *Encoder) EncodeAll(ctx context.Context, batches [][][]int) ([]*tensor.Tensor, error) {
	results := make([]*tensor.Tensor, len(batches))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, ids := range batches {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := e.Encode(ids)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
