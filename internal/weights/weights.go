// Package weights builds encoder parameter sets for drivers and tests:
// seeded random initialization and deterministic fixtures. The encoder
// itself never initializes weights.
package weights

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/23skdu/longbow-encoder/internal/config"
	"github.com/23skdu/longbow-encoder/internal/encoder"
)

// Random draws every matrix from N(0, 1/fan_in) using a PCG source seeded
// with seed, so equal seeds give bit-identical parameters. Biases and
// norm shifts are zero, norm scales one. The embedding table is N(0, 1).
func Random(cfg config.Config, seed uint64) (encoder.Params, error) {
	if err := cfg.Validate(); err != nil {
		return encoder.Params{}, err
	}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	normal := func(rows, cols int, sigma float64) *mat.Dense {
		dist := distuv.Normal{Mu: 0, Sigma: sigma, Src: src}
		data := make([]float64, rows*cols)
		for i := range data {
			data[i] = dist.Rand()
		}
		return mat.NewDense(rows, cols, data)
	}
	fanIn := func(n int) float64 { return 1 / math.Sqrt(float64(n)) }

	dim, headDim := cfg.Dim, cfg.HeadDim()
	p := encoder.Params{
		Embedding: normal(cfg.VocabSize, dim, 1),
		Layers:    make([]encoder.LayerParams, cfg.Layers),
	}
	for i := range p.Layers {
		heads := make([]encoder.HeadParams, cfg.Heads)
		for h := range heads {
			heads[h] = encoder.HeadParams{
				Query: normal(dim, headDim, fanIn(dim)),
				Key:   normal(dim, headDim, fanIn(dim)),
				Value: normal(dim, headDim, fanIn(dim)),
			}
		}
		p.Layers[i] = encoder.LayerParams{
			Attention: encoder.AttentionParams{
				Heads:  heads,
				Output: encoder.LinearParams{Weight: normal(cfg.Heads*headDim, dim, fanIn(dim)), Bias: make([]float64, dim)},
			},
			FeedForward: encoder.FeedForwardParams{
				Up:   encoder.LinearParams{Weight: normal(dim, cfg.HiddenDim, fanIn(dim)), Bias: make([]float64, cfg.HiddenDim)},
				Down: encoder.LinearParams{Weight: normal(cfg.HiddenDim, dim, fanIn(cfg.HiddenDim)), Bias: make([]float64, dim)},
			},
			Norm1: UnitNorm(dim),
			Norm2: UnitNorm(dim),
		}
	}
	return p, nil
}

// UnitNorm is the identity affine map: scale 1, shift 0.
func UnitNorm(dim int) encoder.NormParams {
	scale := make([]float64, dim)
	for i := range scale {
		scale[i] = 1
	}
	return encoder.NormParams{Scale: scale, Shift: make([]float64, dim)}
}

// Eye returns a (rows, cols) matrix with W[j+offset, j] = 1, so x*W
// selects features [offset, offset+cols) of x.
func Eye(rows, cols, offset int) *mat.Dense {
	w := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		if i := j + offset; i < rows {
			w.Set(i, j, 1)
		}
	}
	return w
}

// Selector builds a layer whose attention heads slice the model dimension:
// head h projects Q, K and V onto features [h*d_k, (h+1)*d_k). The output
// projection is the identity, so attention returns the per-head attended
// slices concatenated back in place. The feed-forward block is zero.
func Selector(cfg config.Config) (encoder.LayerParams, error) {
	if err := cfg.Validate(); err != nil {
		return encoder.LayerParams{}, err
	}
	dim, headDim := cfg.Dim, cfg.HeadDim()
	heads := make([]encoder.HeadParams, cfg.Heads)
	for h := range heads {
		heads[h] = encoder.HeadParams{
			Query: Eye(dim, headDim, h*headDim),
			Key:   Eye(dim, headDim, h*headDim),
			Value: Eye(dim, headDim, h*headDim),
		}
	}
	return encoder.LayerParams{
		Attention: encoder.AttentionParams{
			Heads:  heads,
			Output: encoder.LinearParams{Weight: Eye(dim, dim, 0), Bias: make([]float64, dim)},
		},
		FeedForward: Zero(dim, cfg.HiddenDim),
		Norm1:       UnitNorm(dim),
		Norm2:       UnitNorm(dim),
	}, nil
}

// Zero is a feed-forward block whose output is identically zero.
func Zero(dim, hiddenDim int) encoder.FeedForwardParams {
	return encoder.FeedForwardParams{
		Up:   encoder.LinearParams{Weight: mat.NewDense(dim, hiddenDim, nil), Bias: make([]float64, hiddenDim)},
		Down: encoder.LinearParams{Weight: mat.NewDense(hiddenDim, dim, nil), Bias: make([]float64, dim)},
	}
}

// ZeroAttention is an attention block whose output is identically zero:
// heads are arbitrary selectors and the recombination weight is zero.
func ZeroAttention(dim, numHeads int) (encoder.AttentionParams, error) {
	if numHeads <= 0 || dim%numHeads != 0 {
		return encoder.AttentionParams{}, fmt.Errorf("dim (%d) must be divisible by heads (%d): %w", dim, numHeads, config.ErrInvalid)
	}
	headDim := dim / numHeads
	heads := make([]encoder.HeadParams, numHeads)
	for h := range heads {
		heads[h] = encoder.HeadParams{
			Query: Eye(dim, headDim, h*headDim),
			Key:   Eye(dim, headDim, h*headDim),
			Value: Eye(dim, headDim, h*headDim),
		}
	}
	return encoder.AttentionParams{
		Heads:  heads,
		Output: encoder.LinearParams{Weight: mat.NewDense(dim, dim, nil), Bias: make([]float64, dim)},
	}, nil
}

// Table builds a (vocab, dim) embedding table where row t is f(t, i).
func Table(vocab, dim int, f func(token, i int) float64) *mat.Dense {
	t := mat.NewDense(vocab, dim, nil)
	for r := 0; r < vocab; r++ {
		for c := 0; c < dim; c++ {
			t.Set(r, c, f(r, c))
		}
	}
	return t
}
