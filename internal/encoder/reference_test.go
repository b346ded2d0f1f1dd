package encoder_test

import (
	"math"

	"github.com/23skdu/longbow-encoder/internal/config"
	"github.com/23skdu/longbow-encoder/internal/encoder"
)

// The functions below recompute the encoder with plain nested loops over
// [][]float64, independent of the tensor and simd packages.

type vecs = [][]float64

func refLinear(x vecs, p encoder.LinearParams) vecs {
	_, out := p.Weight.Dims()
	y := make(vecs, len(x))
	for r, row := range x {
		y[r] = make([]float64, out)
		for j := 0; j < out; j++ {
			s := 0.0
			for k, v := range row {
				s += v * p.Weight.At(k, j)
			}
			if p.Bias != nil {
				s += p.Bias[j]
			}
			y[r][j] = s
		}
	}
	return y
}

func refAttention(q, k, v vecs) vecs {
	dk := float64(len(q[0]))
	out := make(vecs, len(q))
	for i := range q {
		scores := make([]float64, len(k))
		max := math.Inf(-1)
		for j := range k {
			s := 0.0
			for d := range q[i] {
				s += q[i][d] * k[j][d]
			}
			scores[j] = s / math.Sqrt(dk)
			max = math.Max(max, scores[j])
		}
		sum := 0.0
		for j := range scores {
			scores[j] = math.Exp(scores[j] - max)
			sum += scores[j]
		}
		out[i] = make([]float64, len(v[0]))
		for j := range v {
			w := scores[j] / sum
			for d := range v[j] {
				out[i][d] += w * v[j][d]
			}
		}
	}
	return out
}

func refLayerNorm(x vecs, p encoder.NormParams, eps float64) vecs {
	out := make(vecs, len(x))
	for r, row := range x {
		mean, variance := 0.0, 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(len(row))
		for _, v := range row {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(len(row))
		out[r] = make([]float64, len(row))
		for i, v := range row {
			out[r][i] = (v-mean)/math.Sqrt(variance+eps)*p.Scale[i] + p.Shift[i]
		}
	}
	return out
}

func refAdd(a, b vecs) vecs {
	out := make(vecs, len(a))
	for r := range a {
		out[r] = make([]float64, len(a[r]))
		for i := range a[r] {
			out[r][i] = a[r][i] + b[r][i]
		}
	}
	return out
}

func refLayer(x vecs, p encoder.LayerParams, eps float64) vecs {
	var heads []vecs
	for _, h := range p.Attention.Heads {
		q := refLinear(x, encoder.LinearParams{Weight: h.Query})
		k := refLinear(x, encoder.LinearParams{Weight: h.Key})
		v := refLinear(x, encoder.LinearParams{Weight: h.Value})
		heads = append(heads, refAttention(q, k, v))
	}
	concat := make(vecs, len(x))
	for r := range x {
		for _, h := range heads {
			concat[r] = append(concat[r], h[r]...)
		}
	}
	attn := refLinear(concat, p.Attention.Output)
	x2 := refLayerNorm(refAdd(x, attn), p.Norm1, eps)

	hidden := refLinear(x2, p.FeedForward.Up)
	for _, row := range hidden {
		for i := range row {
			row[i] = math.Max(0, row[i])
		}
	}
	ff := refLinear(hidden, p.FeedForward.Down)
	return refLayerNorm(refAdd(x2, ff), p.Norm2, eps)
}

func refPositional(pos, i, dim int) float64 {
	pair := i / 2
	angle := float64(pos) / math.Pow(10000, float64(2*pair)/float64(dim))
	if i%2 == 0 {
		return math.Sin(angle)
	}
	return math.Cos(angle)
}

// refEncode returns [batch][seq][dim] encoder output.
func refEncode(cfg config.Config, p encoder.Params, ids [][]int) [][][]float64 {
	out := make([][][]float64, len(ids))
	for b, seq := range ids {
		x := make(vecs, len(seq))
		for l, id := range seq {
			x[l] = make([]float64, cfg.Dim)
			for i := range x[l] {
				x[l][i] = p.Embedding.At(id, i) + refPositional(l, i, cfg.Dim)
			}
		}
		for _, lp := range p.Layers {
			x = refLayer(x, lp, cfg.Eps)
		}
		out[b] = x
	}
	return out
}
