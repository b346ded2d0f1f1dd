package encoder

import "gonum.org/v1/gonum/mat"

// The parameter types below describe already-initialized weights handed
// to the constructors. Weight matrices are laid out (in, out) so a row
// vector x maps to x * Weight. Constructors copy everything they keep.

type LinearParams struct {
	Weight *mat.Dense
	Bias   []float64 // nil for bias-free projections
}

// HeadParams holds the bias-free Q/K/V projections of one attention head,
// each (d_model, d_k).
type HeadParams struct {
	Query *mat.Dense
	Key   *mat.Dense
	Value *mat.Dense
}

type AttentionParams struct {
	Heads  []HeadParams
	Output LinearParams // (heads*d_v, d_model) with bias
}

type FeedForwardParams struct {
	Up   LinearParams // (d_model, d_ff)
	Down LinearParams // (d_ff, d_model)
}

type NormParams struct {
	Scale []float64
	Shift []float64
}

type LayerParams struct {
	Attention   AttentionParams
	FeedForward FeedForwardParams
	Norm1       NormParams
	Norm2       NormParams
}

type Params struct {
	Embedding *mat.Dense // (vocab, d_model)
	Layers    []LayerParams
}
