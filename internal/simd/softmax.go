// Package simd holds the row kernels the encoder runs over contiguous
// float64 slices: softmax, ReLU and layer normalization.
package simd

import "math"

var softmaxImpl func(x []float64)

// Softmax normalizes x in place so that it sums to 1.
func Softmax(x []float64) {
	softmaxImpl(x)
}

// SoftmaxRows applies Softmax to every consecutive run of cols values.
func SoftmaxRows(data []float64, cols int) {
	if cols <= 0 {
		return
	}
	for off := 0; off+cols <= len(data); off += cols {
		softmaxImpl(data[off : off+cols])
	}
}

func init() {
	softmaxImpl = softmaxFallback
}

func softmaxFallback(x []float64) {
	if len(x) == 0 {
		return
	}
	max := x[0]
	for _, v := range x {
		if v > max {
			max = v
		}
	}

	sum := 0.0
	for i := range x {
		x[i] = math.Exp(x[i] - max)
		sum += x[i]
	}

	for i := range x {
		x[i] /= sum
	}
}

// ReLU clamps negative values of x to zero in place.
func ReLU(x []float64) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// LayerNorm standardizes src to zero mean and unit variance and writes
// src_norm*scale + shift into dst. All slices must have the same length.
func LayerNorm(dst, src, scale, shift []float64, eps float64) {
	n := len(src)
	if n == 0 {
		return
	}
	mean := 0.0
	for _, v := range src {
		mean += v
	}
	mean /= float64(n)

	variance := 0.0
	for _, v := range src {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)

	invStd := 1.0 / math.Sqrt(variance+eps)
	for i, v := range src {
		dst[i] = (v-mean)*invStd*scale[i] + shift[i]
	}
}
