package encoder_test

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-encoder/internal/config"
	"github.com/23skdu/longbow-encoder/internal/encoder"
	"github.com/23skdu/longbow-encoder/internal/tensor"
	"github.com/23skdu/longbow-encoder/internal/weights"
)

const tol = 1e-9

func testConfig(vocab, dim, heads, layers, hidden, maxLen int) config.Config {
	cfg := config.Default()
	cfg.VocabSize = vocab
	cfg.Dim = dim
	cfg.Heads = heads
	cfg.Layers = layers
	cfg.HiddenDim = hidden
	cfg.MaxSeqLen = maxLen
	cfg.Workers = 4
	return cfg
}

func mustRandom(t *testing.T, cfg config.Config, seed uint64) encoder.Params {
	t.Helper()
	p, err := weights.Random(cfg, seed)
	if err != nil {
		t.Fatalf("weights.Random: %v", err)
	}
	return p
}

func mustEncoder(t *testing.T, cfg config.Config, p encoder.Params) *encoder.Encoder {
	t.Helper()
	e, err := encoder.New(cfg, p)
	if err != nil {
		t.Fatalf("encoder.New: %v", err)
	}
	return e
}

func mustTensor(t *testing.T, values [][][]float64) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromNested(values)
	if err != nil {
		t.Fatalf("FromNested: %v", err)
	}
	return x
}

// seededTensor fills a tensor with a fixed, seed-dependent pattern.
func seededTensor(batch, seq, dim int, seed float64) *tensor.Tensor {
	x := tensor.New(batch, seq, dim)
	for i := range x.Data() {
		x.Data()[i] = math.Sin(seed + 0.37*float64(i))
	}
	return x
}

func seededMatrix(rows, cols int, seed float64) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, 0.5*math.Cos(seed+0.13*float64(i*cols+j)))
		}
	}
	return m
}

func assertClose(t *testing.T, got, want *tensor.Tensor, tolerance float64) {
	t.Helper()
	if got.Shape() != want.Shape() {
		t.Fatalf("shape %v, want %v", got.Shape(), want.Shape())
	}
	for i := range got.Data() {
		if d := math.Abs(got.Data()[i] - want.Data()[i]); d > tolerance {
			t.Fatalf("element %d: got %v, want %v (diff %g)", i, got.Data()[i], want.Data()[i], d)
		}
	}
}
