package weights

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-encoder/internal/config"
)

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.VocabSize = 10
	cfg.Dim = 8
	cfg.Heads = 2
	cfg.Layers = 2
	cfg.HiddenDim = 16
	cfg.MaxSeqLen = 32
	return cfg
}

func TestRandomIsDeterministic(t *testing.T) {
	cfg := smallConfig()
	a, err := Random(cfg, 42)
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	b, err := Random(cfg, 42)
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	c, err := Random(cfg, 43)
	if err != nil {
		t.Fatalf("Random: %v", err)
	}

	if !mat.Equal(a.Embedding, b.Embedding) {
		t.Error("same seed produced different embeddings")
	}
	if !mat.Equal(a.Layers[1].FeedForward.Down.Weight, b.Layers[1].FeedForward.Down.Weight) {
		t.Error("same seed produced different feed-forward weights")
	}
	if mat.Equal(a.Embedding, c.Embedding) {
		t.Error("different seeds produced identical embeddings")
	}
}

func TestRandomShapes(t *testing.T) {
	cfg := smallConfig()
	p, err := Random(cfg, 1)
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	if r, c := p.Embedding.Dims(); r != 10 || c != 8 {
		t.Errorf("embedding dims = [%d %d]", r, c)
	}
	if len(p.Layers) != 2 {
		t.Fatalf("layers = %d, want 2", len(p.Layers))
	}
	l := p.Layers[0]
	if len(l.Attention.Heads) != 2 {
		t.Fatalf("heads = %d, want 2", len(l.Attention.Heads))
	}
	if r, c := l.Attention.Heads[1].Value.Dims(); r != 8 || c != 4 {
		t.Errorf("value projection dims = [%d %d], want [8 4]", r, c)
	}
	if r, c := l.FeedForward.Up.Weight.Dims(); r != 8 || c != 16 {
		t.Errorf("up projection dims = [%d %d], want [8 16]", r, c)
	}
	if len(l.Norm2.Scale) != 8 || l.Norm2.Scale[3] != 1 || l.Norm2.Shift[3] != 0 {
		t.Errorf("norm params = %+v", l.Norm2)
	}

	// The layers must not share weight storage.
	if p.Layers[0].Attention.Heads[0].Query == p.Layers[1].Attention.Heads[0].Query {
		t.Error("layers share a query matrix")
	}
}

func TestRandomScale(t *testing.T) {
	cfg := smallConfig()
	cfg.Dim = 64
	cfg.Heads = 4
	cfg.HiddenDim = 64
	p, err := Random(cfg, 7)
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	w := p.Layers[0].FeedForward.Up.Weight
	r, c := w.Dims()
	var sumSq float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			sumSq += w.At(i, j) * w.At(i, j)
		}
	}
	variance := sumSq / float64(r*c)
	// Expected variance 1/64; 4096 samples keep us well inside a factor of 2.
	if variance < 1.0/128 || variance > 1.0/32 {
		t.Errorf("weight variance %v, want about %v", variance, 1.0/64)
	}
}

func TestRandomRejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.Heads = 3
	if _, err := Random(cfg, 1); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("got %v, want config.ErrInvalid", err)
	}
}

func TestEye(t *testing.T) {
	w := Eye(4, 2, 2)
	x := mat.NewDense(1, 4, []float64{1, 2, 3, 4})
	var y mat.Dense
	y.Mul(x, w)
	if y.At(0, 0) != 3 || y.At(0, 1) != 4 {
		t.Errorf("selection = %v, want [3 4]", mat.Formatted(&y))
	}
}

func TestTable(t *testing.T) {
	tbl := Table(3, 2, func(token, i int) float64 { return float64(10*token + i) })
	if tbl.At(2, 1) != 21 {
		t.Errorf("At(2,1) = %v, want 21", tbl.At(2, 1))
	}
	if math.IsNaN(tbl.At(0, 0)) {
		t.Error("unexpected NaN")
	}
}
