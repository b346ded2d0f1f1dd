package encoder

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-encoder/internal/tensor"
)

// Embedding maps token indices to rows of a (vocab, d_model) table.
type Embedding struct {
	table *mat.Dense
}

func NewEmbedding(table *mat.Dense) (*Embedding, error) {
	if table == nil {
		return nil, fmt.Errorf("embedding: missing table: %w", ErrConfig)
	}
	return &Embedding{table: mat.DenseCopyOf(table)}, nil
}

func (e *Embedding) VocabSize() int {
	r, _ := e.table.Dims()
	return r
}

func (e *Embedding) Dim() int {
	_, c := e.table.Dims()
	return c
}

// Forward looks up every token of a rectangular (B, L) batch and returns
// a (B, L, d_model) tensor.
func (e *Embedding) Forward(ids [][]int) (*tensor.Tensor, error) {
	batch, seqLen, err := batchShape(ids)
	if err != nil {
		return nil, err
	}
	vocab := e.VocabSize()
	out := tensor.New(batch, seqLen, e.Dim())
	for b, seq := range ids {
		for l, id := range seq {
			if id < 0 || id >= vocab {
				return nil, fmt.Errorf("token %d at [%d %d] outside vocabulary [0, %d): %w",
					id, b, l, vocab, ErrRange)
			}
			copy(out.Row(b, l), e.table.RawRowView(id))
		}
	}
	return out, nil
}

func batchShape(ids [][]int) (batch, seqLen int, err error) {
	if len(ids) == 0 {
		return 0, 0, fmt.Errorf("empty batch: %w", ErrShape)
	}
	seqLen = len(ids[0])
	if seqLen == 0 {
		return 0, 0, fmt.Errorf("empty sequence: %w", ErrShape)
	}
	for i, seq := range ids {
		if len(seq) != seqLen {
			return 0, 0, fmt.Errorf("sequence %d has length %d, want %d: %w", i, len(seq), seqLen, ErrShape)
		}
	}
	return len(ids), seqLen, nil
}
