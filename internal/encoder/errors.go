package encoder

import (
	"errors"

	"github.com/23skdu/longbow-encoder/internal/config"
	"github.com/23skdu/longbow-encoder/internal/tensor"
)

var (
	// ErrConfig marks inconsistent hyperparameters or parameter sets,
	// detected at construction.
	ErrConfig = config.ErrInvalid

	// ErrRange marks a token index outside the vocabulary or a sequence
	// longer than the positional table.
	ErrRange = errors.New("out of range")

	// ErrShape marks a feature dimension that does not match the weight
	// or table it is passed through, or a malformed batch.
	ErrShape = tensor.ErrShape
)

// Kind classifies err as "config", "range", "shape" or "unknown".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrRange):
		return "range"
	case errors.Is(err, ErrShape):
		return "shape"
	default:
		return "unknown"
	}
}
