package encoder

import (
	"fmt"

	"github.com/23skdu/longbow-encoder/internal/config"
	"github.com/23skdu/longbow-encoder/internal/tensor"
)

// Stack applies its layers in order; each layer owns its parameters.
type Stack struct {
	layers []*Layer
}

func NewStack(cfg config.Config, params []LayerParams) (*Stack, error) {
	if len(params) != cfg.Layers {
		return nil, fmt.Errorf("stack: %d layer parameter sets, configured %d: %w", len(params), cfg.Layers, ErrConfig)
	}
	s := &Stack{layers: make([]*Layer, len(params))}
	for i, p := range params {
		layer, err := NewLayer(cfg, p)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		s.layers[i] = layer
	}
	return s, nil
}

func (s *Stack) Len() int { return len(s.layers) }

func (s *Stack) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	for i, layer := range s.layers {
		var err error
		if x, err = layer.Forward(x); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return x, nil
}
