package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

const DefaultHiddenDim = 2048

type Config struct {
	VocabSize int
	Dim       int // d_model
	Heads     int
	Layers    int
	HiddenDim int // d_ff
	MaxSeqLen int
	Eps       float64

	// Workers bounds the goroutines used for the head and batch axes.
	Workers int

	LogLevel  string
	LogFormat string
}

func (c *Config) Validate() error {
	if c.VocabSize <= 0 {
		return fmt.Errorf("invalid vocab_size: %d (must be positive): %w", c.VocabSize, ErrInvalid)
	}
	if c.Dim <= 0 {
		return fmt.Errorf("invalid dim: %d (must be positive): %w", c.Dim, ErrInvalid)
	}
	if c.Dim%2 != 0 {
		return fmt.Errorf("invalid dim: %d (must be even for sinusoidal encoding): %w", c.Dim, ErrInvalid)
	}
	if c.Heads <= 0 {
		return fmt.Errorf("invalid heads: %d (must be positive): %w", c.Heads, ErrInvalid)
	}
	if c.Dim%c.Heads != 0 {
		return fmt.Errorf("dim (%d) must be divisible by heads (%d): %w", c.Dim, c.Heads, ErrInvalid)
	}
	if c.Layers <= 0 {
		return fmt.Errorf("invalid layers: %d (must be positive): %w", c.Layers, ErrInvalid)
	}
	if c.HiddenDim <= 0 {
		return fmt.Errorf("invalid hidden_dim: %d (must be positive): %w", c.HiddenDim, ErrInvalid)
	}
	if c.MaxSeqLen <= 0 {
		return fmt.Errorf("invalid max_seq_len: %d (must be positive): %w", c.MaxSeqLen, ErrInvalid)
	}
	if c.Eps <= 0 {
		return fmt.Errorf("invalid eps: %g (must be positive): %w", c.Eps, ErrInvalid)
	}
	if c.Workers < 1 {
		return fmt.Errorf("invalid workers: %d (must be at least 1): %w", c.Workers, ErrInvalid)
	}
	return nil
}

// HeadDim is the per-head key and value width, Dim / Heads.
func (c *Config) HeadDim() int {
	if c.Heads == 0 {
		return 0
	}
	return c.Dim / c.Heads
}

func (c *Config) String() string {
	return fmt.Sprintf("vocab=%d dim=%d heads=%d layers=%d ff=%d max_seq=%d",
		c.VocabSize, c.Dim, c.Heads, c.Layers, c.HiddenDim, c.MaxSeqLen)
}

// NormalizedLogFormat returns "json" or "console".
func (c *Config) NormalizedLogFormat() string {
	if strings.ToLower(c.LogFormat) == "json" {
		return "json"
	}
	return "console"
}

func Default() Config {
	return Config{
		VocabSize: 32000,
		Dim:       512,
		Heads:     8,
		Layers:    6,
		HiddenDim: DefaultHiddenDim,
		MaxSeqLen: 5000,
		Eps:       1e-5,
		Workers:   runtime.NumCPU(),
		LogLevel:  "INFO",
		LogFormat: "console",
	}
}
