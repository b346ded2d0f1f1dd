package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-encoder/internal/arrow_client"
	"github.com/23skdu/longbow-encoder/internal/config"
	"github.com/23skdu/longbow-encoder/internal/encoder"
	"github.com/23skdu/longbow-encoder/internal/logger"
	"github.com/23skdu/longbow-encoder/internal/metrics"
	"github.com/23skdu/longbow-encoder/internal/monitoring"
	"github.com/23skdu/longbow-encoder/internal/tensor"
	"github.com/23skdu/longbow-encoder/internal/weights"
)

var (
	defaults = config.Default()

	vocabSize   = flag.Int("vocab", defaults.VocabSize, "Vocabulary size")
	dim         = flag.Int("dim", defaults.Dim, "Model width D")
	heads       = flag.Int("heads", defaults.Heads, "Attention heads H")
	layers      = flag.Int("layers", defaults.Layers, "Encoder layers N")
	hiddenDim   = flag.Int("hidden", defaults.HiddenDim, "Feed-forward hidden width")
	maxSeqLen   = flag.Int("max-len", defaults.MaxSeqLen, "Longest supported sequence")
	eps         = flag.Float64("eps", defaults.Eps, "Layer norm epsilon")
	workers     = flag.Int("workers", defaults.Workers, "Goroutines for heads and batches")
	seed        = flag.Uint64("seed", 1, "Seed for random weight initialization")
	tokens      = flag.String("tokens", "1,2,3", "Token batches: ids separated by ',', sequences by ';', batches by '|'")
	logLevel    = flag.String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
	logFormat   = flag.String("log-format", defaults.LogFormat, "Log format (json, console)")
	metricsAddr = flag.String("metrics", "", "Address to serve /metrics, /health and /status, disabled when empty")
	ipcOut      = flag.String("ipc", "", "Write encoder output to this Arrow IPC stream file")
	flightAddr  = flag.String("flight", "", "Put encoder output to this Arrow Flight host:port")
	flightPath  = flag.String("flight-path", arrow_client.DefaultPath, "Flight descriptor path")
)

func main() {
	flag.Parse()

	cfg := configFromFlags()
	setupLogging(cfg)
	log := logger.Log.With("main")

	batches, err := parseBatches(*tokens)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	monitor := monitoring.NewHealthMonitor(cfg, *metricsAddr)
	if *metricsAddr != "" {
		go func() {
			if err := monitor.Start(); err != nil {
				log.Error("health monitor error", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, batches, monitor)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if stopErr := monitor.Stop(shutdownCtx); stopErr != nil {
		log.Warn("health monitor shutdown", "error", stopErr)
	}
	cancel()

	if err != nil {
		log.Error("encoding failed", "error", err, "kind", encoder.Kind(err))
		os.Exit(1)
	}
}

func configFromFlags() config.Config {
	return config.Config{
		VocabSize: *vocabSize,
		Dim:       *dim,
		Heads:     *heads,
		Layers:    *layers,
		HiddenDim: *hiddenDim,
		MaxSeqLen: *maxSeqLen,
		Eps:       *eps,
		Workers:   *workers,
		LogLevel:  *logLevel,
		LogFormat: *logFormat,
	}
}

func setupLogging(cfg config.Config) {
	logger.Setup(cfg.LogLevel, cfg.NormalizedLogFormat())
}

// run counts every error it returns as a failure on monitor.
func run(ctx context.Context, cfg config.Config, batches [][][]int, monitor *monitoring.HealthMonitor) (err error) {
	log := logger.Log.With("main")
	defer func() {
		if err != nil {
			monitor.RecordFailure()
		}
	}()

	start := time.Now()
	params, err := weights.Random(cfg, *seed)
	if err != nil {
		return err
	}
	enc, err := encoder.New(cfg, params)
	if err != nil {
		return err
	}
	log.Info("encoder ready", "config", cfg.String(), "seed", *seed, "init", time.Since(start))

	encStart := time.Now()
	outs, err := enc.EncodeAll(ctx, batches)
	if err != nil {
		return err
	}
	var tokens, nonFinite int
	for _, out := range outs {
		nanCount, infCount := out.CountNonFinite()
		nonFinite += nanCount + infCount
		tokens += out.Batch() * out.Seq()
	}
	monitor.RecordEncode(tokens, time.Since(encStart), nonFinite)

	for i, out := range outs {
		fmt.Printf("batch %d: shape %v first %s\n", i, out.Shape(), preview(out.Row(0, 0), 4))
	}
	log.Info("encoded", "batches", len(outs), "tokens", metrics.TotalTokens(), "elapsed", time.Since(start))

	if *ipcOut != "" {
		if err := writeIPC(*ipcOut, batches, outs); err != nil {
			return err
		}
		log.Info("wrote arrow stream", "path", *ipcOut)
	}
	if *flightAddr != "" {
		if err := putFlight(ctx, *flightAddr, batches, outs); err != nil {
			return err
		}
	}
	return nil
}

func writeIPC(path string, batches [][][]int, outs []*tensor.Tensor) error {
	recs := make([]arrow.Record, 0, len(outs))
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for i, out := range outs {
		rec, err := arrow_client.ToRecord(memory.DefaultAllocator, batches[i], out)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := arrow_client.WriteIPC(f, memory.DefaultAllocator, recs...); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	for _, rec := range recs {
		metrics.RecordExport("ipc", int(rec.NumRows()))
	}
	return nil
}

func putFlight(ctx context.Context, addr string, batches [][][]int, outs []*tensor.Tensor) error {
	host, portStr, ok := strings.Cut(addr, ":")
	if !ok {
		return fmt.Errorf("flight address %q must be host:port", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("flight port %q: %w", portStr, err)
	}

	client := arrow_client.NewFlightClient(host, port, strings.Split(*flightPath, "/")...)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	for i, out := range outs {
		if err := arrow_client.Export(ctx, client, "flight", batches[i], out); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
	}
	logger.Log.With("main").Info("put encodings", "addr", client.Addr(), "batches", len(outs))
	return nil
}

// parseBatches reads "1,2;3,4|5,6" as two batches: the first with two
// sequences, the second with one. Shape checks are left to the encoder.
func parseBatches(s string) ([][][]int, error) {
	var batches [][][]int
	for _, b := range strings.Split(s, "|") {
		var batch [][]int
		for _, seq := range strings.Split(b, ";") {
			var ids []int
			for _, tok := range strings.Split(seq, ",") {
				tok = strings.TrimSpace(tok)
				if tok == "" {
					continue
				}
				id, err := strconv.Atoi(tok)
				if err != nil {
					return nil, fmt.Errorf("bad token %q: %w", tok, err)
				}
				ids = append(ids, id)
			}
			batch = append(batch, ids)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func preview(row []float64, n int) string {
	if len(row) < n {
		n = len(row)
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = strconv.FormatFloat(row[i], 'f', 4, 64)
	}
	return "[" + strings.Join(parts, " ") + " ...]"
}
