package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-encoder/internal/config"
	"github.com/23skdu/longbow-encoder/internal/logger"
)

const historySize = 1000

// HealthStatus represents the health status of the encoder process
type HealthStatus struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Uptime      time.Duration   `json:"uptime"`
	System      SystemInfo      `json:"system"`
	Model       ModelInfo       `json:"model"`
	Performance PerformanceInfo `json:"performance"`
}

type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

type ModelInfo struct {
	Dim       int `json:"dim"`
	Heads     int `json:"heads"`
	Layers    int `json:"layers"`
	HiddenDim int `json:"hidden_dim"`
	MaxSeqLen int `json:"max_seq_len"`
	VocabSize int `json:"vocab_size"`
}

// PerformanceInfo summarizes the recent encode history
type PerformanceInfo struct {
	Encodes         int       `json:"encodes"`
	TokensPerSecond float64   `json:"tokens_per_second"`
	AvgLatencyMs    float64   `json:"avg_latency_ms"`
	P95LatencyMs    float64   `json:"p95_latency_ms"`
	NonFiniteCount  int       `json:"non_finite_count"`
	Failures        int       `json:"failures"`
	LastEncode      time.Time `json:"last_encode"`
}

type perfPoint struct {
	tokens   int
	duration time.Duration
}

// HealthMonitor tracks encode calls and serves /health, /status and /metrics.
type HealthMonitor struct {
	startTime time.Time
	model     ModelInfo
	server    *http.Server

	mu         sync.RWMutex
	history    []perfPoint
	nonFinite  int
	failures   int
	lastEncode time.Time
}

// NewHealthMonitor prepares a monitor for addr. The server is built here so
// Stop is safe to call from any goroutine, before or after Start.
func NewHealthMonitor(cfg config.Config, addr string) *HealthMonitor {
	hm := &HealthMonitor{
		startTime: time.Now(),
		model: ModelInfo{
			Dim:       cfg.Dim,
			Heads:     cfg.Heads,
			Layers:    cfg.Layers,
			HiddenDim: cfg.HiddenDim,
			MaxSeqLen: cfg.MaxSeqLen,
			VocabSize: cfg.VocabSize,
		},
	}
	hm.server = &http.Server{
		Addr:         addr,
		Handler:      hm.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return hm
}

// Handler routes the monitor endpoints.
func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth) // Kubernetes compatibility
	mux.HandleFunc("/status", hm.handleDetailedStatus)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves Handler until Stop. It returns nil once stopped, including
// when Stop ran first.
func (hm *HealthMonitor) Start() error {
	logger.Log.With("monitoring").Info("health monitor starting", "addr", hm.server.Addr)
	err := hm.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (hm *HealthMonitor) Stop(ctx context.Context) error {
	return hm.server.Shutdown(ctx)
}

// RecordEncode records one successful encode call. nonFinite counts NaN
// and Inf entries found in its output.
func (hm *HealthMonitor) RecordEncode(tokens int, duration time.Duration, nonFinite int) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.lastEncode = time.Now()
	hm.nonFinite += nonFinite
	hm.history = append(hm.history, perfPoint{tokens: tokens, duration: duration})
	if len(hm.history) > historySize {
		hm.history = hm.history[1:]
	}
	if nonFinite > 0 {
		logger.Log.With("monitoring").Warn("non-finite encoder output", "count", nonFinite)
	}
}

// RecordFailure records an encode call that returned an error.
func (hm *HealthMonitor) RecordFailure() {
	hm.mu.Lock()
	hm.failures++
	hm.mu.Unlock()
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hm.Status()

	w.Header().Set("Content-Type", "application/json")
	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (hm *HealthMonitor) handleDetailedStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(hm.Status())
}

// Status is "degraded" once any encode produced non-finite values or failed.
func (hm *HealthMonitor) Status() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := "healthy"
	if hm.nonFinite > 0 || hm.failures > 0 {
		status = "degraded"
	}
	return HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		Uptime:      time.Since(hm.startTime),
		System:      systemInfo(),
		Model:       hm.model,
		Performance: hm.performance(),
	}
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		MemoryMB:     int(m.Sys / 1024 / 1024),
		MemoryUsedMB: int(m.Alloc / 1024 / 1024),
	}
}

// caller holds mu
func (hm *HealthMonitor) performance() PerformanceInfo {
	info := PerformanceInfo{
		Encodes:        len(hm.history),
		NonFiniteCount: hm.nonFinite,
		Failures:       hm.failures,
		LastEncode:     hm.lastEncode,
	}
	if len(hm.history) == 0 {
		return info
	}

	var tokens int
	var total time.Duration
	latencies := make([]float64, len(hm.history))
	for i, p := range hm.history {
		tokens += p.tokens
		total += p.duration
		latencies[i] = float64(p.duration.Nanoseconds()) / 1e6
	}
	sort.Float64s(latencies)

	p95 := int(float64(len(latencies)) * 0.95)
	if p95 >= len(latencies) {
		p95 = len(latencies) - 1
	}
	info.AvgLatencyMs = float64(total.Nanoseconds()) / float64(len(hm.history)) / 1e6
	info.P95LatencyMs = latencies[p95]
	if total > 0 {
		info.TokensPerSecond = float64(tokens) / total.Seconds()
	}
	return info
}
