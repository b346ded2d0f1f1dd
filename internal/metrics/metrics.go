package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalTokens atomic.Int64

var (
	ForwardTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "encoder_forward_total",
		Help: "The total number of completed encoder forward passes",
	})

	ForwardDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "encoder_forward_duration_seconds",
		Help: "Duration of encoder forward passes",
	})

	TokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "encoder_tokens_total",
		Help: "The total number of tokens encoded",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "encoder_stage_duration_seconds",
		Help:    "Histogram of per-stage execution times",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	SequenceLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "encoder_sequence_length_tokens",
		Help:    "Distribution of sequence lengths processed",
		Buckets: []float64{8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096},
	})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encoder_validation_errors_total",
		Help: "Total number of rejected inputs and parameter sets",
	}, []string{"operation", "error_type"})

	NumericalInstability = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encoder_numerical_instability_total",
		Help: "Total number of NaN/Inf values detected",
	}, []string{"tensor", "type"})

	ExportedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encoder_exported_rows_total",
		Help: "Rows of encoder output written to an Arrow sink",
	}, []string{"sink"})
)

// RecordForward records one finished forward pass over batch x seqLen tokens.
func RecordForward(batch, seqLen int, duration time.Duration) {
	tokens := batch * seqLen
	ForwardTotal.Inc()
	TokensTotal.Add(float64(tokens))
	totalTokens.Add(int64(tokens))
	ForwardDuration.Observe(duration.Seconds())
	SequenceLength.Observe(float64(seqLen))
}

func RecordStageDuration(stage string, duration time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}

func RecordNumericalInstability(name string, nanCount, infCount int) {
	if nanCount > 0 {
		NumericalInstability.WithLabelValues(name, "nan").Add(float64(nanCount))
	}
	if infCount > 0 {
		NumericalInstability.WithLabelValues(name, "inf").Add(float64(infCount))
	}
}

func RecordExport(sink string, rows int) {
	ExportedRows.WithLabelValues(sink).Add(float64(rows))
}

// TotalTokens returns the process-wide count of encoded tokens.
func TotalTokens() int64 {
	return totalTokens.Load()
}
