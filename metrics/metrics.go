package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Encoder metrics
var (
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_compressor_attempts_total",
			Help: "Total number of ffmpeg invocations by outcome",
		},
		[]string{"outcome"}, // "success", "failed", "cancelled"
	)

	AttemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "video_compressor_attempt_duration_seconds",
			Help:    "Wall-clock duration of a single ffmpeg invocation",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	CompressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_compressor_compressions_total",
			Help: "Total number of compression requests by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	SearchSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "video_compressor_search_steps",
			Help:    "Ladder steps tried by a target-size search",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		},
	)

	Active = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_compressor_active",
			Help: "Number of compressions currently running",
		},
	)
)

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
