// Package telemetry exports controller tick metrics to Prometheus.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// TickDuration tracks the wall time of a full control tick.
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wbcsim",
			Subsystem: "controller",
			Name:      "tick_duration_seconds",
			Help:      "Duration of controller ticks in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)

	// TicksTotal counts ticks by outcome.
	// Labels: result (success, or the failing stage)
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wbcsim",
			Subsystem: "controller",
			Name:      "ticks_total",
			Help:      "Total number of controller ticks by result",
		},
		[]string{"result"},
	)

	// QPIterations is the iteration count of the last QP solve.
	QPIterations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wbcsim",
			Subsystem: "qp",
			Name:      "iterations",
			Help:      "Iterations used by the most recent QP solve",
		},
	)

	// ActiveContacts is the number of load-bearing contact points.
	ActiveContacts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wbcsim",
			Subsystem: "controller",
			Name:      "active_contacts",
			Help:      "Number of contact points in the active mask",
		},
	)
)

const ResultSuccess = "success"

// Recorder receives one observation per tick. The controller accepts
// any Recorder so tests and embedded uses can opt out of the global
// registry.
type Recorder interface {
	ObserveTick(d time.Duration, result string, iterations, contacts int)
}

// Prometheus records into the package-level collectors.
type Prometheus struct{}

func (Prometheus) ObserveTick(d time.Duration, result string, iterations, contacts int) {
	TickDuration.Observe(d.Seconds())
	TicksTotal.WithLabelValues(result).Inc()
	QPIterations.Set(float64(iterations))
	ActiveContacts.Set(float64(contacts))
}

// Nop discards observations.
type Nop struct{}

func (Nop) ObserveTick(time.Duration, string, int, int) {}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", zap.String("addr", addr), zap.String("path", "/metrics"))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
