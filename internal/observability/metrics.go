// Package observability exposes grnvsd's session metrics and the optional
// /metrics endpoint they are scraped from.
package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	registerOnce sync.Once

	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grnvsd",
			Subsystem: "session",
			Name:      "outcomes_total",
			Help:      "Completed sessions by outcome.",
		},
		[]string{"outcome"},
	)
	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "grnvsd",
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Session duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	transferBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "grnvsd",
			Subsystem: "session",
			Name:      "message_bytes",
			Help:      "Payload size of delivered messages in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "grnvsd",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently in flight.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(sessionsTotal, sessionDuration, transferBytes, activeSessions)
	})
}

func SessionStarted() {
	RegisterMetrics()
	activeSessions.Inc()
}

// SessionFinished records one completed session. Payload size is only
// meaningful for deliveries, so it is observed for "ok" outcomes alone.
func SessionFinished(outcome string, bytes int, duration time.Duration) {
	RegisterMetrics()
	activeSessions.Dec()
	sessionsTotal.WithLabelValues(outcome).Inc()
	sessionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome == "ok" {
		transferBytes.Observe(float64(bytes))
	}
}

// ServeMetrics runs a plain HTTP server exposing /metrics until ctx is
// cancelled. It blocks; run it in its own goroutine.
func ServeMetrics(ctx context.Context, addr string) error {
	RegisterMetrics()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return nil
	case err := <-errc:
		return err
	}
}
