package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector exposed on /metrics.
var Registry = prometheus.NewRegistry()

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainguard",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainguard",
		Subsystem: "http",
		Name:      "request_errors_total",
		Help:      "Total number of HTTP requests that resulted in a server error.",
	}, []string{"handler", "method"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chainguard",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	firewallDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainguard",
		Subsystem: "firewall",
		Name:      "decisions_total",
		Help:      "Input firewall decisions by outcome and reason.",
	}, []string{"outcome", "reason"})

	toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainguard",
		Subsystem: "tools",
		Name:      "calls_total",
		Help:      "Blockchain tool invocations by tool and result code.",
	}, []string{"tool", "code"})

	toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chainguard",
		Subsystem: "tools",
		Name:      "call_duration_seconds",
		Help:      "Blockchain tool latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	tasks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainguard",
		Subsystem: "tasks",
		Name:      "transitions_total",
		Help:      "Queued instruction status transitions.",
	}, []string{"status"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests, httpErrors, httpDuration,
		firewallDecisions, toolCalls, toolDuration, tasks,
	)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		httpErrors.WithLabelValues(handler, method).Inc()
	}
	httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveFirewall records a firewall decision. reason is empty for allowed input.
func ObserveFirewall(allowed bool, reason string) {
	outcome := "blocked"
	if allowed {
		outcome = "allowed"
		reason = "none"
	}
	firewallDecisions.WithLabelValues(outcome, reason).Inc()
}

// ObserveToolCall records a tool invocation with its result code ("OK" on success).
func ObserveToolCall(tool, code string, duration time.Duration) {
	toolCalls.WithLabelValues(tool, code).Inc()
	toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveTask records a status transition of a queued instruction.
func ObserveTask(status string) {
	tasks.WithLabelValues(status).Inc()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
