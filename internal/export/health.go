package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Defaults to ":9091".
	Addr string `yaml:"addr"`
}

// Health exposes Prometheus metrics about the monitor's own operation:
// ingestion passes, resolver traffic, token lifecycle and the push
// surface. These are distinct from the IBC aggregates it serves.
type Health struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Ingestion.
	IngestPasses   prometheus.Counter
	IngestErrors   prometheus.Counter
	SamplesDecoded prometheus.Counter

	// Channel resolution.
	ResolveLookups     *prometheus.CounterVec // result: ok, not_found, timeout, error
	ResolveCacheHits   prometheus.Counter
	ResolveCacheMisses prometheus.Counter
	ResolveDuration    prometheus.Histogram

	// Clearing protocol.
	TokensIssued     prometheus.Counter
	TokensExpired    prometheus.Counter
	PaymentsVerified *prometheus.CounterVec // result: verified, rejected
	OperationsEnded  *prometheus.CounterVec // result: completed, failed

	// Push surface and history store.
	WSClients        prometheus.Gauge
	StoreRowsWritten prometheus.Counter
	StoreErrors      prometheus.Counter

	running atomic.Bool
}

// NewHealth creates a new health metrics server.
func NewHealth(log logrus.FieldLogger, cfg HealthConfig) *Health {
	reg := prometheus.NewRegistry()

	h := &Health{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		IngestPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ibcpulse",
			Name:      "ingest_passes_total",
			Help:      "Total exposition ingestion passes completed.",
		}),
		IngestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ibcpulse",
			Name:      "ingest_errors_total",
			Help:      "Total failed exposition fetches.",
		}),
		SamplesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ibcpulse",
			Name:      "samples_decoded_total",
			Help:      "Total metric samples decoded from the feed.",
		}),

		ResolveLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ibcpulse",
				Name:      "resolve_lookups_total",
				Help:      "Total channel resolutions by result.",
			},
			[]string{"result"},
		),
		ResolveCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ibcpulse",
			Name:      "resolve_cache_hits_total",
			Help:      "Total channel resolutions served from cache.",
		}),
		ResolveCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ibcpulse",
			Name:      "resolve_cache_misses_total",
			Help:      "Total channel resolutions requiring remote lookups.",
		}),
		ResolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ibcpulse",
			Name:      "resolve_duration_seconds",
			Help:      "Duration of full three-step channel resolutions.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ibcpulse",
			Name:      "clearing_tokens_issued_total",
			Help:      "Total clearing tokens issued.",
		}),
		TokensExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ibcpulse",
			Name:      "clearing_tokens_expired_total",
			Help:      "Total clearing tokens that expired unpaid.",
		}),
		PaymentsVerified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ibcpulse",
				Name:      "clearing_payments_total",
				Help:      "Total payment verifications by result.",
			},
			[]string{"result"},
		),
		OperationsEnded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ibcpulse",
				Name:      "clearing_operations_total",
				Help:      "Total clearing operations reaching a terminal state.",
			},
			[]string{"result"},
		),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ibcpulse",
			Name:      "ws_clients",
			Help:      "Connected clearing-update websocket clients.",
		}),
		StoreRowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ibcpulse",
			Name:      "store_rows_written_total",
			Help:      "Total operation history rows written to ClickHouse.",
		}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ibcpulse",
			Name:      "store_errors_total",
			Help:      "Total operation history write errors.",
		}),
	}

	reg.MustRegister(
		h.IngestPasses,
		h.IngestErrors,
		h.SamplesDecoded,
		h.ResolveLookups,
		h.ResolveCacheHits,
		h.ResolveCacheMisses,
		h.ResolveDuration,
		h.TokensIssued,
		h.TokensExpired,
		h.PaymentsVerified,
		h.OperationsEnded,
		h.WSClients,
		h.StoreRowsWritten,
		h.StoreErrors,
	)

	return h
}

// Start begins serving the /metrics endpoint.
func (h *Health) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9091"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	// pprof endpoints for CPU/memory profiling.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *Health) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop gracefully shuts down the health metrics server.
func (h *Health) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
