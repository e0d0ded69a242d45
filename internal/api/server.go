// Package api exposes the dashboard's HTTP and websocket surface:
// aggregated monitoring snapshots, channel resolution, the clearing
// token protocol and wallet statistics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relayooor/ibcpulse/internal/auth"
	"github.com/relayooor/ibcpulse/internal/clearing"
	"github.com/relayooor/ibcpulse/internal/export"
	"github.com/relayooor/ibcpulse/internal/metrics"
	"github.com/relayooor/ibcpulse/internal/resolver"
	"github.com/relayooor/ibcpulse/internal/store"
)

// Config configures the API server.
type Config struct {
	// Addr is the listen address. Defaults to ":8080".
	Addr string `yaml:"addr"`

	// ReadTimeout and WriteTimeout bound request handling. The write
	// timeout does not apply to websocket connections.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SnapshotProvider serves the latest aggregated monitoring snapshot.
type SnapshotProvider interface {
	Snapshot() metrics.Snapshot
}

// StatisticsStore answers wallet and platform statistics queries.
type StatisticsStore interface {
	UserStatistics(ctx context.Context, walletAddress string) (*store.UserStatistics, error)
	PlatformStatistics(ctx context.Context) (*store.PlatformStatistics, error)
	RecentOperations(ctx context.Context, walletAddress string, limit int) ([]store.OperationRow, error)
}

// Server is the HTTP API server.
type Server struct {
	log       logrus.FieldLogger
	cfg       Config
	snapshots SnapshotProvider
	resolver  *resolver.Resolver
	engine    *clearing.Engine
	sessions  *auth.Sessions
	stats     StatisticsStore
	hub       *Hub

	server   *http.Server
	listener net.Listener
}

// NewServer creates the API server. stats may be nil when operation
// history is disabled, health when operational metrics are not wired.
func NewServer(
	log logrus.FieldLogger,
	cfg Config,
	snapshots SnapshotProvider,
	res *resolver.Resolver,
	engine *clearing.Engine,
	sessions *auth.Sessions,
	stats StatisticsStore,
	health *export.Health,
) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}

	s := &Server{
		log:       log.WithField("component", "api"),
		cfg:       cfg,
		snapshots: snapshots,
		resolver:  res,
		engine:    engine,
		sessions:  sessions,
		stats:     stats,
	}
	s.hub = NewHub(log, engine, health)

	return s
}

// Start begins serving. Non-blocking.
func (s *Server) Start(_ context.Context) error {
	mux := http.NewServeMux()
	s.routes(mux)

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("API server failed")
		}
	}()

	s.log.WithField("addr", s.Addr()).Info("API server listening")

	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}

	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.hub.Close()

	return s.server.Shutdown(ctx)
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("GET /api/monitoring/metrics", s.handleSnapshot)
	mux.HandleFunc("GET /api/monitoring/channels", s.handleChannels)
	mux.HandleFunc("GET /api/monitoring/relayers", s.handleRelayers)
	mux.HandleFunc("GET /api/packets/stuck", s.handleStuckPackets)

	mux.HandleFunc("POST /api/channels/resolve", s.handleResolve)
	mux.HandleFunc("POST /api/channels/resolve-batch", s.handleResolveBatch)
	mux.HandleFunc("POST /api/channels/cache/clear", s.handleCacheClear)

	mux.HandleFunc("POST /api/clearing/request-token", s.handleRequestToken)
	mux.HandleFunc("POST /api/clearing/verify-payment", s.handleVerifyPayment)
	mux.HandleFunc("GET /api/clearing/status/{token}", s.handleClearingStatus)

	mux.HandleFunc("POST /api/auth/wallet-session", s.handleWalletSession)
	mux.HandleFunc("GET /api/users/statistics", s.handleUserStatistics)
	mux.HandleFunc("GET /api/users/operations", s.handleUserOperations)
	mux.HandleFunc("GET /api/statistics/platform", s.handlePlatformStatistics)

	mux.HandleFunc("GET /ws", s.hub.HandleWS)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Debug("Writing response failed")
	}
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var (
		insufficientErr *clearing.InsufficientPaymentError
		overpaymentErr  *clearing.OverpaymentError
		denomErr        *clearing.WrongDenomError
		resolutionErr   *resolver.ResolutionError
	)

	switch {
	case errors.Is(err, clearing.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, clearing.ErrTokenNotFound):
		status = http.StatusNotFound
	case errors.Is(err, clearing.ErrTokenExpired):
		status = http.StatusGone
	case errors.Is(err, clearing.ErrAlreadyProcessed),
		errors.Is(err, clearing.ErrDuplicatePayment):
		status = http.StatusConflict
	case errors.As(err, &insufficientErr),
		errors.As(err, &overpaymentErr),
		errors.As(err, &denomErr):
		status = http.StatusPaymentRequired
	case errors.Is(err, resolver.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, resolver.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, resolver.ErrNoEndpoint):
		status = http.StatusBadGateway
	case errors.As(err, &resolutionErr):
		status = http.StatusBadGateway
	case errors.Is(err, auth.ErrInvalidSession):
		status = http.StatusUnauthorized
	}

	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

// decodeJSON parses a request body, rejecting unknown fields.
func (s *Server) decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	return decoder.Decode(v)
}

// session extracts and validates the bearer session token.
func (s *Server) session(r *http.Request) (*auth.Claims, error) {
	header := r.Header.Get("Authorization")

	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, auth.ErrInvalidSession
	}

	return s.sessions.Validate(token)
}
