package metrics

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/relayooor/ibcpulse/internal/export"
)

// SourceConfig configures the exposition text source.
type SourceConfig struct {
	// Endpoint is the URL of the exposition text endpoint.
	Endpoint string `yaml:"endpoint"`

	// Interval is how often to fetch and re-aggregate.
	// Defaults to 15s.
	Interval time.Duration `yaml:"interval"`

	// Timeout for each fetch. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`
}

// Source periodically fetches the exposition feed, runs an aggregation
// pass and keeps the latest snapshot. A failed fetch keeps the last
// good snapshot; ingestion never propagates feed errors.
type Source struct {
	log    logrus.FieldLogger
	cfg    SourceConfig
	http   *http.Client
	health *export.Health

	mu       sync.RWMutex
	snapshot Snapshot

	cancel context.CancelFunc
	done   chan struct{}

	zstdDecoder *zstd.Decoder
}

// NewSource creates a new exposition source.
func NewSource(log logrus.FieldLogger, cfg SourceConfig, health *export.Health) *Source {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Source{
		log:    log.WithField("component", "metrics_source"),
		cfg:    cfg,
		health: health,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		done: make(chan struct{}),
	}
}

// Start begins the fetch loop. The first fetch happens immediately.
func (s *Source) Start(ctx context.Context) error {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("creating zstd decoder: %w", err)
	}

	s.zstdDecoder = decoder

	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.refresh(ctx); err != nil {
		// Non-fatal: the feed may simply not be up yet.
		s.log.WithError(err).Warn("Initial metrics fetch failed")
	}

	go s.loop(ctx)

	return nil
}

// Stop halts the fetch loop.
func (s *Source) Stop() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	if s.zstdDecoder != nil {
		s.zstdDecoder.Close()
	}

	return nil
}

// Snapshot returns the most recent aggregate snapshot.
func (s *Source) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshot
}

func (s *Source) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.refresh(ctx); err != nil {
				s.log.WithError(err).Warn("Metrics fetch failed, keeping last snapshot")

				if s.health != nil {
					s.health.IngestErrors.Inc()
				}
			}
		}
	}
}

func (s *Source) refresh(ctx context.Context) error {
	text, err := s.fetch(ctx)
	if err != nil {
		return err
	}

	samples := DecodeAll(text)
	snapshot := Aggregate(samples)

	s.mu.Lock()
	s.snapshot = snapshot
	s.mu.Unlock()

	if s.health != nil {
		s.health.IngestPasses.Inc()
		s.health.SamplesDecoded.Add(float64(len(samples)))
	}

	s.log.WithFields(logrus.Fields{
		"samples":  len(samples),
		"channels": len(snapshot.Channels),
		"relayers": len(snapshot.Relayers),
		"stuck":    len(snapshot.StuckPackets),
	}).Debug("Aggregated metrics snapshot")

	return nil
}

func (s *Source) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Accept-Encoding", "zstd, gzip, deflate, snappy")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", s.cfg.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, s.cfg.Endpoint)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	data, err := s.decompress(body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return "", fmt.Errorf("decompressing response: %w", err)
	}

	return string(data), nil
}

// decompress decodes the response body according to its declared
// content encoding.
func (s *Source) decompress(data []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "", "identity":
		return data, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()

		return io.ReadAll(r)
	case "deflate":
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()

		return io.ReadAll(r)
	case "zstd":
		return s.zstdDecoder.DecodeAll(data, nil)
	case "snappy":
		return snappy.Decode(nil, data)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
