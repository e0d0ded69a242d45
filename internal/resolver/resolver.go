// Package resolver discovers which channel on which counterparty
// chain corresponds to a (chain, channel, port) triple by walking the
// channel, connection and client state on the source chain's own
// endpoint. Results are cached for the process lifetime: channel
// topology does not change once established.
package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relayooor/ibcpulse/internal/export"
	"github.com/relayooor/ibcpulse/internal/registry"
)

// DefaultPortID is assumed when a caller does not name a port.
const DefaultPortID = "transfer"

// Config configures the channel resolver.
type Config struct {
	// LookupTimeout bounds each individual remote state query.
	// Defaults to 10s.
	LookupTimeout time.Duration `yaml:"lookup_timeout"`

	// BatchSize is the number of entries resolved concurrently within
	// one batch group. Groups run sequentially so in-flight remote
	// calls stay bounded. Defaults to 5.
	BatchSize int `yaml:"batch_size"`

	// FailureThreshold is the number of consecutive lookup failures
	// against one chain before its endpoint is invalidated in the
	// registry. Defaults to 3.
	FailureThreshold int `yaml:"failure_threshold"`
}

// Resolution is the cached outcome of one channel resolution. Callers
// always receive copies; the cache is owned exclusively by the
// Resolver.
type Resolution struct {
	SourceChainID string `json:"sourceChainId"`
	ChannelID     string `json:"channelId"`
	PortID        string `json:"portId"`

	CounterpartyChainID      string `json:"counterpartyChainId"`
	CounterpartyChannelID    string `json:"counterpartyChannelId"`
	CounterpartyClientID     string `json:"counterpartyClientId"`
	CounterpartyConnectionID string `json:"counterpartyConnectionId"`
	ConnectionID             string `json:"connectionId"`
	ClientID                 string `json:"clientId"`
}

// Key identifies one resolution.
type Key struct {
	ChainID   string `json:"chainId"`
	ChannelID string `json:"channelId"`
	PortID    string `json:"portId"`
}

// BatchResult is the per-entry outcome of a batch resolution. A
// failing entry never aborts its group.
type BatchResult struct {
	Key        Key
	Resolution *Resolution
	Err        error
}

// Resolver resolves counterparty channel topology with caching and
// collapsed in-flight lookups.
type Resolver struct {
	log      logrus.FieldLogger
	cfg      Config
	client   StateClient
	registry *registry.Registry
	health   *export.Health

	mu       sync.Mutex
	cache    map[Key]Resolution
	inflight map[Key]*inflightResolution
	failures map[string]int
}

// inflightResolution lets concurrent callers for the same key await a
// single remote lookup sequence instead of issuing duplicates.
type inflightResolution struct {
	done chan struct{}
	res  Resolution
	err  error
}

// New creates a Resolver.
func New(
	log logrus.FieldLogger,
	cfg Config,
	client StateClient,
	reg *registry.Registry,
	health *export.Health,
) *Resolver {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 10 * time.Second
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}

	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}

	return &Resolver{
		log:      log.WithField("component", "resolver"),
		cfg:      cfg,
		client:   client,
		registry: reg,
		health:   health,
		cache:    make(map[Key]Resolution),
		inflight: make(map[Key]*inflightResolution),
		failures: make(map[string]int),
	}
}

// Resolve returns the counterparty topology for (chain, channel,
// port). A cache hit short-circuits all remote lookups. Concurrent
// calls for the same key collapse onto one in-flight lookup sequence.
func (r *Resolver) Resolve(
	ctx context.Context,
	chainID, channelID, portID string,
) (*Resolution, error) {
	if portID == "" {
		portID = DefaultPortID
	}

	key := Key{ChainID: chainID, ChannelID: channelID, PortID: portID}

	r.mu.Lock()

	if res, ok := r.cache[key]; ok {
		r.mu.Unlock()

		if r.health != nil {
			r.health.ResolveCacheHits.Inc()
		}

		out := res

		return &out, nil
	}

	if fl, ok := r.inflight[key]; ok {
		r.mu.Unlock()

		select {
		case <-fl.done:
		case <-ctx.Done():
			return nil, &ResolutionError{
				ChainID: chainID, ChannelID: channelID, PortID: portID,
				Step: "await", Err: ErrTimeout,
			}
		}

		if fl.err != nil {
			return nil, fl.err
		}

		out := fl.res

		return &out, nil
	}

	fl := &inflightResolution{done: make(chan struct{})}
	r.inflight[key] = fl
	r.mu.Unlock()

	if r.health != nil {
		r.health.ResolveCacheMisses.Inc()
	}

	res, err := r.lookup(ctx, key)

	r.mu.Lock()
	delete(r.inflight, key)

	if err == nil {
		r.cache[key] = res
	}
	r.mu.Unlock()

	fl.res = res
	fl.err = err
	close(fl.done)

	if err != nil {
		return nil, err
	}

	out := res

	return &out, nil
}

// ResolveBatch resolves entries in groups of BatchSize: entries within
// a group run concurrently, groups run sequentially. Results are
// reported per entry, in input order.
func (r *Resolver) ResolveBatch(ctx context.Context, keys []Key) []BatchResult {
	results := make([]BatchResult, len(keys))

	for start := 0; start < len(keys); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(keys))

		var wg sync.WaitGroup

		for i := start; i < end; i++ {
			wg.Add(1)

			go func(i int) {
				defer wg.Done()

				key := keys[i]
				res, err := r.Resolve(ctx, key.ChainID, key.ChannelID, key.PortID)
				results[i] = BatchResult{Key: key, Resolution: res, Err: err}
			}(i)
		}

		wg.Wait()
	}

	return results
}

// Cached returns the resolution for a key without issuing lookups.
func (r *Resolver) Cached(chainID, channelID, portID string) (*Resolution, bool) {
	if portID == "" {
		portID = DefaultPortID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.cache[Key{ChainID: chainID, ChannelID: channelID, PortID: portID}]
	if !ok {
		return nil, false
	}

	out := res

	return &out, true
}

// Clear drops all cached resolutions. There is no partial or TTL
// expiry; topology is treated as immutable for the process lifetime.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = make(map[Key]Resolution)
}

// lookup performs the three dependent state queries against the source
// chain's endpoint. The counterparty chain never needs to be
// reachable.
func (r *Resolver) lookup(ctx context.Context, key Key) (Resolution, error) {
	started := time.Now()

	endpoint, ok := r.registry.Lookup(key.ChainID)
	if !ok {
		r.observe("error")

		return Resolution{}, &ResolutionError{
			ChainID: key.ChainID, ChannelID: key.ChannelID, PortID: key.PortID,
			Step: "endpoint", Err: ErrNoEndpoint,
		}
	}

	channel, err := step(r, ctx, func(ctx context.Context) (*ChannelState, error) {
		return r.client.ChannelState(ctx, endpoint, key.ChannelID, key.PortID)
	})
	if err != nil {
		return Resolution{}, r.fail(key, "channel", err)
	}

	connection, err := step(r, ctx, func(ctx context.Context) (*ConnectionState, error) {
		return r.client.ConnectionState(ctx, endpoint, channel.ConnectionID)
	})
	if err != nil {
		return Resolution{}, r.fail(key, "connection", err)
	}

	clientState, err := step(r, ctx, func(ctx context.Context) (*ClientState, error) {
		return r.client.ClientState(ctx, endpoint, key.ChannelID, key.PortID)
	})
	if err != nil {
		return Resolution{}, r.fail(key, "client_state", err)
	}

	r.mu.Lock()
	r.failures[key.ChainID] = 0
	r.mu.Unlock()

	r.observe("ok")

	if r.health != nil {
		r.health.ResolveDuration.Observe(time.Since(started).Seconds())
	}

	return Resolution{
		SourceChainID:            key.ChainID,
		ChannelID:                key.ChannelID,
		PortID:                   key.PortID,
		CounterpartyChainID:      clientState.ChainID,
		CounterpartyChannelID:    channel.CounterpartyChannelID,
		CounterpartyClientID:     connection.CounterpartyClientID,
		CounterpartyConnectionID: connection.CounterpartyConnectionID,
		ConnectionID:             channel.ConnectionID,
		ClientID:                 connection.ClientID,
	}, nil
}

// step runs one remote query under the configured lookup timeout.
func step[T any](
	r *Resolver,
	ctx context.Context,
	fn func(context.Context) (*T, error),
) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()

	return fn(ctx)
}

// fail wraps a step failure, tracks consecutive per-chain failures and
// invalidates the chain's endpoint once the threshold is crossed.
func (r *Resolver) fail(key Key, stepName string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		r.observe("not_found")
	case errors.Is(err, ErrTimeout):
		r.observe("timeout")
	default:
		r.observe("error")
	}

	// NotFound is an answer from a healthy endpoint, not a sign of a
	// stale one.
	if !errors.Is(err, ErrNotFound) {
		r.mu.Lock()
		r.failures[key.ChainID]++
		count := r.failures[key.ChainID]
		r.mu.Unlock()

		if count >= r.cfg.FailureThreshold {
			r.registry.Invalidate(key.ChainID)
		}
	}

	return &ResolutionError{
		ChainID:   key.ChainID,
		ChannelID: key.ChannelID,
		PortID:    key.PortID,
		Step:      stepName,
		Err:       err,
	}
}

func (r *Resolver) observe(result string) {
	if r.health != nil {
		r.health.ResolveLookups.WithLabelValues(result).Inc()
	}
}
