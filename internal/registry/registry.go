// Package registry maps chain identifiers to queryable REST state
// endpoints. The mapping is sourced from configuration; the registry
// only adds lookup and invalidation on top.
package registry

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config is the chain id to REST endpoint mapping.
type Config struct {
	// Endpoints maps a chain id (e.g. "osmosis-1") to the base URL of
	// its REST state endpoint.
	Endpoints map[string]string `yaml:"endpoints"`
}

// Registry is a concurrency-safe endpoint lookup table. The resolver
// may mark an endpoint stale after repeated lookup failures; a stale
// endpoint stops being returned until Reset.
type Registry struct {
	log logrus.FieldLogger

	mu        sync.RWMutex
	endpoints map[string]string
	stale     map[string]bool
}

// New creates a Registry from configuration. Trailing slashes are
// stripped so callers can join paths directly.
func New(log logrus.FieldLogger, cfg Config) *Registry {
	endpoints := make(map[string]string, len(cfg.Endpoints))
	for chainID, url := range cfg.Endpoints {
		endpoints[chainID] = strings.TrimRight(url, "/")
	}

	return &Registry{
		log:       log.WithField("component", "registry"),
		endpoints: endpoints,
		stale:     make(map[string]bool),
	}
}

// Lookup returns the REST endpoint for a chain, or ok=false when the
// chain is unknown or its endpoint has been invalidated.
func (r *Registry) Lookup(chainID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stale[chainID] {
		return "", false
	}

	endpoint, ok := r.endpoints[chainID]

	return endpoint, ok
}

// Invalidate marks a chain's endpoint as stale. Subsequent lookups
// fail until Reset is called.
func (r *Registry) Invalidate(chainID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endpoints[chainID]; !ok {
		return
	}

	if !r.stale[chainID] {
		r.log.WithField("chain_id", chainID).Warn("Endpoint marked stale")
	}

	r.stale[chainID] = true
}

// Reset clears all stale marks, typically after configuration reload
// or an operator-triggered retry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stale = make(map[string]bool)
}

// Chains returns all configured chain ids, including stale ones.
func (r *Registry) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chains := make([]string, 0, len(r.endpoints))
	for chainID := range r.endpoints {
		chains = append(chains, chainID)
	}

	return chains
}
