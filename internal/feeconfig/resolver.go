package feeconfig

import (
	"fmt"
	"strings"
	"sync"

	"github.com/arcfield-labs/rfq-engine/internal/fee"
)

// Resolver holds fee model configurations in memory, keyed by chain and
// token pair. Lookups are synchronous and never fail: an unconfigured pair
// resolves to the fallback (zero value by default), which downstream
// degrades percentage and margin fees to gas-only amounts.
type Resolver struct {
	mu       sync.RWMutex
	configs  map[string]fee.FeeModelConfiguration
	fallback fee.FeeModelConfiguration
}

func NewResolver(fallback fee.FeeModelConfiguration) *Resolver {
	return &Resolver{
		configs:  make(map[string]fee.FeeModelConfiguration),
		fallback: fallback,
	}
}

// FeeModelConfiguration resolves the configuration for a pair. The pair is
// direction-insensitive: maker/taker and taker/maker hit the same entry.
func (r *Resolver) FeeModelConfiguration(chainID int64, makerToken, takerToken string) fee.FeeModelConfiguration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.configs[pairKey(chainID, makerToken, takerToken)]; ok {
		return cfg
	}
	if cfg, ok := r.configs[pairKey(chainID, takerToken, makerToken)]; ok {
		return cfg
	}
	return r.fallback
}

// Set stores one pair's configuration. Used at startup and by tests.
func (r *Resolver) Set(chainID int64, tokenA, tokenB string, cfg fee.FeeModelConfiguration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[pairKey(chainID, tokenA, tokenB)] = cfg
}

// Replace atomically swaps the whole configuration table. Keys must be built
// with PairKey.
func (r *Resolver) Replace(configs map[string]fee.FeeModelConfiguration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = configs
}

// Len returns the number of configured pairs.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}

// PairKey builds the canonical lookup key for a chain and token pair.
func PairKey(chainID int64, tokenA, tokenB string) string {
	return pairKey(chainID, tokenA, tokenB)
}

func pairKey(chainID int64, tokenA, tokenB string) string {
	return fmt.Sprintf("%d:%s:%s", chainID, strings.ToLower(tokenA), strings.ToLower(tokenB))
}
