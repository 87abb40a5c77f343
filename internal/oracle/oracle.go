package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arcfield-labs/rfq-engine/internal/fee"
	"github.com/arcfield-labs/rfq-engine/internal/httpclient"
	"github.com/arcfield-labs/rfq-engine/internal/metrics"
)

// Oracle fetches USD token prices from a price feed API, with a Redis
// read-through cache in front. The cache holds whole-token USD prices; the
// per-base-unit conversion happens on the way out so one cached entry serves
// callers regardless of how they express decimals.
//
// The oracle never returns an error: an unavailable price is a nil entry.
type Oracle struct {
	exec    *httpclient.Executor
	baseURL string
	chainID int64
	rdb     *redis.Client
	ttl     time.Duration
	logger  *zap.Logger
}

type pricesResponse struct {
	Prices map[string]decimal.Decimal `json:"prices"`
}

// New constructs an Oracle. rdb may be nil to disable caching.
func New(exec *httpclient.Executor, baseURL string, chainID int64, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Oracle {
	return &Oracle{
		exec:    exec,
		baseURL: baseURL,
		chainID: chainID,
		rdb:     rdb,
		ttl:     ttl,
		logger:  logger,
	}
}

// BatchFetchTokenPrices returns USD prices per token base unit, order-aligned
// with tokens. Cached prices are served without touching the feed; the
// remaining addresses go out in a single batch request.
func (o *Oracle) BatchFetchTokenPrices(ctx context.Context, tokens []fee.TokenRef) []*decimal.Decimal {
	out := make([]*decimal.Decimal, len(tokens))

	var missing []string
	missingIdx := make(map[string][]int)
	for i, token := range tokens {
		addr := strings.ToLower(token.Address)
		if price := o.cachedPrice(ctx, addr); price != nil {
			metrics.IncPriceCacheAccess("hit")
			out[i] = baseUnitPrice(*price, token.Decimals)
			continue
		}
		metrics.IncPriceCacheAccess("miss")
		if len(missingIdx[addr]) == 0 {
			missing = append(missing, addr)
		}
		missingIdx[addr] = append(missingIdx[addr], i)
	}

	if len(missing) == 0 {
		return out
	}

	fetched := o.fetchPrices(ctx, missing)
	for addr, indices := range missingIdx {
		price, ok := fetched[addr]
		if !ok {
			continue
		}
		o.storePrice(ctx, addr, price)
		for _, i := range indices {
			out[i] = baseUnitPrice(price, tokens[i].Decimals)
		}
	}
	return out
}

// fetchPrices issues one batch request for the given lowercased addresses.
// Returns an empty map on failure.
func (o *Oracle) fetchPrices(ctx context.Context, addresses []string) map[string]decimal.Decimal {
	endpoint := fmt.Sprintf("%s/v1/prices?chainId=%d&tokens=%s",
		o.baseURL, o.chainID, url.QueryEscape(strings.Join(addresses, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		o.logger.Warn("oracle.request_build_failed", zap.Error(err))
		return nil
	}

	var resp pricesResponse
	if err := o.exec.DoJSON(ctx, req, "price_oracle", &resp); err != nil {
		o.logger.Warn("oracle.fetch_failed",
			zap.Int("tokens", len(addresses)),
			zap.Error(err))
		return nil
	}

	prices := make(map[string]decimal.Decimal, len(resp.Prices))
	for addr, price := range resp.Prices {
		if price.IsPositive() {
			prices[strings.ToLower(addr)] = price
		}
	}
	return prices
}

func (o *Oracle) cachedPrice(ctx context.Context, addr string) *decimal.Decimal {
	if o.rdb == nil {
		return nil
	}
	val, err := o.rdb.Get(ctx, o.cacheKey(addr)).Result()
	if err != nil {
		if err != redis.Nil {
			o.logger.Warn("oracle.cache_read_failed", zap.Error(err))
		}
		return nil
	}
	price, err := decimal.NewFromString(val)
	if err != nil {
		o.logger.Warn("oracle.cache_corrupt_entry",
			zap.String("token", addr),
			zap.String("value", val))
		return nil
	}
	return &price
}

func (o *Oracle) storePrice(ctx context.Context, addr string, price decimal.Decimal) {
	if o.rdb == nil {
		return
	}
	if err := o.rdb.Set(ctx, o.cacheKey(addr), price.String(), o.ttl).Err(); err != nil {
		o.logger.Warn("oracle.cache_write_failed", zap.Error(err))
	}
}

func (o *Oracle) cacheKey(addr string) string {
	return fmt.Sprintf("token_price:%d:%s", o.chainID, addr)
}

// baseUnitPrice converts a whole-token USD price into a per-base-unit price.
func baseUnitPrice(tokenPrice decimal.Decimal, decimals int) *decimal.Decimal {
	price := tokenPrice.Mul(decimal.New(1, int32(-decimals)))
	return &price
}
