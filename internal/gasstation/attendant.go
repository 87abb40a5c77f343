package gasstation

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arcfield-labs/rfq-engine/internal/httpclient"
)

// fastRateToWei converts the gas station's "fast" figure (tenths of gwei)
// into wei per gas unit.
var fastRateToWei = decimal.New(1, 8)

// Attendant fetches the expected transaction gas rate from an eth gas
// station style endpoint. Failures propagate to the caller; there is no
// sensible fallback for a missing gas rate.
type Attendant struct {
	exec    *httpclient.Executor
	baseURL string
	logger  *zap.Logger
}

type stationResponse struct {
	Fast decimal.Decimal `json:"fast"`
}

func New(exec *httpclient.Executor, baseURL string, logger *zap.Logger) *Attendant {
	return &Attendant{
		exec:    exec,
		baseURL: baseURL,
		logger:  logger,
	}
}

// ExpectedTransactionGasRate returns the current fast gas rate in wei per
// gas unit.
func (a *Attendant) ExpectedTransactionGasRate(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build gas station request: %w", err)
	}

	var out stationResponse
	if err := a.exec.DoJSON(ctx, req, "gas_station", &out); err != nil {
		return decimal.Zero, fmt.Errorf("gas station: %w", err)
	}
	if !out.Fast.IsPositive() {
		return decimal.Zero, fmt.Errorf("gas station returned non-positive fast rate %s", out.Fast)
	}

	rate := out.Fast.Mul(fastRateToWei)
	a.logger.Debug("gas_station.rate_fetched", zap.String("wei_per_gas", rate.String()))
	return rate, nil
}
