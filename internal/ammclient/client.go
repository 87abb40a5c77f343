package ammclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arcfield-labs/rfq-engine/internal/fee"
	"github.com/arcfield-labs/rfq-engine/internal/httpclient"
)

// Client fetches reference quotes from the on-chain AMM aggregator. The
// aggregator is a best-effort input to margin detection, so every failure
// path returns a nil quote rather than an error.
type Client struct {
	exec    *httpclient.Executor
	baseURL string
	chainID int64
	logger  *zap.Logger
}

type swapQuoteResponse struct {
	BuyAmount        decimal.Decimal  `json:"buyAmount"`
	SellAmount       decimal.Decimal  `json:"sellAmount"`
	EstimatedGas     decimal.Decimal  `json:"estimatedGas"`
	GasPrice         decimal.Decimal  `json:"gasPrice"`
	ExpectedSlippage *decimal.Decimal `json:"expectedSlippage"`
	DecodedUniqueID  string           `json:"decodedUniqueId"`
}

func New(exec *httpclient.Executor, baseURL string, chainID int64, logger *zap.Logger) *Client {
	return &Client{
		exec:    exec,
		baseURL: baseURL,
		chainID: chainID,
		logger:  logger,
	}
}

// FetchAmmQuote requests a swap quote for the trade's pair and fixed side.
func (c *Client) FetchAmmQuote(ctx context.Context, params fee.AmmQuoteParams) *fee.AmmQuote {
	query := url.Values{}
	query.Set("chainId", fmt.Sprintf("%d", c.chainID))
	query.Set("buyToken", params.MakerToken)
	query.Set("sellToken", params.TakerToken)
	if params.IsSelling {
		query.Set("sellAmount", params.AssetFillAmount.String())
	} else {
		query.Set("buyAmount", params.AssetFillAmount.String())
	}

	endpoint := c.baseURL + "/swap/v1/quote?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		c.logger.Warn("amm.request_build_failed", zap.Error(err))
		return nil
	}

	var resp swapQuoteResponse
	if err := c.exec.DoJSON(ctx, req, "amm_aggregator", &resp); err != nil {
		c.logger.Warn("amm.quote_failed",
			zap.String("buy_token", params.MakerToken),
			zap.String("sell_token", params.TakerToken),
			zap.Error(err))
		return nil
	}

	if !resp.BuyAmount.IsPositive() || !resp.SellAmount.IsPositive() {
		c.logger.Warn("amm.quote_empty",
			zap.String("buy_amount", resp.BuyAmount.String()),
			zap.String("sell_amount", resp.SellAmount.String()))
		return nil
	}

	quote := &fee.AmmQuote{
		MakerAmount:     resp.BuyAmount,
		TakerAmount:     resp.SellAmount,
		EstimatedGasWei: resp.EstimatedGas.Mul(resp.GasPrice),
		DecodedUniqueID: resp.DecodedUniqueID,
	}
	if resp.ExpectedSlippage != nil {
		quote.ExpectedSlippage = *resp.ExpectedSlippage
	}
	return quote
}
