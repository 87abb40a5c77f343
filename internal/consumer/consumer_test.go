package consumer

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcfield-labs/rfq-engine/internal/fee"
	"github.com/arcfield-labs/rfq-engine/pkg/model"
)

type fixedGas struct{ rate decimal.Decimal }

func (g fixedGas) ExpectedTransactionGasRate(ctx context.Context) (decimal.Decimal, error) {
	return g.rate, nil
}

type fixedPrices struct{ prices map[string]*decimal.Decimal }

func (p fixedPrices) BatchFetchTokenPrices(ctx context.Context, tokens []fee.TokenRef) []*decimal.Decimal {
	out := make([]*decimal.Decimal, len(tokens))
	for i, token := range tokens {
		out[i] = p.prices[token.Address]
	}
	return out
}

type noAmm struct{}

func (noAmm) FetchAmmQuote(ctx context.Context, params fee.AmmQuoteParams) *fee.AmmQuote {
	return nil
}

type fixedConfig struct{ cfg fee.FeeModelConfiguration }

func (c fixedConfig) FeeModelConfiguration(chainID int64, makerToken, takerToken string) fee.FeeModelConfiguration {
	return c.cfg
}

type capturingPublisher struct {
	subjects []string
	payloads []any
}

func (p *capturingPublisher) Publish(ctx context.Context, subject string, payload any) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return nil
}

func newTestConsumer(pub EventPublisher) *Consumer {
	usdc := "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	weth := "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	usdcPrice := decimal.New(1, -6)
	wethPrice := decimal.New(3, -15)

	svc := fee.NewService(
		1,
		fee.TokenMetadata{Symbol: "WETH", Decimals: 18, TokenAddress: weth},
		100_000,
		fixedConfig{cfg: fee.FeeModelConfiguration{TradeSizeBps: 5, MarginRakeRatio: decimal.NewFromFloat(0.5)}},
		fixedGas{rate: decimal.New(1, 9)},
		fixedPrices{prices: map[string]*decimal.Decimal{usdc: &usdcPrice, weth: &wethPrice}},
		noAmm{},
		zap.NewNop(),
		nil,
	)
	return New(zap.NewNop(), nil, svc, "", pub)
}

func TestProcessGasOnly(t *testing.T) {
	c := newTestConsumer(nil)

	resp := c.process(context.Background(), []byte(`{
		"quoteContext": {
			"feeModelVersion": 0,
			"makerToken": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
			"takerToken": "0x6b175474e89094c44da98b954eedeac495271d0f",
			"makerTokenDecimals": 6,
			"takerTokenDecimals": 18,
			"isSelling": true,
			"assetFillAmount": "1000000000000000000",
			"takerAmount": "1000000000000000000",
			"integrator": {"integratorId": "integrator-1"}
		}
	}`))

	require.Empty(t, resp.Error)
	require.NotNil(t, resp.Fee)
	assert.True(t, decimal.New(1, 14).Equal(resp.Fee.Amount), "got %s", resp.Fee.Amount)
	assert.Nil(t, resp.RevisedQuotes)
}

func TestProcessWithQuotesRevises(t *testing.T) {
	c := newTestConsumer(nil)

	resp := c.process(context.Background(), []byte(`{
		"quoteContext": {
			"feeModelVersion": 2,
			"makerToken": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
			"takerToken": "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
			"makerTokenDecimals": 6,
			"takerTokenDecimals": 18,
			"isSelling": true,
			"assetFillAmount": "1000000000000000000",
			"takerAmount": "1000000000000000000",
			"integrator": {"integratorId": "integrator-1"}
		},
		"quotes": [
			{"makerAmount": "3550000000", "takerAmount": "1000000000000000000"},
			{"makerAmount": "3600000000", "takerAmount": "1000000000000000000"}
		]
	}`))

	require.Empty(t, resp.Error)
	require.NotNil(t, resp.Fee)
	// No AMM quote configured, so the v2 path falls back to the percentage
	// model and still revises the supplied quotes.
	assert.Len(t, resp.QuotesWithGasFee, 2)
	assert.Len(t, resp.RevisedQuotes, 2)
	assert.True(t, resp.RevisedQuotes[0].MakerAmount.LessThan(resp.QuotesWithGasFee[0].MakerAmount))
}

func TestProcessEmitsQuotesRevisedEvent(t *testing.T) {
	pub := &capturingPublisher{}
	c := newTestConsumer(pub)

	resp := c.process(context.Background(), []byte(`{
		"quoteContext": {
			"feeModelVersion": 2,
			"makerToken": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
			"takerToken": "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
			"makerTokenDecimals": 6,
			"takerTokenDecimals": 18,
			"isSelling": true,
			"assetFillAmount": "1000000000000000000",
			"takerAmount": "1000000000000000000",
			"integrator": {"integratorId": "integrator-1"}
		},
		"quotes": [
			{"makerAmount": "3550000000", "takerAmount": "1000000000000000000"},
			{"makerAmount": "3600000000", "takerAmount": "1000000000000000000"}
		]
	}`))

	require.Empty(t, resp.Error)
	require.Len(t, pub.subjects, 1)
	assert.Equal(t, model.SubjectQuotesRevised, pub.subjects[0])

	event, ok := pub.payloads[0].(model.QuotesRevisedEvent)
	require.True(t, ok)
	assert.Equal(t, 2, event.FeeModelVersion)
	assert.Equal(t, 2, event.QuoteCount)
	assert.Equal(t, "integrator-1", event.IntegratorID)
	assert.True(t, event.IsSelling)
	assert.True(t, resp.Fee.ProtocolFee().Equal(event.ProtocolFeeAmount))
}

func TestProcessMalformedRequest(t *testing.T) {
	c := newTestConsumer(nil)

	resp := c.process(context.Background(), []byte(`{not json`))
	assert.Equal(t, "malformed fee request", resp.Error)
	assert.Nil(t, resp.Fee)
}

func TestProcessInvalidContext(t *testing.T) {
	c := newTestConsumer(nil)

	resp := c.process(context.Background(), []byte(`{"quoteContext": {"feeModelVersion": 1}}`))
	assert.NotEmpty(t, resp.Error)
	assert.Nil(t, resp.Fee)
}
