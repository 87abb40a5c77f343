package fee

import (
	"context"

	"github.com/shopspring/decimal"
)

// TokenRef identifies a token for a price lookup. Decimals are needed to
// express the USD price per base unit.
type TokenRef struct {
	Address  string
	Decimals int
}

// GasRateSource supplies the expected transaction gas rate in wei per gas
// unit. A failure here is fatal to the whole fee calculation.
type GasRateSource interface {
	ExpectedTransactionGasRate(ctx context.Context) (decimal.Decimal, error)
}

// TokenPriceSource batch-fetches USD prices per token base unit. The result
// is order-aligned with the input; an unavailable price is a nil entry,
// never an error.
type TokenPriceSource interface {
	BatchFetchTokenPrices(ctx context.Context, tokens []TokenRef) []*decimal.Decimal
}

// AmmQuoteParams describes the reference quote to request from the
// aggregator: same pair and fixed side as the RFQ trade.
type AmmQuoteParams struct {
	MakerToken      string
	TakerToken      string
	IsSelling       bool
	AssetFillAmount decimal.Decimal
}

// AmmQuoteSource fetches the reference AMM quote. Unavailability is a nil
// quote, never an error.
type AmmQuoteSource interface {
	FetchAmmQuote(ctx context.Context, params AmmQuoteParams) *AmmQuote
}

// ConfigResolver looks up the fee model configuration for a pair. It is
// synchronous and never fails; unconfigured pairs resolve to the zero value.
type ConfigResolver interface {
	FeeModelConfiguration(chainID int64, makerToken, takerToken string) FeeModelConfiguration
}

// QuoteSupplier lazily produces maker indicative quotes. The engine invokes
// it at most once per calculation, and only on paths that need quotes.
type QuoteSupplier func(ctx context.Context) ([]IndicativeQuote, error)

// EventPublisher is the optional sink for fee-calculated events. A nil
// publisher disables event emission.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}
