package fee

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeTypeFixed is the only fee type the engine produces: a fixed amount of
// the designated fee token, never a percentage.
const FeeTypeFixed = "fixed"

// DetailsKind tags the FeeDetails variant carried by a FeeWithDetails.
type DetailsKind string

const (
	// KindGasOnly covers fee model v0 and every degraded path where price
	// data was unavailable.
	KindGasOnly DetailsKind = "gasOnly"
	// KindDefault is the trade-size percentage model (v1, or the v2
	// fallback when margin detection could not run).
	KindDefault DetailsKind = "default"
	// KindMargin is the AMM-margin model, v2's primary path.
	KindMargin DetailsKind = "margin"
)

// TokenMetadata describes the designated fee token for a chain.
type TokenMetadata struct {
	Symbol       string `json:"symbol"`
	Decimals     int    `json:"decimals"`
	TokenAddress string `json:"tokenAddress"`
}

// FeeModelConfiguration holds the per-(chain, pair) tunables. The zero value
// is the documented default for unconfigured pairs and degrades v1/v2 to
// gas-only amounts.
type FeeModelConfiguration struct {
	TradeSizeBps    int64
	MarginRakeRatio decimal.Decimal
}

// Integrator identifies the calling partner. It does not participate in fee
// math; it is carried for logging and chain allow-listing by the caller.
type Integrator struct {
	IntegratorID    string  `json:"integratorId"`
	Label           string  `json:"label"`
	AllowedChainIDs []int64 `json:"allowedChainIds"`
}

// QuoteContext is the immutable description of one pricing request.
// Exactly one of TakerAmount/MakerAmount is set, consistent with IsSelling.
type QuoteContext struct {
	FeeModelVersion int `json:"feeModelVersion"`

	MakerToken string `json:"makerToken"`
	TakerToken string `json:"takerToken"`
	// OriginalMakerToken differs from MakerToken when a wrap/unwrap
	// substitution occurred (ETH vs WETH); price lookups use it.
	OriginalMakerToken string `json:"originalMakerToken,omitempty"`

	MakerTokenDecimals int `json:"makerTokenDecimals"`
	TakerTokenDecimals int `json:"takerTokenDecimals"`

	IsSelling bool `json:"isSelling"`
	IsUnwrap  bool `json:"isUnwrap"`

	// AssetFillAmount is the fixed-side trade amount in base units.
	AssetFillAmount decimal.Decimal  `json:"assetFillAmount"`
	TakerAmount     *decimal.Decimal `json:"takerAmount,omitempty"`
	MakerAmount     *decimal.Decimal `json:"makerAmount,omitempty"`

	IsFirm       bool   `json:"isFirm"`
	TakerAddress string `json:"takerAddress,omitempty"`

	Integrator       Integrator `json:"integrator"`
	AffiliateAddress string     `json:"affiliateAddress,omitempty"`
}

// Validate fails fast on malformed contexts before any I/O is issued.
func (c QuoteContext) Validate() error {
	if c.FeeModelVersion < 0 || c.FeeModelVersion > 2 {
		return fmt.Errorf("unsupported fee model version %d", c.FeeModelVersion)
	}
	if c.MakerToken == "" || c.TakerToken == "" {
		return fmt.Errorf("quote context requires maker and taker tokens")
	}
	if !c.AssetFillAmount.IsPositive() {
		return fmt.Errorf("assetFillAmount must be positive, got %s", c.AssetFillAmount)
	}
	if c.IsSelling {
		if c.TakerAmount == nil || c.MakerAmount != nil {
			return fmt.Errorf("selling context requires takerAmount and no makerAmount")
		}
	} else {
		if c.MakerAmount == nil || c.TakerAmount != nil {
			return fmt.Errorf("buying context requires makerAmount and no takerAmount")
		}
	}
	if c.IsFirm && c.TakerAddress == "" {
		return fmt.Errorf("firm quote context requires takerAddress")
	}
	return nil
}

// priceLookupMakerToken returns the token to use when pricing the maker side.
func (c QuoteContext) priceLookupMakerToken() string {
	if c.OriginalMakerToken != "" {
		return c.OriginalMakerToken
	}
	return c.MakerToken
}

// IndicativeQuote is a maker's non-binding offer. Revision returns a new
// value; quotes are never mutated in place.
type IndicativeQuote struct {
	Maker       string          `json:"maker"`
	MakerURI    string          `json:"makerUri"`
	MakerToken  string          `json:"makerToken"`
	TakerToken  string          `json:"takerToken"`
	MakerAmount decimal.Decimal `json:"makerAmount"`
	TakerAmount decimal.Decimal `json:"takerAmount"`
	Expiry      int64           `json:"expiry"`
}

// AmmQuote is the reference quote from the on-chain aggregator.
type AmmQuote struct {
	MakerAmount decimal.Decimal `json:"makerAmount"`
	TakerAmount decimal.Decimal `json:"takerAmount"`
	// ExpectedSlippage is a signed ratio (e.g. -0.01); applied to the AMM
	// amount by the pure margin helper.
	ExpectedSlippage decimal.Decimal `json:"expectedSlippage"`
	// EstimatedGasWei is the AMM route's gas cost, already expressed in
	// fee-token-equivalent wei.
	EstimatedGasWei decimal.Decimal `json:"estimatedGasWei"`
	DecodedUniqueID string          `json:"decodedUniqueId,omitempty"`
}

// FeeDetails is the tagged variant describing how a fee was computed.
type FeeDetails interface {
	Kind() DetailsKind
}

// GasOnlyFeeDetails is produced by v0 and by every degraded path.
type GasOnlyFeeDetails struct {
	FeeModelVersion int             `json:"feeModelVersion"`
	GasFeeAmount    decimal.Decimal `json:"gasFeeAmount"`
	GasPrice        decimal.Decimal `json:"gasPrice"`
}

func (GasOnlyFeeDetails) Kind() DetailsKind { return KindGasOnly }

// MarshalJSON includes the kind discriminator so consumers can tell the
// variants apart.
func (d GasOnlyFeeDetails) MarshalJSON() ([]byte, error) {
	type alias GasOnlyFeeDetails
	return json.Marshal(struct {
		Kind DetailsKind `json:"kind"`
		alias
	}{Kind: d.Kind(), alias: alias(d)})
}

// DefaultFeeDetails is produced by the trade-size percentage model.
// Unavailable prices are nil.
type DefaultFeeDetails struct {
	FeeModelVersion            int              `json:"feeModelVersion"`
	GasFeeAmount               decimal.Decimal  `json:"gasFeeAmount"`
	GasPrice                   decimal.Decimal  `json:"gasPrice"`
	ProtocolFeeAmount          decimal.Decimal  `json:"protocolFeeAmount"`
	TradeSizeBps               int64            `json:"tradeSizeBps"`
	FeeTokenBaseUnitPriceUSD   *decimal.Decimal `json:"feeTokenBaseUnitPriceUsd"`
	TakerTokenBaseUnitPriceUSD *decimal.Decimal `json:"takerTokenBaseUnitPriceUsd"`
	MakerTokenBaseUnitPriceUSD *decimal.Decimal `json:"makerTokenBaseUnitPriceUsd"`
}

func (DefaultFeeDetails) Kind() DetailsKind { return KindDefault }

func (d DefaultFeeDetails) MarshalJSON() ([]byte, error) {
	type alias DefaultFeeDetails
	return json.Marshal(struct {
		Kind DetailsKind `json:"kind"`
		alias
	}{Kind: d.Kind(), alias: alias(d)})
}

// MarginFeeDetails is produced by the AMM-margin model.
type MarginFeeDetails struct {
	FeeModelVersion            int              `json:"feeModelVersion"`
	GasFeeAmount               decimal.Decimal  `json:"gasFeeAmount"`
	GasPrice                   decimal.Decimal  `json:"gasPrice"`
	ProtocolFeeAmount          decimal.Decimal  `json:"protocolFeeAmount"`
	Margin                     decimal.Decimal  `json:"margin"`
	MarginRakeRatio            decimal.Decimal  `json:"marginRakeRatio"`
	FeeTokenBaseUnitPriceUSD   *decimal.Decimal `json:"feeTokenBaseUnitPriceUsd"`
	TakerTokenBaseUnitPriceUSD *decimal.Decimal `json:"takerTokenBaseUnitPriceUsd"`
	MakerTokenBaseUnitPriceUSD *decimal.Decimal `json:"makerTokenBaseUnitPriceUsd"`
}

func (MarginFeeDetails) Kind() DetailsKind { return KindMargin }

func (d MarginFeeDetails) MarshalJSON() ([]byte, error) {
	type alias MarginFeeDetails
	return json.Marshal(struct {
		Kind DetailsKind `json:"kind"`
		alias
	}{Kind: d.Kind(), alias: alias(d)})
}

// FeeWithDetails is the computed protocol fee: a fixed amount of the fee
// token plus the variant describing its derivation.
type FeeWithDetails struct {
	Type    string          `json:"type"`
	Token   string          `json:"token"`
	Amount  decimal.Decimal `json:"amount"`
	Details FeeDetails      `json:"details"`
}

// GasFee returns the gas component of the fee.
func (f FeeWithDetails) GasFee() decimal.Decimal {
	switch d := f.Details.(type) {
	case GasOnlyFeeDetails:
		return d.GasFeeAmount
	case DefaultFeeDetails:
		return d.GasFeeAmount
	case MarginFeeDetails:
		return d.GasFeeAmount
	}
	return decimal.Zero
}

// ProtocolFee returns the protocol component of the fee. Gas-only fees have
// no protocol component.
func (f FeeWithDetails) ProtocolFee() decimal.Decimal {
	switch d := f.Details.(type) {
	case DefaultFeeDetails:
		return d.ProtocolFeeAmount
	case MarginFeeDetails:
		return d.ProtocolFeeAmount
	}
	return decimal.Zero
}

// CalculateFeeResult bundles the fee with the auxiliary outputs of one
// calculation. QuotesWithGasFee echoes whatever the maker-quote supplier
// returned and is nil when the supplier was never invoked.
// AmmQuoteUniqueID is empty when the AMM quote was absent or carried no id.
type CalculateFeeResult struct {
	FeeWithDetails   FeeWithDetails
	QuotesWithGasFee []IndicativeQuote
	AmmQuoteUniqueID string
}
