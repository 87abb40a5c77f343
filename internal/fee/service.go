package fee

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arcfield-labs/rfq-engine/internal/metrics"
	"github.com/arcfield-labs/rfq-engine/pkg/model"
)

// Service computes protocol fees for RFQ trades and revises maker quotes to
// embed them. Every invocation is independent: the service holds no mutable
// state and is safe for concurrent use.
type Service struct {
	chainID     int64
	feeToken    TokenMetadata
	gasEstimate decimal.Decimal

	config ConfigResolver
	gas    GasRateSource
	prices TokenPriceSource
	amm    AmmQuoteSource

	logger    *zap.Logger
	publisher EventPublisher
}

// NewService constructs a fee service for one chain. gasEstimateUnits is the
// per-fill gas unit estimate multiplied into every gas fee. publisher may be
// nil to disable event emission.
func NewService(
	chainID int64,
	feeToken TokenMetadata,
	gasEstimateUnits int64,
	config ConfigResolver,
	gas GasRateSource,
	prices TokenPriceSource,
	amm AmmQuoteSource,
	logger *zap.Logger,
	publisher EventPublisher,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		chainID:     chainID,
		feeToken:    feeToken,
		gasEstimate: decimal.NewFromInt(gasEstimateUnits),
		config:      config,
		gas:         gas,
		prices:      prices,
		amm:         amm,
		logger:      logger,
		publisher:   publisher,
	}
}

// CalculateFee computes the protocol fee for one pricing request. supplier
// may be nil; when present it is invoked at most once, and only on the v2
// path that needs maker quotes. A gas-rate failure aborts the calculation;
// every other data-source failure degrades the fee kind instead.
func (s *Service) CalculateFee(ctx context.Context, qc QuoteContext, supplier QuoteSupplier) (*CalculateFeeResult, error) {
	if err := qc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid quote context: %w", err)
	}

	s.logger.Debug("fee.calculate.start",
		zap.Int64("chain_id", s.chainID),
		zap.Int("fee_model_version", qc.FeeModelVersion),
		zap.String("maker_token", qc.MakerToken),
		zap.String("taker_token", qc.TakerToken),
		zap.Bool("is_selling", qc.IsSelling),
		zap.String("asset_fill_amount", qc.AssetFillAmount.String()),
		zap.String("integrator", qc.Integrator.IntegratorID),
	)

	gasPrice, err := s.gas.ExpectedTransactionGasRate(ctx)
	if err != nil {
		s.logger.Error("fee.gas_rate_failed", zap.Error(err))
		metrics.IncFeeCalculationError("gas_rate_unavailable")
		return nil, fmt.Errorf("fetch expected gas rate: %w", err)
	}
	gasFeeAmount := gasPrice.Mul(s.gasEstimate)

	var result *CalculateFeeResult
	switch qc.FeeModelVersion {
	case 0:
		result = &CalculateFeeResult{
			FeeWithDetails: s.feeWithDetails(gasFeeAmount, GasOnlyFeeDetails{
				FeeModelVersion: qc.FeeModelVersion,
				GasFeeAmount:    gasFeeAmount,
				GasPrice:        gasPrice,
			}),
		}
	case 1:
		result = s.calculateV1(ctx, qc, gasPrice, gasFeeAmount)
	case 2:
		result = s.calculateV2(ctx, qc, gasPrice, gasFeeAmount, supplier)
	}

	kind := result.FeeWithDetails.Details.Kind()
	s.logger.Info("fee.calculate.complete",
		zap.Int("fee_model_version", qc.FeeModelVersion),
		zap.String("kind", string(kind)),
		zap.String("amount", result.FeeWithDetails.Amount.String()),
		zap.String("amm_quote_unique_id", result.AmmQuoteUniqueID),
	)
	metrics.IncFeeCalculation(qc.FeeModelVersion, string(kind))

	s.publishFeeCalculated(ctx, qc, result)

	return result, nil
}

// ReviseQuotes nets protocolFeeAmount (fee-token base units) out of every
// quote. When the required prices are unavailable the quotes come back
// unrevised; a zero fee is an exact passthrough.
func (s *Service) ReviseQuotes(ctx context.Context, quotes []IndicativeQuote, protocolFeeAmount decimal.Decimal, qc QuoteContext) []IndicativeQuote {
	if len(quotes) == 0 || protocolFeeAmount.IsZero() {
		return quotes
	}

	quotePrice, feePrice := s.fetchPricePair(ctx, s.quoteTokenRef(qc))
	if quotePrice == nil || feePrice == nil {
		s.logger.Warn("fee.revise.price_unavailable",
			zap.String("maker_token", qc.MakerToken),
			zap.String("taker_token", qc.TakerToken))
		return quotes
	}

	revised := make([]IndicativeQuote, len(quotes))
	for i, quote := range quotes {
		revised[i] = ReviseQuoteWithFees(quote, protocolFeeAmount, qc.IsSelling, *quotePrice, *feePrice)
	}
	return revised
}

// calculateV1 implements the trade-size percentage model: the fee is sized
// off the fixed side of the trade.
func (s *Service) calculateV1(ctx context.Context, qc QuoteContext, gasPrice, gasFeeAmount decimal.Decimal) *CalculateFeeResult {
	cfg := s.config.FeeModelConfiguration(s.chainID, qc.MakerToken, qc.TakerToken)
	if cfg.TradeSizeBps == 0 {
		// Pair not configured for a percentage fee; no price lookup happens.
		return &CalculateFeeResult{
			FeeWithDetails: s.feeWithDetails(gasFeeAmount, DefaultFeeDetails{
				FeeModelVersion:   qc.FeeModelVersion,
				GasFeeAmount:      gasFeeAmount,
				GasPrice:          gasPrice,
				ProtocolFeeAmount: decimal.Zero,
			}),
		}
	}

	tradeToken := TokenRef{Address: qc.TakerToken, Decimals: qc.TakerTokenDecimals}
	if !qc.IsSelling {
		tradeToken = TokenRef{Address: qc.priceLookupMakerToken(), Decimals: qc.MakerTokenDecimals}
	}

	tradePrice, feePrice := s.fetchPricePair(ctx, tradeToken)
	if tradePrice == nil || feePrice == nil {
		s.degrade(qc, "default", "price_unavailable")
		return &CalculateFeeResult{
			FeeWithDetails: s.feeWithDetails(gasFeeAmount, GasOnlyFeeDetails{
				FeeModelVersion: qc.FeeModelVersion,
				GasFeeAmount:    gasFeeAmount,
				GasPrice:        gasPrice,
			}),
		}
	}

	protocolFee := DefaultFeeAmount(qc.AssetFillAmount, cfg.TradeSizeBps, tradePrice, feePrice)
	details := DefaultFeeDetails{
		FeeModelVersion:          qc.FeeModelVersion,
		GasFeeAmount:             gasFeeAmount,
		GasPrice:                 gasPrice,
		ProtocolFeeAmount:        protocolFee,
		TradeSizeBps:             cfg.TradeSizeBps,
		FeeTokenBaseUnitPriceUSD: feePrice,
	}
	if qc.IsSelling {
		details.TakerTokenBaseUnitPriceUSD = tradePrice
	} else {
		details.MakerTokenBaseUnitPriceUSD = tradePrice
	}

	return &CalculateFeeResult{
		FeeWithDetails: s.feeWithDetails(gasFeeAmount.Add(protocolFee), details),
	}
}

// calculateV2 implements the AMM-margin model with its degradation ladder:
// margin when the AMM quote, prices and maker quotes are all available, the
// percentage model when only the AMM quote is missing, gas-only otherwise.
func (s *Service) calculateV2(ctx context.Context, qc QuoteContext, gasPrice, gasFeeAmount decimal.Decimal, supplier QuoteSupplier) *CalculateFeeResult {
	cfg := s.config.FeeModelConfiguration(s.chainID, qc.MakerToken, qc.TakerToken)

	// The price batch and the AMM lookup are independent I/O; issue them
	// concurrently and wait for both.
	var (
		quotePrice, feePrice *decimal.Decimal
		ammQuote             *AmmQuote
		wg                   sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		quotePrice, feePrice = s.fetchPricePair(ctx, s.quoteTokenRef(qc))
	}()
	go func() {
		defer wg.Done()
		ammQuote = s.amm.FetchAmmQuote(ctx, AmmQuoteParams{
			MakerToken:      qc.MakerToken,
			TakerToken:      qc.TakerToken,
			IsSelling:       qc.IsSelling,
			AssetFillAmount: qc.AssetFillAmount,
		})
	}()
	wg.Wait()

	result := &CalculateFeeResult{}
	if ammQuote != nil {
		result.AmmQuoteUniqueID = ammQuote.DecodedUniqueID
	}

	// Maker quotes are expensive; the supplier is only ever invoked here,
	// never on the v0/v1 paths. Whatever it returns is echoed back.
	var quotes []IndicativeQuote
	if supplier != nil {
		fetched, err := supplier(ctx)
		if err != nil {
			s.logger.Warn("fee.quote_supplier_failed", zap.Error(err))
		} else {
			quotes = fetched
		}
		result.QuotesWithGasFee = quotes
	}

	baseline := baselineQuote(quotes, qc.IsSelling)

	switch {
	case ammQuote != nil && quotePrice != nil && feePrice != nil && baseline != nil:
		reference := *ammQuote
		// Expected slippage is not priced into the margin until quote
		// consumers account for it on their side.
		reference.ExpectedSlippage = decimal.Zero

		margin := MarginAmount(*baseline, reference, qc.IsSelling, *quotePrice, *feePrice)
		protocolFee := margin.Mul(cfg.MarginRakeRatio).Round(0)

		details := MarginFeeDetails{
			FeeModelVersion:          qc.FeeModelVersion,
			GasFeeAmount:             gasFeeAmount,
			GasPrice:                 gasPrice,
			ProtocolFeeAmount:        protocolFee,
			Margin:                   margin,
			MarginRakeRatio:          cfg.MarginRakeRatio,
			FeeTokenBaseUnitPriceUSD: feePrice,
		}
		if qc.IsSelling {
			details.MakerTokenBaseUnitPriceUSD = quotePrice
		} else {
			details.TakerTokenBaseUnitPriceUSD = quotePrice
		}
		result.FeeWithDetails = s.feeWithDetails(gasFeeAmount.Add(protocolFee), details)

	case quotePrice != nil && feePrice != nil && baseline != nil:
		s.degrade(qc, "margin", "amm_quote_unavailable")

		// The percentage fallback is sized off the baseline quote's
		// variable side, in the same units as the fetched quote price.
		protocolFee := DefaultFeeAmount(variableSideAmount(*baseline, qc.IsSelling), cfg.TradeSizeBps, quotePrice, feePrice)

		details := DefaultFeeDetails{
			FeeModelVersion:          qc.FeeModelVersion,
			GasFeeAmount:             gasFeeAmount,
			GasPrice:                 gasPrice,
			ProtocolFeeAmount:        protocolFee,
			TradeSizeBps:             cfg.TradeSizeBps,
			FeeTokenBaseUnitPriceUSD: feePrice,
		}
		if qc.IsSelling {
			details.MakerTokenBaseUnitPriceUSD = quotePrice
		} else {
			details.TakerTokenBaseUnitPriceUSD = quotePrice
		}
		result.FeeWithDetails = s.feeWithDetails(gasFeeAmount.Add(protocolFee), details)

	default:
		s.degrade(qc, "margin", "price_or_quotes_unavailable")
		result.FeeWithDetails = s.feeWithDetails(gasFeeAmount, GasOnlyFeeDetails{
			FeeModelVersion: qc.FeeModelVersion,
			GasFeeAmount:    gasFeeAmount,
			GasPrice:        gasPrice,
		})
	}

	return result
}

// fetchPricePair batch-fetches the USD base-unit prices for a trade-side
// token and the fee token. Either entry may be nil.
func (s *Service) fetchPricePair(ctx context.Context, tradeToken TokenRef) (*decimal.Decimal, *decimal.Decimal) {
	prices := s.prices.BatchFetchTokenPrices(ctx, []TokenRef{
		tradeToken,
		{Address: s.feeToken.TokenAddress, Decimals: s.feeToken.Decimals},
	})
	if len(prices) != 2 {
		s.logger.Warn("fee.price_batch_misaligned", zap.Int("got", len(prices)))
		return nil, nil
	}
	return prices[0], prices[1]
}

// quoteTokenRef returns the variable-side token of the trade: the maker
// token when selling, the taker token when buying.
func (s *Service) quoteTokenRef(qc QuoteContext) TokenRef {
	if qc.IsSelling {
		return TokenRef{Address: qc.priceLookupMakerToken(), Decimals: qc.MakerTokenDecimals}
	}
	return TokenRef{Address: qc.TakerToken, Decimals: qc.TakerTokenDecimals}
}

func (s *Service) feeWithDetails(amount decimal.Decimal, details FeeDetails) FeeWithDetails {
	return FeeWithDetails{
		Type:    FeeTypeFixed,
		Token:   s.feeToken.TokenAddress,
		Amount:  amount,
		Details: details,
	}
}

func (s *Service) degrade(qc QuoteContext, from, reason string) {
	s.logger.Warn("fee.calculate.degraded",
		zap.Int("fee_model_version", qc.FeeModelVersion),
		zap.String("from", from),
		zap.String("reason", reason))
	metrics.IncFeeDegradation(reason)
}

// publishFeeCalculated emits the fee event for downstream analytics. A nil
// publisher or a publish failure never affects the calculation result.
func (s *Service) publishFeeCalculated(ctx context.Context, qc QuoteContext, result *CalculateFeeResult) {
	if s.publisher == nil {
		return
	}

	event := model.FeeCalculatedEvent{
		ChainID:           s.chainID,
		FeeModelVersion:   qc.FeeModelVersion,
		Kind:              string(result.FeeWithDetails.Details.Kind()),
		FeeToken:          result.FeeWithDetails.Token,
		FeeAmount:         result.FeeWithDetails.Amount,
		GasFeeAmount:      result.FeeWithDetails.GasFee(),
		ProtocolFeeAmount: result.FeeWithDetails.ProtocolFee(),
		MakerToken:        qc.MakerToken,
		TakerToken:        qc.TakerToken,
		IsSelling:         qc.IsSelling,
		IntegratorID:      qc.Integrator.IntegratorID,
		AmmQuoteUniqueID:  result.AmmQuoteUniqueID,
		Timestamp:         time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, model.SubjectFeeCalculated, event); err != nil {
		s.logger.Warn("fee.publish_failed",
			zap.String("subject", model.SubjectFeeCalculated),
			zap.Error(err))
	}
}
