package fee

import (
	"sort"

	"github.com/shopspring/decimal"
)

// bpsToRatio converts basis points to a ratio: 5 bps = 5 * 0.0001.
var bpsToRatio = decimal.New(1, -4)

var one = decimal.New(1, 0)

// DefaultFeeAmount computes the trade-size percentage fee in fee-token base
// units:
//
//	tradeTokenAmount * (tradeSizeBps * 0.0001) * tradeTokenPriceUsd / feeTokenPriceUsd
//
// rounded half away from zero. It returns zero when the rate is zero or
// either price is unavailable — the percentage fee is dropped whole, never
// partially computed.
func DefaultFeeAmount(tradeTokenAmount decimal.Decimal, tradeSizeBps int64, tradeTokenPriceUSD, feeTokenPriceUSD *decimal.Decimal) decimal.Decimal {
	if tradeSizeBps == 0 || tradeTokenPriceUSD == nil || feeTokenPriceUSD == nil {
		return decimal.Zero
	}
	rate := decimal.NewFromInt(tradeSizeBps).Mul(bpsToRatio)
	return tradeTokenAmount.
		Mul(rate).
		Mul(*tradeTokenPriceUSD).
		Div(*feeTokenPriceUSD).
		Round(0)
}

// MarginAmount computes how much better a maker quote is than the AMM
// reference, in fee-token base units. The AMM amount is adjusted by its
// expected slippage before comparison, and the AMM route's gas cost is
// credited to the margin. The result is clamped at zero: a maker quote
// worse than the AMM never produces a negative margin.
func MarginAmount(quote IndicativeQuote, amm AmmQuote, isSelling bool, quoteTokenPriceUSD, feeTokenPriceUSD decimal.Decimal) decimal.Decimal {
	var diff decimal.Decimal
	if isSelling {
		ammMakerAmount := amm.MakerAmount.Mul(one.Add(amm.ExpectedSlippage))
		diff = quote.MakerAmount.Sub(ammMakerAmount)
	} else {
		ammTakerAmount := amm.TakerAmount.Mul(one.Sub(amm.ExpectedSlippage))
		diff = ammTakerAmount.Sub(quote.TakerAmount)
	}

	margin := diff.
		Mul(quoteTokenPriceUSD).
		Div(feeTokenPriceUSD).
		Add(amm.EstimatedGasWei).
		Round(0)

	if margin.IsNegative() {
		return decimal.Zero
	}
	return margin
}

// ReviseQuoteWithFees nets a protocol fee (fee-token base units) out of a
// maker quote. The fee is converted into quote-token units and applied to
// the variable side: the maker gives less when selling, the taker pays more
// when buying. A zero fee returns the quote untouched, byte for byte.
// A fee larger than the offered maker amount clamps the revised amount at
// zero rather than going negative.
func ReviseQuoteWithFees(quote IndicativeQuote, protocolFeeAmount decimal.Decimal, isSelling bool, quoteTokenPriceUSD, feeTokenPriceUSD decimal.Decimal) IndicativeQuote {
	if protocolFeeAmount.IsZero() {
		return quote
	}

	feeInQuoteToken := protocolFeeAmount.
		Mul(feeTokenPriceUSD).
		Div(quoteTokenPriceUSD).
		Round(0)

	if isSelling {
		revised := quote.MakerAmount.Sub(feeInQuoteToken)
		if revised.IsNegative() {
			revised = decimal.Zero
		}
		quote.MakerAmount = revised
	} else {
		quote.TakerAmount = quote.TakerAmount.Add(feeInQuoteToken)
	}
	return quote
}

// baselineQuote picks the maker quote used as the margin baseline and for
// sizing the v2 percentage fallback. Quotes are ordered from worst to best
// on the variable side and the second entry is taken; a single quote serves
// as its own baseline. Returns nil when no quotes are available.
func baselineQuote(quotes []IndicativeQuote, isSelling bool) *IndicativeQuote {
	if len(quotes) == 0 {
		return nil
	}

	ordered := make([]IndicativeQuote, len(quotes))
	copy(ordered, quotes)
	sort.SliceStable(ordered, func(i, j int) bool {
		if isSelling {
			// Higher maker amount is better for the taker.
			return ordered[i].MakerAmount.LessThan(ordered[j].MakerAmount)
		}
		// Lower taker amount is better for the taker.
		return ordered[i].TakerAmount.GreaterThan(ordered[j].TakerAmount)
	})

	if len(ordered) == 1 {
		return &ordered[0]
	}
	return &ordered[1]
}

// variableSideAmount returns a quote's amount on the non-fixed side of the
// trade: the maker amount when selling, the taker amount when buying.
func variableSideAmount(quote IndicativeQuote, isSelling bool) decimal.Decimal {
	if isSelling {
		return quote.MakerAmount
	}
	return quote.TakerAmount
}
