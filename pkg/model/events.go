package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NATS subjects for engine events.
const (
	SubjectFeeCalculated = "evt.fee.calculated.v1"
	SubjectQuotesRevised = "evt.quotes.revised.v1"
	SubjectConfigRefresh = "evt.fee_config.refreshed.v1"
)

// Envelope is the canonical event wrapper published to NATS.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// QuotesRevisedEvent records one batch of maker quotes revised with a
// computed protocol fee.
type QuotesRevisedEvent struct {
	FeeModelVersion   int             `json:"fee_model_version"`
	MakerToken        string          `json:"maker_token"`
	TakerToken        string          `json:"taker_token"`
	IsSelling         bool            `json:"is_selling"`
	QuoteCount        int             `json:"quote_count"`
	ProtocolFeeAmount decimal.Decimal `json:"protocol_fee_amount"`
	IntegratorID      string          `json:"integrator_id"`
	Timestamp         time.Time       `json:"timestamp"`
}

// FeeCalculatedEvent records one completed fee calculation for downstream
// analytics and billing.
type FeeCalculatedEvent struct {
	ChainID           int64           `json:"chain_id"`
	FeeModelVersion   int             `json:"fee_model_version"`
	Kind              string          `json:"kind"`
	FeeToken          string          `json:"fee_token"`
	FeeAmount         decimal.Decimal `json:"fee_amount"`
	GasFeeAmount      decimal.Decimal `json:"gas_fee_amount"`
	ProtocolFeeAmount decimal.Decimal `json:"protocol_fee_amount"`
	MakerToken        string          `json:"maker_token"`
	TakerToken        string          `json:"taker_token"`
	IsSelling         bool            `json:"is_selling"`
	IntegratorID      string          `json:"integrator_id"`
	AmmQuoteUniqueID  string          `json:"amm_quote_unique_id,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
}
