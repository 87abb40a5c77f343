package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/arcfield-labs/rfq-engine/internal/fee"
	"github.com/arcfield-labs/rfq-engine/internal/metrics"
	"github.com/arcfield-labs/rfq-engine/pkg/model"
)

// SubjectCalculateFee is the inbound command subject for fee calculations.
const SubjectCalculateFee = "cmd.fee.calculate.v1"

// queueGroup load-balances requests across engine replicas.
const queueGroup = "rfq-engine"

// FeeRequest is the request payload for a fee calculation command. Quotes
// are optional; when present they feed margin detection and come back
// revised with the computed fee.
type FeeRequest struct {
	QuoteContext fee.QuoteContext      `json:"quoteContext"`
	Quotes       []fee.IndicativeQuote `json:"quotes,omitempty"`
}

// FeeResponse is the reply payload. On failure only Error is set.
type FeeResponse struct {
	Fee              *fee.FeeWithDetails   `json:"fee,omitempty"`
	QuotesWithGasFee []fee.IndicativeQuote `json:"quotesWithGasFee,omitempty"`
	RevisedQuotes    []fee.IndicativeQuote `json:"revisedQuotes,omitempty"`
	AmmQuoteUniqueID string                `json:"ammQuoteUniqueId,omitempty"`
	Error            string                `json:"error,omitempty"`
}

// EventPublisher emits engine events. A nil publisher disables emission.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Consumer services fee calculation commands over NATS request/reply.
type Consumer struct {
	logger  *zap.Logger
	nc      *nats.Conn
	svc     *fee.Service
	pub     EventPublisher
	subject string
	sub     *nats.Subscription
}

func New(logger *zap.Logger, nc *nats.Conn, svc *fee.Service, subject string, pub EventPublisher) *Consumer {
	if subject == "" {
		subject = SubjectCalculateFee
	}
	return &Consumer{
		logger:  logger,
		nc:      nc,
		svc:     svc,
		pub:     pub,
		subject: subject,
	}
}

// Start subscribes to the command subject. Requests are handled on NATS's
// delivery goroutine; the fee service is safe for concurrent use.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.nc.QueueSubscribe(c.subject, queueGroup, func(msg *nats.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return err
	}
	c.sub = sub
	c.logger.Info("consumer.started", zap.String("subject", c.subject))
	return nil
}

// Stop drains the subscription so in-flight requests finish.
func (c *Consumer) Stop() {
	if c.sub != nil {
		_ = c.sub.Drain()
	}
}

func (c *Consumer) handle(ctx context.Context, msg *nats.Msg) {
	c.reply(msg, c.process(ctx, msg.Data))
}

// process runs one fee calculation command and builds the reply payload.
func (c *Consumer) process(ctx context.Context, data []byte) FeeResponse {
	var req FeeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.logger.Warn("consumer.decode_failed", zap.Error(err))
		metrics.IncError("consumer", "decode_failed")
		return FeeResponse{Error: "malformed fee request"}
	}

	var supplier fee.QuoteSupplier
	if req.Quotes != nil {
		quotes := req.Quotes
		supplier = func(context.Context) ([]fee.IndicativeQuote, error) {
			return quotes, nil
		}
	}

	result, err := c.svc.CalculateFee(ctx, req.QuoteContext, supplier)
	if err != nil {
		c.logger.Warn("consumer.calculate_failed", zap.Error(err))
		metrics.IncError("consumer", "calculate_failed")
		return FeeResponse{Error: err.Error()}
	}

	resp := FeeResponse{
		Fee:              &result.FeeWithDetails,
		QuotesWithGasFee: result.QuotesWithGasFee,
		AmmQuoteUniqueID: result.AmmQuoteUniqueID,
	}
	if len(result.QuotesWithGasFee) > 0 {
		resp.RevisedQuotes = c.svc.ReviseQuotes(ctx, result.QuotesWithGasFee, result.FeeWithDetails.ProtocolFee(), req.QuoteContext)
		c.publishQuotesRevised(ctx, req.QuoteContext, resp)
	}
	return resp
}

func (c *Consumer) publishQuotesRevised(ctx context.Context, qc fee.QuoteContext, resp FeeResponse) {
	if c.pub == nil {
		return
	}
	event := model.QuotesRevisedEvent{
		FeeModelVersion:   qc.FeeModelVersion,
		MakerToken:        qc.MakerToken,
		TakerToken:        qc.TakerToken,
		IsSelling:         qc.IsSelling,
		QuoteCount:        len(resp.RevisedQuotes),
		ProtocolFeeAmount: resp.Fee.ProtocolFee(),
		IntegratorID:      qc.Integrator.IntegratorID,
		Timestamp:         time.Now().UTC(),
	}
	if err := c.pub.Publish(ctx, model.SubjectQuotesRevised, event); err != nil {
		c.logger.Warn("consumer.publish_quotes_revised_failed", zap.Error(err))
	}
}

func (c *Consumer) reply(msg *nats.Msg, resp FeeResponse) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("consumer.encode_failed", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		c.logger.Warn("consumer.respond_failed", zap.Error(err))
	}
}
