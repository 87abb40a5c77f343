package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcfield-labs/rfq-engine/pkg/model"
)

type fakeJetStream struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakeJetStream) PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, msg)
	return &nats.PubAck{}, nil
}

func newTestPublisher(js jetStreamPublisher) *Publisher {
	return &Publisher{
		js:      js,
		subject: model.SubjectFeeCalculated,
		service: "RFQ_ENGINE",
	}
}

func TestPublishRoutesFeeCalculatedThroughEnvelope(t *testing.T) {
	js := &fakeJetStream{}
	p := newTestPublisher(js)

	event := model.FeeCalculatedEvent{
		ChainID:         1,
		FeeModelVersion: 2,
		Kind:            "margin",
		FeeToken:        "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
		FeeAmount:       decimal.New(1, 14),
		IsSelling:       true,
		Timestamp:       time.Now().UTC(),
	}

	require.NoError(t, p.Publish(context.Background(), model.SubjectFeeCalculated, event))
	require.Len(t, js.msgs, 1)

	msg := js.msgs[0]
	assert.Equal(t, model.SubjectFeeCalculated, msg.Subject)
	assert.Equal(t, "fee.calculated", msg.Header.Get("event_type"))
	assert.Equal(t, "RFQ_ENGINE", msg.Header.Get("service"))

	_, err := uuid.Parse(msg.Header.Get("correlation_id"))
	require.NoError(t, err, "correlation_id must be a uuid")

	var env model.Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.Equal(t, "fee.calculated", env.EventType)
	assert.Equal(t, model.SubjectFeeCalculated, env.Topic)
	assert.NotEqual(t, uuid.Nil, env.ID)
	assert.NotEqual(t, uuid.Nil, env.CorrelationID)

	var decoded model.FeeCalculatedEvent
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, "margin", decoded.Kind)
	assert.True(t, decimal.New(1, 14).Equal(decoded.FeeAmount))
}

func TestPublishRoutesQuotesRevisedThroughEnvelope(t *testing.T) {
	js := &fakeJetStream{}
	p := newTestPublisher(js)

	event := model.QuotesRevisedEvent{
		FeeModelVersion:   2,
		QuoteCount:        2,
		ProtocolFeeAmount: decimal.New(10, 15),
	}

	require.NoError(t, p.Publish(context.Background(), model.SubjectQuotesRevised, event))
	require.Len(t, js.msgs, 1)

	msg := js.msgs[0]
	assert.Equal(t, model.SubjectQuotesRevised, msg.Subject)
	assert.Equal(t, "quotes.revised", msg.Header.Get("event_type"))
}

func TestPublishRawPayloadSkipsEnvelope(t *testing.T) {
	js := &fakeJetStream{}
	p := newTestPublisher(js)

	require.NoError(t, p.Publish(context.Background(), "evt.internal.v1", map[string]any{"pairs": 3}))
	require.Len(t, js.msgs, 1)

	msg := js.msgs[0]
	assert.Equal(t, "evt.internal.v1", msg.Subject)
	assert.Equal(t, "RFQ_ENGINE", msg.Header.Get("source"))
	assert.Empty(t, msg.Header.Get("event_type"))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &raw))
	assert.NotContains(t, raw, "payload", "raw publishes are not enveloped")
}

func TestPublishPropagatesJetStreamError(t *testing.T) {
	js := &fakeJetStream{err: errors.New("stream unavailable")}
	p := newTestPublisher(js)

	err := p.Publish(context.Background(), model.SubjectFeeCalculated, model.FeeCalculatedEvent{})
	require.Error(t, err)
}
