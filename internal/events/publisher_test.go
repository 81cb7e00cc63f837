package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-copy-engine/internal/domain"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu     sync.Mutex
	sent   []published
	err    error
	closed bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublishExecution(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, "copytrade.executions")

	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := p.PublishExecution(context.Background(), &domain.Execution{
		ExecutionID: "exec-1",
		StrategyID:  "strat-1",
		UserID:      "U1",
		SignalID:    "S1",
		Token:       "CAKE",
		Chain:       "bsc",
		Status:      domain.ExecutionSubmitted,
		Venue:       domain.VenueV3,
		AmountUSD:   100,
		EntryTxHash: "0xabc",
		UpdatedAt:   updated,
	})
	require.NoError(t, err)

	require.Len(t, ch.sent, 1)
	got := ch.sent[0]
	assert.Equal(t, "copytrade.executions", got.exchange)
	assert.Equal(t, "execution.submitted", got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "exec-1:SUBMITTED", got.msg.MessageId)

	var ev ExecutionEvent
	require.NoError(t, json.Unmarshal(got.msg.Body, &ev))
	assert.Equal(t, "exec-1", ev.ExecutionID)
	assert.Equal(t, "SUBMITTED", ev.Status)
	assert.Equal(t, "v3", ev.Venue)
	assert.Equal(t, "0xabc", ev.EntryTxHash)
	assert.True(t, updated.Equal(ev.OccurredAt))
}

func TestPublishExecution_Failure(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := NewPublisher(ch, "x")

	err := p.PublishExecution(context.Background(), &domain.Execution{ExecutionID: "e", Status: domain.ExecutionFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish execution.failed")
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "execution.insufficient_balance", RoutingKey(domain.ExecutionInsufficientBalance))
	assert.Equal(t, "execution.holding", RoutingKey(domain.ExecutionHolding))
}

func TestClose(t *testing.T) {
	ch := &fakeChannel{}
	require.NoError(t, NewPublisher(ch, "x").Close())
	assert.True(t, ch.closed)
}
