// Package events publishes execution lifecycle events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/observability"
)

const (
	dialAttempts = 10
	dialDelay    = 3 * time.Second
	publishWait  = 5 * time.Second
)

// ExecutionEvent is the message body published on every execution state change.
type ExecutionEvent struct {
	ExecutionID  string    `json:"execution_id"`
	StrategyID   string    `json:"strategy_id"`
	UserID       string    `json:"user_id"`
	SignalID     string    `json:"signal_id"`
	Token        string    `json:"token"`
	Chain        string    `json:"chain"`
	Status       string    `json:"status"`
	Venue        string    `json:"venue,omitempty"`
	AmountUSD    float64   `json:"amount_usd"`
	EntryTxHash  string    `json:"entry_tx_hash,omitempty"`
	ExitTxHash   string    `json:"exit_tx_hash,omitempty"`
	EntryPrice   float64   `json:"entry_price,omitempty"`
	ExitPrice    float64   `json:"exit_price,omitempty"`
	RealizedPnL  float64   `json:"realized_pnl,omitempty"`
	BatchID      string    `json:"batch_id,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewExecutionEvent converts an execution into its event form.
func NewExecutionEvent(e *domain.Execution) ExecutionEvent {
	return ExecutionEvent{
		ExecutionID:  e.ExecutionID,
		StrategyID:   e.StrategyID,
		UserID:       e.UserID,
		SignalID:     e.SignalID,
		Token:        e.Token,
		Chain:        e.Chain,
		Status:       string(e.Status),
		Venue:        string(e.Venue),
		AmountUSD:    e.AmountUSD,
		EntryTxHash:  e.EntryTxHash,
		ExitTxHash:   e.ExitTxHash,
		EntryPrice:   e.EntryPrice,
		ExitPrice:    e.ExitPrice,
		RealizedPnL:  e.RealizedPnL,
		BatchID:      e.BatchID,
		ErrorMessage: e.ErrorMessage,
		OccurredAt:   e.UpdatedAt.UTC(),
	}
}

// RoutingKey returns the topic routing key of an execution status, e.g. "execution.submitted".
func RoutingKey(status domain.ExecutionStatus) string {
	return "execution." + strings.ToLower(string(status))
}

// Channel is the subset of *amqp.Channel used by Publisher.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes execution events to a durable topic exchange.
// It is safe for concurrent use.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       Channel
	exchange string
	log      *logrus.Entry
}

// NewPublisher wraps an open channel. The exchange must already exist.
func NewPublisher(ch Channel, exchange string) *Publisher {
	return &Publisher{
		ch:       ch,
		exchange: exchange,
		log:      logrus.WithField("component", "events"),
	}
}

// Dial connects to RabbitMQ with retries and declares the exchange.
func Dial(ctx context.Context, url, exchange string) (*Publisher, error) {
	log := logrus.WithField("component", "events")

	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < dialAttempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		if i < dialAttempts-1 {
			log.WithError(err).Warnf("rabbitmq connect failed (attempt %d/%d), retrying in %s", i+1, dialAttempts, dialDelay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(dialDelay):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	p := NewPublisher(ch, exchange)
	p.conn = conn
	log.WithField("exchange", exchange).Info("connected to rabbitmq")
	return p, nil
}

// PublishExecution publishes the execution's current state.
// Failures are counted as dropped events and returned.
func (p *Publisher) PublishExecution(ctx context.Context, e *domain.Execution) error {
	body, err := json.Marshal(NewExecutionEvent(e))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishWait)
	defer cancel()

	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		RoutingKey(e.Status),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ExecutionID + ":" + string(e.Status),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	p.mu.Unlock()

	if err != nil {
		observability.RecordEventDropped()
		return fmt.Errorf("publish %s: %w", RoutingKey(e.Status), err)
	}
	p.log.WithFields(logrus.Fields{
		"execution_id": e.ExecutionID,
		"status":       e.Status,
	}).Debug("event published")
	return nil
}

// Close closes the channel and, when owned, the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close publisher: %v", errs)
	}
	return nil
}
