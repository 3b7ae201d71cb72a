package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/model"
)

type fakeChannel struct {
	declared  string
	kind      string
	published []amqp.Publishing
	keys      []string
	fail      error
	closed    bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.declared, c.kind = name, kind
	return nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.fail != nil {
		return c.fail
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestRabbitMQ_Publish(t *testing.T) {
	ch := &fakeChannel{}
	r, err := newRabbitMQ(ch, "deposit.decisions")
	if err != nil {
		t.Fatal(err)
	}
	if ch.declared != "deposit.decisions" || ch.kind != amqp.ExchangeTopic {
		t.Fatalf("unexpected exchange %s/%s", ch.declared, ch.kind)
	}

	ev := &model.DecisionEvent{
		TransactionID: "T1",
		Phone:         "0911",
		Action:        "approve",
		Status:        model.TransactionStatusApproved,
		Actor:         "42",
		Balance:       "100",
		DecidedAt:     time.Now(),
	}
	if err := r.Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	if len(ch.keys) != 1 || ch.keys[0] != "decision.approve" {
		t.Fatalf("unexpected routing keys %v", ch.keys)
	}
	got := &model.DecisionEvent{}
	if err := json.Unmarshal(ch.published[0].Body, got); err != nil {
		t.Fatal(err)
	}
	if got.TransactionID != "T1" || got.Status != model.TransactionStatusApproved {
		t.Fatalf("unexpected body %+v", got)
	}

	if err := r.Close(); err != nil || !ch.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestRabbitMQ_PublishFailureIsTransportError(t *testing.T) {
	ch := &fakeChannel{fail: errors.New("channel closed")}
	r, err := newRabbitMQ(ch, "x")
	if err != nil {
		t.Fatal(err)
	}

	err = r.Publish(context.Background(), &model.DecisionEvent{TransactionID: "T1", Action: "reject"})
	if !errors.Is(err, apperr.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}
