package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/precisesoft/ConnectKit-sub002/internal/core/domain"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 1),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T, async *fakeAsyncProducer) *EventPublisher {
	t.Helper()

	producer := &Producer{
		producer: async,
		logger:   zaptest.NewLogger(t),
		cfg: config.KafkaSettings{
			TopicPrefix: "connectkit.auth",
		},
		errChan: make(chan error, 1),
		done:    make(chan struct{}),
	}

	return NewEventPublisher(producer, config.AppSettings{
		Name: "connectkit-auth",
		Env:  "test",
	}, zaptest.NewLogger(t))
}

func TestPublishUserRegistered(t *testing.T) {
	async := newFakeAsyncProducer()
	publisher := newTestPublisher(t, async)

	registeredAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	event := domain.UserRegisteredEvent{
		EventID:           "event-123",
		UserID:            "user-789",
		Email:             "alice@example.com",
		Username:          "alice",
		RegisteredAt:      registeredAt,
		VerificationToken: "verify-token",
		VerificationTTL:   domain.VerificationTicketTTL,
	}

	if err := publisher.PublishUserRegistered(context.Background(), event); err != nil {
		t.Fatalf("PublishUserRegistered returned error: %v", err)
	}

	msg := <-async.input
	if msg.Topic != "connectkit.auth.user.registered" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}

	raw, err := msg.Value.Encode()
	if err != nil {
		t.Fatalf("encode message value: %v", err)
	}

	var envelope struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		UserID    string `json:"user_id"`
		Version   string `json:"version"`
		Payload   struct {
			Email             string `json:"email"`
			VerificationToken string `json:"verification_token"`
			VerificationTTL   string `json:"verification_ttl"`
		} `json:"payload"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	if envelope.EventID != "event-123" {
		t.Fatalf("unexpected event id: %s", envelope.EventID)
	}
	if envelope.EventType != "user.registered" {
		t.Fatalf("unexpected event type: %s", envelope.EventType)
	}
	if envelope.Payload.Email != "alice@example.com" {
		t.Fatalf("unexpected email: %s", envelope.Payload.Email)
	}
	if envelope.Payload.VerificationToken != "verify-token" {
		t.Fatalf("unexpected verification token: %s", envelope.Payload.VerificationToken)
	}
	if envelope.Payload.VerificationTTL != "24h0m0s" {
		t.Fatalf("unexpected verification ttl: %s", envelope.Payload.VerificationTTL)
	}
	if envelope.Metadata["service"] != "connectkit-auth" {
		t.Fatalf("unexpected metadata service: %s", envelope.Metadata["service"])
	}
}

func TestPublishPasswordChanged_GeneratesEventID(t *testing.T) {
	async := newFakeAsyncProducer()
	publisher := newTestPublisher(t, async)

	event := domain.PasswordChangedEvent{
		UserID:    "user-789",
		ChangedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Reason:    "reset",
	}

	if err := publisher.PublishPasswordChanged(context.Background(), event); err != nil {
		t.Fatalf("PublishPasswordChanged returned error: %v", err)
	}

	msg := <-async.input
	raw, err := msg.Value.Encode()
	if err != nil {
		t.Fatalf("encode message value: %v", err)
	}

	var envelope struct {
		EventID string `json:"event_id"`
		Payload struct {
			Reason string `json:"reason"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	if envelope.EventID == "" {
		t.Fatalf("expected generated event id")
	}
	if envelope.Payload.Reason != "reset" {
		t.Fatalf("unexpected reason: %s", envelope.Payload.Reason)
	}
}
