package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"qshop_backend/internal/domain"
)

const (
	EventPaymentInitiated = "payment.initiated"
	EventPaymentCompleted = "payment.completed"
)

// Writer is the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
	Close() error
}

// PaymentEvent is the message body for both payment event types.
type PaymentEvent struct {
	Type              string               `json:"type"`
	CheckoutRequestID string               `json:"checkoutRequestId"`
	MerchantRequestID string               `json:"merchantRequestId,omitempty"`
	PhoneNumber       string               `json:"phoneNumber,omitempty"`
	Amount            int64                `json:"amount,omitempty"`
	AccountReference  string               `json:"accountReference,omitempty"`
	Status            domain.PaymentStatus `json:"status"`
	ResultCode        *int                 `json:"resultCode,omitempty"`
	ResultDesc        string               `json:"resultDesc,omitempty"`
	ReceiptNumber     string               `json:"receiptNumber,omitempty"`
	OccurredAt        time.Time            `json:"occurredAt"`
}

type KafkaPublisher struct {
	writer Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: newWriter(brokers, topic)}
}

// newWriter builds an async writer: WriteMessages returns once the message is
// queued and delivery failures are reported through Completion.
func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Printf("kafka delivery of %d message(s) to %s failed: %v", len(msgs), topic, err)
			}
		},
	}
}

func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Publish writes value as JSON keyed by key. PaymentEvent values also carry
// their type in the event-type header.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		log.Println("failed to marshal event:", err)
		return err
	}

	msg := kafka.Message{Key: []byte(key), Value: b}
	if ev, ok := value.(PaymentEvent); ok {
		msg.Headers = []kafka.Header{{Key: "event-type", Value: []byte(ev.Type)}}
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.Println("kafka write error:", err)
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. It is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }
func (NopPublisher) Close() error                                       { return nil }

// New returns a Kafka publisher, or a NopPublisher when brokers is empty.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return NopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic)
}
