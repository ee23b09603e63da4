// Package events publishes domain events to Kafka. Publishing is
// fire-and-forget: the API must not fail or stall because the broker is
// slow, so writes happen on background goroutines with their own timeout
// and failures are only logged.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	// DefaultTopic carries analysis lifecycle events.
	DefaultTopic = "insight.analysis.events"

	// TypeAnalysisCompleted marks a finished agent run.
	TypeAnalysisCompleted = "analysis.completed"

	source         = "insight-api"
	publishTimeout = 5 * time.Second
)

// AnalysisCompleted is the payload emitted after an analysis is persisted.
type AnalysisCompleted struct {
	UserID     uuid.UUID `json:"user_id"`
	AnalysisID uuid.UUID `json:"analysis_id"`
	Type       string    `json:"analysis_type"`
	Token      string    `json:"token"`
	DurationMS int64     `json:"duration_ms"`
}

// Publisher emits domain events. Implementations never block the caller.
type Publisher interface {
	AnalysisCompleted(ev AnalysisCompleted)
	Close() error
}

type envelope struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// messageWriter is the slice of kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic.
type KafkaPublisher struct {
	writer messageWriter
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewKafka creates a publisher for the given brokers and topic. An empty
// topic falls back to DefaultTopic.
func NewKafka(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaPublisher{writer: writer, now: time.Now}
}

// AnalysisCompleted publishes asynchronously; the call returns at once.
func (p *KafkaPublisher) AnalysisCompleted(ev AnalysisCompleted) {
	p.publish(TypeAnalysisCompleted, ev.UserID.String(), ev)
}

func (p *KafkaPublisher) publish(eventType, key string, data interface{}) {
	env := envelope{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: p.now().UTC(),
		Data:      data,
	}

	value, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("Failed to marshal event")
		return
	}

	msg := kafka.Message{
		// Keyed by user so one user's events stay ordered.
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
			{Key: "source", Value: []byte(source)},
		},
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			log.Warn().Err(err).
				Str("event_id", env.ID).
				Str("event_type", eventType).
				Msg("Failed to publish event")
			return
		}

		log.Debug().
			Str("event_id", env.ID).
			Str("event_type", eventType).
			Msg("Event published")
	}()
}

// Close waits for in-flight publishes and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.wg.Wait()
	return p.writer.Close()
}

// Nop discards all events, used when no brokers are configured.
type Nop struct{}

func NewNop() Nop { return Nop{} }

func (Nop) AnalysisCompleted(AnalysisCompleted) {}

func (Nop) Close() error { return nil }
