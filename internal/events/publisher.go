package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/stemsi/examportal/internal/config"
)

// Publisher publishes exam portal domain events.
type Publisher interface {
	PublishSubmissionCreated(ctx context.Context, ev *SubmissionCreated) error
	PublishAudioUploaded(ctx context.Context, ev *AudioUploaded) error
	Close() error
}

// Topics maps event types onto broker topics.
type Topics struct {
	Submissions string
	Audio       string
}

// WatermillPublisher implements Publisher on any watermill message.Publisher.
type WatermillPublisher struct {
	publisher message.Publisher
	topics    Topics
	log       zerolog.Logger
}

// NewWatermillPublisher wraps an existing watermill publisher.
func NewWatermillPublisher(pub message.Publisher, topics Topics, log zerolog.Logger) *WatermillPublisher {
	return &WatermillPublisher{
		publisher: pub,
		topics:    topics,
		log:       log.With().Str("component", "event_publisher").Logger(),
	}
}

// NewKafkaPublisher creates a publisher backed by Kafka.
func NewKafkaPublisher(brokers []string, topics Topics, log zerolog.Logger) (*WatermillPublisher, error) {
	pub, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: kafka.DefaultMarshaler{},
	}, NewLoggerAdapter(log))
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	return NewWatermillPublisher(pub, topics, log), nil
}

// NewGoChannelPublisher creates an in-process publisher. The returned
// GoChannel can be used to subscribe to the same topics.
func NewGoChannelPublisher(topics Topics, log zerolog.Logger) (*WatermillPublisher, *gochannel.GoChannel) {
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, NewLoggerAdapter(log))
	return NewWatermillPublisher(ch, topics, log), ch
}

// New selects the transport configured by EVENTS_PUBLISHER.
func New(cfg config.EventsConfig, log zerolog.Logger) (*WatermillPublisher, error) {
	topics := Topics{Submissions: cfg.SubmissionsTopic, Audio: cfg.AudioTopic}
	switch cfg.Publisher {
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBrokers, topics, log)
	case "gochannel", "":
		pub, _ := NewGoChannelPublisher(topics, log)
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown events publisher %q", cfg.Publisher)
	}
}

func (p *WatermillPublisher) PublishSubmissionCreated(ctx context.Context, ev *SubmissionCreated) error {
	return p.publish(ctx, p.topics.Submissions, TypeSubmissionCreated, ev.SubmissionID.String(), ev)
}

func (p *WatermillPublisher) PublishAudioUploaded(ctx context.Context, ev *AudioUploaded) error {
	return p.publish(ctx, p.topics.Audio, TypeAudioUploaded, ev.SubmissionID.String(), ev)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, typ Type, key string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", string(typ))
	msg.Metadata.Set("source", source)
	msg.Metadata.Set("version", version)
	msg.Metadata.Set("partition_key", key)
	msg.Metadata.Set("timestamp", time.Now().UTC().Format(time.RFC3339))

	if err := p.publisher.Publish(topic, msg); err != nil {
		p.log.Error().Err(err).Str("event_type", string(typ)).Str("topic", topic).Msg("Failed to publish event")
		return fmt.Errorf("publish %s: %w", typ, err)
	}

	p.log.Debug().
		Str("event_id", msg.UUID).
		Str("event_type", string(typ)).
		Str("topic", topic).
		Msg("Event published")
	return nil
}

// Close closes the underlying publisher.
func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}
