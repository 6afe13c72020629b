package events

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danghamo/convoy/pkg/logger"
)

// TopicPrefix namespaces event topics (one topic per event type)
const TopicPrefix = "tracking-events."

// EventNames lists every event type the bus carries
var EventNames = []string{
	"TrackingStarted",
	"LocationReported",
	"LocationReportFailed",
	"ArrivalChanged",
	"TrackingStopped",
}

// BusConfig selects the transport. A nil Redis client keeps events on an
// in-process channel.
type BusConfig struct {
	Redis *redis.Client
	// ConsumerGroup is suffixed with a per-process id so every instance
	// sees every event
	ConsumerGroup string
	// MaxLen caps each Redis stream; zero leaves streams unbounded
	MaxLen       int64
	CloseTimeout time.Duration
}

// Bus wires a watermill CQRS event bus and event processor
type Bus struct {
	eventBus       *cqrs.EventBus
	eventProcessor *cqrs.EventProcessor
	router         *message.Router
	publisher      message.Publisher
	subscriber     message.Subscriber
	logger         *logger.Logger
}

func topic(eventName string) string {
	return TopicPrefix + eventName
}

// NewBus creates the bus. Handlers must be added before Run.
func NewBus(cfg BusConfig, log *logger.Logger) (*Bus, error) {
	wmLogger := NewWatermillLogger(log)
	marshaler := cqrs.JSONMarshaler{GenerateName: cqrs.StructName}

	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 5 * time.Second
	}

	var (
		publisher  message.Publisher
		subscriber message.Subscriber
	)

	if cfg.Redis != nil {
		maxlens := map[string]int64{}
		if cfg.MaxLen > 0 {
			for _, name := range EventNames {
				maxlens[topic(name)] = cfg.MaxLen
			}
		}

		pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client:  cfg.Redis,
			Maxlens: maxlens,
		}, wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create publisher: %w", err)
		}

		sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        cfg.Redis,
			ConsumerGroup: fmt.Sprintf("%s-%s", cfg.ConsumerGroup, instanceID()),
		}, wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create subscriber: %w", err)
		}
		publisher, subscriber = pub, sub
	} else {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, wmLogger)
		publisher, subscriber = ch, ch
	}

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	eventBus, err := cqrs.NewEventBusWithConfig(publisher, cqrs.EventBusConfig{
		GeneratePublishTopic: func(params cqrs.GenerateEventPublishTopicParams) (string, error) {
			return topic(params.EventName), nil
		},
		Marshaler: marshaler,
		Logger:    wmLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	eventProcessor, err := cqrs.NewEventProcessorWithConfig(router, cqrs.EventProcessorConfig{
		GenerateSubscribeTopic: func(params cqrs.EventProcessorGenerateSubscribeTopicParams) (string, error) {
			return topic(params.EventName), nil
		},
		SubscriberConstructor: func(params cqrs.EventProcessorSubscriberConstructorParams) (message.Subscriber, error) {
			return subscriber, nil
		},
		Marshaler: marshaler,
		Logger:    wmLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event processor: %w", err)
	}

	transport := "gochannel"
	if cfg.Redis != nil {
		transport = "redis-streams"
	}
	log.Info("Event bus created", zap.String("transport", transport))

	return &Bus{
		eventBus:       eventBus,
		eventProcessor: eventProcessor,
		router:         router,
		publisher:      publisher,
		subscriber:     subscriber,
		logger:         log.WithComponent("event-bus"),
	}, nil
}

// Publish sends an event to every subscribed handler
func (b *Bus) Publish(ctx context.Context, event any) error {
	return b.eventBus.Publish(ctx, event)
}

// AddHandlers registers event handlers with the processor
func (b *Bus) AddHandlers(handlers ...cqrs.EventHandler) error {
	return b.eventProcessor.AddHandlers(handlers...)
}

// Run starts the router and blocks until ctx is cancelled or Close is called
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running is closed once handlers are subscribed
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Close stops the router and the transport
func (b *Bus) Close() error {
	b.logger.Info("Closing event bus")

	if err := b.router.Close(); err != nil {
		return err
	}
	if err := b.publisher.Close(); err != nil {
		return err
	}
	// gochannel is both publisher and subscriber
	if any(b.subscriber) != any(b.publisher) {
		return b.subscriber.Close()
	}
	return nil
}

func instanceID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%s", hostname, watermill.NewShortUUID())
}
