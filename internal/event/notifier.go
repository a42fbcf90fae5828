package event

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/utafrali/marketplace/internal/domain"
	pkgkafka "github.com/utafrali/marketplace/pkg/kafka"
	"github.com/utafrali/marketplace/pkg/logger"
)

// TopicPrefix namespaces every marketplace topic. A notification of type
// "staff.revoked" is published to "marketplace.staff.revoked".
const TopicPrefix = "marketplace."

// AggregateTypeStore is the aggregate every notification is keyed by.
const AggregateTypeStore = "store"

// SourceMarketplace identifies events produced by this service.
const SourceMarketplace = "marketplace"

// Publisher sends one event to a topic. *pkgkafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// NotificationData is the payload of a notification event.
type NotificationData struct {
	Recipient  string            `json:"recipient"`
	StoreID    string            `json:"store_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Notifier publishes store-scoped notifications to Kafka.
type Notifier struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewNotifier creates a Kafka-backed notification sink.
func NewNotifier(publisher Publisher, logger *slog.Logger) *Notifier {
	return &Notifier{publisher: publisher, logger: logger}
}

// Topic returns the topic a notification type is published to.
func Topic(notificationType string) string {
	return TopicPrefix + strings.TrimPrefix(notificationType, TopicPrefix)
}

// Notify publishes n keyed by its store, so one store's events stay ordered
// within a partition. Notifications without a store are keyed by recipient.
func (n *Notifier) Notify(ctx context.Context, note domain.Notification) error {
	data := NotificationData{
		Recipient:  note.Recipient,
		StoreID:    note.StoreID,
		Attributes: note.Attributes,
	}

	key, aggregate := note.StoreID, AggregateTypeStore
	if key == "" {
		key, aggregate = note.Recipient, "user"
	}

	evt, err := pkgkafka.NewEvent(note.Type, key, aggregate, SourceMarketplace, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", note.Type, err)
	}
	evt.Timestamp = note.OccurredAt
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	if err := n.publisher.Publish(ctx, Topic(note.Type), evt); err != nil {
		return fmt.Errorf("publish %s: %w", note.Type, err)
	}
	return nil
}

// LogNotifier writes notifications to the log. It is used when no Kafka
// brokers are configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-only notification sink.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notification at info level.
func (l *LogNotifier) Notify(ctx context.Context, note domain.Notification) error {
	l.logger.InfoContext(ctx, "notification",
		slog.String("type", note.Type),
		slog.String("store_id", note.StoreID),
		slog.String("recipient", note.Recipient),
		slog.Any("attributes", note.Attributes),
	)
	return nil
}
