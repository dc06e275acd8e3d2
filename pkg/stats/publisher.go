package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/streadway/amqp"
)

// RoutingKey is the routing key of stats envelopes on the exchange.
const RoutingKey = "stats_info"

// Publisher sends the per-launch stats envelope to the stats sink.
type Publisher interface {
	PublishStats(ctx context.Context, launchStats map[int64]*LaunchStats) error
}

// AmqpPublisher publishes stats envelopes over AMQP. A fresh connection is
// opened per publish; stats are emitted once per analysis run, so connection
// reuse buys nothing.
type AmqpPublisher struct {
	url      string
	exchange string
	log      *slog.Logger
}

var _ Publisher = (*AmqpPublisher)(nil)

// NewAmqpPublisher creates a publisher for the given broker URL and exchange.
func NewAmqpPublisher(url, exchange string) *AmqpPublisher {
	return &AmqpPublisher{
		url:      url,
		exchange: exchange,
		log:      slog.With("component", "stats"),
	}
}

// PublishStats implements Publisher.
func (p *AmqpPublisher) PublishStats(_ context.Context, launchStats map[int64]*LaunchStats) error {
	if len(launchStats) == 0 {
		return nil
	}
	envelope := make(map[string]*LaunchStats, len(launchStats))
	for launchID, record := range launchStats {
		envelope[strconv.FormatInt(launchID, 10)] = record
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal stats envelope: %w", err)
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to stats broker: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			p.log.Warn("failed to close stats connection", "error", err)
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open stats channel: %w", err)
	}
	defer func() {
		if err := ch.Close(); err != nil {
			p.log.Warn("failed to close stats channel", "error", err)
		}
	}()

	err = ch.Publish(p.exchange, RoutingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish stats: %w", err)
	}
	return nil
}

// NopPublisher drops all stats. Used when no AMQP URL is configured.
type NopPublisher struct{}

var _ Publisher = NopPublisher{}

// PublishStats implements Publisher.
func (NopPublisher) PublishStats(context.Context, map[int64]*LaunchStats) error { return nil }
