// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
)

// WatermillSink publishes each event as one Watermill message. The message
// UUID is the event id, which JetStream uses for deduplication.
type WatermillSink struct {
	pub    message.Publisher
	prefix string
}

// NewWatermillSink publishes to "<prefix>.<event type>".
func NewWatermillSink(pub message.Publisher, prefix string) *WatermillSink {
	if prefix == "" {
		prefix = "feedrank.events"
	}
	return &WatermillSink{pub: pub, prefix: prefix}
}

// Topic returns the topic events of type t are published to.
func (s *WatermillSink) Topic(t Type) string {
	return s.prefix + "." + string(t)
}

// Append publishes the batch grouped by topic, preserving order within a topic.
func (s *WatermillSink) Append(ctx context.Context, batch []Event) error {
	byTopic := make(map[string][]*message.Message)
	var order []string
	for i := range batch {
		e := &batch[i]
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.ID, err)
		}
		msg := message.NewMessage(e.ID, data)
		msg.SetContext(ctx)
		msg.Metadata.Set("type", string(e.Type))
		if e.UserID != "" {
			msg.Metadata.Set("user_id", e.UserID)
		}
		topic := s.Topic(e.Type)
		if _, ok := byTopic[topic]; !ok {
			order = append(order, topic)
		}
		byTopic[topic] = append(byTopic[topic], msg)
	}
	for _, topic := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.pub.Publish(topic, byTopic[topic]...); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	return nil
}

// NATSConfig configures the JetStream publisher.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NewNATSPublisher creates a Watermill publisher on NATS JetStream with
// message id tracking enabled. The stream must already cover the published
// subjects; see EnsureStream.
func NewNATSPublisher(cfg NATSConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	opts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: opts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}
	return pub, nil
}
