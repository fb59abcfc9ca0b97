// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

// Package events carries resource-update notifications from the write path
// to the live-sync fanout. The default bus is in-process; multi-instance
// deployments swap in NATS without touching publishers or consumers.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/pulseboardhq/pulseboard/internal/metrics"
	"github.com/pulseboardhq/pulseboard/internal/models"
)

// TopicResourceUpdated carries one StalenessEvent per message.
const TopicResourceUpdated = "resource.updated"

// Bus couples a Watermill publisher and subscriber over the same transport.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter
}

// NewInProcessBus creates a bus over Watermill's gochannel transport. This is
// the single-instance default and what tests use.
func NewInProcessBus(logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = NewLoggerAdapter()
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, logger)
	return &Bus{publisher: pubsub, subscriber: pubsub, logger: logger}
}

// NATSConfig holds connection settings for a NATS-backed bus.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NewNATSBus creates a bus over NATS so multiple dashboard instances share
// one staleness stream.
func NewNATSBus(cfg NATSConfig, logger watermill.LoggerAdapter) (*Bus, error) {
	if logger == nil {
		logger = NewLoggerAdapter()
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 60
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Unmarshaler: &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create nats subscriber: %w", err)
	}

	return &Bus{publisher: pub, subscriber: sub, logger: logger}, nil
}

// PublishStaleness broadcasts one resource-updated event.
func (b *Bus) PublishStaleness(ctx context.Context, ev *models.StalenessEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal staleness event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	if err := b.publisher.Publish(TopicResourceUpdated, msg); err != nil {
		return fmt.Errorf("publish %s: %w", TopicResourceUpdated, err)
	}

	metrics.EventsPublished.WithLabelValues(TopicResourceUpdated).Inc()
	return nil
}

// Subscribe returns the channel of resource-updated messages. The channel
// closes when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.subscriber.Subscribe(ctx, TopicResourceUpdated)
}

// Close shuts down both sides of the bus.
func (b *Bus) Close() error {
	pubErr := b.publisher.Close()
	// gochannel is one object serving both roles; avoid double close.
	if any(b.subscriber) != any(b.publisher) {
		if err := b.subscriber.Close(); err != nil {
			return err
		}
	}
	return pubErr
}
