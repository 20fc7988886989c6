// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package source

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
)

// SubscriberConfig configures the JetStream subscriber.
type SubscriberConfig struct {
	URL string

	// DurableName and QueueGroup are empty for an ephemeral consumer, which
	// honours the start point on every boot.
	DurableName string
	QueueGroup  string

	// SubscribersCount above 1 gives up arrival order.
	SubscribersCount int

	AckWaitTimeout time.Duration
	CloseTimeout   time.Duration
	MaxReconnects  int
	ReconnectWait  time.Duration
}

func (c *SubscriberConfig) applyDefaults() {
	if c.SubscribersCount <= 0 {
		c.SubscribersCount = 1
	}
	if c.AckWaitTimeout <= 0 {
		c.AckWaitTimeout = 30 * time.Second
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 30 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
}

// deliverOption maps start onto the consumer: a block start replays the
// whole stream and Source filters, a time start seeks the stream.
func deliverOption(start Start) natsgo.SubOpt {
	if start.IsBlock() {
		return natsgo.DeliverAll()
	}
	return natsgo.StartTime(start.Time)
}

// NewNATSSubscriber creates a JetStream subscriber positioned at start.
func NewNATSSubscriber(cfg SubscriberConfig, start Start, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	natsOpts := []natsgo.Option{
		natsgo.Name("hivewatcher"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("Podping subscriber disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("Podping subscriber reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.AckWait(cfg.AckWaitTimeout),
		natsgo.AckExplicit(),
		deliverOption(start),
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision:    true,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}
	return sub, nil
}
