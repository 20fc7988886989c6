// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package source

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/hivewatcher/internal/logging"
	"github.com/tomtom215/hivewatcher/internal/metrics"
	"github.com/tomtom215/hivewatcher/internal/pipeline"
)

// DefaultTopic is the subject podpings are relayed on.
const DefaultTopic = "podping"

// Config configures a Source.
type Config struct {
	Topic string

	// Start is the resolved position to admit from. The same value must be
	// given to the subscriber so a resubscribe replays what it admits.
	Start Start
}

// Source implements pipeline.Producer.
type Source struct {
	sub message.Subscriber
	cfg Config
}

var _ pipeline.Producer = (*Source)(nil)

// New creates a source reading cfg.Topic from sub.
func New(sub message.Subscriber, cfg Config) *Source {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	return &Source{sub: sub, cfg: cfg}
}

// Start is the position the source admits from. It does not move on
// resubscribe.
func (s *Source) Start() Start {
	return s.cfg.Start
}

// Events subscribes and returns the decoded notifications. The channel is
// closed when ctx ends or the subscription does.
func (s *Source) Events(ctx context.Context) (<-chan pipeline.RawEvent, error) {
	start := s.cfg.Start
	msgs, err := s.sub.Subscribe(ctx, s.cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", s.cfg.Topic, err)
	}
	logging.Info().Str("topic", s.cfg.Topic).Stringer("start", start).Msg("Consuming podping stream")

	out := make(chan pipeline.RawEvent)
	go s.forward(ctx, start, msgs, out)
	return out, nil
}

func (s *Source) forward(ctx context.Context, start Start, msgs <-chan *message.Message, out chan<- pipeline.RawEvent) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if !s.dispatch(ctx, start, msg, out) {
				return
			}
		}
	}
}

// dispatch returns false when ctx ended before the event was taken.
func (s *Source) dispatch(ctx context.Context, start Start, msg *message.Message, out chan<- pipeline.RawEvent) bool {
	raw, err := Decode(msg.Payload)
	if err != nil {
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping invalid podping message")
		metrics.RecordSourceMessage("invalid")
		msg.Ack()
		return true
	}
	if !start.Admits(raw.BlockNum, raw.Time) {
		metrics.RecordSourceMessage("skipped")
		msg.Ack()
		return true
	}

	select {
	case out <- raw:
		metrics.RecordSourceMessage("accepted")
		msg.Ack()
		return true
	case <-ctx.Done():
		msg.Nack()
		return false
	}
}
