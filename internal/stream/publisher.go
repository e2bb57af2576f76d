package stream

import (
	"github.com/pulse/pulse/internal/collector"
	"github.com/pulse/pulse/pkg/log"
)

// Publisher broadcasts collector events to stream clients. It implements
// the collector's report sink.
type Publisher struct {
	hub    *Hub
	logger log.Logger
}

// NewPublisher creates a new event publisher.
func NewPublisher(hub *Hub, logger log.Logger) *Publisher {
	return &Publisher{
		hub:    hub,
		logger: logger.With("component", "stream_publisher"),
	}
}

// ReportAccepted publishes an event for an accepted metric report to the
// report's group subscribers.
func (p *Publisher) ReportAccepted(src collector.Source) {
	payload := ReportPayload{
		Group:      src.Group,
		Reporter:   src.Reporter,
		Label:      src.Label,
		Families:   src.Families,
		Series:     src.Series,
		ReceivedAt: src.LastSeen,
	}

	msg, err := NewGroupMessage(MessageTypeReport, src.Group, payload)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to create report event")
		return
	}

	if err := p.hub.BroadcastMessage(src.Group, msg); err != nil {
		p.logger.Error().Err(err).Str("group", src.Group).Msg("Failed to broadcast report event")
		return
	}

	p.logger.Debug().
		Str("group", src.Group).
		Str("reporter", src.Reporter).
		Msg("Published report event")
}
