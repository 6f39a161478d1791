// Package streaming fans run events out to live subscribers.
package streaming

import (
	"context"

	"github.com/agentc2/wfrt/internal/store"
)

// Filter selects which events a subscriber receives. Zero fields match
// everything.
type Filter struct {
	RunID string
	Types []string
}

// Hub provides pub/sub for run events.
type Hub interface {
	Publish(ctx context.Context, event store.Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan store.Event, func(), error)
}

// Appender is the write side of an event log.
type Appender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// PublishingAppender persists events through Next and then publishes them,
// with their assigned sequence, to Hub.
type PublishingAppender struct {
	Next Appender
	Hub  Hub
}

// AppendEvent implements Appender. Events that fail to persist are not
// published.
func (p PublishingAppender) AppendEvent(ctx context.Context, event *store.Event) error {
	if err := p.Next.AppendEvent(ctx, event); err != nil {
		return err
	}
	// The run context may already be cancelled when its final event is written.
	_ = p.Hub.Publish(context.WithoutCancel(ctx), *event)
	return nil
}
