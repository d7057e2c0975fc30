// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"

	"github.com/moneta-ai/moneta/a2a"
	"github.com/moneta-ai/moneta/server/event"
)

// Stream is the event sequence handed to one streaming client. It opens
// with a status snapshot of the task and continues with live events from
// the bus until a final event arrives.
type Stream struct {
	first *a2a.TaskStatusUpdateEvent
	sub   *event.Subscription
}

// Next returns the next event of the stream. After the final event it
// returns event.ErrSubscriptionClosed.
func (s *Stream) Next(ctx context.Context) (a2a.Event, error) {
	if s.first != nil {
		ev := *s.first
		s.first = nil
		return ev, nil
	}
	if s.sub == nil {
		return nil, event.ErrSubscriptionClosed
	}
	return s.sub.Next(ctx)
}

// Close releases the stream's subscription. The task keeps running; only
// this client stops receiving events.
func (s *Stream) Close() {
	if s.sub != nil {
		s.sub.Close()
	}
}
