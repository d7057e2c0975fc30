// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

// Package event provides the per-task publish/subscribe bus that fans task
// state changes out to stream subscribers. Every subscription owns a private
// FIFO delivery queue, so a slow consumer never blocks publishing or starves
// other subscribers of the same task.
package event

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/moneta-ai/moneta/a2a"
)

// ErrSubscriptionClosed is returned by Next after the final event has been
// delivered, or after the subscription was closed.
var ErrSubscriptionClosed = errors.New("event: subscription closed")

// Subscription is a handle to one subscriber's view of a task's event
// sequence. Events arrive in publish order and the sequence ends after an
// event with IsFinal() true.
type Subscription struct {
	taskID string
	bus    *Bus

	mu     sync.Mutex
	queue  []a2a.Event
	closed bool
	notify chan struct{}
}

// TaskID returns the task this subscription is attached to.
func (s *Subscription) TaskID() string { return s.taskID }

// Next blocks until the next event is available, the sequence ends, or ctx
// is done.
func (s *Subscription) Next(ctx context.Context) (a2a.Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		if s.closed {
			s.mu.Unlock()
			return nil, ErrSubscriptionClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.notify:
		}
	}
}

// Close detaches the subscription from the bus and discards undelivered
// events. Closing an ended subscription is a no-op.
func (s *Subscription) Close() {
	s.bus.remove(s.taskID, s)

	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	s.wake()
}

// push appends an event to the delivery queue. The final event also seals
// the queue, so Next drains what is buffered and then reports the end of
// the sequence.
func (s *Subscription) push(ev a2a.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	if ev.IsFinal() {
		s.closed = true
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Bus distributes task events to the task's active subscribers, preserving
// publish order per task. The bus holds no task state itself; subscribing
// to a task only yields events published after the subscription was taken,
// and the lifecycle manager is responsible for prepending a current status
// snapshot for late subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	logger *slog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger for the Bus.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates a new Bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:   make(map[string][]*Subscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber for a task's future events.
func (b *Bus) Subscribe(taskID string) *Subscription {
	sub := &Subscription{
		taskID: taskID,
		bus:    b,
		notify: make(chan struct{}, 1),
	}

	b.mu.Lock()
	b.subs[taskID] = append(b.subs[taskID], sub)
	b.mu.Unlock()

	return sub
}

// Publish delivers an event to every current subscriber of the task, in
// publish order. A final event ends all of the task's subscriptions once
// their queues drain.
func (b *Bus) Publish(ctx context.Context, ev a2a.Event) {
	taskID := ev.GetTaskID()

	b.mu.Lock()
	subs := slices.Clone(b.subs[taskID])
	if ev.IsFinal() {
		delete(b.subs, taskID)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.push(ev)
	}

	b.logger.DebugContext(ctx, "event published",
		"task_id", taskID, "final", ev.IsFinal(), "subscribers", len(subs))
}

// SubscriberCount returns the number of active subscriptions for a task.
func (b *Bus) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[taskID])
}

func (b *Bus) remove(taskID string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[taskID]
	for i, s := range subs {
		if s == sub {
			b.subs[taskID] = slices.Delete(subs, i, i+1)
			break
		}
	}
	if len(b.subs[taskID]) == 0 {
		delete(b.subs, taskID)
	}
}
