// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/moneta-ai/moneta/a2a"
)

func statusEvent(taskID string, state a2a.TaskState, final bool) a2a.TaskStatusUpdateEvent {
	return a2a.TaskStatusUpdateEvent{
		ID:     taskID,
		Status: a2a.TaskStatus{State: state, Timestamp: time.Now().UTC()},
		Final:  final,
	}
}

// drain reads events until the subscription ends.
func drain(t *testing.T, sub *Subscription) []a2a.Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []a2a.Event
	for {
		ev, err := sub.Next(ctx)
		if errors.Is(err, ErrSubscriptionClosed) {
			return events
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		events = append(events, ev)
	}
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("task-1")

	published := []a2a.Event{
		statusEvent("task-1", a2a.TaskStateWorking, false),
		a2a.TaskArtifactUpdateEvent{ID: "task-1", Artifact: a2a.Artifact{Parts: []a2a.Part{a2a.NewTextPart("chunk")}}},
		statusEvent("task-1", a2a.TaskStateCompleted, true),
	}
	for _, ev := range published {
		bus.Publish(context.Background(), ev)
	}

	got := drain(t, sub)
	if diff := cmp.Diff(published, got); diff != "" {
		t.Errorf("delivered events mismatch (-want +got):\n%s", diff)
	}
}

func TestBusAllSubscribersSeeSameSequence(t *testing.T) {
	bus := NewBus()

	const subscribers = 4
	subs := make([]*Subscription, subscribers)
	for i := range subs {
		subs[i] = bus.Subscribe("task-1")
	}

	var wg sync.WaitGroup
	sequences := make([][]a2a.Event, subscribers)
	for i, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sequences[i] = drain(t, sub)
		}()
	}

	for i := range 10 {
		bus.Publish(context.Background(), a2a.TaskArtifactUpdateEvent{
			ID:       "task-1",
			Artifact: a2a.Artifact{Index: i, Parts: []a2a.Part{a2a.NewTextPart(fmt.Sprintf("chunk %d", i))}},
		})
	}
	bus.Publish(context.Background(), statusEvent("task-1", a2a.TaskStateCompleted, true))
	wg.Wait()

	for i := 1; i < subscribers; i++ {
		if diff := cmp.Diff(sequences[0], sequences[i]); diff != "" {
			t.Errorf("subscriber %d saw a different sequence (-first +got):\n%s", i, diff)
		}
	}
	if len(sequences[0]) != 11 {
		t.Errorf("got %d events, want 11", len(sequences[0]))
	}
}

func TestBusSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	slow := bus.Subscribe("task-1")

	// Nobody reads from slow while publishing; Publish must not stall.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 1000 {
			bus.Publish(context.Background(), a2a.TaskArtifactUpdateEvent{
				ID:       "task-1",
				Artifact: a2a.Artifact{Index: i, Parts: []a2a.Part{a2a.NewTextPart("x")}},
			})
		}
		bus.Publish(context.Background(), statusEvent("task-1", a2a.TaskStateCompleted, true))
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on an unread subscription")
	}

	if got := len(drain(t, slow)); got != 1001 {
		t.Errorf("slow subscriber drained %d events, want 1001", got)
	}
}

func TestBusFinalEventEndsSubscriptions(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("task-1")

	bus.Publish(context.Background(), statusEvent("task-1", a2a.TaskStateCanceled, true))

	if got := len(drain(t, sub)); got != 1 {
		t.Fatalf("drained %d events, want 1", got)
	}
	if n := bus.SubscriberCount("task-1"); n != 0 {
		t.Errorf("SubscriberCount = %d after final event, want 0", n)
	}

	// Publishing after the final event reaches nobody.
	bus.Publish(context.Background(), statusEvent("task-1", a2a.TaskStateWorking, false))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, ErrSubscriptionClosed) {
		t.Errorf("Next() after final event error = %v, want ErrSubscriptionClosed", err)
	}
}

func TestBusTasksAreIsolated(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("task-1")

	bus.Publish(context.Background(), statusEvent("task-2", a2a.TaskStateWorking, false))
	bus.Publish(context.Background(), statusEvent("task-1", a2a.TaskStateCompleted, true))

	got := drain(t, sub)
	if len(got) != 1 {
		t.Fatalf("drained %d events, want 1", len(got))
	}
	if got[0].GetTaskID() != "task-1" {
		t.Errorf("received event for task %q, want task-1", got[0].GetTaskID())
	}
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("task-1")
	sub.Close()

	if n := bus.SubscriberCount("task-1"); n != 0 {
		t.Errorf("SubscriberCount = %d after Close, want 0", n)
	}

	ctx := context.Background()
	if _, err := sub.Next(ctx); !errors.Is(err, ErrSubscriptionClosed) {
		t.Errorf("Next() after Close error = %v, want ErrSubscriptionClosed", err)
	}

	// Closing twice is fine.
	sub.Close()
}
