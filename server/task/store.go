// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

// Package task provides task persistence for the A2A server. Stores guard
// the task state machine: every mutation goes through Apply, which validates
// the state transition and rejects updates to terminal tasks, so invalid
// writes never reach the storage backend.
package task

import (
	"context"
	"slices"
	"time"

	"github.com/moneta-ai/moneta/a2a"
)

// Store defines the interface for task persistence operations. The storage
// mechanism is abstracted so in-memory and database implementations can be
// swapped without touching the lifecycle manager.
type Store interface {
	// CreateOrGet returns the task with the given ID, creating it in the
	// submitted state with the message as its first history entry when it
	// does not exist yet. The second return value reports whether the task
	// was created by this call.
	CreateOrGet(ctx context.Context, id, sessionID string, message a2a.Message) (*a2a.Task, bool, error)

	// Get retrieves a snapshot of a task by its ID.
	// Returns TaskNotFoundError if the task doesn't exist.
	Get(ctx context.Context, taskID string) (*a2a.Task, error)

	// Apply atomically mutates a task and returns the updated snapshot.
	//
	// The mutation runs on a private copy; the stored task only changes when
	// the mutation succeeds and the resulting state transition is legal.
	// Returns TaskNotFoundError for unknown tasks, TaskTerminalError when the
	// task already reached a terminal state, and InvalidTransitionError when
	// the mutation sets a state the machine does not allow. On any error the
	// stored task is left untouched.
	Apply(ctx context.Context, taskID string, mutate func(*a2a.Task) error) (*a2a.Task, error)

	// Initialize prepares the storage backend for use.
	Initialize(ctx context.Context) error

	// Close cleanly shuts down the storage backend.
	Close(ctx context.Context) error
}

// applyMutation runs a mutation against a copy of current and enforces the
// task state machine. Both store implementations share it so the transition
// rules live in one place.
func applyMutation(current *a2a.Task, mutate func(*a2a.Task) error) (*a2a.Task, error) {
	if current.Status.State.Terminal() {
		return nil, a2a.TaskTerminalError{TaskID: current.ID, State: current.Status.State}
	}

	next := copyTask(current)
	if err := mutate(next); err != nil {
		return nil, err
	}

	if next.Status.State != current.Status.State &&
		!a2a.ValidTransition(current.Status.State, next.Status.State) {
		return nil, a2a.InvalidTransitionError{
			TaskID: current.ID,
			From:   current.Status.State,
			To:     next.Status.State,
		}
	}

	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// copyTask creates a deep copy of a task so callers can never mutate stored
// state through a returned snapshot. Message parts are treated as immutable
// and shared.
func copyTask(task *a2a.Task) *a2a.Task {
	if task == nil {
		return nil
	}

	cp := *task
	cp.History = slices.Clone(task.History)
	cp.Artifacts = slices.Clone(task.Artifacts)
	for i, artifact := range task.Artifacts {
		cp.Artifacts[i].Parts = slices.Clone(artifact.Parts)
	}
	if task.Status.Message != nil {
		msg := *task.Status.Message
		cp.Status.Message = &msg
	}
	if task.PushNotification != nil {
		pn := *task.PushNotification
		cp.PushNotification = &pn
	}
	return &cp
}
