// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"fmt"
)

// Event is the unified interface for the frames streamed to subscribers of
// a task: status updates and artifact updates.
type Event interface {
	// GetTaskID returns the task this event belongs to.
	GetTaskID() string

	// IsFinal reports whether this event terminates the stream.
	IsFinal() bool

	// Validate ensures the event is in a valid state.
	Validate() error
}

// TaskStatusUpdateEvent is sent whenever a task's status changes. Final is
// true on the last frame of a stream.
type TaskStatusUpdateEvent struct {
	ID     string     `json:"id"`
	Status TaskStatus `json:"status"`
	Final  bool       `json:"final"`
}

var _ Event = (*TaskStatusUpdateEvent)(nil)

// GetTaskID returns the task ID this event is for.
func (e TaskStatusUpdateEvent) GetTaskID() string { return e.ID }

// IsFinal reports whether this event terminates the stream.
func (e TaskStatusUpdateEvent) IsFinal() bool { return e.Final }

// Validate ensures the TaskStatusUpdateEvent is valid.
func (e TaskStatusUpdateEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("status update event task ID cannot be empty")
	}
	return e.Status.Validate()
}

// TaskArtifactUpdateEvent is sent when a task produces an artifact chunk.
// Artifact events never terminate a stream; the terminal status frame does.
type TaskArtifactUpdateEvent struct {
	ID       string   `json:"id"`
	Artifact Artifact `json:"artifact"`
}

var _ Event = (*TaskArtifactUpdateEvent)(nil)

// GetTaskID returns the task ID this event is for.
func (e TaskArtifactUpdateEvent) GetTaskID() string { return e.ID }

// IsFinal reports whether this event terminates the stream.
func (e TaskArtifactUpdateEvent) IsFinal() bool { return false }

// Validate ensures the TaskArtifactUpdateEvent is valid.
func (e TaskArtifactUpdateEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("artifact update event task ID cannot be empty")
	}
	return e.Artifact.Validate()
}

// NewStatusEvent creates a TaskStatusUpdateEvent from a task snapshot. The
// event is final when the snapshot is terminal or input-required, the two
// points at which a drive of the task ends.
func NewStatusEvent(task *Task) TaskStatusUpdateEvent {
	return TaskStatusUpdateEvent{
		ID:     task.ID,
		Status: task.Status,
		Final:  task.Status.State.Terminal() || task.Status.State == TaskStateInputRequired,
	}
}

// NewArtifactEvent creates a TaskArtifactUpdateEvent.
func NewArtifactEvent(taskID string, artifact Artifact) TaskArtifactUpdateEvent {
	return TaskArtifactUpdateEvent{ID: taskID, Artifact: artifact}
}
