// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"fmt"
	"slices"
	"time"
)

// NewTask creates a Task in the submitted state with the request message as
// the first history entry.
func NewTask(id, sessionID string, message Message) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        id,
		SessionID: sessionID,
		Status: TaskStatus{
			State:     TaskStateSubmitted,
			Timestamp: now,
		},
		History:   []Message{message},
		UpdatedAt: now,
	}
}

// AppendArtifact merges an artifact chunk into the task's artifact list.
//
// Chunks addressing an index not yet present are appended. A chunk with
// Append set extends the parts of the artifact at its index; without it the
// chunk replaces that artifact. An append chunk for a missing index is
// rejected rather than silently dropped.
func AppendArtifact(task *Task, chunk Artifact) error {
	if err := chunk.Validate(); err != nil {
		return fmt.Errorf("invalid artifact chunk: %w", err)
	}

	existing := slices.IndexFunc(task.Artifacts, func(a Artifact) bool {
		return a.Index == chunk.Index
	})

	switch {
	case existing < 0 && chunk.Append:
		return fmt.Errorf("append chunk for unknown artifact index %d", chunk.Index)
	case existing < 0:
		task.Artifacts = append(task.Artifacts, chunk)
	case chunk.Append:
		task.Artifacts[existing].Parts = append(task.Artifacts[existing].Parts, chunk.Parts...)
		task.Artifacts[existing].LastChunk = chunk.LastChunk
	default:
		task.Artifacts[existing] = chunk
	}
	return nil
}

// AreModalitiesCompatible reports whether the client accepts at least one of
// the output modes the agent supports. An empty accepted list means the
// client takes anything.
func AreModalitiesCompatible(accepted, supported []string) bool {
	if len(accepted) == 0 {
		return true
	}
	for _, mode := range accepted {
		if slices.Contains(supported, mode) {
			return true
		}
	}
	return false
}
