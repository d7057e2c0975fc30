// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"

	"github.com/moneta-ai/moneta/a2a"
)

// Update is one yield from a Runner. Message replaces the task's status
// message (and is appended to its history); Artifact carries an output chunk.
// Exactly one of Done and RequireInput may be set, and either ends the run.
type Update struct {
	// Message is the agent's status or response message for this update.
	Message *a2a.Message

	// Artifact is an output chunk to merge into the task's artifacts.
	Artifact *a2a.Artifact

	// RequireInput pauses the task until the client sends a follow-up
	// message.
	RequireInput bool

	// Done completes the task.
	Done bool

	// Err aborts the run and fails the task. The error never reaches
	// clients directly; the lifecycle manager wraps it.
	Err error
}

// Runner executes agent work for a task. The lifecycle manager owns all task
// state; the runner only reads the task snapshot and yields updates.
type Runner interface {
	// Run starts processing the task and returns a channel of updates. The
	// channel must be closed after the terminal update (Done, RequireInput
	// or Err). Implementations stop early when ctx is canceled.
	Run(ctx context.Context, task *a2a.Task) (<-chan Update, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, task *a2a.Task) (<-chan Update, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, task *a2a.Task) (<-chan Update, error) {
	return f(ctx, task)
}
