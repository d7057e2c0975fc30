// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"log/slog"
	"time"

	"github.com/moneta-ai/moneta/server/event"
)

// ManagerOption represents an option for configuring the [Manager].
type ManagerOption func(*Manager)

// WithLogger sets the [*slog.Logger] for the [Manager].
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithNotifier sets the push notification dispatcher for the [Manager].
// Without one, push notification operations are rejected as unsupported.
func WithNotifier(notifier *Notifier) ManagerOption {
	return func(m *Manager) {
		m.notifier = notifier
	}
}

// WithEventBus sets the event bus for the [Manager].
func WithEventBus(bus *event.Bus) ManagerOption {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithTaskTimeout bounds each drive of a task. A run that does not reach a
// terminal yield within the timeout fails the task. Zero disables the bound.
func WithTaskTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.taskTimeout = timeout
	}
}

// WithOutputModes sets the output modalities the agent produces, matched
// against the acceptedOutputModes of incoming requests.
func WithOutputModes(modes ...string) ManagerOption {
	return func(m *Manager) {
		m.outputModes = modes
	}
}
