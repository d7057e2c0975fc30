// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

// Package a2a provides Go types for the Agent-to-Agent (A2A) protocol:
// tasks, messages, artifacts, streaming events, and the JSON-RPC framing
// used to exchange them. The package is transport-agnostic; the server
// package wires these types to HTTP and SSE.
package a2a

import (
	"time"
)

// Version is the A2A protocol version implemented by this module.
const Version = "0.1.0"

// A2A protocol path constants.
const (
	// AgentCardWellKnownPath is the standard path for retrieving an agent's public AgentCard.
	AgentCardWellKnownPath = "/.well-known/agent.json"

	// JWKSWellKnownPath is the path serving the public keys used to verify
	// push notification signatures.
	JWKSWellKnownPath = "/.well-known/jwks.json"

	// DefaultRPCURL is the default URL path for the A2A JSON-RPC endpoint.
	DefaultRPCURL = "/"
)

// TaskState represents the state of a Task.
type TaskState string

const (
	// TaskStateSubmitted indicates the task has been received but work has not started.
	TaskStateSubmitted TaskState = "submitted"

	// TaskStateWorking indicates the agent is actively working on the task.
	TaskStateWorking TaskState = "working"

	// TaskStateInputRequired indicates the agent needs additional input from the client.
	TaskStateInputRequired TaskState = "input-required"

	// TaskStateCompleted indicates the task finished successfully.
	TaskStateCompleted TaskState = "completed"

	// TaskStateFailed indicates the task finished with an unrecoverable error.
	TaskStateFailed TaskState = "failed"

	// TaskStateCanceled indicates the task was canceled before completion.
	TaskStateCanceled TaskState = "canceled"
)

// Terminal reports whether the state accepts no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	}
	return false
}

// ValidTransition reports whether a task may move from one state to another.
//
// The transition table is closed: submitted tasks begin working (or get
// canceled), working tasks may keep working with a refreshed status message,
// pause for input, or reach a terminal state, and input-required tasks resume
// working when the client supplies a follow-up message. Terminal states
// accept nothing.
func ValidTransition(from, to TaskState) bool {
	if from.Terminal() {
		return false
	}
	if to == TaskStateCanceled {
		return true
	}
	switch from {
	case TaskStateSubmitted:
		return to == TaskStateWorking
	case TaskStateWorking:
		return to == TaskStateWorking ||
			to == TaskStateInputRequired ||
			to == TaskStateCompleted ||
			to == TaskStateFailed
	case TaskStateInputRequired:
		return to == TaskStateWorking || to == TaskStateFailed
	}
	return false
}

// TaskStatus carries a task's state together with the most recent
// human-readable status message. The message is replaced, never appended,
// on each update.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitzero"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Validate ensures the TaskStatus is valid.
func (s TaskStatus) Validate() error {
	switch s.State {
	case TaskStateSubmitted, TaskStateWorking, TaskStateInputRequired,
		TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
	default:
		return InvalidParamsError{Msg: "unknown task state: " + string(s.State)}
	}
	if s.Message != nil {
		return s.Message.Validate()
	}
	return nil
}

// PushNotificationConfig configures out-of-band delivery of task state
// changes to a client-registered webhook.
type PushNotificationConfig struct {
	// URL for sending the push notifications.
	URL string `json:"url"`

	// Token unique to this task/session, echoed back on each delivery.
	Token string `json:"token,omitzero"`
}

// Validate ensures the PushNotificationConfig is valid.
func (c PushNotificationConfig) Validate() error {
	if c.URL == "" {
		return InvalidParamsError{Msg: "push notification URL is missing"}
	}
	return nil
}

// Task represents a unit of work in the A2A protocol.
//
// History and Artifacts are append-only; the Status message is replaced on
// each update. Once the task reaches a terminal state no further mutation
// is accepted.
type Task struct {
	ID               string                  `json:"id"`
	SessionID        string                  `json:"sessionId,omitzero"`
	Status           TaskStatus              `json:"status"`
	History          []Message               `json:"history,omitzero"`
	Artifacts        []Artifact              `json:"artifacts,omitzero"`
	PushNotification *PushNotificationConfig `json:"pushNotification,omitzero"`
	UpdatedAt        time.Time               `json:"updatedAt,omitzero"`
}

// TrimHistory returns a shallow copy of the task with history truncated to
// the most recent historyLength messages. A negative length keeps the full
// history; zero drops it entirely.
func (t *Task) TrimHistory(historyLength int) *Task {
	trimmed := *t
	if historyLength < 0 || len(t.History) <= historyLength {
		return &trimmed
	}
	trimmed.History = t.History[len(t.History)-historyLength:]
	return &trimmed
}

// AgentCapabilities declares the optional protocol features an agent supports.
type AgentCapabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory,omitzero"`
}

// AgentSkill describes a unit of capability an agent can perform.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitzero"`
	Tags        []string `json:"tags,omitzero"`
	Examples    []string `json:"examples,omitzero"`
}

// AgentCard represents metadata about an agent, including its capabilities
// and the modalities it accepts and produces.
type AgentCard struct {
	Name               string            `json:"name"`
	Description        string            `json:"description,omitzero"`
	URL                string            `json:"url"`
	Version            string            `json:"version"`
	Capabilities       AgentCapabilities `json:"capabilities"`
	DefaultInputModes  []string          `json:"defaultInputModes,omitzero"`
	DefaultOutputModes []string          `json:"defaultOutputModes,omitzero"`
	Skills             []AgentSkill      `json:"skills,omitzero"`
}
