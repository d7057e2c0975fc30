// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"fmt"
)

// JSON-RPC error codes used by the A2A protocol. The -32000 range carries
// A2A-specific errors; the -32700..-32600 range is standard JSON-RPC.
const (
	ErrorCodeTaskNotFound            = -32001
	ErrorCodeTaskNotCancelable       = -32002
	ErrorCodePushNotifNotSupported   = -32003
	ErrorCodeUnsupportedOperation    = -32004
	ErrorCodeContentTypeNotSupported = -32005
	ErrorCodeInvalidTransition       = -32010
	ErrorCodeTaskBusy                = -32011
	ErrorCodeTaskTerminal            = -32012
	ErrorCodeJSONParse               = -32700
	ErrorCodeInvalidRequest          = -32600
	ErrorCodeMethodNotFound          = -32601
	ErrorCodeInvalidParams           = -32602
	ErrorCodeInternalError           = -32603
)

// Error is implemented by all protocol errors so the dispatcher can render
// them as JSON-RPC error objects.
type Error interface {
	error
	Code() int
	Message() string
}

// TaskNotFoundError indicates the requested task ID is unknown.
type TaskNotFoundError struct {
	TaskID string
}

func (e TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// Code returns the JSON-RPC error code.
func (e TaskNotFoundError) Code() int { return ErrorCodeTaskNotFound }

// Message returns the short JSON-RPC error message.
func (e TaskNotFoundError) Message() string { return "Task not found" }

// TaskNotCancelableError indicates a cancel was attempted on a task that is
// already in a terminal state.
type TaskNotCancelableError struct {
	TaskID string
	State  TaskState
}

func (e TaskNotCancelableError) Error() string {
	return fmt.Sprintf("task %s cannot be canceled: already in state %s", e.TaskID, e.State)
}

// Code returns the JSON-RPC error code.
func (e TaskNotCancelableError) Code() int { return ErrorCodeTaskNotCancelable }

// Message returns the short JSON-RPC error message.
func (e TaskNotCancelableError) Message() string { return "Task cannot be canceled" }

// InvalidTransitionError indicates an operation would move a task along an
// edge the state machine does not define. The task is left unchanged.
type InvalidTransitionError struct {
	TaskID string
	From   TaskState
	To     TaskState
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.TaskID, e.From, e.To)
}

// Code returns the JSON-RPC error code.
func (e InvalidTransitionError) Code() int { return ErrorCodeInvalidTransition }

// Message returns the short JSON-RPC error message.
func (e InvalidTransitionError) Message() string { return "Invalid task state transition" }

// TaskBusyError indicates a second drive attempt on a task whose runner
// invocation is still in flight.
type TaskBusyError struct {
	TaskID string
}

func (e TaskBusyError) Error() string {
	return fmt.Sprintf("task %s is already being processed", e.TaskID)
}

// Code returns the JSON-RPC error code.
func (e TaskBusyError) Code() int { return ErrorCodeTaskBusy }

// Message returns the short JSON-RPC error message.
func (e TaskBusyError) Message() string { return "Task is already being processed" }

// TaskTerminalError indicates a mutation was attempted on a task that has
// already reached a terminal state.
type TaskTerminalError struct {
	TaskID string
	State  TaskState
}

func (e TaskTerminalError) Error() string {
	return fmt.Sprintf("task %s is terminal (%s) and accepts no further updates", e.TaskID, e.State)
}

// Code returns the JSON-RPC error code.
func (e TaskTerminalError) Code() int { return ErrorCodeTaskTerminal }

// Message returns the short JSON-RPC error message.
func (e TaskTerminalError) Message() string { return "Task is in a terminal state" }

// TimeoutError indicates the task's runner did not reach a terminal yield
// within the configured execution bound.
type TimeoutError struct {
	TaskID string
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("task %s exceeded its execution timeout", e.TaskID)
}

// Code returns the JSON-RPC error code.
func (e TimeoutError) Code() int { return ErrorCodeInternalError }

// Message returns the short JSON-RPC error message.
func (e TimeoutError) Message() string { return "Task execution timed out" }

// RunnerError wraps an unrecoverable error raised by the agent runner. The
// lifecycle manager converts it into a failed transition; the runner's own
// error types never cross that boundary.
type RunnerError struct {
	TaskID string
	Err    error
}

func (e RunnerError) Error() string {
	return fmt.Sprintf("agent runner failed for task %s: %v", e.TaskID, e.Err)
}

// Unwrap returns the underlying runner error.
func (e RunnerError) Unwrap() error { return e.Err }

// Code returns the JSON-RPC error code.
func (e RunnerError) Code() int { return ErrorCodeInternalError }

// Message returns the short JSON-RPC error message.
func (e RunnerError) Message() string { return "Agent runner failed" }

// UnsupportedOperationError indicates the requested operation is not
// enabled on this agent.
type UnsupportedOperationError struct {
	Operation string
}

func (e UnsupportedOperationError) Error() string {
	return fmt.Sprintf("operation not supported: %s", e.Operation)
}

// Code returns the JSON-RPC error code.
func (e UnsupportedOperationError) Code() int { return ErrorCodeUnsupportedOperation }

// Message returns the short JSON-RPC error message.
func (e UnsupportedOperationError) Message() string { return "This operation is not supported" }

// PushNotificationNotSupportedError indicates the agent has push
// notifications disabled.
type PushNotificationNotSupportedError struct{}

func (e PushNotificationNotSupportedError) Error() string {
	return "push notifications are not supported"
}

// Code returns the JSON-RPC error code.
func (e PushNotificationNotSupportedError) Code() int { return ErrorCodePushNotifNotSupported }

// Message returns the short JSON-RPC error message.
func (e PushNotificationNotSupportedError) Message() string {
	return "Push Notification is not supported"
}

// ContentTypeNotSupportedError indicates no overlap between the modalities
// the client accepts and those the agent produces.
type ContentTypeNotSupportedError struct {
	Accepted  []string
	Supported []string
}

func (e ContentTypeNotSupportedError) Error() string {
	return fmt.Sprintf("incompatible content types: accepted %v, supported %v", e.Accepted, e.Supported)
}

// Code returns the JSON-RPC error code.
func (e ContentTypeNotSupportedError) Code() int { return ErrorCodeContentTypeNotSupported }

// Message returns the short JSON-RPC error message.
func (e ContentTypeNotSupportedError) Message() string { return "Incompatible content types" }

// JSONParseError represents a JSON parsing error.
type JSONParseError struct {
	Msg string
}

func (e JSONParseError) Error() string {
	return fmt.Sprintf("JSON parse error: %s", e.Msg)
}

// Code returns the JSON-RPC error code.
func (e JSONParseError) Code() int { return ErrorCodeJSONParse }

// Message returns the short JSON-RPC error message.
func (e JSONParseError) Message() string { return "Parse error" }

// InvalidRequestError represents a malformed JSON-RPC request.
type InvalidRequestError struct {
	Msg string
}

func (e InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Msg)
}

// Code returns the JSON-RPC error code.
func (e InvalidRequestError) Code() int { return ErrorCodeInvalidRequest }

// Message returns the short JSON-RPC error message.
func (e InvalidRequestError) Message() string { return "Invalid Request" }

// MethodNotFoundError represents an unknown JSON-RPC method.
type MethodNotFoundError struct {
	Method string
}

func (e MethodNotFoundError) Error() string {
	return fmt.Sprintf("method not found: %s", e.Method)
}

// Code returns the JSON-RPC error code.
func (e MethodNotFoundError) Code() int { return ErrorCodeMethodNotFound }

// Message returns the short JSON-RPC error message.
func (e MethodNotFoundError) Message() string { return "Method not found" }

// InvalidParamsError represents invalid request parameters.
type InvalidParamsError struct {
	Msg string
}

func (e InvalidParamsError) Error() string {
	return fmt.Sprintf("invalid params: %s", e.Msg)
}

// Code returns the JSON-RPC error code.
func (e InvalidParamsError) Code() int { return ErrorCodeInvalidParams }

// Message returns the short JSON-RPC error message.
func (e InvalidParamsError) Message() string { return "Invalid params" }

// InternalError represents an internal server error.
type InternalError struct {
	Msg string
}

func (e InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Msg)
}

// Code returns the JSON-RPC error code.
func (e InternalError) Code() int { return ErrorCodeInternalError }

// Message returns the short JSON-RPC error message.
func (e InternalError) Message() string { return "Internal error" }
