// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"errors"
	"fmt"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// JSON-RPC method names defined by the A2A protocol.
const (
	MethodTasksSend                = "tasks/send"
	MethodTasksSendSubscribe       = "tasks/sendSubscribe"
	MethodTasksGet                 = "tasks/get"
	MethodTasksCancel              = "tasks/cancel"
	MethodTasksResubscribe         = "tasks/resubscribe"
	MethodTasksPushNotificationSet = "tasks/pushNotification/set"
	MethodTasksPushNotificationGet = "tasks/pushNotification/get"
)

// JSONRPCVersion is the only supported JSON-RPC protocol version.
const JSONRPCVersion = "2.0"

// Request is a JSON-RPC 2.0 request envelope. The ID is kept raw so that
// string and numeric correlation identifiers round-trip unchanged.
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      jsontext.Value `json:"id,omitzero"`
	Method  string         `json:"method"`
	Params  jsontext.Value `json:"params,omitzero"`
}

// Validate ensures the Request is a well-formed JSON-RPC 2.0 request.
func (r Request) Validate() error {
	if r.JSONRPC != JSONRPCVersion {
		return InvalidRequestError{Msg: fmt.Sprintf("unsupported jsonrpc version: %q", r.JSONRPC)}
	}
	if r.Method == "" {
		return InvalidRequestError{Msg: "method cannot be empty"}
	}
	return nil
}

// UnmarshalParams decodes the request parameters into v.
func (r Request) UnmarshalParams(v any) error {
	if len(r.Params) == 0 {
		return InvalidParamsError{Msg: "params are missing"}
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return InvalidParamsError{Msg: err.Error()}
	}
	return nil
}

// ResponseError is the JSON-RPC error object.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitzero"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result and
// Error is set, both correlated to the originating request by ID.
type Response struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      jsontext.Value `json:"id"`
	Result  any            `json:"result,omitzero"`
	Error   *ResponseError `json:"error,omitzero"`
}

// NewResponse creates a success response carrying result, correlated to the
// request id.
func NewResponse(id jsontext.Value, result any) *Response {
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Result: result}
}

// NewErrorResponse creates an error response from err. Protocol errors keep
// their code and short message, with the full error text carried as data;
// anything else is rendered as an internal error.
func NewErrorResponse(id jsontext.Value, err error) *Response {
	respErr := &ResponseError{
		Code:    ErrorCodeInternalError,
		Message: "Internal error",
		Data:    err.Error(),
	}
	var protoErr Error
	if errors.As(err, &protoErr) {
		respErr.Code = protoErr.Code()
		respErr.Message = protoErr.Message()
	}
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Error: respErr}
}

// TaskSendParams are the parameters of tasks/send and tasks/sendSubscribe.
type TaskSendParams struct {
	ID                  string                  `json:"id"`
	SessionID           string                  `json:"sessionId,omitzero"`
	Message             Message                 `json:"message"`
	AcceptedOutputModes []string                `json:"acceptedOutputModes,omitzero"`
	PushNotification    *PushNotificationConfig `json:"pushNotification,omitzero"`

	// HistoryLength caps the history returned in the response. Nil keeps the
	// full history; zero drops it.
	HistoryLength *int `json:"historyLength,omitzero"`
}

// Validate ensures the TaskSendParams are valid.
func (p TaskSendParams) Validate() error {
	if p.ID == "" {
		return InvalidParamsError{Msg: "task id is missing"}
	}
	if err := p.Message.Validate(); err != nil {
		return InvalidParamsError{Msg: err.Error()}
	}
	if p.PushNotification != nil {
		return p.PushNotification.Validate()
	}
	return nil
}

// TaskQueryParams are the parameters of tasks/get.
type TaskQueryParams struct {
	ID            string `json:"id"`
	HistoryLength *int   `json:"historyLength,omitzero"`
}

// TaskIDParams are the parameters of tasks/cancel, tasks/resubscribe and
// tasks/pushNotification/get.
type TaskIDParams struct {
	ID string `json:"id"`
}

// TaskPushNotificationConfig are the parameters of tasks/pushNotification/set
// and the result of tasks/pushNotification/get.
type TaskPushNotificationConfig struct {
	ID                     string                 `json:"id"`
	PushNotificationConfig PushNotificationConfig `json:"pushNotificationConfig"`
}

// Validate ensures the TaskPushNotificationConfig is valid.
func (p TaskPushNotificationConfig) Validate() error {
	if p.ID == "" {
		return InvalidParamsError{Msg: "task id is missing"}
	}
	return p.PushNotificationConfig.Validate()
}
