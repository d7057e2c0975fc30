// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/moneta-ai/moneta/a2a"
)

// rpcResponse mirrors a2a.Response with the result kept raw so tests can
// decode it into the expected type.
type rpcResponse struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      jsontext.Value     `json:"id"`
	Result  jsontext.Value     `json:"result"`
	Error   *a2a.ResponseError `json:"error"`
}

func testCard() a2a.AgentCard {
	return a2a.AgentCard{
		Name:    "Currency Agent",
		URL:     "http://localhost/",
		Version: "1.0.0",
		Capabilities: a2a.AgentCapabilities{
			Streaming:         true,
			PushNotifications: true,
		},
	}
}

func newTestServer(t *testing.T, runner Runner, card a2a.AgentCard, opts ...ManagerOption) *httptest.Server {
	t.Helper()

	srv, err := NewServer(Config{
		AgentCard: card,
		Manager:   newTestManager(t, runner, opts...),
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, url, method string, params any) rpcResponse {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"jsonrpc": a2a.JSONRPCVersion,
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return post(t, url, body)
}

func post(t *testing.T, url string, body []byte) rpcResponse {
	t.Helper()

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.UnmarshalRead(resp.Body, &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func result[T any](t *testing.T, resp rpcResponse) T {
	t.Helper()

	if resp.Error != nil {
		t.Fatalf("rpc error %d: %s (%s)", resp.Error.Code, resp.Error.Message, resp.Error.Data)
	}
	var out T
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return out
}

func TestServerAgentCard(t *testing.T) {
	ts := newTestServer(t, scripted(completion("done")...), testCard())

	resp, err := http.Get(ts.URL + a2a.AgentCardWellKnownPath)
	if err != nil {
		t.Fatalf("GET agent card: %v", err)
	}
	defer resp.Body.Close()

	var card a2a.AgentCard
	if err := json.UnmarshalRead(resp.Body, &card); err != nil {
		t.Fatalf("decode agent card: %v", err)
	}
	if card.Name != "Currency Agent" {
		t.Errorf("card name = %q, want %q", card.Name, "Currency Agent")
	}
	if !card.Capabilities.Streaming {
		t.Error("card should advertise streaming")
	}
}

func TestServerSendAndGet(t *testing.T) {
	answer := "The exchange rate from USD to JPY is 147.72."
	ts := newTestServer(t, scripted(completion(answer)...), testCard())

	sent := result[a2a.Task](t, call(t, ts.URL, a2a.MethodTasksSend, a2a.TaskSendParams{
		ID:      "task-1",
		Message: a2a.NewUserMessage("How much is 100 USD in JPY?"),
	}))
	if sent.Status.State != a2a.TaskStateCompleted {
		t.Errorf("state = %s, want %s", sent.Status.State, a2a.TaskStateCompleted)
	}

	got := result[a2a.Task](t, call(t, ts.URL, a2a.MethodTasksGet, a2a.TaskQueryParams{ID: "task-1"}))
	if got.Status.State != a2a.TaskStateCompleted {
		t.Errorf("state = %s, want %s", got.Status.State, a2a.TaskStateCompleted)
	}
	if len(got.Artifacts) != 1 || got.Artifacts[0].Text() != answer {
		t.Errorf("artifacts = %+v, want one with text %q", got.Artifacts, answer)
	}
}

func TestServerErrorCodes(t *testing.T) {
	ts := newTestServer(t, scripted(completion("done")...), testCard())

	tests := []struct {
		name     string
		method   string
		params   any
		wantCode int
	}{
		{
			name:     "unknown method",
			method:   "tasks/unknown",
			params:   a2a.TaskIDParams{ID: "task-1"},
			wantCode: a2a.ErrorCodeMethodNotFound,
		},
		{
			name:     "task not found",
			method:   a2a.MethodTasksGet,
			params:   a2a.TaskQueryParams{ID: "missing"},
			wantCode: a2a.ErrorCodeTaskNotFound,
		},
		{
			name:     "missing task id",
			method:   a2a.MethodTasksSend,
			params:   a2a.TaskSendParams{Message: a2a.NewUserMessage("hi")},
			wantCode: a2a.ErrorCodeInvalidParams,
		},
		{
			name:     "cancel unknown task",
			method:   a2a.MethodTasksCancel,
			params:   a2a.TaskIDParams{ID: "missing"},
			wantCode: a2a.ErrorCodeTaskNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, ts.URL, tt.method, tt.params)
			if resp.Error == nil {
				t.Fatalf("rpc succeeded, want error code %d", tt.wantCode)
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("error code = %d, want %d", resp.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestServerParseError(t *testing.T) {
	ts := newTestServer(t, scripted(completion("done")...), testCard())

	resp := post(t, ts.URL, []byte("{not json"))
	if resp.Error == nil || resp.Error.Code != a2a.ErrorCodeJSONParse {
		t.Fatalf("error = %+v, want parse error code %d", resp.Error, a2a.ErrorCodeJSONParse)
	}
}

func TestServerInvalidRequest(t *testing.T) {
	ts := newTestServer(t, scripted(completion("done")...), testCard())

	body, _ := json.Marshal(map[string]any{"jsonrpc": "1.0", "id": 1, "method": "tasks/get"})
	resp := post(t, ts.URL, body)
	if resp.Error == nil || resp.Error.Code != a2a.ErrorCodeInvalidRequest {
		t.Fatalf("error = %+v, want invalid request code %d", resp.Error, a2a.ErrorCodeInvalidRequest)
	}
}

func TestServerRequestIDRoundTrip(t *testing.T) {
	ts := newTestServer(t, scripted(completion("done")...), testCard())

	body, _ := json.Marshal(map[string]any{
		"jsonrpc": a2a.JSONRPCVersion,
		"id":      "request-42",
		"method":  a2a.MethodTasksGet,
		"params":  a2a.TaskQueryParams{ID: "missing"},
	})
	resp := post(t, ts.URL, body)
	if string(resp.ID) != `"request-42"` {
		t.Errorf("response id = %s, want %q", resp.ID, `"request-42"`)
	}
}

func TestServerSendSubscribe(t *testing.T) {
	answer := "The exchange rate from USD to EUR is 0.85."
	ts := newTestServer(t, scripted(completion(answer)...), testCard())

	frames := subscribe(t, ts.URL, a2a.MethodTasksSendSubscribe, a2a.TaskSendParams{
		ID:      "task-1",
		Message: a2a.NewUserMessage("USD to EUR?"),
	})
	if len(frames) < 2 {
		t.Fatalf("frames = %d, want the snapshot and at least one update", len(frames))
	}

	var sawArtifact bool
	for _, frame := range frames {
		var ev struct {
			Status   *a2a.TaskStatus `json:"status"`
			Artifact *a2a.Artifact   `json:"artifact"`
		}
		if err := json.Unmarshal(frame.Result, &ev); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if ev.Artifact != nil && ev.Artifact.Text() == answer {
			sawArtifact = true
		}
	}
	if !sawArtifact {
		t.Error("stream never carried the answer artifact")
	}

	var last struct {
		Status a2a.TaskStatus `json:"status"`
		Final  bool           `json:"final"`
	}
	if err := json.Unmarshal(frames[len(frames)-1].Result, &last); err != nil {
		t.Fatalf("decode final frame: %v", err)
	}
	if !last.Final || last.Status.State != a2a.TaskStateCompleted {
		t.Errorf("final frame = %+v, want final completed status", last)
	}
}

func TestServerResubscribeTerminalTask(t *testing.T) {
	ts := newTestServer(t, scripted(completion("done")...), testCard())

	if resp := call(t, ts.URL, a2a.MethodTasksSend, a2a.TaskSendParams{
		ID:      "task-1",
		Message: a2a.NewUserMessage("go"),
	}); resp.Error != nil {
		t.Fatalf("tasks/send error = %+v", resp.Error)
	}

	frames := subscribe(t, ts.URL, a2a.MethodTasksResubscribe, a2a.TaskQueryParams{ID: "task-1"})
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want the final snapshot alone", len(frames))
	}
}

func TestServerCapabilityGating(t *testing.T) {
	card := testCard()
	card.Capabilities = a2a.AgentCapabilities{}
	ts := newTestServer(t, scripted(completion("done")...), card)

	resp := call(t, ts.URL, a2a.MethodTasksSendSubscribe, a2a.TaskSendParams{
		ID:      "task-1",
		Message: a2a.NewUserMessage("go"),
	})
	if resp.Error == nil || resp.Error.Code != a2a.ErrorCodeUnsupportedOperation {
		t.Errorf("sendSubscribe error = %+v, want code %d", resp.Error, a2a.ErrorCodeUnsupportedOperation)
	}

	resp = call(t, ts.URL, a2a.MethodTasksPushNotificationSet, a2a.TaskPushNotificationConfig{
		ID:                     "task-1",
		PushNotificationConfig: a2a.PushNotificationConfig{URL: "http://localhost/hook"},
	})
	if resp.Error == nil || resp.Error.Code != a2a.ErrorCodePushNotifNotSupported {
		t.Errorf("pushNotification/set error = %+v, want code %d", resp.Error, a2a.ErrorCodePushNotifNotSupported)
	}
}

func TestServerPushNotificationSetGet(t *testing.T) {
	webhook := newWebhookRecorder(t)
	notifier := NewNotifier(NotifierConfig{Retry: fastRetry()})
	ts := newTestServer(t, scripted(completion("done")...), testCard(), WithNotifier(notifier))

	if resp := call(t, ts.URL, a2a.MethodTasksSend, a2a.TaskSendParams{
		ID:               "task-1",
		Message:          a2a.NewUserMessage("go"),
		PushNotification: &a2a.PushNotificationConfig{URL: webhook.server.URL, Token: "tok"},
	}); resp.Error != nil {
		t.Fatalf("tasks/send error = %+v", resp.Error)
	}
	notifier.Flush()

	got := result[a2a.TaskPushNotificationConfig](t,
		call(t, ts.URL, a2a.MethodTasksPushNotificationGet, a2a.TaskIDParams{ID: "task-1"}))
	if got.PushNotificationConfig.URL != webhook.server.URL {
		t.Errorf("stored URL = %q, want %q", got.PushNotificationConfig.URL, webhook.server.URL)
	}

	// Every state change of the run reached the webhook as a task snapshot,
	// ending with the terminal one.
	deliveries := webhook.received()
	if len(deliveries) == 0 {
		t.Fatal("webhook received no notifications")
	}
	if last := deliveries[len(deliveries)-1]; last.Status.State != a2a.TaskStateCompleted {
		t.Errorf("last notification state = %s, want %s", last.Status.State, a2a.TaskStateCompleted)
	}
}

func TestServerServesJWKS(t *testing.T) {
	auth, err := NewPushNotificationSenderAuth()
	if err != nil {
		t.Fatalf("NewPushNotificationSenderAuth() error = %v", err)
	}
	srv, err := NewServer(Config{
		AgentCard: testCard(),
		Manager:   newTestManager(t, scripted(completion("done")...)),
		Auth:      auth,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	set, err := FetchJWKS(context.Background(), ts.URL+a2a.JWKSWellKnownPath)
	if err != nil {
		t.Fatalf("FetchJWKS() error = %v", err)
	}
	if set.Len() != 1 {
		t.Errorf("key set length = %d, want 1", set.Len())
	}
}

// subscribe issues a streaming request and returns the decoded SSE frames.
func subscribe(t *testing.T, url, method string, params any) []rpcResponse {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"jsonrpc": a2a.JSONRPCVersion,
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	var frames []rpcResponse
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var frame rpcResponse
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			t.Fatalf("decode SSE frame %q: %v", data, err)
		}
		if frame.Error != nil {
			t.Fatalf("stream frame carried error: %+v", frame.Error)
		}
		frames = append(frames, frame)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	return frames
}
