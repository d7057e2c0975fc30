// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/go-cmp/cmp"

	"github.com/moneta-ai/moneta/a2a"
)

// webhookRecorder is a test webhook that records the task snapshots it is
// sent and answers the URL validation challenge.
type webhookRecorder struct {
	mu       sync.Mutex
	tasks    []a2a.Task
	headers  []http.Header
	failures int

	server *httptest.Server
}

func newWebhookRecorder(t *testing.T) *webhookRecorder {
	t.Helper()

	r := &webhookRecorder{}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if token := req.URL.Query().Get("validationToken"); token != "" {
			fmt.Fprint(w, token)
			return
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.failures > 0 {
			r.failures--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		body, err := io.ReadAll(req.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var task a2a.Task
		if err := json.Unmarshal(body, &task); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		r.tasks = append(r.tasks, task)
		r.headers = append(r.headers, req.Header.Clone())
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *webhookRecorder) failNext(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = n
}

func (r *webhookRecorder) received() []a2a.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]a2a.Task(nil), r.tasks...)
}

func (r *webhookRecorder) config(token string) a2a.PushNotificationConfig {
	return a2a.PushNotificationConfig{URL: r.server.URL, Token: token}
}

func taskSnapshot(state a2a.TaskState) *a2a.Task {
	return &a2a.Task{
		ID:        "task-1",
		Status:    a2a.TaskStatus{State: state, Timestamp: time.Now().UTC()},
		UpdatedAt: time.Now().UTC(),
	}
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestNotifierDeliversInOrder(t *testing.T) {
	webhook := newWebhookRecorder(t)
	n := NewNotifier(NotifierConfig{Retry: fastRetry()})

	ctx := context.Background()
	states := []a2a.TaskState{a2a.TaskStateSubmitted, a2a.TaskStateWorking, a2a.TaskStateCompleted}
	for _, state := range states {
		n.Notify(ctx, webhook.config("tok"), taskSnapshot(state))
	}
	n.Flush()

	got := webhook.received()
	if len(got) != len(states) {
		t.Fatalf("deliveries = %d, want %d", len(got), len(states))
	}
	for i, task := range got {
		if task.Status.State != states[i] {
			t.Errorf("delivery %d state = %s, want %s", i, task.Status.State, states[i])
		}
	}
}

func TestNotifierDeliversTaskSnapshot(t *testing.T) {
	webhook := newWebhookRecorder(t)
	n := NewNotifier(NotifierConfig{Retry: fastRetry()})

	answer := "The exchange rate from USD to JPY is 147.72."
	msg := a2a.NewAgentMessage(answer)
	snapshot := &a2a.Task{
		ID:        "task-1",
		SessionID: "session-1",
		Status: a2a.TaskStatus{
			State:     a2a.TaskStateCompleted,
			Message:   &msg,
			Timestamp: time.Now().UTC(),
		},
		History: []a2a.Message{
			a2a.NewUserMessage("How much is 100 USD in JPY?"),
			msg,
		},
		Artifacts: []a2a.Artifact{{
			Parts:     []a2a.Part{a2a.NewTextPart(answer)},
			LastChunk: true,
		}},
		UpdatedAt: time.Now().UTC(),
	}

	n.Notify(context.Background(), webhook.config("tok"), snapshot)
	n.Flush()

	got := webhook.received()
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}

	// The webhook body is the full task snapshot, not a stream event.
	if diff := cmp.Diff(*snapshot, got[0]); diff != "" {
		t.Errorf("delivered snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestNotifierRetriesTransientFailure(t *testing.T) {
	webhook := newWebhookRecorder(t)
	webhook.failNext(2)
	n := NewNotifier(NotifierConfig{Retry: fastRetry()})

	n.Notify(context.Background(), webhook.config(""), taskSnapshot(a2a.TaskStateCompleted))
	n.Flush()

	got := webhook.received()
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1 after retries", len(got))
	}
}

func TestNotifierDropsAfterExhaustedRetries(t *testing.T) {
	webhook := newWebhookRecorder(t)
	webhook.failNext(10)
	n := NewNotifier(NotifierConfig{Retry: fastRetry()})

	// The first notification burns every attempt; the second must still go
	// through once the endpoint recovers.
	n.Notify(context.Background(), webhook.config(""), taskSnapshot(a2a.TaskStateWorking))
	n.Flush()
	webhook.failNext(0)

	n.Notify(context.Background(), webhook.config(""), taskSnapshot(a2a.TaskStateCompleted))
	n.Flush()

	got := webhook.received()
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	if got[0].Status.State != a2a.TaskStateCompleted {
		t.Errorf("delivered state = %s, want %s", got[0].Status.State, a2a.TaskStateCompleted)
	}
}

func TestNotifierSignsDeliveries(t *testing.T) {
	auth, err := NewPushNotificationSenderAuth()
	if err != nil {
		t.Fatalf("NewPushNotificationSenderAuth() error = %v", err)
	}

	type signed struct {
		token string
		body  []byte
	}
	deliveries := make(chan signed, 1)
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		header := req.Header.Get("Authorization")
		deliveries <- signed{token: header, body: body}
	}))
	defer webhook.Close()

	n := NewNotifier(NotifierConfig{Auth: auth, Retry: fastRetry()})
	snapshot := taskSnapshot(a2a.TaskStateCompleted)
	n.Notify(context.Background(), a2a.PushNotificationConfig{URL: webhook.URL, Token: "session-token"}, snapshot)
	n.Flush()

	d := <-deliveries
	const prefix = "Bearer "
	if len(d.token) <= len(prefix) || d.token[:len(prefix)] != prefix {
		t.Fatalf("Authorization header = %q, want a bearer token", d.token)
	}

	receiver := NewPushNotificationReceiverAuth(auth.Keys())
	if err := receiver.Verify(d.token[len(prefix):], d.body); err != nil {
		t.Errorf("Verify() error = %v", err)
	}

	var got a2a.Task
	if err := json.Unmarshal(d.body, &got); err != nil {
		t.Fatalf("unmarshal delivered body: %v", err)
	}
	if diff := cmp.Diff(*snapshot, got); diff != "" {
		t.Errorf("delivered snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestNotifierSendsTokenHeader(t *testing.T) {
	webhook := newWebhookRecorder(t)
	n := NewNotifier(NotifierConfig{Retry: fastRetry()})

	n.Notify(context.Background(), webhook.config("client-token"), taskSnapshot(a2a.TaskStateCompleted))
	n.Flush()

	webhook.mu.Lock()
	defer webhook.mu.Unlock()
	if len(webhook.headers) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(webhook.headers))
	}
	if got := webhook.headers[0].Get("X-A2A-Notification-Token"); got != "client-token" {
		t.Errorf("X-A2A-Notification-Token = %q, want %q", got, "client-token")
	}
}

func TestNotifierVerifyURL(t *testing.T) {
	webhook := newWebhookRecorder(t)
	n := NewNotifier(NotifierConfig{})

	if err := n.VerifyURL(context.Background(), webhook.server.URL); err != nil {
		t.Errorf("VerifyURL() error = %v", err)
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, "not-the-token")
	}))
	defer bad.Close()
	if err := n.VerifyURL(context.Background(), bad.URL); err == nil {
		t.Error("VerifyURL() accepted an endpoint that does not echo the token")
	}
}

func TestWithRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := withRetry(ctx, fastRetry(), func(context.Context) error {
		calls++
		return fmt.Errorf("always failing")
	})
	if err == nil {
		t.Fatal("withRetry() = nil, want context error")
	}
	if calls > 1 {
		t.Errorf("calls = %d, want at most 1 after cancellation", calls)
	}
}
