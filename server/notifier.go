// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"

	"github.com/moneta-ai/moneta/a2a"
)

// RetryConfig bounds the delivery attempts for one push notification.
type RetryConfig struct {
	// MaxAttempts is the total number of delivery attempts.
	MaxAttempts int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// withRetry executes fn with exponential backoff and 10% jitter.
func withRetry(ctx context.Context, config RetryConfig, fn func(context.Context) error) error {
	if config.MaxAttempts <= 0 {
		return fn(ctx)
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if attempt == config.MaxAttempts-1 {
			break
		}

		jitter := time.Duration(rand.Float64() * float64(delay) * 0.1)
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", config.MaxAttempts, lastErr)
}

// NotifierConfig holds configuration for a Notifier.
type NotifierConfig struct {
	// Auth signs outgoing notifications. Optional.
	Auth *PushNotificationSenderAuth

	// Client is the HTTP client for deliveries. Optional.
	Client *http.Client

	// Logger for delivery failures. Optional.
	Logger *slog.Logger

	// Retry is the per-notification retry policy. Zero value means
	// DefaultRetryConfig.
	Retry RetryConfig
}

// delivery is one queued notification.
type delivery struct {
	config a2a.PushNotificationConfig
	task   *a2a.Task
}

// deliveryQueue holds the pending notifications of one task.
type deliveryQueue struct {
	pending []delivery
	active  bool
}

// Notifier delivers task state changes to client-registered webhooks. Each
// notification carries the current task snapshot. Deliveries are ordered per
// task with a single request in flight at a time; a notification that
// exhausts its retries is logged and dropped, and the failure never reaches
// the task lifecycle.
type Notifier struct {
	auth   *PushNotificationSenderAuth
	client *http.Client
	logger *slog.Logger
	retry  RetryConfig

	mu     sync.Mutex
	queues map[string]*deliveryQueue
	idle   sync.WaitGroup
}

// NewNotifier creates a new Notifier.
func NewNotifier(cfg NotifierConfig) *Notifier {
	n := &Notifier{
		auth:   cfg.Auth,
		client: cfg.Client,
		logger: cfg.Logger,
		retry:  cfg.Retry,
		queues: make(map[string]*deliveryQueue),
	}
	if n.client == nil {
		n.client = &http.Client{Timeout: 10 * time.Second}
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	if n.retry == (RetryConfig{}) {
		n.retry = DefaultRetryConfig()
	}
	return n
}

// Notify enqueues a task snapshot for webhook delivery. It never blocks;
// delivery runs in the background in publish order per task.
func (n *Notifier) Notify(ctx context.Context, config a2a.PushNotificationConfig, snapshot *a2a.Task) {
	n.mu.Lock()
	q := n.queues[snapshot.ID]
	if q == nil {
		q = &deliveryQueue{}
		n.queues[snapshot.ID] = q
	}
	q.pending = append(q.pending, delivery{config: config, task: snapshot})
	if !q.active {
		q.active = true
		n.idle.Add(1)
		go n.deliverLoop(snapshot.ID)
	}
	n.mu.Unlock()
}

// Flush blocks until all queued notifications have been delivered or
// dropped. Useful for shutdown and tests.
func (n *Notifier) Flush() {
	n.idle.Wait()
}

// VerifyURL challenges a webhook URL before accepting it: the endpoint must
// echo back the validation token sent as a query parameter.
func (n *Notifier) VerifyURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	token := uuid.NewString()
	query := u.Query()
	query.Set("validationToken", token)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook challenge failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read challenge response: %w", err)
	}
	if strings.TrimSpace(string(body)) != token {
		return fmt.Errorf("webhook did not echo the validation token")
	}
	return nil
}

// deliverLoop drains one task's queue. It exits when the queue is empty and
// restarts on the next Notify.
func (n *Notifier) deliverLoop(taskID string) {
	defer n.idle.Done()

	for {
		n.mu.Lock()
		q := n.queues[taskID]
		if len(q.pending) == 0 {
			delete(n.queues, taskID)
			n.mu.Unlock()
			return
		}
		d := q.pending[0]
		q.pending = q.pending[1:]
		n.mu.Unlock()

		ctx := context.Background()
		if err := n.send(ctx, d.config, d.task); err != nil {
			n.logger.WarnContext(ctx, "push notification dropped",
				"task_id", taskID, "url", d.config.URL, "error", err)
		}
	}
}

func (n *Notifier) send(ctx context.Context, config a2a.PushNotificationConfig, snapshot *a2a.Task) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal task snapshot: %w", err)
	}

	var authHeader string
	if n.auth != nil {
		token, err := n.auth.Sign(body)
		if err != nil {
			return fmt.Errorf("sign notification: %w", err)
		}
		authHeader = "Bearer " + token
	}

	return withRetry(ctx, n.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.URL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		if config.Token != "" {
			req.Header.Set("X-A2A-Notification-Token", config.Token)
		}

		resp, err := n.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 400 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
}
