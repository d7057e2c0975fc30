// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

// Package server implements the A2A server side: the task lifecycle manager
// driving agent runners, the JSON-RPC/SSE protocol surface, and the push
// notification dispatcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/moneta-ai/moneta/a2a"
	"github.com/moneta-ai/moneta/server/event"
	"github.com/moneta-ai/moneta/server/task"
)

// Manager owns the task lifecycle. It is the only component that mutates
// tasks: it creates them from client requests, drives the agent runner, and
// converts runner updates into validated state transitions. Every accepted
// update is first persisted to the store and then published on the event
// bus, so the persisted task never lags the stream.
type Manager struct {
	store    task.Store
	runner   Runner
	bus      *event.Bus
	notifier *Notifier
	logger   *slog.Logger

	outputModes []string
	taskTimeout time.Duration

	mu      sync.Mutex
	running map[string]*runHandle
}

// runHandle tracks one in-flight drive of a task.
type runHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a Manager driving the given runner against the store.
func NewManager(store task.Store, runner Runner, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		runner:  runner,
		bus:     event.NewBus(),
		logger:  slog.Default(),
		running: make(map[string]*runHandle),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnSendTask handles tasks/send: it creates or resumes the task, runs the
// agent to a terminal yield, and returns the resulting task snapshot. A
// second send while the task's runner is in flight fails with TaskBusyError.
func (m *Manager) OnSendTask(ctx context.Context, params a2a.TaskSendParams) (*a2a.Task, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if !a2a.AreModalitiesCompatible(params.AcceptedOutputModes, m.outputModes) {
		return nil, a2a.ContentTypeNotSupportedError{Accepted: params.AcceptedOutputModes, Supported: m.outputModes}
	}

	t, created, err := m.register(ctx, params)
	if err != nil {
		return nil, err
	}
	h, acquired := m.acquire(ctx, params.ID)
	if !acquired {
		return nil, a2a.TaskBusyError{TaskID: params.ID}
	}
	defer m.release(params.ID, h)

	if _, err := m.prepare(ctx, params, t, created); err != nil {
		return nil, err
	}
	if err := m.drive(h.ctx, params.ID); err != nil {
		return nil, err
	}

	final, err := m.store.Get(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return trimmed(final, params.HistoryLength), nil
}

// OnSendTaskSubscribe handles tasks/sendSubscribe: the task is created or
// resumed and driven in the background while the returned stream delivers
// its events. When the task's runner is already in flight the stream simply
// attaches to it; a second runner is never started.
func (m *Manager) OnSendTaskSubscribe(ctx context.Context, params a2a.TaskSendParams) (*Stream, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if !a2a.AreModalitiesCompatible(params.AcceptedOutputModes, m.outputModes) {
		return nil, a2a.ContentTypeNotSupportedError{Accepted: params.AcceptedOutputModes, Supported: m.outputModes}
	}

	t, created, err := m.register(ctx, params)
	if err != nil {
		return nil, err
	}

	// The drive outlives the subscribing request; it stops via tasks/cancel
	// or the task timeout, not via the SSE connection.
	h, acquired := m.acquire(context.WithoutCancel(ctx), params.ID)
	if !acquired {
		return m.attach(ctx, params.ID)
	}

	t, err = m.prepare(ctx, params, t, created)
	if err != nil {
		m.release(params.ID, h)
		return nil, err
	}
	sub := m.bus.Subscribe(params.ID)
	first := a2a.TaskStatusUpdateEvent{ID: t.ID, Status: t.Status}

	go func() {
		defer m.release(params.ID, h)
		if err := m.drive(h.ctx, params.ID); err != nil {
			m.logger.WarnContext(h.ctx, "task run failed", "task_id", params.ID, "error", err)
		}
	}()

	return &Stream{first: &first, sub: sub}, nil
}

// OnGetTask handles tasks/get.
func (m *Manager) OnGetTask(ctx context.Context, params a2a.TaskQueryParams) (*a2a.Task, error) {
	t, err := m.store.Get(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return trimmed(t, params.HistoryLength), nil
}

// OnCancelTask handles tasks/cancel: it stops the in-flight runner, marks
// the task canceled, and publishes the final event. Canceling a task that
// already reached a terminal state fails with TaskNotCancelableError.
func (m *Manager) OnCancelTask(ctx context.Context, params a2a.TaskIDParams) (*a2a.Task, error) {
	t, err := m.store.Get(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if t.Status.State.Terminal() {
		return nil, a2a.TaskNotCancelableError{TaskID: t.ID, State: t.Status.State}
	}

	// Stop the runner and wait for its drive to settle, so the canceled
	// state and its final event are the last writes the task sees.
	m.mu.Lock()
	h := m.running[params.ID]
	m.mu.Unlock()
	if h != nil {
		h.cancel()
		select {
		case <-h.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	updated, err := m.store.Apply(ctx, params.ID, func(t *a2a.Task) error {
		t.Status = a2a.TaskStatus{State: a2a.TaskStateCanceled, Timestamp: time.Now().UTC()}
		return nil
	})
	if err != nil {
		var terminal a2a.TaskTerminalError
		if errors.As(err, &terminal) {
			return nil, a2a.TaskNotCancelableError{TaskID: params.ID, State: terminal.State}
		}
		return nil, err
	}

	m.publish(ctx, a2a.NewStatusEvent(updated), updated)
	m.logger.InfoContext(ctx, "task canceled", "task_id", params.ID)
	return updated, nil
}

// OnResubscribe handles tasks/resubscribe: the stream starts with the
// task's current status and continues with subsequent events. For a task
// that already ended the stream carries the final status alone.
func (m *Manager) OnResubscribe(ctx context.Context, params a2a.TaskQueryParams) (*Stream, error) {
	sub := m.bus.Subscribe(params.ID)
	t, err := m.store.Get(ctx, params.ID)
	if err != nil {
		sub.Close()
		return nil, err
	}

	first := a2a.NewStatusEvent(t)
	if first.Final {
		sub.Close()
		return &Stream{first: &first}, nil
	}
	return &Stream{first: &first, sub: sub}, nil
}

// OnSetPushNotification handles tasks/pushNotification/set.
func (m *Manager) OnSetPushNotification(ctx context.Context, params a2a.TaskPushNotificationConfig) (*a2a.TaskPushNotificationConfig, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if _, err := m.setPushConfig(ctx, params.ID, params.PushNotificationConfig); err != nil {
		return nil, err
	}
	return &params, nil
}

// OnGetPushNotification handles tasks/pushNotification/get.
func (m *Manager) OnGetPushNotification(ctx context.Context, params a2a.TaskIDParams) (*a2a.TaskPushNotificationConfig, error) {
	if m.notifier == nil {
		return nil, a2a.PushNotificationNotSupportedError{}
	}
	t, err := m.store.Get(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if t.PushNotification == nil {
		return nil, a2a.InvalidParamsError{Msg: fmt.Sprintf("task %s has no push notification configuration", params.ID)}
	}
	return &a2a.TaskPushNotificationConfig{ID: t.ID, PushNotificationConfig: *t.PushNotification}, nil
}

// Shutdown cancels all in-flight runs and waits for them to settle or for
// ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	handles := make([]*runHandle, 0, len(m.running))
	for _, h := range m.running {
		h.cancel()
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// register creates the task, or fetches the existing one and rejects it when
// terminal. It runs before the runner slot is reserved, so a concurrent
// subscriber that loses the slot always finds a task to attach to.
func (m *Manager) register(ctx context.Context, params a2a.TaskSendParams) (*a2a.Task, bool, error) {
	t, created, err := m.store.CreateOrGet(ctx, params.ID, params.SessionID, params.Message)
	if err != nil {
		return nil, false, err
	}
	if !created && t.Status.State.Terminal() {
		return nil, false, a2a.TaskTerminalError{TaskID: t.ID, State: t.Status.State}
	}
	return t, created, nil
}

// prepare appends the new client message to a resumed task and registers the
// request's push notification config before the run starts.
func (m *Manager) prepare(ctx context.Context, params a2a.TaskSendParams, t *a2a.Task, created bool) (*a2a.Task, error) {
	var err error
	if !created {
		t, err = m.store.Apply(ctx, params.ID, func(t *a2a.Task) error {
			t.History = append(t.History, params.Message)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if params.PushNotification != nil {
		t, err = m.setPushConfig(ctx, params.ID, *params.PushNotification)
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (m *Manager) setPushConfig(ctx context.Context, taskID string, config a2a.PushNotificationConfig) (*a2a.Task, error) {
	if m.notifier == nil {
		return nil, a2a.PushNotificationNotSupportedError{}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := m.notifier.VerifyURL(ctx, config.URL); err != nil {
		return nil, a2a.InvalidParamsError{Msg: fmt.Sprintf("push notification URL verification failed: %v", err)}
	}
	return m.store.Apply(ctx, taskID, func(t *a2a.Task) error {
		t.PushNotification = &config
		return nil
	})
}

// attach joins a stream to a task whose runner is already in flight.
func (m *Manager) attach(ctx context.Context, taskID string) (*Stream, error) {
	sub := m.bus.Subscribe(taskID)
	t, err := m.store.Get(ctx, taskID)
	if err != nil {
		sub.Close()
		return nil, err
	}

	first := a2a.NewStatusEvent(t)
	if first.Final {
		// The run ended between the busy check and the subscription.
		sub.Close()
		return &Stream{first: &first}, nil
	}
	return &Stream{first: &first, sub: sub}, nil
}

// drive runs the agent for one turn of the task: submitted or input-required
// through working to the runner's terminal yield. Each accepted update is
// persisted, then published.
func (m *Manager) drive(ctx context.Context, taskID string) error {
	if m.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.taskTimeout)
		defer cancel()
	}

	working, err := m.store.Apply(ctx, taskID, func(t *a2a.Task) error {
		t.Status = a2a.TaskStatus{State: a2a.TaskStateWorking, Timestamp: time.Now().UTC()}
		return nil
	})
	if err != nil {
		return ignoreCanceled(err)
	}
	m.publish(ctx, a2a.NewStatusEvent(working), working)

	updates, err := m.runner.Run(ctx, working)
	if err != nil {
		return m.failRun(ctx, taskID, err)
	}

	for update := range updates {
		if update.Err != nil {
			return m.failRun(ctx, taskID, update.Err)
		}

		if update.Artifact != nil {
			updated, err := m.store.Apply(ctx, taskID, func(t *a2a.Task) error {
				return a2a.AppendArtifact(t, *update.Artifact)
			})
			if err != nil {
				return ignoreCanceled(err)
			}
			m.publish(ctx, a2a.NewArtifactEvent(taskID, *update.Artifact), updated)
		}

		if update.Message != nil || update.Done || update.RequireInput {
			state := a2a.TaskStateWorking
			switch {
			case update.Done:
				state = a2a.TaskStateCompleted
			case update.RequireInput:
				state = a2a.TaskStateInputRequired
			}
			updated, err := m.store.Apply(ctx, taskID, func(t *a2a.Task) error {
				t.Status = a2a.TaskStatus{State: state, Message: update.Message, Timestamp: time.Now().UTC()}
				if update.Message != nil {
					t.History = append(t.History, *update.Message)
				}
				return nil
			})
			if err != nil {
				return ignoreCanceled(err)
			}
			m.publish(ctx, a2a.NewStatusEvent(updated), updated)
			m.logger.InfoContext(ctx, "task status updated", "task_id", taskID, "state", state)
		}
	}

	final, err := m.store.Get(context.WithoutCancel(ctx), taskID)
	if err != nil {
		return err
	}
	if !final.Status.State.Terminal() && final.Status.State != a2a.TaskStateInputRequired {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return m.fail(ctx, taskID, a2a.TimeoutError{TaskID: taskID})
		}
		if ctx.Err() != nil {
			// Canceled via tasks/cancel; that path publishes the final event
			// once this run settles.
			return nil
		}
		return m.fail(ctx, taskID, a2a.RunnerError{TaskID: taskID, Err: errors.New("runner ended without a terminal update")})
	}
	return nil
}

// failRun converts a failure raised by the runner into the task's terminal
// state. A failure caused by the drive's own deadline becomes a timeout; one
// caused by tasks/cancel is dropped, since the cancel path records the state.
func (m *Manager) failRun(ctx context.Context, taskID string, cause error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return m.fail(ctx, taskID, a2a.TimeoutError{TaskID: taskID})
	}
	if ctx.Err() != nil {
		return nil
	}
	return m.fail(ctx, taskID, a2a.RunnerError{TaskID: taskID, Err: cause})
}

// fail marks the task failed with the cause as its status message and
// returns the cause.
func (m *Manager) fail(ctx context.Context, taskID string, cause a2a.Error) error {
	ctx = context.WithoutCancel(ctx)

	msg := a2a.NewAgentMessage(cause.Error())
	updated, err := m.store.Apply(ctx, taskID, func(t *a2a.Task) error {
		t.Status = a2a.TaskStatus{State: a2a.TaskStateFailed, Message: &msg, Timestamp: time.Now().UTC()}
		return nil
	})
	if err != nil {
		var terminal a2a.TaskTerminalError
		if !errors.As(err, &terminal) {
			m.logger.ErrorContext(ctx, "failed to record task failure", "task_id", taskID, "error", err)
		}
		return cause
	}

	m.publish(ctx, a2a.NewStatusEvent(updated), updated)
	m.logger.WarnContext(ctx, "task failed", "task_id", taskID, "error", cause)
	return cause
}

// publish sends the event to stream subscribers and, when the task has a
// webhook registered, hands the snapshot to the push dispatcher.
func (m *Manager) publish(ctx context.Context, ev a2a.Event, snapshot *a2a.Task) {
	m.bus.Publish(ctx, ev)
	if m.notifier != nil && snapshot.PushNotification != nil {
		m.notifier.Notify(ctx, *snapshot.PushNotification, snapshot)
	}
}

// acquire reserves the single runner slot of a task. It returns the
// existing handle and false when a run is already in flight.
func (m *Manager) acquire(parent context.Context, taskID string) (*runHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.running[taskID]; ok {
		return h, false
	}
	ctx, cancel := context.WithCancel(parent)
	h := &runHandle{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	m.running[taskID] = h
	return h, true
}

func (m *Manager) release(taskID string, h *runHandle) {
	m.mu.Lock()
	delete(m.running, taskID)
	m.mu.Unlock()
	h.cancel()
	close(h.done)
}

// ignoreCanceled suppresses the store error raised when a concurrent cancel
// won the race; everything else propagates.
func ignoreCanceled(err error) error {
	var terminal a2a.TaskTerminalError
	if errors.As(err, &terminal) && terminal.State == a2a.TaskStateCanceled {
		return nil
	}
	return err
}

func trimmed(t *a2a.Task, historyLength *int) *a2a.Task {
	if historyLength == nil {
		return t
	}
	return t.TrimHistory(*historyLength)
}
