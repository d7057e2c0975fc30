// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/moneta-ai/moneta/a2a"
)

// InMemoryStore is an in-memory implementation of Store.
// Task data is lost when the server process stops.
// All operations are thread-safe using sync.RWMutex.
type InMemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*a2a.Task
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tasks: make(map[string]*a2a.Task),
	}
}

// CreateOrGet returns the stored task or creates it in the submitted state.
func (s *InMemoryStore) CreateOrGet(ctx context.Context, id, sessionID string, message a2a.Message) (*a2a.Task, bool, error) {
	if id == "" {
		return nil, false, a2a.InvalidParamsError{Msg: "task ID cannot be empty"}
	}
	if err := message.Validate(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tasks[id]; ok {
		return copyTask(existing), false, nil
	}

	task := a2a.NewTask(id, sessionID, message)
	s.tasks[id] = task
	return copyTask(task), true, nil
}

// Get retrieves a task snapshot by its ID.
func (s *InMemoryStore) Get(ctx context.Context, taskID string) (*a2a.Task, error) {
	if taskID == "" {
		return nil, a2a.InvalidParamsError{Msg: "task ID cannot be empty"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return nil, a2a.TaskNotFoundError{TaskID: taskID}
	}
	return copyTask(task), nil
}

// Apply atomically mutates a task under the store lock.
func (s *InMemoryStore) Apply(ctx context.Context, taskID string, mutate func(*a2a.Task) error) (*a2a.Task, error) {
	if taskID == "" {
		return nil, a2a.InvalidParamsError{Msg: "task ID cannot be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.tasks[taskID]
	if !exists {
		return nil, a2a.TaskNotFoundError{TaskID: taskID}
	}

	next, err := applyMutation(current, mutate)
	if err != nil {
		return nil, err
	}

	s.tasks[taskID] = next
	return copyTask(next), nil
}

// Initialize prepares the in-memory storage for use.
func (s *InMemoryStore) Initialize(ctx context.Context) error {
	return nil
}

// Close cleanly shuts down the in-memory storage.
func (s *InMemoryStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = make(map[string]*a2a.Task)
	return nil
}

// Size returns the current number of tasks. Useful for tests.
func (s *InMemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.tasks)
}

// String returns a short description for debugging.
func (s *InMemoryStore) String() string {
	return fmt.Sprintf("InMemoryStore{tasks: %d}", s.Size())
}
