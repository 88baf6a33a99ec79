// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultShutdownTimeout is shared by all cleanup tasks.
	DefaultShutdownTimeout = 30 * time.Second

	// cleanupGrace is the least a task is given once the shared deadline
	// has passed, so tasks after an overrunning one still get to run.
	cleanupGrace = 100 * time.Millisecond
)

type cleanupTask struct {
	name string
	fn   func(ctx context.Context) error
}

// Shutdown runs registered cleanup tasks in reverse registration order.
// All tasks share one deadline, so the first task to run may use the whole
// timeout. A task that overruns is abandoned and the next one runs.
type Shutdown struct {
	timeout time.Duration

	mu    sync.Mutex
	tasks []cleanupTask

	ready        atomic.Bool
	shuttingDown atomic.Bool
	once         sync.Once
	err          error
}

// NewShutdown creates a manager. A non-positive timeout uses
// DefaultShutdownTimeout.
func NewShutdown(timeout time.Duration) *Shutdown {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &Shutdown{timeout: timeout}
}

// Register adds a cleanup task. Tasks registered after shutdown began are
// ignored.
func (s *Shutdown) Register(name string, fn func(ctx context.Context) error) {
	if s.shuttingDown.Load() {
		slog.Warn("Cleanup task registered during shutdown, ignoring", "task", name)
		return
	}
	s.mu.Lock()
	s.tasks = append(s.tasks, cleanupTask{name: name, fn: fn})
	s.mu.Unlock()
	slog.Debug("Registered cleanup task", "task", name)
}

// MarkReady flags the process as ready to serve traffic.
func (s *Shutdown) MarkReady() {
	if !s.shuttingDown.Load() {
		s.ready.Store(true)
	}
}

// Ready reports whether the process should receive traffic.
func (s *Shutdown) Ready() bool {
	return s.ready.Load()
}

// ShuttingDown reports whether Run has been called.
func (s *Shutdown) ShuttingDown() bool {
	return s.shuttingDown.Load()
}

// Run flips readiness off and executes every task once. Later calls wait for
// nothing and return the first call's result.
func (s *Shutdown) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.shuttingDown.Store(true)
		s.ready.Store(false)
		s.err = s.run(ctx)
	})
	return s.err
}

func (s *Shutdown) run(ctx context.Context) error {
	s.mu.Lock()
	tasks := make([]cleanupTask, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	slog.Info("Starting graceful shutdown", "tasks", len(tasks), "timeout", s.timeout)
	if len(tasks) == 0 {
		return nil
	}

	deadline := time.Now().Add(s.timeout)
	var errs []error

	for i := len(tasks) - 1; i >= 0; i-- {
		t := tasks[i]
		budget := max(time.Until(deadline), cleanupGrace)
		if err := runCleanup(ctx, t, budget); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}

	slog.Info("Graceful shutdown completed", "errors", len(errs))
	return errors.Join(errs...)
}

func runCleanup(parent context.Context, t cleanupTask, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	slog.Debug("Running cleanup task", "task", t.name)

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- t.fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			slog.Error("Cleanup task failed", "task", t.name, "error", err)
		}
		return err
	case <-ctx.Done():
		slog.Warn("Cleanup task timed out", "task", t.name, "timeout", timeout)
		return ctx.Err()
	}
}
