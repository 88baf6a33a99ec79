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

// Package maintenance runs the background housekeeping of a long-lived
// process: periodic sweeps of expired cache entries and idle rate-limit
// windows, and an ordered graceful shutdown.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is a periodic sweep. Run returns how many items it removed.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) int
}

// Expirer is implemented by caches that can drop expired entries.
type Expirer interface {
	CleanupExpired() int
}

// IdleSweeper is implemented by limiters that can drop idle client windows.
type IdleSweeper interface {
	Cleanup(maxAge time.Duration) int
}

// CacheTask sweeps c every interval.
func CacheTask(name string, interval time.Duration, c Expirer) Task {
	return Task{
		Name:     name,
		Interval: interval,
		Run:      func(context.Context) int { return c.CleanupExpired() },
	}
}

// LimiterTask drops windows idle for longer than maxIdle every interval.
func LimiterTask(name string, interval, maxIdle time.Duration, l IdleSweeper) Task {
	return Task{
		Name:     name,
		Interval: interval,
		Run:      func(context.Context) int { return l.Cleanup(maxIdle) },
	}
}

// ErrAlreadyRunning is returned by Start on a running Sweeper.
var ErrAlreadyRunning = errors.New("sweeper already running")

// Sweeper runs Tasks on their own tickers until stopped.
type Sweeper struct {
	mu     sync.Mutex
	tasks  []Task
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewSweeper creates a sweeper for tasks. Tasks with a non-positive interval
// are rejected.
func NewSweeper(tasks ...Task) (*Sweeper, error) {
	for _, t := range tasks {
		if t.Interval <= 0 {
			return nil, fmt.Errorf("sweep task %q: interval must be positive, got %s", t.Name, t.Interval)
		}
		if t.Run == nil {
			return nil, fmt.Errorf("sweep task %q: run function is required", t.Name)
		}
	}
	return &Sweeper{tasks: tasks}, nil
}

// Start launches one goroutine per task. It returns immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		g.Go(func() error {
			runTask(gctx, t)
			return nil
		})
	}

	s.cancel = cancel
	s.group = g
	slog.Debug("Sweeper started", "tasks", len(s.tasks))
	return nil
}

func runTask(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if n := t.Run(ctx); n > 0 {
				slog.Debug("Sweep completed", "task", t.Name, "removed", n, "duration", time.Since(start))
			}
		}
	}
}

// Stop cancels every task and waits for them to return. Stopping a stopped
// sweeper is a no-op.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	cancel, g := s.cancel, s.group
	s.cancel, s.group = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := g.Wait()
	slog.Debug("Sweeper stopped")
	return err
}

// RunOnce runs every task immediately, in order, and returns the total
// removed.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	total := 0
	for _, t := range s.tasks {
		total += t.Run(ctx)
	}
	return total
}
