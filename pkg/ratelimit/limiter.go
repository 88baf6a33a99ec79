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

package ratelimit

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// clientWindow is the ascending log of admitted request times for a client.
type clientWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// prune drops timestamps at or before cutoff.
func (w *clientWindow) prune(cutoff time.Time) {
	i := sort.Search(len(w.timestamps), func(i int) bool {
		return w.timestamps[i].After(cutoff)
	})
	if i == 0 {
		return
	}
	n := copy(w.timestamps, w.timestamps[i:])
	w.timestamps = w.timestamps[:n]
}

// countAfter returns how many timestamps are strictly after cutoff.
func (w *clientWindow) countAfter(cutoff time.Time) int {
	i := sort.Search(len(w.timestamps), func(i int) bool {
		return w.timestamps[i].After(cutoff)
	})
	return len(w.timestamps) - i
}

// stamp reads the clock for this window. It must be called with w.mu held so
// the reading is the linearization point, and it never goes below the newest
// recorded timestamp so the log stays ascending.
func (w *clientWindow) stamp(clock func() time.Time) time.Time {
	now := clock()
	if n := len(w.timestamps); n > 0 && now.Before(w.timestamps[n-1]) {
		return w.timestamps[n-1]
	}
	return now
}

func (w *clientWindow) admit(clock func() time.Time, rule Rule) Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.stamp(clock)
	w.prune(now.Add(-rule.Window))

	if len(w.timestamps) < rule.Limit {
		w.timestamps = append(w.timestamps, now)
		return Decision{
			Allowed:   true,
			Limit:     rule.Limit,
			Remaining: rule.Limit - len(w.timestamps),
			Window:    rule.Window,
		}
	}

	// Duration division truncates, and the remainder is always positive here.
	wait := w.timestamps[0].Add(rule.Window).Sub(now)
	return Decision{
		Allowed:    false,
		RetryAfter: int(wait/time.Second) + 1,
		Limit:      rule.Limit,
		Remaining:  0,
		Window:     rule.Window,
	}
}

// Limiter is a sliding-window rate limiter keyed by client identifier.
//
// Admission for an existing client only read-locks the client map, so
// different clients do not serialize on each other. Calls for the same
// client are linearized by that client's window mutex.
type Limiter struct {
	mu      sync.RWMutex
	clients map[string]*clientWindow

	rulesMu     sync.RWMutex
	defaultRule Rule
	rules       map[string]Rule

	now      func() time.Time
	onDenied func(clientID string, d Decision)
}

// New creates a limiter whose default rule admits limit requests per window.
func New(limit int, window time.Duration, opts ...Option) (*Limiter, error) {
	rule, err := NewRule(limit, window)
	if err != nil {
		return nil, err
	}

	l := &Limiter{
		clients:     make(map[string]*clientWindow),
		defaultRule: rule,
		rules:       make(map[string]Rule),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// RuleFor returns the effective rule for a client.
func (l *Limiter) RuleFor(clientID string) Rule {
	l.rulesMu.RLock()
	defer l.rulesMu.RUnlock()
	if rule, ok := l.rules[clientID]; ok {
		return rule
	}
	return l.defaultRule
}

// DefaultRule returns the rule applied to clients without an override.
func (l *Limiter) DefaultRule() Rule {
	l.rulesMu.RLock()
	defer l.rulesMu.RUnlock()
	return l.defaultRule
}

// Allow checks whether clientID may make a request now and, if so, records
// it. Denied requests are not recorded.
func (l *Limiter) Allow(clientID string) Decision {
	rule := l.RuleFor(clientID)

	var d Decision

	l.mu.RLock()
	w, ok := l.clients[clientID]
	if ok {
		d = w.admit(l.now, rule)
		l.mu.RUnlock()
	} else {
		l.mu.RUnlock()

		l.mu.Lock()
		w, ok = l.clients[clientID]
		if !ok {
			w = &clientWindow{timestamps: make([]time.Time, 0, min(rule.Limit, 64))}
			l.clients[clientID] = w
		}
		d = w.admit(l.now, rule)
		l.mu.Unlock()
	}

	if !d.Allowed {
		slog.Warn("Rate limit exceeded",
			"client_id", clientID,
			"limit", rule.Limit,
			"window", rule.Window,
			"retry_after", d.RetryAfter)
		if l.onDenied != nil {
			l.onDenied(clientID, d)
		}
	}
	return d
}

// Check is Allow expressed as an error: nil when admitted, a *RateLimitError
// otherwise.
func (l *Limiter) Check(clientID string) error {
	if d := l.Allow(clientID); !d.Allowed {
		return &RateLimitError{ClientID: clientID, Decision: d}
	}
	return nil
}

// Remaining returns how many more requests clientID may make in the current
// window. It does not record anything.
func (l *Limiter) Remaining(clientID string) int {
	rule := l.RuleFor(clientID)

	l.mu.RLock()
	defer l.mu.RUnlock()

	w, ok := l.clients[clientID]
	if !ok {
		return rule.Limit
	}

	w.mu.Lock()
	used := w.countAfter(w.stamp(l.now).Add(-rule.Window))
	w.mu.Unlock()

	return max(0, rule.Limit-used)
}

// SetDefaultRule replaces the rule used by clients without an override.
func (l *Limiter) SetDefaultRule(limit int, window time.Duration) error {
	rule, err := NewRule(limit, window)
	if err != nil {
		return err
	}

	l.rulesMu.Lock()
	l.defaultRule = rule
	l.rulesMu.Unlock()

	slog.Info("Rate limit default rule updated", "rule", rule.String())
	return nil
}

// SetRule installs a per-client rule.
func (l *Limiter) SetRule(clientID string, limit int, window time.Duration) error {
	rule, err := NewRule(limit, window)
	if err != nil {
		return err
	}

	l.rulesMu.Lock()
	l.rules[clientID] = rule
	l.rulesMu.Unlock()

	slog.Info("Rate limit rule set", "client_id", clientID, "rule", rule.String())
	return nil
}

// RemoveRule drops a per-client rule so the client falls back to the default.
func (l *Limiter) RemoveRule(clientID string) {
	l.rulesMu.Lock()
	delete(l.rules, clientID)
	l.rulesMu.Unlock()
}

// Rules returns a copy of the per-client rules.
func (l *Limiter) Rules() map[string]Rule {
	l.rulesMu.RLock()
	defer l.rulesMu.RUnlock()

	out := make(map[string]Rule, len(l.rules))
	for id, rule := range l.rules {
		out[id] = rule
	}
	return out
}

// ReplaceRules swaps the whole per-client rule set at once.
func (l *Limiter) ReplaceRules(rules map[string]Rule) error {
	next := make(map[string]Rule, len(rules))
	for id, rule := range rules {
		validated, err := NewRule(rule.Limit, rule.Window)
		if err != nil {
			return err
		}
		next[id] = validated
	}

	l.rulesMu.Lock()
	l.rules = next
	l.rulesMu.Unlock()
	return nil
}

// Reset clears the recorded requests of one client. Rules are untouched.
func (l *Limiter) Reset(clientID string) {
	l.mu.Lock()
	delete(l.clients, clientID)
	l.mu.Unlock()

	slog.Info("Rate limit reset", "client_id", clientID)
}

// ResetAll clears every client's recorded requests.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	l.clients = make(map[string]*clientWindow)
	l.mu.Unlock()

	slog.Info("All rate limits reset")
}

// Cleanup drops clients with no requests or whose newest request is older
// than maxAge, and returns how many were dropped.
func (l *Limiter) Cleanup(maxAge time.Duration) int {
	cutoff := l.now().Add(-maxAge)

	l.mu.Lock()
	removed := 0
	for id, w := range l.clients {
		w.mu.Lock()
		idle := len(w.timestamps) == 0 || w.timestamps[len(w.timestamps)-1].Before(cutoff)
		w.mu.Unlock()
		if idle {
			delete(l.clients, id)
			removed++
		}
	}
	l.mu.Unlock()

	if removed > 0 {
		slog.Debug("Cleaned up idle rate limit clients", "count", removed)
	}
	return removed
}

// Stats returns a snapshot measured against the default window.
func (l *Limiter) Stats() Stats {
	def := l.DefaultRule()

	l.rulesMu.RLock()
	custom := len(l.rules)
	l.rulesMu.RUnlock()

	cutoff := l.now().Add(-def.Window)

	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		TrackedClients: len(l.clients),
		DefaultLimit:   def.Limit,
		DefaultWindow:  def.Window,
		CustomRules:    custom,
	}
	for _, w := range l.clients {
		w.mu.Lock()
		n := w.countAfter(cutoff)
		w.mu.Unlock()
		if n > 0 {
			stats.ActiveClients++
			stats.RequestsInWindow += n
		}
	}
	return stats
}
