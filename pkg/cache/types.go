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

package cache

import (
	"sync/atomic"
	"time"
)

const (
	// DefaultCapacity is the entry bound used when none is configured.
	DefaultCapacity = 10000

	// DefaultTTL is the time-to-live applied by Set.
	DefaultTTL = time.Hour
)

// Entry is a single cached value with its bookkeeping.
type Entry[V any] struct {
	Value       V
	Expiry      time.Time
	CreatedAt   time.Time
	AccessCount int64
}

func (e *Entry[V]) expired(now time.Time) bool {
	return now.After(e.Expiry)
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	TotalEntries   int     `json:"total_entries"`
	ActiveEntries  int     `json:"active_entries"`
	ExpiredEntries int     `json:"expired_entries"`
	Capacity       int     `json:"capacity"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	HitRate        float64 `json:"hit_rate"` // hits / (hits + misses), 0 with no lookups
	Evictions      int64   `json:"evictions"`
	Enabled        bool    `json:"cache_enabled"`
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now     func() time.Time
	enabled *atomic.Bool
	name    string
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithEnabledFlag shares an enabled switch between caches. The flag is read on
// every Set.
func WithEnabledFlag(flag *atomic.Bool) Option {
	return func(o *options) {
		o.enabled = flag
	}
}

// WithName labels the cache in log records.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}
