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

// Package cache provides a bounded, thread-safe in-memory cache with per-entry
// TTL and least-recently-used eviction.
//
// # Basic Usage
//
//	c, err := cache.New[string](10000, time.Hour)
//	if err != nil {
//	    return err
//	}
//
//	c.Set("answer:42", "forty-two")
//	if v, ok := c.Get("answer:42"); ok {
//	    // hit
//	}
//
// # Expiry
//
// Expiry is lazy. An expired entry keeps its slot (and counts toward capacity)
// until it is read through Get or Contains, or swept by CleanupExpired. Callers
// that want proactive cleanup run CleanupExpired from a periodic task; see
// package maintenance.
//
// # Enabled Switch
//
// Every cache reads an enabled flag at Set time. When the flag is off Set is a
// no-op while Get, Delete, Clear and Contains keep working, so callers can call
// Set unconditionally. Several caches may share one flag via WithEnabledFlag.
package cache
