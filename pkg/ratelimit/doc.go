// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ratelimit provides per-client admission control over a sliding
// time window.
//
// Each client keeps a log of the timestamps of its admitted requests. A
// request is admitted when fewer than Limit timestamps fall inside the last
// Window, so the limit holds for every window-sized interval rather than for
// fixed buckets.
//
// # Basic Usage
//
//	limiter, err := ratelimit.New(100, time.Minute)
//	if err != nil {
//	    return err
//	}
//
//	if d := limiter.Allow("key:abcd1234"); !d.Allowed {
//	    // reject, tell the caller to come back in d.RetryAfter seconds
//	}
//
// # Rules
//
// Every client uses the default rule unless a per-client rule was set with
// SetRule. Rule changes apply to the next admission check; recorded
// timestamps are never rewritten.
//
// # HTTP
//
// Middleware wraps an http.Handler, derives the client identifier from the
// request and answers 429 with Retry-After and X-RateLimit-* headers when a
// client is over its limit.
//
// # Cleanup
//
// Windows are created lazily and never expire on their own. Call Cleanup
// periodically to drop idle clients; package maintenance does this on a
// ticker.
package ratelimit
