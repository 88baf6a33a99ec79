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

package httpclient

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitInfo is what an upstream tells us about its own limits.
type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetAfter        time.Duration
	RequestsRemaining int
	TokensRemaining   int
}

// Wait returns the longest of the advertised waits.
func (i RateLimitInfo) Wait() time.Duration {
	if i.ResetAfter > i.RetryAfter {
		return i.ResetAfter
	}
	return i.RetryAfter
}

// RateLimitHeaderParser extracts RateLimitInfo from response headers.
type RateLimitHeaderParser func(http.Header) RateLimitInfo

// ParseRetryAfter reads a Retry-After value given either as delta-seconds or
// as an HTTP date. Unparseable or past values yield 0.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// ParseStandardHeaders understands only Retry-After.
func ParseStandardHeaders(headers http.Header) RateLimitInfo {
	return RateLimitInfo{RetryAfter: ParseRetryAfter(headers.Get("Retry-After"), time.Now())}
}

// ParseOpenAIHeaders extracts rate limit info from OpenAI-compatible headers.
// Reset headers carry durations such as "1s" or "6m0s".
func ParseOpenAIHeaders(headers http.Header) RateLimitInfo {
	info := ParseStandardHeaders(headers)

	for _, h := range []string{"x-ratelimit-reset-requests", "x-ratelimit-reset-tokens"} {
		if d := parseResetDuration(headers.Get(h)); d > info.ResetAfter {
			info.ResetAfter = d
		}
	}

	info.RequestsRemaining = parseIntHeader(headers.Get("x-ratelimit-remaining-requests"))
	info.TokensRemaining = parseIntHeader(headers.Get("x-ratelimit-remaining-tokens"))
	return info
}

func parseResetDuration(v string) time.Duration {
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.ParseFloat(v, 64); err == nil && seconds > 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	return 0
}

func parseIntHeader(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return -1
	}
	return n
}
