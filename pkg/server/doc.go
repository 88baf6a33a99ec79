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

// Package server exposes the resilience stack over HTTP.
//
// One Server owns a single instance of each component: the completion cache,
// the rate limiter, the retryer, the circuit breaker and the guard that
// composes them around the upstream completion API. Handlers receive those
// handles through the Server; nothing is global.
//
// # Routes
//
//	GET    /health                        component summary
//	GET    /ready                         503 while shutting down
//	GET    /live                          process liveness
//	GET    /metrics                       Prometheus exposition
//	POST   /v1/complete                   guarded completion
//	GET    /v1/admin/stats                component statistics
//	POST   /v1/admin/cache/clear
//	POST   /v1/admin/cache/cleanup
//	POST   /v1/admin/cache/reset-stats
//	DELETE /v1/admin/cache/{key}
//	POST   /v1/admin/ratelimit/reset
//	PUT    /v1/admin/ratelimit/rules/{client}
//	DELETE /v1/admin/ratelimit/rules/{client}
//	POST   /v1/admin/breaker/reset
//
// Admin routes require X-API-Key when server.api_key_required is set.
//
// # Hot Reload
//
// ApplyConfig swaps in a new configuration. The cache switch, the rate limit
// rules, CORS origins and API key settings take effect immediately; listener,
// upstream, retry and breaker settings need a restart.
package server
