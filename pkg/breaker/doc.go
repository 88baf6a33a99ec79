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

// Package breaker implements a circuit breaker for calls to a downstream
// dependency.
//
// A breaker starts Closed and admits every call. After FailureThreshold
// consecutive failures it opens and rejects calls with an *OpenError until
// RecoveryTimeout has passed since the last failure. The next admission check
// then moves it to HalfOpen, where calls are let through as probes: a
// successful probe closes the breaker, a failed one opens it again.
//
//	b, err := breaker.New(breaker.Settings{
//	    Name:             "upstream",
//	    FailureThreshold: 5,
//	    RecoveryTimeout:  time.Minute,
//	})
//
//	resp, err := breaker.Execute(ctx, b, func(ctx context.Context) (*Response, error) {
//	    return client.Do(ctx, req)
//	})
//	if errors.Is(err, breaker.ErrOpen) {
//	    // fail fast
//	}
//
// Use one breaker per logical dependency.
package breaker
