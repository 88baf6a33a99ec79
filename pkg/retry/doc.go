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

// Package retry re-invokes failing operations with exponential backoff.
//
// A Retryer is built once from a validated Config and reused. Which failures
// are worth retrying is decided by classifiers; without any, every error is
// retried.
//
//	r, err := retry.New(retry.DefaultConfig(),
//	    retry.WithName("upstream"),
//	    retry.WithRetryable(retry.OnType[*httpclient.StatusError]()),
//	)
//	if err != nil {
//	    return err
//	}
//
//	body, err := retry.Value(ctx, r, func(ctx context.Context) ([]byte, error) {
//	    return fetch(ctx)
//	})
//
// When every attempt fails the error of the final attempt is returned as-is,
// so callers can keep matching on it with errors.Is and errors.As.
package retry
