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

package breaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrOpen is returned (wrapped in *OpenError) when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError reports a rejected call.
type OpenError struct {
	// Name is the breaker that rejected the call.
	Name string

	// RetryAfter is how long until the breaker will admit a probe. It is
	// zero when the recovery timeout has already elapsed.
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

func (e *OpenError) Unwrap() error {
	return ErrOpen
}

// IsOpen reports whether err is a breaker rejection.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}
