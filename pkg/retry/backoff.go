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

package retry

import (
	"math"
	"time"
)

// Delay returns the wait before retry number attempt+1, where attempt is the
// zero-based index of the attempt that just failed:
//
//	min(InitialDelay * ExponentialBase^attempt, MaxDelay)
//
// With jitter on, the result is scaled by 0.5 + rnd()/2. rnd must return
// values in [0, 1); nil means math/rand.
func Delay(cfg Config, attempt int, rnd func() float64) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.ExponentialBase, float64(attempt))
	if d > float64(cfg.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		d = float64(cfg.MaxDelay)
	}

	if cfg.Jitter {
		if rnd == nil {
			rnd = defaultRand
		}
		d *= 0.5 + rnd()*0.5
	}

	return time.Duration(d)
}
