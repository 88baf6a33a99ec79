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

import "errors"

// Classifier reports whether an error is worth retrying.
type Classifier func(err error) bool

// On matches errors that wrap any of targets (errors.Is).
func On(targets ...error) Classifier {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

// OnType matches errors that have an E in their chain (errors.As).
func OnType[E error]() Classifier {
	return func(err error) bool {
		var target E
		return errors.As(err, &target)
	}
}

// Matching adapts an arbitrary predicate.
func Matching(fn func(err error) bool) Classifier {
	return Classifier(fn)
}
