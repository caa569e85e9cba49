// Copyright 2025 Tom Barlow
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

package errors

// ErrorClassifier is implemented by errors that can be sorted for retry
// decisions and reporting without string matching.
type ErrorClassifier interface {
	error

	// ErrorType returns the error category, e.g. "connection_lost".
	ErrorType() string

	// IsRetryable returns true if the failed operation may succeed when
	// repeated against a freshly started factory or registry.
	IsRetryable() bool
}
