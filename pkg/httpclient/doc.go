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

// Package httpclient builds the HTTP client the CLI uses to talk to a
// running service's monitor endpoint.
//
// Requests carry a User-Agent and are logged at debug level (warn for
// failures). Idempotent requests (GET, HEAD) that hit a connection error
// or a 502/503/504 are retried with exponential backoff and jitter;
// run creation is never repeated.
//
//	client, err := httpclient.New(httpclient.Config{
//	    Timeout:   time.Minute,
//	    UserAgent: "runfactory-cli/1.0",
//	})
package httpclient
