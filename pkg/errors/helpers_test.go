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

package errors_test

import (
	"errors"
	"testing"

	rferrors "github.com/tombee/runfactory/pkg/errors"
)

func TestWrap(t *testing.T) {
	t.Run("returns nil for nil cause", func(t *testing.T) {
		if err := rferrors.Wrap(rferrors.KindConnectionLost, "op", nil); err != nil {
			t.Errorf("Wrap(nil) = %v, want nil", err)
		}
	})

	t.Run("classifies and preserves cause", func(t *testing.T) {
		cause := errors.New("broken pipe")
		err := rferrors.Wrap(rferrors.KindConnectionLost, "factory.create", cause)

		if !errors.Is(err, cause) {
			t.Error("wrapped error should match its cause")
		}
		if rferrors.KindOf(err) != rferrors.KindConnectionLost {
			t.Errorf("KindOf() = %q, want %q", rferrors.KindOf(err), rferrors.KindConnectionLost)
		}
	})

	t.Run("does not double wrap same kind", func(t *testing.T) {
		inner := &rferrors.Error{Kind: rferrors.KindUnbound, Op: "inner"}
		if got := rferrors.Wrap(rferrors.KindUnbound, "outer", inner); got != error(inner) {
			t.Errorf("Wrap() = %v, want the inner error unchanged", got)
		}
	})
}

func TestKindOf(t *testing.T) {
	if k := rferrors.KindOf(errors.New("plain")); k != "" {
		t.Errorf("KindOf(plain) = %q, want empty", k)
	}
	if k := rferrors.KindOf(nil); k != "" {
		t.Errorf("KindOf(nil) = %q, want empty", k)
	}
	err := rferrors.New(rferrors.KindNotBound, "registry.lookup", "")
	if k := rferrors.KindOf(err); k != rferrors.KindNotBound {
		t.Errorf("KindOf() = %q, want %q", k, rferrors.KindNotBound)
	}
}

func TestIsRetryable(t *testing.T) {
	if rferrors.IsRetryable(errors.New("plain")) {
		t.Error("unclassified errors are not retryable")
	}
	if !rferrors.IsRetryable(rferrors.New(rferrors.KindRegistryUnreachable, "registry.list", "")) {
		t.Error("registry_unreachable should be retryable")
	}
}
