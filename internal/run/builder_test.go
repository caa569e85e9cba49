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

package run

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilders(t *testing.T) {
	assert.Equal(t, []string{"engine", "static"}, Builders())

	b, err := LookupBuilder("static")
	require.NoError(t, err)

	h, err := b(context.Background(), BuildRequest{RunID: "7"})
	require.NoError(t, err)
	assert.Equal(t, "7", h.ID())

	st, err := h.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusInitialized, st)

	_, err = LookupBuilder("reflective")
	assert.ErrorContains(t, err, "unknown run builder")
}

func TestRegisterBuilder_Duplicate(t *testing.T) {
	assert.Panics(t, func() { RegisterBuilder("static", BuildStatic) })
}

func TestTable_Operating(t *testing.T) {
	ctx := context.Background()
	table := NewTable()
	for _, id := range []string{"a", "b", "c"} {
		h, err := BuildStatic(ctx, BuildRequest{RunID: id})
		require.NoError(t, err)
		table.Add(h)
	}

	a, _ := table.Get("a")
	b, _ := table.Get("b")
	_, err := a.SetStatus(ctx, StatusOperating)
	require.NoError(t, err)
	_, err = b.SetStatus(ctx, StatusOperating)
	require.NoError(t, err)
	_, err = b.SetStatus(ctx, StatusStopped)
	require.NoError(t, err)

	assert.Equal(t, 3, table.Len())
	assert.Equal(t, 1, table.Operating(ctx))

	_, ok := table.Get("missing")
	assert.False(t, ok)
}
