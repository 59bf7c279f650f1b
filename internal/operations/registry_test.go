package operations_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduetl/internal/operations"
	"eduetl/internal/operations/testutil"
)

func stepIDs(steps []operations.Step) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID()
	}
	return ids
}

func pipelineRegistry(t *testing.T) *operations.Registry {
	t.Helper()
	r := operations.NewRegistry()
	require.NoError(t, r.Register(testutil.NewMockStep("ingest-2022")))
	require.NoError(t, r.Register(testutil.NewMockStep("ingest-2018")))
	require.NoError(t, r.Register(testutil.NewMockStep("transform", "ingest-2022", "ingest-2018")))
	require.NoError(t, r.Register(testutil.NewMockStep("load", "transform")))
	return r
}

func TestRegistryRegister(t *testing.T) {
	r := operations.NewRegistry()
	require.NoError(t, r.Register(testutil.NewMockStep("a")))

	assert.Error(t, r.Register(testutil.NewMockStep("a")), "duplicate id")
	assert.Error(t, r.Register(nil))
	assert.True(t, r.Has("a"))
	assert.Equal(t, 1, r.Count())

	_, err := r.Get("missing")
	assert.Error(t, err)
}

func TestRegistryDependencyOrder(t *testing.T) {
	r := pipelineRegistry(t)

	tests := []struct {
		name string
		ids  []string
		want []string
	}{
		{"all steps", nil, []string{"ingest-2022", "ingest-2018", "transform", "load"}},
		{"ingest only", []string{"ingest-2018", "ingest-2022"}, []string{"ingest-2022", "ingest-2018"}},
		{"transform without ingest", []string{"load", "transform"}, []string{"transform", "load"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps, err := r.DependencyOrder(tt.ids...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stepIDs(steps))
		})
	}
}

func TestRegistryDependencyErrors(t *testing.T) {
	t.Run("unknown dependency", func(t *testing.T) {
		r := operations.NewRegistry()
		require.NoError(t, r.Register(testutil.NewMockStep("load", "transform")))
		assert.Error(t, r.ValidateDependencies())
	})

	t.Run("cycle", func(t *testing.T) {
		r := operations.NewRegistry()
		require.NoError(t, r.Register(testutil.NewMockStep("a", "b")))
		require.NoError(t, r.Register(testutil.NewMockStep("b", "a")))
		_, err := r.DependencyOrder()
		assert.ErrorContains(t, err, "cycle")
	})

	t.Run("unknown selection", func(t *testing.T) {
		_, err := pipelineRegistry(t).DependencyOrder("ingest-1999")
		assert.Error(t, err)
	})
}

func TestRegistryGetDependents(t *testing.T) {
	r := pipelineRegistry(t)
	assert.Equal(t, []string{"transform"}, stepIDs(r.GetDependents("ingest-2018")))
	assert.Empty(t, r.GetDependents("load"))
}
