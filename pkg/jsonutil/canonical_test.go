package jsonutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvgate-project/dvgate/pkg/jsonutil"
)

func TestCanonicalMarshal_SortsKeys(t *testing.T) {
	data, err := jsonutil.CanonicalMarshal(map[string]any{
		"zebra": 1,
		"alpha": 2,
		"mid":   map[string]any{"b": 1, "a": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":{"a":2,"b":1},"zebra":1}`, string(data))
}

func TestCanonicalMarshal_Deterministic(t *testing.T) {
	type rec struct {
		User  string   `json:"user"`
		Files []string `json:"files"`
	}
	v := rec{User: "Alice", Files: []string{"b", "a"}}

	first, err := jsonutil.CanonicalMarshal(v)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		next, err := jsonutil.CanonicalMarshal(v)
		require.NoError(t, err)
		assert.Equal(t, first, next)
	}
}

func TestCanonicalMarshal_ArraysKeepOrder(t *testing.T) {
	data, err := jsonutil.CanonicalMarshal([]any{"z", "a", 3, nil, true})
	require.NoError(t, err)
	assert.Equal(t, `["z","a",3,null,true]`, string(data))
}
