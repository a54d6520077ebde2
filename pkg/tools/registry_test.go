package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nyukimin/picoagent/pkg/permission"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&recordingTool{name: "alpha", level: permission.LevelRead}))
	require.NoError(t, r.Register(&recordingTool{name: "beta", level: permission.LevelRead}))

	_, ok := r.Get("alpha")
	assert.True(t, ok)
	_, ok = r.Get("gamma")
	assert.False(t, ok)

	assert.Equal(t, []string{"alpha", "beta"}, r.Names())

	err := r.Register(&recordingTool{name: "alpha", level: permission.LevelRead})
	assert.ErrorContains(t, err, "already registered")
}

func TestRegistry_ValidateArgs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&schemaTool{inner: &recordingTool{name: "strict"}}))

	tests := []struct {
		name    string
		args    map[string]interface{}
		wantErr bool
	}{
		{"valid", map[string]interface{}{"value": "x"}, false},
		{"missing required", map[string]interface{}{}, true},
		{"nil args", nil, true},
		{"wrong type", map[string]interface{}{"value": 42}, true},
		{"extra keys accepted", map[string]interface{}{"value": "x", "conversation_id": "c"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateArgs("strict", tt.args)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.ErrorContains(t, r.ValidateArgs("ghost", nil), "unknown tool")
}

func TestRegistry_Definitions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&recordingTool{name: "beta"}))
	require.NoError(t, r.Register(&recordingTool{name: "alpha"}))

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Function.Name)
	assert.Equal(t, "beta", defs[1].Function.Name)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "object", defs[0].Function.Parameters["type"])
}
