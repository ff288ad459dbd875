package toolschema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_AcceptsWellFormedAddPlot(t *testing.T) {
	r := NewRegistry()
	err := r.Validate(ToolAddPlot, []byte(`{"title":"Main Quest","description":"Defeat the dragon","player_alignment":0.1}`))
	assert.NoError(t, err)
}

func TestValidate_RejectsUnknownTool(t *testing.T) {
	r := NewRegistry()
	err := r.Validate("summon_dragon", []byte(`{}`))
	require.Error(t, err)
}

func TestValidate_RejectsMalformedJSON(t *testing.T) {
	r := NewRegistry()
	err := r.Validate(ToolRemovePlot, []byte(`{not json`))
	require.Error(t, err)
}

func TestValidate_AcceptsPatchStatePartialState(t *testing.T) {
	r := NewRegistry()
	err := r.Validate(ToolPatchState, []byte(`{"partial_state":{"hp":10}}`))
	assert.NoError(t, err)
}

func TestNames_ListsAllFiveTools(t *testing.T) {
	r := NewRegistry()
	assert.Len(t, r.Names(), 5)
}
