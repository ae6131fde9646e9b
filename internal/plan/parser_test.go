package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const planJSON = `{"subtasks":[{"id":1,"description":"collect data","specialists":["data_analyst"],"expected_outputs":["dataset summary"]},{"id":2,"description":"review method","specialists":["methodologist"],"dependencies":[1]}]}`

func TestParseBareJSON(t *testing.T) {
	p, err := Parse(planJSON)
	require.NoError(t, err)
	require.Len(t, p.Subtasks, 2)
	assert.Equal(t, "collect data", p.Subtasks[0].Description)
	assert.Equal(t, []int{1}, p.Subtasks[1].Dependencies)
}

func TestParseFencedJSON(t *testing.T) {
	for _, fence := range []string{
		"```json\n" + planJSON + "\n```",
		"```\n" + planJSON + "\n```",
	} {
		p, err := Parse(fence)
		require.NoError(t, err)
		assert.Len(t, p.Subtasks, 2)
	}
}

func TestParseJSONWrappedInProse(t *testing.T) {
	text := "Here is the plan you asked for:\n\n" + planJSON + "\n\nLet me know if it needs changes."
	p, err := Parse(text)
	require.NoError(t, err)
	assert.Len(t, p.Subtasks, 2)
}

func TestParseBareSubtaskArray(t *testing.T) {
	p, err := Parse(`[{"id":1,"description":"only step","specialists":["data_analyst"]}]`)
	require.NoError(t, err)
	require.Len(t, p.Subtasks, 1)
	assert.Equal(t, 1, p.Subtasks[0].ID)
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", "   "},
		{"no json", "I could not produce a plan."},
		{"unterminated", "plan: {\"subtasks\": ["},
		{"invalid json", `{"subtasks": [}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			assert.Error(t, err)
		})
	}
}
