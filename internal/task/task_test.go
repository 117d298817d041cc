package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	got, err := ParseType(" Generation ")
	require.NoError(t, err)
	assert.Equal(t, Generation, got)

	_, err = ParseType("planning")
	assert.Error(t, err)
}

func TestClassifyTool(t *testing.T) {
	tests := []struct {
		tool string
		want ActionKind
	}{
		{"Write", ActionWrite},
		{"Edit", ActionWrite},
		{"MultiEdit", ActionWrite},
		{"NotebookEdit", ActionWrite},
		{"apply_patch", ActionWrite},
		{"Read", ActionRead},
		{"Glob", ActionRead},
		{"Grep", ActionRead},
		{"LS", ActionRead},
		{"Bash", ActionOther},
		{"TodoWrite", ActionOther},
		{"", ActionOther},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTool(tt.tool))
		})
	}
}

func TestRoundResult_Counts(t *testing.T) {
	r := RoundResult{Actions: []Action{
		NewAction("Read", "plan.md"),
		NewAction("Write", "src/app.py"),
		NewAction("Edit", "src/app.py"),
		NewAction("Write", "src/util.py"),
		NewAction("Bash", "pytest"),
	}}

	assert.Equal(t, 3, r.WriteCount())
	assert.Equal(t, 1, r.ReadCount())
	assert.Equal(t, []string{"src/app.py", "src/util.py"}, r.WrittenTargets())
	assert.Zero(t, RoundResult{}.WriteCount())
}

func TestTask_Prompt(t *testing.T) {
	tk := Task{Objective: "Implement the plan.", Context: "plan text", Payload: "## Issues\n- one"}
	assert.Equal(t, "Implement the plan.\n\n## Context\n\nplan text\n\n## Issues\n- one", tk.Prompt())
	assert.Equal(t, "only", Task{Objective: "only"}.Prompt())
}

func TestCompletionDetector(t *testing.T) {
	d := NewCompletionDetector([]string{"All files implemented", "<promise>DONE</promise>", "  "})

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"phrase any case", "Summary: ALL FILES   IMPLEMENTED.", true},
		{"phrase across newline", "all files\nimplemented", true},
		{"promise tag", "work finished <promise> done </promise>", true},
		{"other promise", "<promise>PARTIAL</promise>", false},
		{"no signal", "wrote src/app.py", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Detect(tt.content))
		})
	}

	var nilDetector *CompletionDetector
	assert.False(t, nilDetector.Detect("all files implemented"))
}
