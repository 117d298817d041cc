package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/crossfix/internal/task"
)

func TestParseStreamJSON(t *testing.T) {
	out := `{"type":"system","subtype":"init"}
{"type":"assistant","message":{"content":[{"type":"text","text":"Reading the plan."},{"type":"tool_use","name":"Read","input":{"file_path":"/work/plan.md"}}]}}
{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Write","input":{"file_path":"/work/src/app.py","content":"x"}}]}}
{"type":"item.completed","item":{"type":"file_change","changes":[{"path":"src/util.py"},{"path":"src/cli.py"}]}}
not json at all
{"type":"result","result":"All files implemented"}`

	content, actions := parseStreamJSON(out)
	assert.Equal(t, "All files implemented", content)
	require.Len(t, actions, 4)
	assert.Equal(t, task.Action{Kind: task.ActionRead, Tool: "Read", Target: "/work/plan.md"}, actions[0])
	assert.Equal(t, task.ActionWrite, actions[1].Kind)
	assert.Equal(t, "/work/src/app.py", actions[1].Target)
	assert.Equal(t, "src/util.py", actions[2].Target)
	assert.Equal(t, "src/cli.py", actions[3].Target)
}

func TestParseStreamJSON_TextWithoutResult(t *testing.T) {
	content, actions := parseStreamJSON("{\"type\":\"text\",\"text\":\"first\"}\nplain line\n")
	assert.Equal(t, "first\nplain line", content)
	assert.Empty(t, actions)
}

func TestParseTextWrites(t *testing.T) {
	actions := parseTextWrites("thinking...\nWrote: src/app.py\n  updated: README.md\nThe code was updated by hand")
	require.Len(t, actions, 2)
	assert.Equal(t, "src/app.py", actions[0].Target)
	assert.Equal(t, "README.md", actions[1].Target)
	assert.Equal(t, task.ActionWrite, actions[1].Kind)
}

func TestRelativize(t *testing.T) {
	dir := t.TempDir()
	actions := relativize([]task.Action{
		{Kind: task.ActionWrite, Target: dir + "/src/app.py"},
		{Kind: task.ActionWrite, Target: "already/relative.py"},
		{Kind: task.ActionRead, Target: "/elsewhere/file.py"},
	}, dir)

	assert.Equal(t, "src/app.py", actions[0].Target)
	assert.Equal(t, "already/relative.py", actions[1].Target)
	assert.Equal(t, "/elsewhere/file.py", actions[2].Target)
}

func TestMergeWrites(t *testing.T) {
	parsed := []task.Action{
		task.NewAction("Read", "plan.md"),
		task.NewAction("Write", "a.py"),
	}
	watched := []task.Action{
		{Kind: task.ActionWrite, Tool: "fs.write", Target: "a.py"},
		{Kind: task.ActionWrite, Tool: "fs.write", Target: "b.py"},
		{Kind: task.ActionWrite, Tool: "fs.write", Target: "b.py"},
	}

	got := mergeWrites(parsed, watched)
	require.Len(t, got, 3)
	assert.Equal(t, "b.py", got[2].Target)
}
