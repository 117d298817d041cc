package task

import "strings"

// ActionKind classifies a backend tool invocation.
type ActionKind string

const (
	ActionRead  ActionKind = "read"
	ActionWrite ActionKind = "write"
	ActionOther ActionKind = "other"
)

// Action is one entry of a round's action log.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Tool   string     `json:"tool,omitempty"`
	Target string     `json:"target,omitempty"`
}

var toolKinds = map[string]ActionKind{}

func init() {
	for _, name := range []string{
		"write", "edit", "multiedit", "notebookedit",
		"write_file", "edit_file", "create_file", "apply_patch",
		"replace", "str_replace", "fs_write", "file_change",
	} {
		toolKinds[name] = ActionWrite
	}
	for _, name := range []string{
		"read", "glob", "grep", "ls",
		"read_file", "read_many_files", "list_directory",
		"search", "search_files", "webfetch", "fs_read",
	} {
		toolKinds[name] = ActionRead
	}
}

// ClassifyTool maps a tool name reported by a backend to an ActionKind.
func ClassifyTool(name string) ActionKind {
	if kind, ok := toolKinds[strings.ToLower(strings.TrimSpace(name))]; ok {
		return kind
	}
	return ActionOther
}

// NewAction classifies tool and returns the resulting action.
func NewAction(tool, target string) Action {
	return Action{Kind: ClassifyTool(tool), Tool: tool, Target: target}
}
