package backend

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Iron-Ham/crossfix/internal/task"
)

// targetKeys are the tool input fields that name what a tool acted on, in
// order of preference.
var targetKeys = []string{"file_path", "path", "notebook_path", "filename", "pattern", "command"}

// textWriteRegex matches the file-change lines CLI tools print in plain text mode.
var textWriteRegex = regexp.MustCompile(`(?im)^\s*(?:file update|updated|created|wrote|modified)\s*:\s*(\S+)`)

// parseStreamJSON reads newline-delimited JSON events. Tool invocations
// become actions; result and assistant text become the content. Lines that
// are not JSON are kept as text.
func parseStreamJSON(out string) (content string, actions []task.Action) {
	var text, result []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ev any
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			text = append(text, line)
			continue
		}
		walkEvent(ev, &actions, &text, &result)
	}
	if len(result) > 0 {
		return strings.Join(result, "\n"), actions
	}
	return strings.Join(text, "\n"), actions
}

func walkEvent(v any, actions *[]task.Action, text, result *[]string) {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			walkEvent(item, actions, text, result)
		}
	case map[string]any:
		typ, _ := t["type"].(string)
		switch typ {
		case "tool_use", "function_call", "tool_call":
			name, _ := t["name"].(string)
			*actions = append(*actions, task.NewAction(name, toolTarget(t["input"])))
			return
		case "file_change":
			for _, target := range changePaths(t) {
				*actions = append(*actions, task.Action{Kind: task.ActionWrite, Tool: typ, Target: target})
			}
			return
		case "result":
			if s, ok := t["result"].(string); ok {
				*result = append(*result, s)
				return
			}
		case "text":
			if s, ok := t["text"].(string); ok {
				*text = append(*text, s)
				return
			}
		}
		for _, key := range []string{"message", "content", "item", "items"} {
			if child, ok := t[key]; ok {
				walkEvent(child, actions, text, result)
			}
		}
	}
}

func toolTarget(input any) string {
	m, ok := input.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range targetKeys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func changePaths(m map[string]any) []string {
	var out []string
	if s, ok := m["path"].(string); ok && s != "" {
		out = append(out, s)
	}
	if changes, ok := m["changes"].([]any); ok {
		for _, c := range changes {
			if cm, ok := c.(map[string]any); ok {
				if s, ok := cm["path"].(string); ok && s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

// parseTextWrites finds file-change lines in plain text output.
func parseTextWrites(out string) []task.Action {
	var actions []task.Action
	for _, m := range textWriteRegex.FindAllStringSubmatch(out, -1) {
		actions = append(actions, task.Action{Kind: task.ActionWrite, Tool: "text", Target: m[1]})
	}
	return actions
}

// relativize rewrites absolute targets under workDir as relative paths.
func relativize(actions []task.Action, workDir string) []task.Action {
	if workDir == "" {
		return actions
	}
	root, err := filepath.Abs(workDir)
	if err != nil {
		return actions
	}
	for i, a := range actions {
		if a.Target == "" || !filepath.IsAbs(a.Target) {
			continue
		}
		if rel, err := filepath.Rel(root, a.Target); err == nil && !strings.HasPrefix(rel, "..") {
			actions[i].Target = filepath.ToSlash(rel)
		}
	}
	return actions
}

// mergeWrites appends watched writes whose targets the parsed log does not
// already report as written.
func mergeWrites(parsed, watched []task.Action) []task.Action {
	written := make(map[string]bool)
	for _, a := range parsed {
		if a.Kind == task.ActionWrite {
			written[a.Target] = true
		}
	}
	for _, a := range watched {
		if !written[a.Target] {
			parsed = append(parsed, a)
			written[a.Target] = true
		}
	}
	return parsed
}
