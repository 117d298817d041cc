package backend

import "strings"

// afterEcho returns the part of out that follows the last verbatim copy of
// prompt. Tools that print the instructions they were given before their
// reply would otherwise have the prompt read back as their own output.
func afterEcho(out, prompt string) string {
	out = strings.ReplaceAll(out, "\r\n", "\n")
	p := strings.TrimSpace(strings.ReplaceAll(prompt, "\r\n", "\n"))
	if p == "" {
		return out
	}
	if i := strings.LastIndex(out, p); i >= 0 {
		return out[i+len(p):]
	}
	return out
}

// withoutPromptLines drops every line of out that repeats a line of prompt.
// It catches partial echoes, such as a transcript header that quotes only
// part of the instructions.
func withoutPromptLines(out, prompt string) string {
	if strings.TrimSpace(prompt) == "" {
		return out
	}
	echoed := make(map[string]bool)
	for _, line := range strings.Split(prompt, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			echoed[l] = true
		}
	}

	lines := strings.Split(out, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !echoed[strings.TrimSpace(line)] {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
