package phase

import (
	"bytes"
	"fmt"
	"text/template"
)

type objectiveData struct {
	WorkDir          string
	ArtifactCount    int
	CompletionPhrase string
	Iteration        int
}

var builtinObjectives = map[Phase]*template.Template{
	Implementation: template.Must(template.New("implementation").Parse(
		`Implement the plan in the context below by creating and editing files in {{.WorkDir}}.
Write complete files to disk; do not only describe them.
{{- if .CompletionPhrase}}
When every file the plan calls for exists and is complete, reply with "{{.CompletionPhrase}}".{{end}}`)),

	SelfReviewAlignment: template.Must(template.New("self_review_alignment").Parse(
		`{{.ArtifactCount}} artifact(s) have been produced in {{.WorkDir}}.
Compare them against the plan in the context below and edit the files directly to fix every deviation, missing piece or defect you find.
{{- if .CompletionPhrase}}
When the artifacts match the plan, reply with "{{.CompletionPhrase}}".{{end}}`)),
}

func renderObjective(stage Stage, data objectiveData) (string, error) {
	tmpl, ok := builtinObjectives[stage.Phase]
	if stage.Objective != "" {
		var err error
		tmpl, err = template.New(stage.Phase.String()).Parse(stage.Objective)
		if err != nil {
			return "", fmt.Errorf("parse objective for %s: %w", stage.Phase, err)
		}
	} else if !ok {
		return "", fmt.Errorf("no objective for phase %s", stage.Phase)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render objective for %s: %w", stage.Phase, err)
	}
	return buf.String(), nil
}
