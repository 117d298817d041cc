package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldsOf(errs []ValidationError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"target score above 10", func(c *Config) { c.Improve.TargetScore = 11 }, "improve.target_score"},
		{"zero max iterations", func(c *Config) { c.Run.MaxIterations = 0 }, "run.max_iterations"},
		{"negative max time", func(c *Config) { c.Run.MaxTime = -time.Second }, "run.max_time"},
		{"loop warning after stall", func(c *Config) { c.Run.LoopWarnThreshold = 10 }, "run.loop_warn_threshold"},
		{"empty completion phrase", func(c *Config) { c.Run.CompletionPhrases = []string{" "} }, "run.completion_phrases[0]"},
		{"unknown backend kind", func(c *Config) { c.Backends["codex"] = BackendConfig{Kind: "grpc"} }, "backends.codex.kind"},
		{"cli without command", func(c *Config) {
			b := c.Backends["gemini"]
			b.Command = ""
			c.Backends["gemini"] = b
		}, "backends.gemini.command"},
		{"openai without model", func(c *Config) {
			b := c.Backends["openai"]
			b.Model = ""
			c.Backends["openai"] = b
		}, "backends.openai.model"},
		{"pty with stdin prompt", func(c *Config) {
			b := c.Backends["codex"]
			b.PTY = true
			b.PromptMode = "stdin"
			c.Backends["codex"] = b
		}, "backends.codex.pty"},
		{"bad output format", func(c *Config) {
			b := c.Backends["codex"]
			b.OutputFormat = "xml"
			c.Backends["codex"] = b
		}, "backends.codex.output_format"},
		{"unknown default backend", func(c *Config) { c.Routing.DefaultBackend = "nope" }, "routing.default_backend"},
		{"unknown strategy backend", func(c *Config) { c.Routing.Strategy["generation"] = "nope" }, "routing.strategy.generation"},
		{"unknown task type", func(c *Config) { c.Routing.Strategy["planning"] = "codex" }, "routing.strategy"},
		{"empty schedule", func(c *Config) { c.Phases = nil }, "phases"},
		{"unknown phase kind", func(c *Config) { c.Phases[0].Kind = "deploy" }, "phases[0].kind"},
		{"extension without objective", func(c *Config) {
			c.Phases = append(c.Phases, PhaseConfig{Kind: PhaseExtension, Name: "docs"})
		}, "phases[2].objective"},
		{"zero batch size", func(c *Config) { c.Improve.BatchSize = 0 }, "improve.batch_size"},
		{"early stop without patience", func(c *Config) {
			c.Improve.EarlyStop = true
			c.Improve.Patience = 0
		}, "improve.patience"},
		{"same reviewers", func(c *Config) { c.Review.ReviewerB = c.Review.ReviewerA }, "review.reviewer_b"},
		{"threshold above one", func(c *Config) { c.Review.DescriptionThreshold = 1.5 }, "review.description_threshold"},
		{"bad glob", func(c *Config) { c.Artifacts.Exclude = []string{"[a-"} }, "artifacts.exclude[0]"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"null byte path", func(c *Config) { c.Paths.OutputDir = "a\x00b" }, "paths.output_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Contains(t, fieldsOf(cfg.Validate()), tt.field)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	assert.Equal(t, "", ValidationErrors(nil).Error())

	one := ValidationErrors{{Field: "run.max_iterations", Value: 0, Message: "must be at least 1"}}
	assert.Equal(t, "run.max_iterations: must be at least 1 (got: 0)", one.Error())

	two := append(one, ValidationError{Field: "logging.level", Value: "x", Message: "bad"})
	msg := two.Error()
	require.True(t, strings.HasPrefix(msg, "2 validation errors:\n"))
	assert.Contains(t, msg, "  2. logging.level: bad (got: x)")
}
