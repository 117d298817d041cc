package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "run.stall_threshold")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidTaskTypes returns the task types a routing strategy may name
func ValidTaskTypes() []string {
	return []string{"generation", "analysis", "auxiliary"}
}

// ValidPhaseKinds returns the valid phase schedule kinds
func ValidPhaseKinds() []string {
	return []string{PhaseImplementation, PhaseSelfReviewAlignment, PhaseExtension}
}

// ValidBackendKinds returns the valid backend kinds
func ValidBackendKinds() []string {
	return []string{BackendCLI, BackendOpenAI}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateRun()...)
	errors = append(errors, c.validateBackends()...)
	errors = append(errors, c.validateRouting()...)
	errors = append(errors, c.validatePhases()...)
	errors = append(errors, c.validateImprove()...)
	errors = append(errors, c.validateReview()...)
	errors = append(errors, c.validateArtifacts()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validatePaths()...)

	return errors
}

func validateScore(field string, score float64) []ValidationError {
	if score < 0 || score > 10 {
		return []ValidationError{{
			Field:   field,
			Value:   score,
			Message: "must be between 0 and 10",
		}}
	}
	return nil
}

func validateRatio(field string, v float64) []ValidationError {
	if v < 0 || v > 1 {
		return []ValidationError{{
			Field:   field,
			Value:   v,
			Message: "must be between 0 and 1",
		}}
	}
	return nil
}

// validateRun validates the RunConfig
func (c *Config) validateRun() []ValidationError {
	var errors []ValidationError

	if c.Run.MaxIterations < 1 {
		errors = append(errors, ValidationError{
			Field:   "run.max_iterations",
			Value:   c.Run.MaxIterations,
			Message: "must be at least 1",
		})
	}

	if c.Run.MaxTime < 0 {
		errors = append(errors, ValidationError{
			Field:   "run.max_time",
			Value:   c.Run.MaxTime,
			Message: "must be non-negative (0 = unlimited)",
		})
	}

	if c.Run.StallThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "run.stall_threshold",
			Value:   c.Run.StallThreshold,
			Message: "must be at least 1",
		})
	}

	// The loop warning has to fire before the stall does to have any effect
	if c.Run.LoopWarnThreshold < 0 || (c.Run.StallThreshold > 0 && c.Run.LoopWarnThreshold >= c.Run.StallThreshold) {
		errors = append(errors, ValidationError{
			Field:   "run.loop_warn_threshold",
			Value:   c.Run.LoopWarnThreshold,
			Message: "must be non-negative and below run.stall_threshold (0 = disabled)",
		})
	}

	if c.Run.PlanningWindow < 0 {
		errors = append(errors, ValidationError{
			Field:   "run.planning_window",
			Value:   c.Run.PlanningWindow,
			Message: "must be non-negative",
		})
	}

	for i, phrase := range c.Run.CompletionPhrases {
		if strings.TrimSpace(phrase) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("run.completion_phrases[%d]", i),
				Value:   phrase,
				Message: "cannot be empty",
			})
		}
	}

	return errors
}

// validateBackends validates each BackendConfig
func (c *Config) validateBackends() []ValidationError {
	var errors []ValidationError

	if len(c.Backends) == 0 {
		return append(errors, ValidationError{
			Field:   "backends",
			Value:   nil,
			Message: "at least one backend must be configured",
		})
	}

	ids := make([]string, 0, len(c.Backends))
	for id := range c.Backends {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		b := c.Backends[id]
		prefix := "backends." + id

		if !slices.Contains(ValidBackendKinds(), b.Kind) {
			errors = append(errors, ValidationError{
				Field:   prefix + ".kind",
				Value:   b.Kind,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackendKinds(), ", ")),
			})
			continue
		}

		switch b.Kind {
		case BackendCLI:
			if b.Command == "" {
				errors = append(errors, ValidationError{
					Field:   prefix + ".command",
					Value:   b.Command,
					Message: "is required for cli backends",
				})
			}
			if b.PromptMode != "" && b.PromptMode != "arg" && b.PromptMode != "stdin" {
				errors = append(errors, ValidationError{
					Field:   prefix + ".prompt_mode",
					Value:   b.PromptMode,
					Message: "must be one of: arg, stdin",
				})
			}
			if b.PTY && b.PromptMode == "stdin" {
				// The terminal echoes stdin back into the captured output
				errors = append(errors, ValidationError{
					Field:   prefix + ".pty",
					Value:   b.PTY,
					Message: "cannot be combined with prompt_mode stdin",
				})
			}
			if b.OutputFormat != "" && b.OutputFormat != "text" && b.OutputFormat != "stream-json" {
				errors = append(errors, ValidationError{
					Field:   prefix + ".output_format",
					Value:   b.OutputFormat,
					Message: "must be one of: text, stream-json",
				})
			}
		case BackendOpenAI:
			if b.Model == "" {
				errors = append(errors, ValidationError{
					Field:   prefix + ".model",
					Value:   b.Model,
					Message: "is required for openai backends",
				})
			}
			if b.RequestsPerMinute < 0 {
				errors = append(errors, ValidationError{
					Field:   prefix + ".requests_per_minute",
					Value:   b.RequestsPerMinute,
					Message: "must be non-negative (0 = unlimited)",
				})
			}
			if b.Temperature < 0 || b.Temperature > 2 {
				errors = append(errors, ValidationError{
					Field:   prefix + ".temperature",
					Value:   b.Temperature,
					Message: "must be between 0 and 2",
				})
			}
		}

		if b.Timeout < 0 {
			errors = append(errors, ValidationError{
				Field:   prefix + ".timeout",
				Value:   b.Timeout,
				Message: "must be non-negative (0 = no per-call timeout)",
			})
		}
	}

	return errors
}

func (c *Config) hasBackend(id string) bool {
	_, ok := c.Backends[id]
	return ok
}

// validateRouting validates the RoutingConfig
func (c *Config) validateRouting() []ValidationError {
	var errors []ValidationError

	if c.Routing.DefaultBackend == "" {
		errors = append(errors, ValidationError{
			Field:   "routing.default_backend",
			Value:   c.Routing.DefaultBackend,
			Message: "is required",
		})
	} else if !c.hasBackend(c.Routing.DefaultBackend) {
		errors = append(errors, ValidationError{
			Field:   "routing.default_backend",
			Value:   c.Routing.DefaultBackend,
			Message: "names an unknown backend",
		})
	}

	taskTypes := make([]string, 0, len(c.Routing.Strategy))
	for tt := range c.Routing.Strategy {
		taskTypes = append(taskTypes, tt)
	}
	slices.Sort(taskTypes)

	for _, tt := range taskTypes {
		id := c.Routing.Strategy[tt]
		if !slices.Contains(ValidTaskTypes(), tt) {
			errors = append(errors, ValidationError{
				Field:   "routing.strategy",
				Value:   tt,
				Message: fmt.Sprintf("task type must be one of: %s", strings.Join(ValidTaskTypes(), ", ")),
			})
		}
		if !c.hasBackend(id) {
			errors = append(errors, ValidationError{
				Field:   "routing.strategy." + tt,
				Value:   id,
				Message: "names an unknown backend",
			})
		}
	}

	return errors
}

// validatePhases validates the phase schedule
func (c *Config) validatePhases() []ValidationError {
	var errors []ValidationError

	if len(c.Phases) == 0 {
		return append(errors, ValidationError{
			Field:   "phases",
			Value:   nil,
			Message: "schedule must contain at least one phase",
		})
	}

	for i, p := range c.Phases {
		field := fmt.Sprintf("phases[%d]", i)
		if !slices.Contains(ValidPhaseKinds(), p.Kind) {
			errors = append(errors, ValidationError{
				Field:   field + ".kind",
				Value:   p.Kind,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidPhaseKinds(), ", ")),
			})
		}
		if p.Rounds < 0 {
			errors = append(errors, ValidationError{
				Field:   field + ".rounds",
				Value:   p.Rounds,
				Message: "must be non-negative (0 = until completion)",
			})
		}
		if p.Kind == PhaseExtension {
			if p.Name == "" {
				errors = append(errors, ValidationError{
					Field:   field + ".name",
					Value:   p.Name,
					Message: "is required for extension phases",
				})
			}
			if strings.TrimSpace(p.Objective) == "" {
				errors = append(errors, ValidationError{
					Field:   field + ".objective",
					Value:   p.Objective,
					Message: "is required for extension phases",
				})
			}
		}
		if p.TaskType != "" && !slices.Contains(ValidTaskTypes(), p.TaskType) {
			errors = append(errors, ValidationError{
				Field:   field + ".task_type",
				Value:   p.TaskType,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidTaskTypes(), ", ")),
			})
		}
	}

	return errors
}

// validateImprove validates the ImproveConfig
func (c *Config) validateImprove() []ValidationError {
	var errors []ValidationError

	errors = append(errors, validateScore("improve.target_score", c.Improve.TargetScore)...)

	if c.Improve.Enabled && c.Improve.MaxIterations < 1 {
		errors = append(errors, ValidationError{
			Field:   "improve.max_iterations",
			Value:   c.Improve.MaxIterations,
			Message: "must be at least 1 when the improvement loop is enabled",
		})
	}
	if c.Improve.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "improve.batch_size",
			Value:   c.Improve.BatchSize,
			Message: "must be at least 1",
		})
	}
	if c.Improve.EarlyStop && c.Improve.Patience < 1 {
		errors = append(errors, ValidationError{
			Field:   "improve.patience",
			Value:   c.Improve.Patience,
			Message: "must be at least 1 when early_stop is set",
		})
	}
	if c.Improve.Backend != "" && !c.hasBackend(c.Improve.Backend) {
		errors = append(errors, ValidationError{
			Field:   "improve.backend",
			Value:   c.Improve.Backend,
			Message: "names an unknown backend",
		})
	}

	return errors
}

// validateReview validates the ReviewConfig
func (c *Config) validateReview() []ValidationError {
	var errors []ValidationError

	for field, id := range map[string]string{
		"review.reviewer_a": c.Review.ReviewerA,
		"review.reviewer_b": c.Review.ReviewerB,
	} {
		if id == "" || !c.hasBackend(id) {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   id,
				Message: "must name a configured backend",
			})
		}
	}
	if c.Review.ReviewerA != "" && c.Review.ReviewerA == c.Review.ReviewerB {
		errors = append(errors, ValidationError{
			Field:   "review.reviewer_b",
			Value:   c.Review.ReviewerB,
			Message: "must differ from review.reviewer_a",
		})
	}
	slices.SortFunc(errors, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })

	if c.Review.LineTolerance < 0 {
		errors = append(errors, ValidationError{
			Field:   "review.line_tolerance",
			Value:   c.Review.LineTolerance,
			Message: "must be non-negative",
		})
	}
	errors = append(errors, validateRatio("review.description_threshold", c.Review.DescriptionThreshold)...)
	errors = append(errors, validateRatio("review.no_line_threshold", c.Review.NoLineThreshold)...)
	if c.Review.MaxFileBytes < 0 {
		errors = append(errors, ValidationError{
			Field:   "review.max_file_bytes",
			Value:   c.Review.MaxFileBytes,
			Message: "must be non-negative (0 = unlimited)",
		})
	}

	return errors
}

// validateArtifacts checks that include and exclude patterns compile
func (c *Config) validateArtifacts() []ValidationError {
	var errors []ValidationError

	check := func(field string, patterns []string) {
		for i, p := range patterns {
			if _, err := glob.Compile(p, '/'); err != nil {
				errors = append(errors, ValidationError{
					Field:   fmt.Sprintf("%s[%d]", field, i),
					Value:   p,
					Message: fmt.Sprintf("invalid glob pattern: %v", err),
				})
			}
		}
	}
	check("artifacts.include", c.Artifacts.Include)
	check("artifacts.exclude", c.Artifacts.Exclude)

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative (0 = no rotation)",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validatePaths validates the PathsConfig
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	if strings.ContainsRune(c.Paths.OutputDir, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "paths.output_dir",
			Value:   c.Paths.OutputDir,
			Message: "path contains invalid null character",
		})
	}

	const maxPathLength = 4096
	if len(c.Paths.OutputDir) > maxPathLength {
		errors = append(errors, ValidationError{
			Field:   "paths.output_dir",
			Value:   c.Paths.OutputDir,
			Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
		})
	}

	return errors
}
