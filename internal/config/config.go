package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete crossfix configuration
type Config struct {
	Run       RunConfig                `mapstructure:"run"`
	Routing   RoutingConfig            `mapstructure:"routing"`
	Phases    []PhaseConfig            `mapstructure:"phases"`
	Improve   ImproveConfig            `mapstructure:"improve"`
	Review    ReviewConfig             `mapstructure:"review"`
	Backends  map[string]BackendConfig `mapstructure:"backends"`
	Artifacts ArtifactsConfig          `mapstructure:"artifacts"`
	Logging   LoggingConfig            `mapstructure:"logging"`
	Paths     PathsConfig              `mapstructure:"paths"`
	Metrics   MetricsConfig            `mapstructure:"metrics"`
}

// RunConfig bounds the implementation loop
type RunConfig struct {
	// MaxIterations caps implementation rounds
	MaxIterations int `mapstructure:"max_iterations"`
	// MaxTime caps wall-clock time for the whole implementation loop (0 = unlimited)
	MaxTime time.Duration `mapstructure:"max_time"`
	// StallThreshold is the number of consecutive rounds without a write action
	// after which the run is stalled
	StallThreshold int `mapstructure:"stall_threshold"`
	// LoopWarnThreshold is the number of consecutive non-writing rounds after
	// which generation is forced instead of analysis
	LoopWarnThreshold int `mapstructure:"loop_warn_threshold"`
	// PlanningWindow is how many leading rounds may run as analysis while
	// nothing has been written yet
	PlanningWindow int `mapstructure:"planning_window"`
	// CompletionPhrases mark a round's output as declaring completion
	CompletionPhrases []string `mapstructure:"completion_phrases"`
}

// RoutingConfig controls backend selection per task type
type RoutingConfig struct {
	// Enabled turns on per-task-type routing; when false every round uses
	// the current backend
	Enabled bool `mapstructure:"enabled"`
	// DefaultBackend is used when routing is off, and for task types
	// missing from Strategy
	DefaultBackend string `mapstructure:"default_backend"`
	// Strategy maps task type (generation, analysis, auxiliary) to backend id
	Strategy map[string]string `mapstructure:"strategy"`
}

// PhaseConfig is one stage of the phase schedule
type PhaseConfig struct {
	// Kind is "implementation", "self_review_alignment" or "extension"
	Kind string `mapstructure:"kind"`
	// Name labels extension phases
	Name string `mapstructure:"name"`
	// Rounds is the number of iterations for this stage (0 = until completion)
	Rounds int `mapstructure:"rounds"`
	// TaskType overrides the task type for extension phases
	TaskType string `mapstructure:"task_type"`
	// Objective overrides the stage objective text
	Objective string `mapstructure:"objective"`
}

// ImproveConfig controls the fix-apply-verify loop
type ImproveConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	TargetScore   float64 `mapstructure:"target_score"`
	MaxIterations int     `mapstructure:"max_iterations"`
	// BatchSize is the number of consensus issues dispatched per fix round
	BatchSize int `mapstructure:"batch_size"`
	// EarlyStop ends the loop after Patience consecutive non-improving iterations
	EarlyStop bool `mapstructure:"early_stop"`
	Patience  int  `mapstructure:"patience"`
	// Backend pins the fix backend; empty means route the generation task
	Backend string `mapstructure:"backend"`
}

// ReviewConfig controls the dual-reviewer consensus engine
type ReviewConfig struct {
	ReviewerA string `mapstructure:"reviewer_a"`
	ReviewerB string `mapstructure:"reviewer_b"`
	// LineTolerance is how far apart two line ranges may be and still match
	LineTolerance int `mapstructure:"line_tolerance"`
	// DescriptionThreshold is the minimum description similarity (0-1)
	// for issues whose line ranges match
	DescriptionThreshold float64 `mapstructure:"description_threshold"`
	// NoLineThreshold is the minimum similarity when either issue has no line
	NoLineThreshold float64 `mapstructure:"no_line_threshold"`
	// MaxFileBytes truncates each artifact inlined into HTTP review prompts
	MaxFileBytes int `mapstructure:"max_file_bytes"`
}

// BackendConfig describes one backend capability
type BackendConfig struct {
	// Kind is "cli" or "openai"
	Kind string `mapstructure:"kind"`

	// CLI backends
	Command    string   `mapstructure:"command"`
	Args       []string `mapstructure:"args"`
	PromptMode string   `mapstructure:"prompt_mode"` // "arg" or "stdin"
	PTY        bool     `mapstructure:"pty"`
	// OutputFormat is "text" or "stream-json"
	OutputFormat string `mapstructure:"output_format"`
	// Watch records file writes under the working directory during a round
	Watch bool `mapstructure:"watch"`
	// UnavailableMarkers are output fragments meaning the backend refused service
	UnavailableMarkers []string `mapstructure:"unavailable_markers"`

	// OpenAI-compatible backends
	Model             string  `mapstructure:"model"`
	BaseURL           string  `mapstructure:"base_url"`
	APIKeyEnv         string  `mapstructure:"api_key_env"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute"`
	Temperature       float32 `mapstructure:"temperature"`
	MaxTokens         int     `mapstructure:"max_tokens"`

	Timeout time.Duration `mapstructure:"timeout"`
}

// ArtifactsConfig selects the files that make up the artifact set
type ArtifactsConfig struct {
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// PathsConfig controls where run output is written
type PathsConfig struct {
	// OutputDir holds one directory per run (relative paths resolve against
	// the artifact root)
	OutputDir string `mapstructure:"output_dir"`
}

// ResolveOutputDir returns the absolute run output directory for baseDir.
func (p *PathsConfig) ResolveOutputDir(baseDir string) string {
	dir := p.OutputDir
	if dir == "" {
		dir = ".crossfix/runs"
	}
	if len(dir) > 1 && dir[0] == '~' && dir[1] == '/' {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[2:])
		}
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(baseDir, dir)
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the endpoint
	Addr string `mapstructure:"addr"`
}

// Phase kinds
const (
	PhaseImplementation      = "implementation"
	PhaseSelfReviewAlignment = "self_review_alignment"
	PhaseExtension           = "extension"
)

// Backend kinds
const (
	BackendCLI    = "cli"
	BackendOpenAI = "openai"
)

// DefaultCompletionPhrases are the phrases that mark a round as declaring completion.
func DefaultCompletionPhrases() []string {
	return []string{
		"all files implemented",
		"implementation complete",
		"<promise>DONE</promise>",
	}
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Run: RunConfig{
			MaxIterations:     800,
			MaxTime:           2 * time.Hour,
			StallThreshold:    10,
			LoopWarnThreshold: 5,
			PlanningWindow:    3,
			CompletionPhrases: DefaultCompletionPhrases(),
		},
		Routing: RoutingConfig{
			Enabled:        true,
			DefaultBackend: "codex",
			Strategy: map[string]string{
				"generation": "codex",
				"analysis":   "gemini",
				"auxiliary":  "gemini",
			},
		},
		Phases: []PhaseConfig{
			{Kind: PhaseImplementation, Rounds: 0},
			{Kind: PhaseSelfReviewAlignment, Rounds: 1},
		},
		Improve: ImproveConfig{
			Enabled:       true,
			TargetScore:   8.0,
			MaxIterations: 5,
			BatchSize:     5,
			EarlyStop:     false,
			Patience:      2,
		},
		Review: ReviewConfig{
			ReviewerA:            "gemini",
			ReviewerB:            "codex",
			LineTolerance:        5,
			DescriptionThreshold: 0.3,
			NoLineThreshold:      0.6,
			MaxFileBytes:         64 * 1024,
		},
		Backends: map[string]BackendConfig{
			"codex": {
				Kind:               BackendCLI,
				Command:            "codex",
				Args:               []string{"exec", "--sandbox", "workspace-write"},
				PromptMode:         "arg",
				OutputFormat:       "text",
				Watch:              true,
				UnavailableMarkers: []string{"upgrade to Plus"},
				Timeout:            10 * time.Minute,
			},
			"gemini": {
				Kind:         BackendCLI,
				Command:      "gemini",
				Args:         []string{"-p"},
				PromptMode:   "arg",
				OutputFormat: "text",
				Watch:        true,
				Timeout:      10 * time.Minute,
			},
			"openai": {
				Kind:              BackendOpenAI,
				Model:             "gpt-4o-mini",
				APIKeyEnv:         "OPENAI_API_KEY",
				RequestsPerMinute: 60,
				Temperature:       0.3,
				MaxTokens:         4096,
				Timeout:           5 * time.Minute,
			},
		},
		Artifacts: ArtifactsConfig{
			Include: []string{"**"},
			Exclude: []string{"**/test_*.py", "**/__pycache__/**", "**/.*", "**/.*/**"},
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Paths: PathsConfig{
			OutputDir: ".crossfix/runs",
		},
	}
}

// SetDefaults registers default values with the global viper instance
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	// Run defaults
	v.SetDefault("run.max_iterations", defaults.Run.MaxIterations)
	v.SetDefault("run.max_time", defaults.Run.MaxTime)
	v.SetDefault("run.stall_threshold", defaults.Run.StallThreshold)
	v.SetDefault("run.loop_warn_threshold", defaults.Run.LoopWarnThreshold)
	v.SetDefault("run.planning_window", defaults.Run.PlanningWindow)
	v.SetDefault("run.completion_phrases", defaults.Run.CompletionPhrases)

	// Routing defaults
	v.SetDefault("routing.enabled", defaults.Routing.Enabled)
	v.SetDefault("routing.default_backend", defaults.Routing.DefaultBackend)
	v.SetDefault("routing.strategy", defaults.Routing.Strategy)

	// Phase schedule defaults
	phases := make([]map[string]any, 0, len(defaults.Phases))
	for _, p := range defaults.Phases {
		phases = append(phases, map[string]any{"kind": p.Kind, "rounds": p.Rounds})
	}
	v.SetDefault("phases", phases)

	// Improvement loop defaults
	v.SetDefault("improve.enabled", defaults.Improve.Enabled)
	v.SetDefault("improve.target_score", defaults.Improve.TargetScore)
	v.SetDefault("improve.max_iterations", defaults.Improve.MaxIterations)
	v.SetDefault("improve.batch_size", defaults.Improve.BatchSize)
	v.SetDefault("improve.early_stop", defaults.Improve.EarlyStop)
	v.SetDefault("improve.patience", defaults.Improve.Patience)
	v.SetDefault("improve.backend", defaults.Improve.Backend)

	// Review defaults
	v.SetDefault("review.reviewer_a", defaults.Review.ReviewerA)
	v.SetDefault("review.reviewer_b", defaults.Review.ReviewerB)
	v.SetDefault("review.line_tolerance", defaults.Review.LineTolerance)
	v.SetDefault("review.description_threshold", defaults.Review.DescriptionThreshold)
	v.SetDefault("review.no_line_threshold", defaults.Review.NoLineThreshold)
	v.SetDefault("review.max_file_bytes", defaults.Review.MaxFileBytes)

	// Backend defaults
	for id, b := range defaults.Backends {
		prefix := "backends." + id + "."
		v.SetDefault(prefix+"kind", b.Kind)
		v.SetDefault(prefix+"command", b.Command)
		v.SetDefault(prefix+"args", b.Args)
		v.SetDefault(prefix+"prompt_mode", b.PromptMode)
		v.SetDefault(prefix+"pty", b.PTY)
		v.SetDefault(prefix+"output_format", b.OutputFormat)
		v.SetDefault(prefix+"watch", b.Watch)
		v.SetDefault(prefix+"unavailable_markers", b.UnavailableMarkers)
		v.SetDefault(prefix+"model", b.Model)
		v.SetDefault(prefix+"base_url", b.BaseURL)
		v.SetDefault(prefix+"api_key_env", b.APIKeyEnv)
		v.SetDefault(prefix+"requests_per_minute", b.RequestsPerMinute)
		v.SetDefault(prefix+"temperature", b.Temperature)
		v.SetDefault(prefix+"max_tokens", b.MaxTokens)
		v.SetDefault(prefix+"timeout", b.Timeout)
	}

	// Artifact defaults
	v.SetDefault("artifacts.include", defaults.Artifacts.Include)
	v.SetDefault("artifacts.exclude", defaults.Artifacts.Exclude)

	// Logging defaults
	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)

	v.SetDefault("paths.output_dir", defaults.Paths.OutputDir)
	v.SetDefault("metrics.addr", defaults.Metrics.Addr)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "crossfix")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".crossfix"
	}
	return filepath.Join(home, ".config", "crossfix")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
