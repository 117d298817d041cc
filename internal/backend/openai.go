package backend

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/Iron-Ham/crossfix/internal/config"
	"github.com/Iron-Ham/crossfix/internal/errors"
	"github.com/Iron-Ham/crossfix/internal/logging"
	"github.com/Iron-Ham/crossfix/internal/review"
	"github.com/Iron-Ham/crossfix/internal/task"
)

const (
	executeSystemPrompt = "You are a software engineer working in a repository. " +
		"When you create or change a file, output it in full as a heading line " +
		"\"### FILE: <relative path>\" followed by a fenced code block with the complete contents."
	reviewSystemPrompt = "You are a meticulous code reviewer. Respond with JSON only."
)

// fileBlockRegex matches "### FILE: path" followed by a fenced block.
var fileBlockRegex = regexp.MustCompile("(?ms)^#{2,4}[ \\t]*FILE:[ \\t]*(\\S+)[ \\t]*\\n```[^\\n]*\\n(.*?)\\n?```")

// OpenAIOptions carries the dependencies of an OpenAI-compatible backend.
type OpenAIOptions struct {
	FS           afero.Fs
	Detector     *task.CompletionDetector
	Logger       *logging.Logger
	MaxFileBytes int
	// APIKey overrides the key read from the configured environment variable.
	APIKey string
}

// OpenAI talks to an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	id       string
	cfg      config.BackendConfig
	client   *openai.Client
	apiKey   string
	limiter  *rate.Limiter
	fs       afero.Fs
	detector *task.CompletionDetector
	logger   *logging.Logger
	maxBytes int
}

// NewOpenAI creates an OpenAI-compatible backend. A missing API key is not an
// error here; Available reports it.
func NewOpenAI(id string, cfg config.BackendConfig, opts OpenAIOptions) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, errors.NewValidationError("model is required").WithField("backends." + id + ".model")
	}
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}

	key := opts.APIKey
	if key == "" && cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &OpenAI{
		id:       id,
		cfg:      cfg,
		client:   openai.NewClientWithConfig(clientCfg),
		apiKey:   key,
		limiter:  rate.NewLimiter(limit, 1),
		fs:       opts.FS,
		detector: opts.Detector,
		logger:   opts.Logger.WithComponent("backend").With("backend", id),
		maxBytes: opts.MaxFileBytes,
	}, nil
}

// ID returns the backend id.
func (o *OpenAI) ID() string { return o.id }

// Available reports whether an API key is configured.
func (o *OpenAI) Available() error {
	if o.apiKey == "" {
		msg := "no API key"
		if o.cfg.APIKeyEnv != "" {
			msg = o.cfg.APIKeyEnv + " is not set"
		}
		return errors.NewBackendError(msg, errors.ErrBackendUnavailable).WithBackend(o.id)
	}
	return nil
}

// Execute sends the task prompt and, for generation and auxiliary tasks,
// writes the returned file blocks under the task's working directory.
func (o *OpenAI) Execute(ctx context.Context, t task.Task) (task.RoundResult, error) {
	start := time.Now()
	result := task.RoundResult{Backend: o.id}

	if err := o.Available(); err != nil {
		return result, err
	}
	content, err := o.complete(ctx, executeSystemPrompt, t.Prompt())
	result.Content = content
	result.Duration = time.Since(start)
	if err != nil {
		return result, errors.NewBackendError("chat completion failed", errors.Join(errors.ErrBackendFailed, err)).
			WithBackend(o.id).
			WithTaskType(t.Type.String()).
			WithRetryable(true)
	}

	if t.Type != task.Analysis && t.WorkDir != "" {
		actions, werr := o.writeFiles(t.WorkDir, content)
		result.Actions = actions
		if werr != nil {
			o.logger.Warn("failed to apply file block", "error", werr)
		}
	}
	result.CompletionSignal = o.detector.Detect(content)
	result.Duration = time.Since(start)

	o.logger.Debug("task executed",
		"task_type", t.Type.String(),
		"iteration", t.Iteration,
		"writes", result.WriteCount(),
		"duration", result.Duration,
	)
	return result, nil
}

// Review inlines the artifact set into the prompt and returns the raw response.
func (o *OpenAI) Review(ctx context.Context, req review.Request) (string, error) {
	if err := o.Available(); err != nil {
		return "", errors.Join(errors.ErrReviewerUnavailable, err)
	}

	var sb strings.Builder
	sb.WriteString(req.Prompt)
	sb.WriteString("\n\n## Files\n")
	for _, f := range req.Artifacts.Files {
		data, truncated, err := req.Artifacts.Read(o.fs, f, o.maxBytes)
		if err != nil {
			o.logger.Warn("skipping unreadable artifact", "file", f, "error", err)
			continue
		}
		fmt.Fprintf(&sb, "\n### %s\n```\n%s\n```\n", f, data)
		if truncated {
			sb.WriteString("(truncated)\n")
		}
	}

	content, err := o.complete(ctx, reviewSystemPrompt, sb.String())
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errors.NewBackendError("review request failed", errors.Join(errors.ErrReviewerUnavailable, err)).
			WithBackend(o.id)
	}
	return content, nil
}

func (o *OpenAI) complete(ctx context.Context, system, prompt string) (string, error) {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: o.cfg.Temperature,
	}
	if o.cfg.MaxTokens > 0 {
		req.MaxCompletionTokens = o.cfg.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s", o.cfg.Model)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// writeFiles applies every file block in content under workDir. Paths that
// escape workDir are skipped.
func (o *OpenAI) writeFiles(workDir, content string) ([]task.Action, error) {
	var actions []task.Action
	var errs []error
	for _, m := range fileBlockRegex.FindAllStringSubmatch(content, -1) {
		rel := path.Clean(strings.Trim(strings.ReplaceAll(m[1], "\\", "/"), "`\"'"))
		if rel == "." || path.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, "../") {
			errs = append(errs, fmt.Errorf("refusing to write outside work dir: %s", m[1]))
			continue
		}
		dst := filepath.Join(workDir, filepath.FromSlash(rel))
		if err := o.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := afero.WriteFile(o.fs, dst, []byte(m[2]+"\n"), 0o644); err != nil {
			errs = append(errs, err)
			continue
		}
		actions = append(actions, task.NewAction("Write", rel))
	}
	return actions, errors.Join(errs...)
}
