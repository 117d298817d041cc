package backend

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/creack/pty"

	"github.com/Iron-Ham/crossfix/internal/config"
	"github.com/Iron-Ham/crossfix/internal/errors"
	"github.com/Iron-Ham/crossfix/internal/logging"
	"github.com/Iron-Ham/crossfix/internal/review"
	"github.com/Iron-Ham/crossfix/internal/task"
	"github.com/Iron-Ham/crossfix/internal/watch"
)

// Prompt delivery modes for CLI backends.
const (
	PromptModeArg   = "arg"
	PromptModeStdin = "stdin"
)

// Output formats for CLI backends.
const (
	OutputText       = "text"
	OutputStreamJSON = "stream-json"
)

// CLI runs a command-line tool once per task.
type CLI struct {
	id       string
	cfg      config.BackendConfig
	detector *task.CompletionDetector
	logger   *logging.Logger
	lookPath func(string) (string, error)
}

// NewCLI creates a CLI backend.
func NewCLI(id string, cfg config.BackendConfig, detector *task.CompletionDetector, logger *logging.Logger) *CLI {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if cfg.PromptMode == "" {
		cfg.PromptMode = PromptModeArg
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = OutputText
	}
	return &CLI{
		id:       id,
		cfg:      cfg,
		detector: detector,
		logger:   logger.WithComponent("backend").With("backend", id),
		lookPath: exec.LookPath,
	}
}

// ID returns the backend id.
func (c *CLI) ID() string { return c.id }

// Available reports whether the command can be found.
func (c *CLI) Available() error {
	if c.cfg.Command == "" {
		return errors.NewBackendError("no command configured", errors.ErrBackendUnavailable).WithBackend(c.id)
	}
	if _, err := c.lookPath(c.cfg.Command); err != nil {
		return errors.NewBackendError(c.cfg.Command+" not found on PATH", errors.ErrBackendUnavailable).WithBackend(c.id)
	}
	return nil
}

// Execute runs the task's prompt in its working directory. Write actions come
// from the tool's action log when it has one and from the file watcher when
// enabled. A non-zero exit still returns the actions observed.
func (c *CLI) Execute(ctx context.Context, t task.Task) (task.RoundResult, error) {
	start := time.Now()

	var rec *watch.Recorder
	if c.cfg.Watch && t.WorkDir != "" {
		r, err := watch.New(t.WorkDir)
		if err == nil {
			err = r.Start()
		}
		if err != nil {
			c.logger.Warn("file watcher unavailable", "error", err)
		} else {
			rec = r
		}
	}

	prompt := t.Prompt()
	out, exitCode, runErr := c.run(ctx, t.WorkDir, prompt)

	var watched []task.Action
	if rec != nil {
		watched = rec.Stop()
	}

	content, actions := c.parseOutput(out, prompt)
	actions = mergeWrites(relativize(actions, t.WorkDir), watched)

	result := task.RoundResult{
		Backend:          c.id,
		Content:          content,
		Actions:          actions,
		CompletionSignal: c.detector.Detect(withoutPromptLines(content, prompt)),
		Duration:         time.Since(start),
	}

	c.logger.Debug("task executed",
		"task_type", t.Type.String(),
		"iteration", t.Iteration,
		"writes", result.WriteCount(),
		"reads", result.ReadCount(),
		"exit_code", exitCode,
		"duration", result.Duration,
	)

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if marker := c.unavailableMarker(out); marker != "" {
		return result, errors.NewBackendError("backend refused service: "+marker, errors.ErrBackendUnavailable).
			WithBackend(c.id).
			WithTaskType(t.Type.String())
	}
	if runErr != nil {
		return result, errors.NewBackendError("command failed", errors.Join(errors.ErrBackendFailed, runErr)).
			WithBackend(c.id).
			WithTaskType(t.Type.String()).
			WithExitCode(exitCode).
			WithRetryable(true)
	}
	return result, nil
}

// Review runs the review prompt in the artifact root and returns the text
// response.
func (c *CLI) Review(ctx context.Context, req review.Request) (string, error) {
	if err := c.Available(); err != nil {
		return "", errors.Join(errors.ErrReviewerUnavailable, err)
	}
	out, exitCode, runErr := c.run(ctx, req.Artifacts.Root, req.Prompt)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if marker := c.unavailableMarker(out); marker != "" {
		return "", errors.NewBackendError("reviewer refused service: "+marker, errors.ErrReviewerUnavailable).
			WithBackend(c.id)
	}
	if runErr != nil {
		return "", errors.NewBackendError("review command failed", errors.Join(errors.ErrReviewerUnavailable, runErr)).
			WithBackend(c.id).
			WithExitCode(exitCode)
	}
	content, _ := c.parseOutput(out, req.Prompt)
	return content, nil
}

// parseOutput strips terminal styling and any echo of prompt, then extracts
// the reply text and the write actions it reports.
func (c *CLI) parseOutput(out, prompt string) (string, []task.Action) {
	out = afterEcho(ansi.Strip(out), prompt)
	if c.cfg.OutputFormat == OutputStreamJSON {
		return parseStreamJSON(out)
	}
	return strings.TrimSpace(out), parseTextWrites(out)
}

func (c *CLI) unavailableMarker(out string) string {
	lower := strings.ToLower(out)
	for _, m := range c.cfg.UnavailableMarkers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return m
		}
	}
	return ""
}

// run executes the command and returns its combined output and exit code.
// Expiry of the backend's own timeout is reported as a *errors.TimeoutError.
func (c *CLI) run(ctx context.Context, dir, prompt string) (string, int, error) {
	callCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	args := append([]string(nil), c.cfg.Args...)
	if c.cfg.PromptMode == PromptModeArg {
		args = append(args, prompt)
	}
	cmd := exec.CommandContext(callCtx, c.cfg.Command, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	// Children that inherit the output pipe must not hold Wait past cancellation
	cmd.WaitDelay = 2 * time.Second

	var out bytes.Buffer
	var err error
	if c.cfg.PTY {
		err = runPTY(cmd, &out)
	} else {
		if c.cfg.PromptMode == PromptModeStdin {
			cmd.Stdin = strings.NewReader(prompt)
		}
		cmd.Stdout = &out
		cmd.Stderr = &out
		err = cmd.Run()
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = errors.NewTimeoutError(c.id+" "+c.cfg.Command, c.cfg.Timeout).WithCause(err)
	}
	return out.String(), exitCode, err
}

// runPTY runs cmd attached to a pseudo-terminal for tools that only stream
// progress when they detect a TTY. The prompt always travels as an argument;
// configuration rejects stdin prompts on a PTY.
func runPTY(cmd *exec.Cmd, out *bytes.Buffer) error {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = ptmx.Close() }()

	// Reading fails with EIO once the child exits
	_, _ = io.Copy(out, ptmx)
	return cmd.Wait()
}
