package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/crossfix/internal/backend"
	"github.com/Iron-Ham/crossfix/internal/config"
	"github.com/Iron-Ham/crossfix/internal/engine"
	"github.com/Iron-Ham/crossfix/internal/event"
	"github.com/Iron-Ham/crossfix/internal/logging"
	"github.com/Iron-Ham/crossfix/internal/metrics"
	"github.com/Iron-Ham/crossfix/internal/review"
	"github.com/Iron-Ham/crossfix/internal/router"
)

// session holds everything one command invocation wires together.
type session struct {
	cfg       *config.Config
	fs        afero.Fs
	runID     string
	workDir   string
	outputDir string
	bus       *event.Bus
	logger    *logging.Logger
	registry  *backend.Registry
	reviewer  *review.Engine
	engine    *engine.Engine
	stop      context.CancelFunc
}

type sessionOptions struct {
	// persist writes history and the debug log under the output directory.
	persist bool
}

func newSession(ctx context.Context, cfg *config.Config, workDir string, opts sessionOptions) (*session, error) {
	absDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", workDir, err)
	}

	s := &session{
		cfg:     cfg,
		fs:      afero.NewOsFs(),
		runID:   uuid.NewString(),
		workDir: absDir,
		bus:     event.NewBus(),
		logger:  logging.NopLogger(),
		stop:    func() {},
	}
	if opts.persist {
		s.outputDir = cfg.Paths.ResolveOutputDir(absDir)
	}

	if cfg.Logging.Enabled && s.outputDir != "" {
		logger, err := logging.NewLoggerWithRotation(s.fs, filepath.Join(s.outputDir, s.runID), cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		s.logger = logger
	}

	routerOpts := []router.Option{router.WithBus(s.bus), router.WithLogger(s.logger)}
	if cfg.Metrics.Addr != "" {
		m := metrics.New()
		m.Attach(s.bus)
		routerOpts = append(routerOpts, router.WithMetrics(m))

		serveCtx, cancel := context.WithCancel(ctx)
		s.stop = cancel
		go func() {
			if err := m.Serve(serveCtx, cfg.Metrics.Addr, s.logger); err != nil {
				s.logger.Error("metrics endpoint failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
	}

	s.registry, err = backend.NewRegistryFromConfig(cfg, backend.Options{FS: s.fs, Logger: s.logger})
	if err != nil {
		s.close()
		return nil, err
	}
	for id, availErr := range s.registry.Availability() {
		if availErr != nil {
			s.logger.Warn("backend unavailable", "backend", id, "error", availErr)
		}
	}

	s.reviewer = review.NewEngine(
		s.registry.ReviewSlot(cfg.Review.ReviewerA),
		s.registry.ReviewSlot(cfg.Review.ReviewerB),
		review.MatchConfig{
			LineTolerance:        cfg.Review.LineTolerance,
			DescriptionThreshold: cfg.Review.DescriptionThreshold,
			NoLineThreshold:      cfg.Review.NoLineThreshold,
		},
		review.WithBus(s.bus),
		review.WithLogger(s.logger),
	)

	engineOpts := []engine.Option{
		engine.WithFS(s.fs),
		engine.WithBus(s.bus),
		engine.WithLogger(s.logger),
		engine.WithRouter(router.New(engine.RouterConfig(cfg), routerOpts...)),
	}
	if s.outputDir != "" {
		engineOpts = append(engineOpts, engine.WithOutputDir(s.outputDir))
	}
	s.engine = engine.New(cfg, s.registry, s.reviewer, engineOpts...)
	return s, nil
}

func (s *session) plan(text string) engine.Plan {
	return engine.Plan{Text: text, WorkDir: s.workDir, RunID: s.runID}
}

func (s *session) close() {
	s.stop()
	_ = s.logger.Close()
}
