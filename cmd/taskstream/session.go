package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"taskstream/internal/config"
	"taskstream/internal/conversation"
	"taskstream/internal/events"
	"taskstream/internal/logging"
	"taskstream/internal/metrics"
	"taskstream/internal/store"
)

// session is everything one command invocation needs, opened from config.
type session struct {
	cfg     config.CoreConfig
	logger  logging.Logger
	metrics *metrics.Metrics
	backend Backend
	repo    store.Repository
	engine  *conversation.Engine
	bus     *events.LocalBus

	closers []io.Closer
}

type sessionOptions struct {
	withMetricsServer bool
}

func openSession(ctx context.Context, wiring commandWiring, opts *rootOptions, sopts sessionOptions) (*session, error) {
	cfg, err := wiring.loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel()
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	s := &session{
		cfg:     cfg,
		logger:  logging.New(wiring.stderr, logging.ParseLevel(level)),
		metrics: metrics.New(),
		bus:     events.NewLocalBus(),
	}

	var streamLogger logging.Logger
	if cfg.StreamDebugEnabled() {
		streamLogger, err = s.openStreamLog()
		if err != nil {
			s.logger.Warn("stream log unavailable", logging.Err(err))
		}
	}
	s.backend = wiring.newBackend(cfg, s.logger, streamLogger, s.metrics)

	repo, err := wiring.openRepository(cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.repo = repo

	publisher, err := s.publisher(ctx)
	if err != nil {
		s.logger.Warn("nats unavailable, events stay local", logging.Err(err))
		publisher = s.bus
	}
	s.bus.Subscribe(events.TasksChanged, s.logEvent)
	s.bus.Subscribe(events.JournalChanged, s.logEvent)

	engine, err := conversation.New(conversation.Options{
		UserID:     cfg.UserID(),
		Backend:    s.backend,
		Repository: repo,
		Events:     publisher,
		Logger:     s.logger,
		Metrics:    s.metrics,
		Debounce:   cfg.CacheDebounce(),
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.engine = engine

	if sopts.withMetricsServer && cfg.MetricsAddr() != "" {
		s.serveMetrics(cfg.MetricsAddr())
	}
	return s, nil
}

func (s *session) openStreamLog() (logging.Logger, error) {
	path, err := config.StreamLogPath()
	if err != nil {
		return nil, err
	}
	logger, closer, err := logging.OpenFile(path, logging.Debug)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closer)
	return logger, nil
}

func (s *session) publisher(ctx context.Context) (events.Publisher, error) {
	url := s.cfg.NATSURL()
	if url == "" {
		return s.bus, nil
	}
	nats, err := events.ConnectNATS(ctx, url, s.cfg.SubjectPrefix())
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, nats)
	return events.Multi{s.bus, nats}, nil
}

func (s *session) logEvent(ev events.Event) {
	s.logger.Info("data changed",
		logging.F("signal", string(ev.Signal)),
		logging.F("action_id", ev.ActionID),
		logging.F("card_type", string(ev.CardType)),
	)
}

func (s *session) serveMetrics(addr string) {
	srv := &http.Server{Addr: addr, Handler: s.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics server stopped", logging.F("addr", addr), logging.Err(err))
		}
	}()
	s.closers = append(s.closers, srv)
	s.logger.Info("metrics listening", logging.F("addr", addr))
}

// Close tears down in reverse order of opening. The engine goes first so
// its final cache writes land before the repository closes.
func (s *session) Close() error {
	var errs []error
	if s.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, s.engine.Close(ctx))
		cancel()
	}
	if s.repo != nil {
		errs = append(errs, s.repo.Close())
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	return errors.Join(errs...)
}
