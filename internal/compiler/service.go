package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/bundlebridge/internal/observability"
	"github.com/fluxbase-eu/bundlebridge/internal/webpack"
)

// ErrInvalidRequest marks payloads the service could not accept.
var ErrInvalidRequest = errors.New("invalid compiler request")

// BuildObserver is told about every build the service runs.
type BuildObserver interface {
	ObserveBuild(watched bool, errors int, duration time.Duration)
}

// Service answers webpack service requests. Watched builds are kept alive
// between requests and rebuilt when their inputs change.
type Service struct {
	name     string
	logger   zerolog.Logger
	observer BuildObserver
	now      func() time.Time

	mu       sync.Mutex
	watchers map[string]*watchedBuild
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithName registers the service under another name.
func WithName(name string) ServiceOption {
	return func(s *Service) {
		s.name = name
	}
}

// WithObserver reports builds to o.
func WithObserver(o BuildObserver) ServiceOption {
	return func(s *Service) {
		s.observer = o
	}
}

// NewService creates the compiler service.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		name:     webpack.DefaultServiceName,
		logger:   log.With().Str("component", "compiler").Logger(),
		now:      time.Now,
		watchers: make(map[string]*watchedBuild),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name is the name the service is called by.
func (s *Service) Name() string {
	return s.name
}

// Handle decodes a request, runs or looks up the build and returns the
// encoded stats.
func (s *Service) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	var req webpack.ServiceRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Config == "" {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidRequest)
	}

	stats, err := s.Compile(ctx, req)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stats: %w", err)
	}
	return out, nil
}

// Compile returns stats for req, building now or reusing a watched build.
func (s *Service) Compile(ctx context.Context, req webpack.ServiceRequest) (*webpack.CompilerStats, error) {
	if !req.Watch && !req.WatchConfig {
		res, err := s.build(ctx, req, false)
		if err != nil {
			return nil, err
		}
		return res.Stats, nil
	}

	key := watchKey(req)
	s.mu.Lock()
	w, ok := s.watchers[key]
	s.mu.Unlock()
	if ok {
		w.touch(s.now())
		return w.Stats(), nil
	}

	w, err := newWatchedBuild(ctx, req, s.build, s.logger, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.watchers[key]; ok {
		// lost a race with a concurrent first request
		s.mu.Unlock()
		w.Close()
		existing.touch(s.now())
		return existing.Stats(), nil
	}
	s.watchers[key] = w
	s.mu.Unlock()

	s.logger.Info().
		Str("config", req.Config).
		Bool("watch_source", req.Watch).
		Bool("watch_config", req.WatchConfig).
		Msg("Watching bundle")

	return w.Stats(), nil
}

func (s *Service) build(ctx context.Context, req webpack.ServiceRequest, watched bool) (_ *Result, err error) {
	start := time.Now()
	ctx, span := observability.StartBuildSpan(ctx, req.Config, watched)
	defer func() { observability.EndSpan(span, err) }()

	var res *Result
	cfg, err := LoadBundleConfig(req.Config, req.BundleDir)
	if err != nil {
		// a broken config is a compile failure, not a service failure
		res = &Result{Stats: &webpack.CompilerStats{
			Assets:        []webpack.StatsAsset{},
			PathsToAssets: map[string]string{},
			Errors:        []string{err.Error()},
			Warnings:      []string{},
		}}
	} else {
		res, err = Build(ctx, cfg, req.FullStats)
		if err != nil {
			return nil, err
		}
	}

	duration := time.Since(start)
	observability.SetBuildResult(ctx, len(res.Stats.Assets), len(res.Stats.Errors), len(res.Stats.Warnings), duration)
	if s.observer != nil {
		s.observer.ObserveBuild(watched, len(res.Stats.Errors), duration)
	}

	event := s.logger.Debug()
	if len(res.Stats.Errors) > 0 {
		event = s.logger.Warn().Strs("errors", res.Stats.Errors)
	}
	event.
		Str("config", req.Config).
		Int("assets", len(res.Stats.Assets)).
		Dur("duration", duration).
		Msg("Bundle built")

	return res, nil
}

// ActiveWatchers reports how many watched builds are alive.
func (s *Service) ActiveWatchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

// WatchedConfigs lists the configs of the live watched builds.
func (s *Service) WatchedConfigs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	configs := make([]string, 0, len(s.watchers))
	for _, w := range s.watchers {
		configs = append(configs, w.req.Config)
	}
	sort.Strings(configs)
	return configs
}

// EvictIdle stops watched builds that have not been requested for idle.
// A zero idle keeps everything.
func (s *Service) EvictIdle(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}

	now := s.now()
	var evicted []*watchedBuild
	s.mu.Lock()
	for key, w := range s.watchers {
		if now.Sub(w.LastUsed()) > idle {
			evicted = append(evicted, w)
			delete(s.watchers, key)
		}
	}
	s.mu.Unlock()

	for _, w := range evicted {
		w.Close()
		s.logger.Info().Str("config", w.req.Config).Msg("Stopped idle bundle watcher")
	}
	return len(evicted)
}

// Close stops every watched build.
func (s *Service) Close() {
	s.mu.Lock()
	watchers := s.watchers
	s.watchers = make(map[string]*watchedBuild)
	s.mu.Unlock()

	for _, w := range watchers {
		w.Close()
	}
}

func watchKey(req webpack.ServiceRequest) string {
	return fmt.Sprintf("%s|%s|%t|%t|%t", req.Config, req.BundleDir, req.Watch, req.WatchConfig, req.FullStats)
}
