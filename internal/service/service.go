package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tabwatch/internal/bus"
	"tabwatch/internal/config"
	"tabwatch/internal/health"
	"tabwatch/internal/logger"
	"tabwatch/internal/metrics"
	"tabwatch/internal/netmon"
	"tabwatch/internal/proc"
	"tabwatch/internal/session"
	"tabwatch/pkg/model"
)

const discoveryInterval = 2 * time.Second

// Service wires the session registry, request tracker, and crash watchdog
// into one monitored browser connection.
type Service struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *metrics.Metrics

	bus      *bus.Bus
	registry *session.Registry
	tracker  *netmon.Tracker
	watchdog *health.Watchdog

	mu       sync.Mutex
	running  bool
	stopped  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	seen     map[model.TargetID]struct{}
}

// New assembles a Service from cfg. A nil reg keeps metrics on a private
// registry.
func New(cfg *config.Config, l logger.Logger, reg prometheus.Registerer) *Service {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if l == nil {
		l = logger.NewNop()
	}
	m := metrics.New(reg)
	b := bus.New(l)
	r := session.NewRegistry(cfg.DevTools.URL, l)

	tracker := netmon.New(netmon.Config{
		Pool:          r,
		Logger:        l,
		Metrics:       m,
		Capacity:      cfg.Network.CompletedCapacity,
		Concurrency:   cfg.Network.Concurrency,
		CaptureBodies: cfg.Network.CaptureBodies,
		Viewport: model.LayoutSnapshot{
			ViewportWidth:  cfg.Viewport.Width,
			ViewportHeight: cfg.Viewport.Height,
		},
	})

	var handle proc.Handle
	if cfg.DevTools.BrowserPID > 0 {
		handle = proc.FromPID(cfg.DevTools.BrowserPID)
	}
	watchdog := health.New(health.Config{
		Pool:         r,
		Bus:          b,
		Logger:       l,
		Metrics:      m,
		Process:      handle,
		Grace:        time.Duration(cfg.Watchdog.StartupGraceMS) * time.Millisecond,
		Interval:     time.Duration(cfg.Watchdog.CheckIntervalMS) * time.Millisecond,
		ProbeTimeout: time.Duration(cfg.Watchdog.ProbeTimeoutMS) * time.Millisecond,
	})

	return &Service{
		cfg:      cfg,
		log:      l,
		metrics:  m,
		bus:      b,
		registry: r,
		tracker:  tracker,
		watchdog: watchdog,
		seen:     make(map[model.TargetID]struct{}),
	}
}

// Start connects to the browser and begins monitoring. It fails when the
// DevTools endpoint is unreachable.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.New("service already stopped")
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if _, err := s.registry.Targets(ctx); err != nil {
		return fmt.Errorf("devtools endpoint unreachable: %w", err)
	}

	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	done := s.loopDone
	s.seen = make(map[model.TargetID]struct{})
	s.mu.Unlock()

	s.bus.Publish(model.BrowserConnected{DevToolsURL: s.cfg.DevTools.URL})
	s.tracker.Start(runCtx)
	s.watchdog.Start(runCtx)
	go s.discoverLoop(runCtx, done)

	s.log.Info("service started", "devtools", s.cfg.DevTools.URL)
	return nil
}

// Stop halts monitoring, drains in-flight work, and closes the event bus.
// The service cannot be started again afterwards.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		alreadyStopped := s.stopped
		s.stopped = true
		s.mu.Unlock()
		if !alreadyStopped {
			s.bus.Close()
		}
		return nil
	}
	s.running = false
	s.stopped = true
	cancel := s.cancel
	done := s.loopDone
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.watchdog.Stop()
	s.tracker.Stop()
	s.registry.EvictAll()
	s.metrics.SetSessionsPooled(0)

	s.bus.Publish(model.BrowserStopped{})
	s.bus.Close()
	s.log.Info("service stopped")
	return nil
}

func (s *Service) discoverLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()
	for {
		s.discoverTargets(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// discoverTargets publishes TabCreated for page targets seen for the first
// time, elects a focused tab when none is set, and attaches monitoring.
func (s *Service) discoverTargets(ctx context.Context) {
	infos, err := s.registry.Targets(ctx)
	if err != nil {
		s.log.Warn("target discovery failed", "error", err)
		return
	}

	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		s.mu.Lock()
		_, known := s.seen[info.ID]
		if !known {
			s.seen[info.ID] = struct{}{}
		}
		s.mu.Unlock()
		if known {
			continue
		}

		s.log.Info("tab discovered", "target", string(info.ID), "url", info.URL)
		s.bus.Publish(model.TabCreated{Target: info.ID, URL: info.URL})

		if s.registry.Focused() == "" {
			s.registry.SetFocused(info.ID)
			s.log.Debug("focus elected", "target", string(info.ID))
		}
		if err := s.tracker.Attach(ctx, info.ID); err != nil {
			s.log.Warn("network attach failed", "target", string(info.ID), "error", err)
		}
	}

	s.metrics.SetSessionsPooled(s.registry.Len())
}

// Targets lists the browser's current targets.
func (s *Service) Targets(ctx context.Context) ([]model.TargetInfo, error) {
	return s.registry.Targets(ctx)
}

// FocusTarget marks target as the focused tab and attaches monitoring to it.
func (s *Service) FocusTarget(ctx context.Context, target model.TargetID) error {
	if _, err := s.registry.Acquire(ctx, target, true, false); err != nil {
		return fmt.Errorf("focus %s: %w", target, err)
	}
	if err := s.tracker.Attach(ctx, target); err != nil {
		s.log.Warn("network attach failed", "target", string(target), "error", err)
	}
	return nil
}

// Subscribe registers a browser event subscriber.
func (s *Service) Subscribe() (<-chan model.Event, func()) {
	return s.bus.Subscribe()
}

// Recent returns the latest completed requests, oldest first.
func (s *Service) Recent(limit int) []model.RequestRecord { return s.tracker.Recent(limit) }

// Active returns requests still in flight.
func (s *Service) Active() []model.RequestRecord { return s.tracker.Active() }

// APICalls returns the latest completed API requests.
func (s *Service) APICalls(limit int) []model.RequestRecord { return s.tracker.APICalls(limit) }

// UIResources returns the latest completed page resource requests.
func (s *Service) UIResources(limit int) []model.RequestRecord { return s.tracker.UIResources(limit) }

// Failed returns the latest failed requests.
func (s *Service) Failed(limit int) []model.RequestRecord { return s.tracker.Failed(limit) }

// ByStatus returns the latest requests with the given HTTP status.
func (s *Service) ByStatus(status, limit int) []model.RequestRecord {
	return s.tracker.ByStatus(status, limit)
}

// ByTrigger returns the latest requests whose trigger label matches pattern.
func (s *Service) ByTrigger(pattern string, limit int) []model.RequestRecord {
	return s.tracker.ByTrigger(pattern, limit)
}

// BySection returns the latest requests whose page section matches pattern.
func (s *Service) BySection(pattern string, limit int) []model.RequestRecord {
	return s.tracker.BySection(pattern, limit)
}

// UserTriggered returns the latest requests attributed to user interaction.
func (s *Service) UserTriggered(limit int) []model.RequestRecord {
	return s.tracker.UserTriggered(limit)
}

// Summary reports aggregate traffic counters.
func (s *Service) Summary() model.ActivitySummary { return s.tracker.Summary() }

// AnalyzeRecentActivity reports on traffic inside the trailing window.
func (s *Service) AnalyzeRecentActivity(window time.Duration) model.ActivityWindow {
	return s.tracker.AnalyzeRecentActivity(window)
}

// SectionSummary groups completed requests by page section.
func (s *Service) SectionSummary() model.SectionSummary { return s.tracker.SectionSummary() }

// Clear drops the completed request history.
func (s *Service) Clear() { s.tracker.Clear() }
