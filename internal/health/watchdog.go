package health

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tabwatch/internal/logger"
	"tabwatch/internal/metrics"
	"tabwatch/internal/proc"
	"tabwatch/internal/session"
	"tabwatch/pkg/model"
)

const (
	defaultGrace        = 10 * time.Second
	defaultInterval     = 5 * time.Second
	defaultProbeTimeout = time.Second
	navigateTimeout     = 5 * time.Second
	recoveryLimit       = 4
)

// placeholderURLs are the new-tab pages Chrome parks idle tabs on. Probing
// them is unreliable, so the watchdog steers such tabs to about:blank first.
var placeholderURLs = map[string]struct{}{
	"about:blank":            {},
	"chrome://new-tab-page/": {},
	"chrome://newtab/":       {},
}

// State is the watchdog lifecycle phase.
type State string

const (
	StateIdle       State = "idle"
	StateMonitoring State = "monitoring"
	StateStopped    State = "stopped"
)

// Pool is the session registry surface the watchdog drives.
type Pool interface {
	Acquire(ctx context.Context, target model.TargetID, focus, forceNew bool) (*session.Session, error)
	AcquireFocused(ctx context.Context, forceNew bool) (*session.Session, error)
	Evict(target model.TargetID)
	EvictAll()
	Focused() model.TargetID
	ClearFocused()
	Targets(ctx context.Context) ([]model.TargetInfo, error)
}

// Publisher receives the crash events the watchdog raises.
type Publisher interface {
	Publish(ev model.BrowserEvent)
}

// Config carries the watchdog dependencies and timing knobs.
type Config struct {
	Pool         Pool
	Bus          Publisher
	Logger       logger.Logger
	Metrics      *metrics.Metrics
	Process      proc.Handle
	Grace        time.Duration
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// Watchdog periodically probes the focused tab and the browser process,
// evicting dead sessions and publishing crash events.
type Watchdog struct {
	pool    Pool
	bus     Publisher
	log     logger.Logger
	metrics *metrics.Metrics
	process proc.Handle

	grace        time.Duration
	interval     time.Duration
	probeTimeout time.Duration

	mu           sync.Mutex
	state        State
	cancel       context.CancelFunc
	recoveryStop context.CancelFunc
	recovery     *errgroup.Group
	recoveryCtx  context.Context
	loopDone     chan struct{}
	listeners    map[model.SessionID]struct{}
	listenerWG   sync.WaitGroup

	probe      func(ctx context.Context, s *session.Session) error
	navigate   func(ctx context.Context, s *session.Session, url string) error
	crashWatch func(ctx context.Context, s *session.Session)
}

// New builds a Watchdog. Non-positive timing knobs fall back to defaults.
func New(cfg Config) *Watchdog {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	grace := cfg.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}

	w := &Watchdog{
		pool:         cfg.Pool,
		bus:          cfg.Bus,
		log:          log,
		metrics:      m,
		process:      cfg.Process,
		grace:        grace,
		interval:     interval,
		probeTimeout: probeTimeout,
		state:        StateIdle,
		listeners:    make(map[model.SessionID]struct{}),
	}
	w.probe = func(ctx context.Context, s *session.Session) error { return s.Probe(ctx) }
	w.navigate = func(ctx context.Context, s *session.Session, url string) error { return s.Navigate(ctx, url) }
	w.crashWatch = w.consumeCrashes
	return w
}

// State reports the current lifecycle phase.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start begins monitoring after the grace period. Calling it while already
// monitoring is a no-op.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateMonitoring {
		return
	}

	loopCtx, loopCancel := context.WithCancel(ctx)
	recCtx, recCancel := context.WithCancel(ctx)
	rg, rgctx := errgroup.WithContext(recCtx)
	rg.SetLimit(recoveryLimit)

	w.cancel = loopCancel
	w.recoveryStop = recCancel
	w.recovery = rg
	w.recoveryCtx = rgctx
	w.loopDone = make(chan struct{})
	w.listeners = make(map[model.SessionID]struct{})
	w.state = StateMonitoring

	go w.loop(loopCtx, w.loopDone)
	w.log.Info("crash watchdog started", "grace", w.grace, "interval", w.interval)
}

// Stop halts the check loop, then cancels and drains recovery work.
func (w *Watchdog) Stop() {
	w.stop(true)
}

func (w *Watchdog) stop(wait bool) {
	w.mu.Lock()
	if w.state != StateMonitoring {
		w.mu.Unlock()
		return
	}
	w.state = StateStopped
	cancel := w.cancel
	recStop := w.recoveryStop
	rg := w.recovery
	done := w.loopDone
	w.cancel = nil
	w.recoveryStop = nil
	w.recovery = nil
	w.recoveryCtx = nil
	w.mu.Unlock()

	cancel()
	if wait {
		<-done
	}
	recStop()
	w.listenerWG.Wait()
	if rg != nil {
		_ = rg.Wait()
	}

	w.mu.Lock()
	w.listeners = make(map[model.SessionID]struct{})
	w.mu.Unlock()
	w.log.Info("crash watchdog stopped")
}

func (w *Watchdog) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	w.log.Debug("watchdog grace period", "grace", w.grace)
	if !sleepCtx(ctx, w.grace) {
		return
	}
	for {
		if !w.checkHealth(ctx) {
			w.stop(false)
			return
		}
		if !sleepCtx(ctx, w.interval) {
			return
		}
	}
}

// checkHealth runs one cycle. It returns false when the browser process is
// gone and monitoring must end.
func (w *Watchdog) checkHealth(ctx context.Context) bool {
	w.metrics.RecordHealthCheck()

	if s := w.ensureFocused(ctx); s != nil {
		w.watchSession(s)
		w.checkPageTargets(ctx)
		if err := w.probeSession(ctx, s); err != nil {
			w.handleProbeFailure(s, err)
		}
	}

	if crashed, status := w.processCrashed(); crashed {
		w.handleProcessCrash(status)
		return false
	}
	return true
}

// ensureFocused resolves the focused tab session, forcing a fresh dial when
// the cached one is unusable. A nil return skips the tab checks this cycle.
func (w *Watchdog) ensureFocused(ctx context.Context) *session.Session {
	s, err := w.pool.AcquireFocused(ctx, false)
	if err == nil {
		return s
	}
	w.log.Warn("focused tab unavailable, forcing a fresh session", "error", err)
	s, err = w.pool.AcquireFocused(ctx, true)
	if err != nil {
		w.log.Err(err, "no focusable tab for health check")
		return nil
	}
	return s
}

// checkPageTargets walks the page targets: each one's session gets a crash
// listener, and tabs parked on a new-tab placeholder are steered to
// about:blank as routine maintenance.
func (w *Watchdog) checkPageTargets(ctx context.Context) {
	infos, err := w.pool.Targets(ctx)
	if err != nil {
		w.log.Debug("target listing failed during health check", "error", err)
		return
	}
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		s, err := w.pool.Acquire(ctx, info.ID, false, false)
		if err != nil {
			w.log.Debug("page target unavailable during health check", "target", string(info.ID), "error", err)
			continue
		}
		w.watchSession(s)
		if info.URL == "about:blank" {
			continue
		}
		if _, ok := placeholderURLs[info.URL]; !ok {
			continue
		}
		w.log.Info("redirecting new-tab placeholder", "target", string(info.ID), "url", info.URL)
		nctx, cancel := context.WithTimeout(ctx, navigateTimeout)
		if err := w.navigate(nctx, s, "about:blank"); err != nil {
			w.log.Warn("placeholder redirect failed", "target", string(info.ID), "error", err)
		}
		cancel()
	}
}

func (w *Watchdog) probeSession(ctx context.Context, s *session.Session) error {
	pctx, cancel := context.WithTimeout(ctx, w.probeTimeout)
	defer cancel()
	return w.probe(pctx, s)
}

func (w *Watchdog) handleProbeFailure(s *session.Session, err error) {
	w.log.Err(err, "focused tab failed liveness probe", "target", string(s.Target))
	w.pool.Evict(s.Target)
	w.pool.ClearFocused()
	w.metrics.RecordTargetCrash()
	w.bus.Publish(model.BrowserError{
		Kind:    model.TargetCrash,
		Message: "Target crashed: " + string(s.Target),
		Details: map[string]string{"targetId": string(s.Target)},
	})
}

func (w *Watchdog) processCrashed() (bool, string) {
	if w.process == nil {
		return false, ""
	}
	return w.process.Crashed()
}

func (w *Watchdog) handleProcessCrash(status string) {
	pid := w.process.PID()
	w.log.Error("browser process has crashed", "pid", pid, "status", status)
	w.pool.EvictAll()
	w.metrics.RecordProcessCrash()
	w.bus.Publish(model.BrowserError{
		Kind:    model.BrowserProcessCrashed,
		Message: fmt.Sprintf("Browser process %d has crashed", pid),
		Details: map[string]string{"pid": strconv.Itoa(pid), "status": status},
	})
}

// watchSession registers a crash listener for the session, at most once per
// session ID.
func (w *Watchdog) watchSession(s *session.Session) {
	w.mu.Lock()
	ctx := w.recoveryCtx
	if ctx == nil {
		w.mu.Unlock()
		return
	}
	if _, ok := w.listeners[s.ID]; ok {
		w.mu.Unlock()
		return
	}
	w.listeners[s.ID] = struct{}{}
	w.listenerWG.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.listenerWG.Done()
		w.crashWatch(ctx, s)
	}()
	w.log.Debug("crash listener registered", "target", string(s.Target), "sessionID", string(s.ID))
}

func (w *Watchdog) consumeCrashes(ctx context.Context, s *session.Session) {
	cl, err := s.Client().Inspector.TargetCrashed(ctx)
	if err != nil {
		w.log.Err(err, "subscribe targetCrashed failed", "sessionID", string(s.ID))
		w.dropListener(s.ID)
		return
	}
	defer cl.Close()
	for {
		if _, err := cl.Recv(); err != nil {
			if ctx.Err() == nil {
				w.log.Debug("crash stream closed", "sessionID", string(s.ID), "error", err)
			}
			w.dropListener(s.ID)
			return
		}
		w.handleTargetCrash(s)
	}
}

// handleTargetCrash schedules recovery for a crash reported by the browser.
// A full recovery group degrades to inline handling.
func (w *Watchdog) handleTargetCrash(s *session.Session) {
	w.log.Warn("tab crash reported", "target", string(s.Target))

	w.mu.Lock()
	rg := w.recovery
	w.mu.Unlock()
	if rg == nil {
		w.log.Debug("watchdog stopped, crash report ignored", "target", string(s.Target))
		return
	}

	target := s.Target
	task := func() error {
		w.recoverCrashedTarget(target)
		return nil
	}
	if !rg.TryGo(task) {
		w.log.Warn("recovery group full, handling crash inline", "target", string(target))
		_ = task()
	}
}

func (w *Watchdog) recoverCrashedTarget(target model.TargetID) {
	w.metrics.RecordTargetCrash()
	w.bus.Publish(model.BrowserError{
		Kind:    model.TargetCrash,
		Message: "Target crashed: " + string(target),
		Details: map[string]string{"targetId": string(target)},
	})
	w.pool.Evict(target)
	if w.pool.Focused() == target {
		w.pool.ClearFocused()
	}
}

func (w *Watchdog) dropListener(id model.SessionID) {
	w.mu.Lock()
	delete(w.listeners, id)
	w.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
