package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabwatch/internal/proc"
	"tabwatch/internal/session"
	"tabwatch/pkg/model"
)

type fakePool struct {
	mu           sync.Mutex
	session      *session.Session
	pageSessions map[model.TargetID]*session.Session
	acquireErrs  []error
	forceNews    []bool
	evicted      []model.TargetID
	evictAlls    int
	focused      model.TargetID
	cleared      int
	targets      []model.TargetInfo
}

func (p *fakePool) Acquire(ctx context.Context, target model.TargetID, focus, forceNew bool) (*session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.pageSessions[target]; ok {
		return s, nil
	}
	if p.session != nil && p.session.Target == target {
		return p.session, nil
	}
	return nil, errors.New("no session for target")
}

func (p *fakePool) AcquireFocused(ctx context.Context, forceNew bool) (*session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forceNews = append(p.forceNews, forceNew)
	if len(p.acquireErrs) > 0 {
		err := p.acquireErrs[0]
		p.acquireErrs = p.acquireErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return p.session, nil
}

func (p *fakePool) Evict(target model.TargetID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evicted = append(p.evicted, target)
	if p.focused == target {
		p.focused = ""
	}
}

func (p *fakePool) EvictAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictAlls++
	p.focused = ""
}

func (p *fakePool) Focused() model.TargetID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focused
}

func (p *fakePool) ClearFocused() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared++
	p.focused = ""
}

func (p *fakePool) Targets(ctx context.Context) ([]model.TargetInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.targets, nil
}

func (p *fakePool) evictAllCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evictAlls
}

type fakeBus struct {
	mu     sync.Mutex
	events []model.BrowserEvent
}

func (b *fakeBus) Publish(ev model.BrowserEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *fakeBus) errorsOf(kind model.ErrorKind) []model.BrowserError {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.BrowserError
	for _, ev := range b.events {
		if be, ok := ev.(model.BrowserError); ok && be.Kind == kind {
			out = append(out, be)
		}
	}
	return out
}

func blockingCrashWatch(counter *atomic.Int32) func(ctx context.Context, s *session.Session) {
	return func(ctx context.Context, s *session.Session) {
		counter.Add(1)
		<-ctx.Done()
	}
}

func TestDefaults(t *testing.T) {
	w := New(Config{})
	assert.Equal(t, 10*time.Second, w.grace)
	assert.Equal(t, 5*time.Second, w.interval)
	assert.Equal(t, time.Second, w.probeTimeout)
	assert.Equal(t, StateIdle, w.State())
}

func TestProbeFailurePublishesTargetCrash(t *testing.T) {
	pool := &fakePool{session: &session.Session{ID: "sess-1", Target: "T1"}, focused: "T1"}
	bus := &fakeBus{}
	w := New(Config{Pool: pool, Bus: bus})
	w.probe = func(ctx context.Context, s *session.Session) error {
		return errors.New("evaluate timed out")
	}

	keepGoing := w.checkHealth(context.Background())
	assert.True(t, keepGoing)

	assert.Equal(t, []model.TargetID{"T1"}, pool.evicted)
	assert.Equal(t, 1, pool.cleared)

	crashes := bus.errorsOf(model.TargetCrash)
	require.Len(t, crashes, 1)
	assert.Equal(t, "Target crashed: T1", crashes[0].Message)
	assert.Equal(t, "T1", crashes[0].Details["targetId"])
}

func TestHealthyProbeLeavesPoolAlone(t *testing.T) {
	pool := &fakePool{session: &session.Session{ID: "sess-1", Target: "T1"}, focused: "T1"}
	bus := &fakeBus{}
	w := New(Config{Pool: pool, Bus: bus})
	w.probe = func(ctx context.Context, s *session.Session) error { return nil }

	assert.True(t, w.checkHealth(context.Background()))
	assert.Empty(t, pool.evicted)
	assert.Empty(t, bus.events)
}

func TestEnsureFocusedRetriesWithForceNew(t *testing.T) {
	pool := &fakePool{
		session:     &session.Session{ID: "sess-2", Target: "T1"},
		acquireErrs: []error{errors.New("stale session")},
	}
	var probes atomic.Int32
	w := New(Config{Pool: pool, Bus: &fakeBus{}})
	w.probe = func(ctx context.Context, s *session.Session) error {
		probes.Add(1)
		return nil
	}

	w.checkHealth(context.Background())

	assert.Equal(t, []bool{false, true}, pool.forceNews)
	assert.Equal(t, int32(1), probes.Load())
}

func TestNoFocusableTabSkipsTabChecks(t *testing.T) {
	pool := &fakePool{acquireErrs: []error{errors.New("gone"), errors.New("still gone")}}
	bus := &fakeBus{}
	var probes atomic.Int32
	w := New(Config{Pool: pool, Bus: bus})
	w.probe = func(ctx context.Context, s *session.Session) error {
		probes.Add(1)
		return nil
	}

	assert.True(t, w.checkHealth(context.Background()))
	assert.Zero(t, probes.Load())
	assert.Empty(t, bus.events)
}

func TestPlaceholderRedirect(t *testing.T) {
	cases := []struct {
		name     string
		info     model.TargetInfo
		redirect bool
	}{
		{"new tab page", model.TargetInfo{ID: "T1", Type: "page", URL: "chrome://new-tab-page/"}, true},
		{"newtab", model.TargetInfo{ID: "T1", Type: "page", URL: "chrome://newtab/"}, true},
		{"already blank", model.TargetInfo{ID: "T1", Type: "page", URL: "about:blank"}, false},
		{"regular page", model.TargetInfo{ID: "T1", Type: "page", URL: "https://example.com"}, false},
		{"not a page", model.TargetInfo{ID: "T1", Type: "background_page", URL: "chrome://newtab/"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pool := &fakePool{
				session: &session.Session{ID: "sess-1", Target: "T1"},
				targets: []model.TargetInfo{tc.info},
			}
			w := New(Config{Pool: pool, Bus: &fakeBus{}})
			w.probe = func(ctx context.Context, s *session.Session) error { return nil }

			var navigated []string
			w.navigate = func(ctx context.Context, s *session.Session, url string) error {
				navigated = append(navigated, url)
				return nil
			}

			w.checkHealth(context.Background())

			if tc.redirect {
				assert.Equal(t, []string{"about:blank"}, navigated)
			} else {
				assert.Empty(t, navigated)
			}
		})
	}
}

func TestProcessCrashStopsMonitoring(t *testing.T) {
	pool := &fakePool{session: &session.Session{ID: "sess-1", Target: "T1"}, focused: "T1"}
	bus := &fakeBus{}
	var probes atomic.Int32
	w := New(Config{
		Pool:     pool,
		Bus:      bus,
		Process:  &proc.Static{ID: 4242, Dead: true, StatusID: "zombie"},
		Grace:    time.Millisecond,
		Interval: time.Millisecond,
	})
	w.probe = func(ctx context.Context, s *session.Session) error {
		probes.Add(1)
		return nil
	}
	w.crashWatch = func(ctx context.Context, s *session.Session) { <-ctx.Done() }

	w.Start(context.Background())

	require.Eventually(t, func() bool { return w.State() == StateStopped }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, pool.evictAllCount())

	crashes := bus.errorsOf(model.BrowserProcessCrashed)
	require.Len(t, crashes, 1)
	assert.Equal(t, "Browser process 4242 has crashed", crashes[0].Message)
	assert.Equal(t, "4242", crashes[0].Details["pid"])
	assert.Equal(t, "zombie", crashes[0].Details["status"])

	seen := probes.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, seen, probes.Load())

	w.Stop()
	assert.Equal(t, StateStopped, w.State())
}

func TestCrashListenerRegisteredOnce(t *testing.T) {
	pool := &fakePool{session: &session.Session{ID: "sess-1", Target: "T1"}, focused: "T1"}
	var watchers atomic.Int32
	w := New(Config{Pool: pool, Bus: &fakeBus{}, Grace: time.Hour, Interval: time.Hour})
	w.probe = func(ctx context.Context, s *session.Session) error { return nil }
	w.crashWatch = blockingCrashWatch(&watchers)

	w.Start(context.Background())
	defer w.Stop()

	w.checkHealth(context.Background())
	require.Eventually(t, func() bool { return watchers.Load() == 1 }, time.Second, 5*time.Millisecond)

	w.checkHealth(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), watchers.Load())
}

func TestPageTargetListenersRegistered(t *testing.T) {
	pool := &fakePool{
		session: &session.Session{ID: "sess-1", Target: "T1"},
		focused: "T1",
		pageSessions: map[model.TargetID]*session.Session{
			"T2": {ID: "sess-2", Target: "T2"},
		},
		targets: []model.TargetInfo{
			{ID: "T1", Type: "page", URL: "https://example.com"},
			{ID: "T2", Type: "page", URL: "https://example.org"},
			{ID: "BG", Type: "background_page", URL: "chrome://extensions"},
		},
	}
	var watchers atomic.Int32
	w := New(Config{Pool: pool, Bus: &fakeBus{}, Grace: time.Hour, Interval: time.Hour})
	w.probe = func(ctx context.Context, s *session.Session) error { return nil }
	w.crashWatch = blockingCrashWatch(&watchers)

	w.Start(context.Background())
	defer w.Stop()

	w.checkHealth(context.Background())
	require.Eventually(t, func() bool { return watchers.Load() == 2 }, time.Second, 5*time.Millisecond)

	w.checkHealth(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), watchers.Load())
}

func TestTargetCrashRecovery(t *testing.T) {
	pool := &fakePool{session: &session.Session{ID: "sess-9", Target: "T9"}, focused: "T9"}
	bus := &fakeBus{}
	w := New(Config{Pool: pool, Bus: bus, Grace: time.Hour, Interval: time.Hour})
	w.probe = func(ctx context.Context, s *session.Session) error { return nil }
	w.crashWatch = func(ctx context.Context, s *session.Session) { <-ctx.Done() }

	w.Start(context.Background())

	w.handleTargetCrash(&session.Session{ID: "sess-9", Target: "T9"})

	require.Eventually(t, func() bool {
		return len(bus.errorsOf(model.TargetCrash)) == 1
	}, time.Second, 5*time.Millisecond)

	crash := bus.errorsOf(model.TargetCrash)[0]
	assert.Equal(t, "Target crashed: T9", crash.Message)

	pool.mu.Lock()
	evicted := append([]model.TargetID(nil), pool.evicted...)
	pool.mu.Unlock()
	assert.Contains(t, evicted, model.TargetID("T9"))

	w.Stop()

	w.handleTargetCrash(&session.Session{ID: "sess-9", Target: "T9"})
	assert.Len(t, bus.errorsOf(model.TargetCrash), 1)
}

func TestTargetCrashKeepsUnrelatedFocus(t *testing.T) {
	pool := &fakePool{session: &session.Session{ID: "sess-1", Target: "T1"}, focused: "T1"}
	bus := &fakeBus{}
	w := New(Config{Pool: pool, Bus: bus, Grace: time.Hour, Interval: time.Hour})
	w.crashWatch = func(ctx context.Context, s *session.Session) { <-ctx.Done() }

	w.Start(context.Background())
	defer w.Stop()

	w.handleTargetCrash(&session.Session{ID: "sess-9", Target: "T9"})

	require.Eventually(t, func() bool {
		return len(bus.errorsOf(model.TargetCrash)) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, model.TargetID("T1"), pool.Focused())

	pool.mu.Lock()
	cleared := pool.cleared
	pool.mu.Unlock()
	assert.Zero(t, cleared)
}

func TestGracePeriodDelaysChecks(t *testing.T) {
	pool := &fakePool{session: &session.Session{ID: "sess-1", Target: "T1"}}
	var probes atomic.Int32
	w := New(Config{Pool: pool, Bus: &fakeBus{}, Grace: 150 * time.Millisecond, Interval: time.Hour})
	w.probe = func(ctx context.Context, s *session.Session) error {
		probes.Add(1)
		return nil
	}
	w.crashWatch = func(ctx context.Context, s *session.Session) { <-ctx.Done() }

	w.Start(context.Background())
	defer w.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, probes.Load())

	require.Eventually(t, func() bool { return probes.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	w := New(Config{Pool: &fakePool{}, Bus: &fakeBus{}})
	w.Stop()
	assert.Equal(t, StateIdle, w.State())

	w.Start(context.Background())
	w.Stop()
	w.Stop()
	assert.Equal(t, StateStopped, w.State())
}

func TestRestartAfterStop(t *testing.T) {
	pool := &fakePool{session: &session.Session{ID: "sess-1", Target: "T1"}}
	w := New(Config{Pool: pool, Bus: &fakeBus{}, Grace: time.Hour, Interval: time.Hour})
	w.crashWatch = func(ctx context.Context, s *session.Session) { <-ctx.Done() }

	w.Start(context.Background())
	assert.Equal(t, StateMonitoring, w.State())
	w.Stop()
	assert.Equal(t, StateStopped, w.State())

	w.Start(context.Background())
	assert.Equal(t, StateMonitoring, w.State())
	w.Stop()
}
