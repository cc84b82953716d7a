package netmon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mafredri/cdp/protocol/network"
	"golang.org/x/sync/errgroup"

	adapter "tabwatch/internal/adapter/cdp"
	"tabwatch/internal/correlate"
	"tabwatch/internal/logger"
	"tabwatch/internal/metrics"
	"tabwatch/internal/session"
	"tabwatch/pkg/model"
)

const (
	defaultCapacity    = 200
	defaultConcurrency = 8
	bodyFetchTimeout   = 3 * time.Second
)

// Pool supplies DevTools sessions for monitored targets.
type Pool interface {
	Acquire(ctx context.Context, target model.TargetID, focus, forceNew bool) (*session.Session, error)
}

// Config carries the tracker dependencies and tuning knobs.
type Config struct {
	Pool          Pool
	Logger        logger.Logger
	Metrics       *metrics.Metrics
	Capacity      int
	Concurrency   int
	CaptureBodies bool
	Viewport      model.LayoutSnapshot
}

// Tracker follows network requests through their lifecycle notifications and
// answers activity queries over the observed traffic.
type Tracker struct {
	pool    Pool
	log     logger.Logger
	metrics *metrics.Metrics
	engine  *correlate.Engine

	capacity      int
	concurrency   int
	captureBodies bool

	mu        sync.RWMutex
	active    map[model.RequestID]*model.RequestRecord
	completed []*model.RequestRecord
	attached  map[model.SessionID]struct{}

	group     *errgroup.Group
	episode   context.Context
	cancel    context.CancelFunc
	consumers sync.WaitGroup

	openStreams func(ctx context.Context, s *session.Session) error
	fetchBody   func(ctx context.Context, s *session.Session, id model.RequestID) (string, error)
}

// New builds a Tracker. Zero tuning values fall back to defaults.
func New(cfg Config) *Tracker {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	t := &Tracker{
		pool:          cfg.Pool,
		log:           log,
		metrics:       m,
		engine:        correlate.New(cfg.Viewport),
		capacity:      capacity,
		concurrency:   concurrency,
		captureBodies: cfg.CaptureBodies,
		active:        make(map[model.RequestID]*model.RequestRecord),
		attached:      make(map[model.SessionID]struct{}),
	}
	t.openStreams = t.openCDPStreams
	t.fetchBody = fetchResponseBody
	return t
}

// Start opens a monitoring episode. It is a no-op while one is running.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	episode, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(episode)
	g.SetLimit(t.concurrency)
	t.group = g
	t.episode = gctx
	t.cancel = cancel
	t.log.Info("network monitoring started", "concurrency", t.concurrency, "capacity", t.capacity)
}

// Stop tears the episode down: streams close, in-flight handlers drain, and
// per-session bookkeeping resets. Completed history survives until Clear.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	group := t.group
	t.cancel = nil
	t.group = nil
	t.episode = nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	t.consumers.Wait()
	_ = group.Wait()

	t.mu.Lock()
	abandoned := len(t.active)
	t.active = make(map[model.RequestID]*model.RequestRecord)
	t.attached = make(map[model.SessionID]struct{})
	t.mu.Unlock()

	t.log.Info("network monitoring stopped", "abandoned", abandoned)
}

// Attach begins monitoring target's network traffic. Repeated calls for the
// same underlying session register listeners at most once.
func (t *Tracker) Attach(ctx context.Context, target model.TargetID) error {
	t.mu.RLock()
	episode := t.episode
	t.mu.RUnlock()
	if episode == nil {
		return errors.New("network monitoring not started")
	}

	s, err := t.pool.Acquire(ctx, target, false, false)
	if err != nil {
		return fmt.Errorf("acquire session for %s: %w", target, err)
	}

	t.mu.Lock()
	if _, ok := t.attached[s.ID]; ok {
		t.mu.Unlock()
		t.log.Debug("session already monitored", "target", string(target), "sessionID", string(s.ID))
		return nil
	}
	t.attached[s.ID] = struct{}{}
	t.mu.Unlock()

	if err := t.openStreams(episode, s); err != nil {
		t.mu.Lock()
		delete(t.attached, s.ID)
		t.mu.Unlock()
		return fmt.Errorf("open event streams: %w", err)
	}

	t.log.Info("network monitoring attached", "target", string(target), "sessionID", string(s.ID))
	return nil
}

// openCDPStreams enables the Network domain and spawns one consumer per
// lifecycle event stream.
func (t *Tracker) openCDPStreams(ctx context.Context, s *session.Session) error {
	if err := s.Client().Network.Enable(ctx, nil); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}
	t.consumers.Add(4)
	go t.consumeRequests(ctx, s)
	go t.consumeResponses(ctx, s)
	go t.consumeFailures(ctx, s)
	go t.consumeFinished(ctx, s)
	return nil
}

func (t *Tracker) consumeRequests(ctx context.Context, s *session.Session) {
	defer t.consumers.Done()
	cl, err := s.Client().Network.RequestWillBeSent(ctx)
	if err != nil {
		t.log.Err(err, "subscribe requestWillBeSent failed", "sessionID", string(s.ID))
		t.streamClosed(ctx, s, err)
		return
	}
	defer cl.Close()
	for {
		ev, err := cl.Recv()
		if err != nil {
			t.streamClosed(ctx, s, err)
			return
		}
		t.dispatch(adapter.ToRequestSent(ev))
	}
}

func (t *Tracker) consumeResponses(ctx context.Context, s *session.Session) {
	defer t.consumers.Done()
	cl, err := s.Client().Network.ResponseReceived(ctx)
	if err != nil {
		t.log.Err(err, "subscribe responseReceived failed", "sessionID", string(s.ID))
		t.streamClosed(ctx, s, err)
		return
	}
	defer cl.Close()
	for {
		ev, err := cl.Recv()
		if err != nil {
			t.streamClosed(ctx, s, err)
			return
		}
		t.applyResponse(adapter.ToResponseReceived(ev))
	}
}

func (t *Tracker) consumeFailures(ctx context.Context, s *session.Session) {
	defer t.consumers.Done()
	cl, err := s.Client().Network.LoadingFailed(ctx)
	if err != nil {
		t.log.Err(err, "subscribe loadingFailed failed", "sessionID", string(s.ID))
		t.streamClosed(ctx, s, err)
		return
	}
	defer cl.Close()
	for {
		ev, err := cl.Recv()
		if err != nil {
			t.streamClosed(ctx, s, err)
			return
		}
		t.applyFailed(adapter.ToLoadingFailed(ev))
	}
}

func (t *Tracker) consumeFinished(ctx context.Context, s *session.Session) {
	defer t.consumers.Done()
	cl, err := s.Client().Network.LoadingFinished(ctx)
	if err != nil {
		t.log.Err(err, "subscribe loadingFinished failed", "sessionID", string(s.ID))
		t.streamClosed(ctx, s, err)
		return
	}
	defer cl.Close()
	for {
		ev, err := cl.Recv()
		if err != nil {
			t.streamClosed(ctx, s, err)
			return
		}
		t.applyFinished(ctx, s, adapter.ToLoadingFinished(ev))
	}
}

// streamClosed drops the session from the attached set so a later Attach can
// re-register it. During shutdown the closure is expected and logged quietly.
func (t *Tracker) streamClosed(ctx context.Context, s *session.Session, err error) {
	if ctx.Err() != nil {
		t.log.Debug("monitoring stopped, event stream closed", "sessionID", string(s.ID))
		return
	}
	t.log.Warn("event stream interrupted, detaching session", "sessionID", string(s.ID), "error", err)
	t.mu.Lock()
	delete(t.attached, s.ID)
	t.mu.Unlock()
}

// dispatch hands request creation to the bounded worker group so a burst
// cannot stall the event stream; a full group degrades to inline handling.
func (t *Tracker) dispatch(n model.RequestSent) {
	t.mu.RLock()
	g := t.group
	t.mu.RUnlock()
	if g == nil {
		t.applyRequestSent(n)
		return
	}
	if !g.TryGo(func() error {
		t.applyRequestSent(n)
		return nil
	}) {
		t.log.Warn("worker group full, handling request inline", "requestID", string(n.RequestID))
		t.applyRequestSent(n)
	}
}

// Apply folds one lifecycle notification into the tracker state.
func (t *Tracker) Apply(n model.Notification) {
	switch v := n.(type) {
	case model.RequestSent:
		t.applyRequestSent(v)
	case model.ResponseReceived:
		t.applyResponse(v)
	case model.LoadingFailed:
		t.applyFailed(v)
	case model.LoadingFinished:
		t.applyFinished(context.Background(), nil, v)
	}
}

func (t *Tracker) applyRequestSent(n model.RequestSent) {
	rec := &model.RequestRecord{
		RequestID:    n.RequestID,
		URL:          n.URL,
		Method:       n.Method,
		ResourceType: n.ResourceType,
		StartTime:    n.Time,
		Initiator:    n.Initiator,
	}
	t.engine.Correlate(rec, nil)

	t.mu.Lock()
	t.active[rec.RequestID] = rec
	t.mu.Unlock()

	t.metrics.RecordRequest(rec.ResourceType)
	if rec.IsAPICall() {
		t.log.Info("api call", "method", rec.Method, "url", trimURL(rec.URL), "trigger", rec.Trigger, "section", rec.UISection)
	} else {
		t.log.Debug("request", "method", rec.Method, "type", rec.ResourceType, "url", trimURL(rec.URL))
	}
}

func (t *Tracker) applyResponse(n model.ResponseReceived) {
	t.mu.Lock()
	rec, ok := t.active[n.RequestID]
	if ok {
		rec.Status = n.Status
		rec.MimeType = n.MimeType
		rec.ResponseHeaders = n.Headers
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	if n.Status >= 400 {
		t.log.Warn("http error response", "status", n.Status, "url", trimURL(rec.URL))
		return
	}
	t.log.Debug("response received", "status", n.Status, "mimeType", n.MimeType, "url", trimURL(rec.URL))
}

func (t *Tracker) applyFailed(n model.LoadingFailed) {
	t.mu.Lock()
	rec, ok := t.active[n.RequestID]
	if ok {
		delete(t.active, n.RequestID)
		rec.Failed = true
		rec.FailureReason = n.Reason
		if rec.FailureReason == "" && n.Canceled {
			rec.FailureReason = "canceled"
		}
		rec.EndTime = time.Now()
		t.store(rec)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	t.metrics.RecordFailure()
	t.log.Warn("request failed", "url", trimURL(rec.URL), "reason", rec.FailureReason, "canceled", n.Canceled)
}

func (t *Tracker) applyFinished(ctx context.Context, s *session.Session, n model.LoadingFinished) {
	t.mu.Lock()
	rec, ok := t.active[n.RequestID]
	if ok {
		delete(t.active, n.RequestID)
		rec.EndTime = time.Now()
		if n.Size > 0 {
			rec.TransferSize = n.Size
		}
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	if t.captureBodies && s != nil && rec.IsAPICall() {
		fctx, cancel := context.WithTimeout(ctx, bodyFetchTimeout)
		body, err := t.fetchBody(fctx, s, n.RequestID)
		cancel()
		if err != nil {
			t.log.Debug("response body unavailable", "requestID", string(n.RequestID), "error", err)
		} else {
			rec.ResponseBody = body
		}
	}

	t.mu.Lock()
	t.store(rec)
	t.mu.Unlock()

	t.metrics.RecordFinished()
	t.log.Debug("request finished", "url", trimURL(rec.URL), "bytes", rec.TransferSize, "duration", rec.Duration())
}

// store appends rec to the completed buffer, evicting the oldest entries
// beyond capacity. Callers hold t.mu.
func (t *Tracker) store(rec *model.RequestRecord) {
	t.completed = append(t.completed, rec)
	if len(t.completed) > t.capacity {
		t.completed = t.completed[len(t.completed)-t.capacity:]
	}
}

func fetchResponseBody(ctx context.Context, s *session.Session, id model.RequestID) (string, error) {
	reply, err := s.Client().Network.GetResponseBody(ctx, network.NewGetResponseBodyArgs(network.RequestID(id)))
	if err != nil {
		return "", err
	}
	return adapter.DecodeBody(reply), nil
}

func trimURL(u string) string {
	if len(u) > 60 {
		return u[:60] + "..."
	}
	return u
}
