package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-radiacode/databuf"
	"github.com/arloliu/go-radiacode/internal/pool"
	"github.com/arloliu/go-radiacode/internal/queue"
	"github.com/arloliu/go-radiacode/logger"
	"github.com/arloliu/go-radiacode/session"
)

var (
	// ErrNotRunning is returned by commands issued while the worker is not running.
	ErrNotRunning = errors.New("coordinator: not running")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("coordinator: already running")
	// ErrQueueFull is returned when the command queue holds the maximum number of commands.
	ErrQueueFull = errors.New("coordinator: command queue full")
	// ErrQueueTimeout is returned when a command got no reply within the queue timeout.
	ErrQueueTimeout = errors.New("coordinator: command queue timeout")
)

// CommandFunc is a command executed by the worker with exclusive access to the session.
type CommandFunc func(ctx context.Context, s *session.Session) error

// QueryFunc is a command returning a value, executed like a CommandFunc.
type QueryFunc[T any] func(ctx context.Context, s *session.Session) (T, error)

type result struct {
	val any
	err error
}

type request struct {
	ctx       context.Context
	fn        func(ctx context.Context, s *session.Session) (any, error)
	reply     chan result
	abandoned atomic.Bool
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan StatusEvent
	closed bool
}

func (s *subscriber) send(ev StatusEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}

	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Coordinator owns a session and polls it on two cadences.
//
// A single worker goroutine performs every exchange. It services, in priority order, queued
// commands, the fast tick (real-time data), the slow tick (spectrum) and the retry tick
// (reconnect while Degraded). Concurrent callers therefore queue rather than interleave.
type Coordinator struct {
	sess   *session.Session
	cfg    config
	logger logger.Logger

	cmds queue.Queue[*request]
	wake chan struct{}

	snapMu sync.Mutex
	snap   atomic.Pointer[Snapshot]

	subs      *xsync.MapOf[uint64, *subscriber]
	nextSubID atomic.Uint64
	dropped   atomic.Uint64

	failing atomic.Bool
	started atomic.Bool
	running atomic.Bool
	done    chan struct{}

	openFailures atomic.Int32

	// owned by the worker
	retryTimer *time.Timer
	openDelay  time.Duration
}

// New creates a coordinator for sess. The coordinator takes ownership of the session: it opens
// it when Run starts and closes it when Run returns.
func New(sess *session.Session, opts ...Option) (*Coordinator, error) {
	if sess == nil {
		return nil, errors.New("coordinator: nil session")
	}

	cfg := defaultConfig()
	cfg.logger = sess.Logger()
	cfg.openAttempts = sess.Config().MaxRetries()
	for _, opt := range opts {
		if err := opt.apply(&cfg); err != nil {
			return nil, err
		}
	}

	c := &Coordinator{
		sess:   sess,
		cfg:    cfg,
		logger: cfg.logger.With("component", "coordinator"),
		cmds:   queue.NewLockFreeQueue[*request](),
		wake:   make(chan struct{}, 1),
		subs:   xsync.NewMapOf[uint64, *subscriber](),
		done:   make(chan struct{}),
	}
	c.openDelay, _ = sess.Config().RetryBackoff()
	c.snap.Store(&Snapshot{
		Records: map[databuf.Kind]databuf.Record{},
		State:   sess.State(),
		Stale:   true,
	})

	sess.AddStateHandler(c.onStateChange)

	return c, nil
}

// Session returns the coordinated session. Exchanges must go through Do.
func (c *Coordinator) Session() *session.Session { return c.sess }

// Snapshot returns the latest snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	return *c.snap.Load()
}

// Pending returns the number of queued commands.
func (c *Coordinator) Pending() int { return c.cmds.Length() }

// DroppedEvents returns the number of events dropped because a subscriber was not keeping up.
func (c *Coordinator) DroppedEvents() uint64 { return c.dropped.Load() }

// Subscribe registers a subscriber and returns its event channel and a function that
// unsubscribes and closes the channel. Events are dropped when the channel is full.
// The channel is closed when Run returns.
func (c *Coordinator) Subscribe() (<-chan StatusEvent, func()) {
	id := c.nextSubID.Add(1)
	sub := &subscriber{ch: make(chan StatusEvent, c.cfg.subscriberBuffer)}
	c.subs.Store(id, sub)

	select {
	case <-c.done:
		c.subs.Delete(id)
		sub.close()
	default:
	}

	return sub.ch, func() {
		if s, ok := c.subs.LoadAndDelete(id); ok {
			s.close()
		}
	}
}

// Do queues fn and waits for the worker to execute it.
//
// It returns ErrQueueTimeout when no reply arrives within the queue timeout, or ctx.Err() when
// ctx is done first. A command that already started keeps running, its result is discarded.
func (c *Coordinator) Do(ctx context.Context, fn CommandFunc) error {
	_, err := c.submit(ctx, func(ctx context.Context, s *session.Session) (any, error) {
		return nil, fn(ctx, s)
	})

	return err
}

// Query queues fn like Do and returns its value. The value travels with the reply, so a caller
// that gave up waiting never observes it.
func Query[T any](ctx context.Context, c *Coordinator, fn QueryFunc[T]) (T, error) {
	var zero T

	val, err := c.submit(ctx, func(ctx context.Context, s *session.Session) (any, error) {
		return fn(ctx, s)
	})
	if err != nil {
		return zero, err
	}

	out, _ := val.(T)

	return out, nil
}

func (c *Coordinator) submit(ctx context.Context, fn func(context.Context, *session.Session) (any, error)) (any, error) {
	if !c.running.Load() {
		return nil, ErrNotRunning
	}
	if c.cmds.Length() >= c.cfg.maxPending {
		return nil, ErrQueueFull
	}

	req := &request{ctx: ctx, fn: fn, reply: make(chan result, 1)}
	c.cmds.Enqueue(req)

	select {
	case c.wake <- struct{}{}:
	default:
	}

	timer := pool.AcquireTimer(c.cfg.queueTimeout)
	defer pool.ReleaseTimer(timer)

	select {
	case res := <-req.reply:
		return res.val, res.err
	case <-timer.C:
		req.abandoned.Store(true)
		return nil, ErrQueueTimeout
	case <-ctx.Done():
		req.abandoned.Store(true)
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrNotRunning
	}
}

// Run opens the session and runs the worker until ctx is done. The session is closed on return.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	c.running.Store(true)
	defer c.shutdown()

	fast := time.NewTicker(c.cfg.fastInterval)
	defer fast.Stop()
	slow := time.NewTicker(c.cfg.slowInterval)
	defer slow.Stop()

	c.logger.Info("coordinator started", "fast_interval", c.cfg.fastInterval, "slow_interval", c.cfg.slowInterval)
	c.open(ctx)

	for {
		var fastDue, slowDue, retryDue bool

		select {
		case <-ctx.Done():
			return nil
		case <-c.wake:
		case <-fast.C:
			fastDue = true
		case <-slow.C:
			slowDue = true
		case <-c.retryC():
			retryDue = true
		}

		// pick up every other due tick so the priority order holds
		select {
		case <-fast.C:
			fastDue = true
		default:
		}
		select {
		case <-slow.C:
			slowDue = true
		default:
		}
		if !retryDue {
			select {
			case <-c.retryC():
				retryDue = true
			default:
			}
		}

		c.drainCommands()
		if fastDue {
			c.pollFast(ctx)
			c.drainCommands()
		}
		if slowDue {
			c.pollSlow(ctx)
			c.drainCommands()
		}
		if retryDue {
			c.releaseRetry()
			c.retry(ctx)
		}
		c.armRetry()
	}
}

func (c *Coordinator) shutdown() {
	c.running.Store(false)
	c.releaseRetry()

	for {
		req, ok := c.cmds.Dequeue()
		if !ok {
			break
		}
		req.reply <- result{err: ErrNotRunning}
	}

	if err := c.sess.Close(); err != nil {
		c.logger.Warn("failed to close session", "error", err)
	}

	close(c.done)
	c.subs.Range(func(id uint64, sub *subscriber) bool {
		c.subs.Delete(id)
		sub.close()

		return true
	})

	c.logger.Info("coordinator stopped")
}

func (c *Coordinator) drainCommands() {
	for {
		req, ok := c.cmds.Dequeue()
		if !ok {
			return
		}
		if req.abandoned.Load() {
			continue
		}

		val, err := req.fn(req.ctx, c.sess)
		req.reply <- result{val: val, err: err}
	}
}

// open makes one attempt of the initial open and polls on success.
func (c *Coordinator) open(ctx context.Context) {
	if err := c.sess.Open(ctx); err != nil {
		failures := c.openFailures.Add(1)
		c.markFailure(err)

		if int(failures) >= c.cfg.openAttempts {
			c.logger.Error("giving up opening the session", "attempts", failures, "error", err)
		}

		return
	}

	c.openFailures.Store(0)
	c.openDelay, _ = c.sess.Config().RetryBackoff()
	c.refresh(ctx)
}

// refresh polls both cadences at once, after an open or a reconnect.
func (c *Coordinator) refresh(ctx context.Context) {
	c.pollFast(ctx)
	c.pollSlow(ctx)
}

func (c *Coordinator) retry(ctx context.Context) {
	switch c.sess.State() {
	case session.Degraded:
		err := c.sess.Reconnect(ctx)
		if err == nil {
			c.refresh(ctx)
			return
		}

		c.markFailure(err)
		if errors.Is(err, session.ErrRetriesExhausted) {
			c.logger.Error("session gave up reconnecting", "error", err)
		}

	case session.Disconnected:
		if c.openPending() {
			_, maxDelay := c.sess.Config().RetryBackoff()
			c.openDelay = min(c.openDelay*2, maxDelay)
			c.open(ctx)
		}
	}
}

// openPending reports whether the initial open failed and attempts remain.
func (c *Coordinator) openPending() bool {
	n := int(c.openFailures.Load())
	return n > 0 && n < c.cfg.openAttempts
}

func (c *Coordinator) openFailureCount() int { return int(c.openFailures.Load()) }

func (c *Coordinator) retryC() <-chan time.Time {
	if c.retryTimer == nil {
		return nil
	}

	return c.retryTimer.C
}

// armRetry schedules the retry tick while the session needs one.
func (c *Coordinator) armRetry() {
	if c.retryTimer != nil {
		return
	}

	switch c.sess.State() {
	case session.Degraded:
		c.retryTimer = pool.AcquireTimer(c.sess.NextRetryDelay())
	case session.Disconnected:
		if c.openPending() {
			c.retryTimer = pool.AcquireTimer(c.openDelay)
		}
	}
}

func (c *Coordinator) releaseRetry() {
	pool.ReleaseTimer(c.retryTimer)
	c.retryTimer = nil
}

func (c *Coordinator) pollFast(ctx context.Context) {
	if !c.sess.State().IsReady() {
		return
	}

	batch, err := c.sess.RealTimeData(ctx)
	if len(batch.Records) > 0 {
		now := time.Now()
		c.update(func(s *Snapshot) {
			s.Records = databuf.Merge(s.Records, batch.Records)
			s.UpdatedAt = now
		})
		c.publishAlarms(batch.Records)
	}

	// the link answered, only the trailing records were lost
	if err != nil && !errors.Is(err, databuf.ErrPartialDecode) {
		c.markFailure(err)
		return
	}

	c.markSuccess()
}

func (c *Coordinator) pollSlow(ctx context.Context) {
	if !c.sess.State().IsReady() {
		return
	}

	snap, err := c.sess.Spectrum(ctx)
	if err != nil {
		c.markFailure(err)
		return
	}

	now := time.Now()
	c.update(func(s *Snapshot) {
		s.Spectrum = snap
		s.Calibration = snap.Calibration
		s.SpectrumAt = now
	})
	c.markSuccess()
}

// update applies fn to a copy of the current snapshot and publishes the copy.
func (c *Coordinator) update(fn func(*Snapshot)) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	next := *c.snap.Load()
	fn(&next)
	next.Stale = c.failing.Load() || !next.State.IsReady()
	c.snap.Store(&next)
}

func (c *Coordinator) markFailure(err error) {
	c.update(func(s *Snapshot) { s.LastError = err })

	if !c.failing.CompareAndSwap(false, true) {
		c.logger.Debug("poll failed again", "error", err)
		return
	}

	c.update(func(*Snapshot) {})
	c.logger.Warn("polling failed, serving last known snapshot", "error", err)
	c.publish(StatusEvent{Type: EventStale, State: c.sess.State(), Err: err, At: time.Now()})
}

func (c *Coordinator) markSuccess() {
	if !c.failing.CompareAndSwap(true, false) {
		return
	}

	c.update(func(*Snapshot) {})
	c.logger.Info("polling recovered")
	c.publish(StatusEvent{Type: EventRecovered, State: c.sess.State(), At: time.Now()})
}

func (c *Coordinator) onStateChange(s *session.Session, prev, cur session.State) {
	c.update(func(snap *Snapshot) {
		snap.State = cur
		if cur.IsReady() {
			snap.Device = s.DeviceInfo()
		}
	})

	c.publish(StatusEvent{Type: EventStateChanged, State: cur, PrevState: prev, At: time.Now()})
}

func (c *Coordinator) publishAlarms(records []databuf.Record) {
	for _, rec := range records {
		ev, ok := rec.(databuf.Event)
		if !ok || !ev.ID.IsAlarm() {
			continue
		}

		c.logger.Warn("device alarm", "event", ev.ID, "param", ev.Param)
		c.publish(StatusEvent{Type: EventAlarm, State: c.sess.State(), Alarm: &ev, At: time.Now()})
	}
}

func (c *Coordinator) publish(ev StatusEvent) {
	c.subs.Range(func(_ uint64, sub *subscriber) bool {
		if !sub.send(ev) {
			c.dropped.Add(1)
			c.logger.Debug("subscriber is full, event dropped", "event", ev.Type)
		}

		return true
	})
}
