package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-radiacode/logger"
	"github.com/arloliu/go-radiacode/protocol"
	"github.com/arloliu/go-radiacode/transport"
)

// DeviceInfo describes the device identified by the handshake.
type DeviceInfo struct {
	Boot   protocol.FirmwareVersion
	Target protocol.FirmwareVersion
	Serial string
}

// Session is the logical, stateful connection to one detector.
//
// Every command is a single exchange on the transport, guarded by an exchange gate so that
// concurrent callers never interleave. Commands issued while the session is not Ready fail at
// once with ErrNotConnected. A transport failure closes the link and moves the session to
// Degraded; Reconnect then reopens it, giving up after the configured number of consecutive
// failures.
type Session struct {
	id      uuid.UUID
	desc    transport.Descriptor
	cfg     *Config
	logger  logger.Logger
	state   *stateMgr
	metrics Metrics
	info    atomic.Pointer[DeviceInfo]

	// lifecycle lock, held by Open, Reconnect and Close across the connect and handshake
	connMu     sync.Mutex
	retries    atomic.Int32
	retryDelay atomic.Int64
	exhausted  atomic.Bool

	// exchange gate; guards the fields below
	mu       sync.Mutex
	tr       transport.Transport
	channels int
	notify   []func()
}

// New creates a session for the device identified by desc. The session starts Disconnected.
func New(desc transport.Descriptor, opts ...Option) (*Session, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:       uuid.New(),
		desc:     desc,
		cfg:      cfg,
		channels: cfg.channels,
	}
	s.retryDelay.Store(int64(cfg.retryInitial))
	s.logger = cfg.logger.With("session", s.id.String(), "device", desc.String())
	s.state = newStateMgr(s, s.logger)

	return s, nil
}

// ID returns the unique id of the session.
func (s *Session) ID() uuid.UUID { return s.id }

// Descriptor returns the device descriptor.
func (s *Session) Descriptor() transport.Descriptor { return s.desc }

// Config returns the session configuration.
func (s *Session) Config() *Config { return s.cfg }

// Logger returns the session logger.
func (s *Session) Logger() logger.Logger { return s.logger }

// Metrics returns the session metrics.
func (s *Session) Metrics() *Metrics { return &s.metrics }

// State returns the current state.
func (s *Session) State() State { return s.state.State() }

// AddStateHandler registers handlers invoked on every state transition.
func (s *Session) AddStateHandler(handlers ...StateChangeHandler) {
	s.state.AddHandler(handlers...)
}

// WaitState blocks until the session reaches state or ctx is done.
func (s *Session) WaitState(ctx context.Context, state State) error {
	return s.state.WaitState(ctx, state)
}

// DeviceInfo returns the versions and serial number read by the last handshake.
// It returns the zero value before the first successful open.
func (s *Session) DeviceInfo() DeviceInfo {
	if info := s.info.Load(); info != nil {
		return *info
	}

	return DeviceInfo{}
}

// Channels returns the spectrum channel count in effect. Zero means not yet known.
func (s *Session) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.channels
}

// Open opens the link and performs the handshake.
//
// Open makes a single attempt: on failure the session returns to Disconnected. Open on a Ready
// session is a no-op, and on a Degraded session it behaves like Reconnect. A session whose
// retries were exhausted becomes usable again through Open.
func (s *Session) Open(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	switch s.State() {
	case Ready:
		return nil
	case Degraded:
		return s.reconnectLocked(ctx)
	case Connecting:
		return ErrInvalidTransition
	}

	s.exhausted.Store(false)
	s.retries.Store(0)
	s.retryDelay.Store(int64(s.cfg.retryInitial))
	s.metrics.resetConnRetryGauge()

	if err := s.state.transition(Connecting); err != nil {
		return err
	}

	if err := s.connect(ctx); err != nil {
		s.logger.Error("failed to open session", "error", err)
		_ = s.state.transition(Disconnected)

		return err
	}

	s.logger.Info("session opened", "serial", s.DeviceInfo().Serial, "firmware", s.DeviceInfo().Target)

	return s.state.transition(Ready)
}

// Reconnect makes one reconnect attempt from Degraded.
//
// A failed attempt returns to Degraded and doubles the retry delay. After MaxRetries consecutive
// failures the session moves to Disconnected and ErrRetriesExhausted is returned, wrapping the
// last failure.
func (s *Session) Reconnect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	return s.reconnectLocked(ctx)
}

func (s *Session) reconnectLocked(ctx context.Context) error {
	switch s.State() {
	case Ready:
		return nil
	case Disconnected:
		if s.exhausted.Load() {
			return ErrRetriesExhausted
		}
		return ErrNotConnected
	case Connecting:
		return ErrInvalidTransition
	}

	if err := s.state.transition(Connecting); err != nil {
		return err
	}

	err := s.connect(ctx)
	if err == nil {
		s.retries.Store(0)
		s.retryDelay.Store(int64(s.cfg.retryInitial))
		s.metrics.resetConnRetryGauge()
		s.metrics.incReconnectCount()
		s.logger.Info("session reconnected")

		return s.state.transition(Ready)
	}

	retries := int(s.retries.Add(1))
	s.metrics.incConnRetryGauge()

	if retries >= s.cfg.maxRetries {
		s.exhausted.Store(true)
		s.logger.Error("reconnect retries exhausted", "retries", retries, "error", err)
		_ = s.state.transition(Disconnected)

		return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, retries, err)
	}

	delay := min(time.Duration(s.retryDelay.Load())*2, s.cfg.retryMax)
	s.retryDelay.Store(int64(delay))
	s.logger.Warn("reconnect failed", "retries", retries, "next_delay", delay, "error", err)
	_ = s.state.transition(Degraded)

	return err
}

// NextRetryDelay returns how long to wait before the next reconnect attempt.
func (s *Session) NextRetryDelay() time.Duration {
	return time.Duration(s.retryDelay.Load())
}

// Retries returns the number of consecutive failed reconnects.
func (s *Session) Retries() int {
	return int(s.retries.Load())
}

// Close closes the link and moves the session to Disconnected.
func (s *Session) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	err := s.swapTransport(nil)
	_ = s.state.transition(Disconnected)

	return err
}

// swapTransport installs tr under the exchange gate and closes the previous transport.
func (s *Session) swapTransport(tr transport.Transport) error {
	s.mu.Lock()
	old := s.tr
	s.tr = tr
	s.mu.Unlock()

	if old == nil {
		return nil
	}

	return old.Close()
}

// connect opens a fresh transport and runs the handshake within the connect timeout.
// The exchange gate is not held meanwhile: commands fail fast because the session is Connecting.
func (s *Session) connect(ctx context.Context) error {
	_ = s.swapTransport(nil)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.connectTimeout)
	defer cancel()

	opts := append([]transport.Option{transport.WithLogger(s.logger)}, s.cfg.transportOpts...)
	tr, err := s.cfg.factory(s.desc, opts...)
	if err != nil {
		return err
	}

	if err := tr.Open(ctx); err != nil {
		return err
	}

	info, err := s.handshake(ctx, tr)
	if err != nil {
		_ = tr.Close()
		return err
	}

	s.info.Store(info)

	return s.swapTransport(tr)
}

// handshake negotiates the exchange mode, sets the clock, checks the firmware and reads the
// serial number.
func (s *Session) handshake(ctx context.Context, tr transport.Transport) (*DeviceInfo, error) {
	if _, err := s.roundTrip(ctx, tr, protocol.OpSetExchange, protocol.ExchangePayload); err != nil {
		return nil, fmt.Errorf("session: exchange setup: %w", err)
	}

	if s.cfg.timeSync {
		if _, err := s.roundTrip(ctx, tr, protocol.OpSetTime, protocol.TimePayload(time.Now())); err != nil {
			return nil, fmt.Errorf("session: time sync: %w", err)
		}
	}

	payload, err := s.roundTrip(ctx, tr, protocol.OpGetVersion, nil)
	if err != nil {
		return nil, fmt.Errorf("session: read version: %w", err)
	}

	boot, target, err := protocol.ParseVersion(payload)
	if err != nil {
		s.metrics.incDecodeErrCount()
		return nil, err
	}

	if s.cfg.firmwareCheck && !target.AtLeast(MinFirmwareMajor, MinFirmwareMinor) {
		return nil, fmt.Errorf("%w: %s, need %d.%d", ErrFirmwareTooOld, target, MinFirmwareMajor, MinFirmwareMinor)
	}

	payload, err = s.roundTrip(ctx, tr, protocol.OpGetSerial, nil)
	if err != nil {
		return nil, fmt.Errorf("session: read serial: %w", err)
	}

	return &DeviceInfo{Boot: boot, Target: target, Serial: protocol.ParseString(payload)}, nil
}

// roundTrip encodes a request, exchanges it on tr and returns the checked response payload.
func (s *Session) roundTrip(ctx context.Context, tr transport.Transport, op protocol.Opcode, payload []byte) ([]byte, error) {
	req, err := protocol.EncodeRequest(op, payload)
	if err != nil {
		return nil, err
	}

	s.metrics.incExchangeCount()
	start := time.Now()

	frame, err := tr.Exchange(ctx, req, s.cfg.exchangeTimeout)
	if err != nil {
		s.metrics.incExchangeErrCount()
		return nil, err
	}

	rsp, err := protocol.DecodeResponse(frame)
	if err != nil {
		s.metrics.incDecodeErrCount()
		return nil, err
	}

	if err := rsp.Check(op); err != nil {
		s.metrics.incProtocolErrCount()
		return nil, err
	}

	s.metrics.setLatency(time.Since(start))

	return rsp.Payload, nil
}

// lock acquires the exchange gate of a Ready session.
//
// It fails at once with ErrNotConnected when the session is not Ready, and returns ctx.Err()
// when ctx ended while waiting for the gate.
func (s *Session) lock(ctx context.Context, op protocol.Opcode) error {
	if st := s.State(); !st.IsReady() {
		return fmt.Errorf("%w: %s while %s", ErrNotConnected, op, st)
	}

	s.mu.Lock()
	if err := ctx.Err(); err != nil {
		s.unlock()
		return err
	}

	return nil
}

// unlock releases the exchange gate and then runs the state handlers of a degrade.
func (s *Session) unlock() {
	notify := s.notify
	s.notify = nil
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
}

// callLocked performs one command exchange on a Ready session.
//
// The exchange is bounded by the exchange timeout only: a consumer canceling ctx cannot abort an
// exchange in flight. A transport failure closes the link and degrades the session.
func (s *Session) callLocked(ctx context.Context, op protocol.Opcode, payload []byte) ([]byte, error) {
	if st := s.State(); !st.IsReady() || s.tr == nil {
		return nil, fmt.Errorf("%w: %s while %s", ErrNotConnected, op, st)
	}

	rsp, err := s.roundTrip(context.WithoutCancel(ctx), s.tr, op, payload)
	if err != nil && IsTransportError(err) {
		s.degradeLocked(op, err)
	}

	return rsp, err
}

func (s *Session) call(ctx context.Context, op protocol.Opcode, payload []byte) ([]byte, error) {
	if err := s.lock(ctx, op); err != nil {
		return nil, err
	}
	defer s.unlock()

	return s.callLocked(ctx, op, payload)
}

func (s *Session) degradeLocked(op protocol.Opcode, cause error) {
	s.logger.Warn("link failure, session degraded", "op", op, "error", cause)

	if s.tr != nil {
		if err := s.tr.Close(); err != nil && !errors.Is(err, transport.ErrNotOpen) {
			s.logger.Debug("close transport", "error", err)
		}
		s.tr = nil
	}

	notify, err := s.state.set(Degraded)
	if err == nil {
		s.notify = append(s.notify, notify)
	}
}
