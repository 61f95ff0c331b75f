package coordinator

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-radiacode/databuf"
	"github.com/arloliu/go-radiacode/emulator"
	"github.com/arloliu/go-radiacode/logger"
	"github.com/arloliu/go-radiacode/protocol"
	"github.com/arloliu/go-radiacode/session"
	"github.com/arloliu/go-radiacode/spectrum"
	"github.com/arloliu/go-radiacode/transport"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

type harness struct {
	dev  *emulator.Device
	sess *session.Session
	c    *Coordinator
	stop func()
}

func newHarness(t *testing.T, dev *emulator.Device, sessOpts []session.Option, opts ...Option) *harness {
	t.Helper()

	sessOpts = append([]session.Option{
		session.WithTransportFactory(dev.Factory()),
		session.WithRetryBackoff(10*time.Millisecond, 40*time.Millisecond),
	}, sessOpts...)
	sess, err := session.New(dev.Descriptor(), sessOpts...)
	require.NoError(t, err)

	opts = append([]Option{
		WithFastInterval(100 * time.Millisecond),
		WithSlowInterval(200 * time.Millisecond),
	}, opts...)
	c, err := New(sess, opts...)
	require.NoError(t, err)

	return &harness{dev: dev, sess: sess, c: c}
}

func (h *harness) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()

	h.stop = func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(waitFor):
			require.Fail(t, "coordinator did not stop")
		}
	}
	t.Cleanup(func() {
		select {
		case <-h.c.done:
		default:
			h.stop()
		}
	})

	require.Eventually(t, func() bool { return h.c.running.Load() }, waitFor, tick)
}

func (h *harness) waitReady(t *testing.T) {
	t.Helper()

	require.Eventually(t, func() bool {
		snap := h.c.Snapshot()
		_, hasDose := snap.DoseRate()
		return snap.State == session.Ready && !snap.Stale && hasDose && snap.Spectrum != nil
	}, waitFor, tick)
}

func waitEvent(t *testing.T, events <-chan StatusEvent, typ EventType) StatusEvent {
	t.Helper()

	timeout := time.After(waitFor)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event channel closed while waiting for %s", typ)
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for event", typ.String())
		}
	}
}

func TestCoordinator_Polling(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, emulator.New(emulator.WithSimulation(0.3), emulator.WithSerial("RC-110-000123")), nil)
	h.start(t)
	h.waitReady(t)

	snap := h.c.Snapshot()
	require.Equal("RC-110-000123", snap.Device.Serial)
	require.Equal(h.dev.Calibration(), snap.Calibration)
	require.False(snap.UpdatedAt.IsZero())
	require.False(snap.SpectrumAt.IsZero())
	require.NoError(snap.LastError)

	for _, kind := range []databuf.Kind{databuf.KindCountRate, databuf.KindTemperature, databuf.KindBattery, databuf.KindAccumulated} {
		require.Contains(snap.Records, kind)
	}

	// later polls advance the snapshot
	first := snap.UpdatedAt
	require.Eventually(func() bool { return h.c.Snapshot().UpdatedAt.After(first) }, waitFor, tick)
}

func TestCoordinator_Commands(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	h := newHarness(t, emulator.New(), nil)
	require.ErrorIs(h.c.ResetDose(ctx), ErrNotRunning)

	h.start(t)
	require.Eventually(func() bool { return h.sess.State() == session.Ready }, waitFor, tick)

	require.NoError(h.c.SetBrightness(ctx, 3))
	reg, _ := h.dev.Register(protocol.OpSetBrightness)
	require.Equal([]byte{3}, reg)

	require.NoError(h.c.SetSound(ctx, true))
	require.NoError(h.c.SetVibration(ctx, true))
	require.NoError(h.c.SetLanguage(ctx, session.LanguageEnglish))
	require.NoError(h.c.SetDisplayOffTime(ctx, time.Minute))
	require.NoError(h.c.SetDeviceOn(ctx, true))
	require.NoError(h.c.SyncTime(ctx))
	require.NoError(h.c.ResetDose(ctx))
	require.NoError(h.c.ResetSpectrum(ctx))
	require.ErrorIs(h.c.SetBrightness(ctx, 12), session.ErrInvalidArgument)

	want := spectrum.Calibration{A0: -3, A1: 2.45, A2: 0.0002}
	require.NoError(h.c.SetCalibration(ctx, want))
	require.Equal(want, h.c.Snapshot().Calibration)

	got, err := h.c.Calibration(ctx)
	require.NoError(err)
	require.Equal(want, got)

	snap, err := h.c.RefreshSpectrum(ctx)
	require.NoError(err)
	require.Equal(spectrum.DefaultChannels, snap.Channels())
	require.NotNil(h.c.Snapshot().Spectrum)

	_, err = h.c.AccumulatedSpectrum(ctx)
	require.NoError(err)

	limits, err := h.c.AlarmLimits(ctx)
	require.NoError(err)
	limits.CountRate1 = 50
	require.NoError(h.c.SetAlarmLimits(ctx, limits))
	require.Equal(limits, h.dev.AlarmLimits())

	require.NoError(h.c.SetSoundCtrl(ctx, protocol.CtrlClicks))
	require.NoError(h.c.SetVibroCtrl(ctx, protocol.CtrlDoseAlarm1|protocol.CtrlDoseAlarm2))
	require.NoError(h.c.SetDisplayDirection(ctx, protocol.DisplayRight))
	reg, _ = h.dev.Register(protocol.OpSetVibroCtrl)
	require.Equal([]byte{0x60}, reg)

	require.ErrorIs(h.c.Run(ctx), ErrAlreadyRunning)
}

// traceTransport records exchanges and the overlaps between them.
type traceTransport struct {
	transport.Transport
	inflight atomic.Int32
	overlaps atomic.Int32
	count    atomic.Int32
}

func (tr *traceTransport) Exchange(ctx context.Context, req []byte, timeout time.Duration) ([]byte, error) {
	if tr.inflight.Add(1) > 1 {
		tr.overlaps.Add(1)
	}
	defer tr.inflight.Add(-1)
	tr.count.Add(1)

	time.Sleep(500 * time.Microsecond)

	return tr.Transport.Exchange(ctx, req, timeout)
}

func TestCoordinator_ExchangesNeverOverlap(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	dev := emulator.New(emulator.WithSimulation(0.2))
	trace := &traceTransport{Transport: dev}
	factory := func(transport.Descriptor, ...transport.Option) (transport.Transport, error) { return trace, nil }

	h := newHarness(t, dev, []session.Option{session.WithTransportFactory(factory)},
		WithFastInterval(100*time.Millisecond), WithSlowInterval(100*time.Millisecond))
	h.start(t)
	h.waitReady(t)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 10 {
				var err error
				if (i+j)%2 == 0 {
					err = h.c.SetBrightness(ctx, uint8(j%10))
				} else {
					_, err = h.c.Calibration(ctx)
				}
				if err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	require.Greater(trace.count.Load(), int32(160))
	require.Zero(trace.overlaps.Load())
}

func TestCoordinator_KeepsLastGoodSnapshot(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, emulator.New(emulator.WithSimulation(0.3)), []session.Option{session.WithMaxRetries(100)})
	events, unsubscribe := h.c.Subscribe()
	defer unsubscribe()

	h.start(t)
	h.waitReady(t)

	h.dev.FailOpen(transport.NewError("open", transport.ErrDeviceNotFound, nil))
	h.dev.DropAfter(0)

	ev := waitEvent(t, events, EventStale)
	require.ErrorIs(ev.Err, transport.ErrLinkLost)

	stale := h.c.Snapshot()
	require.True(stale.Stale)
	require.Error(stale.LastError)
	require.NotEqual(session.Ready, stale.State)
	require.NotNil(stale.Spectrum)
	staleDose, ok := stale.DoseRate()
	require.True(ok)

	// failed reconnects keep serving the same readings
	time.Sleep(150 * time.Millisecond)
	later := h.c.Snapshot()
	require.True(later.Stale)
	require.Same(stale.Spectrum, later.Spectrum)
	laterDose, _ := later.DoseRate()
	require.Equal(staleDose, laterDose)
	require.Equal(stale.UpdatedAt, later.UpdatedAt)

	h.dev.DropAfter(-1)
	h.dev.FailOpen(nil)

	waitEvent(t, events, EventRecovered)
	require.Eventually(func() bool {
		s := h.c.Snapshot()
		return s.State == session.Ready && !s.Stale
	}, waitFor, tick)
	require.GreaterOrEqual(h.sess.Metrics().ReconnectCount.Load(), uint64(1))
}

func TestCoordinator_WarnsOncePerOutage(t *testing.T) {
	require := require.New(t)

	ml := logger.NewMockLogger()
	for _, method := range []string{"Debug", "Info", "Warn", "Error"} {
		ml.On(method, mock.Anything, mock.Anything).Maybe()
	}

	h := newHarness(t, emulator.New(emulator.WithSimulation(0.3)),
		[]session.Option{session.WithMaxRetries(100)}, WithLogger(ml))
	events, unsubscribe := h.c.Subscribe()
	defer unsubscribe()

	h.start(t)
	h.waitReady(t)

	h.dev.FailOpen(transport.NewError("open", transport.ErrDeviceNotFound, nil))
	h.dev.DropAfter(0)
	waitEvent(t, events, EventStale)

	// several failed polls and reconnects happen during the outage
	time.Sleep(300 * time.Millisecond)

	h.dev.DropAfter(-1)
	h.dev.FailOpen(nil)
	waitEvent(t, events, EventRecovered)
	h.stop()

	ml.AssertNumberOfCalls(t, "Warn", 1)
	ml.AssertCalled(t, "Warn", "polling failed, serving last known snapshot", mock.Anything)
	ml.AssertCalled(t, "Info", "polling recovered", mock.Anything)
	require.GreaterOrEqual(h.sess.Metrics().ReconnectCount.Load(), uint64(1))
}

func TestCoordinator_RetriesExhausted(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	h := newHarness(t, emulator.New(emulator.WithSimulation(0.3)), []session.Option{session.WithMaxRetries(2)})
	h.start(t)
	h.waitReady(t)

	h.dev.FailOpen(transport.NewError("open", transport.ErrDeviceNotFound, nil))
	h.dev.DropAfter(0)

	require.Eventually(func() bool {
		s := h.c.Snapshot()
		return s.State == session.Disconnected && errors.Is(s.LastError, session.ErrRetriesExhausted)
	}, waitFor, tick)

	// no silent retries beyond the bound
	exchanges := h.dev.Exchanges()
	time.Sleep(300 * time.Millisecond)
	require.Equal(exchanges, h.dev.Exchanges())
	require.Equal(session.Disconnected, h.sess.State())
	require.True(h.c.Snapshot().Stale)

	h.dev.FailOpen(nil)
	h.dev.DropAfter(-1)
	require.NoError(h.c.Reopen(ctx))
	require.Eventually(func() bool { return !h.c.Snapshot().Stale }, waitFor, tick)
}

func TestCoordinator_InitialOpenRetried(t *testing.T) {
	require := require.New(t)

	dev := emulator.New(emulator.WithSimulation(0.3))
	dev.FailOpen(transport.NewError("open", transport.ErrDeviceNotFound, nil))

	h := newHarness(t, dev, nil, WithOpenAttempts(50))
	h.start(t)

	require.Eventually(func() bool { return h.c.openFailureCount() >= 2 }, waitFor, tick)
	require.Equal(session.Disconnected, h.sess.State())
	require.True(h.c.Snapshot().Stale)

	dev.FailOpen(nil)
	h.waitReady(t)
}

func TestCoordinator_QueueTimeout(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	h := newHarness(t, emulator.New(), nil, WithQueueTimeout(100*time.Millisecond))
	h.start(t)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = h.c.Do(ctx, func(context.Context, *session.Session) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := h.c.ResetDose(ctx)
	require.ErrorIs(err, ErrQueueTimeout)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(h.c.ResetDose(cctx), context.Canceled)

	close(release)
	require.Eventually(func() bool { return h.c.Pending() == 0 }, waitFor, tick)
	require.NoError(h.c.ResetDose(ctx))
}

func TestCoordinator_QueryTimeout(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	h := newHarness(t, emulator.New(), nil, WithQueueTimeout(100*time.Millisecond))
	h.start(t)
	require.Eventually(func() bool { return h.sess.State() == session.Ready }, waitFor, tick)

	h.dev.SetLatency(300 * time.Millisecond)

	calib, err := h.c.Calibration(ctx)
	require.ErrorIs(err, ErrQueueTimeout)
	require.Zero(calib)

	snap, err := h.c.RefreshSpectrum(ctx)
	require.ErrorIs(err, ErrQueueTimeout)
	require.Nil(snap)

	h.dev.SetLatency(0)
	require.Eventually(func() bool {
		got, err := h.c.Calibration(ctx)
		return err == nil && got == h.dev.Calibration()
	}, waitFor, tick)
	require.Equal(session.Ready, h.sess.State())
}

func TestCoordinator_PartialDecodeKeepsFresh(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, emulator.New(), nil)
	events, unsubscribe := h.c.Subscribe()
	defer unsubscribe()

	h.start(t)
	require.Eventually(func() bool {
		snap := h.c.Snapshot()
		return snap.State == session.Ready && !snap.Stale
	}, waitFor, tick)

	h.dev.Emit(databuf.DoseRate{Timestamp: 4, Value: 0.2})
	h.dev.EmitRaw([]byte{0x3C, 0x01})

	require.Eventually(func() bool {
		return h.sess.Metrics().PartialDecodeCount.Load() == 1
	}, waitFor, tick)

	// one more poll after the partial buffer
	exchanges := h.dev.Exchanges()
	require.Eventually(func() bool { return h.dev.Exchanges() > exchanges }, waitFor, tick)

	snap := h.c.Snapshot()
	require.False(snap.Stale)
	rate, ok := snap.DoseRate()
	require.True(ok)
	require.InDelta(0.2, float64(rate.Value), 1e-6)

	for len(events) > 0 {
		ev := <-events
		require.NotEqual(EventStale, ev.Type)
	}
}

func TestCoordinator_QueueFull(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	h := newHarness(t, emulator.New(), nil, WithMaxPending(1), WithQueueTimeout(time.Second))
	h.start(t)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = h.c.Do(ctx, func(context.Context, *session.Session) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	queued := make(chan error, 1)
	go func() { queued <- h.c.ResetDose(ctx) }()
	require.Eventually(func() bool { return h.c.Pending() == 1 }, waitFor, tick)

	require.ErrorIs(h.c.ResetDose(ctx), ErrQueueFull)

	close(release)
	require.NoError(<-queued)
}

func TestCoordinator_AlarmEvents(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, emulator.New(), nil)
	events, unsubscribe := h.c.Subscribe()
	defer unsubscribe()

	h.start(t)
	require.Eventually(func() bool { return h.sess.State() == session.Ready }, waitFor, tick)

	h.dev.Emit(
		databuf.Event{Timestamp: 1, ID: databuf.EventPowerOn},
		databuf.Event{Timestamp: 2, ID: databuf.EventDoseRateAlarm2, Param: 2},
	)

	ev := waitEvent(t, events, EventAlarm)
	require.NotNil(ev.Alarm)
	require.Equal(databuf.EventDoseRateAlarm2, ev.Alarm.ID)
}

func TestCoordinator_Stop(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, emulator.New(), nil)
	events, _ := h.c.Subscribe()

	h.start(t)
	ev := waitEvent(t, events, EventStateChanged)
	require.Equal(session.Connecting, ev.State)

	h.stop()
	require.Equal(session.Disconnected, h.sess.State())
	require.False(h.dev.IsOpen())
	require.ErrorIs(h.c.ResetDose(context.Background()), ErrNotRunning)

	// drained and closed
	for range events {
	}

	late, _ := h.c.Subscribe()
	_, ok := <-late
	require.False(ok)
}

func TestConfigOptions(t *testing.T) {
	require := require.New(t)

	cfg := defaultConfig()
	require.NoError(WithFastInterval(time.Second).apply(&cfg))
	require.Equal(time.Second, cfg.fastInterval)

	invalid := []Option{
		WithFastInterval(time.Millisecond),
		WithSlowInterval(48 * time.Hour),
		WithQueueTimeout(0),
		WithMaxPending(0),
		WithSubscriberBuffer(5000),
		WithOpenAttempts(0),
		WithLogger(nil),
	}
	for _, opt := range invalid {
		require.ErrorIs(opt.apply(&cfg), ErrInvalidOption)
	}

	_, err := New(nil)
	require.Error(err)

	require.Equal("alarm", EventAlarm.String())
}
