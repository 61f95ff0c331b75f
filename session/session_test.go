package session

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-radiacode/databuf"
	"github.com/arloliu/go-radiacode/emulator"
	"github.com/arloliu/go-radiacode/logger"
	"github.com/arloliu/go-radiacode/protocol"
	"github.com/arloliu/go-radiacode/spectrum"
	"github.com/arloliu/go-radiacode/transport"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

func newTestSession(t *testing.T, dev *emulator.Device, opts ...Option) *Session {
	t.Helper()

	opts = append([]Option{
		WithTransportFactory(dev.Factory()),
		WithRetryBackoff(10*time.Millisecond, 40*time.Millisecond),
	}, opts...)

	s, err := New(dev.Descriptor(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func openTestSession(t *testing.T, dev *emulator.Device, opts ...Option) *Session {
	t.Helper()

	s := newTestSession(t, dev, opts...)
	require.NoError(t, s.Open(context.Background()))

	return s
}

func TestSession_Open(t *testing.T) {
	require := require.New(t)

	dev := emulator.New(emulator.WithSerial("RC-102-004242"))
	s := newTestSession(t, dev)
	require.Equal(Disconnected, s.State())
	require.NotEqual([16]byte{}, [16]byte(s.ID()))

	var trace []State
	s.AddStateHandler(func(_ *Session, _ State, cur State) { trace = append(trace, cur) })

	before := time.Now().Add(-time.Second)
	require.NoError(s.Open(context.Background()))
	require.Equal(Ready, s.State())
	require.Equal([]State{Connecting, Ready}, trace)

	info := s.DeviceInfo()
	require.Equal("RC-102-004242", info.Serial)
	require.Equal("4.12", info.Target.String())
	require.False(dev.Clock().Before(before.Truncate(time.Second)))

	// Open on a ready session is a no-op
	require.NoError(s.Open(context.Background()))
	require.Equal(int64(1), dev.Opens())
	require.Equal(uint64(4), s.Metrics().ExchangeCount.Load())

	require.NoError(s.Close())
	require.Equal(Disconnected, s.State())
	require.False(dev.IsOpen())
}

func TestSession_OpenFailure(t *testing.T) {
	t.Run("device not found", func(t *testing.T) {
		require := require.New(t)

		dev := emulator.New()
		dev.FailOpen(transport.NewError("open", transport.ErrDeviceNotFound, nil))
		s := newTestSession(t, dev)

		err := s.Open(context.Background())
		require.ErrorIs(err, transport.ErrDeviceNotFound)
		require.Equal(Disconnected, s.State())
	})

	t.Run("firmware too old", func(t *testing.T) {
		require := require.New(t)

		old := protocol.FirmwareVersion{Major: 4, Minor: 7}
		dev := emulator.New(emulator.WithFirmware(old, old))

		s := newTestSession(t, dev)
		require.ErrorIs(s.Open(context.Background()), ErrFirmwareTooOld)
		require.Equal(Disconnected, s.State())
		require.False(dev.IsOpen())

		s = newTestSession(t, dev, WithFirmwareCheck(false))
		require.NoError(s.Open(context.Background()))
		require.Equal("4.7", s.DeviceInfo().Target.String())
	})

	t.Run("handshake rejected", func(t *testing.T) {
		require := require.New(t)

		dev := emulator.New()
		dev.ForceStatus(protocol.OpSetExchange, protocol.StatusFailure)
		s := newTestSession(t, dev)

		err := s.Open(context.Background())
		require.True(IsProtocolError(err))
		require.Equal(Disconnected, s.State())
	})
}

func TestSession_NotConnected(t *testing.T) {
	require := require.New(t)

	dev := emulator.New()
	s := newTestSession(t, dev)

	require.ErrorIs(s.ResetDose(context.Background()), ErrNotConnected)
	_, err := s.Spectrum(context.Background())
	require.ErrorIs(err, ErrNotConnected)
	require.ErrorIs(s.Reconnect(context.Background()), ErrNotConnected)
	require.Zero(dev.Exchanges())
}

func TestSession_Commands(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	dev := emulator.New()
	s := openTestSession(t, dev)

	require.NoError(s.SetBrightness(ctx, 5))
	reg, ok := dev.Register(protocol.OpSetBrightness)
	require.True(ok)
	require.Equal([]byte{5}, reg)

	require.NoError(s.SetSound(ctx, true))
	reg, _ = dev.Register(protocol.OpSetSound)
	require.Equal([]byte{1}, reg)

	require.NoError(s.SetVibration(ctx, false))
	reg, _ = dev.Register(protocol.OpSetVibration)
	require.Equal([]byte{0}, reg)

	require.NoError(s.SetLanguage(ctx, LanguageRussian))
	reg, _ = dev.Register(protocol.OpSetLanguage)
	require.Equal([]byte{1}, reg)

	require.NoError(s.SetDisplayOffTime(ctx, 30*time.Second))
	reg, _ = dev.Register(protocol.OpSetDisplayOffTime)
	require.Equal(protocol.U16Payload(30), reg)

	require.NoError(s.SetDeviceOn(ctx, true))
	require.NoError(s.SyncTime(ctx))

	exchanges := dev.Exchanges()
	require.ErrorIs(s.SetBrightness(ctx, 10), ErrInvalidArgument)
	require.ErrorIs(s.SetLanguage(ctx, Language(7)), ErrInvalidArgument)
	require.ErrorIs(s.SetDisplayOffTime(ctx, 2*time.Second), ErrInvalidArgument)
	require.ErrorIs(s.SetDisplayOffTime(ctx, 7500*time.Millisecond), ErrInvalidArgument)
	require.Equal(exchanges, dev.Exchanges(), "invalid arguments must not reach the device")

	require.Equal(Ready, s.State())
}

func TestSession_AlarmSettings(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	dev := emulator.New()
	s := openTestSession(t, dev)

	limits, err := s.AlarmLimits(ctx)
	require.NoError(err)
	require.Equal(dev.AlarmLimits(), limits)

	limits.DoseRate1, limits.DoseRate2 = 25, 75
	limits.DoseUnitR = true
	require.NoError(s.SetAlarmLimits(ctx, limits))
	require.Equal(limits, dev.AlarmLimits())

	got, err := s.AlarmLimits(ctx)
	require.NoError(err)
	require.Equal(limits, got)

	require.NoError(s.SetSoundCtrl(ctx, protocol.CtrlButtons|protocol.CtrlDoseRateAlarm1))
	reg, ok := dev.Register(protocol.OpSetSoundCtrl)
	require.True(ok)
	require.Equal([]byte{0x05}, reg)

	require.NoError(s.SetVibroCtrl(ctx, protocol.CtrlDoseAlarm2))
	reg, _ = dev.Register(protocol.OpSetVibroCtrl)
	require.Equal([]byte{0x40}, reg)

	require.NoError(s.SetDisplayDirection(ctx, protocol.DisplayLeft))
	reg, _ = dev.Register(protocol.OpSetDisplayDirection)
	require.Equal([]byte{2}, reg)

	exchanges := dev.Exchanges()
	require.ErrorIs(s.SetDisplayDirection(ctx, protocol.DisplayDirection(9)), ErrInvalidArgument)
	require.ErrorIs(s.SetAlarmLimits(ctx, protocol.AlarmLimits{Dose1: 10, Dose2: 1}), ErrInvalidArgument)
	require.Equal(exchanges, dev.Exchanges())

	dev.ForceStatus(protocol.OpGetAlarmLimits, protocol.StatusInvalidArgument)
	_, err = s.AlarmLimits(ctx)
	require.True(IsProtocolError(err))
	require.Equal(Ready, s.State())
}

func TestSession_RealTimeData(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	dev := emulator.New()
	s := openTestSession(t, dev)

	in := []databuf.Record{
		databuf.DoseRate{Timestamp: 7, Value: 0.25, ErrorPercent: 12.5, HasError: true},
		databuf.Temperature{Timestamp: 7, Celsius: 21.5},
		databuf.Event{Timestamp: 8, ID: databuf.EventDoseRateAlarm1, Param: 1},
	}
	dev.Emit(in...)

	batch, err := s.RealTimeData(ctx)
	require.NoError(err)
	require.Empty(cmp.Diff(in, batch.Records))

	// the buffer is drained by the read
	batch, err = s.RealTimeData(ctx)
	require.NoError(err)
	require.Empty(batch.Records)

	require.NoError(s.ResetDose(ctx))
	batch, err = s.RealTimeData(ctx)
	require.NoError(err)
	acc, ok := databuf.LatestOf[databuf.Accumulated](batch.Records)
	require.True(ok)
	require.Zero(acc.Dose)
}

func TestSession_RealTimeDataPartial(t *testing.T) {
	require := require.New(t)

	dev := emulator.New()
	s := openTestSession(t, dev)

	dev.Emit(databuf.Temperature{Timestamp: 3, Celsius: 19})
	dev.EmitRaw([]byte{0x3C, 0x01, 0x02})

	batch, err := s.RealTimeData(context.Background())
	require.ErrorIs(err, databuf.ErrPartialDecode)
	require.True(IsDecodeError(err))
	require.Len(batch.Records, 1)
	require.Equal(uint64(1), s.Metrics().PartialDecodeCount.Load())
	require.Zero(s.Metrics().ExchangeErrCount.Load())
	require.Equal(Ready, s.State())
}

func TestSession_Spectrum(t *testing.T) {
	t.Run("fetch and reset", func(t *testing.T) {
		require := require.New(t)
		ctx := context.Background()

		dev := emulator.New(emulator.WithChannels(256))
		s := openTestSession(t, dev, WithChannels(256))

		counts := make([]uint32, 256)
		counts[100] = 42
		dev.SetSpectrum(90*time.Second, counts)

		snap, err := s.Spectrum(ctx)
		require.NoError(err)
		require.Equal(90*time.Second, snap.Duration)
		require.Equal(counts, snap.Counts)
		require.Equal(dev.Calibration(), snap.Calibration)

		require.NoError(s.ResetSpectrum(ctx))
		snap, err = s.Spectrum(ctx)
		require.NoError(err)
		require.Zero(snap.TotalCounts())

		_, err = s.AccumulatedSpectrum(ctx)
		require.NoError(err)
	})

	t.Run("autodetect channels", func(t *testing.T) {
		require := require.New(t)

		dev := emulator.New(emulator.WithChannels(512))
		s := openTestSession(t, dev, WithChannels(0))
		require.Zero(s.Channels())

		snap, err := s.Spectrum(context.Background())
		require.NoError(err)
		require.Equal(512, snap.Channels())
		require.Equal(512, s.Channels())
	})

	t.Run("channel mismatch does not degrade", func(t *testing.T) {
		require := require.New(t)

		dev := emulator.New(emulator.WithChannels(512))
		s := openTestSession(t, dev, WithChannels(1024))

		_, err := s.Spectrum(context.Background())
		require.ErrorIs(err, spectrum.ErrSpectrumFormat)
		require.True(IsDecodeError(err))
		require.Equal(Ready, s.State())
		require.Equal(uint64(1), s.Metrics().DecodeErrCount.Load())
		require.Zero(s.Metrics().ExchangeErrCount.Load())
	})
}

func TestSession_Calibration(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	dev := emulator.New()
	s := openTestSession(t, dev)

	want := spectrum.Calibration{A0: -1.5, A1: 2.5, A2: 0.0003}
	require.NoError(s.SetCalibration(ctx, want))
	require.Equal(want, dev.Calibration())

	got, err := s.Calibration(ctx)
	require.NoError(err)
	require.Equal(want, got)

	dev.SkewCalibration(0.01)
	err = s.SetCalibration(ctx, want)
	require.ErrorIs(err, ErrCalibrationVerificationFailed)
	require.True(IsProtocolError(err))
	require.Equal(Ready, s.State())

	dev.SkewCalibration(0.00001)
	require.NoError(s.SetCalibration(ctx, want))
}

func TestSession_ProtocolError(t *testing.T) {
	require := require.New(t)

	dev := emulator.New()
	s := openTestSession(t, dev)

	dev.ForceStatus(protocol.OpDoseReset, protocol.StatusBusy)
	err := s.ResetDose(context.Background())

	var protoErr *ProtocolError
	require.True(errors.As(err, &protoErr))
	require.Equal(protocol.OpDoseReset, protoErr.Opcode)
	require.Equal(protocol.StatusBusy, protoErr.Status)
	require.Equal(Ready, s.State())
	require.Equal(uint64(1), s.Metrics().ProtocolErrCount.Load())

	dev.ClearStatus(protocol.OpDoseReset)
	require.NoError(s.ResetDose(context.Background()))
}

func TestSession_LinkDropRecovers(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	dev := emulator.New()
	s := openTestSession(t, dev)

	var (
		mu    sync.Mutex
		trace []State
	)
	s.AddStateHandler(func(_ *Session, _ State, cur State) {
		mu.Lock()
		defer mu.Unlock()
		trace = append(trace, cur)
	})

	dev.DropAfter(1)
	_, err := s.RealTimeData(ctx)
	require.NoError(err)

	_, err = s.RealTimeData(ctx)
	require.ErrorIs(err, transport.ErrLinkLost)
	require.Equal(Degraded, s.State())
	require.False(dev.IsOpen())

	// commands fail fast while degraded
	exchanges := dev.Exchanges()
	require.ErrorIs(s.ResetDose(ctx), ErrNotConnected)
	require.Equal(exchanges, dev.Exchanges())

	dev.DropAfter(-1)
	require.NoError(s.Reconnect(ctx))
	require.Equal(Ready, s.State())
	require.Equal(uint64(1), s.Metrics().ReconnectCount.Load())
	require.Equal(int64(2), dev.Opens())

	mu.Lock()
	require.Equal([]State{Degraded, Connecting, Ready}, trace)
	mu.Unlock()
}

func TestSession_FailsFastWhileConnecting(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	dev := emulator.New()
	s := openTestSession(t, dev)

	dev.DropAfter(0)
	_, err := s.RealTimeData(ctx)
	require.ErrorIs(err, transport.ErrLinkLost)
	require.Equal(Degraded, s.State())

	dev.DropAfter(-1)
	dev.SetLatency(300 * time.Millisecond)

	reconnected := make(chan error, 1)
	go func() { reconnected <- s.Reconnect(ctx) }()

	wctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(s.WaitState(wctx, Connecting))

	start := time.Now()
	require.ErrorIs(s.ResetDose(ctx), ErrNotConnected)
	_, err = s.Calibration(ctx)
	require.ErrorIs(err, ErrNotConnected)
	require.Less(time.Since(start), 100*time.Millisecond)
	require.Zero(s.Retries())
	require.Equal(10*time.Millisecond, s.NextRetryDelay())

	require.NoError(<-reconnected)
	require.Equal(Ready, s.State())
}

func TestSession_CallerCancelKeepsExchange(t *testing.T) {
	require := require.New(t)

	dev := emulator.New()
	s := openTestSession(t, dev)
	dev.SetLatency(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(s.ResetDose(ctx))
	require.Equal(Ready, s.State())
	require.True(dev.IsOpen())
	require.Zero(s.Metrics().ExchangeErrCount.Load())

	// a context that ended before the call never reaches the device
	exchanges := dev.Exchanges()
	require.ErrorIs(s.ResetDose(ctx), context.DeadlineExceeded)
	require.Equal(exchanges, dev.Exchanges())
}

func TestSession_HandlerMayIssueCommands(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	dev := emulator.New()
	s := openTestSession(t, dev)

	handlerErr := make(chan error, 1)
	s.AddStateHandler(func(sess *Session, _ State, cur State) {
		if cur == Degraded {
			handlerErr <- sess.ResetDose(ctx)
			_ = sess.Channels()
		}
	})

	dev.DropAfter(0)
	done := make(chan error, 1)
	go func() {
		_, err := s.RealTimeData(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		require.ErrorIs(err, transport.ErrLinkLost)
	case <-time.After(2 * time.Second):
		require.FailNow("state handler blocked the degrading exchange")
	}
	require.ErrorIs(<-handlerErr, ErrNotConnected)
	require.Equal(Degraded, s.State())
}

func TestSession_RetriesExhausted(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	dev := emulator.New()
	s := openTestSession(t, dev, WithMaxRetries(3), WithRetryBackoff(100*time.Millisecond, 250*time.Millisecond))

	dev.DropAfter(0)
	_, err := s.RealTimeData(ctx)
	require.ErrorIs(err, transport.ErrLinkLost)
	require.Equal(Degraded, s.State())
	require.Equal(100*time.Millisecond, s.NextRetryDelay())

	dev.FailOpen(transport.NewError("open", transport.ErrDeviceNotFound, nil))

	require.ErrorIs(s.Reconnect(ctx), transport.ErrDeviceNotFound)
	require.Equal(Degraded, s.State())
	require.Equal(200*time.Millisecond, s.NextRetryDelay())

	require.ErrorIs(s.Reconnect(ctx), transport.ErrDeviceNotFound)
	require.Equal(Degraded, s.State())
	require.Equal(250*time.Millisecond, s.NextRetryDelay())
	require.Equal(uint32(2), s.Metrics().ConnRetryGauge.Load())

	err = s.Reconnect(ctx)
	require.ErrorIs(err, ErrRetriesExhausted)
	require.ErrorIs(err, transport.ErrDeviceNotFound)
	require.Equal(Disconnected, s.State())
	require.Equal(3, s.Retries())

	// terminal until Open is called again
	require.ErrorIs(s.Reconnect(ctx), ErrRetriesExhausted)
	require.Equal(Disconnected, s.State())

	dev.FailOpen(nil)
	dev.DropAfter(-1)
	require.NoError(s.Open(ctx))
	require.Equal(Ready, s.State())
	require.Zero(s.Metrics().ConnRetryGauge.Load())
}

func TestSession_ExchangeTimeout(t *testing.T) {
	require := require.New(t)

	dev := emulator.New()
	s := openTestSession(t, dev, WithExchangeTimeout(100*time.Millisecond))

	dev.SetLatency(300 * time.Millisecond)
	_, err := s.Calibration(context.Background())
	require.ErrorIs(err, transport.ErrTimeout)
	require.Equal(Degraded, s.State())

	dev.SetLatency(0)
	require.NoError(s.Reconnect(context.Background()))
}

// overlapTransport counts exchanges that overlap.
type overlapTransport struct {
	transport.Transport
	inflight atomic.Int32
	overlaps atomic.Int32
}

func (o *overlapTransport) Exchange(ctx context.Context, req []byte, timeout time.Duration) ([]byte, error) {
	if o.inflight.Add(1) > 1 {
		o.overlaps.Add(1)
	}
	defer o.inflight.Add(-1)

	time.Sleep(time.Millisecond)

	return o.Transport.Exchange(ctx, req, timeout)
}

func TestSession_ExchangesDoNotInterleave(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	dev := emulator.New(emulator.WithSimulation(0.2))
	overlap := &overlapTransport{Transport: dev}
	factory := func(transport.Descriptor, ...transport.Option) (transport.Transport, error) { return overlap, nil }

	s := newTestSession(t, dev, WithTransportFactory(factory))
	require.NoError(s.Open(ctx))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 5 {
				var err error
				switch i % 3 {
				case 0:
					_, err = s.RealTimeData(ctx)
				case 1:
					_, err = s.Spectrum(ctx)
				default:
					err = s.SetCalibration(ctx, spectrum.Calibration{A1: 2.5})
				}
				if err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	require.Zero(overlap.overlaps.Load())
}

func TestSession_WaitState(t *testing.T) {
	require := require.New(t)

	dev := emulator.New()
	s := newTestSession(t, dev)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(s.WaitState(ctx, Ready), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- s.WaitState(context.Background(), Ready) }()

	require.NoError(s.Open(context.Background()))
	select {
	case err := <-done:
		require.NoError(err)
	case <-time.After(time.Second):
		require.Fail("WaitState did not return")
	}
}

func TestStateMgr_Transitions(t *testing.T) {
	require := require.New(t)

	sm := newStateMgr(nil, logger.Discard())
	count := 0
	sm.AddHandler(func(_ *Session, _ State, _ State) { count++ })

	require.ErrorIs(sm.transition(Ready), ErrInvalidTransition)
	require.ErrorIs(sm.transition(Degraded), ErrInvalidTransition)
	require.Equal(0, count)

	require.NoError(sm.transition(Connecting))
	require.NoError(sm.transition(Connecting))
	require.Equal(1, count)

	require.NoError(sm.transition(Ready))
	require.ErrorIs(sm.transition(Connecting), ErrInvalidTransition)
	require.NoError(sm.transition(Degraded))
	require.NoError(sm.transition(Connecting))
	require.NoError(sm.transition(Disconnected))
	require.Equal(Disconnected, sm.State())
	require.Equal(5, count)

	require.Equal("degraded", Degraded.String())
	require.Equal("unknown", State(9).String())
}

func TestConfig(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConfig()
	require.NoError(err)
	require.Equal(3*time.Second, cfg.ExchangeTimeout())
	require.Equal(10*time.Second, cfg.ConnectTimeout())
	require.Equal(5, cfg.MaxRetries())
	initial, maxDelay := cfg.RetryBackoff()
	require.Equal(time.Second, initial)
	require.Equal(time.Minute, maxDelay)
	require.Equal(spectrum.DefaultChannels, cfg.Channels())
	require.True(cfg.FirmwareCheck())
	require.True(cfg.TimeSync())
	require.NotNil(cfg.Logger())

	cfg, err = NewConfig(WithExchangeTimeout(500*time.Millisecond), WithMaxRetries(10), WithChannels(0), WithTimeSync(false))
	require.NoError(err)
	require.Equal(500*time.Millisecond, cfg.ExchangeTimeout())
	require.Equal(10, cfg.MaxRetries())
	require.Zero(cfg.Channels())
	require.False(cfg.TimeSync())

	invalid := []Option{
		WithExchangeTimeout(50 * time.Millisecond),
		WithExchangeTimeout(2 * time.Minute),
		WithConnectTimeout(100 * time.Millisecond),
		WithMaxRetries(0),
		WithMaxRetries(101),
		WithRetryBackoff(time.Second, 500*time.Millisecond),
		WithChannels(-1),
		WithLogger(nil),
		WithTransportFactory(nil),
	}
	for _, opt := range invalid {
		_, err := NewConfig(opt)
		require.ErrorIs(err, ErrInvalidArgument)
	}

	_, err = New(transport.Descriptor{})
	require.ErrorIs(err, transport.ErrInvalidDescriptor)
}

func TestLanguage(t *testing.T) {
	require := require.New(t)

	lang, err := ParseLanguage("ru")
	require.NoError(err)
	require.Equal(LanguageRussian, lang)
	require.Equal("en", LanguageEnglish.String())

	_, err = ParseLanguage("de")
	require.ErrorIs(err, ErrInvalidArgument)
}
