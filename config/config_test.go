package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-radiacode/coordinator"
	"github.com/arloliu/go-radiacode/logger"
	"github.com/arloliu/go-radiacode/session"
	"github.com/arloliu/go-radiacode/transport"
)

const fullConfig = `
device: bt:aa:bb:cc:dd:ee:ff
session:
  exchange_timeout: 2s
  connect_timeout: 15s
  max_retries: 7
  retry_initial: 500ms
  retry_max: 30s
  channels: 0
  firmware_check: false
  time_sync: false
transport:
  drain_timeout: 50ms
  chunk_size: 20
polling:
  fast_interval: 2s
  slow_interval: 2m
  queue_timeout: 5s
  max_pending: 8
  subscriber_buffer: 4
  open_attempts: 3
metrics:
  addr: 127.0.0.1:9200
  path: /prom
log:
  level: debug
  format: console
  add_source: true
`

func writeFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "radiacode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_Full(t *testing.T) {
	require := require.New(t)

	cfg, err := Load(writeFile(t, fullConfig))
	require.NoError(err)

	desc, err := cfg.Descriptor()
	require.NoError(err)
	require.Equal(transport.KindBluetooth, desc.Kind())
	require.Equal("AA:BB:CC:DD:EE:FF", desc.Address())

	require.Equal(2*time.Second, cfg.Polling.FastInterval)
	require.Equal(2*time.Minute, cfg.Polling.SlowInterval)
	require.Equal("127.0.0.1:9200", cfg.Metrics.Addr)
	require.Equal("/prom", cfg.Metrics.Path)
	require.True(cfg.Log.AddSource)
	require.NotNil(cfg.Session.Channels)
	require.Equal(0, *cfg.Session.Channels)

	scfg, err := session.NewConfig(cfg.SessionOptions(nil)...)
	require.NoError(err)
	require.Equal(2*time.Second, scfg.ExchangeTimeout())
	require.Equal(15*time.Second, scfg.ConnectTimeout())
	require.Equal(7, scfg.MaxRetries())
	initial, maxDelay := scfg.RetryBackoff()
	require.Equal(500*time.Millisecond, initial)
	require.Equal(30*time.Second, maxDelay)
	require.Equal(0, scfg.Channels())
	require.False(scfg.FirmwareCheck())
	require.False(scfg.TimeSync())

	require.Len(cfg.TransportOptions(), 2)
	require.Len(cfg.CoordinatorOptions(nil), 6)
	require.Len(cfg.CoordinatorOptions(logger.Discard()), 7)

	l, err := cfg.NewLogger()
	require.NoError(err)
	require.Equal(logger.DebugLevel, l.Level())
}

func TestLoad_Defaults(t *testing.T) {
	require := require.New(t)

	cfg, err := Load(writeFile(t, "{}\n"))
	require.NoError(err)
	require.Equal(DefaultDevice, cfg.Device)
	require.Equal(DefaultMetricsAddr, cfg.Metrics.Addr)
	require.Equal(DefaultMetricsPath, cfg.Metrics.Path)
	require.Equal(DefaultLogLevel, cfg.Log.Level)
	require.Equal(DefaultLogFormat, cfg.Log.Format)
	require.Empty(cfg.SessionOptions(nil))
	require.Empty(cfg.CoordinatorOptions(nil))
	require.Nil(cfg.NewEmulator())

	desc, err := cfg.Descriptor()
	require.NoError(err)
	require.Equal(transport.KindUSB, desc.Kind())
	require.Empty(desc.Serial())

	require.Equal(cfg, Default())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"bad yaml", "device: [usb", "config:"},
		{"unknown scheme", "device: serial:/dev/ttyUSB0", "device:"},
		{"bad mac", "device: bt:zz", "device:"},
		{"bad level", "log:\n  level: loud", "log.level"},
		{"bad format", "log:\n  format: xml", "log.format"},
		{"bad path", "metrics:\n  path: prom", "metrics.path"},
		{"drain timeout", "transport:\n  drain_timeout: 1h", "transport.drain_timeout"},
		{"chunk size", "transport:\n  chunk_size: 1000", "transport.chunk_size"},
		{"negative dose rate", "emulator:\n  enabled: true\n  dose_rate: -1", "emulator.dose_rate"},
		{"exchange timeout", "session:\n  exchange_timeout: 1ms", "session:"},
		{"negative timeout", "session:\n  connect_timeout: -5s", "session:"},
		{"max retries", "session:\n  max_retries: 1000", "session:"},
		{"backoff order", "session:\n  retry_initial: 10s\n  retry_max: 1s", "session:"},
		{"channels", "session:\n  channels: -1", "session:"},
		{"fast interval", "polling:\n  fast_interval: 1ms", "polling:"},
		{"max pending", "polling:\n  max_pending: -3", "polling:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			_, err := Parse([]byte(tt.content))
			require.Error(err)
			require.Contains(err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestEmulator(t *testing.T) {
	require := require.New(t)

	cfg, err := Parse([]byte("emulator:\n  enabled: true\n  serial: RC-103-000042\n"))
	require.NoError(err)
	require.InDelta(0.12, cfg.Emulator.DoseRate, 1e-9)

	dev := cfg.NewEmulator()
	require.NotNil(dev)

	desc, err := cfg.Descriptor()
	require.NoError(err)
	require.Equal("RC-103-000042", desc.Serial())

	opts := append(cfg.SessionOptions(logger.Discard()), session.WithTransportFactory(dev.Factory()))
	sess, err := session.New(desc, opts...)
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(sess.Open(ctx))
	defer sess.Close()

	require.Equal("RC-103-000042", sess.DeviceInfo().Serial)

	coord, err := coordinator.New(sess, cfg.CoordinatorOptions(logger.Discard())...)
	require.NoError(err)
	require.NotNil(coord)
}
