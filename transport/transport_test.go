package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-radiacode/logger"
	"github.com/arloliu/go-radiacode/protocol"
)

func TestParseDescriptor(t *testing.T) {
	tests := []struct {
		in      string
		kind    Kind
		serial  string
		address string
		str     string
	}{
		{in: "usb", kind: KindUSB, str: "usb"},
		{in: "usb:", kind: KindUSB, str: "usb"},
		{in: "USB:RC-102-000123", kind: KindUSB, serial: "RC-102-000123", str: "usb:RC-102-000123"},
		{in: "bt:52:43:01:02:03:04", kind: KindBluetooth, address: "52:43:01:02:03:04", str: "bt:52:43:01:02:03:04"},
		{in: " ble:aa:bb:cc:dd:ee:ff ", kind: KindBluetooth, address: "AA:BB:CC:DD:EE:FF", str: "bt:AA:BB:CC:DD:EE:FF"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require := require.New(t)

			d, err := ParseDescriptor(tt.in)
			require.NoError(err)
			require.Equal(tt.kind, d.Kind())
			require.Equal(tt.serial, d.Serial())
			require.Equal(tt.address, d.Address())
			require.Equal(tt.str, d.String())
		})
	}
}

func TestParseDescriptor_Invalid(t *testing.T) {
	for _, in := range []string{
		"", "serial:/dev/ttyUSB0", "bt:", "bt:52:43:01:02:03", "bt:52-43-01-02-03-04",
		"bt:zz:43:01:02:03:04", "bt:52:43:01:02:03:04:05:06",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseDescriptor(in)
			require.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}

	require.ErrorIs(t, Descriptor{}.Validate(), ErrInvalidDescriptor)
	require.Equal(t, "invalid", Descriptor{}.String())
}

func TestError(t *testing.T) {
	require := require.New(t)

	cause := errors.New("libusb: i/o error [code -1]")
	err := fmt.Errorf("session: exchange: %w", NewError("read", ErrLinkLost, cause))

	require.ErrorIs(err, ErrLinkLost)
	require.ErrorIs(err, cause)
	require.NotErrorIs(err, ErrTimeout)
	require.True(IsRetryable(err))
	require.True(IsTransportError(err))
	require.Equal("session: exchange: transport: read: link lost: libusb: i/o error [code -1]", err.Error())

	var te *Error
	require.ErrorAs(err, &te)
	require.Equal("read", te.Op)

	unsupported := NewError("open", nil, ErrBluetoothUnsupported)
	require.ErrorIs(unsupported, ErrBluetoothUnsupported)
	require.False(IsRetryable(unsupported))
	require.True(IsTransportError(unsupported))
	require.Equal("transport: open: transport: bluetooth not supported on this platform", unsupported.Error())

	require.False(IsRetryable(errors.New("decode failure")))
	require.False(IsTransportError(nil))

	for _, kind := range []error{ErrDeviceNotFound, ErrTimeout, ErrLinkLost, ErrPermissionDenied} {
		require.True(IsRetryable(NewError("open", kind, nil)), kind.Error())
	}
}

func frame(t *testing.T, op protocol.Opcode, payload []byte) []byte {
	t.Helper()

	rsp := &protocol.Response{Opcode: op, Payload: payload}
	b, err := rsp.Encode()
	require.NoError(t, err)

	return b
}

func TestReassembler(t *testing.T) {
	t.Run("chunked frame", func(t *testing.T) {
		require := require.New(t)

		full := frame(t, protocol.OpSpectrum, make([]byte, 40))
		r := NewReassembler(protocol.MaxResponseSize)
		require.Equal(-1, r.Missing())

		var got []byte
		for off := 0; off < len(full); off += 18 {
			end := min(off+18, len(full))
			out, err := r.Feed(full[off:end])
			require.NoError(err)
			if end < len(full) {
				require.Nil(out)
				require.Positive(r.Missing())
			} else {
				got = out
			}
		}
		require.Equal(full, got)
		require.Zero(r.Pending())
	})

	t.Run("header split", func(t *testing.T) {
		require := require.New(t)

		full := frame(t, protocol.OpGetSerial, []byte("RC\x00"))
		r := NewReassembler(64)

		out, err := r.Feed(full[:2])
		require.NoError(err)
		require.Nil(out)
		require.Equal(-1, r.Missing())

		out, err = r.Feed(full[2:])
		require.NoError(err)
		require.Equal(full, out)
	})

	t.Run("surplus kept", func(t *testing.T) {
		require := require.New(t)

		a := frame(t, protocol.OpDoseReset, nil)
		b := frame(t, protocol.OpSetSound, []byte{1})
		r := NewReassembler(64)

		out, err := r.Feed(append(append([]byte{}, a...), b[:3]...))
		require.NoError(err)
		require.Equal(a, out)
		require.Equal(3, r.Pending())

		out, err = r.Feed(b[3:])
		require.NoError(err)
		require.Equal(b, out)
	})

	t.Run("too large", func(t *testing.T) {
		require := require.New(t)

		r := NewReassembler(16)
		_, err := r.Feed([]byte{0x11, 0x00, 0xFF, 0x00})
		require.ErrorIs(err, ErrFrameTooLarge)
		require.Zero(r.Pending())
	})

	t.Run("request frames", func(t *testing.T) {
		require := require.New(t)

		req, err := protocol.EncodeRequest(protocol.OpSetCalibration, make([]byte, 12))
		require.NoError(err)

		r := NewReassemblerFunc(protocol.MaxRequestSize, protocol.RequestSize)
		out, err := r.Feed(req[:5])
		require.NoError(err)
		require.Nil(out)
		require.Equal(10, r.Missing())

		out, err = r.Feed(req[5:])
		require.NoError(err)
		require.Equal(req, out)
	})
}

func TestNew_Options(t *testing.T) {
	require := require.New(t)

	_, err := New(Descriptor{})
	require.ErrorIs(err, ErrInvalidDescriptor)

	_, err = New(USB(""), WithChunkSize(0))
	require.Error(err)

	_, err = New(USB(""), WithDrainTimeout(time.Hour))
	require.Error(err)

	_, err = New(USB(""), WithMaxFrameSize(2))
	require.Error(err)

	_, err = New(USB(""), WithUSBIDs(0, 1))
	require.Error(err)

	_, err = New(USB(""), WithLogger(nil))
	require.Error(err)

	tr, err := New(USB("RC-1"), WithChunkSize(20), WithDrainTimeout(50*time.Millisecond), nil)
	require.NoError(err)
	require.Equal(USB("RC-1"), tr.Descriptor())

	// not opened
	_, err = tr.Exchange(context.Background(), []byte{0x10, 0, 0}, time.Second)
	require.Error(err)
	require.True(IsTransportError(err))
	require.NoError(tr.Close())
}

func TestEffectiveDeadline(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	d := effectiveDeadline(ctx, time.Hour)
	ctxDeadline, _ := ctx.Deadline()
	require.Equal(ctxDeadline, d)

	d = effectiveDeadline(context.Background(), time.Second)
	require.WithinDuration(time.Now().Add(time.Second), d, 100*time.Millisecond)
}

func TestNotifyQueue(t *testing.T) {
	require := require.New(t)

	q := newNotifyQueue(2, logger.Discard())

	buf := []byte{1, 2, 3}
	q.push(buf)
	buf[0] = 9
	q.push([]byte{4})
	require.Empty(q.overflow)

	// full: the third chunk is dropped and reported once
	q.push([]byte{5})
	q.push([]byte{6})
	require.Equal(uint64(2), q.Dropped())
	require.Len(q.overflow, 1)

	require.Equal([]byte{1, 2, 3}, <-q.ch)
	require.Equal([]byte{4}, <-q.ch)

	q.push([]byte{7})
	q.reset()
	require.Empty(q.ch)
	require.Empty(q.overflow)
	require.Equal(uint64(2), q.Dropped())

	err := NewError("read", ErrLinkLost, fmt.Errorf("%w: %d chunks dropped", ErrNotifyOverflow, q.Dropped()))
	require.ErrorIs(err, ErrNotifyOverflow)
	require.True(IsRetryable(err))
}
