package session

import (
	"sync/atomic"
	"time"
)

// Metrics contains atomic metrics for a session.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// ExchangeCount indicates the number of exchanges attempted.
	ExchangeCount atomic.Uint64
	// ExchangeErrCount indicates the number of exchanges failed by the transport.
	ExchangeErrCount atomic.Uint64
	// DecodeErrCount indicates the number of responses that could not be decoded.
	DecodeErrCount atomic.Uint64
	// PartialDecodeCount indicates the number of data buffers decoded only partially.
	PartialDecodeCount atomic.Uint64
	// ProtocolErrCount indicates the number of responses rejected by the device or mismatched.
	ProtocolErrCount atomic.Uint64
	// ReconnectCount indicates the number of successful reconnects.
	ReconnectCount atomic.Uint64
	// ConnRetryGauge indicates the number of consecutive failed reconnects.
	ConnRetryGauge atomic.Uint32
	// ExchangeLatency holds the duration of the last successful exchange in nanoseconds.
	ExchangeLatency atomic.Int64
}

func (m *Metrics) incExchangeCount()    { m.ExchangeCount.Add(1) }
func (m *Metrics) incExchangeErrCount() { m.ExchangeErrCount.Add(1) }
func (m *Metrics) incDecodeErrCount()   { m.DecodeErrCount.Add(1) }
func (m *Metrics) incProtocolErrCount() { m.ProtocolErrCount.Add(1) }
func (m *Metrics) incPartialDecode()    { m.PartialDecodeCount.Add(1) }
func (m *Metrics) incReconnectCount()   { m.ReconnectCount.Add(1) }
func (m *Metrics) incConnRetryGauge()   { m.ConnRetryGauge.Add(1) }
func (m *Metrics) resetConnRetryGauge() { m.ConnRetryGauge.Store(0) }

func (m *Metrics) setLatency(d time.Duration) { m.ExchangeLatency.Store(int64(d)) }

// LastLatency returns the duration of the last successful exchange.
func (m *Metrics) LastLatency() time.Duration {
	return time.Duration(m.ExchangeLatency.Load())
}
