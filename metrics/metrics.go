package metrics

import (
	"context"
	"fmt"
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/go-radiacode/coordinator"
	"github.com/arloliu/go-radiacode/logger"
)

const namespace = "radiacode"

// Metric names.
const (
	ExchangesTotal        = namespace + "_exchanges_total"
	ExchangeErrorsTotal   = namespace + "_exchange_errors_total"
	DecodeErrorsTotal     = namespace + "_decode_errors_total"
	PartialDecodesTotal   = namespace + "_partial_decodes_total"
	ProtocolErrorsTotal   = namespace + "_protocol_errors_total"
	ReconnectsTotal       = namespace + "_reconnects_total"
	ConnRetries           = namespace + "_connection_retries"
	ExchangeLatency       = namespace + "_exchange_latency_seconds"
	QueuePending          = namespace + "_command_queue_pending"
	DroppedEventsTotal    = namespace + "_dropped_events_total"
	SessionState          = namespace + "_session_state"
	Stale                 = namespace + "_stale"
	LastUpdate            = namespace + "_last_update_timestamp_seconds"
	DoseRate              = namespace + "_dose_rate_microsieverts_per_hour"
	DoseRateError         = namespace + "_dose_rate_error_percent"
	CountRate             = namespace + "_count_rate_cps"
	Temperature           = namespace + "_temperature_celsius"
	Battery               = namespace + "_battery_percent"
	AccumulatedDose       = namespace + "_accumulated_dose_microsieverts"
	SpectrumCounts        = namespace + "_spectrum_counts"
	SpectrumDuration      = namespace + "_spectrum_duration_seconds"
	SpectrumMeanEnergy    = namespace + "_spectrum_mean_energy_kev"
	StateTransitionsTotal = namespace + "_state_transitions_total"
	AlarmsTotal           = namespace + "_alarms_total"
)

// Exporter exposes the counters of a coordinated session and its latest readings.
//
// Counters and readings are read on scrape through CounterFunc and GaugeFunc collectors.
// Alarms and state transitions are counted from the coordinator's status events by Run.
type Exporter struct {
	coord       *coordinator.Coordinator
	logger      logger.Logger
	events      <-chan coordinator.StatusEvent
	unsubscribe func()
	collectors  map[string]prometheus.Collector
	transitions *prometheus.CounterVec
	alarms      *prometheus.CounterVec
}

// New creates an exporter for coord and registers its collectors with reg.
func New(coord *coordinator.Coordinator, reg prometheus.Registerer) (*Exporter, error) {
	e := &Exporter{
		coord:      coord,
		logger:     coord.Session().Logger().With("component", "metrics"),
		collectors: make(map[string]prometheus.Collector),
	}

	labels := prometheus.Labels{"device": coord.Session().Descriptor().String()}
	m := coord.Session().Metrics()

	counter := func(name, help string, fn func() float64) {
		e.collectors[name] = prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help, ConstLabels: labels}, fn)
	}
	gauge := func(name, help string, fn func() float64) {
		e.collectors[name] = prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help, ConstLabels: labels}, fn)
	}

	counter(ExchangesTotal, "Exchanges attempted with the device.", func() float64 { return float64(m.ExchangeCount.Load()) })
	counter(ExchangeErrorsTotal, "Exchanges failed by the transport.", func() float64 { return float64(m.ExchangeErrCount.Load()) })
	counter(DecodeErrorsTotal, "Responses that could not be decoded.", func() float64 { return float64(m.DecodeErrCount.Load()) })
	counter(PartialDecodesTotal, "Data buffers decoded only partially.", func() float64 { return float64(m.PartialDecodeCount.Load()) })
	counter(ProtocolErrorsTotal, "Commands rejected by the device.", func() float64 { return float64(m.ProtocolErrCount.Load()) })
	counter(ReconnectsTotal, "Successful reconnects.", func() float64 { return float64(m.ReconnectCount.Load()) })
	gauge(ConnRetries, "Consecutive failed reconnects.", func() float64 { return float64(m.ConnRetryGauge.Load()) })
	gauge(ExchangeLatency, "Duration of the last successful exchange.", func() float64 { return m.LastLatency().Seconds() })
	gauge(QueuePending, "Commands waiting for the worker.", func() float64 { return float64(coord.Pending()) })
	counter(DroppedEventsTotal, "Status events dropped for slow subscribers.", func() float64 { return float64(coord.DroppedEvents()) })

	gauge(SessionState, "Session state: 0 disconnected, 1 connecting, 2 ready, 3 degraded.", func() float64 {
		return float64(coord.Snapshot().State)
	})
	gauge(Stale, "1 when the served readings are stale.", func() float64 {
		if coord.Snapshot().Stale {
			return 1
		}
		return 0
	})
	gauge(LastUpdate, "Unix time of the last successful real-time data poll.", func() float64 {
		t := coord.Snapshot().UpdatedAt
		if t.IsZero() {
			return math.NaN()
		}
		return float64(t.UnixNano()) / 1e9
	})

	gauge(DoseRate, "Latest dose rate.", func() float64 {
		r, ok := coord.Snapshot().DoseRate()
		return valueOr(ok, float64(r.Value))
	})
	gauge(DoseRateError, "Statistical error of the latest dose rate.", func() float64 {
		r, ok := coord.Snapshot().DoseRate()
		return valueOr(ok && r.HasError, r.ErrorPercent)
	})
	gauge(CountRate, "Latest count rate.", func() float64 {
		r, ok := coord.Snapshot().CountRate()
		return valueOr(ok, float64(r.Value))
	})
	gauge(Temperature, "Latest device temperature.", func() float64 {
		r, ok := coord.Snapshot().Temperature()
		return valueOr(ok, r.Celsius)
	})
	gauge(Battery, "Latest battery charge.", func() float64 {
		r, ok := coord.Snapshot().Battery()
		return valueOr(ok, r.Percent)
	})
	gauge(AccumulatedDose, "Dose accumulated since the last reset.", func() float64 {
		r, ok := coord.Snapshot().Accumulated()
		return valueOr(ok, float64(r.Dose))
	})

	gauge(SpectrumCounts, "Total counts of the latest spectrum.", func() float64 {
		s := coord.Snapshot().Spectrum
		if s == nil {
			return math.NaN()
		}
		return float64(s.TotalCounts())
	})
	gauge(SpectrumDuration, "Collection time of the latest spectrum.", func() float64 {
		s := coord.Snapshot().Spectrum
		if s == nil {
			return math.NaN()
		}
		return s.Duration.Seconds()
	})
	gauge(SpectrumMeanEnergy, "Count-weighted mean energy of the latest spectrum.", func() float64 {
		s := coord.Snapshot().Spectrum
		if s == nil || s.TotalCounts() == 0 {
			return math.NaN()
		}
		return s.MeanEnergy()
	})

	e.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        StateTransitionsTotal,
		Help:        "Session state transitions by target state.",
		ConstLabels: labels,
	}, []string{"state"})
	e.alarms = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        AlarmsTotal,
		Help:        "Alarm events reported by the device.",
		ConstLabels: labels,
	}, []string{"event"})
	e.collectors[StateTransitionsTotal] = e.transitions
	e.collectors[AlarmsTotal] = e.alarms

	for name, c := range e.collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register %s: %w", name, err)
		}
	}

	e.events, e.unsubscribe = coord.Subscribe()

	return e, nil
}

// Collector returns the collector registered under name.
func (e *Exporter) Collector(name string) (prometheus.Collector, bool) {
	c, ok := e.collectors[name]
	return c, ok
}

// Run counts status events until ctx is done or the coordinator stops.
// Events published between New and Run are buffered by the subscription.
func (e *Exporter) Run(ctx context.Context) {
	defer e.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.events:
			if !ok {
				return
			}
			e.observe(ev)
		}
	}
}

func (e *Exporter) observe(ev coordinator.StatusEvent) {
	switch ev.Type {
	case coordinator.EventStateChanged:
		e.transitions.WithLabelValues(ev.State.String()).Inc()
	case coordinator.EventAlarm:
		if ev.Alarm != nil {
			e.alarms.WithLabelValues(ev.Alarm.ID.String()).Inc()
		}
	case coordinator.EventStale:
		e.logger.Debug("readings became stale", "error", ev.Err)
	}
}

// valueOr returns v when ok and NaN otherwise.
func valueOr(ok bool, v float64) float64 {
	if !ok {
		return math.NaN()
	}

	return v
}
