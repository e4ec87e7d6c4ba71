// Package metrics exposes detector readings and events to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/njh/silentjack/internal/engine"
	"github.com/njh/silentjack/internal/update"
)

const namespace = "silentjack"

// Metrics records engine output on its own registry. It implements
// engine.Observer and update.Observer.
type Metrics struct {
	reg *prometheus.Registry

	level     prometheus.Gauge
	silence   prometheus.Gauge
	noDynamic prometheus.Gauge
	grace     prometheus.Gauge
	connected prometheus.Gauge
	ticks     prometheus.Counter
	outdated  prometheus.Gauge

	fires  *prometheus.CounterVec
	events *prometheus.CounterVec
}

// New registers the detector metrics. Every series carries the client name
// as a constant label.
func New(name string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"name": name}, reg))

	return &Metrics{
		reg: reg,

		level: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "level_dbfs",
			Help:      "Peak level of the last evaluated tick in dBFS (-1000 for digital silence)",
		}),
		silence: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "silence_count",
			Help:      "Consecutive ticks meeting the silence condition",
		}),
		noDynamic: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "no_dynamic_count",
			Help:      "Consecutive ticks meeting the no-dynamic condition",
		}),
		grace: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grace_remaining",
			Help:      "Ticks left before evaluation resumes",
		}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "input_connected",
			Help:      "Whether the audio input is connected (0 or 1)",
		}),
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Evaluated ticks",
		}),
		outdated: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "update_available",
			Help:      "Whether a newer silentjack release is published (0 or 1)",
		}),
		fires: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fires_total",
			Help:      "Detector fires by kind",
		}, []string{"kind"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Engine events by type",
		}, []string{"event"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// OnTick records the reading and counters of an evaluated tick.
func (m *Metrics) OnTick(r engine.TickReport) {
	m.ticks.Inc()
	m.level.Set(r.LevelDB)
	m.silence.Set(float64(r.State.SilenceCount))
	m.noDynamic.Set(float64(r.State.NoDynamicCount))
	m.grace.Set(float64(r.State.GraceRemaining))
}

// OnEvent counts events and tracks the connection state.
func (m *Metrics) OnEvent(ev engine.Event) {
	m.events.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case engine.EventFire:
		m.fires.WithLabelValues(string(ev.Kind)).Inc()
	case engine.EventConnected:
		m.connected.Set(1)
	case engine.EventDisconnected, engine.EventSourceLost, engine.EventStopped:
		m.connected.Set(0)
	}
}

// OnUpdate flags that a newer release exists.
func (m *Metrics) OnUpdate(r update.Release) {
	if r.Available {
		m.outdated.Set(1)
	}
}
