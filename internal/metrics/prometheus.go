package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "ox_market_maker"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type promCounterVec struct {
	vec *prometheus.CounterVec
}

func (p promCounterVec) Inc(label string) {
	p.vec.WithLabelValues(label).Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry          *prometheus.Registry
	ordersPlaced      prometheus.Counter
	ordersFailed      prometheus.Counter
	cancelAlls        prometheus.Counter
	decisions         *prometheus.CounterVec
	connectorFailures prometheus.Counter
	positionFailed    prometheus.Counter
	alertsSent        prometheus.Counter
	selected          prometheus.Gauge
	pinned            prometheus.Gauge
	feedReconnects    prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of limit orders accepted by the exchange.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order placement failures.",
	})
	cancelAlls := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cancel_all_total",
		Help:      "Total number of cancel-all requests sent.",
	})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "decisions_total",
		Help:      "Order decisions by action.",
	}, []string{"action"})
	connectorFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "connector_failures_total",
		Help:      "Total number of failed exchange calls during execution.",
	})
	positionFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "position_refresh_failed_total",
		Help:      "Total number of failed position refreshes.",
	})
	alertsSent := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "alerts_sent_total",
		Help:      "Total number of operator alerts sent.",
	})
	selected := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "instruments_selected",
		Help:      "Number of instruments in the current selection.",
	})
	pinned := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "instruments_pinned",
		Help:      "Number of selected instruments pinned by an open position.",
	})
	feedReconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "feed_reconnects_total",
		Help:      "Total number of market data feed reconnects.",
	})

	registry.MustRegister(ordersPlaced, ordersFailed, cancelAlls, decisions, connectorFailures,
		positionFailed, alertsSent, selected, pinned, feedReconnects)

	m := &Metrics{
		OrdersPlaced:          promCounter{ordersPlaced},
		OrdersFailed:          promCounter{ordersFailed},
		CancelAlls:            promCounter{cancelAlls},
		Decisions:             promCounterVec{decisions},
		ConnectorFailures:     promCounter{connectorFailures},
		PositionRefreshFailed: promCounter{positionFailed},
		AlertsSent:            promCounter{alertsSent},
		InstrumentsSelected:   promGauge{selected},
		InstrumentsPinned:     promGauge{pinned},
		FeedReconnects:        promCounter{feedReconnects},
	}

	return &Prometheus{
		Metrics:           m,
		registry:          registry,
		ordersPlaced:      ordersPlaced,
		ordersFailed:      ordersFailed,
		cancelAlls:        cancelAlls,
		decisions:         decisions,
		connectorFailures: connectorFailures,
		positionFailed:    positionFailed,
		alertsSent:        alertsSent,
		selected:          selected,
		pinned:            pinned,
		feedReconnects:    feedReconnects,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
