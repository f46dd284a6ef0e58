package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.OrdersFailed.Inc()
	prom.Metrics.CancelAlls.Inc()
	prom.Metrics.ConnectorFailures.Inc()
	prom.Metrics.PositionRefreshFailed.Inc()
	prom.Metrics.AlertsSent.Inc()
	prom.Metrics.FeedReconnects.Inc()

	assertCounter(t, prom.ordersPlaced, 1)
	assertCounter(t, prom.ordersFailed, 1)
	assertCounter(t, prom.cancelAlls, 1)
	assertCounter(t, prom.connectorFailures, 1)
	assertCounter(t, prom.positionFailed, 1)
	assertCounter(t, prom.alertsSent, 1)
	assertCounter(t, prom.feedReconnects, 1)
}

func TestPrometheusDecisionsByAction(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.Decisions.Inc("QUOTE")
	prom.Metrics.Decisions.Inc("QUOTE")
	prom.Metrics.Decisions.Inc("SKIP")

	if got := testutil.ToFloat64(prom.decisions.WithLabelValues("QUOTE")); got != 2 {
		t.Fatalf("expected 2 quote decisions, got %v", got)
	}
	if got := testutil.ToFloat64(prom.decisions.WithLabelValues("SKIP")); got != 1 {
		t.Fatalf("expected 1 skip decision, got %v", got)
	}
}

func TestPrometheusGauges(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.InstrumentsSelected.Set(7)
	prom.Metrics.InstrumentsPinned.Set(2)
	if got := testutil.ToFloat64(prom.selected); got != 7 {
		t.Fatalf("expected 7 selected, got %v", got)
	}
	if got := testutil.ToFloat64(prom.pinned); got != 2 {
		t.Fatalf("expected 2 pinned, got %v", got)
	}
}

func TestPrometheusHandlerExposesNamespace(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	srv := httptest.NewServer(prom.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), "ox_market_maker_orders_placed_total 1") {
		t.Fatalf("expected orders_placed counter in output, got %s", body)
	}
}

func TestNoopMetricsAreSafe(t *testing.T) {
	m := NewNoop()
	m.OrdersPlaced.Inc()
	m.Decisions.Inc("CLOSE")
	m.InstrumentsSelected.Set(3)
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
