package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

// LabeledCounter counts events partitioned by a single label value.
type LabeledCounter interface {
	Inc(label string)
}

type Metrics struct {
	OrdersPlaced          Counter
	OrdersFailed          Counter
	CancelAlls            Counter
	Decisions             LabeledCounter
	ConnectorFailures     Counter
	PositionRefreshFailed Counter
	AlertsSent            Counter
	InstrumentsSelected   Gauge
	InstrumentsPinned     Gauge
	FeedReconnects        Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

type noopLabeled struct{}

func (noopLabeled) Inc(string) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		OrdersPlaced:          n,
		OrdersFailed:          n,
		CancelAlls:            n,
		Decisions:             noopLabeled{},
		ConnectorFailures:     n,
		PositionRefreshFailed: n,
		AlertsSent:            n,
		InstrumentsSelected:   g,
		InstrumentsPinned:     g,
		FeedReconnects:        n,
	}
}
