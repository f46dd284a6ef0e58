package alerts

import (
	"context"
	"fmt"
	"sync"

	"ox-market-maker/internal/metrics"

	"go.uber.org/zap"
)

// Escalator raises one operator alert per streak of consecutive execution
// failures on an instrument. A success resets the streak.
type Escalator struct {
	notifier  Notifier
	threshold int
	metrics   *metrics.Metrics
	log       *zap.Logger

	mu      sync.Mutex
	streaks map[string]int
}

func NewEscalator(notifier Notifier, threshold int, m *metrics.Metrics, log *zap.Logger) *Escalator {
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Escalator{
		notifier:  notifier,
		threshold: threshold,
		metrics:   m,
		log:       log,
		streaks:   make(map[string]int),
	}
}

// RecordSuccess clears the failure streak for instrument.
func (e *Escalator) RecordSuccess(instrument string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	delete(e.streaks, instrument)
	e.mu.Unlock()
}

// RecordFailure extends the streak and alerts when it first reaches the threshold.
// It reports whether an alert was attempted.
func (e *Escalator) RecordFailure(ctx context.Context, instrument string, cause error) bool {
	if e == nil || e.threshold <= 0 {
		return false
	}
	e.mu.Lock()
	e.streaks[instrument]++
	streak := e.streaks[instrument]
	e.mu.Unlock()
	if streak != e.threshold {
		return false
	}
	if e.notifier == nil {
		return false
	}
	msg := fmt.Sprintf("ox-market-maker: %s failed %d consecutive cycles: %v", instrument, streak, cause)
	if err := e.notifier.Send(ctx, msg); err != nil {
		e.log.Warn("alert send failed", zap.String("instrument", instrument), zap.Error(err))
		return true
	}
	e.metrics.AlertsSent.Inc()
	return true
}

// Streak returns the current consecutive failure count for instrument.
func (e *Escalator) Streak(instrument string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streaks[instrument]
}
