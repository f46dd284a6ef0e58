package timescale

import (
	"context"
	"testing"
	"time"

	"ox-market-maker/internal/config"

	"go.uber.org/zap"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	w, err := New(config.TimescaleConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != nil {
		t.Fatalf("expected nil writer when disabled")
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(config.TimescaleConfig{Enabled: true}, zap.NewNop()); err == nil {
		t.Fatalf("expected error for missing dsn")
	}
}

func TestNilWriterIsSafe(t *testing.T) {
	var w *Writer
	w.Start(context.Background())
	w.EnqueueDecision(DecisionRecord{})
	w.EnqueueSelection(SelectionRecord{})
	w.EnqueueMarket(MarketRecord{})
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if d, s, m := w.Dropped(); d+s+m != 0 {
		t.Fatalf("expected no drops on nil writer")
	}
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	w := newWriter(nil, "", 1, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)
	w.EnqueueDecision(DecisionRecord{Time: now, Instrument: "A"})
	w.EnqueueDecision(DecisionRecord{Time: now, Instrument: "B"})
	w.EnqueueSelection(SelectionRecord{Time: now})
	w.EnqueueMarket(MarketRecord{Time: now})
	w.EnqueueMarket(MarketRecord{Time: now})
	w.EnqueueMarket(MarketRecord{Time: now})
	decisions, selections, markets := w.Dropped()
	if decisions != 1 || selections != 0 || markets != 2 {
		t.Fatalf("expected drops 1/0/2, got %d/%d/%d", decisions, selections, markets)
	}
	if rec := <-w.decisions; rec.Instrument != "A" {
		t.Fatalf("expected first record kept, got %q", rec.Instrument)
	}
}

func TestTableQualifiesSchema(t *testing.T) {
	if got := newWriter(nil, "", 0, nil).table("decisions"); got != "public.decisions" {
		t.Fatalf("expected public schema default, got %q", got)
	}
	if got := newWriter(nil, " journal ", 0, nil).table("selections"); got != "journal.selections" {
		t.Fatalf("expected trimmed schema, got %q", got)
	}
}
