package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"ox-market-maker/internal/market"
	"ox-market-maker/internal/ox/exchange"
)

type fakeSource struct {
	records []exchange.Position
	err     error
	calls   []string
	block   bool
}

func (f *fakeSource) Positions(ctx context.Context, instrument string) ([]exchange.Position, error) {
	f.calls = append(f.calls, instrument)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func TestTrackerUnknownBeforeRefresh(t *testing.T) {
	tracker := NewTracker(&fakeSource{}, time.Second, nil, nil)
	pos := tracker.Get("A")
	if pos.Known || pos.Flat() || pos.Pinned() {
		t.Fatalf("expected unknown unpinned position, got %+v", pos)
	}
}

func TestTrackerRefreshKnown(t *testing.T) {
	source := &fakeSource{records: []exchange.Position{{Instrument: "A", Size: 2, EntryPrice: 99}}}
	tracker := NewTracker(source, time.Second, nil, nil)
	pos := tracker.Refresh(context.Background(), "A")
	if !pos.Known || pos.Size != 2 || pos.EntryPrice != 99 {
		t.Fatalf("unexpected position %+v", pos)
	}
	if !pos.Pinned() {
		t.Fatalf("expected nonzero position to pin")
	}
	if len(source.calls) != 1 || source.calls[0] != "A" {
		t.Fatalf("unexpected calls %v", source.calls)
	}
}

func TestTrackerAbsentMeansFlat(t *testing.T) {
	tracker := NewTracker(&fakeSource{}, time.Second, nil, nil)
	pos := tracker.Refresh(context.Background(), "A")
	if !pos.Flat() {
		t.Fatalf("expected flat position, got %+v", pos)
	}
}

func TestTrackerFailureMarksUnknownAndKeepsPin(t *testing.T) {
	source := &fakeSource{records: []exchange.Position{{Instrument: "A", Size: -3, EntryPrice: 1}}}
	tracker := NewTracker(source, time.Second, nil, nil)
	tracker.Refresh(context.Background(), "A")

	source.err = errors.New("network down")
	pos := tracker.Refresh(context.Background(), "A")
	if pos.Known {
		t.Fatalf("expected unknown after failure")
	}
	if pos.Flat() {
		t.Fatalf("unknown must not read as flat")
	}
	if pos.LastKnownSize != -3 || !pos.Pinned() {
		t.Fatalf("expected pin to survive failure, got %+v", pos)
	}

	// A second failure keeps the last confirmed size.
	pos = tracker.Refresh(context.Background(), "A")
	if pos.LastKnownSize != -3 {
		t.Fatalf("expected last known size to persist, got %+v", pos)
	}
}

func TestTrackerTimeoutIsFailure(t *testing.T) {
	tracker := NewTracker(&fakeSource{block: true}, 10*time.Millisecond, nil, nil)
	pos := tracker.Refresh(context.Background(), "A")
	if pos.Known {
		t.Fatalf("expected timed out refresh to be unknown")
	}
}

func TestTrackerRefreshAll(t *testing.T) {
	source := &fakeSource{records: []exchange.Position{
		{Instrument: "B", Size: 5, EntryPrice: 2},
		{Instrument: "Z", Size: 1, EntryPrice: 3},
	}}
	tracker := NewTracker(source, time.Second, nil, nil)
	if err := tracker.RefreshAll(context.Background(), []string{"A", "B"}); err != nil {
		t.Fatalf("refresh all: %v", err)
	}
	if len(source.calls) != 1 || source.calls[0] != "" {
		t.Fatalf("expected one batched call, got %v", source.calls)
	}
	if !tracker.Get("A").Flat() {
		t.Fatalf("expected A flat")
	}
	if tracker.Get("B").Size != 5 {
		t.Fatalf("expected B size 5")
	}
	pinned := tracker.Pinned()
	if len(pinned) != 2 || pinned[0] != "B" || pinned[1] != "Z" {
		t.Fatalf("unexpected pinned %v", pinned)
	}
}

func TestTrackerRefreshAllFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("boom")}
	tracker := NewTracker(source, time.Second, nil, nil)
	if err := tracker.RefreshAll(context.Background(), []string{"A"}); err == nil {
		t.Fatalf("expected error")
	}
	if tracker.Get("A").Known {
		t.Fatalf("expected A unknown")
	}
}

func TestTrackerApplyStream(t *testing.T) {
	tracker := NewTracker(&fakeSource{}, time.Second, nil, nil)
	tracker.ApplyStream([]market.PositionUpdate{{Instrument: "A", Size: 0, EntryPrice: 5}})
	pos := tracker.Get("A")
	if !pos.Flat() || pos.EntryPrice != 0 {
		t.Fatalf("expected flat with zero entry, got %+v", pos)
	}
}

func TestTrackerRefreshAllClearsClosedPositions(t *testing.T) {
	source := &fakeSource{records: []exchange.Position{{Instrument: "Z", Size: 1}}}
	tracker := NewTracker(source, time.Second, nil, nil)
	_ = tracker.RefreshAll(context.Background(), []string{"A"})
	if len(tracker.Pinned()) != 1 {
		t.Fatalf("expected Z pinned")
	}
	source.records = nil
	_ = tracker.RefreshAll(context.Background(), []string{"A"})
	if pinned := tracker.Pinned(); len(pinned) != 0 {
		t.Fatalf("expected closed position to unpin, got %v", pinned)
	}
}
