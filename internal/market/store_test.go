package market

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestStoreIgnoresUnknownInstrument(t *testing.T) {
	store := NewStore([]string{"A"})
	if store.ApplyBook(BookUpdate{Instrument: "B", Ask: 1, HasAsk: true}, time.Now()) {
		t.Fatalf("expected unknown instrument to be ignored")
	}
	if _, ok := store.Get("B"); ok {
		t.Fatalf("expected no snapshot for unknown instrument")
	}
}

func TestStoreSpreadAndUsable(t *testing.T) {
	store := NewStore([]string{"A"})
	now := time.Now()
	store.ApplyBook(BookUpdate{Instrument: "A", Ask: 101, AskSize: 1, HasAsk: true, Bid: 100, BidSize: 2, HasBid: true}, now)
	snap, ok := store.Get("A")
	if !ok {
		t.Fatalf("expected snapshot")
	}
	if !snap.HasSpread || snap.SpreadPct != 1 {
		t.Fatalf("expected spread 1%%, got %v (has=%v)", snap.SpreadPct, snap.HasSpread)
	}
	if snap.Usable() {
		t.Fatalf("expected unusable snapshot without index price")
	}
	store.ApplyTicker(TickerUpdate{Instrument: "A", IndexPrice: 100.5, Volume24h: 10, HasVolume: true}, now)
	snap, _ = store.Get("A")
	if !snap.Usable() || !snap.HasVolume {
		t.Fatalf("expected usable snapshot with volume, got %+v", snap)
	}
}

func TestStoreKeepsSideAbsentFromUpdate(t *testing.T) {
	store := NewStore([]string{"A"})
	now := time.Now()
	store.ApplyBook(BookUpdate{Instrument: "A", Ask: 10, HasAsk: true, Bid: 9, HasBid: true}, now)
	store.ApplyBook(BookUpdate{Instrument: "A", Bid: 9.5, HasBid: true}, now)
	snap, _ := store.Get("A")
	if snap.BestAsk != 10 || snap.BestBid != 9.5 {
		t.Fatalf("unexpected touches %v/%v", snap.BestAsk, snap.BestBid)
	}
}

func TestStoreAllPreservesUniverseOrder(t *testing.T) {
	store := NewStore([]string{"C", "A", "B"})
	all := store.All()
	if len(all) != 3 || all[0].Instrument != "C" || all[2].Instrument != "B" {
		t.Fatalf("unexpected order %+v", all)
	}
}

func TestTickerDoesNotRefreshBookAge(t *testing.T) {
	store := NewStore([]string{"A"})
	t0 := time.Unix(1000, 0)
	store.ApplyBook(BookUpdate{Instrument: "A", Ask: 2, HasAsk: true, Bid: 1, HasBid: true}, t0)
	store.ApplyTicker(TickerUpdate{Instrument: "A", IndexPrice: 1.5}, t0.Add(time.Minute))
	snap, _ := store.Get("A")
	if age := snap.BookAge(t0.Add(time.Minute)); age != time.Minute {
		t.Fatalf("expected book age 1m, got %v", age)
	}
}

type fakeStream struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
}

func (f *fakeStream) Subscribe(_ context.Context, channels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, channels...)
	return nil
}

func (f *fakeStream) Unsubscribe(_ context.Context, channels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, channels...)
	return nil
}

func (f *fakeStream) Run(ctx context.Context, _ func(json.RawMessage)) error {
	<-ctx.Done()
	return ctx.Err()
}

type recordingSink struct {
	updates []PositionUpdate
}

func (r *recordingSink) ApplyStream(updates []PositionUpdate) {
	r.updates = append(r.updates, updates...)
}

func TestFeedStartSubscribesUniverseAndSelection(t *testing.T) {
	stream := &fakeStream{}
	feed := NewFeed(stream, NewStore([]string{"A", "B"}), nil)
	feed.EnablePositions(&recordingSink{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = feed.Start(ctx, []string{"B"})

	want := []string{"position:all", "ticker:A", "ticker:B", "bestBidAsk:B"}
	if len(stream.subscribed) != len(want) {
		t.Fatalf("expected %v, got %v", want, stream.subscribed)
	}
	for i := range want {
		if stream.subscribed[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, stream.subscribed)
		}
	}
}

func TestFeedUpdateSelection(t *testing.T) {
	stream := &fakeStream{}
	feed := NewFeed(stream, NewStore([]string{"A", "B"}), nil)
	if err := feed.UpdateSelection(context.Background(), []string{"A"}, []string{"B"}); err != nil {
		t.Fatalf("update selection: %v", err)
	}
	if len(stream.subscribed) != 1 || stream.subscribed[0] != "bestBidAsk:A" {
		t.Fatalf("unexpected subscribe %v", stream.subscribed)
	}
	if len(stream.unsubscribed) != 1 || stream.unsubscribed[0] != "bestBidAsk:B" {
		t.Fatalf("unexpected unsubscribe %v", stream.unsubscribed)
	}
}

func TestFeedHandleMessageRoutesTables(t *testing.T) {
	store := NewStore([]string{"A"})
	sink := &recordingSink{}
	feed := NewFeed(&fakeStream{}, store, nil)
	feed.EnablePositions(sink)
	fixed := time.Unix(2000, 0)
	feed.now = func() time.Time { return fixed }

	feed.handleMessage(json.RawMessage(`{"event":"login","success":true}`))
	feed.handleMessage(json.RawMessage(`{"table":"bestBidAsk","data":{"marketCode":"A","ask":[101,1],"bid":[99,2]}}`))
	feed.handleMessage(json.RawMessage(`{"table":"ticker","data":[{"marketCode":"A","markPrice":"100","indexPrice":"100","volume24h":"5000"}]}`))
	feed.handleMessage(json.RawMessage(`{"table":"position","data":[{"marketCode":"A","position":"2"}]}`))
	feed.handleMessage(json.RawMessage(`not json`))

	snap, ok := store.Get("A")
	if !ok {
		t.Fatalf("expected snapshot")
	}
	if snap.BestAsk != 101 || snap.BestBid != 99 || snap.IndexPrice != 100 || snap.Volume24h != 5000 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !snap.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected update time from feed clock, got %v", snap.UpdatedAt)
	}
	if len(sink.updates) != 1 || sink.updates[0].Size != 2 {
		t.Fatalf("unexpected position updates %+v", sink.updates)
	}
}
