package market

import (
	"sync"
	"time"
)

// Store holds one snapshot per universe instrument. The feed is the only
// writer; everything else reads copies.
type Store struct {
	mu       sync.RWMutex
	universe []string
	snaps    map[string]*Snapshot
}

func NewStore(universe []string) *Store {
	s := &Store{
		universe: append([]string(nil), universe...),
		snaps:    make(map[string]*Snapshot, len(universe)),
	}
	for _, inst := range universe {
		s.snaps[inst] = &Snapshot{Instrument: inst}
	}
	return s
}

// Universe returns the candidate instruments in configured order.
func (s *Store) Universe() []string {
	return append([]string(nil), s.universe...)
}

func (s *Store) Contains(instrument string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.snaps[instrument]
	return ok
}

// Get returns the snapshot for instrument; ok is false when the instrument
// is outside the universe or has never been updated.
func (s *Store) Get(instrument string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[instrument]
	if !ok || snap.UpdatedAt.IsZero() {
		return Snapshot{Instrument: instrument}, false
	}
	return *snap, true
}

// All returns every universe snapshot in universe order, including ones
// not yet updated.
func (s *Store) All() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.universe))
	for _, inst := range s.universe {
		out = append(out, *s.snaps[inst])
	}
	return out
}

type BookUpdate struct {
	Instrument string
	Ask        float64
	AskSize    float64
	HasAsk     bool
	Bid        float64
	BidSize    float64
	HasBid     bool
}

// ApplyBook records a top of book update. Sides absent from the update keep
// their previous values.
func (s *Store) ApplyBook(u BookUpdate, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[u.Instrument]
	if !ok {
		return false
	}
	if u.HasAsk {
		snap.BestAsk = u.Ask
		snap.BestAskSize = u.AskSize
	}
	if u.HasBid {
		snap.BestBid = u.Bid
		snap.BestBidSize = u.BidSize
	}
	snap.SpreadPct, snap.HasSpread = spreadPct(snap.BestAsk, snap.BestBid)
	snap.UpdatedAt = at
	snap.BookUpdatedAt = at
	return true
}

type TickerUpdate struct {
	Instrument string
	MarkPrice  float64
	IndexPrice float64
	Volume24h  float64
	HasVolume  bool
}

func (s *Store) ApplyTicker(u TickerUpdate, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[u.Instrument]
	if !ok {
		return false
	}
	if u.MarkPrice > 0 {
		snap.MarkPrice = u.MarkPrice
	}
	if u.IndexPrice > 0 {
		snap.IndexPrice = u.IndexPrice
	}
	if u.HasVolume {
		snap.Volume24h = u.Volume24h
		snap.HasVolume = true
	}
	snap.UpdatedAt = at
	return true
}
