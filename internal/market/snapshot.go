package market

import "time"

// Snapshot is the latest known top of book and ticker state for one instrument.
// Fields that have not been observed yet are zero.
type Snapshot struct {
	Instrument  string
	BestAsk     float64
	BestAskSize float64
	BestBid     float64
	BestBidSize float64
	MarkPrice   float64
	IndexPrice  float64
	Volume24h   float64
	HasVolume   bool
	// SpreadPct is (ask-bid)*100/bid, set only while both touches are non-zero.
	SpreadPct float64
	HasSpread bool
	UpdatedAt time.Time
	// BookUpdatedAt is the time of the last top of book update only.
	BookUpdatedAt time.Time
}

// Usable reports whether the snapshot carries both touches and an index price.
func (s Snapshot) Usable() bool {
	return s.BestAsk > 0 && s.BestBid > 0 && s.IndexPrice > 0
}

// BookAge is how long ago the touches were last refreshed; zero when the
// book has never been seen.
func (s Snapshot) BookAge(now time.Time) time.Duration {
	if s.BookUpdatedAt.IsZero() {
		return 0
	}
	return now.Sub(s.BookUpdatedAt)
}

func spreadPct(ask, bid float64) (float64, bool) {
	if ask <= 0 || bid <= 0 {
		return 0, false
	}
	return (ask - bid) * 100 / bid, true
}
