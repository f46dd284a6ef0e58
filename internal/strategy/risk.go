package strategy

import (
	"errors"
	"fmt"
	"time"

	"ox-market-maker/internal/config"
	"ox-market-maker/internal/market"
)

var (
	ErrSnapshotMissing = errors.New("market snapshot incomplete")
	ErrSnapshotStale   = errors.New("market snapshot stale")
)

// CheckSnapshot rejects snapshots that cannot be quoted against: a missing
// touch or index, or a book older than risk.max_snapshot_age.
func CheckSnapshot(cfg config.RiskConfig, snap market.Snapshot, now time.Time) error {
	if !snap.Usable() {
		return fmt.Errorf("ask=%g bid=%g index=%g: %w", snap.BestAsk, snap.BestBid, snap.IndexPrice, ErrSnapshotMissing)
	}
	return CheckSnapshotAge(cfg, snap.BookAge(now))
}

func CheckSnapshotAge(cfg config.RiskConfig, age time.Duration) error {
	if cfg.MaxSnapshotAge > 0 && age > cfg.MaxSnapshotAge {
		return fmt.Errorf("book age %s exceeds %s: %w", age, cfg.MaxSnapshotAge, ErrSnapshotStale)
	}
	return nil
}
