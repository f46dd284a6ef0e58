package state

import (
	"context"
	"encoding/json"
	"strings"
)

const SelectionSnapshotKey = "selection:last"

type SelectionSnapshot struct {
	CycleID     string   `json:"cycle_id"`
	Selected    []string `json:"selected"`
	Pinned      []string `json:"pinned"`
	UpdatedAtMS int64    `json:"updated_at_ms"`
}

func LoadSelectionSnapshot(ctx context.Context, store Store) (SelectionSnapshot, bool, error) {
	if store == nil {
		return SelectionSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, SelectionSnapshotKey)
	if err != nil {
		return SelectionSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return SelectionSnapshot{}, false, nil
	}
	var snapshot SelectionSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return SelectionSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveSelectionSnapshot(ctx context.Context, store Store, snapshot SelectionSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, SelectionSnapshotKey, string(payload))
}
