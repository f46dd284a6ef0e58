package handoff

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ox-market-maker/internal/market"
)

func sampleExport(now time.Time) Export {
	snaps := []market.Snapshot{
		{
			Instrument: "ENA-USD-SWAP-LIN", BestAsk: 101, BestAskSize: 3, BestBid: 99, BestBidSize: 4,
			MarkPrice: 100, IndexPrice: 100, Volume24h: 5000, HasVolume: true,
			SpreadPct: 2.0202, HasSpread: true, UpdatedAt: now,
		},
		{Instrument: "MEW-USD-SWAP-LIN", MarkPrice: 0.004, UpdatedAt: now},
	}
	return Build(snaps, []string{"ENA-USD-SWAP-LIN"}, []string{"ENA-USD-SWAP-LIN"}, now)
}

func TestBuildUsesFeedFieldNames(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := Encode(FormatJSON, sampleExport(now))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"selected_coins", "coins_with_positions", "total_coins_tracked", "last_updated", "data"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("expected key %q in %s", key, data)
		}
	}
	if raw["total_coins_tracked"].(float64) != 2 {
		t.Fatalf("expected 2 tracked, got %v", raw["total_coins_tracked"])
	}
	mew := raw["data"].(map[string]any)["MEW-USD-SWAP-LIN"].(map[string]any)
	if mew["spread_perc"] != nil || mew["volume24h"] != nil {
		t.Fatalf("expected null spread and volume for unseen fields, got %v", mew)
	}
	ena := raw["data"].(map[string]any)["ENA-USD-SWAP-LIN"].(map[string]any)
	if ena["amountBid"].(float64) != 4 {
		t.Fatalf("expected amountBid 4, got %v", ena["amountBid"])
	}
}

func TestSnapshotsRestoresFlags(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	snaps := sampleExport(now).Snapshots()
	if len(snaps) != 2 || snaps[0].Instrument != "ENA-USD-SWAP-LIN" {
		t.Fatalf("unexpected snapshots: %+v", snaps)
	}
	if !snaps[0].HasSpread || !snaps[0].HasVolume || snaps[0].Volume24h != 5000 {
		t.Fatalf("expected spread and volume restored, got %+v", snaps[0])
	}
	if snaps[1].HasSpread || snaps[1].HasVolume {
		t.Fatalf("expected missing fields to stay missing, got %+v", snaps[1])
	}
}

func TestWriterReplacesFileAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "market.json")
	w := NewWriter(path, FormatJSON)
	now := time.Unix(1_700_000_000, 0)
	if err := w.Write(sampleExport(now)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Write(sampleExport(now.Add(time.Second))); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "market.json" {
		t.Fatalf("expected only the published file, got %v", entries)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	exp, err := Decode(FormatJSON, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !exp.LastUpdated.Equal(now.Add(time.Second)) {
		t.Fatalf("expected latest export, got %v", exp.LastUpdated)
	}
}

func TestPollerReadsMsgpack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.msgpack")
	now := time.Unix(1_700_000_000, 0)
	if err := NewWriter(path, FormatMsgpack).Write(sampleExport(now)); err != nil {
		t.Fatalf("write: %v", err)
	}
	exp, changed, err := NewPoller(path, FormatMsgpack).Poll()
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !changed {
		t.Fatalf("expected first poll to report a change")
	}
	ena, ok := exp.Data["ENA-USD-SWAP-LIN"]
	if !ok || ena.SpreadPct == nil || *ena.SpreadPct != 2.0202 {
		t.Fatalf("unexpected msgpack export: %+v", exp)
	}
	if len(exp.Pinned) != 1 || exp.Pinned[0] != "ENA-USD-SWAP-LIN" {
		t.Fatalf("expected pinned list, got %v", exp.Pinned)
	}
}

func TestPollerOnlyReloadsOnNewModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.json")
	w := NewWriter(path, FormatJSON)
	now := time.Unix(1_700_000_000, 0)
	if err := w.Write(sampleExport(now)); err != nil {
		t.Fatalf("write: %v", err)
	}
	setModTime(t, path, now)
	p := NewPoller(path, FormatJSON)
	if _, changed, err := p.Poll(); err != nil || !changed {
		t.Fatalf("expected initial load, changed=%v err=%v", changed, err)
	}
	if _, changed, err := p.Poll(); err != nil || changed {
		t.Fatalf("expected no change, changed=%v err=%v", changed, err)
	}

	if err := w.Write(sampleExport(now.Add(time.Minute))); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	setModTime(t, path, now.Add(time.Minute))
	exp, changed, err := p.Poll()
	if err != nil || !changed {
		t.Fatalf("expected reload, changed=%v err=%v", changed, err)
	}
	if !exp.LastUpdated.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected new export, got %v", exp.LastUpdated)
	}
}

func TestPollerKeepsPreviousExportOnParseFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.json")
	now := time.Unix(1_700_000_000, 0)
	if err := NewWriter(path, FormatJSON).Write(sampleExport(now)); err != nil {
		t.Fatalf("write: %v", err)
	}
	setModTime(t, path, now)
	p := NewPoller(path, FormatJSON)
	if _, _, err := p.Poll(); err != nil {
		t.Fatalf("poll: %v", err)
	}

	if err := os.WriteFile(path, []byte("{truncated"), 0o600); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	setModTime(t, path, now.Add(time.Minute))
	exp, changed, err := p.Poll()
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if changed {
		t.Fatalf("expected no change on parse failure")
	}
	if len(exp.Selected) != 1 {
		t.Fatalf("expected previous export kept, got %+v", exp)
	}

	// The bad file is retried until a good one replaces it.
	if err := NewWriter(path, FormatJSON).Write(sampleExport(now.Add(2 * time.Minute))); err != nil {
		t.Fatalf("write: %v", err)
	}
	setModTime(t, path, now.Add(time.Minute))
	if _, changed, err := p.Poll(); err != nil || !changed {
		t.Fatalf("expected recovery on same mtime, changed=%v err=%v", changed, err)
	}
}

func TestPollerMissingFile(t *testing.T) {
	p := NewPoller(filepath.Join(t.TempDir(), "missing.json"), FormatJSON)
	if _, _, err := p.Poll(); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if p.Loaded() {
		t.Fatalf("expected nothing loaded")
	}
}

func TestEncodeRejectsUnknownFormat(t *testing.T) {
	if _, err := Encode("xml", Export{}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func setModTime(t *testing.T, path string, at time.Time) {
	t.Helper()
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}
