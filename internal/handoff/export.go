package handoff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"ox-market-maker/internal/market"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// Export is the published view of the feed: the current selection, the
// instruments pinned by open positions, and the latest snapshot of each
// tracked instrument.
type Export struct {
	Selected     []string              `json:"selected_coins"`
	Pinned       []string              `json:"coins_with_positions"`
	TotalTracked int                   `json:"total_coins_tracked"`
	LastUpdated  time.Time             `json:"last_updated"`
	Data         map[string]Instrument `json:"data"`
}

type Instrument struct {
	BestAsk     float64   `json:"bestAsk"`
	BestBid     float64   `json:"bestBid"`
	AmountAsk   float64   `json:"amountAsk"`
	AmountBid   float64   `json:"amountBid"`
	MarkPrice   float64   `json:"markPrice"`
	IndexPrice  float64   `json:"indexPrice"`
	Volume24h   *float64  `json:"volume24h"`
	SpreadPct   *float64  `json:"spread_perc"`
	LastUpdated time.Time `json:"last_updated"`
}

func Build(snaps []market.Snapshot, selected, pinned []string, now time.Time) Export {
	exp := Export{
		Selected:     append([]string{}, selected...),
		Pinned:       append([]string{}, pinned...),
		TotalTracked: len(snaps),
		LastUpdated:  now.UTC(),
		Data:         make(map[string]Instrument, len(snaps)),
	}
	for _, snap := range snaps {
		inst := Instrument{
			BestAsk:     snap.BestAsk,
			BestBid:     snap.BestBid,
			AmountAsk:   snap.BestAskSize,
			AmountBid:   snap.BestBidSize,
			MarkPrice:   snap.MarkPrice,
			IndexPrice:  snap.IndexPrice,
			LastUpdated: snap.UpdatedAt.UTC(),
		}
		if snap.HasVolume {
			v := snap.Volume24h
			inst.Volume24h = &v
		}
		if snap.HasSpread {
			s := snap.SpreadPct
			inst.SpreadPct = &s
		}
		exp.Data[snap.Instrument] = inst
	}
	return exp
}

// Snapshots rebuilds market snapshots from the export, sorted by instrument.
func (e Export) Snapshots() []market.Snapshot {
	out := make([]market.Snapshot, 0, len(e.Data))
	for code, inst := range e.Data {
		snap := market.Snapshot{
			Instrument:    code,
			BestAsk:       inst.BestAsk,
			BestAskSize:   inst.AmountAsk,
			BestBid:       inst.BestBid,
			BestBidSize:   inst.AmountBid,
			MarkPrice:     inst.MarkPrice,
			IndexPrice:    inst.IndexPrice,
			UpdatedAt:     inst.LastUpdated,
			BookUpdatedAt: inst.LastUpdated,
		}
		if inst.Volume24h != nil {
			snap.Volume24h, snap.HasVolume = *inst.Volume24h, true
		}
		if inst.SpreadPct != nil {
			snap.SpreadPct, snap.HasSpread = *inst.SpreadPct, true
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// Encode serializes e. Msgpack reuses the json field names so both formats
// carry the same keys.
func Encode(format string, e Export) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return json.MarshalIndent(e, "", "  ")
	case FormatMsgpack:
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(e); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported handoff format %q", format)
}

func Decode(format string, data []byte) (Export, error) {
	var e Export
	switch format {
	case FormatJSON, "":
		if err := json.Unmarshal(data, &e); err != nil {
			return Export{}, err
		}
	case FormatMsgpack:
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.SetCustomStructTag("json")
		if err := dec.Decode(&e); err != nil {
			return Export{}, err
		}
	default:
		return Export{}, fmt.Errorf("unsupported handoff format %q", format)
	}
	return e, nil
}
