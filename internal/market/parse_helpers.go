package market

import (
	"encoding/json"
	"strconv"
	"strings"
)

// PositionUpdate is one entry of the private position stream.
type PositionUpdate struct {
	Instrument string
	Size       float64
	EntryPrice float64
}

func parseBestBidAsk(payload map[string]any) (BookUpdate, bool) {
	data, ok := toMap(payload["data"])
	if !ok {
		// Some gateways wrap a single-element list.
		if list, ok := toSlice(payload["data"]); ok && len(list) > 0 {
			data, ok = toMap(list[0])
			if !ok {
				return BookUpdate{}, false
			}
		} else {
			return BookUpdate{}, false
		}
	}
	inst := stringFromMap(data, "marketCode")
	if inst == "" {
		return BookUpdate{}, false
	}
	update := BookUpdate{Instrument: inst}
	update.Ask, update.AskSize, update.HasAsk = level(data["ask"])
	update.Bid, update.BidSize, update.HasBid = level(data["bid"])
	if !update.HasAsk && !update.HasBid {
		return BookUpdate{}, false
	}
	return update, true
}

// level decodes a [price, quantity] pair.
func level(v any) (float64, float64, bool) {
	pair, ok := toSlice(v)
	if !ok || len(pair) < 2 {
		return 0, 0, false
	}
	px, okPx := floatFromAny(pair[0])
	qty, okQty := floatFromAny(pair[1])
	if !okPx || !okQty {
		return 0, 0, false
	}
	return px, qty, true
}

func parseTickers(payload map[string]any) []TickerUpdate {
	items, ok := toSlice(payload["data"])
	if !ok {
		return nil
	}
	out := make([]TickerUpdate, 0, len(items))
	for _, item := range items {
		m, ok := toMap(item)
		if !ok {
			continue
		}
		inst := stringFromMap(m, "marketCode")
		if inst == "" {
			continue
		}
		update := TickerUpdate{
			Instrument: inst,
			MarkPrice:  floatFromMap(m, "markPrice"),
			IndexPrice: floatFromMap(m, "indexPrice"),
		}
		if raw, ok := m["volume24h"]; ok {
			update.Volume24h, update.HasVolume = floatFromAny(raw)
		}
		out = append(out, update)
	}
	return out
}

func parsePositions(payload map[string]any) []PositionUpdate {
	items, ok := toSlice(payload["data"])
	if !ok {
		return nil
	}
	out := make([]PositionUpdate, 0, len(items))
	for _, item := range items {
		m, ok := toMap(item)
		if !ok {
			continue
		}
		inst := stringFromMap(m, "marketCode")
		size, hasSize := floatFromAny(m["position"])
		if inst == "" || !hasSize {
			continue
		}
		out = append(out, PositionUpdate{
			Instrument: inst,
			Size:       size,
			EntryPrice: floatFromMap(m, "entryPrice"),
		})
	}
	return out
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func stringFromMap(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s := stringFromAny(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func floatFromMap(m map[string]any, keys ...string) float64 {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if f, ok := floatFromAny(v); ok {
				return f
			}
		}
	}
	return 0
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
