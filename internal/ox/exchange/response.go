package exchange

import (
	"fmt"
	"strconv"
	"strings"
)

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

func floatFromAny(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0
		}
		return f
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return 0
	}
}

// boolFromAny treats the exchange's "true"/"false" strings like booleans.
func boolFromAny(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// checkSuccess turns a success=false envelope into an ErrAPI error.
func checkSuccess(resp map[string]any) error {
	ok, present := boolFromAny(resp["success"])
	if !present || ok {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrAPI, apiMessage(resp))
}

func apiMessage(resp map[string]any) string {
	for _, key := range []string{"message", "msg", "error"} {
		if msg := stringFromAny(resp[key]); msg != "" {
			return msg
		}
	}
	if data, ok := resp["data"].(map[string]any); ok {
		if msg := stringFromAny(data["message"]); msg != "" {
			return msg
		}
	}
	return "request rejected"
}

func dataList(resp map[string]any) []map[string]any {
	raw, ok := resp["data"].([]any)
	if !ok {
		if single, ok := resp["data"].(map[string]any); ok {
			return []map[string]any{single}
		}
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func parseWorkingOrders(resp map[string]any) []WorkingOrder {
	items := dataList(resp)
	orders := make([]WorkingOrder, 0, len(items))
	for _, item := range items {
		orders = append(orders, WorkingOrder{
			OrderID:       stringFromAny(item["orderId"]),
			ClientOrderID: stringFromAny(item["clientOrderId"]),
			Instrument:    stringFromAny(item["marketCode"]),
			Side:          Side(strings.ToUpper(stringFromAny(item["side"]))),
			Price:         floatFromAny(item["price"]),
			Quantity:      floatFromAny(item["quantity"]),
		})
	}
	return orders
}

// parsePositions flattens the per-account position lists.
func parsePositions(resp map[string]any) []Position {
	var out []Position
	for _, account := range dataList(resp) {
		raw, _ := account["positions"].([]any)
		for _, item := range raw {
			pos, ok := item.(map[string]any)
			if !ok {
				continue
			}
			code := stringFromAny(pos["marketCode"])
			if code == "" {
				continue
			}
			out = append(out, Position{
				Instrument: code,
				Size:       floatFromAny(pos["position"]),
				EntryPrice: floatFromAny(pos["entryPrice"]),
			})
		}
	}
	return out
}

// placeResult reports the first rejected order, if any, and the exchange order id.
func placeResult(resp map[string]any) (string, error) {
	for _, item := range dataList(resp) {
		if ok, present := boolFromAny(item["success"]); present && !ok {
			return "", fmt.Errorf("%w: %s", ErrAPI, apiMessage(item))
		}
		if id := stringFromAny(item["orderId"]); id != "" {
			return id, nil
		}
	}
	return "", nil
}
