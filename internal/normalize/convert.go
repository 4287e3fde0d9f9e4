package normalize

import "github.com/lattice-iot/gatewaylink/internal/protocol"

// The parsers hand the normalizer plain map[string]any records using native
// Go types (int, string, bool, *float64) rather than interface{} wrapping
// JSON numbers, so these helpers are simple type assertions, not the
// float64-coercing helpers jsonproto needs for raw JSON.

func fieldInt(m map[string]any, key string) (int, bool) {
	v, ok := m[key].(int)
	return v, ok
}

func fieldString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func fieldBool(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func fieldFloatPtr(m map[string]any, key string) *float64 {
	v, _ := m[key].(*float64)
	return v
}

func fieldSlots(m map[string]any, key string) []map[string]any {
	v, _ := m[key].([]map[string]any)
	return v
}

func toRFIDSlots(records []map[string]any) []protocol.RFIDSlot {
	out := make([]protocol.RFIDSlot, 0, len(records))
	for _, r := range records {
		idx, _ := fieldInt(r, "slotIndex")
		out = append(out, protocol.RFIDSlot{
			SlotIndex: idx,
			TagID:     fieldString(r, "tagId"),
			Alarm:     fieldBool(r, "alarm"),
		})
	}
	return out
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func intPtr(v int) *int { return &v }
