package jsonproto

import "fmt"

// parseHeartbeat iterates the complete, authoritative module list in data[].
func parseHeartbeat(env map[string]any) ([]map[string]any, error) {
	items := asSlice(env["data"])
	out := make([]map[string]any, 0, len(items))
	for _, raw := range items {
		m := asMap(raw)
		if m == nil {
			continue
		}
		idx, ok := moduleIndexOf(m)
		if !ok {
			continue
		}
		rec := map[string]any{
			"moduleIndex": idx,
			"moduleId":    moduleIDOf(m),
		}
		if uTotal, ok := getInt(m, "u_total"); ok {
			rec["uTotal"] = uTotal
		}
		out = append(out, rec)
	}
	return out, nil
}

// parseRFIDSnapshot handles u_state_resp's nested per-module grouping,
// dropping entries with a null/empty tag_code and mapping warning==1 to
// alarm=true.
func parseRFIDSnapshot(env map[string]any) ([]map[string]any, error) {
	modules := asSlice(env["data"])
	out := make([]map[string]any, 0, len(modules))
	for _, raw := range modules {
		m := asMap(raw)
		if m == nil {
			continue
		}
		idx, _ := moduleIndexOf(m)
		moduleID := moduleIDOf(m)

		innerItems := asSlice(m["data"])
		if len(innerItems) == 0 {
			innerItems = asSlice(m["u_data"])
		}

		slots := make([]map[string]any, 0, len(innerItems))
		for _, rawSlot := range innerItems {
			slot := asMap(rawSlot)
			if slot == nil {
				continue
			}
			tag := getString(slot, "tag_code")
			if tag == "" {
				continue
			}
			slotIndex, _ := getInt(slot, "slot_index")
			warning, _ := getInt(slot, "warning")
			slots = append(slots, map[string]any{
				"slotIndex": slotIndex,
				"tagId":     tag,
				"alarm":     warning == 1,
			})
		}

		out = append(out, map[string]any{
			"moduleIndex": idx,
			"moduleId":    moduleID,
			"slots":       slots,
		})
	}
	return out, nil
}

// parseRFIDEvent handles u_state_changed_notify_req, deriving action from
// (new_state, old_state) with a fallback on new_state alone.
func parseRFIDEvent(env map[string]any) ([]map[string]any, error) {
	idx, _ := moduleIndexOf(env)
	moduleID := moduleIDOf(env)
	slotIndex, _ := getInt(env, "slot_index")
	tag := getAliasedString(env, "tag_code", "new_tag_code")

	newState, hasNew := getInt(env, "new_state")
	oldState, hasOld := getInt(env, "old_state")

	action := "DETACHED"
	switch {
	case hasNew && hasOld && newState == 1 && oldState == 0:
		action = "ATTACHED"
	case hasNew && hasOld && newState == 0 && oldState == 1:
		action = "DETACHED"
	case hasNew && newState == 1:
		action = "ATTACHED"
	case hasNew:
		action = "DETACHED"
	}

	return []map[string]any{{
		"moduleIndex": idx,
		"moduleId":    moduleID,
		"slotIndex":   slotIndex,
		"tagId":       tag,
		"action":      action,
	}}, nil
}

// parseTempHum handles th_state_req/resp; a raw 0 reading is coerced to
// null rather than reported as a real 0.0 value.
func parseTempHum(env map[string]any) ([]map[string]any, error) {
	modules := asSlice(env["data"])
	out := make([]map[string]any, 0, len(modules))
	for _, raw := range modules {
		m := asMap(raw)
		if m == nil {
			continue
		}
		idx, _ := moduleIndexOf(m)
		moduleID := moduleIDOf(m)

		innerItems := asSlice(m["data"])
		if len(innerItems) == 0 {
			innerItems = asSlice(m["th_data"])
		}

		slots := make([]map[string]any, 0, len(innerItems))
		for _, rawSlot := range innerItems {
			slot := asMap(rawSlot)
			if slot == nil {
				continue
			}
			slotIndex, _ := getInt(slot, "slot_index")
			slots = append(slots, map[string]any{
				"sensorIndex": slotIndex,
				"temp":        zeroToNil(getFloatPtr(slot, "temp")),
				"hum":         zeroToNil(getFloatPtr(slot, "hum")),
			})
		}

		out = append(out, map[string]any{
			"moduleIndex": idx,
			"moduleId":    moduleID,
			"slots":       slots,
		})
	}
	return out, nil
}

func zeroToNil(f *float64) *float64 {
	if f != nil && *f == 0 {
		return nil
	}
	return f
}

// parseDoorState accepts dual-door fields (new_state1/new_state2) when
// present, a single new_state otherwise, and tolerates the response variant
// carrying fields at the envelope top level.
func parseDoorState(env map[string]any) ([]map[string]any, error) {
	idx, _ := moduleIndexOf(env)
	moduleID := moduleIDOf(env)

	rec := map[string]any{
		"moduleIndex": idx,
		"moduleId":    moduleID,
	}

	if s1, ok := getInt(env, "new_state1"); ok {
		rec["door1State"] = s1
		if s2, ok := getInt(env, "new_state2"); ok {
			rec["door2State"] = s2
		}
	} else if s, ok := getInt(env, "new_state"); ok {
		rec["doorState"] = s
	}

	return []map[string]any{rec}, nil
}

// parseDevModInfo handles dev_mod_info_req/devies_init_req: each data[]
// entry contributes a module record; the envelope contributes device ip/mac.
func parseDevModInfo(env map[string]any) ([]map[string]any, error) {
	items := asSlice(env["data"])
	out := make([]map[string]any, 0, len(items))

	ip := getString(env, "gateway_ip")
	mac := getString(env, "gateway_mac")

	for _, raw := range items {
		m := asMap(raw)
		if m == nil {
			continue
		}
		idx, ok := moduleIndexOf(m)
		if !ok {
			continue
		}
		rec := map[string]any{
			"moduleIndex": idx,
			"moduleId":    moduleIDOf(m),
			"ip":          ip,
			"mac":         mac,
		}
		if uTotal, ok := getInt(m, "u_total"); ok {
			rec["uTotal"] = uTotal
		}
		if fw := getAliasedString(m, "fw_ver", "firmware"); fw != "" {
			rec["fwVer"] = fw
		}
		out = append(out, rec)
	}

	if len(out) == 0 && (ip != "" || mac != "") {
		out = append(out, map[string]any{"ip": ip, "mac": mac})
	}
	return out, nil
}

// parseCommandResponse normalizes result booleans/integers: 0/true->Success,
// 1/false->Failure.
func parseCommandResponse(env map[string]any) ([]map[string]any, error) {
	idx, _ := moduleIndexOf(env)
	result := "Failure"

	switch v := env["result"].(type) {
	case bool:
		if v {
			result = "Success"
		}
	case float64:
		if v == 0 {
			result = "Success"
		}
	default:
		return nil, fmt.Errorf("command response: missing or invalid result field")
	}

	return []map[string]any{{
		"moduleIndex": idx,
		"result":      result,
	}}, nil
}
