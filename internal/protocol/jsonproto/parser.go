// Package jsonproto decodes Family-J's self-describing JSON envelopes into
// the protocol-agnostic intermediate form. Like binproto it never panics:
// malformed or schema-violating input yields (nil, error), never a partial
// IntermediateForm.
package jsonproto

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

// msgTypeTable maps the wire discriminator to a canonical messageType. The
// "devies_init_req" entry is a known typo real devices emit — it is ground
// truth, not a bug to fix.
var msgTypeTable = map[string]protocol.MessageType{
	"heart_beat_req":                 protocol.Heartbeat,
	"u_state_resp":                   protocol.RFIDSnapshot,
	"u_state_changed_notify_req":     protocol.RFIDEvent,
	"th_state_req":                   protocol.TempHum,
	"th_state_resp":                  protocol.TempHum,
	"door_state_notify_req":          protocol.DoorState,
	"door_state_resp":                protocol.QryDoorStateResp,
	"devies_init_req":                protocol.DevModInfo, // typo, kept intentionally
	"dev_mod_info_req":               protocol.DevModInfo,
	"u_total_changed_notify_req":     protocol.UTotalChanged,
	"query_u_state_resp":             protocol.QryClrResp,
	"set_module_property_resp":       protocol.SetClrResp,
	"clear_u_warning_resp":           protocol.ClnAlmResp,
	"query_th_state_resp":            protocol.QryTempHumResp,
	"query_door_state_resp":          protocol.QryDoorStateResp,
}

// Parse decodes a single Family-J envelope, which may be raw JSON text or an
// already-decoded object (accepted as map[string]any or json.RawMessage).
func Parse(topic string, payload any) (*protocol.IntermediateForm, error) {
	env, err := toEnvelope(payload)
	if err != nil {
		return nil, fmt.Errorf("jsonproto: %w", err)
	}

	rawMsgType, _ := env["msg_type"].(string)
	msgType, known := msgTypeTable[rawMsgType]
	if !known {
		msgType = protocol.Unknown
	}

	deviceID := extractDeviceID(env, topic, rawMsgType)
	messageID := stringify(env["uuid_number"])

	var (
		data []map[string]any
		derr error
	)

	switch msgType {
	case protocol.Heartbeat:
		data, derr = parseHeartbeat(env)
	case protocol.RFIDSnapshot:
		data, derr = parseRFIDSnapshot(env)
	case protocol.RFIDEvent:
		data, derr = parseRFIDEvent(env)
	case protocol.TempHum, protocol.QryTempHumResp:
		data, derr = parseTempHum(env)
	case protocol.DoorState, protocol.QryDoorStateResp:
		data, derr = parseDoorState(env)
	case protocol.DevModInfo:
		data, derr = parseDevModInfo(env)
	case protocol.UTotalChanged:
		data, derr = parseDevModInfo(env)
	case protocol.QryClrResp, protocol.SetClrResp, protocol.ClnAlmResp:
		data, derr = parseCommandResponse(env)
	default:
		msgType = protocol.Unknown
		raw, _ := json.Marshal(env)
		data = []map[string]any{{"raw": json.RawMessage(raw)}}
	}
	if derr != nil {
		return nil, fmt.Errorf("jsonproto: %s: %w", msgType, derr)
	}

	rawBytes, _ := json.Marshal(env)
	return &protocol.IntermediateForm{
		DeviceType:  protocol.FamilyJ,
		DeviceID:    deviceID,
		MessageType: msgType,
		MessageID:   messageID,
		Meta:        protocol.Meta{Topic: topic, Raw: rawBytes},
		Data:        data,
	}, nil
}

func toEnvelope(payload any) (map[string]any, error) {
	switch v := payload.(type) {
	case map[string]any:
		return v, nil
	case json.RawMessage:
		return decodeBytes(v)
	case []byte:
		return decodeBytes(v)
	case string:
		return decodeBytes([]byte(v))
	default:
		return nil, fmt.Errorf("unsupported payload type %T", payload)
	}
}

func decodeBytes(b []byte) (map[string]any, error) {
	var env map[string]any
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return env, nil
}

// extractDeviceID probes the envelope's id fields in fixed precedence, with
// the module_sn special case for gateway heartbeats and a topic-path
// fallback.
func extractDeviceID(env map[string]any, topic, rawMsgType string) string {
	if rawMsgType == "heart_beat_req" {
		if mt, _ := env["module_type"].(string); mt == "mt_gw" {
			if v := getString(env, "module_sn"); v != "" {
				return v
			}
		}
	}

	for _, key := range []string{"gateway_sn", "gateway_id", "device_id", "dev_id", "sn"} {
		if v := getString(env, key); v != "" {
			return v
		}
	}

	// Fallback: V6800Upload/{deviceId}/...
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}

func getString(env map[string]any, key string) string {
	switch v := env[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func getAliasedString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := getString(m, k); v != "" {
			return v
		}
	}
	return ""
}

func getFloatPtr(m map[string]any, key string) *float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}

func getInt(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// moduleIndexOf and moduleIDOf probe the per-module field aliases in their
// fixed precedence order.
func moduleIndexOf(m map[string]any) (int, bool) {
	for _, k := range []string{"module_index", "host_gateway_port_index", "index"} {
		if v, ok := getInt(m, k); ok {
			return v, true
		}
	}
	return 0, false
}

func moduleIDOf(m map[string]any) string {
	return getAliasedString(m, "module_sn", "extend_module_sn", "module_id")
}
