package command

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

// translateJSON encodes one intent as a Family-J envelope and publishes it.
// Every envelope carries msg_type plus a uuid_number the device echoes back
// in its response.
func (t *Translator) translateJSON(cmd protocol.CommandRequest) error {
	env, err := jsonEnvelope(cmd)
	if err != nil {
		return err
	}
	env["uuid_number"] = newUUIDNumber()

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd.MessageType, err)
	}
	return t.publish(cmd, payload)
}

func jsonEnvelope(cmd protocol.CommandRequest) (map[string]any, error) {
	switch cmd.MessageType {
	case protocol.CmdQryDevModInfo:
		// One combined query on this family, unlike the binary split.
		return map[string]any{"msg_type": "dev_mod_info_req"}, nil

	case protocol.CmdQryRFIDSnapshot:
		idx, err := requireModuleIndex(cmd.Payload)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"msg_type":     "query_u_state_req",
			"module_index": idx,
		}, nil

	case protocol.CmdQryColor:
		idx, err := requireModuleIndex(cmd.Payload)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"msg_type":     "query_module_property_req",
			"module_index": idx,
		}, nil

	case protocol.CmdSetColor:
		idx, err := requireModuleIndex(cmd.Payload)
		if err != nil {
			return nil, err
		}
		entries, err := colorEntries(cmd.Payload)
		if err != nil {
			return nil, err
		}
		colorData := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			colorData = append(colorData, map[string]any{
				"index": e.SensorIndex,
				"color": e.ColorCode,
			})
		}
		return map[string]any{
			"msg_type":     "set_module_property_req",
			"module_index": idx,
			"u_color_data": colorData,
		}, nil

	case protocol.CmdClnAlarm:
		idx, err := requireModuleIndex(cmd.Payload)
		if err != nil {
			return nil, err
		}
		slot, ok := intFrom(cmd.Payload["sensorIndex"])
		if !ok {
			return nil, fmt.Errorf("CLN_ALARM requires sensorIndex")
		}
		return map[string]any{
			"msg_type":     "clear_u_warning",
			"module_index": idx,
			"index":        slot,
		}, nil

	case protocol.CmdQryTempHum:
		idx, err := requireModuleIndex(cmd.Payload)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"msg_type":     "query_th_state_req",
			"module_index": idx,
		}, nil

	case protocol.CmdQryDoorState:
		idx, err := requireModuleIndex(cmd.Payload)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"msg_type":     "query_door_state_req",
			"module_index": idx,
		}, nil

	default:
		return nil, fmt.Errorf("no json encoding for messageType %q", cmd.MessageType)
	}
}

// newUUIDNumber generates the numeric correlation id Family-J envelopes
// carry. Devices echo it verbatim, so uniqueness per in-flight command is
// all that matters.
func newUUIDNumber() uint32 {
	var b [4]byte
	rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}
