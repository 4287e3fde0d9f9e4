package jsonproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

func TestParseTypoDiscriminatorMapsToDevModInfo(t *testing.T) {
	env := map[string]any{
		"msg_type":   "devies_init_req",
		"gateway_sn": "GW-100",
		"data": []any{
			map[string]any{"module_index": float64(1), "module_sn": "M1", "u_total": float64(6)},
		},
	}
	ifm, err := Parse("V6800Upload/GW-100/up", env)
	require.NoError(t, err)
	assert.Equal(t, protocol.DevModInfo, ifm.MessageType)
	require.Len(t, ifm.Data, 1)
	assert.Equal(t, 1, ifm.Data[0]["moduleIndex"])
}

func TestDeviceIDExtractionOrder(t *testing.T) {
	env := map[string]any{
		"msg_type":   "heart_beat_req",
		"gateway_id": "should-not-win",
		"gateway_sn": "GW-WINS",
		"data":       []any{},
	}
	ifm, err := Parse("V6800Upload/fallback/up", env)
	require.NoError(t, err)
	assert.Equal(t, "GW-WINS", ifm.DeviceID)
}

func TestDeviceIDGatewayHeartbeatSpecialCase(t *testing.T) {
	env := map[string]any{
		"msg_type":    "heart_beat_req",
		"module_type": "mt_gw",
		"module_sn":   "MOD-SN-1",
		"data":        []any{},
	}
	ifm, err := Parse("V6800Upload/fallback/up", env)
	require.NoError(t, err)
	assert.Equal(t, "MOD-SN-1", ifm.DeviceID)
}

func TestDeviceIDTopicFallback(t *testing.T) {
	env := map[string]any{"msg_type": "heart_beat_req", "data": []any{}}
	ifm, err := Parse("V6800Upload/GW-topic-id/up", env)
	require.NoError(t, err)
	assert.Equal(t, "GW-topic-id", ifm.DeviceID)
}

// TestRFIDSnapshotDropsEmptyTagCode exercises the boundary: a record with
// empty tag_code must be dropped.
func TestRFIDSnapshotDropsEmptyTagCode(t *testing.T) {
	env := map[string]any{
		"msg_type":   "u_state_resp",
		"gateway_sn": "GW-1",
		"data": []any{
			map[string]any{
				"module_index": float64(1),
				"module_sn":    "M1",
				"data": []any{
					map[string]any{"slot_index": float64(1), "tag_code": "abc", "warning": float64(1)},
					map[string]any{"slot_index": float64(2), "tag_code": ""},
				},
			},
		},
	}
	ifm, err := Parse("V6800Upload/GW-1/up", env)
	require.NoError(t, err)
	require.Len(t, ifm.Data, 1)
	slots := ifm.Data[0]["slots"].([]map[string]any)
	require.Len(t, slots, 1)
	assert.Equal(t, "abc", slots[0]["tagId"])
	assert.Equal(t, true, slots[0]["alarm"])
}

func TestRFIDEventActionDerivation(t *testing.T) {
	env := map[string]any{
		"msg_type":     "u_state_changed_notify_req",
		"gateway_sn":   "GW-1",
		"module_index": float64(2),
		"module_sn":    "M2",
		"slot_index":   float64(5),
		"tag_code":     "tagX",
		"new_state":    float64(1),
		"old_state":    float64(0),
	}
	ifm, err := Parse("V6800Upload/GW-1/up", env)
	require.NoError(t, err)
	assert.Equal(t, protocol.RFIDEvent, ifm.MessageType)
	require.Len(t, ifm.Data, 1)
	assert.Equal(t, "ATTACHED", ifm.Data[0]["action"])
}

func TestTempHumZeroCoercedToNull(t *testing.T) {
	env := map[string]any{
		"msg_type":   "th_state_req",
		"gateway_sn": "GW-1",
		"data": []any{
			map[string]any{
				"module_index": float64(1),
				"module_sn":    "M1",
				"data": []any{
					map[string]any{"slot_index": float64(10), "temp": float64(0), "hum": float64(55.5)},
				},
			},
		},
	}
	ifm, err := Parse("V6800Upload/GW-1/up", env)
	require.NoError(t, err)
	slots := ifm.Data[0]["slots"].([]map[string]any)
	require.Len(t, slots, 1)
	assert.Nil(t, slots[0]["temp"])
	require.NotNil(t, slots[0]["hum"])
}

func TestDoorStateDualVsSingle(t *testing.T) {
	dual := map[string]any{
		"msg_type":     "door_state_notify_req",
		"gateway_sn":   "GW-1",
		"module_index": float64(1),
		"new_state1":   float64(1),
		"new_state2":   float64(0),
	}
	ifm, err := Parse("V6800Upload/GW-1/up", dual)
	require.NoError(t, err)
	assert.Equal(t, 1, ifm.Data[0]["door1State"])
	assert.Equal(t, 0, ifm.Data[0]["door2State"])

	single := map[string]any{
		"msg_type":     "door_state_notify_req",
		"gateway_sn":   "GW-1",
		"module_index": float64(1),
		"new_state":    float64(1),
	}
	ifm2, err := Parse("V6800Upload/GW-1/up", single)
	require.NoError(t, err)
	assert.Equal(t, 1, ifm2.Data[0]["doorState"])
	assert.Nil(t, ifm2.Data[0]["door1State"])
}

func TestUnknownMsgTypePreservesRaw(t *testing.T) {
	env := map[string]any{"msg_type": "something_new", "gateway_sn": "GW-1"}
	ifm, err := Parse("V6800Upload/GW-1/up", env)
	require.NoError(t, err)
	assert.Equal(t, protocol.Unknown, ifm.MessageType)
	require.Len(t, ifm.Data, 1)
	assert.NotNil(t, ifm.Data[0]["raw"])
}
