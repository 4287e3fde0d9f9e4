package binproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

// TestParseHeartbeatTwoModules decodes a binary heartbeat naming two active
// modules among ten slots, the rest zeroed.
func TestParseHeartbeatTwoModules(t *testing.T) {
	raw := []byte{
		0xCC,
		0x01, 0xEC, 0x37, 0x37, 0xBF, 0x06, // slot 1: modAddr=1 modId=0xEC3737BF uTotal=6
		0x02, 0x8C, 0x09, 0x09, 0x95, 0x0C, // slot 2: modAddr=2 modId=0x8C090995 uTotal=12
		0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0,
		0xF2, 0x00, 0x16, 0x8F, // messageId
	}

	ifm, err := Parse("V5008Upload/2437871205/OpeAck", raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.Heartbeat, ifm.MessageType)
	assert.Equal(t, "4060092047", ifm.MessageID)
	require.Len(t, ifm.Data, 2)
	assert.Equal(t, 1, ifm.Data[0]["moduleIndex"])
	assert.Equal(t, "3963041727", ifm.Data[0]["moduleId"])
	assert.Equal(t, 6, ifm.Data[0]["uTotal"])
	assert.Equal(t, 2, ifm.Data[1]["moduleIndex"])
	assert.Equal(t, "2349402517", ifm.Data[1]["moduleId"])
	assert.Equal(t, 12, ifm.Data[1]["uTotal"])
}

func TestParseHeartbeatAllZeroSlotsYieldsEmptyNotNilData(t *testing.T) {
	raw := make([]byte, 1+10*6+4)
	raw[0] = 0xCC
	ifm, err := Parse("V5008Upload/dev/OpeAck", raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.Heartbeat, ifm.MessageType)
	assert.NotNil(t, ifm.Data)
	assert.Empty(t, ifm.Data)
}

// TestParseTempHumNegative decodes a negative temperature and a positive
// humidity from the sign-bit/hundredths encoding, with addr==0 slots
// dropped.
func TestParseTempHumNegative(t *testing.T) {
	raw := make([]byte, 5+6*5+4)
	raw[0] = 0x01       // modAddr
	// modId bytes [1:5] left zero
	off := 5
	raw[off] = 10        // addr
	raw[off+1] = 0x85    // tInt, sign bit set -> magnitude 5
	raw[off+2] = 0x19    // tFrac = 25
	raw[off+3] = 0x33    // hInt = 51
	raw[off+4] = 0x1B    // hFrac = 27

	ifm, err := Parse("V5008Upload/dev/TemHum", raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.TempHum, ifm.MessageType)
	require.Len(t, ifm.Data, 1)
	slots := ifm.Data[0]["slots"].([]map[string]any)
	require.Len(t, slots, 1)
	temp := slots[0]["temp"].(*float64)
	hum := slots[0]["hum"].(*float64)
	require.NotNil(t, temp)
	require.NotNil(t, hum)
	assert.InDelta(t, -5.25, *temp, 0.001)
	assert.InDelta(t, 51.27, *hum, 0.001)
}

func TestSignedSensorZeroSentinelIsNilNotZero(t *testing.T) {
	v := signedSensor(0x00, 0x00)
	assert.Nil(t, v, "(0x00,0x00) must decode to nil, distinguished from 0.0")
}

func TestDispatchTopicSuffixTakesPrecedence(t *testing.T) {
	// Byte 0 would otherwise dispatch to HEARTBEAT (0xCC), but the topic
	// suffix rule has higher precedence.
	msgType := dispatch("V5008Upload/dev/TemHum", []byte{0xCC})
	assert.Equal(t, protocol.TempHum, msgType)
}

func TestParseUnknownOnGarbage(t *testing.T) {
	ifm, err := Parse("V5008Upload/dev/OpeAck", []byte{0x99})
	require.NoError(t, err)
	assert.Equal(t, protocol.Unknown, ifm.MessageType)
}

func TestParseTruncatedFrameReturnsError(t *testing.T) {
	_, err := Parse("V5008Upload/dev/OpeAck", []byte{0xCC, 0x01, 0x02})
	assert.Error(t, err)
}
