// Package binproto decodes Family-B's length-implicit binary frames into
// the protocol-agnostic intermediate form. It never panics: every decode
// path validates length before reading and returns (nil, error) on any
// malformed input.
package binproto

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

// Parse decodes a single Family-B frame. topic is the MQTT topic the frame
// arrived on; some message types are disambiguated by topic suffix before
// any byte is inspected.
func Parse(topic string, raw []byte) (*protocol.IntermediateForm, error) {
	if len(raw) < 1 {
		return nil, fmt.Errorf("binproto: empty frame")
	}

	msgType := dispatch(topic, raw)

	var (
		deviceID string
		data     []map[string]any
		err      error
	)

	switch msgType {
	case protocol.Heartbeat:
		data, err = decodeHeartbeat(raw)
	case protocol.RFIDSnapshot:
		data, err = decodeRFIDSnapshot(raw)
	case protocol.TempHum:
		data, err = decodeTempHum(raw)
	case protocol.NoiseLevel:
		data, err = decodeNoise(raw)
	case protocol.DoorState:
		data, err = decodeDoorState(raw)
	case protocol.DeviceInfo:
		data, err = decodeDeviceInfo(raw)
	case protocol.ModuleInfo:
		data, err = decodeModuleInfo(raw)
	case protocol.QryClrResp, protocol.SetClrResp, protocol.ClnAlmResp:
		data, err = decodeCommandResponse(raw, msgType)
	default:
		msgType = protocol.Unknown
		data = []map[string]any{{"raw": raw}}
	}
	if err != nil {
		return nil, fmt.Errorf("binproto: %s: %w", msgType, err)
	}

	deviceID = deviceIDFromTopic(topic)
	messageID := lastFourAsDecimal(raw)

	return &protocol.IntermediateForm{
		DeviceType:  protocol.FamilyB,
		DeviceID:    deviceID,
		MessageType: msgType,
		MessageID:   messageID,
		Meta:        protocol.Meta{Topic: topic, Raw: raw},
		Data:        data,
	}, nil
}

// dispatch resolves the message type in strict precedence: topic suffix
// first, then leading byte, then the two-byte and opcode-indexed forms.
func dispatch(topic string, raw []byte) protocol.MessageType {
	switch {
	case strings.HasSuffix(topic, "/LabelState"):
		return protocol.RFIDSnapshot
	case strings.HasSuffix(topic, "/TemHum"):
		return protocol.TempHum
	case strings.HasSuffix(topic, "/Noise"):
		return protocol.NoiseLevel
	}

	if len(raw) >= 1 {
		switch raw[0] {
		case 0xBA:
			return protocol.DoorState
		case 0xCC, 0xCB:
			return protocol.Heartbeat
		case 0xBB:
			return protocol.RFIDSnapshot
		}
	}

	if len(raw) >= 2 && raw[0] == 0xEF {
		switch raw[1] {
		case 0x01:
			return protocol.DeviceInfo
		case 0x02:
			return protocol.ModuleInfo
		}
	}

	if len(raw) >= 7 && raw[0] == 0xAA {
		switch raw[6] {
		case 0xE4:
			return protocol.QryClrResp
		case 0xE1:
			return protocol.SetClrResp
		case 0xE2:
			return protocol.ClnAlmResp
		}
	}

	return protocol.Unknown
}

// deviceIDFromTopic extracts the deviceId segment from a V5008Upload/{id}/...
// topic. Falls back to the whole topic when the shape doesn't match.
func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return topic
}

// lastFourAsDecimal interprets the last 4 bytes of raw as a big-endian
// unsigned integer rendered as a decimal string. Returns "" if raw is too
// short to carry a messageId.
func lastFourAsDecimal(raw []byte) string {
	if len(raw) < 4 {
		return ""
	}
	v := binary.BigEndian.Uint32(raw[len(raw)-4:])
	return strconv.FormatUint(uint64(v), 10)
}

func idAsDecimal(b []byte) string {
	if len(b) != 4 {
		return ""
	}
	return strconv.FormatUint(uint64(binary.BigEndian.Uint32(b)), 10)
}

func formatIP(b []byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}

func formatMAC(b []byte) string {
	parts := make([]string, len(b))
	for i, x := range b {
		parts[i] = fmt.Sprintf("%02X", x)
	}
	return strings.Join(parts, ":")
}

// signedSensor decodes the shared signed sensor encoding: intByte carries a
// sign bit in its high bit and the magnitude in its low seven bits
// (sign-and-magnitude, not a two's-complement reinterpretation of the
// whole byte), fracByte is a
// hundredths fraction. (0x00, 0x00) is the zero sentinel mapping to "no
// reading" rather than 0.0.
func signedSensor(intByte, fracByte byte) *float64 {
	if intByte == 0x00 && fracByte == 0x00 {
		return nil
	}

	negative := intByte&0x80 != 0
	magnitudeInt := intByte
	if negative {
		magnitudeInt = intByte &^ 0x80
	}

	v := float64(magnitudeInt) + float64(fracByte)/100.0
	if negative {
		v = -v
	}
	v = math.Round(v*100) / 100
	return &v
}

func requireLen(raw []byte, n int, what string) error {
	if len(raw) < n {
		return fmt.Errorf("%s: need %d bytes, have %d", what, n, len(raw))
	}
	return nil
}
