package binproto

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

// decodeHeartbeat: header(1) + 10x(modAddr(1)+modId(4)+uTotal(1)) + messageId(4).
// Slots with modId==0 or modAddr>5 are filtered. The result may be an empty
// slice (all ten slots zeroed) but is never nil.
func decodeHeartbeat(raw []byte) ([]map[string]any, error) {
	const recordLen = 6
	const numSlots = 10
	if err := requireLen(raw, 1+numSlots*recordLen+4, "heartbeat"); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, numSlots)
	off := 1
	for i := 0; i < numSlots; i++ {
		modAddr := raw[off]
		modID := raw[off+1 : off+5]
		uTotal := raw[off+5]
		off += recordLen

		modIDVal := idAsDecimal(modID)
		if modIDVal == "0" || modAddr > 5 {
			continue
		}
		out = append(out, map[string]any{
			"moduleIndex": int(modAddr),
			"moduleId":    modIDVal,
			"uTotal":      int(uTotal),
		})
	}
	return out, nil
}

// decodeRFIDSnapshot: header(1)+modAddr(1)+modId(4)+reserved(1)+uTotal(1)+count(1)
// + count*(slotIndex(1)+alarm(1)+tagId(4)) + messageId(4).
func decodeRFIDSnapshot(raw []byte) ([]map[string]any, error) {
	if err := requireLen(raw, 9, "rfid_snapshot header"); err != nil {
		return nil, err
	}
	modAddr := int(raw[1])
	modID := idAsDecimal(raw[2:6])
	uTotal := int(raw[7])
	count := int(raw[8])

	const slotLen = 6
	need := 9 + count*slotLen + 4
	if err := requireLen(raw, need, "rfid_snapshot slots"); err != nil {
		return nil, err
	}

	slots := make([]map[string]any, 0, count)
	off := 9
	for i := 0; i < count; i++ {
		slotIndex := int(raw[off])
		alarm := raw[off+1] == 0x01
		tagID := idAsDecimal(raw[off+2 : off+6])
		off += slotLen
		slots = append(slots, map[string]any{
			"slotIndex": slotIndex,
			"alarm":     alarm,
			"tagId":     tagID,
		})
	}

	return []map[string]any{{
		"moduleIndex": modAddr,
		"moduleId":    modID,
		"uTotal":      uTotal,
		"slots":       slots,
	}}, nil
}

// decodeTempHum: modAddr(1)+modId(4)+6x(addr(1)+tInt(1)+tFrac(1)+hInt(1)+hFrac(1))+messageId(4).
// Records with addr==0 are skipped.
func decodeTempHum(raw []byte) ([]map[string]any, error) {
	const recordLen = 5
	const numSlots = 6
	if err := requireLen(raw, 5+numSlots*recordLen+4, "temp_hum"); err != nil {
		return nil, err
	}
	modAddr := int(raw[0])
	modID := idAsDecimal(raw[1:5])

	slots := make([]map[string]any, 0, numSlots)
	off := 5
	for i := 0; i < numSlots; i++ {
		addr := raw[off]
		tInt, tFrac := raw[off+1], raw[off+2]
		hInt, hFrac := raw[off+3], raw[off+4]
		off += recordLen
		if addr == 0 {
			continue
		}
		slots = append(slots, map[string]any{
			"sensorIndex": int(addr),
			"temp":        signedSensor(tInt, tFrac),
			"hum":         signedSensor(hInt, hFrac),
		})
	}

	return []map[string]any{{
		"moduleIndex": modAddr,
		"moduleId":    modID,
		"slots":       slots,
	}}, nil
}

// decodeNoise: modAddr(1)+modId(4)+3x(addr(1)+nInt(1)+nFrac(1))+messageId(4).
func decodeNoise(raw []byte) ([]map[string]any, error) {
	const recordLen = 3
	const numSlots = 3
	if err := requireLen(raw, 5+numSlots*recordLen+4, "noise_level"); err != nil {
		return nil, err
	}
	modAddr := int(raw[0])
	modID := idAsDecimal(raw[1:5])

	slots := make([]map[string]any, 0, numSlots)
	off := 5
	for i := 0; i < numSlots; i++ {
		addr := raw[off]
		nInt, nFrac := raw[off+1], raw[off+2]
		off += recordLen
		if addr == 0 {
			continue
		}
		slots = append(slots, map[string]any{
			"sensorIndex": int(addr),
			"noise":       signedSensor(nInt, nFrac),
		})
	}

	return []map[string]any{{
		"moduleIndex": modAddr,
		"moduleId":    modID,
		"slots":       slots,
	}}, nil
}

// decodeDoorState: header(1)+modAddr(1)+modId(4)+state(1)+messageId(4).
func decodeDoorState(raw []byte) ([]map[string]any, error) {
	if err := requireLen(raw, 1+1+4+1+4, "door_state"); err != nil {
		return nil, err
	}
	modAddr := int(raw[1])
	modID := idAsDecimal(raw[2:6])
	state := int(raw[6])

	return []map[string]any{{
		"moduleIndex": modAddr,
		"moduleId":    modID,
		"doorState":   state,
	}}, nil
}

// decodeDeviceInfo: header(2)+model(2)+fw(4)+ip(4)+mask(4)+gw(4)+mac(6)+messageId(4).
func decodeDeviceInfo(raw []byte) ([]map[string]any, error) {
	if err := requireLen(raw, 2+2+4+4+4+4+6+4, "device_info"); err != nil {
		return nil, err
	}
	off := 2
	model := strconv.FormatUint(uint64(binary.BigEndian.Uint16(raw[off:off+2])), 10)
	off += 2
	fw := idAsDecimal(raw[off : off+4])
	off += 4
	ip := formatIP(raw[off : off+4])
	off += 4
	mask := formatIP(raw[off : off+4])
	off += 4
	gw := formatIP(raw[off : off+4])
	off += 4
	mac := formatMAC(raw[off : off+6])

	return []map[string]any{{
		"model":   model,
		"fwVer":   fw,
		"ip":      ip,
		"mask":    mask,
		"gateway": gw,
		"mac":     mac,
	}}, nil
}

// decodeModuleInfo: header(2)+N*(modAddr(1)+fw(4))+messageId(4), N=(len-6)/5.
func decodeModuleInfo(raw []byte) ([]map[string]any, error) {
	if err := requireLen(raw, 6, "module_info header"); err != nil {
		return nil, err
	}
	n := (len(raw) - 6) / 5
	if n < 0 || 2+n*5+4 > len(raw) {
		return nil, fmt.Errorf("module_info: inconsistent length %d", len(raw))
	}

	out := make([]map[string]any, 0, n)
	off := 2
	for i := 0; i < n; i++ {
		modAddr := int(raw[off])
		fw := idAsDecimal(raw[off+1 : off+5])
		off += 5
		out = append(out, map[string]any{
			"moduleIndex": modAddr,
			"fwVer":       fw,
		})
	}
	return out, nil
}

// decodeCommandResponse: header(1)+deviceId(4)+result(1)+originalReq(var)+
// [optional ColorCode x K]+messageId(4). originalReq length is 2 for
// QRY_CLR_RESP, otherwise len-10. Byte 1 of originalReq is moduleIndex.
func decodeCommandResponse(raw []byte, msgType protocol.MessageType) ([]map[string]any, error) {
	if err := requireLen(raw, 1+4+1, "command_response header"); err != nil {
		return nil, err
	}
	devID := idAsDecimal(raw[1:5])
	result := "Failure"
	if raw[5] == 0xA1 {
		result = "Success"
	}

	reqLen := 2
	if msgType != protocol.QryClrResp {
		reqLen = len(raw) - 10
	}
	if reqLen < 2 {
		return nil, fmt.Errorf("command_response: negative originalReq length")
	}
	if err := requireLen(raw, 6+reqLen, "command_response originalReq"); err != nil {
		return nil, err
	}
	originalReq := raw[6 : 6+reqLen]
	moduleIndex := int(originalReq[1])

	rec := map[string]any{
		"deviceIdField": devID,
		"result":        result,
		"moduleIndex":   moduleIndex,
	}

	if msgType == protocol.QryClrResp {
		colorStart := 6 + reqLen
		colorEnd := len(raw) - 4
		if colorEnd > colorStart {
			colors := make([]int, 0, colorEnd-colorStart)
			for _, b := range raw[colorStart:colorEnd] {
				colors = append(colors, int(b))
			}
			rec["colorCodes"] = colors
		}
	}

	return []map[string]any{rec}, nil
}
