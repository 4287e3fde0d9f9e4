package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/lattice-iot/gatewaylink/internal/dbstore"
	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

// Pivot column ranges. Sensor indexes outside these ranges are ignored;
// unreferenced columns stay NULL, never zero.
const (
	tempHumSlotMin = 10
	tempHumSlotMax = 15
	noiseSlotMin   = 16
	noiseSlotMax   = 18
)

// pivotKey identifies one (device, module) pivot accumulator within the
// current batch window.
type pivotKey struct {
	deviceID    string
	deviceType  protocol.Family
	moduleIndex int
}

type tempHumPivot struct {
	moduleID  string
	messageID string
	temp      map[int]*float64
	hum       map[int]*float64
	parseAt   time.Time
}

func (p *tempHumPivot) row(k pivotKey) Row {
	r := Row{
		"device_id":    k.deviceID,
		"device_type":  string(k.deviceType),
		"module_index": k.moduleIndex,
		"module_id":    p.moduleID,
		"message_id":   p.messageID,
		"parse_at":     p.parseAt,
	}
	for slot := tempHumSlotMin; slot <= tempHumSlotMax; slot++ {
		if v, ok := p.temp[slot]; ok && v != nil {
			r[fmt.Sprintf("temp_index%d", slot)] = *v
		}
		if v, ok := p.hum[slot]; ok && v != nil {
			r[fmt.Sprintf("hum_index%d", slot)] = *v
		}
	}
	return r
}

type noisePivot struct {
	moduleID  string
	messageID string
	noise     map[int]*float64
	parseAt   time.Time
}

func (p *noisePivot) row(k pivotKey) Row {
	r := Row{
		"device_id":    k.deviceID,
		"device_type":  string(k.deviceType),
		"module_index": k.moduleIndex,
		"module_id":    p.moduleID,
		"message_id":   p.messageID,
		"parse_at":     p.parseAt,
	}
	for slot := noiseSlotMin; slot <= noiseSlotMax; slot++ {
		if v, ok := p.noise[slot]; ok && v != nil {
			r[fmt.Sprintf("noise_index%d", slot)] = *v
		}
	}
	return r
}

// handle routes one canonical event to its destination table.
func (w *Writer) handle(ce protocol.CanonicalEvent) {
	switch ce.MessageType {
	case protocol.Heartbeat:
		w.enqueue("iot_heartbeat", Row{
			"device_id":      ce.DeviceID,
			"device_type":    string(ce.DeviceType),
			"message_id":     ce.MessageID,
			"active_modules": toJSON(ce.Payload),
			"parse_at":       parseAtNow(),
		})

	case protocol.DeviceMetadata:
		w.upsertMetadata(ce)

	case protocol.TempHum:
		w.accumulateTempHum(ce)

	case protocol.NoiseLevel:
		w.accumulateNoise(ce)

	case protocol.RFIDSnapshot:
		w.enqueue("iot_rfid_snapshot", Row{
			"device_id":    ce.DeviceID,
			"device_type":  string(ce.DeviceType),
			"module_index": moduleIndexOrZero(ce),
			"module_id":    ce.ModuleID,
			"message_id":   ce.MessageID,
			"snapshot":     toJSON(ce.Payload),
			"parse_at":     parseAtNow(),
		})

	case protocol.RFIDEvent:
		for _, rec := range ce.Payload {
			row := Row{
				"device_id":    ce.DeviceID,
				"device_type":  string(ce.DeviceType),
				"module_index": moduleIndexOrZero(ce),
				"module_id":    ce.ModuleID,
				"message_id":   ce.MessageID,
				"slot_index":   intField(rec, "slotIndex"),
				"tag_id":       stringField(rec, "tagId"),
				"action":       stringField(rec, "action"),
				"parse_at":     parseAtNow(),
			}
			if alarm, ok := rec["alarm"].(bool); ok {
				row["alarm"] = alarm
			}
			w.enqueue("iot_rfid_event", row)
		}

	case protocol.DoorState:
		row := Row{
			"device_id":    ce.DeviceID,
			"device_type":  string(ce.DeviceType),
			"module_index": moduleIndexOrZero(ce),
			"module_id":    ce.ModuleID,
			"message_id":   ce.MessageID,
			"parse_at":     parseAtNow(),
		}
		if len(ce.Payload) > 0 {
			rec := ce.Payload[0]
			for field, col := range map[string]string{"doorState": "door_state", "door1State": "door1_state", "door2State": "door2_state"} {
				if v, ok := rec[field].(int); ok {
					row[col] = v
				}
			}
		}
		w.enqueue("iot_door_event", row)

	case protocol.QryClrResp, protocol.SetClrResp, protocol.ClnAlmResp,
		protocol.QryTempHumResp, protocol.QryDoorStateResp:
		row := Row{
			"device_id":    ce.DeviceID,
			"device_type":  string(ce.DeviceType),
			"message_id":   ce.MessageID,
			"message_type": string(ce.MessageType),
			"result":       toJSON(ce.Payload),
			"parse_at":     parseAtNow(),
		}
		if ce.ModuleIndex != nil {
			row["module_index"] = *ce.ModuleIndex
		}
		w.enqueue("iot_cmd_result", row)

	case protocol.MetaChangedEvt:
		for _, rec := range ce.Payload {
			row := Row{
				"device_id":   ce.DeviceID,
				"device_type": string(ce.DeviceType),
				"message_id":  ce.MessageID,
				"description": stringField(rec, "description"),
				"kind":        stringField(rec, "kind"),
				"target":      stringField(rec, "target"),
				"parse_at":    parseAtNow(),
			}
			if v := rec["before"]; v != nil {
				row["before_value"] = fmt.Sprint(v)
			}
			if v := rec["after"]; v != nil {
				row["after_value"] = fmt.Sprint(v)
			}
			w.enqueue("iot_topchange_event", row)
		}
	}
}

// accumulateTempHum merges one module's slot readings into the batch
// window's pivot; later readings for the same slot overwrite earlier ones.
func (w *Writer) accumulateTempHum(ce protocol.CanonicalEvent) {
	if ce.ModuleIndex == nil {
		return
	}
	k := pivotKey{ce.DeviceID, ce.DeviceType, *ce.ModuleIndex}

	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.tempHum[k]
	if !ok {
		p = &tempHumPivot{temp: make(map[int]*float64), hum: make(map[int]*float64)}
		w.tempHum[k] = p
	}
	p.moduleID = ce.ModuleID
	p.messageID = ce.MessageID
	p.parseAt = parseAtNow()
	for _, rec := range ce.Payload {
		slot := intField(rec, "sensorIndex")
		if slot < tempHumSlotMin || slot > tempHumSlotMax {
			continue
		}
		if v, ok := rec["temp"].(*float64); ok && v != nil {
			p.temp[slot] = v
		}
		if v, ok := rec["hum"].(*float64); ok && v != nil {
			p.hum[slot] = v
		}
	}
}

func (w *Writer) accumulateNoise(ce protocol.CanonicalEvent) {
	if ce.ModuleIndex == nil {
		return
	}
	k := pivotKey{ce.DeviceID, ce.DeviceType, *ce.ModuleIndex}

	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.noise[k]
	if !ok {
		p = &noisePivot{noise: make(map[int]*float64)}
		w.noise[k] = p
	}
	p.moduleID = ce.ModuleID
	p.messageID = ce.MessageID
	p.parseAt = parseAtNow()
	for _, rec := range ce.Payload {
		slot := intField(rec, "sensorIndex")
		if slot < noiseSlotMin || slot > noiseSlotMax {
			continue
		}
		if v, ok := rec["noise"].(*float64); ok && v != nil {
			p.noise[slot] = v
		}
	}
}

// upsertMetadata writes DEVICE_METADATA immediately rather than batching:
// the row is keyed on device_id and later events must not resurrect older
// metadata out of order.
func (w *Writer) upsertMetadata(ce protocol.CanonicalEvent) {
	if len(ce.Payload) == 0 {
		return
	}
	rec := ce.Payload[0]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := w.db.UpsertDeviceMetadata(ctx, dbstore.DeviceMetadataRow{
		DeviceID:      ce.DeviceID,
		DeviceType:    string(ce.DeviceType),
		IP:            stringField(rec, "ip"),
		MAC:           stringField(rec, "mac"),
		FwVer:         stringField(rec, "fwVer"),
		Mask:          stringField(rec, "mask"),
		Gateway:       stringField(rec, "gateway"),
		Model:         stringField(rec, "model"),
		ActiveModules: toJSON(rec["modules"]),
		MessageID:     ce.MessageID,
	})
	if err != nil {
		w.log.Error().Err(err).Str("device_id", ce.DeviceID).Msg("metadata upsert failed")
		w.bus.ReportError("storage", err)
	}
}

func moduleIndexOrZero(ce protocol.CanonicalEvent) int {
	if ce.ModuleIndex == nil {
		return 0
	}
	return *ce.ModuleIndex
}

func intField(m map[string]any, key string) int {
	v, _ := m[key].(int)
	return v
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
