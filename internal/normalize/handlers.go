package normalize

import (
	"fmt"

	"github.com/lattice-iot/gatewaylink/internal/cache"
	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

// handleHeartbeat treats the IF's module list as authoritative, reconciles
// it into the cache, stamps every listed module as seen, and emits the
// heartbeat itself plus the resulting metadata state, plus repair commands
// for anything the cache still doesn't know.
func (n *Normalizer) handleHeartbeat(ifm protocol.IntermediateForm) {
	modules := make([]cache.ModulePatch, 0, len(ifm.Data))
	for _, rec := range ifm.Data {
		idx, ok := fieldInt(rec, "moduleIndex")
		if !ok {
			continue
		}
		mp := cache.ModulePatch{ModuleIndex: idx, ModuleID: fieldString(rec, "moduleId")}
		if u, ok := fieldInt(rec, "uTotal"); ok {
			mp.UTotal = intPtr(u)
		}
		modules = append(modules, mp)
	}

	changes := n.cache.ReconcileMetadata(ifm.DeviceID, ifm.DeviceType, modules)
	hbPayload := make([]map[string]any, 0, len(modules))
	for _, mp := range modules {
		uTotal := 0
		if mp.UTotal != nil {
			uTotal = *mp.UTotal
		}
		n.cache.UpdateHeartbeat(ifm.DeviceID, mp.ModuleIndex, mp.ModuleID, uTotal)
		hbPayload = append(hbPayload, map[string]any{
			"moduleIndex": mp.ModuleIndex,
			"moduleId":    mp.ModuleID,
			"uTotal":      uTotal,
		})
	}

	n.emit(protocol.CanonicalEvent{
		MessageType: protocol.Heartbeat,
		DeviceID:    ifm.DeviceID,
		DeviceType:  ifm.DeviceType,
		MessageID:   ifm.MessageID,
		Payload:     hbPayload,
	})

	ce := deviceMetadataCE(ifm.DeviceID, ifm.DeviceType, ifm.MessageID)
	ce.Payload = deviceMetadataPayload(n.cache, ifm.DeviceID)
	n.emit(ce)

	if len(changes) > 0 {
		n.emit(metaChangedCE(ifm.DeviceID, ifm.DeviceType, ifm.MessageID, changes))
	}

	n.triggerRepairs(ifm.DeviceID, ifm.DeviceType)
}

// triggerRepairs issues resync commands for metadata the cache still lacks,
// debounced so a device that never answers isn't re-queried every
// heartbeat.
func (n *Normalizer) triggerRepairs(deviceID string, deviceType protocol.Family) {
	if n.cache.IsDeviceInfoMissing(deviceID) && n.debounce("info:"+deviceID) {
		n.requestCommand(deviceID, deviceType, protocol.CmdQryDevModInfo, nil)
	}

	if deviceType != protocol.FamilyB {
		return
	}
	for _, idx := range n.cache.GetModulesMissingFwVer(deviceID) {
		key := fmt.Sprintf("fwver:%s:%d", deviceID, idx)
		if n.debounce(key) {
			n.requestCommand(deviceID, deviceType, protocol.CmdQryModuleInfo, map[string]any{"moduleIndex": idx})
		}
	}
}

// handleMetadataUpdate covers DEVICE_INFO, MODULE_INFO, DEV_MOD_INFO, and
// UTOTAL_CHANGED. The last of these always emits a META_CHANGED_EVENT even
// when the merge produced no detectable field change — in that case the
// payload falls back to describing current module config.
func (n *Normalizer) handleMetadataUpdate(ifm protocol.IntermediateForm, alwaysEmitChange bool) {
	patch := buildMetadataPatch(ifm.Data)
	changes := n.cache.UpsertMetadata(ifm.DeviceID, ifm.DeviceType, patch)

	ce := deviceMetadataCE(ifm.DeviceID, ifm.DeviceType, ifm.MessageID)
	ce.Payload = deviceMetadataPayload(n.cache, ifm.DeviceID)
	n.emit(ce)

	switch {
	case len(changes) > 0:
		n.emit(metaChangedCE(ifm.DeviceID, ifm.DeviceType, ifm.MessageID, changes))
	case alwaysEmitChange:
		changes = []cache.Change{{
			Description: "Module configuration updated",
			Kind:        "utotal_changed_noop",
			Target:      "device",
		}}
		n.emit(metaChangedCE(ifm.DeviceID, ifm.DeviceType, ifm.MessageID, changes))
	}
}

// handleTempHum splits a multi-module IF into one CE per module, merging
// each module's slot readings into the cache without clearing slots the
// update didn't mention. msgType distinguishes a plain reading from the
// QRY_TEMP_HUM_RESP passthrough, which shares the same wire shape.
func (n *Normalizer) handleTempHum(ifm protocol.IntermediateForm, msgType protocol.MessageType) {
	for _, rec := range ifm.Data {
		idx, ok := fieldInt(rec, "moduleIndex")
		if !ok {
			continue
		}
		moduleID := fieldString(rec, "moduleId")
		slots := fieldSlots(rec, "slots")

		readings := make(map[int]cache.TempHumReading, len(slots))
		for _, s := range slots {
			sIdx, _ := fieldInt(s, "sensorIndex")
			readings[sIdx] = cache.TempHumReading{
				Temp: fieldFloatPtr(s, "temp"),
				Hum:  fieldFloatPtr(s, "hum"),
			}
		}
		n.cache.UpdateTempHum(ifm.DeviceID, idx, readings)

		n.emit(protocol.CanonicalEvent{
			MessageType: msgType,
			DeviceID:    ifm.DeviceID,
			DeviceType:  ifm.DeviceType,
			ModuleIndex: intPtr(idx),
			ModuleID:    moduleID,
			MessageID:   ifm.MessageID,
			Payload:     slots,
		})
	}
}

// handleNoise mirrors handleTempHum for NOISE_LEVEL, family-B only.
func (n *Normalizer) handleNoise(ifm protocol.IntermediateForm) {
	for _, rec := range ifm.Data {
		idx, ok := fieldInt(rec, "moduleIndex")
		if !ok {
			continue
		}
		moduleID := fieldString(rec, "moduleId")
		slots := fieldSlots(rec, "slots")

		readings := make(map[int]*float64, len(slots))
		for _, s := range slots {
			sIdx, _ := fieldInt(s, "sensorIndex")
			readings[sIdx] = fieldFloatPtr(s, "noise")
		}
		n.cache.UpdateNoise(ifm.DeviceID, idx, readings)

		n.emit(protocol.CanonicalEvent{
			MessageType: protocol.NoiseLevel,
			DeviceID:    ifm.DeviceID,
			DeviceType:  ifm.DeviceType,
			ModuleIndex: intPtr(idx),
			ModuleID:    moduleID,
			MessageID:   ifm.MessageID,
			Payload:     slots,
		})
	}
}

// handleDoorState updates the cache's single or dual door fields,
// whichever the record carries, and emits one CE. msgType lets the
// QRY_DOOR_STATE_RESP passthrough share this path with a live DOOR_STATE
// notification.
func (n *Normalizer) handleDoorState(ifm protocol.IntermediateForm, msgType protocol.MessageType) {
	if len(ifm.Data) == 0 {
		return
	}
	rec := ifm.Data[0]
	idx, _ := fieldInt(rec, "moduleIndex")
	moduleID := fieldString(rec, "moduleId")

	var single, d1, d2 *int
	if v, ok := fieldInt(rec, "doorState"); ok {
		single = intPtr(v)
	}
	if v, ok := fieldInt(rec, "door1State"); ok {
		d1 = intPtr(v)
	}
	if v, ok := fieldInt(rec, "door2State"); ok {
		d2 = intPtr(v)
	}
	n.cache.UpdateDoor(ifm.DeviceID, idx, single, d1, d2)

	n.emit(protocol.CanonicalEvent{
		MessageType: msgType,
		DeviceID:    ifm.DeviceID,
		DeviceType:  ifm.DeviceType,
		ModuleIndex: intPtr(idx),
		ModuleID:    moduleID,
		MessageID:   ifm.MessageID,
		Payload:     ifm.Data,
	})
}

// handleRFIDSnapshot diffs each module's incoming slot set against the
// cached snapshot, replaces the cache with the incoming set, then emits one
// RFID_SNAPSHOT CE plus one RFID_EVENT CE per attach/detach.
func (n *Normalizer) handleRFIDSnapshot(ifm protocol.IntermediateForm) {
	for _, rec := range ifm.Data {
		idx, ok := fieldInt(rec, "moduleIndex")
		if !ok {
			continue
		}
		moduleID := fieldString(rec, "moduleId")
		slotRecs := fieldSlots(rec, "slots")
		incoming := toRFIDSlots(slotRecs)

		attached, detached := n.cache.DiffRfid(ifm.DeviceID, idx, incoming)
		n.cache.UpdateRfid(ifm.DeviceID, idx, incoming)

		n.emit(protocol.CanonicalEvent{
			MessageType: protocol.RFIDSnapshot,
			DeviceID:    ifm.DeviceID,
			DeviceType:  ifm.DeviceType,
			ModuleIndex: intPtr(idx),
			ModuleID:    moduleID,
			MessageID:   ifm.MessageID,
			Payload:     slotRecs,
		})

		for _, ev := range append(append([]protocol.RFIDDiffEvent{}, attached...), detached...) {
			n.emit(protocol.CanonicalEvent{
				MessageType: protocol.RFIDEvent,
				DeviceID:    ifm.DeviceID,
				DeviceType:  ifm.DeviceType,
				ModuleIndex: intPtr(idx),
				ModuleID:    moduleID,
				MessageID:   ifm.MessageID,
				Payload: []map[string]any{{
					"slotIndex": ev.SlotIndex,
					"tagId":     ev.TagID,
					"action":    string(ev.Action),
				}},
			})
		}
	}
}

// handleRFIDEvent never updates the cache or emits a CE directly: a
// device-reported attach/detach is a signal to resync, not ground truth.
// The device is the source of truth for presence; snapshots are the
// authoritative representation of that truth, so the ensuing RFID_SNAPSHOT
// does the real work. Acting on the event directly would double-emit once
// the snapshot arrives and races device-reported ordering.
func (n *Normalizer) handleRFIDEvent(ifm protocol.IntermediateForm) {
	if len(ifm.Data) == 0 {
		return
	}
	idx, _ := fieldInt(ifm.Data[0], "moduleIndex")
	n.requestCommand(ifm.DeviceID, ifm.DeviceType, protocol.CmdQryRFIDSnapshot, map[string]any{"moduleIndex": idx})
}

// handleCommandResponsePassthrough converts a device command acknowledgement
// into a CE with no cache interaction.
func (n *Normalizer) handleCommandResponsePassthrough(ifm protocol.IntermediateForm) {
	var modIdx *int
	var moduleID string
	if len(ifm.Data) > 0 {
		if v, ok := fieldInt(ifm.Data[0], "moduleIndex"); ok {
			modIdx = intPtr(v)
		}
		moduleID = fieldString(ifm.Data[0], "moduleId")
	}
	n.emit(protocol.CanonicalEvent{
		MessageType: ifm.MessageType,
		DeviceID:    ifm.DeviceID,
		DeviceType:  ifm.DeviceType,
		ModuleIndex: modIdx,
		ModuleID:    moduleID,
		MessageID:   ifm.MessageID,
		Payload:     ifm.Data,
	})
}
