package normalize

import (
	"github.com/lattice-iot/gatewaylink/internal/cache"
	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

// buildMetadataPatch folds an IF's data records into a single device-level
// patch plus zero or more module patches. A record contributes device
// fields when it carries no moduleIndex (DEVICE_INFO), module fields when
// it does (MODULE_INFO), or both (family-J DEV_MOD_INFO, which repeats the
// device ip/mac onto every module entry).
func buildMetadataPatch(data []map[string]any) cache.DeviceMetadataPatch {
	var patch cache.DeviceMetadataPatch
	for _, rec := range data {
		if ip := fieldString(rec, "ip"); ip != "" {
			patch.IP = strPtr(ip)
		}
		if mac := fieldString(rec, "mac"); mac != "" {
			patch.MAC = strPtr(mac)
		}
		if mask := fieldString(rec, "mask"); mask != "" {
			patch.Mask = strPtr(mask)
		}
		if gw := fieldString(rec, "gateway"); gw != "" {
			patch.Gateway = strPtr(gw)
		}
		if model := fieldString(rec, "model"); model != "" {
			patch.Model = strPtr(model)
		}

		idx, hasModule := fieldInt(rec, "moduleIndex")
		if !hasModule {
			// Device-only record (DEVICE_INFO); its fwVer belongs to the
			// device, not a module.
			if fw := fieldString(rec, "fwVer"); fw != "" {
				patch.FwVer = strPtr(fw)
			}
			continue
		}

		mp := cache.ModulePatch{ModuleIndex: idx, ModuleID: fieldString(rec, "moduleId")}
		if fw := fieldString(rec, "fwVer"); fw != "" {
			mp.FwVer = strPtr(fw)
		}
		if u, ok := fieldInt(rec, "uTotal"); ok {
			mp.UTotal = intPtr(u)
		}
		patch.Modules = append(patch.Modules, mp)
	}
	return patch
}

// deviceMetadataPayload builds the single payload record a DEVICE_METADATA
// CE carries: the reconciled device plus its current module list, read back
// from the cache so the CE always reflects committed state.
func deviceMetadataPayload(c *cache.Cache, deviceID string) []map[string]any {
	d := c.GetDevice(deviceID)
	if d == nil {
		return []map[string]any{}
	}
	modules := c.ListModules(deviceID)
	modRecs := make([]map[string]any, 0, len(modules))
	for _, m := range modules {
		modRecs = append(modRecs, map[string]any{
			"moduleIndex": m.ModuleIndex,
			"moduleId":    m.ModuleID,
			"uTotal":      m.UTotal,
			"fwVer":       m.FwVer,
		})
	}
	return []map[string]any{{
		"deviceId":      d.DeviceID,
		"ip":            d.IP,
		"mac":           d.MAC,
		"fwVer":         d.FwVer,
		"mask":          d.Mask,
		"gateway":       d.Gateway,
		"model":         d.Model,
		"activeModules": d.ActiveModules,
		"modules":       modRecs,
	}}
}

// changesPayload renders cache.Change values into the human-readable plus
// machine-readable shape a META_CHANGED_EVENT payload carries.
func changesPayload(changes []cache.Change) []map[string]any {
	out := make([]map[string]any, 0, len(changes))
	for _, ch := range changes {
		out = append(out, map[string]any{
			"description": ch.Description,
			"kind":        ch.Kind,
			"before":      ch.Before,
			"after":       ch.After,
			"target":      ch.Target,
		})
	}
	return out
}

func deviceMetadataCE(deviceID string, deviceType protocol.Family, messageID string) protocol.CanonicalEvent {
	return protocol.CanonicalEvent{
		MessageType: protocol.DeviceMetadata,
		DeviceID:    deviceID,
		DeviceType:  deviceType,
		MessageID:   messageID,
	}
}

func metaChangedCE(deviceID string, deviceType protocol.Family, messageID string, changes []cache.Change) protocol.CanonicalEvent {
	return protocol.CanonicalEvent{
		MessageType: protocol.MetaChangedEvt,
		DeviceID:    deviceID,
		DeviceType:  deviceType,
		MessageID:   messageID,
		Payload:     changesPayload(changes),
	}
}
