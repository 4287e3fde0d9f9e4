// Package cache holds the authoritative in-memory view of every device and
// module the pipeline has observed. It is the only shared mutable state in
// the system; every other component is stateless or owns private state
// exclusively. Reads return defensive copies, never internal pointers.
package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

// ModuleState is the per-(deviceId, moduleIndex) state held by the cache.
type ModuleState struct {
	ModuleIndex int
	ModuleID    string
	UTotal      int
	FwVer       string // empty means unknown

	RFIDSnapshot map[int]protocol.RFIDSlot // keyed by slotIndex
	TempHum      map[int]TempHumReading    // keyed by slotIndex
	Noise        map[int]*float64          // keyed by slotIndex; nil = no reading yet

	DoorState  *int
	Door1State *int
	Door2State *int

	LastSeenHeartbeat time.Time
	LastSeenTempHum   time.Time
	LastSeenNoise     time.Time
	LastSeenRfid      time.Time
	LastSeenDoor      time.Time

	Online bool
}

// TempHumReading is one slot's temperature/humidity pair; either field may
// be absent (nil), which is distinguished from a reading of exactly zero.
type TempHumReading struct {
	Temp *float64
	Hum  *float64
}

func newModuleState(moduleIndex int) *ModuleState {
	return &ModuleState{
		ModuleIndex:  moduleIndex,
		RFIDSnapshot: make(map[int]protocol.RFIDSlot),
		TempHum:      make(map[int]TempHumReading),
		Noise:        make(map[int]*float64),
	}
}

func (m *ModuleState) clone() *ModuleState {
	c := *m
	c.RFIDSnapshot = make(map[int]protocol.RFIDSlot, len(m.RFIDSnapshot))
	for k, v := range m.RFIDSnapshot {
		c.RFIDSnapshot[k] = v
	}
	c.TempHum = make(map[int]TempHumReading, len(m.TempHum))
	for k, v := range m.TempHum {
		c.TempHum[k] = v
	}
	c.Noise = make(map[int]*float64, len(m.Noise))
	for k, v := range m.Noise {
		c.Noise[k] = v
	}
	if m.DoorState != nil {
		v := *m.DoorState
		c.DoorState = &v
	}
	if m.Door1State != nil {
		v := *m.Door1State
		c.Door1State = &v
	}
	if m.Door2State != nil {
		v := *m.Door2State
		c.Door2State = &v
	}
	return &c
}

// DeviceState is the per-deviceId state held by the cache.
type DeviceState struct {
	DeviceID      string
	DeviceType    protocol.Family
	IP            string
	MAC           string
	FwVer         string
	Mask          string
	Gateway       string
	Model         string
	ActiveModules []int // ordered by moduleIndex
	LastSeenInfo  time.Time
	Online        bool
}

func (d *DeviceState) clone() *DeviceState {
	c := *d
	c.ActiveModules = append([]int(nil), d.ActiveModules...)
	return &c
}

// Change is one human-readable + machine-readable metadata change produced
// by UpsertMetadata/ReconcileMetadata. Kind is a short code the normalizer
// maps 1:1 into a META_CHANGED_EVENT payload entry.
type Change struct {
	Description string
	Kind        string
	Before      any
	After       any
	Target      string // e.g. "device" or "module:3"
}

// key identifies a module within the cache.
type key struct {
	deviceID    string
	moduleIndex int
}

// Cache is the single shared mutable store. All mutations are serialized
// under one mutex; reads never return internal pointers.
type Cache struct {
	mu              sync.RWMutex
	metaByDevice    map[string]*DeviceState
	telemetryByKey  map[key]*ModuleState
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		metaByDevice:   make(map[string]*DeviceState),
		telemetryByKey: make(map[key]*ModuleState),
	}
}

func (c *Cache) deviceLocked(deviceID string, deviceType protocol.Family) *DeviceState {
	d, ok := c.metaByDevice[deviceID]
	if !ok {
		d = &DeviceState{DeviceID: deviceID, DeviceType: deviceType}
		c.metaByDevice[deviceID] = d
	}
	return d
}

func (c *Cache) moduleLocked(deviceID string, moduleIndex int) *ModuleState {
	k := key{deviceID, moduleIndex}
	m, ok := c.telemetryByKey[k]
	if !ok {
		m = newModuleState(moduleIndex)
		c.telemetryByKey[k] = m
	}
	return m
}

func addModuleIndexSorted(modules []int, idx int) []int {
	for _, m := range modules {
		if m == idx {
			return modules
		}
	}
	modules = append(modules, idx)
	sort.Ints(modules)
	return modules
}

// UpsertMetadata merges non-null fields of patch into the device's
// metadata and returns a human-readable description of every field whose
// value changed, including module additions into ActiveModules. A field
// filled in for the first time (no previous value) is merged without a
// description.
func (c *Cache) UpsertMetadata(deviceID string, deviceType protocol.Family, patch DeviceMetadataPatch) []Change {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.deviceLocked(deviceID, deviceType)
	var changes []Change

	if patch.IP != nil && *patch.IP != d.IP {
		if d.IP != "" {
			changes = append(changes, Change{
				Description: fmt.Sprintf("Device IP changed from %s to %s", d.IP, *patch.IP),
				Kind:        "ip_changed", Before: d.IP, After: *patch.IP, Target: "device",
			})
		}
		d.IP = *patch.IP
	}
	if patch.MAC != nil && *patch.MAC != d.MAC {
		if d.MAC != "" {
			changes = append(changes, Change{
				Description: fmt.Sprintf("Device MAC changed from %s to %s", d.MAC, *patch.MAC),
				Kind:        "mac_changed", Before: d.MAC, After: *patch.MAC, Target: "device",
			})
		}
		d.MAC = *patch.MAC
	}
	if patch.FwVer != nil && *patch.FwVer != d.FwVer {
		if d.FwVer != "" {
			changes = append(changes, Change{
				Description: fmt.Sprintf("Device firmware changed from %s to %s", d.FwVer, *patch.FwVer),
				Kind:        "fwver_changed", Before: d.FwVer, After: *patch.FwVer, Target: "device",
			})
		}
		d.FwVer = *patch.FwVer
	}
	if patch.Mask != nil && *patch.Mask != d.Mask {
		if d.Mask != "" {
			changes = append(changes, Change{Description: fmt.Sprintf("Device mask changed from %s to %s", d.Mask, *patch.Mask), Kind: "mask_changed", Before: d.Mask, After: *patch.Mask, Target: "device"})
		}
		d.Mask = *patch.Mask
	}
	if patch.Gateway != nil && *patch.Gateway != d.Gateway {
		if d.Gateway != "" {
			changes = append(changes, Change{Description: fmt.Sprintf("Device gateway changed from %s to %s", d.Gateway, *patch.Gateway), Kind: "gateway_changed", Before: d.Gateway, After: *patch.Gateway, Target: "device"})
		}
		d.Gateway = *patch.Gateway
	}
	if patch.Model != nil && *patch.Model != d.Model {
		if d.Model != "" {
			changes = append(changes, Change{Description: fmt.Sprintf("Device model changed from %s to %s", d.Model, *patch.Model), Kind: "model_changed", Before: d.Model, After: *patch.Model, Target: "device"})
		}
		d.Model = *patch.Model
	}

	for _, mp := range patch.Modules {
		m := c.moduleLocked(deviceID, mp.ModuleIndex)
		target := fmt.Sprintf("module:%d", mp.ModuleIndex)
		if !contains(d.ActiveModules, mp.ModuleIndex) {
			d.ActiveModules = addModuleIndexSorted(d.ActiveModules, mp.ModuleIndex)
			changes = append(changes, Change{
				Description: fmt.Sprintf("Module %d added (id=%s)", mp.ModuleIndex, mp.ModuleID),
				Kind:        "module_added", After: mp.ModuleID, Target: target,
			})
		}
		if mp.ModuleID != "" && mp.ModuleID != m.ModuleID {
			if m.ModuleID != "" && m.ModuleID != mp.ModuleID {
				changes = append(changes, Change{
					Description: fmt.Sprintf("Module %d id changed from %s to %s", mp.ModuleIndex, m.ModuleID, mp.ModuleID),
					Kind:        "module_id_changed", Before: m.ModuleID, After: mp.ModuleID, Target: target,
				})
			}
			m.ModuleID = mp.ModuleID
		}
		if mp.UTotal != nil && *mp.UTotal != m.UTotal {
			if m.UTotal != 0 {
				changes = append(changes, Change{
					Description: fmt.Sprintf("Module %d uTotal changed from %d to %d", mp.ModuleIndex, m.UTotal, *mp.UTotal),
					Kind:        "utotal_changed", Before: m.UTotal, After: *mp.UTotal, Target: target,
				})
			}
			m.UTotal = *mp.UTotal
		}
		if mp.FwVer != nil && *mp.FwVer != m.FwVer {
			if m.FwVer != "" {
				changes = append(changes, Change{
					Description: fmt.Sprintf("Module %d firmware changed from %s to %s", mp.ModuleIndex, m.FwVer, *mp.FwVer),
					Kind:        "fwver_changed", Before: m.FwVer, After: *mp.FwVer, Target: target,
				})
			}
			m.FwVer = *mp.FwVer
		}
	}

	d.LastSeenInfo = now()
	return changes
}

// DeviceMetadataPatch is the non-null-field-merge input to UpsertMetadata.
type DeviceMetadataPatch struct {
	IP      *string
	MAC     *string
	FwVer   *string
	Mask    *string
	Gateway *string
	Model   *string
	Modules []ModulePatch
}

// ModulePatch describes one module entry inside a metadata patch.
type ModulePatch struct {
	ModuleIndex int
	ModuleID    string
	UTotal      *int
	FwVer       *string
}

// ReconcileMetadata treats modules as the complete, authoritative module
// list for deviceID (as HEARTBEAT's module list is) and emits
// added/removed/replaced/uTotal-changed/fwVer-changed descriptions. It
// preserves FwVer on an existing module when the input does not carry one,
// and prunes telemetry for modules no longer present — the Zero Module case
// when modules is empty.
func (c *Cache) ReconcileMetadata(deviceID string, deviceType protocol.Family, modules []ModulePatch) []Change {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.deviceLocked(deviceID, deviceType)
	var changes []Change

	authoritative := make(map[int]ModulePatch, len(modules))
	var orderedIdx []int
	for _, mp := range modules {
		authoritative[mp.ModuleIndex] = mp
		orderedIdx = append(orderedIdx, mp.ModuleIndex)
	}
	sort.Ints(orderedIdx)

	// Removed: present before, absent now.
	var kept []int
	for _, idx := range d.ActiveModules {
		if _, ok := authoritative[idx]; !ok {
			target := fmt.Sprintf("module:%d", idx)
			removedID := ""
			if m, ok := c.telemetryByKey[key{deviceID, idx}]; ok {
				removedID = m.ModuleID
			}
			delete(c.telemetryByKey, key{deviceID, idx})
			changes = append(changes, Change{
				Description: fmt.Sprintf("Module %d removed", idx),
				Kind:        "module_removed", Before: removedID, Target: target,
			})
			continue
		}
		kept = append(kept, idx)
	}

	for _, idx := range orderedIdx {
		mp := authoritative[idx]
		m := c.moduleLocked(deviceID, idx)
		target := fmt.Sprintf("module:%d", idx)
		existed := contains(kept, idx) || m.ModuleID != ""
		if !existed {
			kept = addModuleIndexSorted(kept, idx)
			changes = append(changes, Change{
				Description: fmt.Sprintf("Module %d added (id=%s)", idx, mp.ModuleID),
				Kind:        "module_added", After: mp.ModuleID, Target: target,
			})
		} else if m.ModuleID != mp.ModuleID && mp.ModuleID != "" {
			changes = append(changes, Change{
				Description: fmt.Sprintf("Module %d id replaced from %s to %s", idx, m.ModuleID, mp.ModuleID),
				Kind:        "module_id_changed", Before: m.ModuleID, After: mp.ModuleID, Target: target,
			})
		}
		if mp.ModuleID != "" {
			m.ModuleID = mp.ModuleID
		}
		if mp.UTotal != nil && *mp.UTotal != m.UTotal {
			if m.UTotal != 0 {
				changes = append(changes, Change{
					Description: fmt.Sprintf("Module %d uTotal changed from %d to %d", idx, m.UTotal, *mp.UTotal),
					Kind:        "utotal_changed", Before: m.UTotal, After: *mp.UTotal, Target: target,
				})
			}
			m.UTotal = *mp.UTotal
		}
		// Preserve FwVer when the input doesn't carry one.
		if mp.FwVer != nil {
			if *mp.FwVer != m.FwVer {
				if m.FwVer != "" {
					changes = append(changes, Change{
						Description: fmt.Sprintf("Module %d firmware changed from %s to %s", idx, m.FwVer, *mp.FwVer),
						Kind:        "fwver_changed", Before: m.FwVer, After: *mp.FwVer, Target: target,
					})
				}
				m.FwVer = *mp.FwVer
			}
		}
	}

	d.ActiveModules = kept
	d.LastSeenInfo = now()
	d.Online = true
	return changes
}

// UpdateHeartbeat stamps LastSeenHeartbeat, sets Online, and ensures the
// module exists with the given identity fields.
func (c *Cache) UpdateHeartbeat(deviceID string, moduleIndex int, moduleID string, uTotal int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.moduleLocked(deviceID, moduleIndex)
	m.ModuleID = moduleID
	m.UTotal = uTotal
	m.LastSeenHeartbeat = now()
	m.Online = true
}

// UpdateTempHum field-wise merges incoming slot readings without clearing
// slots absent from this update.
func (c *Cache) UpdateTempHum(deviceID string, moduleIndex int, readings map[int]TempHumReading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.moduleLocked(deviceID, moduleIndex)
	for slot, r := range readings {
		m.TempHum[slot] = r
	}
	m.LastSeenTempHum = now()
}

// UpdateNoise field-wise merges incoming slot readings.
func (c *Cache) UpdateNoise(deviceID string, moduleIndex int, readings map[int]*float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.moduleLocked(deviceID, moduleIndex)
	for slot, v := range readings {
		m.Noise[slot] = v
	}
	m.LastSeenNoise = now()
}

// UpdateDoor sets the single or dual door fields, whichever is non-nil.
func (c *Cache) UpdateDoor(deviceID string, moduleIndex int, single, door1, door2 *int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.moduleLocked(deviceID, moduleIndex)
	if single != nil {
		m.DoorState = single
	}
	if door1 != nil {
		m.Door1State = door1
	}
	if door2 != nil {
		m.Door2State = door2
	}
	m.LastSeenDoor = now()
}

// UpdateRfid replaces the module's rfidSnapshot with the incoming slot set.
// Callers diff before calling this so the previous snapshot is still
// available to DiffRfid.
func (c *Cache) UpdateRfid(deviceID string, moduleIndex int, slots []protocol.RFIDSlot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.moduleLocked(deviceID, moduleIndex)
	m.RFIDSnapshot = make(map[int]protocol.RFIDSlot, len(slots))
	for _, s := range slots {
		m.RFIDSnapshot[s.SlotIndex] = s
	}
	m.LastSeenRfid = now()
}

// DiffRfid compares the module's current cached snapshot against incoming
// slots by slotIndex and returns attached/detached events. A slot present
// in both with a different tagID counts as a detach of the old tag plus an
// attach of the new one. Pure with respect to the cache: it does not
// mutate state — the normalizer composes read → diff → write → emit.
func (c *Cache) DiffRfid(deviceID string, moduleIndex int, incoming []protocol.RFIDSlot) (attached, detached []protocol.RFIDDiffEvent) {
	c.mu.RLock()
	prev := c.telemetryByKey[key{deviceID, moduleIndex}]
	var prevSlots map[int]protocol.RFIDSlot
	if prev != nil {
		prevSlots = make(map[int]protocol.RFIDSlot, len(prev.RFIDSnapshot))
		for k, v := range prev.RFIDSnapshot {
			prevSlots[k] = v
		}
	}
	c.mu.RUnlock()

	return DiffRfidSlots(prevSlots, incoming)
}

// DiffRfidSlots is the pure diff primitive, independent of the cache, so it
// can be unit tested and reused without a device/module key.
func DiffRfidSlots(prev map[int]protocol.RFIDSlot, incoming []protocol.RFIDSlot) (attached, detached []protocol.RFIDDiffEvent) {
	incomingBySlot := make(map[int]protocol.RFIDSlot, len(incoming))
	for _, s := range incoming {
		incomingBySlot[s.SlotIndex] = s
	}

	var slots []int
	seen := make(map[int]bool)
	for slot := range prev {
		slots = append(slots, slot)
		seen[slot] = true
	}
	for slot := range incomingBySlot {
		if !seen[slot] {
			slots = append(slots, slot)
		}
	}
	sort.Ints(slots)

	for _, slot := range slots {
		old, hadOld := prev[slot]
		next, hasNext := incomingBySlot[slot]
		switch {
		case hadOld && !hasNext:
			detached = append(detached, protocol.RFIDDiffEvent{SlotIndex: slot, TagID: old.TagID, Action: protocol.Detached})
		case !hadOld && hasNext:
			attached = append(attached, protocol.RFIDDiffEvent{SlotIndex: slot, TagID: next.TagID, Action: protocol.Attached})
		case hadOld && hasNext && old.TagID != next.TagID:
			detached = append(detached, protocol.RFIDDiffEvent{SlotIndex: slot, TagID: old.TagID, Action: protocol.Detached})
			attached = append(attached, protocol.RFIDDiffEvent{SlotIndex: slot, TagID: next.TagID, Action: protocol.Attached})
		}
	}
	return attached, detached
}

// IsDeviceInfoMissing reports whether IP or MAC is unknown for deviceID.
func (c *Cache) IsDeviceInfoMissing(deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.metaByDevice[deviceID]
	if !ok {
		return true
	}
	return d.IP == "" || d.MAC == ""
}

// GetModulesMissingFwVer lists the moduleIndexes of deviceID's modules whose
// firmware version is unknown.
func (c *Cache) GetModulesMissingFwVer(deviceID string) []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.metaByDevice[deviceID]
	if !ok {
		return nil
	}
	var missing []int
	for _, idx := range d.ActiveModules {
		m := c.telemetryByKey[key{deviceID, idx}]
		if m == nil || m.FwVer == "" {
			missing = append(missing, idx)
		}
	}
	return missing
}

// GetDevice returns a defensive copy of the device state, or nil if unknown.
func (c *Cache) GetDevice(deviceID string) *DeviceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.metaByDevice[deviceID]
	if !ok {
		return nil
	}
	return d.clone()
}

// GetModule returns a defensive copy of the module state, or nil if unknown.
func (c *Cache) GetModule(deviceID string, moduleIndex int) *ModuleState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.telemetryByKey[key{deviceID, moduleIndex}]
	if !ok {
		return nil
	}
	return m.clone()
}

// ListDevices returns a defensive copy of every known device, sorted by ID.
func (c *Cache) ListDevices() []*DeviceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*DeviceState, 0, len(c.metaByDevice))
	for _, d := range c.metaByDevice {
		out = append(out, d.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// ListModules returns a defensive copy of every module belonging to
// deviceID, sorted by moduleIndex.
func (c *Cache) ListModules(deviceID string) []*ModuleState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.metaByDevice[deviceID]
	if !ok {
		return nil
	}
	out := make([]*ModuleState, 0, len(d.ActiveModules))
	for _, idx := range d.ActiveModules {
		if m, ok := c.telemetryByKey[key{deviceID, idx}]; ok {
			out = append(out, m.clone())
		}
	}
	return out
}

// DeviceCount reports the number of cached devices, for metrics scrapes.
func (c *Cache) DeviceCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.metaByDevice)
}

// ModuleCount reports the number of cached modules, for metrics scrapes.
func (c *Cache) ModuleCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.telemetryByKey)
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// now is a var so tests can substitute a fixed clock.
var now = time.Now
