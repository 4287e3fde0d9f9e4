package cache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

func TestReconcileMetadataIdempotent(t *testing.T) {
	c := New()
	modules := []ModulePatch{
		{ModuleIndex: 1, ModuleID: "3963041727", UTotal: intp(6)},
		{ModuleIndex: 2, ModuleID: "2349402517", UTotal: intp(12)},
	}

	first := c.ReconcileMetadata("dev1", protocol.FamilyB, modules)
	assert.Len(t, first, 2, "first reconcile should report both modules added")

	second := c.ReconcileMetadata("dev1", protocol.FamilyB, modules)
	assert.Empty(t, second, "feeding the same authoritative list twice must yield zero changes")
}

func TestReconcileMetadataZeroModuleCase(t *testing.T) {
	c := New()
	modules := []ModulePatch{{ModuleIndex: 1, ModuleID: "m1", UTotal: intp(6)}}
	c.ReconcileMetadata("dev1", protocol.FamilyB, modules)

	changes := c.ReconcileMetadata("dev1", protocol.FamilyB, nil)
	require.Len(t, changes, 1)
	assert.Contains(t, changes[0].Description, "removed")
	assert.Equal(t, "module_removed", changes[0].Kind)

	assert.Nil(t, c.GetModule("dev1", 1), "telemetry for removed module must be pruned")
	d := c.GetDevice("dev1")
	assert.Empty(t, d.ActiveModules)
}

func TestReconcileMetadataPreservesFwVerWhenAbsent(t *testing.T) {
	c := New()
	c.ReconcileMetadata("dev1", protocol.FamilyB, []ModulePatch{
		{ModuleIndex: 1, ModuleID: "m1", UTotal: intp(6), FwVer: strp("1.0.0")},
	})

	// Second reconcile carries no FwVer for module 1.
	changes := c.ReconcileMetadata("dev1", protocol.FamilyB, []ModulePatch{
		{ModuleIndex: 1, ModuleID: "m1", UTotal: intp(6)},
	})
	assert.Empty(t, changes)

	m := c.GetModule("dev1", 1)
	require.NotNil(t, m)
	assert.Equal(t, "1.0.0", m.FwVer, "fwVer must be preserved when the input omits it")
}

func TestUpsertMetadataEmptyOnNoChange(t *testing.T) {
	c := New()
	patch := DeviceMetadataPatch{IP: strp("192.168.0.2"), MAC: strp("AA:BB:CC:DD:EE:FF")}
	c.UpsertMetadata("dev1", protocol.FamilyB, patch)

	changes := c.UpsertMetadata("dev1", protocol.FamilyB, patch)
	assert.Empty(t, changes, "re-applying identical metadata must report no changes")
}

func TestUpsertMetadataIPChangeDescription(t *testing.T) {
	c := New()
	c.UpsertMetadata("dev1", protocol.FamilyB, DeviceMetadataPatch{IP: strp("192.168.0.2")})

	changes := c.UpsertMetadata("dev1", protocol.FamilyB, DeviceMetadataPatch{IP: strp("192.168.0.5")})
	require.Len(t, changes, 1)
	assert.Equal(t, "Device IP changed from 192.168.0.2 to 192.168.0.5", changes[0].Description)
	assert.Equal(t, "ip_changed", changes[0].Kind)
	assert.Equal(t, "192.168.0.2", changes[0].Before)
	assert.Equal(t, "192.168.0.5", changes[0].After)
	assert.Equal(t, "device", changes[0].Target)

	d := c.GetDevice("dev1")
	assert.Equal(t, "192.168.0.5", d.IP)
}

func TestIsDeviceInfoMissing(t *testing.T) {
	c := New()
	assert.True(t, c.IsDeviceInfoMissing("unknown-device"))

	c.UpsertMetadata("dev1", protocol.FamilyB, DeviceMetadataPatch{IP: strp("1.2.3.4")})
	assert.True(t, c.IsDeviceInfoMissing("dev1"), "MAC still missing")

	c.UpsertMetadata("dev1", protocol.FamilyB, DeviceMetadataPatch{MAC: strp("AA:BB:CC:DD:EE:FF")})
	assert.False(t, c.IsDeviceInfoMissing("dev1"))
}

func TestGetModulesMissingFwVer(t *testing.T) {
	c := New()
	c.ReconcileMetadata("dev1", protocol.FamilyB, []ModulePatch{
		{ModuleIndex: 1, ModuleID: "m1", UTotal: intp(6), FwVer: strp("1.0")},
		{ModuleIndex: 2, ModuleID: "m2", UTotal: intp(12)},
	})

	missing := c.GetModulesMissingFwVer("dev1")
	assert.Equal(t, []int{2}, missing)
}

func TestDiffRfidSlotsSymmetric(t *testing.T) {
	a := map[int]protocol.RFIDSlot{
		1: {SlotIndex: 1, TagID: "tagA"},
		2: {SlotIndex: 2, TagID: "tagB"},
	}
	b := []protocol.RFIDSlot{
		{SlotIndex: 1, TagID: "tagA"},
		{SlotIndex: 3, TagID: "tagC"},
	}

	attachedAB, detachedAB := DiffRfidSlots(a, b)
	require.Len(t, attachedAB, 1)
	assert.Equal(t, "tagC", attachedAB[0].TagID)
	require.Len(t, detachedAB, 1)
	assert.Equal(t, "tagB", detachedAB[0].TagID)

	bMap := map[int]protocol.RFIDSlot{1: {SlotIndex: 1, TagID: "tagA"}, 3: {SlotIndex: 3, TagID: "tagC"}}
	aSlice := []protocol.RFIDSlot{{SlotIndex: 1, TagID: "tagA"}, {SlotIndex: 2, TagID: "tagB"}}
	attachedBA, detachedBA := DiffRfidSlots(bMap, aSlice)

	// A→B attach set must equal B→A detach set, and vice versa.
	require.Len(t, attachedBA, 1)
	assert.Equal(t, detachedAB[0].TagID, attachedBA[0].TagID)
	require.Len(t, detachedBA, 1)
	assert.Equal(t, attachedAB[0].TagID, detachedBA[0].TagID)
}

func TestDiffRfidSlotsIdenticalSnapshotEmpty(t *testing.T) {
	snap := map[int]protocol.RFIDSlot{1: {SlotIndex: 1, TagID: "tagA"}}
	attached, detached := DiffRfidSlots(snap, []protocol.RFIDSlot{{SlotIndex: 1, TagID: "tagA"}})
	assert.Empty(t, attached)
	assert.Empty(t, detached)
}

func TestDiffRfidSlotsSameSlotDifferentTag(t *testing.T) {
	prev := map[int]protocol.RFIDSlot{1: {SlotIndex: 1, TagID: "old"}}
	attached, detached := DiffRfidSlots(prev, []protocol.RFIDSlot{{SlotIndex: 1, TagID: "new"}})
	require.Len(t, detached, 1)
	assert.Equal(t, "old", detached[0].TagID)
	require.Len(t, attached, 1)
	assert.Equal(t, "new", attached[0].TagID)
}

func TestWatchdogMarksOfflineAfterTimeout(t *testing.T) {
	c := New()
	c.UpdateHeartbeat("dev1", 1, "m1", 6)

	wd := NewWatchdog(c, time.Millisecond, time.Millisecond, zerolog.Nop())
	// Directly exercise the sweep to avoid depending on wall-clock sleeps.
	origNow := now
	now = func() time.Time { return origNow().Add(time.Hour) }
	defer func() { now = origNow }()

	n := wd.sweep()
	assert.Equal(t, 1, n)

	m := c.GetModule("dev1", 1)
	require.NotNil(t, m)
	assert.False(t, m.Online)
}
