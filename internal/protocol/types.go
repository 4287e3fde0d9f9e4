// Package protocol defines the wire-agnostic message shapes shared by the
// binary (Family-B) and JSON (Family-J) parsers, the normalizer, and every
// downstream consumer: the intermediate form produced by parsing and the
// canonical event produced by normalization.
package protocol

import "time"

// Family identifies which device family produced a message.
type Family string

const (
	FamilyB Family = "V5008" // binary wire encoding
	FamilyJ Family = "V6800" // JSON wire encoding
)

// MessageType enumerates every message shape the pipeline understands.
type MessageType string

const (
	Heartbeat        MessageType = "HEARTBEAT"
	RFIDSnapshot     MessageType = "RFID_SNAPSHOT"
	RFIDEvent        MessageType = "RFID_EVENT" // family-J only as an IF; both as a CE
	TempHum          MessageType = "TEMP_HUM"
	NoiseLevel       MessageType = "NOISE_LEVEL" // family-B only
	DoorState        MessageType = "DOOR_STATE"
	DeviceInfo       MessageType = "DEVICE_INFO"
	ModuleInfo       MessageType = "MODULE_INFO"
	DevModInfo       MessageType = "DEV_MOD_INFO" // family-J combined device+module info
	UTotalChanged    MessageType = "UTOTAL_CHANGED"
	QryClrResp       MessageType = "QRY_CLR_RESP"
	SetClrResp       MessageType = "SET_CLR_RESP"
	ClnAlmResp       MessageType = "CLN_ALM_RESP"
	QryTempHumResp   MessageType = "QRY_TEMP_HUM_RESP"
	QryDoorStateResp MessageType = "QRY_DOOR_STATE_RESP"
	Unknown          MessageType = "UNKNOWN"

	// Normalizer-only canonical event types; never produced by a parser.
	DeviceMetadata  MessageType = "DEVICE_METADATA"
	MetaChangedEvt  MessageType = "META_CHANGED_EVENT"
)

// RFIDAction distinguishes the two slot-transition events diffRfid can produce.
type RFIDAction string

const (
	Attached RFIDAction = "ATTACHED"
	Detached RFIDAction = "DETACHED"
)

// Meta carries provenance about the originating ingress message.
type Meta struct {
	Topic string
	Raw   []byte
}

// IntermediateForm is the protocol-agnostic output of both parsers.
//
// Data is always a slice: per-module or per-slot records for telemetry
// messages, or a single-element slice carrying a message-type-specific
// object for device/module/command-response messages. Parsers never return
// a bare object.
type IntermediateForm struct {
	DeviceType  Family
	DeviceID    string
	MessageType MessageType
	MessageID   string // decimal string; empty iff the source carried none
	Meta        Meta
	Data        []map[string]any
}

// CanonicalEvent is the normalizer's output, the single event shape consumed
// by storage, broadcast, and the webhook. Payload is always an array — even
// a single-object response is wrapped in a one-element slice.
type CanonicalEvent struct {
	MessageType MessageType      `json:"messageType"`
	DeviceID    string           `json:"deviceId"`
	DeviceType  Family           `json:"deviceType"`
	ModuleIndex *int             `json:"moduleIndex,omitempty"` // nil for device-scoped events (HEARTBEAT, DEVICE_METADATA)
	ModuleID    string           `json:"moduleId,omitempty"`
	MessageID   string           `json:"messageId"`
	Payload     []map[string]any `json:"payload"`
	EmittedAt   time.Time        `json:"emittedAt"`
}

// CommandRequest is published on the command.request channel by the
// normalizer (repair/resync triggers) or the REST command endpoint, and
// consumed by the command translator.
type CommandRequest struct {
	DeviceID    string         `json:"deviceId"`
	DeviceType  Family         `json:"deviceType"`
	MessageType MessageType    `json:"messageType"`
	Payload     map[string]any `json:"payload,omitempty"`
	CommandID   string         `json:"commandId,omitempty"`
}

// ErrorEvent is published on the shared error channel by any component that
// caught an internal failure. No component ever panics across a channel
// boundary; this is the uniform shape for reporting that fact.
type ErrorEvent struct {
	SourceComponent string
	Err             error
	At              time.Time
}

// RFIDSlot is one entry of a module's rfidSnapshot set.
type RFIDSlot struct {
	SlotIndex int    `json:"slotIndex"`
	TagID     string `json:"tagId"`
	Alarm     bool   `json:"alarm"`
}

// RFIDDiffEvent is one attach or detach produced by diffing two snapshots.
type RFIDDiffEvent struct {
	SlotIndex int
	TagID     string
	Action    RFIDAction
}

// Command message types the translator knows how to encode. They share the
// MessageType type but name abstract command intents rather than parsed
// messages, so a request can be built without depending on a specific wire
// family.
const (
	CmdQryDevModInfo    MessageType = "QRY_DEV_MOD_INFO"
	CmdQryDeviceInfo    MessageType = "QRY_DEVICE_INFO"
	CmdQryModuleInfo    MessageType = "QRY_MODULE_INFO"
	CmdQryRFIDSnapshot  MessageType = "QRY_RFID_SNAPSHOT"
	CmdQryColor         MessageType = "QRY_COLOR"
	CmdSetColor         MessageType = "SET_COLOR"
	CmdClnAlarm         MessageType = "CLN_ALARM"
	CmdQryTempHum       MessageType = "QRY_TEMP_HUM"
	CmdQryDoorState     MessageType = "QRY_DOOR_STATE"
)
