package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/lattice-iot/gatewaylink/internal/bus"
	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

// CommandsHandler accepts abstract control intents over REST and republishes
// them on the command-request topic. The response is 202 accepted — commands
// are best-effort and the translator's outcome never reaches this caller.
type CommandsHandler struct {
	bus *bus.Bus
}

func NewCommandsHandler(b *bus.Bus) *CommandsHandler {
	return &CommandsHandler{bus: b}
}

type commandBody struct {
	DeviceID    string         `json:"deviceId"`
	DeviceType  string         `json:"deviceType"`
	MessageType string         `json:"messageType"`
	Payload     map[string]any `json:"payload"`
}

func (h *CommandsHandler) Post(w http.ResponseWriter, r *http.Request) {
	var body commandBody
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.DeviceID == "" {
		WriteError(w, http.StatusBadRequest, "missing required field: deviceId")
		return
	}
	if body.MessageType == "" {
		WriteError(w, http.StatusBadRequest, "missing required field: messageType")
		return
	}
	family := protocol.Family(body.DeviceType)
	if family != protocol.FamilyB && family != protocol.FamilyJ {
		WriteError(w, http.StatusBadRequest, "missing or unknown required field: deviceType")
		return
	}

	commandID := newCommandID()
	h.bus.Commands.Publish(protocol.CommandRequest{
		DeviceID:    body.DeviceID,
		DeviceType:  family,
		MessageType: protocol.MessageType(body.MessageType),
		Payload:     body.Payload,
		CommandID:   commandID,
	})

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":    "sent",
		"commandId": commandID,
	})
}

func newCommandID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "cmd_" + hex.EncodeToString(b)
}
