package command

import (
	"fmt"

	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

// Family-B opcode table. Each command is a short opcode-prefixed frame; the
// device answers on its upload topic with the matching 0xAA response.
const (
	opSetColor    = 0xE1
	opClnAlarm    = 0xE2
	opQryColor    = 0xE4
	opQryTempHum  = 0xE5
	opQryDoor     = 0xE6
	opQrySnapshot = 0xE9
	opInfo        = 0xEF
)

// translateBinary encodes one intent as a Family-B frame (or two, for the
// synthesized device+module info query) and publishes it.
func (t *Translator) translateBinary(cmd protocol.CommandRequest) error {
	switch cmd.MessageType {
	case protocol.CmdQryDevModInfo:
		// No single combined query exists on this family; synthesize the
		// device-info then module-info queries as two sequential publishes.
		if err := t.publish(cmd, []byte{opInfo, 0x01, 0x00}); err != nil {
			return err
		}
		return t.publish(cmd, []byte{opInfo, 0x02, 0x00})

	case protocol.CmdQryDeviceInfo:
		return t.publish(cmd, []byte{opInfo, 0x01, 0x00})

	case protocol.CmdQryModuleInfo:
		return t.publish(cmd, []byte{opInfo, 0x02, 0x00})

	case protocol.CmdQryRFIDSnapshot:
		idx, err := requireModuleIndex(cmd.Payload)
		if err != nil {
			return err
		}
		return t.publish(cmd, []byte{opQrySnapshot, 0x01, byte(idx)})

	case protocol.CmdQryColor:
		idx, err := requireModuleIndex(cmd.Payload)
		if err != nil {
			return err
		}
		return t.publish(cmd, []byte{opQryColor, byte(idx)})

	case protocol.CmdSetColor:
		idx, err := requireModuleIndex(cmd.Payload)
		if err != nil {
			return err
		}
		entries, err := colorEntries(cmd.Payload)
		if err != nil {
			return err
		}
		frame := []byte{opSetColor, byte(idx)}
		for _, e := range entries {
			frame = append(frame, byte(e.SensorIndex), byte(e.ColorCode))
		}
		return t.publish(cmd, frame)

	case protocol.CmdClnAlarm:
		idx, err := requireModuleIndex(cmd.Payload)
		if err != nil {
			return err
		}
		slot, ok := intFrom(cmd.Payload["sensorIndex"])
		if !ok {
			return fmt.Errorf("CLN_ALARM requires sensorIndex")
		}
		return t.publish(cmd, []byte{opClnAlarm, byte(idx), byte(slot)})

	case protocol.CmdQryTempHum:
		idx, err := requireModuleIndex(cmd.Payload)
		if err != nil {
			return err
		}
		return t.publish(cmd, []byte{opQryTempHum, byte(idx)})

	case protocol.CmdQryDoorState:
		idx, err := requireModuleIndex(cmd.Payload)
		if err != nil {
			return err
		}
		return t.publish(cmd, []byte{opQryDoor, byte(idx)})

	default:
		return fmt.Errorf("no binary encoding for messageType %q", cmd.MessageType)
	}
}
