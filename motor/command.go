package motor

import "encoding/binary"

// Register addresses one block of motor controller registers.
type Register byte

const (
	// RegGeneral holds controller-wide actions (enable, reset, interrupt...).
	RegGeneral Register = 0x20
	// RegRotSettings and RegRotAction configure and move the rotation axis.
	RegRotSettings Register = 0x21
	RegRotAction   Register = 0x22
	// RegZSettings and RegZAction configure and move the vertical axis.
	RegZSettings Register = 0x23
	RegZAction   Register = 0x24
	// RegCommand accepts formatted multi-field setting strings.
	RegCommand Register = 0x25
)

// Action selects the operation a command performs on its register.
type Action byte

const (
	Enable    Action = 0x01
	Disable   Action = 0x02
	Pause     Action = 0x03
	Resume    Action = 0x04
	Clear     Action = 0x05
	Reset     Action = 0x06
	Interrupt Action = 0x07

	SetJerk          Action = 0x10
	SetSpeed         Action = 0x11
	SetStepAngle     Action = 0x12
	SetUnitsPerRev   Action = 0x13
	SetMicrostepping Action = 0x14

	Home Action = 0x20
	Move Action = 0x21
)

// StopByte is the single-byte unconditional stop. It bypasses command
// sequencing and queueing on the controller, so it is written directly to
// the bus rather than composed into a Command.
const StopByte byte = 0x1B

// Bus is the transport a Command is sent over. A register write carries the
// framed action payload; WriteByte is reserved for realtime bytes like
// StopByte.
type Bus interface {
	WriteRegister(reg byte, data []byte) error
	WriteByte(b byte) error
}

// Command is one semantic operation on a controller register. Value is only
// transmitted when HasValue is set.
type Command struct {
	Register Register
	Action   Action
	Value    int32
	HasValue bool
}

// Cmd builds a command with no parameter.
func Cmd(reg Register, action Action) Command {
	return Command{Register: reg, Action: action}
}

// CmdValue builds a command carrying a signed parameter.
func CmdValue(reg Register, action Action, value int) Command {
	return Command{Register: reg, Action: action, Value: int32(value), HasValue: true}
}

// payload frames the action for transmission: action byte, then the value as
// little-endian int32 when present.
func (c Command) payload() []byte {
	if !c.HasValue {
		return []byte{byte(c.Action)}
	}
	buf := make([]byte, 5)
	buf[0] = byte(c.Action)
	binary.LittleEndian.PutUint32(buf[1:], uint32(c.Value))
	return buf
}

// Send writes the command to the bus. Exactly one bus write per call.
func (c Command) Send(bus Bus) error {
	return bus.WriteRegister(byte(c.Register), c.payload())
}
