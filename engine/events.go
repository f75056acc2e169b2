package engine

// EventType identifies a raw hardware or timer event delivered to the
// Engine by the dispatch loop.
type EventType int

const (
	MotorInterrupt EventType = iota
	ButtonInterrupt
	DoorInterrupt
	ExposureEnd
	MotorTimeout
)

// Event is one raw event. Data carries the status byte for interrupt
// events; timer events ignore it.
type Event struct {
	Type EventType
	Data byte
}

// Command is an already-interpreted operator command.
type Command int

const (
	Start Command = iota
	Cancel
	PausePrint
	ResumePrint
	ResetPrinter
	ShowTestPattern
	ReHome
	StartRegistering
	RegistrationSucceeded
)

// Motor controller status bytes.
const (
	motorStatusSuccess byte = 0x00
	motorStatusError   byte = 0xFF
)

// Front panel button status bytes. The low nibble carries button events;
// the full byte 0xFF signals a panel fault.
const (
	buttonMask byte = 0x0F

	btn1Press     byte = 0x01
	btn2Press     byte = 0x02
	btn1And2Press byte = 0x03
	btn1Hold      byte = 0x04
	btn2Hold      byte = 0x08

	panelErrorStatus byte = 0xFF
)

// Door sensor levels as reported by the GPIO read.
const (
	doorLevelLow  byte = '0'
	doorLevelHigh byte = '1'
)
