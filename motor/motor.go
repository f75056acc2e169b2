package motor

import (
	"fmt"
	"time"
)

// Scale factors between application units and controller units. Rotation
// values are stored in milli-degrees and sent divided by RotScaleFactor;
// speeds are stored in application units and sent multiplied by the per-axis
// factor.
const (
	RotScaleFactor = 10
	RotSpeedFactor = 10
	ZSpeedFactor   = 60

	// UnitsPerRevolution is one full tray rotation in controller units,
	// used to bound home-seek moves.
	UnitsPerRevolution = 360000 / RotScaleFactor
)

// resetSettleDelay is how long the controller takes to come back after a
// software reset. Commands sent earlier are erased by the reset.
const resetSettleDelay = 500 * time.Millisecond

// Settings supplies the motion parameters that are not per-layer.
type Settings interface {
	Int(key string) int
}

// Settings keys read by the sequencer.
const (
	KeyZStepAngle     = "ZStepAngle"
	KeyZMicronsPerRev = "ZMicronsPerRev"
	KeyZMicroStep     = "ZMicroStep"

	KeyRotStepAngle      = "RotStepAngle"
	KeyRotMilliDegPerRev = "RotMilliDegPerRev"
	KeyRotMicroStep      = "RotMicroStep"

	KeyRotHomingJerk          = "RotHomingJerk"
	KeyRotHomingSpeed         = "RotHomingSpeed"
	KeyRotHomingAngleMilliDeg = "RotHomingAngleMilliDeg"
	KeyZHomingJerk            = "ZHomingJerk"
	KeyZHomingSpeed           = "ZHomingSpeed"

	KeyRotStartPrintJerk          = "RotStartPrintJerk"
	KeyRotStartPrintSpeed         = "RotStartPrintSpeed"
	KeyRotStartPrintAngleMilliDeg = "RotStartPrintAngleMilliDeg"
	KeyZStartPrintJerk            = "ZStartPrintJerk"
	KeyZStartPrintSpeed           = "ZStartPrintSpeed"
	KeyZStartPositionMicrons      = "ZStartPositionMicrons"

	KeyInspectionHeightMicrons = "InspectionHeightMicrons"
)

// Motor sequences semantic motions into ordered controller commands. It owns
// the bus for the life of the process.
type Motor struct {
	bus Bus
	set Settings
}

func New(bus Bus, set Settings) *Motor {
	return &Motor{bus: bus, set: set}
}

// SendCommands transmits a sequence in order, stopping at the first command
// that cannot be sent. A failed sequence means the motion was not performed.
func (m *Motor) SendCommands(cmds []Command) error {
	for i, c := range cmds {
		if err := c.Send(m.bus); err != nil {
			return fmt.Errorf("command %d of %d: %w", i+1, len(cmds), err)
		}
	}
	return nil
}

// Initialize resets the controller, waits for the reset to settle, then
// configures both axes and enables the motors. No completion interrupt is
// requested since nothing moves.
func (m *Motor) Initialize() error {
	if err := Cmd(RegGeneral, Reset).Send(m.bus); err != nil {
		return err
	}
	time.Sleep(resetSettleDelay)
	return m.SendCommands(m.initializeCommands())
}

func (m *Motor) initializeCommands() []Command {
	return []Command{
		CmdValue(RegZSettings, SetStepAngle, m.set.Int(KeyZStepAngle)),
		CmdValue(RegZSettings, SetUnitsPerRev, m.set.Int(KeyZMicronsPerRev)),
		CmdValue(RegZSettings, SetMicrostepping, m.set.Int(KeyZMicroStep)),

		CmdValue(RegRotSettings, SetStepAngle, m.set.Int(KeyRotStepAngle)),
		CmdValue(RegRotSettings, SetUnitsPerRev, m.set.Int(KeyRotMilliDegPerRev)/RotScaleFactor),
		CmdValue(RegRotSettings, SetMicrostepping, m.set.Int(KeyRotMicroStep)),

		Cmd(RegGeneral, Enable),
	}
}

// GoHome seeks both axes to their home positions. withInterrupt controls
// whether a completion interrupt is appended, so homing can be chained with
// GoToStartPosition under a single interrupt.
func (m *Motor) GoHome(withInterrupt bool) error {
	return m.SendCommands(m.goHomeCommands(withInterrupt))
}

func (m *Motor) goHomeCommands(withInterrupt bool) []Command {
	cmds := []Command{
		CmdValue(RegRotSettings, SetJerk, m.set.Int(KeyRotHomingJerk)),
		CmdValue(RegRotSettings, SetSpeed, RotSpeedFactor*m.set.Int(KeyRotHomingSpeed)),

		// rotate to the home position, but no more than a full revolution
		CmdValue(RegRotAction, Home, UnitsPerRevolution),
	}

	if homeAngle := m.set.Int(KeyRotHomingAngleMilliDeg) / RotScaleFactor; homeAngle != 0 {
		cmds = append(cmds, CmdValue(RegRotAction, Move, homeAngle))
	}

	cmds = append(cmds,
		CmdValue(RegZSettings, SetJerk, m.set.Int(KeyZHomingJerk)),
		CmdValue(RegZSettings, SetSpeed, ZSpeedFactor*m.set.Int(KeyZHomingSpeed)),

		// seek up to Z home, bounded at twice the start-position travel
		CmdValue(RegZAction, Home, -2*m.set.Int(KeyZStartPositionMicrons)),
	)

	if withInterrupt {
		cmds = append(cmds, Cmd(RegGeneral, Interrupt))
	}
	return cmds
}

// GoToStartPosition homes both axes, then lowers the build platform to the
// start (dip) position. The whole chain completes with a single interrupt.
func (m *Motor) GoToStartPosition() error {
	return m.SendCommands(m.goToStartCommands())
}

func (m *Motor) goToStartCommands() []Command {
	cmds := m.goHomeCommands(false)

	cmds = append(cmds,
		CmdValue(RegRotSettings, SetJerk, m.set.Int(KeyRotStartPrintJerk)),
		CmdValue(RegRotSettings, SetSpeed, RotSpeedFactor*m.set.Int(KeyRotStartPrintSpeed)),
	)
	if startAngle := m.set.Int(KeyRotStartPrintAngleMilliDeg) / RotScaleFactor; startAngle != 0 {
		cmds = append(cmds, CmdValue(RegRotAction, Move, startAngle))
	}

	cmds = append(cmds,
		CmdValue(RegZSettings, SetJerk, m.set.Int(KeyZStartPrintJerk)),
		CmdValue(RegZSettings, SetSpeed, ZSpeedFactor*m.set.Int(KeyZStartPrintSpeed)),

		// move down to the optical window
		CmdValue(RegZAction, Move, m.set.Int(KeyZStartPositionMicrons)),

		Cmd(RegGeneral, Interrupt),
	)
	return cmds
}

// Separate rotates the tray away from the optical window and lifts the
// build platform after an exposure.
func (m *Motor) Separate(t LayerType, layer int, p LayerParams) error {
	return m.SendCommands(separateCommands(p))
}

func separateCommands(p LayerParams) []Command {
	rotation := p.RotationMilliDeg / RotScaleFactor

	cmds := []Command{
		CmdValue(RegRotSettings, SetJerk, p.SeparationRotJerk),
		CmdValue(RegRotSettings, SetSpeed, RotSpeedFactor*p.SeparationRotSpeed),
	}
	if rotation != 0 {
		cmds = append(cmds, CmdValue(RegRotAction, Move, -rotation))
	}

	cmds = append(cmds,
		CmdValue(RegZSettings, SetJerk, p.SeparationZJerk),
		CmdValue(RegZSettings, SetSpeed, ZSpeedFactor*p.SeparationZSpeed),
	)
	if p.ZLiftMicrons != 0 {
		cmds = append(cmds, CmdValue(RegZAction, Move, p.ZLiftMicrons))
	}

	return append(cmds, Cmd(RegGeneral, Interrupt))
}

// Approach returns the build platform into position to expose the next
// layer, optionally running an unjam motion first.
func (m *Motor) Approach(t LayerType, layer int, p LayerParams, unjamFirst bool) error {
	if unjamFirst {
		if err := m.SendCommands(unjamCommands(p, false)); err != nil {
			return err
		}
	}
	return m.SendCommands(approachCommands(p))
}

func approachCommands(p LayerParams) []Command {
	rotation := p.RotationMilliDeg / RotScaleFactor

	cmds := []Command{
		CmdValue(RegRotSettings, SetJerk, p.ApproachRotJerk),
		CmdValue(RegRotSettings, SetSpeed, RotSpeedFactor*p.ApproachRotSpeed),
	}
	if rotation != 0 {
		cmds = append(cmds, CmdValue(RegRotAction, Move, rotation))
	}

	cmds = append(cmds,
		CmdValue(RegZSettings, SetJerk, p.ApproachZJerk),
		CmdValue(RegZSettings, SetSpeed, ZSpeedFactor*p.ApproachZSpeed),
	)
	if p.ThicknessMicrons != p.ZLiftMicrons {
		cmds = append(cmds, CmdValue(RegZAction, Move, p.ThicknessMicrons-p.ZLiftMicrons))
	}

	return append(cmds, Cmd(RegGeneral, Interrupt))
}

// UnJam re-homes the tray rotation to clear a mechanical jam, then rotates
// back by the layer's separation angle. The caller is expected to have set
// jerk and speed already (it reuses whatever the prior motion configured).
// Also used, without the interrupt, to realign the tray before resuming from
// a manual recovery.
func (m *Motor) UnJam(t LayerType, layer int, p LayerParams, withInterrupt bool) error {
	return m.SendCommands(unjamCommands(p, withInterrupt))
}

func unjamCommands(p LayerParams, withInterrupt bool) []Command {
	cmds := []Command{
		CmdValue(RegRotAction, Home, UnitsPerRevolution),
	}
	if rotation := p.RotationMilliDeg / RotScaleFactor; rotation != 0 {
		cmds = append(cmds, CmdValue(RegRotAction, Move, -rotation))
	}
	if withInterrupt {
		cmds = append(cmds, Cmd(RegGeneral, Interrupt))
	}
	return cmds
}

// PauseAndInspect rotates the tray to shield the optical path and lifts the
// build head so a print in progress can be inspected. rotationMilliDeg is
// the requested tray rotation.
func (m *Motor) PauseAndInspect(rotationMilliDeg int) error {
	return m.SendCommands(m.pauseAndInspectCommands(rotationMilliDeg))
}

func (m *Motor) pauseAndInspectCommands(rotationMilliDeg int) []Command {
	// already separated, so homing speeds and jerks are appropriate
	cmds := []Command{
		CmdValue(RegRotSettings, SetJerk, m.set.Int(KeyRotHomingJerk)),
		CmdValue(RegRotSettings, SetSpeed, RotSpeedFactor*m.set.Int(KeyRotHomingSpeed)),
		CmdValue(RegZSettings, SetJerk, m.set.Int(KeyZHomingJerk)),
		CmdValue(RegZSettings, SetSpeed, ZSpeedFactor*m.set.Int(KeyZHomingSpeed)),
	}
	if rotation := rotationMilliDeg / RotScaleFactor; rotation != 0 {
		cmds = append(cmds, CmdValue(RegRotAction, Move, -rotation))
	}
	if h := m.set.Int(KeyInspectionHeightMicrons); h != 0 {
		cmds = append(cmds, CmdValue(RegZAction, Move, h))
	}
	return append(cmds, Cmd(RegGeneral, Interrupt))
}

// ResumeFromInspect reverses PauseAndInspect: rotates the tray back into
// exposing position and lowers the build head.
func (m *Motor) ResumeFromInspect(rotationMilliDeg int) error {
	return m.SendCommands(m.resumeFromInspectCommands(rotationMilliDeg))
}

func (m *Motor) resumeFromInspectCommands(rotationMilliDeg int) []Command {
	// already calibrated, so start-print speeds and jerks are appropriate
	cmds := []Command{
		CmdValue(RegRotSettings, SetJerk, m.set.Int(KeyRotStartPrintJerk)),
		CmdValue(RegRotSettings, SetSpeed, RotSpeedFactor*m.set.Int(KeyRotStartPrintSpeed)),
		CmdValue(RegZSettings, SetJerk, m.set.Int(KeyZStartPrintJerk)),
		CmdValue(RegZSettings, SetSpeed, ZSpeedFactor*m.set.Int(KeyZStartPrintSpeed)),
	}
	if rotation := rotationMilliDeg / RotScaleFactor; rotation != 0 {
		cmds = append(cmds, CmdValue(RegRotAction, Move, rotation))
	}
	if h := m.set.Int(KeyInspectionHeightMicrons); h != 0 {
		cmds = append(cmds, CmdValue(RegZAction, Move, -h))
	}
	return append(cmds, Cmd(RegGeneral, Interrupt))
}

// Enable engages both motors.
func (m *Motor) Enable() error { return Cmd(RegGeneral, Enable).Send(m.bus) }

// Disable disengages both motors.
func (m *Motor) Disable() error { return Cmd(RegGeneral, Disable).Send(m.bus) }

// Pause suspends the controller's command queue.
func (m *Motor) Pause() error { return Cmd(RegGeneral, Pause).Send(m.bus) }

// Resume continues the command queue pending at the last pause.
func (m *Motor) Resume() error { return Cmd(RegGeneral, Resume).Send(m.bus) }

// ClearPendingCommands drops queued controller commands. Typical use is
// after a pause, to implement a cancel.
func (m *Motor) ClearPendingCommands() error { return Cmd(RegGeneral, Clear).Send(m.bus) }

// Stop halts motion immediately, moving or not. It bypasses the sequencer.
func (m *Motor) Stop() error { return m.bus.WriteByte(StopByte) }

// SendSettingString writes a formatted multi-field setting to the command
// register, as used by the pre-print settings handshake.
func (m *Motor) SendSettingString(s string) error {
	return m.bus.WriteRegister(byte(RegCommand), []byte(s))
}
