package motor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSettings map[string]int

func (m mapSettings) Int(key string) int { return m[key] }

var testSettings = mapSettings{
	KeyZStepAngle:     1800,
	KeyZMicronsPerRev: 2000,
	KeyZMicroStep:     6,

	KeyRotStepAngle:      1800,
	KeyRotMilliDegPerRev: 180000,
	KeyRotMicroStep:      6,

	KeyRotHomingJerk:          100000,
	KeyRotHomingSpeed:         5,
	KeyRotHomingAngleMilliDeg: -60000,
	KeyZHomingJerk:            500000,
	KeyZHomingSpeed:           5,

	KeyRotStartPrintJerk:          120000,
	KeyRotStartPrintSpeed:         7,
	KeyRotStartPrintAngleMilliDeg: 60000,
	KeyZStartPrintJerk:            600000,
	KeyZStartPrintSpeed:           8,
	KeyZStartPositionMicrons:      -165000,

	KeyInspectionHeightMicrons: 60000,
}

var testParams = LayerParams{
	SeparationRotJerk:  100000,
	SeparationRotSpeed: 6,
	ApproachRotJerk:    110000,
	ApproachRotSpeed:   7,
	SeparationZJerk:    500000,
	SeparationZSpeed:   3000,
	ApproachZJerk:      510000,
	ApproachZSpeed:     3100,

	RotationMilliDeg: 60000,
	ZLiftMicrons:     2000,
	ThicknessMicrons: 25,
}

func TestMotor_SendCommands_failFast(t *testing.T) {
	bus := &fakeBus{failAt: 3}
	m := New(bus, testSettings)

	cmds := m.goHomeCommands(true)
	err := m.SendCommands(cmds)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "command 3 of")
	assert.Len(t, bus.writes, 2)
}

func TestMotor_goHomeCommands(t *testing.T) {
	m := New(&fakeBus{}, testSettings)

	cmds := m.goHomeCommands(true)
	assert.Equal(t, []Command{
		CmdValue(RegRotSettings, SetJerk, 100000),
		CmdValue(RegRotSettings, SetSpeed, 50),
		CmdValue(RegRotAction, Home, UnitsPerRevolution),
		CmdValue(RegRotAction, Move, -6000),
		CmdValue(RegZSettings, SetJerk, 500000),
		CmdValue(RegZSettings, SetSpeed, 300),
		CmdValue(RegZAction, Home, 330000),
		Cmd(RegGeneral, Interrupt),
	}, cmds)

	// deterministic: the same inputs always produce the same sequence
	assert.Equal(t, cmds, m.goHomeCommands(true))

	// no homing rotation offset configured means no move after the seek
	set := mapSettings{}
	for k, v := range testSettings {
		set[k] = v
	}
	set[KeyRotHomingAngleMilliDeg] = 0
	cmds = New(&fakeBus{}, set).goHomeCommands(false)
	assert.Equal(t, []Command{
		CmdValue(RegRotSettings, SetJerk, 100000),
		CmdValue(RegRotSettings, SetSpeed, 50),
		CmdValue(RegRotAction, Home, UnitsPerRevolution),
		CmdValue(RegZSettings, SetJerk, 500000),
		CmdValue(RegZSettings, SetSpeed, 300),
		CmdValue(RegZAction, Home, 330000),
	}, cmds)
}

func TestMotor_goToStartCommands(t *testing.T) {
	m := New(&fakeBus{}, testSettings)

	cmds := m.goToStartCommands()

	// homing is chained in front, without its own interrupt
	home := m.goHomeCommands(false)
	require.True(t, len(cmds) > len(home))
	assert.Equal(t, home, cmds[:len(home)])

	assert.Equal(t, []Command{
		CmdValue(RegRotSettings, SetJerk, 120000),
		CmdValue(RegRotSettings, SetSpeed, 70),
		CmdValue(RegRotAction, Move, 6000),
		CmdValue(RegZSettings, SetJerk, 600000),
		CmdValue(RegZSettings, SetSpeed, 480),
		CmdValue(RegZAction, Move, -165000),
		Cmd(RegGeneral, Interrupt),
	}, cmds[len(home):])

	// exactly one completion interrupt for the whole chain
	n := 0
	for _, c := range cmds {
		if c.Register == RegGeneral && c.Action == Interrupt {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestSeparateCommands(t *testing.T) {
	cmds := separateCommands(testParams)

	assert.Equal(t, []Command{
		CmdValue(RegRotSettings, SetJerk, 100000),
		CmdValue(RegRotSettings, SetSpeed, 60),
		CmdValue(RegRotAction, Move, -6000),
		CmdValue(RegZSettings, SetJerk, 500000),
		CmdValue(RegZSettings, SetSpeed, 180000),
		CmdValue(RegZAction, Move, 2000),
		Cmd(RegGeneral, Interrupt),
	}, cmds)

	// zero rotation and zero lift are elided
	p := testParams
	p.RotationMilliDeg = 0
	p.ZLiftMicrons = 0
	cmds = separateCommands(p)
	assert.Equal(t, []Command{
		CmdValue(RegRotSettings, SetJerk, 100000),
		CmdValue(RegRotSettings, SetSpeed, 60),
		CmdValue(RegZSettings, SetJerk, 500000),
		CmdValue(RegZSettings, SetSpeed, 180000),
		Cmd(RegGeneral, Interrupt),
	}, cmds)
}

func TestApproachCommands(t *testing.T) {
	cmds := approachCommands(testParams)

	assert.Equal(t, []Command{
		CmdValue(RegRotSettings, SetJerk, 110000),
		CmdValue(RegRotSettings, SetSpeed, 70),
		CmdValue(RegRotAction, Move, 6000),
		CmdValue(RegZSettings, SetJerk, 510000),
		CmdValue(RegZSettings, SetSpeed, 186000),
		CmdValue(RegZAction, Move, 25-2000),
		Cmd(RegGeneral, Interrupt),
	}, cmds)

	// no Z move when the lift already equals the layer thickness
	p := testParams
	p.ZLiftMicrons = p.ThicknessMicrons
	cmds = approachCommands(p)
	for _, c := range cmds {
		assert.False(t, c.Register == RegZAction && c.Action == Move)
	}
}

func TestUnjamCommands(t *testing.T) {
	cmds := unjamCommands(testParams, true)

	assert.Equal(t, []Command{
		CmdValue(RegRotAction, Home, UnitsPerRevolution),
		CmdValue(RegRotAction, Move, -6000),
		Cmd(RegGeneral, Interrupt),
	}, cmds)

	cmds = unjamCommands(testParams, false)
	assert.Equal(t, Command{Register: RegRotAction, Action: Move, Value: -6000, HasValue: true}, cmds[len(cmds)-1])
}

func TestMotor_Approach_unjamFirst(t *testing.T) {
	bus := &fakeBus{}
	m := New(bus, testSettings)

	err := m.Approach(Model, 5, testParams, true)
	assert.NoError(t, err)

	// unjam commands precede the approach, without an extra interrupt
	assert.Equal(t, byte(0x22), bus.writes[0].reg)
	assert.Equal(t, byte(Home), bus.writes[0].data[0])

	n := 0
	for _, w := range bus.writes {
		if w.reg == 0x20 && w.data[0] == byte(Interrupt) {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestMotor_pauseAndInspectCommands(t *testing.T) {
	m := New(&fakeBus{}, testSettings)

	cmds := m.pauseAndInspectCommands(60000)
	assert.Equal(t, []Command{
		CmdValue(RegRotSettings, SetJerk, 100000),
		CmdValue(RegRotSettings, SetSpeed, 50),
		CmdValue(RegZSettings, SetJerk, 500000),
		CmdValue(RegZSettings, SetSpeed, 300),
		CmdValue(RegRotAction, Move, -6000),
		CmdValue(RegZAction, Move, 60000),
		Cmd(RegGeneral, Interrupt),
	}, cmds)

	// resume reverses the motion with the start-print motion profile
	cmds = m.resumeFromInspectCommands(60000)
	assert.Equal(t, []Command{
		CmdValue(RegRotSettings, SetJerk, 120000),
		CmdValue(RegRotSettings, SetSpeed, 70),
		CmdValue(RegZSettings, SetJerk, 600000),
		CmdValue(RegZSettings, SetSpeed, 480),
		CmdValue(RegRotAction, Move, 6000),
		CmdValue(RegZAction, Move, -60000),
		Cmd(RegGeneral, Interrupt),
	}, cmds)
}

func TestMotor_initializeCommands(t *testing.T) {
	m := New(&fakeBus{}, testSettings)

	cmds := m.initializeCommands()
	assert.Equal(t, []Command{
		CmdValue(RegZSettings, SetStepAngle, 1800),
		CmdValue(RegZSettings, SetUnitsPerRev, 2000),
		CmdValue(RegZSettings, SetMicrostepping, 6),
		CmdValue(RegRotSettings, SetStepAngle, 1800),
		CmdValue(RegRotSettings, SetUnitsPerRev, 18000),
		CmdValue(RegRotSettings, SetMicrostepping, 6),
		Cmd(RegGeneral, Enable),
	}, cmds)
}
