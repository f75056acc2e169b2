package engine

// PrintState is a print lifecycle phase.
type PrintState int32

const (
	Initializing PrintState = iota
	Homing
	Home
	SendingSettings
	MovingToStart
	Exposing
	Separating
	Approaching
	MovingToPause
	Paused
	MovingToResume
	DoorOpen
	Error
)

var stateNames = map[PrintState]string{
	Initializing:    "initializing",
	Homing:          "homing",
	Home:            "home",
	SendingSettings: "sendingSettings",
	MovingToStart:   "movingToStart",
	Exposing:        "exposing",
	Separating:      "separating",
	Approaching:     "approaching",
	MovingToPause:   "movingToPause",
	Paused:          "paused",
	MovingToResume:  "movingToResume",
	DoorOpen:        "doorOpen",
	Error:           "error",
}

func (s PrintState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// printing reports whether s is part of an active print.
func (s PrintState) printing() bool {
	switch s {
	case SendingSettings, MovingToStart, Exposing, Separating, Approaching,
		MovingToPause, Paused, MovingToResume:
		return true
	}
	return false
}

// motionInFlight reports whether a motor command sequence may be executing
// in s, i.e. whether pausing/resuming the controller queue is meaningful.
func (s PrintState) motionInFlight() bool {
	switch s {
	case Homing, MovingToStart, Separating, Approaching, MovingToPause, MovingToResume:
		return true
	}
	return false
}

// smEvent is a domain event driving the state machine. Raw hardware signals
// are translated into these by the Engine before processing.
type smEvent int

const (
	evStart smEvent = iota
	evCancel
	evPause
	evResume
	evReset
	evHome
	evDoorOpened
	evDoorClosed
	evMotionDone
	evExposed
	evGotSettingAck
	evInitialized
	evFatal
)

// conds is the snapshot of engine-owned facts a transition may depend on,
// keeping the transition function itself free of I/O.
type conds struct {
	hasPrintData  bool
	noMoreLayers  bool
	settingsEmpty bool
	pendingPause  bool
}

// machine is the state value. resume is the phase to re-enter after an
// inspection pause completes; prior is the phase interrupted by the door.
type machine struct {
	cur    PrintState
	resume PrintState
	prior  PrintState
}

// actionKind names a side effect requested by a transition. The Engine
// executes the returned actions, in order, after the transition commits.
type actionKind int

const (
	actInitialize actionKind = iota
	actSeekHome
	actStartPrint
	actSendNextSetting
	actMoveToStart
	actNextLayer
	actExpose
	actSuspendExposure
	actShowBlack
	actSeparate
	actApproach
	actFinishPrint
	actPauseAndInspect
	actResumeFromInspect
	actLatchPause
	actRequestRealign
	actPauseMotor
	actResumeMotor
	actCancelPrint
	actReportNoData
)

func acts(kinds ...actionKind) []actionKind { return kinds }

// transition is the pure state transition function. It never performs I/O;
// side effects are returned for the Engine to execute.
func transition(m machine, ev smEvent, c conds) (machine, []actionKind) {
	// events honored regardless of phase
	switch ev {
	case evFatal:
		if m.cur == Error {
			return m, nil
		}
		return machine{cur: Error}, acts(actCancelPrint)
	case evDoorOpened:
		if m.cur == DoorOpen {
			return m, nil
		}
		next := machine{cur: DoorOpen, resume: m.resume, prior: m.cur}
		switch {
		case m.cur == Exposing:
			return next, acts(actSuspendExposure)
		case m.cur.motionInFlight():
			return next, acts(actPauseMotor)
		}
		return next, nil
	}

	switch m.cur {
	case Initializing:
		if ev == evInitialized {
			return machine{cur: Homing}, acts(actSeekHome)
		}

	case Homing:
		if ev == evMotionDone {
			return machine{cur: Home}, nil
		}

	case Home:
		switch ev {
		case evStart:
			if !c.hasPrintData {
				return m, acts(actReportNoData)
			}
			return machine{cur: SendingSettings}, acts(actStartPrint, actSendNextSetting)
		case evHome:
			return machine{cur: Homing}, acts(actSeekHome)
		}

	case SendingSettings:
		switch ev {
		case evGotSettingAck:
			if c.settingsEmpty {
				return machine{cur: MovingToStart}, acts(actMoveToStart)
			}
			return m, acts(actSendNextSetting)
		case evCancel:
			return machine{cur: Home}, acts(actCancelPrint)
		}

	case MovingToStart:
		switch ev {
		case evMotionDone:
			if c.pendingPause {
				return machine{cur: MovingToPause, resume: Exposing},
					acts(actNextLayer, actPauseAndInspect)
			}
			return machine{cur: Exposing}, acts(actNextLayer, actExpose)
		case evPause:
			return m, acts(actLatchPause)
		case evCancel:
			return machine{cur: Home}, acts(actCancelPrint)
		}

	case Exposing:
		switch ev {
		case evExposed:
			return machine{cur: Separating}, acts(actShowBlack, actSeparate)
		case evPause:
			return machine{cur: MovingToPause, resume: Exposing},
				acts(actSuspendExposure, actPauseAndInspect)
		case evCancel:
			return machine{cur: Home}, acts(actCancelPrint)
		}

	case Separating:
		switch ev {
		case evMotionDone:
			if c.noMoreLayers {
				return machine{cur: Homing}, acts(actFinishPrint, actSeekHome)
			}
			if c.pendingPause {
				return machine{cur: MovingToPause, resume: Approaching},
					acts(actNextLayer, actPauseAndInspect)
			}
			return machine{cur: Approaching}, acts(actNextLayer, actApproach)
		case evPause:
			return m, acts(actLatchPause)
		case evCancel:
			return machine{cur: Home}, acts(actCancelPrint)
		}

	case Approaching:
		switch ev {
		case evMotionDone:
			if c.pendingPause {
				return machine{cur: MovingToPause, resume: Exposing},
					acts(actPauseAndInspect)
			}
			return machine{cur: Exposing}, acts(actExpose)
		case evPause:
			return m, acts(actLatchPause)
		case evCancel:
			return machine{cur: Home}, acts(actCancelPrint)
		}

	case MovingToPause:
		switch ev {
		case evMotionDone:
			return machine{cur: Paused, resume: m.resume}, nil
		case evCancel:
			return machine{cur: Home}, acts(actCancelPrint)
		}

	case Paused:
		switch ev {
		case evResume:
			return machine{cur: MovingToResume, resume: m.resume},
				acts(actResumeFromInspect)
		case evCancel:
			return machine{cur: Home}, acts(actCancelPrint)
		}

	case MovingToResume:
		switch ev {
		case evMotionDone:
			// realign the tray on the way back into the print
			if m.resume == Approaching {
				return machine{cur: Approaching}, acts(actRequestRealign, actApproach)
			}
			return machine{cur: Exposing}, acts(actExpose)
		case evCancel:
			return machine{cur: Home}, acts(actCancelPrint)
		}

	case DoorOpen:
		switch ev {
		case evDoorClosed:
			restored := machine{cur: m.prior, resume: m.resume}
			switch {
			case m.prior == Exposing:
				return restored, acts(actRequestRealign, actExpose)
			case m.prior.motionInFlight() && m.prior.printing():
				return restored, acts(actRequestRealign, actResumeMotor)
			case m.prior.motionInFlight():
				return restored, acts(actResumeMotor)
			}
			return restored, nil
		case evCancel:
			if m.prior.printing() {
				return machine{cur: Home}, acts(actCancelPrint)
			}
		}

	case Error:
		if ev == evReset {
			return machine{cur: Initializing}, acts(actInitialize)
		}
	}

	return m, nil
}
