package engine

// ErrorCode identifies an engine error in the published status record.
type ErrorCode int32

const (
	ErrNone ErrorCode = iota
	ErrMotorError
	ErrMotorTimeout
	ErrUnknownMotorStatus
	ErrFrontPanel
	ErrUnknownFrontPanelStatus
	ErrControllerInit
	ErrMotionFailed
	ErrNoImageForLayer
	ErrCantShowImage
	ErrCantShowBlack
	ErrNoPrintData
	ErrSeparationRPMOutOfRange
	ErrExposureTimer
	ErrMotorTimeoutTimer
	ErrStatusPipe
	ErrUnknownCommand
)

var errorText = map[ErrorCode]string{
	ErrNone:                    "no error",
	ErrMotorError:              "motor controller reported an error",
	ErrMotorTimeout:            "motor controller did not complete a motion in time",
	ErrUnknownMotorStatus:      "unrecognized motor controller status",
	ErrFrontPanel:              "front panel reported an error",
	ErrUnknownFrontPanelStatus: "unrecognized front panel status",
	ErrControllerInit:          "motor controller initialization failed",
	ErrMotionFailed:            "motion command sequence failed",
	ErrNoImageForLayer:         "no image available for layer",
	ErrCantShowImage:           "unable to show layer image",
	ErrCantShowBlack:           "unable to blank the projector",
	ErrNoPrintData:             "no print data available",
	ErrSeparationRPMOutOfRange: "separation RPM setting out of range",
	ErrExposureTimer:           "exposure timer failure",
	ErrMotorTimeoutTimer:       "motor timeout timer failure",
	ErrStatusPipe:              "status pipe failure",
	ErrUnknownCommand:          "unknown command",
}

func (c ErrorCode) String() string {
	if s, ok := errorText[c]; ok {
		return s
	}
	return "unknown error code"
}
