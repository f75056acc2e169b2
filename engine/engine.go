// Package engine drives the layer-by-layer print process: it owns the print
// state machine, the motion sequencer, the exposure and motor-timeout
// timers, and the printer status record, translating raw hardware events
// into state transitions and publishing status on every change.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/resinworks/sled/motor"
)

const (
	// the light engine always adds exactly one video frame to an exposure
	videoFrameSec = 1.0 / 60.0

	// fixed per-layer separation cost used for the remaining-time estimate
	separationSecPerLayer = 1.0
)

// Settings keys read by the engine.
const (
	KeyBurnInLayers      = "BurnInLayers"
	KeyFirstExposureSec  = "FirstExposureSec"
	KeyBurnInExposureSec = "BurnInExposureSec"
	KeyModelExposureSec  = "ModelExposureSec"

	KeyHardwareRev      = "HardwareRev"
	KeyMotorTimeoutSec  = "MotorTimeoutSec"
	KeyHomingTimeoutSec = "HomingTimeoutSec"

	KeyInspectionRotationMilliDeg = "InspectionRotationMilliDeg"

	KeyLayerThicknessMicrons = "LayerThicknessMicrons"
	KeySeparationRPM         = "SeparationRPM"
)

// Settings supplies engine configuration values.
type Settings interface {
	Int(key string) int
	Float(key string) float64
}

// Display is the light engine collaborator.
type Display interface {
	NumLayers() int
	LoadImageForLayer(layer int) error
	ShowImage() error
	ShowBlack() error
	ShowTestPattern() error
	SetPowered(on bool)
}

// pendingSetting is one motor controller setting awaiting the
// acknowledgment-gated pre-print handshake.
type pendingSetting struct {
	key    string
	format string
}

// Config wires an Engine. StatusPipePath is optional; when set the pipe must
// be creatable or construction fails.
type Config struct {
	Motor    *motor.Motor
	Layers   motor.ParamSource
	Display  Display
	Settings Settings
	Log      *logrus.Logger

	StatusPipePath string
}

// Engine is the print orchestrator. All state mutation happens on its
// dispatch goroutine; external callers hand in events through Post and
// Handle.
type Engine struct {
	motor   *motor.Motor
	layers  motor.ParamSource
	display Display
	set     Settings
	log     *logrus.Logger
	pipe    *StatusPipe

	exposureTimer *Timer
	motorTimer    *Timer

	ops      chan func()
	quit     chan struct{}
	quitOnce sync.Once
	statusCh chan Status

	mu   sync.Mutex
	last Status

	sm     machine
	status Status

	pendingSettings    []pendingSetting
	awaitingSettingAck bool
	pendingPause       bool
	realignOnApproach  bool
	exposureRemaining  float64
	motionRemaining    float64
	invertDoorSwitch   bool
}

// New constructs an Engine. It fails if the status pipe cannot be created;
// the process cannot usefully run without a way to report status.
func New(cfg Config) (*Engine, error) {
	if cfg.Motor == nil || cfg.Display == nil || cfg.Settings == nil || cfg.Layers == nil {
		return nil, errors.New("engine: motor, layers, display and settings are required")
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}

	e := &Engine{
		motor:    cfg.Motor,
		layers:   cfg.Layers,
		display:  cfg.Display,
		set:      cfg.Settings,
		log:      cfg.Log,
		ops:      make(chan func(), 64),
		quit:     make(chan struct{}),
		statusCh: make(chan Status, 1),
		sm:       machine{cur: Initializing},
	}
	e.status.State = Initializing

	// the door switch polarity depends on the hardware revision; read once
	// at construction, a revision change requires a restart
	e.invertDoorSwitch = cfg.Settings.Int(KeyHardwareRev) == 0

	e.exposureTimer = NewTimer(func() { e.Post(Event{Type: ExposureEnd}) })
	e.motorTimer = NewTimer(func() { e.Post(Event{Type: MotorTimeout}) })

	if cfg.StatusPipePath != "" {
		pipe, err := OpenStatusPipe(cfg.StatusPipePath)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.pipe = pipe
	}

	return e, nil
}

// Begin starts the dispatch loop and the initialization sequence. Event
// sources should be subscribed before calling it.
func (e *Engine) Begin() {
	go e.loop()
	e.do(e.begin)
}

// Close stops the dispatch loop and releases timers and the status pipe.
func (e *Engine) Close() error {
	e.quitOnce.Do(func() { close(e.quit) })
	e.exposureTimer.Clear()
	e.motorTimer.Clear()
	if e.pipe != nil {
		return e.pipe.Close()
	}
	return nil
}

// Post delivers a raw hardware or timer event. Safe from any goroutine.
func (e *Engine) Post(ev Event) {
	e.do(func() { e.callback(ev) })
}

// Handle delivers an interpreted operator command. Safe from any goroutine.
func (e *Engine) Handle(cmd Command) {
	e.do(func() { e.handleCommand(cmd) })
}

// Status yields a copy of the status record on every change. Sends are
// non-blocking: a slow or absent reader only misses snapshots.
func (e *Engine) Status() <-chan Status {
	return e.statusCh
}

// CurrentStatus returns the most recently published snapshot.
func (e *Engine) CurrentStatus() Status {
	e.mu.Lock()
	st := e.last
	e.mu.Unlock()
	return st
}

func (e *Engine) do(f func()) {
	select {
	case e.ops <- f:
	case <-e.quit:
	}
}

func (e *Engine) loop() {
	for {
		select {
		case f := <-e.ops:
			f()
		case <-e.quit:
			return
		}
	}
}

func (e *Engine) begin() {
	e.publish(Entering)
	e.execInitialize()
}

// callback translates raw events into state machine events.
func (e *Engine) callback(ev Event) {
	switch ev.Type {
	case MotorInterrupt:
		e.motorCallback(ev.Data)
	case ButtonInterrupt:
		e.buttonCallback(ev.Data)
	case DoorInterrupt:
		e.doorCallback(ev.Data)
	case ExposureEnd:
		e.process(evExposed)
	case MotorTimeout:
		e.handleError(ErrMotorTimeout, true, nil)
	default:
		e.handleError(ErrUnknownCommand, false, fmt.Errorf("event type %d", ev.Type))
	}
}

// motorCallback translates a motor controller status byte. A success while
// a setting acknowledgment is pending advances the settings handshake
// instead of the motion flow.
func (e *Engine) motorCallback(status byte) {
	switch status {
	case motorStatusError:
		e.handleError(ErrMotorError, true, nil)
	case motorStatusSuccess:
		e.motorTimer.Clear()
		if e.awaitingSettingAck {
			e.awaitingSettingAck = false
			e.process(evGotSettingAck)
		} else {
			e.process(evMotionDone)
		}
	default:
		e.handleError(ErrUnknownMotorStatus, false, fmt.Errorf("status 0x%02x", status))
	}
}

// buttonCallback maps front panel buttons onto commands for the current
// state.
func (e *Engine) buttonCallback(status byte) {
	masked := status & buttonMask
	if masked == 0 {
		// not a button event
		return
	}
	if status == panelErrorStatus {
		e.handleError(ErrFrontPanel, false, nil)
		return
	}

	switch masked {
	case btn1Press:
		if e.sm.cur == Home {
			e.handleCommand(ReHome)
		}
	case btn2Press:
		switch {
		case e.sm.cur == Home:
			e.handleCommand(Start)
		case e.sm.cur == Paused:
			e.handleCommand(ResumePrint)
		case e.sm.cur.printing():
			e.handleCommand(PausePrint)
		}
	case btn2Hold:
		if e.sm.cur.printing() {
			e.handleCommand(Cancel)
		}
	case btn1And2Press:
		if e.sm.cur == Error {
			e.handleCommand(ResetPrinter)
		}
	case btn1Hold:
		// holding button 1 causes a hardware power-off; nothing to do here
	default:
		e.handleError(ErrUnknownFrontPanelStatus, false, fmt.Errorf("status 0x%02x", status))
	}
}

// doorCallback interprets the door switch level through the configured
// polarity.
func (e *Engine) doorCallback(level byte) {
	closedLevel := doorLevelLow
	if e.invertDoorSwitch {
		closedLevel = doorLevelHigh
	}
	if level == closedLevel {
		e.process(evDoorClosed)
	} else {
		e.process(evDoorOpened)
	}
}

func (e *Engine) handleCommand(cmd Command) {
	switch cmd {
	case Start:
		e.process(evStart)
	case Cancel:
		e.process(evCancel)
	case PausePrint:
		e.process(evPause)
	case ResumePrint:
		e.process(evResume)
	case ResetPrinter:
		e.process(evReset)
	case ReHome:
		e.process(evHome)
	case ShowTestPattern:
		if err := e.display.ShowTestPattern(); err != nil {
			e.handleError(ErrCantShowImage, false, err)
		}
	case StartRegistering:
		if e.sm.cur == Home {
			e.status.UISubState = Registering
			e.publish(NoChange)
		}
	case RegistrationSucceeded:
		if e.status.UISubState == Registering {
			e.status.UISubState = Registered
			e.publish(NoChange)
		}
	default:
		e.handleError(ErrUnknownCommand, false, fmt.Errorf("command %d", cmd))
	}
}

func (e *Engine) conds() conds {
	return conds{
		hasPrintData:  e.display.NumLayers() >= 1,
		noMoreLayers:  e.status.CurrentLayer >= e.status.NumLayers,
		settingsEmpty: len(e.pendingSettings) == 0,
		pendingPause:  e.pendingPause,
	}
}

// process commits one state machine transition, executes its actions, then
// publishes the resulting status. An action that faults publishes its own
// error snapshot along the way.
func (e *Engine) process(ev smEvent) {
	prev := e.sm.cur
	next, actions := transition(e.sm, ev, e.conds())
	e.sm = next
	for _, a := range actions {
		before := e.sm.cur
		e.exec(a)
		if e.sm.cur != before {
			// a fatal error or chained event moved the machine; the
			// remaining actions belong to the abandoned state
			break
		}
	}

	change := NoChange
	if e.sm.cur != prev {
		change = Entering
	}
	e.publish(change)
}

func (e *Engine) exec(a actionKind) {
	switch a {
	case actInitialize:
		e.execInitialize()
	case actSeekHome:
		e.seekHome()
	case actStartPrint:
		e.startPrint()
	case actSendNextSetting:
		e.sendNextSetting()
	case actMoveToStart:
		e.moveToStart()
	case actNextLayer:
		e.nextLayer()
	case actExpose:
		e.expose()
	case actSuspendExposure:
		e.suspendExposure()
	case actShowBlack:
		e.endExposure()
	case actSeparate:
		e.separate()
	case actApproach:
		e.approach()
	case actFinishPrint:
		e.finishPrint()
	case actPauseAndInspect:
		e.pauseAndInspect()
	case actResumeFromInspect:
		e.resumeFromInspect()
	case actLatchPause:
		e.pendingPause = true
	case actRequestRealign:
		e.realignOnApproach = true
	case actPauseMotor:
		e.pauseMotion()
	case actResumeMotor:
		e.resumeMotion()
	case actCancelPrint:
		e.cancelPrint()
	case actReportNoData:
		e.handleError(ErrNoPrintData, false, nil)
	}
}

// execInitialize performs the work repeated whenever the machine enters
// Initializing, then advances to homing if the controller came up.
func (e *Engine) execInitialize() {
	e.exposureTimer.Clear()
	e.motorTimer.Clear()
	e.status.CurrentLayer = 0
	e.status.EstimatedSecondsRemaining = 0
	e.status.UISubState = NoUISubState
	e.clearError()
	e.pendingSettings = nil
	e.awaitingSettingAck = false
	e.pendingPause = false
	e.realignOnApproach = false
	e.exposureRemaining = 0
	e.motionRemaining = 0

	if err := e.motor.Initialize(); err != nil {
		e.handleError(ErrControllerInit, true, err)
		return
	}
	e.process(evInitialized)
}

func (e *Engine) seekHome() {
	e.motorTimer.Start(float64(e.set.Int(KeyHomingTimeoutSec)))
	if err := e.motor.GoHome(true); err != nil {
		e.handleError(ErrMotionFailed, true, err)
	}
}

// startPrint validates print data, initializes the layer count and the
// remaining-time estimate, and queues the controller settings handshake.
func (e *Engine) startPrint() {
	e.clearError()
	n := e.display.NumLayers()
	e.status.NumLayers = uint32(n)
	e.status.CurrentLayer = 0
	e.setEstimatedPrintTime()

	e.pendingSettings = []pendingSetting{
		{key: KeyLayerThicknessMicrons, format: "l%06d"},
		{key: KeySeparationRPM, format: "r%d"},
	}

	e.log.WithFields(logrus.Fields{
		"layers":       n,
		"estimatedSec": e.status.EstimatedSecondsRemaining,
	}).Info("starting print")
}

// sendNextSetting transmits the next pending controller setting. When
// nothing was left to transmit the handshake is complete and the machine
// advances without waiting for an acknowledgment.
func (e *Engine) sendNextSetting() {
	if e.sendSettings() {
		e.process(evGotSettingAck)
	}
}

// sendSettings drains one entry from the pending collection. It returns
// true when the collection is empty and nothing is awaiting acknowledgment.
// An out-of-range value raises a non-fatal error and drops the entry.
func (e *Engine) sendSettings() bool {
	for len(e.pendingSettings) > 0 {
		ps := e.pendingSettings[0]
		e.pendingSettings = e.pendingSettings[1:]

		value := e.set.Int(ps.key)
		if ps.key == KeySeparationRPM && (value < 0 || value > 9) {
			e.handleError(ErrSeparationRPMOutOfRange, false, fmt.Errorf("value %d", value))
			continue
		}

		e.awaitingSettingAck = true
		e.motorTimer.Start(float64(e.set.Int(KeyMotorTimeoutSec)))
		if err := e.motor.SendSettingString(fmt.Sprintf(ps.format, value)); err != nil {
			e.handleError(ErrMotionFailed, true, err)
		}
		return false
	}
	return !e.awaitingSettingAck
}

func (e *Engine) moveToStart() {
	// homing is chained in front of the descent, so use the longer deadline
	e.motorTimer.Start(float64(e.set.Int(KeyHomingTimeoutSec)))
	if err := e.motor.GoToStartPosition(); err != nil {
		e.handleError(ErrMotionFailed, true, err)
	}
}

// nextLayer advances to the next layer and stages its image.
func (e *Engine) nextLayer() {
	e.status.CurrentLayer++
	if err := e.display.LoadImageForLayer(int(e.status.CurrentLayer)); err != nil {
		// no image means there is no point in proceeding
		e.handleError(ErrNoImageForLayer, true, err)
	}
}

func (e *Engine) expose() {
	seconds := e.exposureRemaining
	e.exposureRemaining = 0
	if seconds <= 0 {
		seconds = e.exposureTimeSec()
	}
	if err := e.display.ShowImage(); err != nil {
		e.handleError(ErrCantShowImage, true, err)
		return
	}
	e.exposureTimer.Start(seconds)
}

// suspendExposure stops an exposure in progress, remembering how much of it
// remains so it can be finished after the pause or door interruption.
func (e *Engine) suspendExposure() {
	e.exposureRemaining = float64(e.exposureTimer.Remaining())
	e.exposureTimer.Clear()
	if err := e.display.ShowBlack(); err != nil {
		e.handleError(ErrCantShowBlack, true, err)
	}
}

// endExposure blanks the projector after a completed exposure and charges
// the layer's exposure against the remaining-time estimate.
func (e *Engine) endExposure() {
	if err := e.display.ShowBlack(); err != nil {
		e.handleError(ErrCantShowBlack, true, err)
		return
	}
	e.decreaseEstimate(e.exposureTimeSec())
}

func (e *Engine) separate() {
	cur := int(e.status.CurrentLayer)
	t := e.layerType(cur)
	p := e.layers.LayerParams(t, cur+1)
	e.motorTimer.Start(float64(e.set.Int(KeyMotorTimeoutSec)))
	if err := e.motor.Separate(t, cur+1, p); err != nil {
		e.handleError(ErrMotionFailed, true, err)
		return
	}
	// separation done means one layer's separation cost is behind us
	e.decreaseEstimate(separationSecPerLayer)
}

func (e *Engine) approach() {
	unjamFirst := e.realignOnApproach
	e.realignOnApproach = false

	cur := int(e.status.CurrentLayer)
	t := e.layerType(cur)
	p := e.layers.LayerParams(t, cur)
	e.motorTimer.Start(float64(e.set.Int(KeyMotorTimeoutSec)))
	if err := e.motor.Approach(t, cur, p, unjamFirst); err != nil {
		e.handleError(ErrMotionFailed, true, err)
	}
}

// finishPrint clears per-print bookkeeping once the last layer separated.
func (e *Engine) finishPrint() {
	e.status.CurrentLayer = 0
	e.status.NumLayers = 0
	e.status.EstimatedSecondsRemaining = 0
	e.exposureTimer.Clear()
	e.log.Info("print complete")
}

func (e *Engine) pauseAndInspect() {
	e.pendingPause = false
	e.motorTimer.Start(float64(e.set.Int(KeyMotorTimeoutSec)))
	if err := e.motor.PauseAndInspect(e.set.Int(KeyInspectionRotationMilliDeg)); err != nil {
		e.handleError(ErrMotionFailed, true, err)
	}
}

func (e *Engine) resumeFromInspect() {
	e.motorTimer.Start(float64(e.set.Int(KeyMotorTimeoutSec)))
	if err := e.motor.ResumeFromInspect(e.set.Int(KeyInspectionRotationMilliDeg)); err != nil {
		e.handleError(ErrMotionFailed, true, err)
	}
}

// pauseMotion suspends the controller's command queue while the door is
// open, remembering how much of the motion deadline remains so dwelling with
// the door open cannot trip the motor timeout.
func (e *Engine) pauseMotion() {
	e.motionRemaining = float64(e.motorTimer.Remaining())
	e.motorTimer.Clear()
	if err := e.motor.Pause(); err != nil {
		e.handleError(ErrMotionFailed, false, err)
	}
}

// resumeMotion continues the paused queue and re-arms the motion deadline.
func (e *Engine) resumeMotion() {
	if e.motionRemaining > 0 {
		e.motorTimer.Start(e.motionRemaining)
		e.motionRemaining = 0
	}
	if err := e.motor.Resume(); err != nil {
		e.handleError(ErrMotionFailed, true, err)
	}
}

// cancelPrint stops the motor best-effort and clears everything a print in
// progress holds.
func (e *Engine) cancelPrint() {
	if err := e.motor.Stop(); err != nil {
		e.log.WithError(err).Warn("motor stop failed")
	}
	e.motorTimer.Clear()
	if err := e.motor.ClearPendingCommands(); err != nil {
		e.log.WithError(err).Warn("clearing pending motor commands failed")
	}

	e.exposureTimer.Clear()
	e.status.CurrentLayer = 0
	e.status.NumLayers = 0
	e.status.EstimatedSecondsRemaining = 0
	e.pendingSettings = nil
	e.awaitingSettingAck = false
	e.pendingPause = false
	e.realignOnApproach = false
	e.exposureRemaining = 0
	e.motionRemaining = 0

	if err := e.display.ShowBlack(); err != nil {
		e.log.WithError(err).Warn("blanking projector failed")
	}
}

// layerType classifies a layer using the configured burn-in count.
func (e *Engine) layerType(layer int) motor.LayerType {
	return motor.Classify(layer, e.set.Int(KeyBurnInLayers))
}

// exposureTimeSec selects the configured exposure for the current layer and
// subtracts the video frame the hardware adds, never going negative.
func (e *Engine) exposureTimeSec() float64 {
	var expTime float64
	switch e.layerType(int(e.status.CurrentLayer)) {
	case motor.First:
		expTime = e.set.Float(KeyFirstExposureSec)
	case motor.BurnIn:
		expTime = e.set.Float(KeyBurnInExposureSec)
	default:
		expTime = e.set.Float(KeyModelExposureSec)
	}
	if expTime > videoFrameSec {
		expTime -= videoFrameSec
	}
	return expTime
}

// setEstimatedPrintTime computes the whole-print time remaining at start:
// per-layer separation plus every remaining exposure, weighted by how many
// first/burn-in/model layers are left.
func (e *Engine) setEstimatedPrintTime() {
	numLayers := float64(e.status.NumLayers)
	burnIn := float64(e.set.Int(KeyBurnInLayers))
	if burnIn > numLayers-1 {
		burnIn = numLayers - 1
	}

	sepTimes := numLayers * separationSecPerLayer
	expTimes := e.set.Float(KeyFirstExposureSec) +
		burnIn*e.set.Float(KeyBurnInExposureSec) +
		(numLayers-(burnIn+1))*e.set.Float(KeyModelExposureSec)

	e.status.EstimatedSecondsRemaining = int32(expTimes + sepTimes + 0.5)
}

func (e *Engine) decreaseEstimate(seconds float64) {
	e.status.EstimatedSecondsRemaining -= int32(seconds + 0.5)
	if e.status.EstimatedSecondsRemaining < 0 {
		e.status.EstimatedSecondsRemaining = 0
	}
}

// handleError logs and publishes an error. The error flag is visible for
// exactly one snapshot. Fatal errors idle the machine.
func (e *Engine) handleError(code ErrorCode, fatal bool, cause error) {
	entry := e.log.WithField("code", code.String())
	if cause != nil {
		entry = entry.WithError(cause)
	}
	if fatal {
		entry.Error("print engine fault")
	} else {
		entry.Warn("print engine error")
	}

	e.status.ErrorCode = code
	e.status.Errno = errnoOf(cause)
	e.status.IsError = true
	e.publish(NoChange)

	if fatal {
		e.process(evFatal)
	}
	e.status.IsError = false
}

func (e *Engine) clearError() {
	e.status.ErrorCode = ErrNone
	e.status.Errno = 0
	e.status.IsError = false
}

func errnoOf(err error) int32 {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return int32(errno)
	}
	return 0
}

// publish sends a copy of the status record if it differs from the last one
// sent. Publication must never block or fail the phase that triggered it.
func (e *Engine) publish(change StateChange) {
	e.status.State = e.sm.cur
	e.status.Change = change

	st := e.status

	e.mu.Lock()
	// error snapshots always go out, even when a repeated fault produces an
	// identical record
	if !st.IsError && st == e.last {
		e.mu.Unlock()
		return
	}
	e.last = st
	e.mu.Unlock()

	select {
	case e.statusCh <- st:
	default:
		// reader not keeping up; it can query CurrentStatus
	}

	if e.pipe != nil {
		if err := e.pipe.Write(st); err != nil {
			e.log.WithError(err).Warn("status pipe write failed")
		}
	}
}
