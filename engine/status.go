package engine

import "encoding/json"

// UISubState refines the published state for front ends without adding
// print states.
type UISubState int32

const (
	NoUISubState UISubState = iota
	Registering
	Registered
)

// StateChange tells status readers whether a snapshot marks a state edge.
type StateChange int32

const (
	NoChange StateChange = iota
	Entering
	Leaving
)

// Status is the printer status record. It is owned and mutated exclusively
// by the Engine and broadcast by copy on every change.
//
// IsError is one-shot: it is set for exactly the snapshot that reports the
// error and cleared immediately after that publish.
type Status struct {
	State      PrintState  `json:"state"`
	UISubState UISubState  `json:"uiSubState"`
	Change     StateChange `json:"change"`

	CurrentLayer uint32 `json:"currentLayer"`
	NumLayers    uint32 `json:"numLayers"`

	EstimatedSecondsRemaining int32 `json:"estimatedSecondsRemaining"`

	ErrorCode ErrorCode `json:"errorCode"`
	Errno     int32     `json:"errno"`
	IsError   bool      `json:"isError"`
}

// MarshalJSON publishes the state by name so SSE clients don't depend on
// enum ordering.
func (s PrintState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
