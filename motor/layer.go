package motor

// LayerType classifies a layer for parameter selection. The first layer and
// the burn-in layers that follow it cure longer and separate more gently
// than ordinary model layers.
type LayerType int

const (
	First LayerType = iota
	BurnIn
	Model
)

func (t LayerType) String() string {
	switch t {
	case First:
		return "first"
	case BurnIn:
		return "burnIn"
	default:
		return "model"
	}
}

// Classify maps a 1-based layer index to its type given the configured
// number of burn-in layers.
func Classify(layer, burnInLayers int) LayerType {
	if layer == 1 {
		return First
	}
	if burnInLayers > 0 && layer > 1 && layer <= 1+burnInLayers {
		return BurnIn
	}
	return Model
}

// LayerParams is the motion parameter set governing one layer. Values are in
// application units: rotation in milli-degrees, Z in microns, speeds in the
// units the settings store uses (converted by the per-axis factors on send).
type LayerParams struct {
	SeparationRotJerk  int
	SeparationRotSpeed int
	ApproachRotJerk    int
	ApproachRotSpeed   int
	SeparationZJerk    int
	SeparationZSpeed   int
	ApproachZJerk      int
	ApproachZSpeed     int

	RotationMilliDeg int
	ZLiftMicrons     int
	ThicknessMicrons int
}

// ParamSource yields the parameter set governing a given layer. Implemented
// by the settings store; a layer index may carry per-layer overrides.
type ParamSource interface {
	LayerParams(t LayerType, layer int) LayerParams
}
