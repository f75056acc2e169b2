// Package settings is the persistent configuration store. It backs the
// engine's scalar settings and resolves per-layer motion parameters, with
// per-layer overrides taking precedence over the per-type values.
package settings

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/viper"

	"github.com/resinworks/sled/motor"
)

// Store reads and writes printer settings. Safe for concurrent use.
type Store struct {
	mu sync.Mutex
	v  *viper.Viper
}

// Open loads the settings file at path, creating it with defaults when it
// does not exist yet.
func Open(path string) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	setDefaults(v)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := v.WriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("settings: write defaults: %w", err)
		}
	} else if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}

	return &Store{v: v}, nil
}

// NewFromDefaults returns an in-memory store, used by tests and by callers
// that do not need persistence.
func NewFromDefaults() *Store {
	v := viper.New()
	setDefaults(v)
	return &Store{v: v}
}

func (s *Store) Int(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetInt(key)
}

func (s *Store) Float(key string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetFloat64(key)
}

func (s *Store) String(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString(key)
}

// Set stores a value in memory. Save persists it.
func (s *Store) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
}

// Save writes the current settings back to the file the store was opened
// from. An in-memory store has nowhere to save to and reports an error.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.v.ConfigFileUsed() == "" {
		return fmt.Errorf("settings: no file to save to")
	}
	return s.v.WriteConfig()
}

// All returns a copy of every setting, for the settings API.
func (s *Store) All() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.AllSettings()
}

// LayerParams resolves the motion parameter set for one layer: the per-type
// values, with any per-layer overrides applied on top.
func (s *Store) LayerParams(t motor.LayerType, layer int) motor.LayerParams {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := typePrefix(t)
	p := motor.LayerParams{
		SeparationRotJerk:  s.layerInt(layer, prefix+"SeparationRotJerk"),
		SeparationRotSpeed: s.layerInt(layer, prefix+"SeparationRPM"),
		ApproachRotJerk:    s.layerInt(layer, prefix+"ApproachRotJerk"),
		ApproachRotSpeed:   s.layerInt(layer, prefix+"ApproachRPM"),
		SeparationZJerk:    s.layerInt(layer, prefix+"SeparationZJerk"),
		SeparationZSpeed:   s.layerInt(layer, prefix+"SeparationMicronsPerSec"),
		ApproachZJerk:      s.layerInt(layer, prefix+"ApproachZJerk"),
		ApproachZSpeed:     s.layerInt(layer, prefix+"ApproachMicronsPerSec"),
		RotationMilliDeg:   s.layerInt(layer, prefix+"RotationMilliDegrees"),
		ZLiftMicrons:       s.layerInt(layer, prefix+"ZLiftMicrons"),
		ThicknessMicrons:   s.layerInt(layer, "LayerThicknessMicrons"),
	}
	return p
}

// layerInt reads key, letting a "LayerOverrides.<n>.<key>" entry shadow it.
func (s *Store) layerInt(layer int, key string) int {
	override := fmt.Sprintf("LayerOverrides.%d.%s", layer, key)
	if s.v.IsSet(override) {
		return s.v.GetInt(override)
	}
	return s.v.GetInt(key)
}

func typePrefix(t motor.LayerType) string {
	switch t {
	case motor.First:
		return "First"
	case motor.BurnIn:
		return "BurnIn"
	default:
		return "Model"
	}
}

func setDefaults(v *viper.Viper) {
	// axis geometry
	v.SetDefault("ZStepAngle", 1800)
	v.SetDefault("ZMicronsPerRev", 2000)
	v.SetDefault("ZMicroStep", 6)
	v.SetDefault("RotStepAngle", 1800)
	v.SetDefault("RotMilliDegPerRev", 180000)
	v.SetDefault("RotMicroStep", 6)

	// homing
	v.SetDefault("RotHomingJerk", 100000)
	v.SetDefault("RotHomingSpeed", 5)
	v.SetDefault("RotHomingAngleMilliDeg", -60000)
	v.SetDefault("ZHomingJerk", 500000)
	v.SetDefault("ZHomingSpeed", 5)

	// moving into the start position
	v.SetDefault("RotStartPrintJerk", 100000)
	v.SetDefault("RotStartPrintSpeed", 5)
	v.SetDefault("RotStartPrintAngleMilliDeg", 60000)
	v.SetDefault("ZStartPrintJerk", 500000)
	v.SetDefault("ZStartPrintSpeed", 5)
	v.SetDefault("ZStartPositionMicrons", -165000)
	v.SetDefault("InspectionHeightMicrons", 60000)

	// exposure
	v.SetDefault("BurnInLayers", 2)
	v.SetDefault("FirstExposureSec", 5.0)
	v.SetDefault("BurnInExposureSec", 4.0)
	v.SetDefault("ModelExposureSec", 2.5)

	// engine
	v.SetDefault("HardwareRev", 1)
	v.SetDefault("MotorTimeoutSec", 30)
	v.SetDefault("HomingTimeoutSec", 60)
	v.SetDefault("InspectionRotationMilliDeg", 60000)
	v.SetDefault("LayerThicknessMicrons", 25)
	v.SetDefault("SeparationRPM", 6)

	// per-type layer motion
	for _, prefix := range []string{"First", "BurnIn", "Model"} {
		v.SetDefault(prefix+"SeparationRotJerk", 100000)
		v.SetDefault(prefix+"SeparationRPM", 6)
		v.SetDefault(prefix+"ApproachRotJerk", 100000)
		v.SetDefault(prefix+"ApproachRPM", 6)
		v.SetDefault(prefix+"SeparationZJerk", 500000)
		v.SetDefault(prefix+"SeparationMicronsPerSec", 3000)
		v.SetDefault(prefix+"ApproachZJerk", 500000)
		v.SetDefault(prefix+"ApproachMicronsPerSec", 3000)
		v.SetDefault(prefix+"RotationMilliDegrees", 60000)
		v.SetDefault(prefix+"ZLiftMicrons", 2000)
	}
}
