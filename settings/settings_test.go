package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resinworks/sled/motor"
)

func TestOpen_createsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	s, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Int("BurnInLayers"))
	assert.Equal(t, 5.0, s.Float("FirstExposureSec"))

	// the file was written; a second open reads it back
	s2, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, s.Int("LayerThicknessMicrons"), s2.Int("LayerThicknessMicrons"))
}

func TestStore_saveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	s, err := Open(path)
	require.NoError(t, err)

	s.Set("ModelExposureSec", 3.25)
	s.Set("SeparationRPM", 4)
	require.NoError(t, s.Save())

	s2, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 3.25, s2.Float("ModelExposureSec"))
	assert.Equal(t, 4, s2.Int("SeparationRPM"))
}

func TestStore_LayerParams(t *testing.T) {
	s := NewFromDefaults()
	s.Set("FirstSeparationRPM", 3)
	s.Set("ModelSeparationRPM", 8)
	s.Set("LayerThicknessMicrons", 50)

	p := s.LayerParams(motor.First, 1)
	assert.Equal(t, 3, p.SeparationRotSpeed)
	assert.Equal(t, 50, p.ThicknessMicrons)

	p = s.LayerParams(motor.Model, 7)
	assert.Equal(t, 8, p.SeparationRotSpeed)
}

func TestStore_layerOverrides(t *testing.T) {
	s := NewFromDefaults()
	s.Set("ModelZLiftMicrons", 2000)
	s.Set("LayerOverrides.5.ModelZLiftMicrons", 4000)

	assert.Equal(t, 2000, s.LayerParams(motor.Model, 4).ZLiftMicrons)
	assert.Equal(t, 4000, s.LayerParams(motor.Model, 5).ZLiftMicrons)
	assert.Equal(t, 2000, s.LayerParams(motor.Model, 6).ZLiftMicrons)
}

func TestStore_saveWithoutFile(t *testing.T) {
	s := NewFromDefaults()
	assert.Error(t, s.Save())
}
