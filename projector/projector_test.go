package projector

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingOutput struct {
	presented []image.Image
	blanks    int
	powered   bool
}

func (o *recordingOutput) Present(img image.Image) error {
	o.presented = append(o.presented, img)
	return nil
}
func (o *recordingOutput) Blank() error       { o.blanks++; return nil }
func (o *recordingOutput) SetPowered(on bool) { o.powered = on }

func writeSlices(t *testing.T, dir string, layers ...int) {
	t.Helper()
	for _, n := range layers {
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("slice_%d.png", n)))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 4, 4))))
		require.NoError(t, f.Close())
	}
}

func TestProjector_NumLayers(t *testing.T) {
	dir := t.TempDir()
	out := &recordingOutput{}
	p := New(dir, out, nil)

	assert.Equal(t, 0, p.NumLayers())

	writeSlices(t, dir, 1, 2, 3)
	assert.Equal(t, 3, p.NumLayers())

	// a gap ends the print there
	writeSlices(t, dir, 5)
	assert.Equal(t, 3, p.NumLayers())
}

func TestProjector_showAndBlank(t *testing.T) {
	dir := t.TempDir()
	out := &recordingOutput{}
	p := New(dir, out, nil)
	writeSlices(t, dir, 1)

	// nothing staged yet
	assert.Error(t, p.ShowImage())

	require.NoError(t, p.LoadImageForLayer(1))
	require.NoError(t, p.ShowImage())
	assert.Len(t, out.presented, 1)

	require.NoError(t, p.ShowBlack())
	assert.Equal(t, 1, out.blanks)

	// blanking drops the staged image
	assert.Error(t, p.ShowImage())
}

func TestProjector_missingLayer(t *testing.T) {
	p := New(t.TempDir(), &recordingOutput{}, nil)
	assert.Error(t, p.LoadImageForLayer(1))
}

func TestProjector_testPattern(t *testing.T) {
	out := &recordingOutput{}
	p := New(t.TempDir(), out, nil)

	require.NoError(t, p.ShowTestPattern())
	require.Len(t, out.presented, 1)

	img := out.presented[0]
	assert.Equal(t, image.Rect(0, 0, 1280, 800), img.Bounds())
}

func TestProjector_SetPowered(t *testing.T) {
	out := &recordingOutput{}
	p := New(t.TempDir(), out, nil)

	p.SetPowered(true)
	assert.True(t, out.powered)
	p.SetPowered(false)
	assert.False(t, out.powered)
}
