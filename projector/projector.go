// Package projector drives the light engine. It stages per-layer slice
// images from the print data directory and presents them through an Output.
package projector

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// layerImagePattern names the slice image for a 1-based layer index.
const layerImagePattern = "slice_%d.png"

// Output is the presentation sink: a framebuffer, a projector device, or a
// null device for headless operation.
type Output interface {
	Present(img image.Image) error
	Blank() error
	SetPowered(on bool)
}

// NullOutput discards everything. Used for bench runs without a projector.
type NullOutput struct{}

func (NullOutput) Present(image.Image) error { return nil }
func (NullOutput) Blank() error              { return nil }
func (NullOutput) SetPowered(bool)           {}

// Projector stages and shows layer images.
type Projector struct {
	dir string
	out Output
	log *logrus.Logger

	staged image.Image
}

// New creates a projector over a print data directory. Passing a nil output
// selects NullOutput.
func New(dir string, out Output, log *logrus.Logger) *Projector {
	if out == nil {
		out = NullOutput{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Projector{dir: dir, out: out, log: log}
}

// SetDataDir repoints the projector at a new print data directory and drops
// any staged image.
func (p *Projector) SetDataDir(dir string) {
	p.dir = dir
	p.staged = nil
}

// NumLayers counts the contiguous run of slice images starting at layer 1.
// A gap ends the print there; later files are unreachable.
func (p *Projector) NumLayers() int {
	n := 0
	for {
		path := filepath.Join(p.dir, fmt.Sprintf(layerImagePattern, n+1))
		if _, err := os.Stat(path); err != nil {
			return n
		}
		n++
	}
}

// LoadImageForLayer decodes and stages the slice image for layer.
func (p *Projector) LoadImageForLayer(layer int) error {
	path := filepath.Join(p.dir, fmt.Sprintf(layerImagePattern, layer))
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("layer %d: %w", layer, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return fmt.Errorf("layer %d: decode %s: %w", layer, path, err)
	}
	p.staged = img
	return nil
}

// ShowImage presents the staged image.
func (p *Projector) ShowImage() error {
	if p.staged == nil {
		return fmt.Errorf("no image staged")
	}
	return p.out.Present(p.staged)
}

// ShowBlack blanks the output and drops the staged image.
func (p *Projector) ShowBlack() error {
	p.staged = nil
	return p.out.Blank()
}

// ShowTestPattern presents a checkerboard for focus and alignment checks.
func (p *Projector) ShowTestPattern() error {
	return p.out.Present(testPattern(1280, 800, 80))
}

// SetPowered turns the light engine on or off.
func (p *Projector) SetPowered(on bool) {
	p.log.WithField("on", on).Info("projector power")
	p.out.SetPowered(on)
}

func testPattern(w, h, square int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ((x/square)+(y/square))%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 0xFF})
			}
		}
	}
	return img
}
