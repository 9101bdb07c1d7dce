// Package transform computes crop/resize geometry and drives image
// synthesis through ImageMagick. Geometry is pure arithmetic over
// oriented source dimensions; rendering produces either a live output
// stream or an in-memory artifact from the same geometry.
package transform

import (
	"errors"
	"fmt"
	"math"

	"github.com/camber-images/camber/internal/imagereq"
)

// ErrTransformFailure marks a transform that could not produce output:
// unreadable source, zero-dimension source or target.
var ErrTransformFailure = errors.New("transform failed")

// Geometry is the concrete resize/crop plan for one derivative. The
// resize happens first; when Crop is set, a centered CropWidth×CropHeight
// window at (OffsetX, OffsetY) is cut from the resized intermediate.
type Geometry struct {
	ResizeWidth  int
	ResizeHeight int

	Crop       bool
	CropWidth  int
	CropHeight int
	OffsetX    int
	OffsetY    int
}

// ComputeGeometry plans the transform for oriented source dimensions
// and the requested parameters. Orientation metadata must already be
// applied to origWidth/origHeight.
//
// Clip is a single non-uniform resize to the exact target: the
// requested behavior is an exact fit, not letterboxing. Crop scales
// uniformly until one dimension matches and the other over-covers,
// then cuts the overflow centered.
func ComputeGeometry(origWidth, origHeight int, p imagereq.Params) (Geometry, error) {
	if origWidth < 1 || origHeight < 1 {
		return Geometry{}, fmt.Errorf("%w: source dimensions %dx%d", ErrTransformFailure, origWidth, origHeight)
	}
	if p.Width < 1 || p.Height < 1 {
		return Geometry{}, fmt.Errorf("%w: target dimensions %dx%d", ErrTransformFailure, p.Width, p.Height)
	}

	if p.Fit != imagereq.FitCrop {
		return Geometry{ResizeWidth: p.Width, ResizeHeight: p.Height}, nil
	}

	originalRatio := float64(origWidth) / float64(origHeight)
	targetRatio := float64(p.Width) / float64(p.Height)

	g := Geometry{
		Crop:       true,
		CropWidth:  p.Width,
		CropHeight: p.Height,
	}

	if originalRatio > targetRatio {
		// Source is relatively wider: match height, over-cover width,
		// crop a centered horizontal strip.
		factor := float64(origHeight) / float64(p.Height)
		g.ResizeWidth = int(math.Round(float64(origWidth) / factor))
		g.ResizeHeight = p.Height
		g.OffsetX = (g.ResizeWidth - p.Width) / 2
	} else {
		factor := float64(origWidth) / float64(p.Width)
		g.ResizeWidth = p.Width
		g.ResizeHeight = int(math.Round(float64(origHeight) / factor))
		g.OffsetY = (g.ResizeHeight - p.Height) / 2
	}

	if g.ResizeWidth < 1 || g.ResizeHeight < 1 {
		return Geometry{}, fmt.Errorf("%w: degenerate intermediate %dx%d", ErrTransformFailure, g.ResizeWidth, g.ResizeHeight)
	}

	return g, nil
}
