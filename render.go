package main

import (
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"squarecrop/viewport"
)

// Renderer draws the viewport as the user sees it.
type Renderer struct {
	config       viewport.Config
	interpolator draw.Interpolator
}

// NewRenderer fails with ErrRenderContextUnavailable when no surface can be
// allocated for the viewport.
func NewRenderer(config viewport.Config) (*Renderer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderContextUnavailable, err)
	}
	return &Renderer{config: config, interpolator: draw.ApproxBiLinear}, nil
}

// Preview draws src with the transform of s into a viewport sized surface.
func (r *Renderer) Preview(src image.Image, s viewport.State) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.config.Width, r.config.Height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if !s.Loaded() {
		return dst
	}

	origin := src.Bounds().Min
	s2d := f64.Aff3{
		s.Scale, 0, s.OffsetX - float64(origin.X)*s.Scale,
		0, s.Scale, s.OffsetY - float64(origin.Y)*s.Scale,
	}
	r.interpolator.Transform(dst, s2d, src, src.Bounds(), draw.Over, nil)
	return dst
}

// WritePreview renders and encodes the preview as PNG.
func (r *Renderer) WritePreview(w io.Writer, src image.Image, s viewport.State) error {
	return imaging.Encode(w, r.Preview(src, s), imaging.PNG, imaging.PNGCompressionLevel(png.BestSpeed))
}
