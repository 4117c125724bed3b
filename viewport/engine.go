package viewport

import (
	"fmt"
	"image"
	"math"
)

// Engine holds the viewport configuration and implements every transform
// on State. It never mutates its input: each method returns the next state,
// or the unchanged state together with an error.
type Engine struct {
	config Config
}

func NewEngine(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{config: config}, nil
}

func (e *Engine) Config() Config {
	return e.config
}

// Fit scales the image so it exactly covers the viewport on its constraining
// axis and centers it on the other one.
func (e *Engine) Fit(meta ImageMetadata) (State, error) {
	if !meta.Valid() {
		return State{}, fmt.Errorf("%w: %dx%d", ErrInvalidImage, meta.Width, meta.Height)
	}

	vw, vh := float64(e.config.Width), float64(e.config.Height)
	iw, ih := float64(meta.Width), float64(meta.Height)

	s := State{Image: meta}
	if iw/ih > vw/vh {
		// wider than the viewport: fill height
		s.Scale = vh / ih
		s.OffsetY = 0
		s.OffsetX = (vw - iw*s.Scale) / 2
	} else {
		s.Scale = vw / iw
		s.OffsetX = 0
		s.OffsetY = (vh - ih*s.Scale) / 2
	}
	s.BaselineScale = s.Scale
	s.SliderValue = 0
	return s, nil
}

// Clamp returns the closest position to (x, y) at which an image of the
// given scale still covers the whole viewport.
func (e *Engine) Clamp(s State, x, y, scale float64) (float64, float64) {
	minX := float64(e.config.Width) - float64(s.Image.Width)*scale
	minY := float64(e.config.Height) - float64(s.Image.Height)*scale
	return math.Min(0, math.Max(x, minX)), math.Min(0, math.Max(y, minY))
}

// PanTo moves the image origin to p, clamped.
func (e *Engine) PanTo(s State, p Point) (State, error) {
	if !s.Loaded() {
		return s, ErrNoImage
	}
	if !p.finite() {
		return s, fmt.Errorf("%w: pan to %v", ErrNonFinite, p)
	}
	s.OffsetX, s.OffsetY = e.Clamp(s, p.X, p.Y, s.Scale)
	return s, nil
}

// Pan translates the image origin by (dx, dy), clamped.
func (e *Engine) Pan(s State, dx, dy float64) (State, error) {
	return e.PanTo(s, Point{X: s.OffsetX + dx, Y: s.OffsetY + dy})
}

// ZoomAt multiplies the scale by factor while keeping the source pixel under
// anchor fixed on screen. A factor that would cross the zoom bounds is
// shortened so the scale lands exactly on the bound.
func (e *Engine) ZoomAt(s State, anchor Point, factor float64) (State, error) {
	if !s.Loaded() {
		return s, ErrNoImage
	}
	if !(factor > 0) || math.IsInf(factor, 0) {
		return s, fmt.Errorf("%w: %v", ErrInvalidFactor, factor)
	}
	if !anchor.finite() {
		return s, fmt.Errorf("%w: zoom anchor %v", ErrNonFinite, anchor)
	}

	minScale := s.BaselineScale
	maxScale := s.BaselineScale * e.config.MaxZoom

	newScale := s.Scale * factor
	switch {
	case newScale < minScale:
		factor = minScale / s.Scale
		newScale = minScale
	case newScale > maxScale:
		factor = maxScale / s.Scale
		newScale = maxScale
	}

	relX := anchor.X - s.OffsetX
	relY := anchor.Y - s.OffsetY

	s.Scale = newScale
	s.OffsetX, s.OffsetY = e.Clamp(s, anchor.X-relX*factor, anchor.Y-relY*factor, s.Scale)
	s.SliderValue = e.sliderFor(s)
	return s, nil
}

// ZoomAtCenter zooms around the middle of the viewport.
func (e *Engine) ZoomAtCenter(s State, factor float64) (State, error) {
	return e.ZoomAt(s, e.config.Center(), factor)
}

// SetSlider zooms around the center so the relative zoom matches slider
// position v (0 = baseline, 100 = max zoom).
func (e *Engine) SetSlider(s State, v float64) (State, error) {
	if !s.Loaded() {
		return s, ErrNoImage
	}
	if math.IsNaN(v) {
		return s, fmt.Errorf("%w: slider value", ErrNonFinite)
	}
	v = math.Max(0, math.Min(100, v))
	return e.ZoomAtCenter(s, e.ZoomFromSlider(v)/s.Zoom())
}

// ZoomFromSlider maps a slider position in [0, 100] to a relative zoom in
// [1, MaxZoom].
func (e *Engine) ZoomFromSlider(v float64) float64 {
	return 1 + (v/100)*(e.config.MaxZoom-1)
}

// SliderFromZoom is the inverse of ZoomFromSlider.
func (e *Engine) SliderFromZoom(z float64) float64 {
	return 100 * (z - 1) / (e.config.MaxZoom - 1)
}

func (e *Engine) sliderFor(s State) float64 {
	return math.Max(0, math.Min(100, e.SliderFromZoom(s.Zoom())))
}

// ToSource maps a viewport point to source image pixel coordinates.
func (e *Engine) ToSource(s State, p Point) Point {
	return Point{X: (p.X - s.OffsetX) / s.Scale, Y: (p.Y - s.OffsetY) / s.Scale}
}

// ToViewport maps a source pixel position to viewport coordinates.
func (e *Engine) ToViewport(s State, p Point) Point {
	return Point{X: p.X*s.Scale + s.OffsetX, Y: p.Y*s.Scale + s.OffsetY}
}

// CropRect is the visible region in source pixel coordinates.
type CropRect struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Side float64 `json:"side"`
}

// Pixels converts the rectangle to whole source pixels. The origin and side
// are truncated, matching a raster surface sized with a fractional side.
// Values within pixelEpsilon of a whole pixel count as that pixel.
func (r CropRect) Pixels() image.Rectangle {
	x, y := floorPixel(r.X), floorPixel(r.Y)
	side := floorPixel(r.Side)
	return image.Rect(x, y, x+side, y+side)
}

const pixelEpsilon = 1e-9

func floorPixel(v float64) int {
	if n := math.Round(v); math.Abs(v-n) < pixelEpsilon {
		return int(n)
	}
	return int(math.Floor(v))
}

func (r CropRect) String() string {
	return fmt.Sprintf("crop(x=%.2f,y=%.2f,side=%.2f)", r.X, r.Y, r.Side)
}

// Crop maps the whole viewport back to source coordinates. For a valid state
// the result lies inside the image; rounding residue is clamped away.
func (e *Engine) Crop(s State) (CropRect, error) {
	if !s.Loaded() {
		return CropRect{}, ErrNoImage
	}
	iw, ih := float64(s.Image.Width), float64(s.Image.Height)

	side := math.Min(float64(e.config.Width)/s.Scale, math.Min(iw, ih))
	x := math.Max(0, math.Min(-s.OffsetX/s.Scale, iw-side))
	y := math.Max(0, math.Min(-s.OffsetY/s.Scale, ih-side))
	return CropRect{X: x, Y: y, Side: side}, nil
}
