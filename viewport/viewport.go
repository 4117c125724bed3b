package viewport

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidConfig = errors.New("invalid viewport config")
	ErrInvalidImage  = errors.New("invalid image dimensions")
	ErrInvalidFactor = errors.New("invalid zoom factor")
	ErrNonFinite     = errors.New("non-finite coordinate")
	ErrNoImage       = errors.New("no image loaded")
)

const (
	DefaultSide      = 400
	DefaultMaxZoom   = 3.0
	DefaultZoomSpeed = 0.1
)

// Config describes the fixed square viewport the image is shown in.
type Config struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	MaxZoom   float64 `json:"max_zoom"`
	ZoomSpeed float64 `json:"zoom_speed"`
}

func DefaultConfig() Config {
	return Config{
		Width:     DefaultSide,
		Height:    DefaultSide,
		MaxZoom:   DefaultMaxZoom,
		ZoomSpeed: DefaultZoomSpeed,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: size %dx%d must be positive", ErrInvalidConfig, c.Width, c.Height)
	case c.Width != c.Height:
		return fmt.Errorf("%w: viewport must be square, got %dx%d", ErrInvalidConfig, c.Width, c.Height)
	case !(c.MaxZoom > 1) || math.IsInf(c.MaxZoom, 0):
		return fmt.Errorf("%w: max zoom %v must be greater than 1", ErrInvalidConfig, c.MaxZoom)
	case !(c.ZoomSpeed > 0 && c.ZoomSpeed < 1):
		return fmt.Errorf("%w: zoom speed %v must be in (0, 1)", ErrInvalidConfig, c.ZoomSpeed)
	}
	return nil
}

// Center returns the middle of the viewport.
func (c Config) Center() Point {
	return Point{X: float64(c.Width) / 2, Y: float64(c.Height) / 2}
}

// ImageMetadata holds the source pixel dimensions of the loaded image.
type ImageMetadata struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (m ImageMetadata) Valid() bool {
	return m.Width > 0 && m.Height > 0
}

// Point is a position in viewport coordinates unless stated otherwise.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Mid returns the point halfway between p and q.
func (p Point) Mid(q Point) Point {
	return Point{X: (p.X + q.X) / 2, Y: (p.Y + q.Y) / 2}
}

// Dist returns the euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

func (p Point) finite() bool {
	return isFinite(p.X) && isFinite(p.Y)
}

func (p Point) String() string {
	return fmt.Sprintf("(%.2f,%.2f)", p.X, p.Y)
}

// State is the transform of one loaded image inside the viewport.
//
// Scale maps source pixels to viewport pixels and (OffsetX, OffsetY) is the
// top-left corner of the scaled image in viewport coordinates. Every Engine
// method returns a State for which the image covers the whole viewport and
// Scale stays within [BaselineScale, BaselineScale*MaxZoom].
type State struct {
	Image         ImageMetadata `json:"image"`
	Scale         float64       `json:"scale"`
	OffsetX       float64       `json:"offset_x"`
	OffsetY       float64       `json:"offset_y"`
	BaselineScale float64       `json:"baseline_scale"`
	SliderValue   float64       `json:"slider_value"`
}

// Loaded reports whether the state belongs to an image.
func (s State) Loaded() bool {
	return s.Image.Valid() && s.BaselineScale > 0
}

// Offset returns the image origin as a point.
func (s State) Offset() Point {
	return Point{X: s.OffsetX, Y: s.OffsetY}
}

// Zoom is the current scale relative to the baseline.
func (s State) Zoom() float64 {
	return s.Scale / s.BaselineScale
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
