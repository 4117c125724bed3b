// Package gesture translates raw pointer, touch, wheel and slider input into
// viewport engine calls. An Adapter belongs to one viewport and keeps only the
// transient anchors of the gesture in progress.
package gesture

import (
	"fmt"

	"squarecrop/viewport"
)

// Event is one input step. The concrete types are Pan, Pinch, End, Wheel
// and Slider.
type Event interface {
	isEvent()
	fmt.Stringer
}

// Pan is a single pointer (mouse button held or one touch) at a viewport
// position.
type Pan struct {
	At viewport.Point
}

// Pinch is a two-touch gesture.
type Pinch struct {
	A, B viewport.Point
}

// End is emitted when all pointers are released or leave the viewport.
type End struct{}

// Wheel is a scroll step at the cursor position. Positive DeltaY zooms out.
type Wheel struct {
	At     viewport.Point
	DeltaY float64
}

// Slider is a new zoom slider position in [0, 100].
type Slider struct {
	Value float64
}

func (Pan) isEvent()    {}
func (Pinch) isEvent()  {}
func (End) isEvent()    {}
func (Wheel) isEvent()  {}
func (Slider) isEvent() {}

func (e Pan) String() string    { return "pan" + e.At.String() }
func (e Pinch) String() string  { return "pinch" + e.A.String() + e.B.String() }
func (End) String() string      { return "end" }
func (e Wheel) String() string  { return fmt.Sprintf("wheel%v dy=%.2f", e.At, e.DeltaY) }
func (e Slider) String() string { return fmt.Sprintf("slider(%.2f)", e.Value) }
