package gesture

import (
	"fmt"

	"squarecrop/viewport"
)

// Adapter dispatches events to an Engine. It is not safe for concurrent use;
// callers feed it one event at a time.
type Adapter struct {
	engine *viewport.Engine

	dragging     bool
	anchorPoint  viewport.Point
	anchorOffset viewport.Point

	// previous finger distance of the pinch in progress, 0 when none
	pinchDistance float64
}

func NewAdapter(engine *viewport.Engine) *Adapter {
	return &Adapter{engine: engine}
}

// Handle applies ev to s and returns the resulting state. On error the
// returned state is s.
func (a *Adapter) Handle(s viewport.State, ev Event) (viewport.State, error) {
	switch ev := ev.(type) {
	case Pan:
		return a.pan(s, ev)
	case Pinch:
		return a.pinch(s, ev)
	case End:
		a.Reset()
		return s, nil
	case Wheel:
		return a.wheel(s, ev)
	case Slider:
		return a.engine.SetSlider(s, ev.Value)
	case nil:
		return s, fmt.Errorf("nil event")
	default:
		return s, fmt.Errorf("unsupported event %T", ev)
	}
}

// Reset drops any gesture in progress.
func (a *Adapter) Reset() {
	a.dragging = false
	a.anchorPoint = viewport.Point{}
	a.anchorOffset = viewport.Point{}
	a.pinchDistance = 0
}

// Dragging reports whether a pan gesture is in progress.
func (a *Adapter) Dragging() bool {
	return a.dragging
}

// Pinching reports whether a pinch gesture is in progress.
func (a *Adapter) Pinching() bool {
	return a.pinchDistance > 0
}

func (a *Adapter) pan(s viewport.State, ev Pan) (viewport.State, error) {
	if !s.Loaded() {
		return s, viewport.ErrNoImage
	}
	if !a.dragging {
		// first pointer position of the gesture, or a finger lifted off a pinch
		a.pinchDistance = 0
		a.dragging = true
		a.anchorPoint = ev.At
		a.anchorOffset = s.Offset()
		return s, nil
	}
	return a.engine.PanTo(s, ev.At.Sub(a.anchorPoint).Add(a.anchorOffset))
}

func (a *Adapter) pinch(s viewport.State, ev Pinch) (viewport.State, error) {
	if !s.Loaded() {
		return s, viewport.ErrNoImage
	}
	a.dragging = false

	distance := ev.A.Dist(ev.B)
	if distance == 0 {
		return s, nil
	}
	if a.pinchDistance == 0 {
		a.pinchDistance = distance
		return s, nil
	}

	factor := distance / a.pinchDistance
	next, err := a.engine.ZoomAt(s, ev.A.Mid(ev.B), factor)
	if err != nil {
		return s, err
	}
	a.pinchDistance = distance
	return next, nil
}

func (a *Adapter) wheel(s viewport.State, ev Wheel) (viewport.State, error) {
	speed := a.engine.Config().ZoomSpeed
	switch {
	case ev.DeltaY > 0:
		return a.engine.ZoomAt(s, ev.At, 1-speed)
	case ev.DeltaY < 0:
		return a.engine.ZoomAt(s, ev.At, 1+speed)
	default:
		return s, nil
	}
}
