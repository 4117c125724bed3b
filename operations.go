package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"squarecrop/gesture"
	"squarecrop/viewport"
)

type Operations = []Operation

// Operation is one step applied to a session. Gesture input is carried as
// Event; the remaining kinds act on the engine directly.
type Operation struct {
	Type  string
	Event gesture.Event
	Zoom  *ZoomOperation
}

type ZoomOperation struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Factor float64 `json:"factor"`
}

// unmarshal
func (o *Operation) UnmarshalJSON(data []byte) error {
	var op struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &op); err != nil {
		return fmt.Errorf("failed to unmarshal operation: %w", err)
	}

	o.Type = op.Type
	switch op.Type {
	case "pan":
		var p viewport.Point
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("failed to unmarshal pan operation: %w", err)
		}
		o.Event = gesture.Pan{At: p}
	case "pinch":
		var pinch struct {
			A viewport.Point `json:"a"`
			B viewport.Point `json:"b"`
		}
		if err := json.Unmarshal(data, &pinch); err != nil {
			return fmt.Errorf("failed to unmarshal pinch operation: %w", err)
		}
		o.Event = gesture.Pinch{A: pinch.A, B: pinch.B}
	case "end":
		o.Event = gesture.End{}
	case "wheel":
		var wheel struct {
			X      float64 `json:"x"`
			Y      float64 `json:"y"`
			DeltaY float64 `json:"delta_y"`
		}
		if err := json.Unmarshal(data, &wheel); err != nil {
			return fmt.Errorf("failed to unmarshal wheel operation: %w", err)
		}
		o.Event = gesture.Wheel{At: viewport.Point{X: wheel.X, Y: wheel.Y}, DeltaY: wheel.DeltaY}
	case "slider":
		var slider struct {
			Value *float64 `json:"value"`
		}
		if err := json.Unmarshal(data, &slider); err != nil {
			return fmt.Errorf("failed to unmarshal slider operation: %w", err)
		}
		if slider.Value == nil {
			return errors.New("slider operation without value")
		}
		o.Event = gesture.Slider{Value: *slider.Value}
	case "zoom", "zoom_center":
		var zoom ZoomOperation
		if err := json.Unmarshal(data, &zoom); err != nil {
			return fmt.Errorf("failed to unmarshal %s operation: %w", op.Type, err)
		}
		o.Zoom = &zoom
	case "reset", "focus":
	default:
		return fmt.Errorf("unknown operation %q", op.Type)
	}
	return nil
}

func (o Operation) String() string {
	switch {
	case o.Event != nil:
		return o.Event.String()
	case o.Zoom != nil:
		return fmt.Sprintf("%s(%.2f,%.2f x%.3f)", o.Type, o.Zoom.X, o.Zoom.Y, o.Zoom.Factor)
	default:
		return o.Type
	}
}

// Apply runs op against the session.
func (s *Session) Apply(ctx context.Context, op Operation, focuser *Focuser) (viewport.State, error) {
	return s.ApplyAll(ctx, Operations{op}, focuser)
}

// ApplyAll runs ops in order and commits the result only when every op
// succeeds. On failure the session keeps its state and any gesture in
// progress, and the error names the index of the failing op.
func (s *Session) ApplyAll(ctx context.Context, ops Operations, focuser *Focuser) (viewport.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return viewport.State{}, ErrSessionNotFound
	}

	saved := *s.adapter
	st := s.state
	for i, op := range ops {
		next, err := s.step(ctx, st, op, focuser)
		if err != nil {
			*s.adapter = saved
			return s.state, fmt.Errorf("operation %d %v: %w", i, op, err)
		}
		st = next
	}
	s.state = st
	return st, nil
}

// step applies op to st without storing the result. Callers hold s.mu.
func (s *Session) step(ctx context.Context, st viewport.State, op Operation, focuser *Focuser) (viewport.State, error) {
	switch op.Type {
	case "zoom", "zoom_center":
		if op.Zoom == nil {
			return st, fmt.Errorf("%w: %s without factor", ErrInvalidOperation, op.Type)
		}
		if op.Type == "zoom_center" {
			return s.engine.ZoomAtCenter(st, op.Zoom.Factor)
		}
		return s.engine.ZoomAt(st, viewport.Point{X: op.Zoom.X, Y: op.Zoom.Y}, op.Zoom.Factor)
	case "reset":
		s.adapter.Reset()
		return s.engine.Fit(st.Image)
	case "focus":
		if focuser == nil {
			return st, fmt.Errorf("%w: focus is not available", ErrInvalidOperation)
		}
		rect, err := focuser.BestSquare(ctx, s.image)
		if err != nil {
			return st, err
		}
		return s.centerOn(st, rect.Sub(s.image.Bounds().Min))
	}
	if op.Event == nil {
		return st, fmt.Errorf("%w: unknown operation %q", ErrInvalidOperation, op.Type)
	}
	return s.adapter.Handle(st, op.Event)
}

// readOperations parses one JSON operation per line. Blank lines and lines
// starting with # are skipped.
func readOperations(r io.Reader) (Operations, error) {
	var ops Operations
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var op Operation
		if err := json.Unmarshal([]byte(text), &op); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read operations: %w", err)
	}
	return ops, nil
}

// CropResult describes one exported image.
type CropResult struct {
	Filename string            `json:"filename"`
	Output   string            `json:"output,omitempty"`
	Crop     viewport.CropRect `json:"crop"`
	State    viewport.State    `json:"state"`
}

// CropExecutor replays the same operations against several images and
// exports each visible region.
type CropExecutor struct {
	Engine    *viewport.Engine
	Exporter  Exporter
	Focuser   *Focuser
	OutputDir string
	Focus     bool
	DryRun    bool
}

func (r CropExecutor) Exec(ctx context.Context, files []string, ops Operations) ([]CropResult, error) {
	if len(files) == 0 {
		log.Ctx(ctx).Warn().Msg("no images to crop")
		return nil, nil
	}

	if !r.DryRun {
		if err := os.MkdirAll(r.OutputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", r.OutputDir, err)
		}
	}

	outputs := outputNames(r.OutputDir, files)
	results := make([]CropResult, len(files))
	pooler := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(runtime.NumCPU())
	for i, file := range files {
		pooler.Go(func(ctx context.Context) error {
			res, err := r.cropFile(ctx, file, outputs[i], ops)
			if err != nil {
				log.Ctx(ctx).Error().Err(err).
					Str("filename", file).
					Msg("failed to crop image")
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := pooler.Wait(); err != nil {
		log.Ctx(ctx).Error().
			Err(err).
			Msg("finished with errors")
		return results, err
	}

	return results, nil
}

func (r CropExecutor) cropFile(ctx context.Context, file, output string, ops Operations) (CropResult, error) {
	log.Ctx(ctx).Info().Str("filename", file).Msg("cropping")

	img, err := openImage(ctx, filepath.Dir(file), filepath.Base(file))
	if err != nil {
		return CropResult{}, err
	}
	session, err := NewSession(r.Engine, img)
	if err != nil {
		return CropResult{}, err
	}
	defer session.Close()

	if r.Focus {
		if _, err := session.Focus(ctx, r.Focuser); err != nil {
			return CropResult{}, fmt.Errorf("failed to focus %s: %w", file, err)
		}
	}
	if _, err := session.ApplyAll(ctx, ops, r.Focuser); err != nil {
		return CropResult{}, fmt.Errorf("failed to apply operations to %s: %w", file, err)
	}

	crop, err := session.Crop()
	if err != nil {
		return CropResult{}, err
	}
	res := CropResult{Filename: file, Crop: crop, State: session.State()}
	if r.DryRun {
		return res, nil
	}

	res.Output = output
	wf, err := os.Create(res.Output)
	if err != nil {
		return CropResult{}, fmt.Errorf("failed to create cropped file %s: %w", res.Output, err)
	}
	defer wf.Close()
	if err := session.Export(ctx, r.Exporter, wf); err != nil {
		return CropResult{}, fmt.Errorf("failed to export %s: %w", file, err)
	}
	return res, nil
}

// outputNames assigns every input a distinct <name>-cropped.png in dir.
// Inputs sharing a base name get a numeric suffix in input order.
func outputNames(dir string, files []string) []string {
	names := make([]string, len(files))
	used := make(map[string]bool, len(files))
	for i, file := range files {
		base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		name := base
		for n := 2; used[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s-%d", base, n)
		}
		used[strings.ToLower(name)] = true
		names[i] = filepath.Join(dir, name+"-cropped.png")
	}
	return names
}
