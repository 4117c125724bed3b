package main

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"squarecrop/gesture"
	"squarecrop/viewport"
)

// Session is one loaded image in one viewport. Its methods are serialized,
// so every event runs to completion before the next one starts.
type Session struct {
	ID   string
	Name string

	mu      sync.Mutex
	engine  *viewport.Engine
	adapter *gesture.Adapter
	image   image.Image
	state   viewport.State
	closed  bool
}

func NewSession(engine *viewport.Engine, img *LoadedImage) (*Session, error) {
	state, err := engine.Fit(img.Meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageDecodeFailure, err)
	}
	return &Session{
		ID:      uuid.NewString(),
		Name:    img.Name,
		engine:  engine,
		adapter: gesture.NewAdapter(engine),
		image:   img.Image,
		state:   state,
	}, nil
}

// SessionView is the JSON representation of a session.
type SessionView struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Image viewport.ImageMetadata `json:"image"`
	State viewport.State         `json:"state"`
	Crop  viewport.CropRect      `json:"crop"`
}

func (s *Session) View() (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return SessionView{}, ErrSessionNotFound
	}
	crop, err := s.engine.Crop(s.state)
	if err != nil {
		return SessionView{}, err
	}
	return SessionView{
		ID:    s.ID,
		Name:  s.Name,
		Image: s.state.Image,
		State: s.state,
		Crop:  crop,
	}, nil
}

func (s *Session) State() viewport.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// update runs fn against the current state and stores its result only when
// fn succeeds.
func (s *Session) update(fn func(viewport.State) (viewport.State, error)) (viewport.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return viewport.State{}, ErrSessionNotFound
	}
	next, err := fn(s.state)
	if err != nil {
		return s.state, err
	}
	s.state = next
	return next, nil
}

func (s *Session) Handle(ev gesture.Event) (viewport.State, error) {
	return s.update(func(st viewport.State) (viewport.State, error) {
		return s.adapter.Handle(st, ev)
	})
}

func (s *Session) ZoomAt(p viewport.Point, factor float64) (viewport.State, error) {
	return s.update(func(st viewport.State) (viewport.State, error) {
		return s.engine.ZoomAt(st, p, factor)
	})
}

// Reset fits the image again and drops any gesture in progress.
func (s *Session) Reset() (viewport.State, error) {
	return s.update(func(st viewport.State) (viewport.State, error) {
		s.adapter.Reset()
		return s.engine.Fit(st.Image)
	})
}

// Focus keeps the current zoom and centers the viewport on the region the
// focuser picks.
func (s *Session) Focus(ctx context.Context, f *Focuser) (viewport.State, error) {
	s.mu.Lock()
	img := s.image
	s.mu.Unlock()
	if img == nil {
		return viewport.State{}, ErrSessionNotFound
	}

	rect, err := f.BestSquare(ctx, img)
	if err != nil {
		return viewport.State{}, err
	}
	rect = rect.Sub(img.Bounds().Min)

	return s.update(func(st viewport.State) (viewport.State, error) {
		return s.centerOn(st, rect)
	})
}

// centerOn pans st so the middle of rect, in source pixels, sits at the
// viewport center as far as clamping allows. The zoom is kept.
func (s *Session) centerOn(st viewport.State, rect image.Rectangle) (viewport.State, error) {
	target := s.engine.ToViewport(st, viewport.Point{
		X: float64(rect.Min.X+rect.Max.X) / 2,
		Y: float64(rect.Min.Y+rect.Max.Y) / 2,
	})
	d := s.engine.Config().Center().Sub(target)
	return s.engine.Pan(st, d.X, d.Y)
}

func (s *Session) Crop() (viewport.CropRect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return viewport.CropRect{}, ErrSessionNotFound
	}
	return s.engine.Crop(s.state)
}

func (s *Session) Export(ctx context.Context, exporter Exporter, w io.Writer) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	img := s.image
	crop, err := s.engine.Crop(s.state)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return exporter.Export(ctx, img, crop, w)
}

func (s *Session) WritePreview(w io.Writer, r *Renderer) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	img, state := s.image, s.state
	s.mu.Unlock()
	return r.WritePreview(w, img, state)
}

// Close releases the image and the gesture handlers.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.adapter.Reset()
	s.image = nil
	s.state = viewport.State{}
}

const (
	maxSessions = 64
	sessionTTL  = 30 * time.Minute
)

// SessionStore keeps recent sessions; evicted sessions are closed.
type SessionStore struct {
	cache *expirable.LRU[string, *Session]
}

func NewSessionStore(size int, ttl time.Duration) *SessionStore {
	return &SessionStore{
		cache: expirable.NewLRU[string, *Session](size, func(_ string, s *Session) {
			s.Close()
		}, ttl),
	}
}

func (st *SessionStore) Add(s *Session) {
	st.cache.Add(s.ID, s)
}

func (st *SessionStore) Get(id string) (*Session, error) {
	s, ok := st.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (st *SessionStore) Remove(id string) bool {
	return st.cache.Remove(id)
}

func (st *SessionStore) Len() int {
	return st.cache.Len()
}

// Purge closes every session.
func (st *SessionStore) Purge() {
	st.cache.Purge()
}
