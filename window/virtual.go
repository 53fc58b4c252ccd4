package window

import "sync"

// VirtualFactory creates headless surfaces that only track state. External
// renderers mirror them through OnChange.
type VirtualFactory struct {
	Sizes map[Kind]Size

	// OnChange is called after every state change, outside the surface lock.
	OnChange func(State)
}

// Create returns a hidden surface at the origin with the configured size.
func (f *VirtualFactory) Create(kind Kind) (Surface, error) {
	size := f.Sizes[kind]
	s := &VirtualSurface{
		kind:     kind,
		bounds:   Rect{Width: size.Width, Height: size.Height},
		onChange: f.OnChange,
	}
	return s, nil
}

// VirtualSurface is a Surface with no native window behind it.
type VirtualSurface struct {
	mu        sync.Mutex
	kind      Kind
	bounds    Rect
	visible   bool
	destroyed bool
	onChange  func(State)
}

func (s *VirtualSurface) Show() {
	s.update(func() bool {
		changed := !s.visible
		s.visible = true
		return changed
	})
}

func (s *VirtualSurface) Hide() {
	s.update(func() bool {
		changed := s.visible
		s.visible = false
		return changed
	})
}

func (s *VirtualSurface) SetPosition(x, y int) {
	s.update(func() bool {
		changed := s.bounds.X != x || s.bounds.Y != y
		s.bounds.X, s.bounds.Y = x, y
		return changed
	})
}

func (s *VirtualSurface) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.visible = false
	state := s.stateLocked()
	s.mu.Unlock()
	s.notify(state)
}

func (s *VirtualSurface) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

func (s *VirtualSurface) Bounds() Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds
}

func (s *VirtualSurface) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// State returns the surface state.
func (s *VirtualSurface) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *VirtualSurface) stateLocked() State {
	return State{Kind: s.kind, Exists: !s.destroyed, Visible: s.visible, Bounds: s.bounds}
}

// update applies fn unless the surface is destroyed and notifies when fn
// reports a change.
func (s *VirtualSurface) update(fn func() bool) {
	s.mu.Lock()
	if s.destroyed || !fn() {
		s.mu.Unlock()
		return
	}
	state := s.stateLocked()
	s.mu.Unlock()
	s.notify(state)
}

func (s *VirtualSurface) notify(state State) {
	if s.onChange != nil {
		s.onChange(state)
	}
}
