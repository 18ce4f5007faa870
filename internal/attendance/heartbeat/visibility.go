package heartbeat

import "sync"

// Visibility is the host's foreground/background signal. Callbacks run on
// the goroutine that changes visibility and must not block.
type Visibility interface {
	OnBecameVisible(fn func()) (unsubscribe func())
	OnBecameHidden(fn func()) (unsubscribe func())
}

// visibleReporter is implemented by signals that know their current state.
type visibleReporter interface {
	Visible() bool
}

// Signal is a host-driven Visibility. It starts visible.
type Signal struct {
	mu        sync.Mutex
	visible   bool
	nextID    int
	onVisible map[int]func()
	onHidden  map[int]func()
}

func NewSignal() *Signal {
	return &Signal{
		visible:   true,
		onVisible: make(map[int]func()),
		onHidden:  make(map[int]func()),
	}
}

func (s *Signal) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// SetVisible records the host state and notifies subscribers on a change.
func (s *Signal) SetVisible(visible bool) {
	s.mu.Lock()
	if s.visible == visible {
		s.mu.Unlock()
		return
	}
	s.visible = visible
	subs := s.onHidden
	if visible {
		subs = s.onVisible
	}
	fns := make([]func(), 0, len(subs))
	for _, fn := range subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Signal) OnBecameVisible(fn func()) func() {
	return s.subscribe(s.onVisible, fn)
}

func (s *Signal) OnBecameHidden(fn func()) func() {
	return s.subscribe(s.onHidden, fn)
}

func (s *Signal) subscribe(subs map[int]func(), fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(subs, id)
	}
}
