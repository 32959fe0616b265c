package overlay

import (
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
)

// Manager handles overlay widgets and rendering. Widgets draw in the order they
// were added.
type Manager struct {
	mu      sync.RWMutex
	widgets []Widget
	enabled bool
}

// NewManager creates a new overlay manager
func NewManager() *Manager {
	return &Manager{enabled: true}
}

func (m *Manager) indexLocked(id string) int {
	for i, w := range m.widgets {
		if w.ID() == id {
			return i
		}
	}
	return -1
}

// AddWidget adds a widget on top of the existing ones.
func (m *Manager) AddWidget(widget Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexLocked(widget.ID()) >= 0 {
		return fmt.Errorf("widget with ID %s already exists", widget.ID())
	}
	m.widgets = append(m.widgets, widget)
	logger.WithComponent("overlay").Debug().
		Str("widget", widget.ID()).
		Str("type", widget.Type()).
		Msg("Added widget")
	return nil
}

// RemoveWidget removes a widget and stops it if it polls.
func (m *Manager) RemoveWidget(id string) error {
	m.mu.Lock()
	i := m.indexLocked(id)
	if i < 0 {
		m.mu.Unlock()
		return fmt.Errorf("widget with ID %s not found", id)
	}
	w := m.widgets[i]
	m.widgets = append(m.widgets[:i], m.widgets[i+1:]...)
	m.mu.Unlock()

	if s, ok := w.(Stopper); ok {
		s.Stop()
	}
	logger.WithComponent("overlay").Debug().Str("widget", id).Msg("Removed widget")
	return nil
}

// GetWidget retrieves a widget by ID
func (m *Manager) GetWidget(id string) (Widget, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.indexLocked(id); i >= 0 {
		return m.widgets[i], true
	}
	return nil, false
}

// Widgets returns the widgets in draw order.
func (m *Manager) Widgets() []Widget {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Widget(nil), m.widgets...)
}

// SetEnabled enables or disables the entire overlay
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Render draws every enabled widget onto img. A failing widget is logged and
// skipped.
func (m *Manager) Render(img *image.RGBA) error {
	if !m.IsEnabled() {
		return nil
	}
	for _, w := range m.Widgets() {
		if !w.IsEnabled() {
			continue
		}
		if err := w.Render(img); err != nil {
			logger.WithComponent("overlay").Warn().Err(err).Str("widget", w.ID()).Msg("Failed to render widget")
		}
	}
	return nil
}

// Clear removes all widgets, stopping pollers.
func (m *Manager) Clear() {
	m.mu.Lock()
	widgets := m.widgets
	m.widgets = nil
	m.mu.Unlock()

	for _, w := range widgets {
		if s, ok := w.(Stopper); ok {
			s.Stop()
		}
	}
}
