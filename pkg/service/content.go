package service

import (
	"sync"

	"github.com/manur84/digitalsignage-sub008/pkg/wire"
)

// ContentSource supplies layouts and the display payloads devices
// render. The actual content pipeline lives outside the coordination
// layer; this is the seam it plugs into.
type ContentSource interface {
	// Layouts returns the assignable layouts.
	Layouts() []wire.LayoutInfo

	// Layout resolves a layout id.
	Layout(layoutID string) (wire.LayoutInfo, bool)

	// DisplayContent returns the display payload for a layout.
	DisplayContent(layoutID string) map[string]any
}

// StaticContentSource serves a fixed layout set from memory. Useful for
// tests and deployments where content is provisioned out of band.
type StaticContentSource struct {
	mu      sync.RWMutex
	layouts []wire.LayoutInfo
	content map[string]map[string]any
}

var _ ContentSource = (*StaticContentSource)(nil)

// NewStaticContentSource creates an empty source.
func NewStaticContentSource() *StaticContentSource {
	return &StaticContentSource{content: make(map[string]map[string]any)}
}

// AddLayout registers a layout and its display payload.
func (s *StaticContentSource) AddLayout(info wire.LayoutInfo, content map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.layouts {
		if existing.LayoutID == info.LayoutID {
			s.layouts[i] = info
			s.content[info.LayoutID] = content
			return
		}
	}
	s.layouts = append(s.layouts, info)
	s.content[info.LayoutID] = content
}

// Layouts implements ContentSource.
func (s *StaticContentSource) Layouts() []wire.LayoutInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]wire.LayoutInfo, len(s.layouts))
	copy(out, s.layouts)
	return out
}

// Layout implements ContentSource.
func (s *StaticContentSource) Layout(layoutID string) (wire.LayoutInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, info := range s.layouts {
		if info.LayoutID == layoutID {
			return info, true
		}
	}
	return wire.LayoutInfo{}, false
}

// DisplayContent implements ContentSource.
func (s *StaticContentSource) DisplayContent(layoutID string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.content[layoutID]
}
