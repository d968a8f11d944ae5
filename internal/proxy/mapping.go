package proxy

import (
	"sync"

	"github.com/metrobridge/metrobridge/pkg/models"
)

type locKey struct {
	url  string
	line int
}

// Mapping is the known source↔device coordinate relationship for one session.
// The proxy consults it in both directions: source→device when forwarding
// breakpoint placement, device→source when forwarding pause and console
// events back to the client.
type Mapping struct {
	mu       sync.RWMutex
	bySource map[locKey]models.Location
	byDevice map[locKey]models.Location
}

func NewMapping(entries []models.MappingEntry) *Mapping {
	m := &Mapping{
		bySource: make(map[locKey]models.Location),
		byDevice: make(map[locKey]models.Location),
	}
	for _, e := range entries {
		m.Add(e)
	}
	return m
}

// Add registers one coordinate pair
func (m *Mapping) Add(e models.MappingEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySource[locKey{e.Source.URL, e.Source.Line}] = e.Device
	m.byDevice[locKey{e.Device.URL, e.Device.Line}] = e.Source
}

// SourceToDevice maps an editor-side coordinate to its device coordinate
func (m *Mapping) SourceToDevice(l models.Location) (models.Location, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.bySource[locKey{l.URL, l.Line}]
	return d, ok
}

// DeviceToSource maps a device coordinate back to its editor-side coordinate
func (m *Mapping) DeviceToSource(l models.Location) (models.Location, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byDevice[locKey{l.URL, l.Line}]
	return s, ok
}
