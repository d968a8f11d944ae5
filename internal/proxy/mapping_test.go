package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/metrobridge/metrobridge/pkg/models"
)

func TestMappingRoundTrip(t *testing.T) {
	m := NewMapping([]models.MappingEntry{appMapping()})

	device, ok := m.SourceToDevice(models.Location{URL: "App.js", Line: 10})
	assert.True(t, ok)
	assert.Equal(t, "http://localhost:8081/index.bundle", device.URL)
	assert.Equal(t, 1542, device.Line)

	source, ok := m.DeviceToSource(device)
	assert.True(t, ok)
	assert.Equal(t, models.Location{URL: "App.js", Line: 10}, source)
}

func TestMappingMiss(t *testing.T) {
	m := NewMapping(nil)

	_, ok := m.SourceToDevice(models.Location{URL: "App.js", Line: 10})
	assert.False(t, ok)

	m.Add(appMapping())
	_, ok = m.SourceToDevice(models.Location{URL: "App.js", Line: 10})
	assert.True(t, ok)
	_, ok = m.SourceToDevice(models.Location{URL: "App.js", Line: 11})
	assert.False(t, ok)
}
