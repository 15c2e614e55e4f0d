package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPoint(t *testing.T) {
	p := NewPoint(106.7, 10.8)
	assert.Equal(t, 10.8, p.Lat)
	assert.Equal(t, 106.7, p.Lon)
}

func TestPoint_Validate(t *testing.T) {
	assert.NoError(t, Point{Lat: 90, Lon: -180}.Validate())
	assert.NoError(t, Point{Lat: -90, Lon: 180}.Validate())
	assert.Error(t, Point{Lat: 90.0001, Lon: 0}.Validate())
	assert.Error(t, Point{Lat: 0, Lon: -180.5}.Validate())
}

func TestDistanceMeters(t *testing.T) {
	a := Point{Lat: 10.0, Lon: 106.0}

	t.Run("Latitude delta", func(t *testing.T) {
		b := Point{Lat: 10.001, Lon: 106.0}
		assert.InDelta(t, 111.32, DistanceMeters(a, b), 1e-6)
	})

	t.Run("Diagonal is planar", func(t *testing.T) {
		b := Point{Lat: 10.003, Lon: 106.004}
		assert.InDelta(t, 0.005*MetersPerDegree, DistanceMeters(a, b), 1e-6)
	})

	t.Run("Same point", func(t *testing.T) {
		assert.Equal(t, 0.0, DistanceMeters(a, a))
	})
}
