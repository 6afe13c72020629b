package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/convoy/internal/domain/shared"
)

var (
	hyderabad = Coordinate{Latitude: 17.3850, Longitude: 78.4867}
	gachibowli = Coordinate{Latitude: 17.4401, Longitude: 78.3489}
)

func TestDistance_Symmetric(t *testing.T) {
	pairs := [][2]Coordinate{
		{hyderabad, gachibowli},
		{{0, 0}, {0, 179.9}},
		{{-33.8688, 151.2093}, {51.5074, -0.1278}},
		{{89.9, 10}, {-89.9, -170}},
	}

	for _, p := range pairs {
		assert.InDelta(t, Distance(p[0], p[1]), Distance(p[1], p[0]), 1e-6)
	}
}

func TestDistance_SamePointIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Distance(hyderabad, hyderabad))
	assert.Equal(t, 0.0, Distance(Coordinate{}, Coordinate{}))
}

func TestDistance_KnownFixture(t *testing.T) {
	// Great-circle distance on a 6,371 km sphere
	d := Distance(hyderabad, gachibowli)
	assert.InEpsilon(t, 15850.0, d, 0.01)
}

func TestDistance_OneDegreeOfLatitude(t *testing.T) {
	d := Distance(Coordinate{0, 0}, Coordinate{1, 0})
	assert.InDelta(t, EarthRadiusMeters*math.Pi/180, d, 1e-6)
}

func TestWithinRadius_Boundary(t *testing.T) {
	assert.True(t, WithinRadius(499, 500))
	assert.True(t, WithinRadius(500, 500))
	assert.False(t, WithinRadius(501, 500))
}

func TestGeofence_BoundaryPositions(t *testing.T) {
	tests := []struct {
		meters float64
		inside bool
	}{
		{0, true},
		{499, true},
		{501, false},
		{5000, false},
	}

	for _, tt := range tests {
		fence, err := NewGeofence(hyderabad, DefaultArrivalRadiusMeters, 0)
		require.NoError(t, err)

		ev := fence.Evaluate(Offset(hyderabad, tt.meters, 0))
		assert.InDelta(t, tt.meters, ev.DistanceMeters, 0.01)
		assert.Equal(t, tt.inside, ev.Inside, "at %.0fm", tt.meters)
		assert.Equal(t, tt.inside, ev.Changed)
	}
}

func TestGeofence_FlapsWithoutMargin(t *testing.T) {
	fence, err := NewGeofence(hyderabad, 500, 0)
	require.NoError(t, err)

	in := Offset(hyderabad, 495, 0)
	out := Offset(hyderabad, 505, 0)

	assert.True(t, fence.Evaluate(in).Changed)
	assert.True(t, fence.Evaluate(out).Changed)
	assert.True(t, fence.Evaluate(in).Changed)
	assert.True(t, fence.Inside())
}

func TestGeofence_ExitMarginSuppressesFlapping(t *testing.T) {
	fence, err := NewGeofence(hyderabad, 500, 50)
	require.NoError(t, err)

	ev := fence.Evaluate(Offset(hyderabad, 495, 0))
	assert.True(t, ev.Inside)
	assert.True(t, ev.Changed)

	ev = fence.Evaluate(Offset(hyderabad, 540, 0))
	assert.True(t, ev.Inside, "still inside within the margin")
	assert.False(t, ev.Changed)

	ev = fence.Evaluate(Offset(hyderabad, 560, 0))
	assert.False(t, ev.Inside)
	assert.True(t, ev.Changed)

	// Re-entry uses the plain radius
	ev = fence.Evaluate(Offset(hyderabad, 520, 0))
	assert.False(t, ev.Inside)
	assert.False(t, ev.Changed)
}

func TestNewGeofence_Validation(t *testing.T) {
	_, err := NewGeofence(Coordinate{Latitude: 120}, 500, 0)
	assert.True(t, shared.IsKind(err, shared.KindInvalidCoordinate))

	_, err = NewGeofence(hyderabad, 0, 0)
	assert.True(t, shared.IsKind(err, shared.KindInvalidInput))

	_, err = NewGeofence(hyderabad, 500, -1)
	assert.Error(t, err)
}

func TestParseCoordinate(t *testing.T) {
	c := ParseCoordinate("17.3850", 78.4867)
	assert.Equal(t, hyderabad, c)
	assert.NoError(t, c.Validate())

	missing := ParseCoordinate(nil, "78.1")
	assert.True(t, math.IsNaN(missing.Latitude))
	assert.True(t, shared.IsKind(missing.Validate(), shared.KindInvalidCoordinate))

	garbage := ParseCoordinate("north", "east")
	assert.False(t, garbage.IsValid())
}

func TestNewCoordinate_Range(t *testing.T) {
	_, err := NewCoordinate(-90, 180)
	assert.NoError(t, err)

	_, err = NewCoordinate(-90.1, 0)
	assert.Error(t, err)

	_, err = NewCoordinate(0, 180.5)
	assert.Error(t, err)

	_, err = NewCoordinate(math.Inf(1), 0)
	assert.Error(t, err)
}

func TestFormatDegrees(t *testing.T) {
	assert.Equal(t, "17.385", FormatDegrees(17.385))
	assert.Equal(t, "-0.1278", FormatDegrees(-0.1278))
}
