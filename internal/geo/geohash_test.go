package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

func TestEncode_KnownValues(t *testing.T) {
	assert.Equal(t, "u4pruydqqvj", Encode(57.64911, 10.40744, 11))
	assert.Equal(t, "ezs42", Encode(42.605, -5.603, 5))
	assert.Len(t, Encode(12.97, 77.59, 0), DefaultPrecision)
	assert.Len(t, Encode(12.97, 77.59, 20), MaxPrecision)
}

func TestDecode_CellCentre(t *testing.T) {
	lat, lon, err := Decode("ezs42")
	require.NoError(t, err)
	assert.InDelta(t, 42.605, lat, 0.01)
	assert.InDelta(t, -5.603, lon, 0.01)

	upper, _, err := Decode("EZS42")
	require.NoError(t, err)
	assert.Equal(t, lat, upper)
}

func TestDecode_RoundTripWithinCell(t *testing.T) {
	points := [][2]float64{
		{28.6139, 77.2090},
		{-33.8688, 151.2093},
		{0, 0},
		{89.9, -179.9},
	}
	for _, p := range points {
		token := Encode(p[0], p[1], DefaultPrecision)
		box, err := DecodeBox(token)
		require.NoError(t, err)
		assert.True(t, p[0] >= box.MinLat && p[0] <= box.MaxLat, "lat %v outside %+v", p[0], box)
		assert.True(t, p[1] >= box.MinLon && p[1] <= box.MaxLon, "lon %v outside %+v", p[1], box)
	}
}

func TestDecode_Invalid(t *testing.T) {
	for _, token := range []string{"", "   ", "abc!", "ezsa2", "ilo", "ezs42ezs42ezs4"} {
		_, _, err := Decode(token)
		assert.ErrorIs(t, err, domain.ErrInvalidLocationToken, "token %q", token)
	}
}
