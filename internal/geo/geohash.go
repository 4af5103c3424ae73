// Package geo decodes location tokens (geohashes), measures great-circle
// distance between them and composes distance-aware trade prices.
package geo

import (
	"fmt"
	"strings"

	"github.com/mmcloughlin/geohash"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// DefaultPrecision is the token length used when encoding a location.
const DefaultPrecision = 9

// MaxPrecision is the longest token that fits a 64-bit cell.
const MaxPrecision = 12

// Encode returns the geohash of (lat, lon) at the given precision. A
// non-positive precision uses DefaultPrecision; longer than MaxPrecision
// is capped.
func Encode(lat, lon float64, precision int) string {
	switch {
	case precision <= 0:
		precision = DefaultPrecision
	case precision > MaxPrecision:
		precision = MaxPrecision
	}
	return geohash.EncodeWithPrecision(lat, lon, uint(precision))
}

// Box is the cell a geohash covers.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Center returns the midpoint of the cell.
func (b Box) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// DecodeBox returns the cell covered by token. Tokens are case-insensitive.
func DecodeBox(token string) (Box, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return Box{}, fmt.Errorf("%w: empty", domain.ErrInvalidLocationToken)
	}
	if err := geohash.Validate(token); err != nil {
		return Box{}, fmt.Errorf("%w: %q: %w", domain.ErrInvalidLocationToken, token, err)
	}
	b := geohash.BoundingBox(token)
	return Box{MinLat: b.MinLat, MaxLat: b.MaxLat, MinLon: b.MinLng, MaxLon: b.MaxLng}, nil
}

// Decode returns the centre coordinates of token.
func Decode(token string) (lat, lon float64, err error) {
	b, err := DecodeBox(token)
	if err != nil {
		return 0, 0, err
	}
	lat, lon = b.Center()
	return lat, lon, nil
}
