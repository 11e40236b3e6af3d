//go:build synthetic

package nmea

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticGGA_DefaultPlaceholder(t *testing.T) {
	now := time.Date(2024, 5, 1, 14, 8, 16, 0, time.UTC)
	got := SyntheticGGA(now, DefaultSyntheticLat, DefaultSyntheticLon, DefaultSyntheticAlt)
	assert.Equal(t, "$GPGGA,140816,5500.00,N,01400.00,E,4,10,1,200,M,1,M,7,0*62", got)
}

func TestSyntheticGGA_ZeroPadsTimeOfDay(t *testing.T) {
	now := time.Date(2024, 5, 1, 3, 4, 5, 0, time.UTC)
	got := SyntheticGGA(now, DefaultSyntheticLat, DefaultSyntheticLon, DefaultSyntheticAlt)
	assert.Contains(t, got, "$GPGGA,030405,")

	_, err := Parse(got)
	require.NoError(t, err)
}

func TestSyntheticGGA_RoundTripsThroughParseGGA(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got := SyntheticGGA(now, -33.8675, -151.2, 58.5)

	fix, err := ParseGGA(got)
	require.NoError(t, err)
	assert.Equal(t, 4, fix.Quality)
	assert.InDelta(t, -33.8675, fix.LatDeg, 1e-3)
	assert.InDelta(t, -151.2, fix.LonDeg, 1e-3)
	require.NotNil(t, fix.AltM)
	assert.InDelta(t, 58.5, *fix.AltM, 1e-9)
}

func TestSyntheticGGA_MinuteCarry(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	got := SyntheticGGA(now, 54.99999, 13.99999, 0)
	assert.Contains(t, got, ",5500.00,N,01400.00,E,")
}
