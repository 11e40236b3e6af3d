package nmea

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Default synthetic position. Fed through SyntheticGGA it yields the payload
// "GPGGA,hhmmss,5500.00,N,01400.00,E,4,10,1,200,M,1,M,7,0".
const (
	DefaultSyntheticLat = 55.0
	DefaultSyntheticLon = 14.0
	DefaultSyntheticAlt = 200.0
)

// SyntheticGGA builds a framed GGA sentence for the given position and time
// of day. Fix quality, satellite count, HDOP, geoid separation and
// differential fields are fixed placeholders (RTK fixed, 10 sats).
//
// It is a fallback for when no receiver sentence is available and does not
// describe a real fix.
func SyntheticGGA(now time.Time, latDeg, lonDeg, altM float64) string {
	now = now.UTC()
	lat, ns := formatLatLon(latDeg, 2, 2, "N", "S")
	lon, ew := formatLatLon(lonDeg, 3, 2, "E", "W")
	body := fmt.Sprintf("GPGGA,%02d%02d%02d,%s,%s,%s,%s,4,10,1,%s,M,1,M,7,0",
		now.Hour(), now.Minute(), now.Second(),
		lat, ns, lon, ew,
		strconv.FormatFloat(altM, 'f', -1, 64),
	)
	return Frame(body)
}

// formatLatLon renders |v| as NMEA degrees+minutes with the given number of
// minute decimals, plus the hemisphere letter.
func formatLatLon(v float64, degDigits, decimals int, pos, neg string) (string, string) {
	hemi := pos
	if v < 0 {
		hemi = neg
		v = -v
	}
	scale := math.Pow10(decimals)
	deg := math.Floor(v)
	mins := math.Round((v-deg)*60*scale) / scale
	if mins >= 60 {
		deg++
		mins -= 60
	}
	return fmt.Sprintf("%0*d%0*.*f", degDigits, int(deg), 3+decimals, decimals, mins), hemi
}
