package nmea

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Fix is the subset of a GGA sentence shown on the status page.
type Fix struct {
	UTCTime    string   `json:"utc_time,omitempty"`
	LatDeg     float64  `json:"lat_deg"`
	LonDeg     float64  `json:"lon_deg"`
	AltM       *float64 `json:"alt_m,omitempty"`
	Quality    int      `json:"quality"`
	Satellites *int     `json:"satellites,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`
}

// QualityName maps the GGA fix quality indicator to a short label.
func (f Fix) QualityName() string {
	switch f.Quality {
	case 0:
		return "invalid"
	case 1:
		return "gps"
	case 2:
		return "dgps"
	case 4:
		return "rtk_fixed"
	case 5:
		return "rtk_float"
	case 6:
		return "estimated"
	default:
		return "other"
	}
}

// ParseGGA decodes a checksummed GGA sentence.
//
// Fields:
//
//	0: talker+type
//	1: time
//	2: latitude
//	3: N/S
//	4: longitude
//	5: E/W
//	6: fix quality (0=invalid)
//	7: number of satellites
//	8: HDOP
//	9: altitude (meters)
//
// 10: units (M)
func ParseGGA(line string) (Fix, error) {
	s, err := Parse(line)
	if err != nil {
		return Fix{}, err
	}
	if s.Type != "GGA" {
		return Fix{}, fmt.Errorf("nmea: not GGA (%s)", s.Type)
	}
	f := s.Fields
	if len(f) < 11 {
		return Fix{}, fmt.Errorf("nmea: short GGA (%d fields)", len(f))
	}

	var fix Fix
	fix.UTCTime = strings.TrimSpace(f[1])
	if q, err := strconv.Atoi(strings.TrimSpace(f[6])); err == nil {
		fix.Quality = q
	}
	if fix.Quality == 0 {
		return fix, nil
	}

	lat, latOK := parseLatLon(f[2], f[3])
	lon, lonOK := parseLatLon(f[4], f[5])
	if !latOK || !lonOK {
		return Fix{}, fmt.Errorf("nmea: bad GGA position")
	}
	fix.LatDeg = lat
	fix.LonDeg = lon

	if sats, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		fix.Satellites = &sats
	}
	if hdop, ok := parseFloat(f[8]); ok {
		fix.HDOP = &hdop
	}
	if alt, ok := parseFloat(f[9]); ok {
		fix.AltM = &alt
	}
	return fix, nil
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseLatLon parses NMEA lat/lon in ddmm.mmmm or dddmm.mmmm plus hemisphere.
func parseLatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	// The last two digits of the integer part are whole minutes.
	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + (mins / 60.0)
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}

// FormatGGA renders fix as a framed $GPGGA sentence stamped with the time of
// day of now. Minutes carry four decimals. Missing satellites, HDOP and
// altitude become empty fields.
func FormatGGA(now time.Time, fix Fix) string {
	now = now.UTC()
	lat, ns := formatLatLon(fix.LatDeg, 2, 4, "N", "S")
	lon, ew := formatLatLon(fix.LonDeg, 3, 4, "E", "W")

	sats := ""
	if fix.Satellites != nil {
		sats = fmt.Sprintf("%02d", *fix.Satellites)
	}
	hdop := ""
	if fix.HDOP != nil {
		hdop = strconv.FormatFloat(*fix.HDOP, 'f', 1, 64)
	}
	alt := ""
	if fix.AltM != nil {
		alt = strconv.FormatFloat(*fix.AltM, 'f', 1, 64)
	}

	body := fmt.Sprintf("GPGGA,%02d%02d%02d.%02d,%s,%s,%s,%s,%d,%s,%s,%s,M,,M,,",
		now.Hour(), now.Minute(), now.Second(), now.Nanosecond()/int(10*time.Millisecond),
		lat, ns, lon, ew,
		fix.Quality, sats, hdop, alt,
	)
	return Frame(body)
}
