package gps

import (
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// Fix represents a single GPS fix suitable for JSON and MQTT. Only the
// fields the attitude chain needs are kept.
type Fix struct {
	Time      string  `json:"time"`      // e.g. "12:34:56"
	Latitude  float64 `json:"lat"`       // decimal degrees
	Longitude float64 `json:"lon"`       // decimal degrees
	Validity  string  `json:"validity"`  // "A" (valid) / "V" (void)
	Variation float64 `json:"variation"` // magnetic variation, degrees, east positive
}

// FixFromRMC copies the fields of an RMC sentence.
func FixFromRMC(m nmea.RMC) Fix {
	return Fix{
		Time:      m.Time.String(),
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		Validity:  m.Validity,
		Variation: m.Variation,
	}
}

// Declination returns the magnetic declination of a valid fix. Receivers
// that leave the variation field empty report 0, which is treated as
// unknown.
func (f Fix) Declination() (float64, bool) {
	if f.Validity != nmea.ValidRMC || f.Variation == 0 {
		return 0, false
	}
	return f.Variation, true
}

// ParseLine parses one NMEA line and returns the fix when it is an RMC
// sentence.
func ParseLine(line string) (Fix, bool) {
	line = strings.TrimSpace(line)
	// NMEA sentences usually start with '$'
	if !strings.HasPrefix(line, "$") {
		return Fix{}, false
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return Fix{}, false
	}
	m, ok := sentence.(nmea.RMC)
	if !ok {
		return Fix{}, false
	}
	return FixFromRMC(m), true
}
