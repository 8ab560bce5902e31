package gps

import (
	"fmt"
	"strconv"
	"strings"
)

// validateChecksum checks a `$...*HH` NMEA sentence: the checksum is the
// XOR of every byte strictly between `$` and `*`, compared against the two
// hex digits following `*`.
func validateChecksum(sentence string) bool {
	if len(sentence) == 0 || sentence[0] != '$' {
		return false
	}
	star := strings.IndexByte(sentence, '*')
	if star < 1 {
		return false
	}

	var checksum byte
	for i := 1; i < star; i++ {
		checksum ^= sentence[i]
	}

	if len(sentence) < star+3 {
		return false
	}
	received, err := strconv.ParseUint(sentence[star+1:star+3], 16, 8)
	if err != nil {
		return false
	}

	return checksum == byte(received)
}

// convertToDecimalDegrees parses an NMEA coordinate field. Latitude fields
// use a 2-digit degree prefix (DDMM.mmmm, direction N/S); longitude fields
// use a 3-digit degree prefix (DDDMM.mmmm, direction E/W). The digit count
// is chosen by direction letter, not by string length.
func convertToDecimalDegrees(coord string, direction byte) (float64, error) {
	if len(coord) < 4 {
		return 0, fmt.Errorf("gps: coordinate %q too short", coord)
	}

	var degreeDigits int
	switch direction {
	case 'E', 'W':
		degreeDigits = 3
	case 'N', 'S':
		degreeDigits = 2
	default:
		return 0, fmt.Errorf("gps: invalid direction %q", direction)
	}

	if len(coord) < degreeDigits {
		return 0, fmt.Errorf("gps: coordinate %q shorter than degree field", coord)
	}

	degrees, err := strconv.ParseFloat(coord[:degreeDigits], 64)
	if err != nil {
		return 0, fmt.Errorf("gps: failed to parse degrees from %q: %w", coord, err)
	}
	minutes, err := strconv.ParseFloat(coord[degreeDigits:], 64)
	if err != nil {
		return 0, fmt.Errorf("gps: failed to parse minutes from %q: %w", coord, err)
	}

	decimal := degrees + minutes/60.0
	if direction == 'S' || direction == 'W' {
		decimal = -decimal
	}
	return decimal, nil
}

// rmcFields holds the comma-separated fields of a $GNRMC sentence needed
// here, in wire order.
type rmcFields struct {
	time   string
	status byte
	lat    string
	ns     byte
	lon    string
	ew     byte
	speed  string
	course string
}

func parseRMC(sentence string) (rmcFields, bool) {
	fields := strings.Split(sentence, ",")
	// $GNRMC,time,status,lat,NS,lon,EW,speed,course,date,...
	if len(fields) < 9 {
		return rmcFields{}, false
	}

	var f rmcFields
	f.time = fields[1]
	if len(fields[2]) > 0 {
		f.status = fields[2][0]
	}
	f.lat = fields[3]
	if len(fields[4]) > 0 {
		f.ns = fields[4][0]
	}
	f.lon = fields[5]
	if len(fields[6]) > 0 {
		f.ew = fields[6][0]
	}
	f.speed = fields[7]
	f.course = fields[8]

	if f.status != 'A' || f.time == "" {
		return rmcFields{}, false
	}
	return f, true
}

// ggaFields holds the comma-separated fields of a $GNGGA sentence needed
// here, in wire order.
type ggaFields struct {
	time        string
	lat         string
	ns          byte
	lon         string
	ew          byte
	fixQuality  int
	satellites  int
	altitude    string
	geoidHeight string
}

func parseGGA(sentence string) (ggaFields, bool) {
	fields := strings.Split(sentence, ",")
	// $GNGGA,time,lat,NS,lon,EW,fixQuality,satellites,hdop,altitude,M,geoid,M,...
	if len(fields) < 12 {
		return ggaFields{}, false
	}

	var f ggaFields
	f.time = fields[1]
	f.lat = fields[2]
	if len(fields[3]) > 0 {
		f.ns = fields[3][0]
	}
	f.lon = fields[4]
	if len(fields[5]) > 0 {
		f.ew = fields[5][0]
	}

	fq, fqErr := strconv.Atoi(fields[6])
	sats, satErr := strconv.Atoi(fields[7])
	if fqErr != nil || satErr != nil {
		return ggaFields{}, false
	}
	f.fixQuality = fq
	f.satellites = sats
	f.altitude = fields[9]
	f.geoidHeight = fields[11]

	if f.time == "" {
		return ggaFields{}, false
	}
	return f, true
}
