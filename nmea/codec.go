package nmea

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Checksum calculates the NMEA checksum for a sentence. The leading '$' or '!'
// and everything from the '*' delimiter onwards are excluded, so both a bare
// body and a fully assembled sentence yield the same value.
func Checksum(sentence string) string {
	body := sentence
	if len(body) > 0 && (body[0] == '$' || body[0] == '!') {
		body = body[1:]
	}
	if i := strings.IndexByte(body, '*'); i >= 0 {
		body = body[:i]
	}

	var checksum byte
	for i := 0; i < len(body); i++ {
		checksum ^= body[i]
	}
	return fmt.Sprintf("%02X", checksum)
}

// FormatSentence appends the '*' delimiter and checksum to a sentence body.
// Line termination is left to the writer.
func FormatSentence(sentence string) string {
	return sentence + "*" + Checksum(sentence)
}

// VerifyChecksum reports whether the checksum after '*' matches the sentence
func VerifyChecksum(sentence string) bool {
	sentence = strings.TrimRight(sentence, "\r\n")
	star := strings.LastIndexByte(sentence, '*')
	if star == -1 || len(sentence)-star-1 != 2 {
		return false
	}
	return strings.EqualFold(sentence[star+1:], Checksum(sentence[:star]))
}

// FormatTime renders the UTC time of day as HHMMSS.ss
func FormatTime(t time.Time) string {
	utc := t.UTC()
	return fmt.Sprintf("%02d%02d%02d.%02d",
		utc.Hour(), utc.Minute(), utc.Second(), utc.Nanosecond()/10000000)
}

// FormatDate renders the UTC date as DDMMYY
func FormatDate(t time.Time) string {
	return t.UTC().Format("020106")
}

// FormatLatitude renders a latitude as DDMM.MMMM,N or DDMM.MMMM,S
func FormatLatitude(lat float64) string {
	return formatCoordinate(lat, 2, "N", "S")
}

// FormatLongitude renders a longitude as DDDMM.MMMM,E or DDDMM.MMMM,W
func FormatLongitude(lon float64) string {
	return formatCoordinate(lon, 3, "E", "W")
}

func formatCoordinate(value float64, degreeWidth int, positive, negative string) string {
	hemisphere := positive
	if value < 0 {
		hemisphere = negative
	}

	abs := math.Abs(value)
	degrees := math.Floor(abs)
	minutes := math.Round((abs-degrees)*60*1e4) / 1e4
	// 59.99996' must not print as 60.0000'
	if minutes >= 60 {
		degrees++
		minutes -= 60
	}

	return fmt.Sprintf("%0*d%07.4f,%s", degreeWidth, int(degrees), minutes, hemisphere)
}

// FormatRMC generates a checksummed GPRMC (Recommended Minimum) sentence for
// the vessel state at time t
func FormatRMC(state VesselState, t time.Time) string {
	status := "A" // A = Active, V = Void
	magVar := ""  // Magnetic variation
	magVarDir := ""
	mode := "A" // A = Autonomous

	sentence := fmt.Sprintf("$GPRMC,%s,%s,%s,%s,%.2f,%.2f,%s,%s,%s,%s",
		FormatTime(t), status,
		FormatLatitude(state.Latitude),
		FormatLongitude(state.Longitude),
		state.SpeedKnots, state.CourseDegreesTrue,
		FormatDate(t),
		magVar, magVarDir, mode)

	return FormatSentence(sentence)
}
