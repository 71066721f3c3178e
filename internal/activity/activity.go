// Package activity holds the pure helpers shared by sync and the admin
// surface: week bucketing, sport classification and unit conversion.
package activity

import (
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const metersPerMile = 0.000621371

// ExcludedTypes lists classified labels that are never kept. Activities of
// these types are skipped on sync and swept by the scheduled cleanup.
var ExcludedTypes = []string{
	"Workout", "Yoga", "WeightTraining", "Rowing",
	"StandUpPaddling", "Surfing", "WaterSport",
	"Kayaking", "Canoeing", "Windsurf",
}

var cyclingTypes = map[string]bool{
	"ride":             true,
	"virtualride":      true,
	"ebikeride":        true,
	"handcycle":        true,
	"velomobile":       true,
	"gravelride":       true,
	"mountainbikeride": true,
}

var walkingTypes = map[string]bool{
	"walk": true,
	"hike": true,
}

// ClassifySport maps a raw Strava sport type to a display category. Unknown
// types pass through with the first letter upper-cased; empty input is Other.
func ClassifySport(raw string) string {
	if raw == "" {
		return "Other"
	}
	t := strings.ToLower(raw)
	switch {
	case cyclingTypes[t]:
		return "Cycling"
	case t == "run" || t == "virtualrun" || t == "trailrun":
		return "Running"
	case t == "swim":
		return "Swimming"
	case walkingTypes[t]:
		return "Walking"
	}
	r, size := utf8.DecodeRuneInString(raw)
	return string(unicode.ToUpper(r)) + raw[size:]
}

// IsExcluded reports whether a classified label is in the excluded set.
func IsExcluded(classified string) bool {
	for _, t := range ExcludedTypes {
		if t == classified {
			return true
		}
	}
	return false
}

// MilesFromMeters converts a distance in meters to miles rounded to two
// decimal places, the precision activities are stored at.
func MilesFromMeters(meters float64) float64 {
	return math.Round(meters*metersPerMile*100) / 100
}

// WeekStart returns the Monday of the week containing the given date,
// formatted DD/MM/YYYY. Dates are evaluated in UTC so the bucket cannot
// shift across a week boundary with the deployment time zone. Accepts
// RFC3339 timestamps and bare YYYY-MM-DD dates; unparseable input yields
// an empty bucket.
func WeekStart(dateStr string) string {
	date, err := parseDate(dateStr)
	if err != nil {
		return ""
	}
	offset := 1 - int(date.Weekday())
	if date.Weekday() == time.Sunday {
		offset = -6
	}
	monday := date.AddDate(0, 0, offset)
	return monday.Format("02/01/2006")
}

func parseDate(dateStr string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, dateStr); err == nil {
		return t.UTC(), nil
	}
	return time.ParseInLocation("2006-01-02", dateStr, time.UTC)
}
