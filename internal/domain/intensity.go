package domain

import "math"

// UnknownLevelText is returned by LevelText for levels outside the scale.
const UnknownLevelText = "unknown"

// levelTexts is the display scale indexed by integer intensity level.
var levelTexts = [...]string{"0", "1", "2", "3", "4", "5-", "5+", "6-", "6+", "7"}

// PGAToIntensity converts peak ground acceleration (gal) into a continuous
// intensity value. The result is NaN for pga <= 0 and must not be displayed.
func PGAToIntensity(pga float64) float64 {
	if pga <= 0 {
		return math.NaN()
	}
	return 2*math.Log10(pga) + 0.7
}

// IntensityToLevel buckets a continuous intensity into the 0–9 level scale.
// Below 4.5 the value is rounded to the nearest level; above that the scale is
// compressed into half-unit bands (5-, 5+, 6-, 6+, 7).
func IntensityToLevel(v float64) int {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v < 4.5:
		return int(math.Round(v))
	case v < 5:
		return 5
	case v < 5.5:
		return 6
	case v < 6:
		return 7
	case v < 6.5:
		return 8
	default:
		return 9
	}
}

// LevelText returns the display label for an integer level, or
// UnknownLevelText when the level is outside 0–9.
func LevelText(level int) string {
	if level < 0 || level >= len(levelTexts) {
		return UnknownLevelText
	}
	return levelTexts[level]
}
