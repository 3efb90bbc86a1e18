package render

import (
	"math"
	"time"
)

const defaultBPM = 120

// noteValues in quarter notes, in candidate order: ties resolve to the
// earlier entry.
var noteValues = []struct {
	code     string
	quarters float64
}{
	{"8", 0.5},
	{"16", 0.25},
	{"32", 0.125},
	{"w", 4},
	{"h", 2},
	{"q", 1},
}

// NoteValue names the notated value closest to a sounding duration at the
// given tempo: "w", "h", "q", "8", "16" or "32", with a "d" suffix when the
// duration is within a quarter of the value from its dotted length. A
// non-positive bpm means 120.
func NoteValue(d time.Duration, bpm float64) string {
	if bpm <= 0 {
		bpm = defaultBPM
	}
	quarter := time.Minute.Seconds() / bpm
	q := d.Seconds() / quarter

	best := noteValues[0]
	bestDiff := math.Inf(1)
	for _, v := range noteValues {
		if diff := math.Abs(v.quarters - q); diff < bestDiff {
			best, bestDiff = v, diff
		}
	}
	if math.Abs(q-best.quarters*1.5) < best.quarters*0.25 {
		return best.code + "d"
	}
	return best.code
}
