// Package timemap implements the measure timemap: the ordered mapping from
// musical measure to its start time and duration in the rendered audio.
package timemap

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/zurustar/scoresync/pkg/search"
)

// ErrUnordered is returned by Validate when entries are out of order or overlap.
var ErrUnordered = errors.New("timemap entries are not strictly ordered")

// Entry is one measure of the timemap.
type Entry struct {
	Measure  int
	Start    time.Duration
	Duration time.Duration
}

// End returns the exclusive end of the measure.
func (e Entry) End() time.Duration {
	return e.Start + e.Duration
}

// Contains reports whether t lies in [Start, End).
func (e Entry) Contains(t time.Duration) bool {
	return t >= e.Start && t < e.End()
}

// wire form, times in milliseconds.
type jsonEntry struct {
	Measure   int      `json:"measure"`
	Start     *float64 `json:"start,omitempty"`
	Timestamp *float64 `json:"timestamp,omitempty"`
	Duration  float64  `json:"duration"`
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func fromMillis(ms float64) time.Duration {
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}

// MarshalJSON encodes the entry as {"measure", "start", "duration"} in milliseconds.
func (e Entry) MarshalJSON() ([]byte, error) {
	start := millis(e.Start)
	return json.Marshal(jsonEntry{Measure: e.Measure, Start: &start, Duration: millis(e.Duration)})
}

// UnmarshalJSON accepts "timestamp" as an alias for "start".
func (e *Entry) UnmarshalJSON(data []byte) error {
	var je jsonEntry
	if err := json.Unmarshal(data, &je); err != nil {
		return err
	}
	var start float64
	switch {
	case je.Start != nil:
		start = *je.Start
	case je.Timestamp != nil:
		start = *je.Timestamp
	}
	*e = Entry{Measure: je.Measure, Start: fromMillis(start), Duration: fromMillis(je.Duration)}
	return nil
}

// Timemap is a sequence of entries ordered by start time. It is never
// mutated once built.
type Timemap []Entry

// Decode reads a JSON timemap.
func Decode(r io.Reader) (Timemap, error) {
	var tm Timemap
	if err := json.NewDecoder(r).Decode(&tm); err != nil {
		return nil, fmt.Errorf("failed to decode timemap: %w", err)
	}
	return tm, nil
}

// Encode writes the timemap as JSON.
func (tm Timemap) Encode(w io.Writer) error {
	if tm == nil {
		tm = Timemap{}
	}
	return json.NewEncoder(w).Encode(tm)
}

// Validate checks that entries are strictly time-ordered and that no
// [Start, End) ranges overlap.
func (tm Timemap) Validate() error {
	for i := 1; i < len(tm); i++ {
		prev, cur := tm[i-1], tm[i]
		if cur.Start <= prev.Start || cur.Start < prev.End() {
			return fmt.Errorf("%w: measure %d at %v overlaps measure %d ending at %v",
				ErrUnordered, cur.Measure, cur.Start, prev.Measure, prev.End())
		}
	}
	return nil
}

// End returns the end of the last measure.
func (tm Timemap) End() time.Duration {
	if len(tm) == 0 {
		return 0
	}
	return tm[len(tm)-1].End()
}

// IndexAt returns the index of the entry containing t. Times before the first
// entry clamp to the first; times in a gap or past the end clamp to the
// nearest preceding entry. It returns -1 for an empty timemap.
func (tm Timemap) IndexAt(t time.Duration) int {
	if len(tm) == 0 {
		return -1
	}
	code := search.Search(tm, t, func(t time.Duration, e Entry) int {
		switch {
		case t < e.Start:
			return -1
		case t >= e.End():
			return 1
		}
		return 0
	})
	if search.Found(code) {
		return code
	}
	idx := search.InsertionPoint(code) - 1
	if idx < 0 {
		return 0
	}
	return idx
}

// MeasureAt returns the entry containing t, clamped as IndexAt.
func (tm Timemap) MeasureAt(t time.Duration) (Entry, bool) {
	i := tm.IndexAt(t)
	if i < 0 {
		return Entry{}, false
	}
	return tm[i], true
}
