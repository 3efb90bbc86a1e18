package midi

import (
	"cmp"
	"time"

	"github.com/zurustar/scoresync/pkg/search"
)

// DefaultMicrosPerBeat is the SMF default tempo (120 BPM).
const DefaultMicrosPerBeat = 500000

// DefaultPPQ is used when a file carries no usable time division.
const DefaultPPQ = 480

// TempoEvent represents a tempo change in a MIDI file.
type TempoEvent struct {
	Tick          int64 // MIDI tick position
	MicrosPerBeat int   // Microseconds per quarter note
}

// BPM returns the tempo in beats per minute.
func (e TempoEvent) BPM() float64 {
	if e.MicrosPerBeat <= 0 {
		return 0
	}
	return 60000000.0 / float64(e.MicrosPerBeat)
}

// TempoMap converts MIDI ticks into wall time considering tempo changes.
type TempoMap struct {
	ppq         int
	events      []TempoEvent
	timeAtTempo []time.Duration // pre-calculated time at each tempo change
}

// NewTempoMap creates a TempoMap from tempo events sorted by tick.
// A default 120 BPM event is inserted at tick 0 when the first change
// happens later (or when there are no changes at all).
func NewTempoMap(ppq int, events []TempoEvent) *TempoMap {
	if ppq <= 0 {
		ppq = DefaultPPQ
	}
	if len(events) == 0 || events[0].Tick > 0 {
		events = append([]TempoEvent{{Tick: 0, MicrosPerBeat: DefaultMicrosPerBeat}}, events...)
	}
	tm := &TempoMap{ppq: ppq, events: events}
	tm.precalculate()
	return tm
}

// precalculate computes the elapsed time at each tempo change point.
func (tm *TempoMap) precalculate() {
	tm.timeAtTempo = make([]time.Duration, len(tm.events))
	for i := 1; i < len(tm.events); i++ {
		prev := tm.events[i-1]
		ticks := tm.events[i].Tick - prev.Tick
		tm.timeAtTempo[i] = tm.timeAtTempo[i-1] + tm.ticksToDuration(ticks, prev.MicrosPerBeat)
	}
}

func (tm *TempoMap) ticksToDuration(ticks int64, microsPerBeat int) time.Duration {
	// 1 tick = microsPerBeat / ppq microseconds
	micros := float64(ticks) * float64(microsPerBeat) / float64(tm.ppq)
	return time.Duration(micros * float64(time.Microsecond))
}

// segment returns the index of the tempo event in effect at tick.
func (tm *TempoMap) segment(tick int64) int {
	code := search.Search(tm.events, tick, func(tick int64, e TempoEvent) int {
		return cmp.Compare(tick, e.Tick)
	})
	if code >= 0 {
		// Several changes can share a tick; the last one wins.
		for code+1 < len(tm.events) && tm.events[code+1].Tick == tick {
			code++
		}
		return code
	}
	idx := search.InsertionPoint(code) - 1
	if idx < 0 {
		return 0
	}
	return idx
}

// TimeAt converts an absolute tick into elapsed time from the start.
func (tm *TempoMap) TimeAt(tick int64) time.Duration {
	if tick <= 0 {
		return 0
	}
	i := tm.segment(tick)
	tempo := tm.events[i]
	return tm.timeAtTempo[i] + tm.ticksToDuration(tick-tempo.Tick, tempo.MicrosPerBeat)
}

// TempoAt returns the tempo event in effect at tick.
func (tm *TempoMap) TempoAt(tick int64) TempoEvent {
	return tm.events[tm.segment(tick)]
}

// PPQ returns the ticks per quarter note.
func (tm *TempoMap) PPQ() int {
	return tm.ppq
}

// Events returns the tempo changes, including the implicit one at tick 0.
func (tm *TempoMap) Events() []TempoEvent {
	return tm.events
}
