// Package playback aligns a MIDI event stream with the measure timemap and
// the transport clock. Timeline answers per-frame queries over immutable
// note data; Engine dispatches events to a sound output as the transport
// advances.
package playback

import (
	"cmp"
	"slices"
	"time"

	"github.com/zurustar/scoresync/pkg/midi"
	"github.com/zurustar/scoresync/pkg/search"
	"github.com/zurustar/scoresync/pkg/timemap"
)

// Note is a paired note-on/note-off.
type Note struct {
	Track     int
	Channel   uint8
	Pitch     uint8
	Velocity  uint8
	Timestamp time.Duration
	Duration  time.Duration
	OffTime   time.Duration
}

// Timeline is the merged, time-ordered view of a MIDI file and its timemap.
// It is immutable and safe for concurrent reads.
type Timeline struct {
	events   []midi.Event
	notes    []Note
	maxEnd   []time.Duration // maxEnd[i] = max OffTime of notes[0..i]
	measures timemap.Timemap
	length   time.Duration
}

// eventRank orders simultaneous events: releases first, then controllers
// and program changes, then new notes.
func eventRank(ev midi.Event) int {
	switch midi.Decode(ev.Message).Kind {
	case midi.KindNoteOff:
		return 0
	case midi.KindNoteOn:
		return 2
	default:
		return 1
	}
}

// NewTimeline merges the channel messages of every track of file.
func NewTimeline(file *midi.File, tm timemap.Timemap) *Timeline {
	tl := &Timeline{measures: tm, length: file.Length()}

	for _, tr := range file.Tracks {
		for _, ev := range tr.Events {
			if ev.IsChannelMessage() {
				tl.events = append(tl.events, ev)
			}
		}
	}
	slices.SortStableFunc(tl.events, func(a, b midi.Event) int {
		return cmp.Or(cmp.Compare(a.Time, b.Time), cmp.Compare(eventRank(a), eventRank(b)))
	})

	tl.notes = pairNotes(file, tl.length)
	tl.maxEnd = make([]time.Duration, len(tl.notes))
	var end time.Duration
	for i, n := range tl.notes {
		end = max(end, n.OffTime)
		tl.maxEnd[i] = end
	}
	if end := tm.End(); end > tl.length {
		tl.length = end
	}
	return tl
}

type noteKey struct {
	track   int
	channel uint8
	pitch   uint8
}

// pairNotes matches each note-off with the earliest open note-on of the same
// track, channel and pitch, in file order. Notes left open end at length.
func pairNotes(file *midi.File, length time.Duration) []Note {
	open := make(map[noteKey][]int)
	var notes []Note
	for _, tr := range file.Tracks {
		for _, ev := range tr.Events {
			pair(&notes, open, ev)
		}
	}
	for _, idx := range open {
		for _, i := range idx {
			notes[i].OffTime = max(length, notes[i].Timestamp)
			notes[i].Duration = notes[i].OffTime - notes[i].Timestamp
		}
	}
	slices.SortStableFunc(notes, func(a, b Note) int {
		return cmp.Or(cmp.Compare(a.Timestamp, b.Timestamp), cmp.Compare(a.Pitch, b.Pitch))
	})
	return notes
}

func pair(notes *[]Note, open map[noteKey][]int, ev midi.Event) {
	msg := midi.Decode(ev.Message)
	key := noteKey{ev.Track, msg.Channel, msg.Key()}
	switch msg.Kind {
	case midi.KindNoteOn:
		open[key] = append(open[key], len(*notes))
		*notes = append(*notes, Note{
			Track:     ev.Track,
			Channel:   msg.Channel,
			Pitch:     msg.Key(),
			Velocity:  msg.Velocity(),
			Timestamp: ev.Time,
		})
	case midi.KindNoteOff:
		idx := open[key]
		if len(idx) == 0 {
			return
		}
		n := &(*notes)[idx[0]]
		n.OffTime = ev.Time
		n.Duration = n.OffTime - n.Timestamp
		open[key] = idx[1:]
	}
}

// Events returns the merged channel messages in dispatch order.
func (tl *Timeline) Events() []midi.Event {
	return tl.events
}

// Notes returns every paired note ordered by timestamp.
func (tl *Timeline) Notes() []Note {
	return tl.notes
}

// Timemap returns the measure timemap.
func (tl *Timeline) Timemap() timemap.Timemap {
	return tl.measures
}

// Length returns the end of the last event or measure.
func (tl *Timeline) Length() time.Duration {
	return tl.length
}

// firstEndingAfter returns the first index whose maxEnd is >= t.
func (tl *Timeline) firstEndingAfter(t time.Duration) int {
	return search.InsertionPoint(search.Search(tl.maxEnd, t, func(t, end time.Duration) int {
		if t > end {
			return 1
		}
		return -1
	}))
}

// NotesActiveInWindow returns the notes overlapping [t0, t1): every note with
// OffTime >= t0 and Timestamp < t1, ordered by timestamp. It only reads
// immutable data, so identical calls return identical results.
func (tl *Timeline) NotesActiveInWindow(t0, t1 time.Duration) []Note {
	var out []Note
	for i := tl.firstEndingAfter(t0); i < len(tl.notes) && tl.notes[i].Timestamp < t1; i++ {
		if tl.notes[i].OffTime >= t0 {
			out = append(out, tl.notes[i])
		}
	}
	return out
}

// NotesAt returns the notes sounding at t: Timestamp <= t < OffTime.
func (tl *Timeline) NotesAt(t time.Duration) []Note {
	var out []Note
	for _, n := range tl.NotesActiveInWindow(t, t+1) {
		if n.OffTime > t {
			out = append(out, n)
		}
	}
	return out
}

// MeasureAtTime returns the measure containing t. Past the last measure it
// returns the last one; it reports false only for an empty timemap.
func (tl *Timeline) MeasureAtTime(t time.Duration) (timemap.Entry, bool) {
	return tl.measures.MeasureAt(t)
}

// eventIndexAt returns the index of the first event at or after t.
func (tl *Timeline) eventIndexAt(t time.Duration) int {
	return search.InsertionPoint(search.Search(tl.events, t, func(t time.Duration, ev midi.Event) int {
		if t > ev.Time {
			return 1
		}
		return -1
	}))
}
