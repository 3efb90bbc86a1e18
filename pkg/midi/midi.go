// Package midi provides the immutable MIDI file model shared by the converters,
// the sound output and the playback engine. Standard MIDI Files are read and
// written through gomidi's smf package; this package adds absolute timing.
package midi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"gitlab.com/gomidi/midi/v2/smf"
)

// ErrInvalidFormat is returned when data is not a readable Standard MIDI File.
var ErrInvalidFormat = errors.New("invalid MIDI file format")

// ErrUnsupportedTimeFormat is returned for SMPTE based files.
var ErrUnsupportedTimeFormat = errors.New("unsupported MIDI time format")

// Event is one time-tagged event of a track.
type Event struct {
	Track   int           // index of the owning track
	Tick    int64         // absolute tick
	Time    time.Duration // absolute time from the start of the file
	Message []byte        // raw status + data bytes (meta events in SMF form)
}

// IsChannelMessage reports whether the event is a channel voice message
// (note on/off, controller, program change, pitch bend, ...).
func (e Event) IsChannelMessage() bool {
	return len(e.Message) > 0 && e.Message[0] >= 0x80 && e.Message[0] < 0xF0
}

// Channel returns the channel of a channel voice message.
func (e Event) Channel() uint8 {
	if !e.IsChannelMessage() {
		return 0
	}
	return e.Message[0] & 0x0F
}

// Track is an ordered sequence of events.
type Track struct {
	Events []Event
}

// File is an ordered collection of tracks. It is immutable once produced and
// shared read-only between its consumers.
type File struct {
	Tracks []Track
	tempo  *TempoMap
	length time.Duration
}

// Parse reads a Standard MIDI File.
func Parse(r io.Reader) (*File, error) {
	s, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return FromSMF(s)
}

// ParseBytes reads a Standard MIDI File from memory.
func ParseBytes(data []byte) (*File, error) {
	return Parse(bytes.NewReader(data))
}

// FromSMF builds a File from a decoded SMF, resolving every event to an
// absolute tick and time.
func FromSMF(s *smf.SMF) (*File, error) {
	ticks, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedTimeFormat, s.TimeFormat)
	}
	ppq := int(ticks.Resolution())

	f := &File{Tracks: make([]Track, len(s.Tracks))}

	// Absolute ticks first; the tempo map needs every track's tempo changes
	// before any tick can be converted to time.
	var tempos []TempoEvent
	for ti, tr := range s.Tracks {
		var tick int64
		events := make([]Event, 0, len(tr))
		for _, ev := range tr {
			tick += int64(ev.Delta)
			var bpm float64
			if ev.Message.GetMetaTempo(&bpm) && bpm > 0 {
				tempos = append(tempos, TempoEvent{Tick: tick, MicrosPerBeat: int(60000000.0/bpm + 0.5)})
			}
			events = append(events, Event{Track: ti, Tick: tick, Message: []byte(ev.Message)})
		}
		f.Tracks[ti] = Track{Events: events}
	}
	sort.SliceStable(tempos, func(i, j int) bool { return tempos[i].Tick < tempos[j].Tick })
	f.tempo = NewTempoMap(ppq, tempos)

	for ti := range f.Tracks {
		events := f.Tracks[ti].Events
		for i := range events {
			events[i].Time = f.tempo.TimeAt(events[i].Tick)
			if events[i].Time > f.length {
				f.length = events[i].Time
			}
		}
	}
	return f, nil
}

// Tempo returns the file's tempo map.
func (f *File) Tempo() *TempoMap {
	return f.tempo
}

// PPQ returns the ticks per quarter note.
func (f *File) PPQ() int {
	return f.tempo.PPQ()
}

// Length returns the time of the last event of the file.
func (f *File) Length() time.Duration {
	return f.length
}

// ProgramChangeEvent is the first program change found on a track.
type ProgramChangeEvent struct {
	Track   int
	Channel uint8
	Program uint8
}

// ProgramChanges returns, per track, the first program change event found.
// Tracks without a program change contribute nothing.
func (f *File) ProgramChanges() []ProgramChangeEvent {
	var out []ProgramChangeEvent
	for ti, tr := range f.Tracks {
		for _, ev := range tr.Events {
			if m := Decode(ev.Message); m.Kind == KindProgramChange {
				out = append(out, ProgramChangeEvent{Track: ti, Channel: m.Channel, Program: m.Data1})
				break
			}
		}
	}
	return out
}

// SMF re-encodes the file as a gomidi SMF.
func (f *File) SMF() (*smf.SMF, error) {
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(uint16(f.PPQ()))
	for _, tr := range f.Tracks {
		var track smf.Track
		var last int64
		for _, ev := range tr.Events {
			msg := smf.Message(ev.Message)
			if msg.Is(smf.MetaEndOfTrackMsg) {
				continue
			}
			track.Add(uint32(ev.Tick-last), ev.Message)
			last = ev.Tick
		}
		var end int64
		if n := len(tr.Events); n > 0 {
			end = tr.Events[n-1].Tick - last
		}
		track.Close(uint32(end))
		if err := s.Add(track); err != nil {
			return nil, fmt.Errorf("failed to add track: %w", err)
		}
	}
	return s, nil
}

// WriteTo writes the file as a Standard MIDI File.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	s, err := f.SMF()
	if err != nil {
		return 0, err
	}
	return s.WriteTo(w)
}

// Bytes returns the file encoded as a Standard MIDI File.
func (f *File) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
