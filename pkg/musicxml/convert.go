package musicxml

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"slices"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/zurustar/scoresync/pkg/midi"
	"github.com/zurustar/scoresync/pkg/timemap"
)

// PPQ is the resolution of generated MIDI files.
const PPQ = 480

const (
	defaultTempo    = 120.0
	defaultVelocity = 90
	drumChannel     = 9
)

type timedMsg struct {
	tick uint32
	msg  []byte
	// releases sort before attacks on the same tick
	rank int
}

type tempoChange struct {
	tick uint32
	bpm  float64
}

type meter struct {
	tick        uint32
	beats, unit uint8
}

type builder struct {
	score   *Score
	starts  []uint32 // tick of each measure start, from the first part
	lengths []uint32
	tempos  []tempoChange
	meters  []meter
	tracks  [][]timedMsg
}

// Convert transforms the score into a MIDI file (a conductor track followed
// by one track per part) and its measure timemap.
func (s *Score) Convert() (*midi.File, timemap.Timemap, error) {
	if len(s.Parts) == 0 {
		return nil, nil, ErrNoParts
	}

	b := &builder{score: s}
	b.layoutMeasures()
	for i, p := range s.Parts {
		b.buildPart(i, p)
	}

	data, err := b.encode()
	if err != nil {
		return nil, nil, err
	}
	f, err := midi.ParseBytes(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read generated MIDI: %w", err)
	}
	return f, b.timemap(f.Tempo()), nil
}

func toTicks(duration, divisions int) uint32 {
	if divisions <= 0 {
		divisions = 1
	}
	return uint32(max(0, duration) * PPQ / divisions)
}

// layoutMeasures computes measure boundaries, tempo and meter changes from
// the first part. A measure lasts as far as its cursor reached, or its time
// signature when empty.
func (b *builder) layoutMeasures() {
	divisions := 1
	beats, unit := 4, 4
	var tick uint32

	for _, m := range b.score.Parts[0].Measures {
		var cursor, length uint32
		for _, item := range m.Items {
			switch it := item.(type) {
			case Attributes:
				if it.Divisions > 0 {
					divisions = it.Divisions
				}
				if it.Time.Beats > 0 && it.Time.BeatType > 0 {
					beats, unit = it.Time.Beats, it.Time.BeatType
					b.meters = append(b.meters, meter{tick + cursor, uint8(beats), uint8(unit)})
				}
			case Sound:
				if it.Tempo > 0 {
					b.tempos = append(b.tempos, tempoChange{tick + cursor, it.Tempo})
				}
			case Note:
				if it.Grace != nil || it.Chord != nil {
					continue
				}
				cursor += toTicks(it.Duration, divisions)
			case Backup:
				cursor -= min(cursor, toTicks(it.Duration, divisions))
			case Forward:
				cursor += toTicks(it.Duration, divisions)
			}
			length = max(length, cursor)
		}
		if length == 0 {
			length = uint32(beats * PPQ * 4 / unit)
		}
		b.starts = append(b.starts, tick)
		b.lengths = append(b.lengths, length)
		tick += length
	}
}

// partChannel returns the MIDI channel and program of part i. Parts without
// a midi-instrument get consecutive channels, skipping the drum channel.
func (b *builder) partChannel(i int, p Part) (uint8, uint8) {
	if sp, ok := b.score.scorePart(p.ID); ok && len(sp.MIDIInstruments) > 0 {
		mi := sp.MIDIInstruments[0]
		ch := max(1, min(16, mi.Channel)) - 1
		if mi.Channel == 0 {
			ch = b.nextChannel(i)
		}
		return uint8(ch), uint8(max(1, min(128, mi.Program)) - 1)
	}
	return uint8(b.nextChannel(i)), 0
}

func (b *builder) nextChannel(i int) int {
	ch := i % 15
	if ch >= drumChannel {
		ch++
	}
	return ch
}

func velocity(n Note, dynamics float64) uint8 {
	if n.Dynamics > 0 {
		dynamics = n.Dynamics
	}
	if dynamics <= 0 {
		return defaultVelocity
	}
	// dynamics is a percentage of forte, which is velocity 90.
	return uint8(max(1, min(127, math.Round(dynamics*defaultVelocity/100))))
}

func (b *builder) buildPart(index int, p Part) {
	ch, program := b.partChannel(index, p)

	events := []timedMsg{{tick: 0, msg: gomidi.ProgramChange(ch, program), rank: 1}}
	divisions := 1
	dynamics := 0.0
	tied := make(map[int]bool)

	for mi, m := range p.Measures {
		if mi >= len(b.starts) {
			break
		}
		base := b.starts[mi]
		var cursor, lastStart uint32
		for _, item := range m.Items {
			switch it := item.(type) {
			case Attributes:
				if it.Divisions > 0 {
					divisions = it.Divisions
				}
			case Sound:
				if it.Dynamics > 0 {
					dynamics = it.Dynamics
				}
			case Backup:
				cursor -= min(cursor, toTicks(it.Duration, divisions))
			case Forward:
				cursor += toTicks(it.Duration, divisions)
			case Note:
				if it.Grace != nil {
					continue
				}
				start := cursor
				if it.Chord != nil {
					start = lastStart
				}
				dur := toTicks(it.Duration, divisions)
				if it.Chord == nil {
					lastStart = start
					cursor = start + dur
				}
				if it.Pitch == nil || it.Rest != nil {
					continue
				}
				key := it.Pitch.Key()
				if key < 0 || key > 127 {
					continue
				}
				on, off := base+start, base+start+dur
				if !(it.HasTie("stop") && tied[key]) {
					events = append(events, timedMsg{on, gomidi.NoteOn(ch, uint8(key), velocity(it, dynamics)), 2})
				}
				if it.HasTie("start") {
					tied[key] = true
					continue
				}
				delete(tied, key)
				events = append(events, timedMsg{off, gomidi.NoteOff(ch, uint8(key)), 0})
			}
		}
	}
	// Close ties left open at the end of the part.
	end := b.end()
	for key := range tied {
		events = append(events, timedMsg{end, gomidi.NoteOff(ch, uint8(key)), 0})
	}

	slices.SortStableFunc(events, func(a, b timedMsg) int {
		return cmp.Or(cmp.Compare(a.tick, b.tick), cmp.Compare(a.rank, b.rank))
	})
	b.tracks = append(b.tracks, events)
}

func (b *builder) end() uint32 {
	if len(b.starts) == 0 {
		return 0
	}
	return b.starts[len(b.starts)-1] + b.lengths[len(b.lengths)-1]
}

func (b *builder) encode() ([]byte, error) {
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(PPQ)
	end := b.end()

	var conductor smf.Track
	if title := b.score.Title(); title != "" {
		conductor.Add(0, smf.MetaTrackSequenceName(title))
	}
	tempos := b.tempos
	if len(tempos) == 0 || tempos[0].tick > 0 {
		tempos = append([]tempoChange{{0, defaultTempo}}, tempos...)
	}
	var meta []timedMsg
	for _, t := range tempos {
		meta = append(meta, timedMsg{tick: t.tick, msg: smf.MetaTempo(t.bpm)})
	}
	for _, m := range b.meters {
		meta = append(meta, timedMsg{tick: m.tick, msg: smf.MetaMeter(m.beats, m.unit)})
	}
	slices.SortStableFunc(meta, func(a, b timedMsg) int { return cmp.Compare(a.tick, b.tick) })
	last := addAll(&conductor, meta)
	conductor.Close(end - min(end, last))
	if err := s.Add(conductor); err != nil {
		return nil, fmt.Errorf("failed to add conductor track: %w", err)
	}

	for i, events := range b.tracks {
		var tr smf.Track
		if sp, ok := b.score.scorePart(b.score.Parts[i].ID); ok && sp.Name != "" {
			tr.Add(0, smf.MetaTrackSequenceName(sp.Name))
		}
		last := addAll(&tr, events)
		tr.Close(end - min(end, last))
		if err := s.Add(tr); err != nil {
			return nil, fmt.Errorf("failed to add track %d: %w", i+1, err)
		}
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode MIDI: %w", err)
	}
	return buf.Bytes(), nil
}

// addAll appends tick-sorted messages and returns the last tick.
func addAll(tr *smf.Track, msgs []timedMsg) uint32 {
	var last uint32
	for _, m := range msgs {
		tr.Add(m.tick-last, m.msg)
		last = m.tick
	}
	return last
}

// timemap converts measure boundaries to time. Measures are numbered from
// zero in playback order.
func (b *builder) timemap(tempo *midi.TempoMap) timemap.Timemap {
	tm := make(timemap.Timemap, 0, len(b.starts))
	for i, start := range b.starts {
		t0 := tempo.TimeAt(int64(start))
		t1 := tempo.TimeAt(int64(start + b.lengths[i]))
		tm = append(tm, timemap.Entry{Measure: i, Start: t0, Duration: t1 - t0})
	}
	return tm
}

// Channels returns the MIDI channel assigned to each part, in part order.
func (s *Score) Channels() []uint8 {
	b := &builder{score: s}
	out := make([]uint8, len(s.Parts))
	for i, p := range s.Parts {
		out[i], _ = b.partChannel(i, p)
	}
	return out
}
