// Package output realizes MIDI events as sound. Callers hold the Output
// interface; SoundFontOutput plays through the audio package and Recorder
// records what it is sent.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zurustar/scoresync/pkg/audio"
	"github.com/zurustar/scoresync/pkg/clock"
	"github.com/zurustar/scoresync/pkg/logger"
	"github.com/zurustar/scoresync/pkg/midi"
)

// Output receives raw MIDI events stamped with times in the shared clock
// domain.
type Output interface {
	// Initialize makes the output ready to sound. It may be called again
	// after Clear.
	Initialize(ctx context.Context) error
	// Clear stops every sounding and scheduled note. Safe to call repeatedly.
	Clear()
	// Send handles one raw MIDI message due at timestamp.
	Send(data []byte, timestamp time.Duration)
}

// AudioEngine is the audio backend clock and run state.
type AudioEngine interface {
	State() audio.State
	Resume() error
	Suspend() error
	CurrentTime() time.Duration
}

// Instrument plays notes of one program.
type Instrument interface {
	Play(key uint8, when time.Duration, gain float64) audio.StopFunc
}

// InstrumentLoader loads the instrument for program on channel from source.
type InstrumentLoader interface {
	LoadInstrument(ctx context.Context, source string, channel, program uint8) (Instrument, error)
}

// LoaderFunc adapts a function to InstrumentLoader.
type LoaderFunc func(ctx context.Context, source string, channel, program uint8) (Instrument, error)

func (f LoaderFunc) LoadInstrument(ctx context.Context, source string, channel, program uint8) (Instrument, error) {
	return f(ctx, source, channel, program)
}

// AudioLoader adapts an audio.Loader.
func AudioLoader(l *audio.Loader) InstrumentLoader {
	return LoaderFunc(func(ctx context.Context, source string, channel, program uint8) (Instrument, error) {
		in, err := l.LoadInstrument(ctx, source, channel, program)
		if err != nil {
			return nil, err
		}
		return in, nil
	})
}

// InstrumentSlot is the instrument assigned to a channel. Instrument stays
// nil until loading succeeds.
type InstrumentSlot struct {
	Channel    uint8
	Program    uint8
	Name       string
	Instrument Instrument

	// attempted is set once loading has run to completion, successful or not.
	attempted bool
}

// Options configures a SoundFontOutput.
type Options struct {
	// Primary is the SoundFont source tried first for every instrument.
	Primary string
	// Fallback is tried when Primary fails. Empty disables the fallback.
	Fallback string
	// Logger defaults to logger.GetLogger().
	Logger *slog.Logger
}

// SoundFontOutput plays MIDI events with SoundFont instruments.
type SoundFontOutput struct {
	engine AudioEngine
	clock  clock.Clock
	loader InstrumentLoader
	opts   Options
	log    *slog.Logger

	mu          sync.Mutex
	instruments map[uint8]*InstrumentSlot
	notes       registry
}

// NewSoundFontOutput creates an output for file. Every track's first program
// change assigns an instrument to its channel; channels without one stay
// silent.
func NewSoundFontOutput(file *midi.File, engine AudioEngine, clk clock.Clock, loader InstrumentLoader, opts Options) *SoundFontOutput {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	o := &SoundFontOutput{
		engine:      engine,
		clock:       clk,
		loader:      loader,
		opts:        opts,
		log:         log,
		instruments: make(map[uint8]*InstrumentSlot),
	}
	for _, pc := range file.ProgramChanges() {
		o.instruments[pc.Channel] = &InstrumentSlot{
			Channel: pc.Channel,
			Program: pc.Program,
			Name:    audio.InstrumentName(pc.Program),
		}
	}
	return o
}

// Instruments returns the instrument map ordered by channel.
func (o *SoundFontOutput) Instruments() []InstrumentSlot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]InstrumentSlot, 0, len(o.instruments))
	for _, slot := range o.instruments {
		out = append(out, *slot)
	}
	slices.SortFunc(out, func(a, b InstrumentSlot) int { return int(a.Channel) - int(b.Channel) })
	return out
}

// ActiveNotes returns a copy of the active-note registry.
func (o *SoundFontOutput) ActiveNotes() []Note {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.notes.snapshot()
}

// Initialize resumes the audio engine and loads, in parallel, every
// instrument that has not been attempted yet. Instrument failures leave the
// channel silent and are not errors; they are not retried by later calls.
func (o *SoundFontOutput) Initialize(ctx context.Context) error {
	if o.engine.State() != audio.StateRunning {
		if err := o.engine.Resume(); err != nil {
			return fmt.Errorf("failed to resume audio engine: %w", err)
		}
	}

	o.mu.Lock()
	var pending []InstrumentSlot
	for _, slot := range o.instruments {
		if slot.Instrument == nil && !slot.attempted {
			pending = append(pending, *slot)
		}
	}
	o.mu.Unlock()

	if len(pending) > 0 {
		o.log.Info("Loading instruments", "count", len(pending))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, slot := range pending {
		g.Go(func() error {
			in := o.load(gctx, slot)
			o.mu.Lock()
			defer o.mu.Unlock()
			s := o.instruments[slot.Channel]
			if in != nil {
				s.Instrument = in
			}
			// An interrupted load is retried on the next Initialize.
			if gctx.Err() == nil {
				s.attempted = true
			}
			return nil
		})
	}
	g.Wait()
	return ctx.Err()
}

// load tries the primary source, then the fallback.
func (o *SoundFontOutput) load(ctx context.Context, slot InstrumentSlot) Instrument {
	in, err := o.loader.LoadInstrument(ctx, o.opts.Primary, slot.Channel, slot.Program)
	if err == nil {
		o.log.Debug("Instrument loaded", "channel", slot.Channel, "name", slot.Name, "source", o.opts.Primary)
		return in
	}
	if o.opts.Fallback == "" {
		o.log.Warn("Failed to load instrument", "channel", slot.Channel, "name", slot.Name, "error", err)
		return nil
	}
	o.log.Warn("Failed to load instrument, trying fallback", "channel", slot.Channel, "name", slot.Name, "error", err)

	in, err = o.loader.LoadInstrument(ctx, o.opts.Fallback, slot.Channel, slot.Program)
	if err != nil {
		o.log.Warn("Failed to load fallback instrument", "channel", slot.Channel, "name", slot.Name, "error", err)
		return nil
	}
	o.log.Info("Loaded fallback instrument", "channel", slot.Channel, "name", slot.Name, "source", o.opts.Fallback)
	return in
}

// Clear stops every active and releasing note, empties the registry and
// suspends the audio engine.
func (o *SoundFontOutput) Clear() {
	o.mu.Lock()
	notes := o.notes.drain()
	o.mu.Unlock()

	now := o.engine.CurrentTime()
	for _, n := range notes {
		o.stop(n, now)
	}

	if o.engine.State() == audio.StateRunning {
		if err := o.engine.Suspend(); err != nil {
			o.log.Warn("Failed to suspend audio engine", "error", err)
		}
	}
}

// Send handles note-on, note-off and the all-notes/all-sound-off channel
// mode messages. Everything else is ignored.
func (o *SoundFontOutput) Send(data []byte, timestamp time.Duration) {
	msg := midi.Decode(data)
	switch msg.Kind {
	case midi.KindNoteOn:
		o.noteOn(msg, timestamp)
	case midi.KindNoteOff:
		o.noteOff(msg, timestamp)
	case midi.KindControlChange:
		switch msg.Controller() {
		case midi.AllSoundOff, midi.AllNotesOff:
			o.releaseChannel(msg.Channel, timestamp)
		}
	}
}

func (o *SoundFontOutput) noteOn(msg midi.Message, timestamp time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	slot := o.instruments[msg.Channel]
	if slot == nil || slot.Instrument == nil {
		o.log.Debug("Dropped note on without instrument", "channel", msg.Channel, "key", msg.Key())
		return
	}

	now := o.clock.Now()
	o.notes.prune(now)
	delay := timestamp - now
	when := o.engine.CurrentTime() + delay

	// A retriggered key ends the previous voice where the new one starts.
	// It stays in the registry as releasing so Clear still reaches it.
	if prev := o.notes.noteOff(msg.Channel, msg.Key()); prev != nil {
		closeNote(prev, timestamp)
		o.notes.release(prev)
		o.stop(prev, when)
	}

	stop := slot.Instrument.Play(msg.Key(), when, float64(msg.Velocity())/127)
	o.notes.noteOn(&Note{
		Channel:   msg.Channel,
		Pitch:     msg.Key(),
		Velocity:  msg.Velocity(),
		Timestamp: timestamp,
		OffTime:   openEnded,
		stop:      stop,
	})
}

func (o *SoundFontOutput) noteOff(msg midi.Message, timestamp time.Duration) {
	o.mu.Lock()
	now := o.clock.Now()
	o.notes.prune(now)
	n := o.notes.noteOff(msg.Channel, msg.Key())
	if n == nil {
		o.mu.Unlock()
		o.log.Debug("Dropped note off without active note", "channel", msg.Channel, "key", msg.Key())
		return
	}
	closeNote(n, timestamp)
	delay := timestamp - now
	if delay > 0 {
		o.notes.release(n)
	}
	o.mu.Unlock()

	o.stop(n, o.engine.CurrentTime()+max(delay, 0))
}

func (o *SoundFontOutput) releaseChannel(channel uint8, timestamp time.Duration) {
	o.mu.Lock()
	now := o.clock.Now()
	notes := o.notes.channelNotes(channel)
	delay := timestamp - now
	for _, n := range notes {
		closeNote(n, timestamp)
		if delay > 0 {
			o.notes.release(n)
		}
	}
	o.mu.Unlock()

	at := o.engine.CurrentTime() + max(delay, 0)
	for _, n := range notes {
		o.stop(n, at)
	}
}

// stop releases a voice. Failures are logged and never propagate.
func (o *SoundFontOutput) stop(n *Note, at time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Warn("Failed to stop note", "channel", n.Channel, "key", n.Pitch, "panic", r)
		}
	}()
	if n.stop == nil {
		return
	}
	if err := n.stop(at); err != nil {
		o.log.Warn("Failed to stop note", "channel", n.Channel, "key", n.Pitch, "error", err)
	}
}
