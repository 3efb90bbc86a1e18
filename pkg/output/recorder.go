package output

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/zurustar/scoresync/pkg/midi"
)

// Sent is one message received by a Recorder.
type Sent struct {
	Data      []byte
	Timestamp time.Duration
}

// Recorder is a silent Output. It records every message and keeps the
// active-note registry without producing audio; the headless player and
// tests use it.
type Recorder struct {
	mu          sync.Mutex
	sent        []Sent
	clears      int
	initialized int
	notes       registry
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initialized++
	return ctx.Err()
}

func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	r.notes.drain()
}

func (r *Recorder) Send(data []byte, timestamp time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{Data: slices.Clone(data), Timestamp: timestamp})

	msg := midi.Decode(data)
	switch msg.Kind {
	case midi.KindNoteOn:
		r.notes.noteOn(&Note{
			Channel:   msg.Channel,
			Pitch:     msg.Key(),
			Velocity:  msg.Velocity(),
			Timestamp: timestamp,
			OffTime:   openEnded,
		})
	case midi.KindNoteOff:
		r.notes.noteOff(msg.Channel, msg.Key())
	case midi.KindControlChange:
		switch msg.Controller() {
		case midi.AllSoundOff, midi.AllNotesOff:
			r.notes.channelNotes(msg.Channel)
		}
	}
}

// Sent returns a copy of every message received since the last Reset.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sent)
}

// Clears returns how many times Clear was called.
func (r *Recorder) Clears() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clears
}

// Initialized returns how many times Initialize was called.
func (r *Recorder) Initialized() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

// ActiveNotes returns a copy of the active-note registry.
func (r *Recorder) ActiveNotes() []Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notes.snapshot()
}

// Reset forgets recorded messages and counters.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
	r.clears = 0
	r.initialized = 0
}
