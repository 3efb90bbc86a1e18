// Package audio provides the audio backend of the player: a shared
// Ebitengine audio context, a go-meltysynth mixer with sample accurate
// scheduling and SoundFont instruments.
package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2/audio"
)

// SampleRate is the audio sample rate used for synthesis.
const SampleRate = 44100

// bufferSize keeps the audio clock close to what is actually heard.
const bufferSize = 50 * time.Millisecond

// ErrClosed is returned when operating on a closed engine or mixer.
var ErrClosed = errors.New("audio engine is closed")

// Ebitengine only allows one audio context per process.
var (
	sharedContext     *audio.Context
	sharedContextOnce sync.Once
)

// Context returns the process wide audio context, creating it on first use.
func Context() *audio.Context {
	sharedContextOnce.Do(func() {
		sharedContext = audio.NewContext(SampleRate)
	})
	return sharedContext
}

// State is the running state of an audio engine.
type State int

const (
	StateSuspended State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Engine plays a Mixer through an Ebitengine audio player. Suspending pauses
// the player, which also stops the mixer's audio clock.
type Engine struct {
	mixer  *Mixer
	player *audio.Player
	state  State
	mu     sync.Mutex
}

// NewEngine creates a suspended engine streaming mixer.
func NewEngine(mixer *Mixer) (*Engine, error) {
	player, err := Context().NewPlayer(mixer)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio player: %w", err)
	}
	player.SetBufferSize(bufferSize)
	return &Engine{mixer: mixer, player: player, state: StateSuspended}, nil
}

// Mixer returns the mixer fed to the player.
func (e *Engine) Mixer() *Mixer {
	return e.mixer
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Resume starts or continues audio output.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateClosed:
		return ErrClosed
	case StateRunning:
		return nil
	}
	e.player.Play()
	e.state = StateRunning
	return nil
}

// Suspend pauses audio output.
func (e *Engine) Suspend() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateClosed:
		return ErrClosed
	case StateSuspended:
		return nil
	}
	e.player.Pause()
	e.state = StateSuspended
	return nil
}

// CurrentTime returns the audio clock.
func (e *Engine) CurrentTime() time.Duration {
	return e.mixer.CurrentTime()
}

// SetMuted sets the player volume to 0 or 1. The audio clock keeps running.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if muted {
		e.player.SetVolume(0)
	} else {
		e.player.SetVolume(1)
	}
}

// Close stops the player and the mixer.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed {
		return nil
	}
	e.state = StateClosed
	e.mixer.Close()
	return e.player.Close()
}
