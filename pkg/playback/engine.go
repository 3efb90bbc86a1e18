package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zurustar/scoresync/pkg/clock"
	"github.com/zurustar/scoresync/pkg/logger"
	"github.com/zurustar/scoresync/pkg/output"
	"github.com/zurustar/scoresync/pkg/timemap"
)

// View window around the transport position for NotesInView. Tuned by eye:
// just-ended notes fade out, upcoming notes are staged in advance.
const (
	ViewBehind = 500 * time.Millisecond
	ViewAhead  = 4 * time.Second
)

// DefaultLookahead is how far ahead of the transport events are sent to the
// output, which schedules them by timestamp.
const DefaultLookahead = 100 * time.Millisecond

// State is the transport state.
type State int

const (
	Stopped State = iota
	Playing
	// Seeking is transient: it only lasts for the duration of Seek.
	Seeking
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Playing:
		return "Playing"
	case Seeking:
		return "Seeking"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures an Engine.
type Options struct {
	// Lookahead defaults to DefaultLookahead. Negative values disable it.
	Lookahead time.Duration
	Logger    *slog.Logger
}

// Engine drives a Timeline against a clock, sending each event to the
// output exactly once per forward pass.
type Engine struct {
	tl        *Timeline
	out       output.Output
	clock     clock.Clock
	log       *slog.Logger
	lookahead time.Duration

	mu         sync.Mutex
	ctx        context.Context
	state      State
	cursor     int           // next event to dispatch
	position   time.Duration // transport position while not playing
	anchorWall time.Duration // clock time when playback was (re)anchored
	anchorPos  time.Duration // transport position at anchorWall
	scale      float64
	onEnd      func()
}

// NewEngine creates a stopped engine at position 0.
func NewEngine(tl *Timeline, out output.Output, clk clock.Clock, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	lookahead := opts.Lookahead
	if lookahead == 0 {
		lookahead = DefaultLookahead
	}
	if lookahead < 0 {
		lookahead = 0
	}
	return &Engine{
		tl:        tl,
		out:       out,
		clock:     clk,
		log:       log,
		lookahead: lookahead,
		ctx:       context.Background(),
		scale:     1,
	}
}

// Timeline returns the engine's timeline.
func (e *Engine) Timeline() *Timeline {
	return e.tl
}

// State returns the transport state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// OnEnd registers fn to run when playback reaches the end of the piece.
func (e *Engine) OnEnd(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnd = fn
}

// Play initializes the output and starts dispatching from the current
// position. Playing an engine that is already playing does nothing.
func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	if e.state == Playing {
		e.mu.Unlock()
		return nil
	}
	if e.position >= e.tl.Length() {
		e.position = 0
		e.cursor = 0
	}
	e.ctx = ctx
	e.mu.Unlock()

	if err := e.out.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize output: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.anchor(e.position)
	e.state = Playing
	e.log.Debug("Playback started", "position", e.position)
	return nil
}

// Pause stops dispatching and silences the output. The position is kept and
// events not yet heard are sent again on the next Play.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.state != Playing {
		e.mu.Unlock()
		return
	}
	e.position = e.positionLocked()
	e.state = Stopped
	e.cursor = e.tl.eventIndexAt(e.position)
	e.mu.Unlock()

	e.out.Clear()
	e.log.Debug("Playback paused", "position", e.position)
}

// Stop silences the output and rewinds to the start.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.state = Stopped
	e.position = 0
	e.cursor = 0
	e.mu.Unlock()

	e.out.Clear()
}

// Seek moves the transport to t in any state. The output is cleared exactly
// once before the cursor is repositioned, then the previous state resumes.
func (e *Engine) Seek(t time.Duration) {
	e.mu.Lock()
	prev := e.state
	e.state = Seeking
	e.mu.Unlock()

	e.out.Clear()

	e.mu.Lock()
	t = max(0, min(t, e.tl.Length()))
	e.position = t
	e.cursor = e.tl.eventIndexAt(t)
	ctx := e.ctx
	e.mu.Unlock()

	if prev == Playing {
		// Clear suspended the audio engine.
		if err := e.out.Initialize(ctx); err != nil {
			e.log.Warn("Failed to resume output after seek", "error", err)
		}
	}

	e.mu.Lock()
	e.anchor(t)
	e.state = prev
	e.mu.Unlock()
	e.log.Debug("Seeked", "position", t, "state", prev)
}

// SetTempoScale sets the playback rate. The position stays continuous.
// Events already sent ahead with the old rate are cleared and sent again.
func (e *Engine) SetTempoScale(scale float64) {
	if scale <= 0 {
		return
	}
	e.mu.Lock()
	pos := e.positionLocked()
	e.scale = scale
	if e.state != Playing {
		e.mu.Unlock()
		return
	}
	e.anchor(pos)
	resend := e.cursor > e.tl.eventIndexAt(pos)
	e.mu.Unlock()

	if resend {
		e.Seek(pos)
	}
}

// TempoScale returns the playback rate.
func (e *Engine) TempoScale() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scale
}

// Tick dispatches every event up to the current position plus lookahead.
// Each event is sent once, stamped with the clock time at which it is due.
// It is called once per frame by the transport.
func (e *Engine) Tick() {
	e.mu.Lock()
	if e.state != Playing {
		e.mu.Unlock()
		return
	}
	pos := e.positionLocked()
	horizon := pos + e.lookahead
	events := e.tl.events
	for e.cursor < len(events) && events[e.cursor].Time <= horizon {
		ev := events[e.cursor]
		e.cursor++
		e.out.Send(ev.Message, e.wallTime(ev.Time))
	}

	var onEnd func()
	if pos >= e.tl.Length() && e.cursor >= len(events) {
		e.state = Stopped
		e.position = e.tl.Length()
		onEnd = e.onEnd
		e.log.Info("Playback finished", "length", e.tl.Length())
	}
	e.mu.Unlock()

	if onEnd != nil {
		onEnd()
	}
}

// Position returns the transport position.
func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

// NotesInView returns the notes overlapping the view window around the
// current position.
func (e *Engine) NotesInView() []Note {
	pos := e.Position()
	return e.tl.NotesActiveInWindow(pos-ViewBehind, pos+ViewAhead)
}

// ActiveNotes returns the notes sounding at the current position.
func (e *Engine) ActiveNotes() []Note {
	return e.tl.NotesAt(e.Position())
}

// Measure returns the measure at the current position.
func (e *Engine) Measure() (timemap.Entry, bool) {
	return e.tl.MeasureAtTime(e.Position())
}

func (e *Engine) anchor(pos time.Duration) {
	e.anchorWall = e.clock.Now()
	e.anchorPos = pos
}

func (e *Engine) positionLocked() time.Duration {
	if e.state != Playing {
		return e.position
	}
	elapsed := time.Duration(float64(e.clock.Now()-e.anchorWall) * e.scale)
	return min(e.anchorPos+elapsed, e.tl.Length())
}

// wallTime maps a timeline time to the clock domain of the output.
func (e *Engine) wallTime(t time.Duration) time.Duration {
	return e.anchorWall + time.Duration(float64(t-e.anchorPos)/e.scale)
}
