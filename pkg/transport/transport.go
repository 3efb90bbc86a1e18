// Package transport drives the playback engine once per frame and hands the
// per-frame query results to the render collaborators.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/zurustar/scoresync/pkg/playback"
	"github.com/zurustar/scoresync/pkg/timemap"
)

// DefaultFrameInterval is one frame at 60 fps.
const DefaultFrameInterval = time.Second / 60

// Frame is the state of one rendered frame.
type Frame struct {
	Position time.Duration
	// Notes overlapping the view window around Position.
	Notes []playback.Note
	// Active holds the notes sounding at Position.
	Active     []playback.Note
	Measure    timemap.Entry
	HasMeasure bool
	State      playback.State
}

// Renderer consumes frames. Render must not block.
type Renderer interface {
	Render(Frame)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Frame)

func (f RendererFunc) Render(fr Frame) { f(fr) }

// Step performs one frame: dispatch due events, query the engine at the
// resulting position, and hand the result to every renderer.
func Step(e *playback.Engine, renderers ...Renderer) Frame {
	e.Tick()

	pos := e.Position()
	tl := e.Timeline()
	fr := Frame{
		Position: pos,
		Notes:    tl.NotesActiveInWindow(pos-playback.ViewBehind, pos+playback.ViewAhead),
		Active:   tl.NotesAt(pos),
		State:    e.State(),
	}
	fr.Measure, fr.HasMeasure = tl.MeasureAtTime(pos)

	for _, r := range renderers {
		r.Render(fr)
	}
	return fr
}

// Loop steps an engine at a fixed interval on its own goroutine. It is the
// headless counterpart of the window's Update callback.
type Loop struct {
	engine    *playback.Engine
	renderers []Renderer
	interval  time.Duration

	ticker  *time.Ticker
	running bool
	frames  int
	stopCh  chan struct{}
	doneCh  chan struct{}
	endCh   chan struct{}
	mu      sync.Mutex
}

// NewLoop creates a stopped loop. A non-positive interval selects
// DefaultFrameInterval.
func NewLoop(e *playback.Engine, interval time.Duration, renderers ...Renderer) *Loop {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Loop{
		engine:    e,
		renderers: renderers,
		interval:  interval,
		endCh:     make(chan struct{}),
	}
}

// Start begins stepping. Starting a running loop does nothing.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.ticker = time.NewTicker(l.interval)

	go l.run(l.ticker, l.stopCh, l.doneCh)
}

func (l *Loop) run(ticker *time.Ticker, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			fr := Step(l.engine, l.renderers...)

			l.mu.Lock()
			l.frames++
			l.mu.Unlock()

			if fr.State == playback.Stopped && fr.Position >= l.engine.Timeline().Length() {
				l.signalEnd()
				return
			}
		}
	}
}

func (l *Loop) signalEnd() {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.endCh:
	default:
		close(l.endCh)
	}
}

// Stop halts stepping and waits for the loop goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	doneCh := l.doneCh
	l.mu.Unlock()

	<-doneCh

	l.mu.Lock()
	l.ticker.Stop()
	l.ticker = nil
	l.stopCh = nil
	l.doneCh = nil
	l.mu.Unlock()
}

// Run starts the loop and blocks until ctx is done or the piece ends.
// It returns ctx.Err() when cancelled and nil at the end of the piece.
func (l *Loop) Run(ctx context.Context) error {
	l.Start()
	defer l.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.endCh:
		return nil
	}
}

// Ended is closed when the loop observed the end of the piece.
func (l *Loop) Ended() <-chan struct{} {
	return l.endCh
}

// IsRunning reports whether the loop goroutine is active.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Frames returns how many frames have been stepped.
func (l *Loop) Frames() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}

// Interval returns the frame interval.
func (l *Loop) Interval() time.Duration {
	return l.interval
}
