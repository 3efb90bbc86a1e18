package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zurustar/scoresync/pkg/clock"
	"github.com/zurustar/scoresync/pkg/midi"
	"github.com/zurustar/scoresync/pkg/output"
	"github.com/zurustar/scoresync/pkg/timemap"
)

// twoNotes is a 2 second piece: C4 for the first second, E4 for the next.
func twoNotes(t *testing.T) *Timeline {
	t.Helper()
	return NewTimeline(buildFile(t,
		testNote{key: 60, on: 0, off: sec(1)},
		testNote{key: 64, on: sec(1), off: sec(2)},
	), timemap.Timemap{
		{Measure: 1, Start: 0, Duration: sec(1)},
		{Measure: 2, Start: sec(1), Duration: sec(1)},
	})
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *output.Recorder, *clock.Manual) {
	t.Helper()
	rec := output.NewRecorder()
	clk := clock.NewManual(10 * time.Second)
	return NewEngine(twoNotes(t), rec, clk, opts), rec, clk
}

func kinds(sent []output.Sent) []midi.Kind {
	out := make([]midi.Kind, len(sent))
	for i, s := range sent {
		out[i] = midi.Decode(s.Data).Kind
	}
	return out
}

func TestEngineTick(t *testing.T) {
	e, rec, clk := newTestEngine(t, Options{})
	ended := 0
	e.OnEnd(func() { ended++ })

	if err := e.Play(context.Background()); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if e.State() != Playing {
		t.Fatalf("state = %v, want Playing", e.State())
	}

	t.Run("dispatches events due within the lookahead", func(t *testing.T) {
		e.Tick()
		sent := rec.Sent()
		if len(sent) != 2 {
			t.Fatalf("expected program change and note-on, got %v", kinds(sent))
		}
		if k := midi.Decode(sent[1].Data).Kind; k != midi.KindNoteOn {
			t.Errorf("second event = %v, want note-on", k)
		}
		if sent[1].Timestamp != 10*time.Second {
			t.Errorf("timestamp = %v, want 10s", sent[1].Timestamp)
		}
	})

	t.Run("each event is sent once", func(t *testing.T) {
		e.Tick()
		e.Tick()
		if n := len(rec.Sent()); n != 2 {
			t.Errorf("expected no new events, got %d total", n)
		}
	})

	t.Run("events are stamped with their due clock time", func(t *testing.T) {
		clk.Advance(950 * time.Millisecond)
		e.Tick()
		sent := rec.Sent()[2:]
		if len(sent) != 2 {
			t.Fatalf("expected note-off and note-on at 1s, got %v", kinds(sent))
		}
		if midi.Decode(sent[0].Data).Kind != midi.KindNoteOff || midi.Decode(sent[1].Data).Kind != midi.KindNoteOn {
			t.Errorf("unexpected order %v", kinds(sent))
		}
		for _, s := range sent {
			if s.Timestamp != 11*time.Second {
				t.Errorf("timestamp = %v, want 11s", s.Timestamp)
			}
		}
	})

	t.Run("stops at the end", func(t *testing.T) {
		clk.Advance(2 * time.Second)
		e.Tick()
		if e.State() != Stopped {
			t.Errorf("state = %v, want Stopped", e.State())
		}
		if e.Position() != sec(2) {
			t.Errorf("position = %v, want 2s", e.Position())
		}
		if ended != 1 {
			t.Errorf("OnEnd called %d times, want 1", ended)
		}
		if n := len(rec.Sent()); n != 5 {
			t.Errorf("expected 5 events in total, got %d", n)
		}
	})

	t.Run("play at the end rewinds", func(t *testing.T) {
		if err := e.Play(context.Background()); err != nil {
			t.Fatal(err)
		}
		if e.Position() != 0 {
			t.Errorf("position = %v, want 0", e.Position())
		}
	})
}

func TestEngineTickWhileStopped(t *testing.T) {
	e, rec, _ := newTestEngine(t, Options{})
	e.Tick()
	if len(rec.Sent()) != 0 {
		t.Error("a stopped engine must not dispatch")
	}
}

func TestEngineLookahead(t *testing.T) {
	e, rec, clk := newTestEngine(t, Options{Lookahead: 2 * time.Second})
	if err := e.Play(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Tick()
	sent := rec.Sent()
	if len(sent) != 5 {
		t.Fatalf("expected every event, got %v", kinds(sent))
	}
	if last := sent[len(sent)-1]; last.Timestamp != clk.Now()+2*time.Second {
		t.Errorf("last timestamp = %v, want 12s", last.Timestamp)
	}
}

func TestEngineSeek(t *testing.T) {
	t.Run("while playing", func(t *testing.T) {
		e, rec, clk := newTestEngine(t, Options{})
		if err := e.Play(context.Background()); err != nil {
			t.Fatal(err)
		}
		e.Tick()

		e.Seek(sec(1.5))
		if rec.Clears() != 1 {
			t.Errorf("Clear called %d times, want 1", rec.Clears())
		}
		if e.State() != Playing {
			t.Errorf("state = %v, want Playing", e.State())
		}
		if rec.Initialized() != 2 {
			t.Errorf("output initialized %d times, want 2", rec.Initialized())
		}
		if len(rec.ActiveNotes()) != 0 {
			t.Error("registry must be empty after seek")
		}

		rec.Reset()
		e.Tick()
		if len(rec.Sent()) != 0 {
			t.Errorf("nothing is due at 1.5s, got %v", kinds(rec.Sent()))
		}
		clk.Advance(500 * time.Millisecond)
		e.Tick()
		sent := rec.Sent()
		if len(sent) != 1 || midi.Decode(sent[0].Data).Kind != midi.KindNoteOff {
			t.Fatalf("expected the final note-off, got %v", kinds(sent))
		}
		if sent[0].Timestamp != 10500*time.Millisecond {
			t.Errorf("timestamp = %v, want 10.5s", sent[0].Timestamp)
		}
	})

	t.Run("while stopped", func(t *testing.T) {
		e, rec, _ := newTestEngine(t, Options{})
		e.Seek(sec(0.5))
		if e.State() != Stopped || e.Position() != sec(0.5) {
			t.Errorf("state %v at %v", e.State(), e.Position())
		}
		if rec.Clears() != 1 || rec.Initialized() != 0 {
			t.Errorf("clears=%d initialized=%d", rec.Clears(), rec.Initialized())
		}
		if got := pitches(e.ActiveNotes()); len(got) != 1 || got[0] != 60 {
			t.Errorf("ActiveNotes() = %v", got)
		}
	})

	t.Run("clamps to the piece", func(t *testing.T) {
		e, _, _ := newTestEngine(t, Options{})
		e.Seek(sec(30))
		if e.Position() != sec(2) {
			t.Errorf("position = %v, want 2s", e.Position())
		}
		e.Seek(-sec(1))
		if e.Position() != 0 {
			t.Errorf("position = %v, want 0", e.Position())
		}
	})

	t.Run("backwards replays events", func(t *testing.T) {
		e, rec, clk := newTestEngine(t, Options{})
		if err := e.Play(context.Background()); err != nil {
			t.Fatal(err)
		}
		clk.Advance(sec(1.5))
		e.Tick()
		e.Seek(0)
		rec.Reset()
		e.Tick()
		if got := kinds(rec.Sent()); len(got) != 2 || got[1] != midi.KindNoteOn {
			t.Errorf("expected the opening events again, got %v", got)
		}
	})
}

func TestEnginePauseStop(t *testing.T) {
	e, rec, clk := newTestEngine(t, Options{})
	if err := e.Play(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Tick()
	clk.Advance(500 * time.Millisecond)

	e.Pause()
	if e.State() != Stopped || e.Position() != sec(0.5) {
		t.Errorf("after pause: %v at %v", e.State(), e.Position())
	}
	if rec.Clears() != 1 {
		t.Errorf("Clear called %d times, want 1", rec.Clears())
	}

	// The position does not move while paused.
	clk.Advance(time.Second)
	if e.Position() != sec(0.5) {
		t.Errorf("position moved while paused: %v", e.Position())
	}

	e.Pause()
	if rec.Clears() != 1 {
		t.Error("pausing a stopped engine must not clear again")
	}

	e.Stop()
	if e.Position() != 0 || rec.Clears() != 2 {
		t.Errorf("after stop: position %v, clears %d", e.Position(), rec.Clears())
	}
}

func TestEnginePlayError(t *testing.T) {
	e, _, _ := newTestEngine(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Play(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Play() = %v, want context.Canceled", err)
	}
	if e.State() != Stopped {
		t.Errorf("state = %v, want Stopped", e.State())
	}
}

func TestEngineTempoScale(t *testing.T) {
	e, rec, clk := newTestEngine(t, Options{Lookahead: -1})
	if err := e.Play(context.Background()); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Second)
	e.SetTempoScale(2)
	if e.Position() != sec(1) {
		t.Errorf("position jumped to %v", e.Position())
	}
	if e.TempoScale() != 2 {
		t.Errorf("TempoScale() = %v", e.TempoScale())
	}

	clk.Advance(250 * time.Millisecond)
	if e.Position() != sec(1.5) {
		t.Errorf("position = %v, want 1.5s", e.Position())
	}

	e.SetTempoScale(0)
	if e.TempoScale() != 2 {
		t.Error("non-positive scales must be ignored")
	}

	rec.Reset()
	clk.Advance(250 * time.Millisecond)
	e.Tick()
	sent := rec.Sent()
	if len(sent) == 0 {
		t.Fatal("expected the final note-off")
	}
	// Anchored at clock 11s and position 1s: the 2s event is due at 11.5s.
	if last := sent[len(sent)-1]; last.Timestamp != 11500*time.Millisecond {
		t.Errorf("timestamp = %v, want 11.5s", last.Timestamp)
	}
}

func TestEngineTempoScaleResendsLookahead(t *testing.T) {
	e, rec, _ := newTestEngine(t, Options{Lookahead: 2 * time.Second})
	if err := e.Play(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Tick()
	if len(rec.Sent()) != 5 {
		t.Fatalf("expected every event, got %v", kinds(rec.Sent()))
	}

	rec.Reset()
	e.SetTempoScale(2)
	if rec.Clears() != 1 || e.State() != Playing {
		t.Fatalf("expected one Clear while playing, got %d clears in %v", rec.Clears(), e.State())
	}

	e.Tick()
	sent := rec.Sent()
	if len(sent) != 5 {
		t.Fatalf("expected every event again, got %v", kinds(sent))
	}
	// The 2s event at double speed is due one second after the anchor.
	if last := sent[len(sent)-1]; last.Timestamp != 11*time.Second {
		t.Errorf("last timestamp = %v, want 11s", last.Timestamp)
	}
}

func TestEngineQueries(t *testing.T) {
	e, _, _ := newTestEngine(t, Options{})

	if got := pitches(e.NotesInView()); len(got) != 2 {
		t.Errorf("NotesInView() at 0 = %v, want both notes", got)
	}
	if m, ok := e.Measure(); !ok || m.Measure != 1 {
		t.Errorf("Measure() = %v, %v", m, ok)
	}

	e.Seek(sec(1.2))
	if m, ok := e.Measure(); !ok || m.Measure != 2 {
		t.Errorf("Measure() at 1.2s = %v, %v", m, ok)
	}
	if got := pitches(e.ActiveNotes()); len(got) != 1 || got[0] != 64 {
		t.Errorf("ActiveNotes() at 1.2s = %v", got)
	}
	// C4 ended 0.2s ago and is still in view.
	if got := pitches(e.NotesInView()); len(got) != 2 {
		t.Errorf("NotesInView() at 1.2s = %v", got)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{Stopped: "Stopped", Playing: "Playing", Seeking: "Seeking", State(9): "State(9)"}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
