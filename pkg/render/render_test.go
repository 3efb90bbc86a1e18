package render

import (
	"bytes"
	"image/png"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/zurustar/scoresync/pkg/playback"
	"github.com/zurustar/scoresync/pkg/timemap"
	"github.com/zurustar/scoresync/pkg/transport"
)

func TestNoteValue(t *testing.T) {
	q := 500 * time.Millisecond // a quarter at 120 BPM
	tests := []struct {
		name string
		d    time.Duration
		bpm  float64
		want string
	}{
		{"whole", 4 * q, 120, "w"},
		{"half", 2 * q, 120, "h"},
		{"quarter", q, 120, "q"},
		{"eighth", q / 2, 120, "8"},
		{"sixteenth", q / 4, 120, "16"},
		{"thirty-second", q / 8, 120, "32"},
		{"very short", time.Millisecond, 120, "32"},
		{"very long", 40 * q, 120, "w"},
		{"dotted eighth", 3 * q / 4, 120, "8d"},
		{"dotted whole", 6 * q, 120, "wd"},
		{"dotted half rounds to whole", 3 * q, 120, "w"},
		{"dotted quarter rounds to half", 3 * q / 2, 120, "h"},
		{"slower tempo", time.Second, 60, "q"},
		{"invalid tempo means 120", q, 0, "q"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NoteValue(tt.d, tt.bpm); got != tt.want {
				t.Errorf("NoteValue(%v, %v) = %q, want %q", tt.d, tt.bpm, got, tt.want)
			}
		})
	}
}

func TestLayout(t *testing.T) {
	l := NewLayout(1280, 720)

	first, ok := l.Key(LowestKey)
	if !ok || first.X != margin {
		t.Errorf("Key(A0) = %+v, %v", first, ok)
	}
	last, ok := l.Key(HighestKey)
	if !ok || last.X+last.W > l.Width-margin+0.001 {
		t.Errorf("Key(C8) = %+v ends past the right margin", last)
	}
	if _, ok := l.Key(LowestKey - 1); ok {
		t.Error("keys below A0 must be off the keyboard")
	}
	if _, ok := l.Key(HighestKey + 1); ok {
		t.Error("keys above C8 must be off the keyboard")
	}

	c, _ := l.Key(60)
	cs, _ := l.Key(61)
	d, _ := l.Key(62)
	if !(c.X < cs.X && cs.X < d.X) {
		t.Errorf("keys out of order: C=%v C#=%v D=%v", c.X, cs.X, d.X)
	}
	if cs.W >= c.W || cs.H >= c.H {
		t.Error("black keys must be smaller than white keys")
	}
	if math.Abs(l.KeyY+l.KeyH-l.Height) > 1e-9 {
		t.Errorf("keyboard must sit on the bottom edge: %v + %v", l.KeyY, l.KeyH)
	}
}

func TestFalling(t *testing.T) {
	l := NewLayout(1280, 720)
	pos := 10 * time.Second

	tests := []struct {
		name    string
		note    playback.Note
		visible bool
	}{
		{"sounding", playback.Note{Pitch: 60, Timestamp: pos - time.Second, OffTime: pos + time.Second}, true},
		{"upcoming", playback.Note{Pitch: 60, Timestamp: pos + time.Second, OffTime: pos + 2*time.Second}, true},
		{"past", playback.Note{Pitch: 60, Timestamp: pos - 2*time.Second, OffTime: pos - time.Second}, false},
		{"beyond the view", playback.Note{Pitch: 60, Timestamp: pos + playback.ViewAhead + 100*time.Millisecond, OffTime: pos + playback.ViewAhead + time.Second}, false},
		{"off the keyboard", playback.Note{Pitch: 10, Timestamp: pos, OffTime: pos + time.Second}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := l.Falling(tt.note, pos)
			if ok != tt.visible {
				t.Fatalf("Falling() visible = %v, want %v", ok, tt.visible)
			}
			if ok && (r.Y < 0 || r.Y+r.H > l.KeyY+0.001) {
				t.Errorf("rect %+v leaves the falling area", r)
			}
		})
	}

	t.Run("sounding notes touch the keyboard", func(t *testing.T) {
		r, _ := l.Falling(tests[0].note, pos)
		if math.Abs(r.Y+r.H-l.KeyY) > 1e-9 {
			t.Errorf("bottom = %v, want %v", r.Y+r.H, l.KeyY)
		}
	})
}

func TestPressed(t *testing.T) {
	got := Pressed([]playback.Note{
		{Track: 2, Pitch: 60},
		{Track: 1, Pitch: 60},
		{Track: 3, Pitch: 64},
	})
	if len(got) != 2 || got[60] != 1 || got[64] != 3 {
		t.Errorf("Pressed() = %v", got)
	}
}

func TestClock(t *testing.T) {
	tests := map[time.Duration]string{
		0:                       "0:00.000",
		1500 * time.Millisecond: "0:01.500",
		2*time.Minute + 5*time.Second + 42*time.Millisecond: "2:05.042",
		-250 * time.Millisecond:                             "-0:00.250",
	}
	for d, want := range tests {
		if got := Clock(d); got != want {
			t.Errorf("Clock(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestStatus(t *testing.T) {
	fr := transport.Frame{
		Position:   3 * time.Second,
		Measure:    timemap.Entry{Measure: 2},
		HasMeasure: true,
		State:      playback.Playing,
	}
	if got := Status(fr); got != "0:03.000  measure 2  Playing" {
		t.Errorf("Status() = %q", got)
	}
	fr.HasMeasure = false
	if got := Status(fr); !strings.Contains(got, "measure -") {
		t.Errorf("Status() = %q", got)
	}
}

func TestSnapshot(t *testing.T) {
	if _, err := NewSnapshot(0, 10); err == nil {
		t.Error("expected an error for an empty image")
	}

	s, err := NewSnapshot(1280, 720)
	if err != nil {
		t.Fatal(err)
	}
	e4 := playback.Note{Track: 0, Pitch: 64, Timestamp: 0, OffTime: 2 * time.Second}
	fr := transport.Frame{
		Position: time.Second,
		Notes:    []playback.Note{e4},
		Active:   []playback.Note{e4},
		State:    playback.Playing,
	}

	var buf bytes.Buffer
	if err := s.EncodePNG(&buf, fr); err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 1280 || b.Dy() != 720 {
		t.Fatalf("size = %v", b)
	}

	key, _ := s.Layout().Key(64)
	x, y := int(key.X+key.W/2), int(key.Y+key.H*0.9)
	r, g, b, _ := img.At(x, y).RGBA()
	want := TrackColor(0)
	if r>>8 != uint32(want.R) || g>>8 != uint32(want.G) || b>>8 != uint32(want.B) {
		t.Errorf("pressed key pixel = (%d,%d,%d), want %v", r>>8, g>>8, b>>8, want)
	}

	other, _ := s.Layout().Key(67)
	r, g, b, _ = img.At(int(other.X+other.W/2), int(other.Y+other.H*0.9)).RGBA()
	if r>>8 != 255 || g>>8 != 255 || b>>8 != 255 {
		t.Errorf("released key pixel = (%d,%d,%d), want white", r>>8, g>>8, b>>8)
	}
}

func TestLogRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogRenderer(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	frame := func(pos time.Duration, measure int, state playback.State) transport.Frame {
		return transport.Frame{Position: pos, Measure: timemap.Entry{Measure: measure}, HasMeasure: true, State: state}
	}
	r.Render(frame(0, 0, playback.Playing))
	r.Render(frame(time.Second, 0, playback.Playing))
	r.Render(frame(2*time.Second, 1, playback.Playing))
	r.Render(frame(3*time.Second, 1, playback.Stopped))

	out := buf.String()
	if n := strings.Count(out, "msg=Measure"); n != 2 {
		t.Errorf("logged %d measure changes, want 2:\n%s", n, out)
	}
	if n := strings.Count(out, `msg="Playback state"`); n != 2 {
		t.Errorf("logged %d state changes, want 2:\n%s", n, out)
	}
	if strings.Contains(out, "Sounding") {
		t.Error("debug output leaked at info level")
	}
}
