package timemap

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func sampleTimemap() Timemap {
	return Timemap{
		{Measure: 0, Start: 0, Duration: ms(2000)},
		{Measure: 1, Start: ms(2000), Duration: ms(2000)},
		{Measure: 2, Start: ms(4000), Duration: ms(1500)},
		// gap between 5500 and 6000
		{Measure: 3, Start: ms(6000), Duration: ms(2000)},
	}
}

func TestMeasureAt(t *testing.T) {
	tm := sampleTimemap()

	tests := []struct {
		name string
		t    time.Duration
		want int
	}{
		{"start of first", 0, 0},
		{"inside first", ms(1999), 0},
		{"boundary belongs to next", ms(2000), 1},
		{"inside third", ms(4500), 2},
		{"gap clamps to preceding", ms(5700), 2},
		{"inside last", ms(7000), 3},
		{"past end clamps to last", ms(60000), 3},
		{"before first clamps to first", -ms(100), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := tm.MeasureAt(tt.t)
			if !ok {
				t.Fatal("MeasureAt returned false")
			}
			if e.Measure != tt.want {
				t.Errorf("MeasureAt(%v) = %d, want %d", tt.t, e.Measure, tt.want)
			}
		})
	}

	t.Run("empty timemap", func(t *testing.T) {
		if _, ok := Timemap(nil).MeasureAt(0); ok {
			t.Error("expected no measure for empty timemap")
		}
	})
}

func TestValidate(t *testing.T) {
	if err := sampleTimemap().Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	overlapping := Timemap{
		{Measure: 0, Start: 0, Duration: ms(2000)},
		{Measure: 1, Start: ms(1500), Duration: ms(2000)},
	}
	if err := overlapping.Validate(); !errors.Is(err, ErrUnordered) {
		t.Errorf("expected ErrUnordered, got %v", err)
	}

	duplicate := Timemap{
		{Measure: 0, Start: 0, Duration: 0},
		{Measure: 1, Start: 0, Duration: ms(100)},
	}
	if err := duplicate.Validate(); !errors.Is(err, ErrUnordered) {
		t.Errorf("expected ErrUnordered for equal starts, got %v", err)
	}
}

func TestDecode(t *testing.T) {
	t.Run("start field", func(t *testing.T) {
		tm, err := Decode(strings.NewReader(`[{"measure":0,"start":0,"duration":2000},{"measure":1,"start":2000,"duration":1000.5}]`))
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if len(tm) != 2 || tm[1].Start != ms(2000) || tm[1].Duration != 1000500*time.Microsecond {
			t.Errorf("unexpected timemap %+v", tm)
		}
	})

	t.Run("timestamp alias", func(t *testing.T) {
		tm, err := Decode(strings.NewReader(`[{"measure":4,"timestamp":1250,"duration":500}]`))
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if tm[0].Measure != 4 || tm[0].Start != ms(1250) {
			t.Errorf("unexpected entry %+v", tm[0])
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := Decode(strings.NewReader(`{`)); err == nil {
			t.Error("expected error")
		}
	})
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	if err := Timemap(nil).Encode(&buf); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("expected empty array, got %s", buf.String())
	}

	buf.Reset()
	if err := (Timemap{{Measure: 1, Start: ms(1500), Duration: ms(500)}}).Encode(&buf); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != `[{"measure":1,"start":1500,"duration":500}]` {
		t.Errorf("unexpected JSON %s", got)
	}
}

// genTimemap builds ordered timemaps from measure durations and gaps in ms.
func genTimemap() gopter.Gen {
	return gen.SliceOf(gen.IntRange(1, 4000)).Map(func(durations []int) Timemap {
		tm := make(Timemap, 0, len(durations))
		start := 0
		for i, d := range durations {
			tm = append(tm, Entry{Measure: i, Start: ms(start), Duration: ms(d)})
			start += d
			if i%3 == 2 {
				start += d / 2
			}
		}
		return tm
	})
}

func TestMeasureAtMonotonicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("measure is non-decreasing in time", prop.ForAll(
		func(tm Timemap, a, b int) bool {
			if len(tm) == 0 {
				return true
			}
			t1, t2 := ms(a), ms(b)
			if t1 > t2 {
				t1, t2 = t2, t1
			}
			m1, _ := tm.MeasureAt(t1)
			m2, _ := tm.MeasureAt(t2)
			return m1.Measure <= m2.Measure
		},
		genTimemap(),
		gen.IntRange(-1000, 200000),
		gen.IntRange(-1000, 200000),
	))

	properties.Property("returned entry contains t when t is inside a measure", prop.ForAll(
		func(tm Timemap, a int) bool {
			t1 := ms(a)
			e, ok := tm.MeasureAt(t1)
			if !ok {
				return len(tm) == 0
			}
			for _, x := range tm {
				if x.Contains(t1) {
					return x == e
				}
			}
			return true
		},
		genTimemap(),
		gen.IntRange(0, 200000),
	))

	properties.TestingRun(t)
}
