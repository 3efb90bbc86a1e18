package render

import (
	"fmt"
	"image"
	"io"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/zurustar/scoresync/pkg/transport"
)

const fallingNoteRadius = 3

// Snapshot rasterizes frames with gg.
type Snapshot struct {
	layout Layout
	face   font.Face
	dc     *gg.Context
}

// NewSnapshot creates a rasterizer for width x height images.
func NewSnapshot(width, height int) (*Snapshot, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid snapshot size %dx%d", width, height)
	}
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	layout := NewLayout(float64(width), float64(height))
	return &Snapshot{
		layout: layout,
		face:   truetype.NewFace(f, &truetype.Options{Size: 14}),
		dc:     gg.NewContext(width, height),
	}, nil
}

// Layout returns the frame geometry.
func (s *Snapshot) Layout() Layout {
	return s.layout
}

// Draw paints fr and returns the image. The image is reused by the next Draw.
func (s *Snapshot) Draw(fr transport.Frame) image.Image {
	dc := s.dc
	dc.SetRGB(0.17, 0.17, 0.17)
	dc.DrawRectangle(0, 0, s.layout.Width, s.layout.Height)
	dc.Fill()

	s.drawOctaveLines()
	s.drawKeyboard(Pressed(fr.Active))
	s.drawFallingNotes(fr)
	s.drawStatus(fr)
	return dc.Image()
}

// Render implements transport.Renderer.
func (s *Snapshot) Render(fr transport.Frame) {
	s.Draw(fr)
}

// EncodePNG draws fr and writes it as PNG.
func (s *Snapshot) EncodePNG(w io.Writer, fr transport.Frame) error {
	s.Draw(fr)
	return s.dc.EncodePNG(w)
}

// SavePNG draws fr into a PNG file.
func (s *Snapshot) SavePNG(path string, fr transport.Frame) error {
	s.Draw(fr)
	return s.dc.SavePNG(path)
}

func (s *Snapshot) drawOctaveLines() {
	dc := s.dc
	for p := LowestKey; p <= HighestKey; p++ {
		if p%12 != 0 {
			continue
		}
		r, _ := s.layout.Key(uint8(p))
		dc.SetRGBA(1, 1, 1, 0.3)
		dc.SetLineWidth(0.5)
		dc.DrawLine(r.X, 0, r.X, s.layout.KeyY)
		dc.Stroke()
	}
}

func (s *Snapshot) drawKeyboard(pressed map[uint8]int) {
	dc := s.dc
	// White keys first so black keys overlap them.
	for _, black := range []bool{false, true} {
		for p := LowestKey; p <= HighestKey; p++ {
			pitch := uint8(p)
			if IsBlack(pitch) != black {
				continue
			}
			r, _ := s.layout.Key(pitch)
			dc.DrawRectangle(r.X, r.Y, r.W, r.H)
			track, down := pressed[pitch]
			switch {
			case down && black:
				dc.SetColor(Darker(TrackColor(track)))
			case down:
				dc.SetColor(TrackColor(track))
			case black:
				dc.SetRGB(0.13, 0.13, 0.13)
			default:
				dc.SetRGB(1, 1, 1)
			}
			dc.FillPreserve()
			dc.SetRGBA(0, 0, 0, 1)
			dc.SetLineWidth(1)
			dc.Stroke()
		}
	}

	dc.SetFontFace(s.face)
	dc.SetRGBA(0, 0, 0, 0.6)
	for p := LowestKey; p <= HighestKey; p++ {
		if p%12 != 0 {
			continue
		}
		r, _ := s.layout.Key(uint8(p))
		dc.DrawStringAnchored(fmt.Sprintf("C%d", p/12-1), r.X+r.W/2, s.layout.Height-6, 0.5, 0)
	}
}

func (s *Snapshot) drawFallingNotes(fr transport.Frame) {
	dc := s.dc
	for _, n := range fr.Notes {
		r, ok := s.layout.Falling(n, fr.Position)
		if !ok {
			continue
		}
		dc.DrawRoundedRectangle(r.X, r.Y, r.W, r.H, fallingNoteRadius)
		if IsBlack(n.Pitch) {
			dc.SetColor(Darker(TrackColor(n.Track)))
		} else {
			dc.SetColor(TrackColor(n.Track))
		}
		dc.FillPreserve()
		dc.SetRGBA(0, 0, 0, 1)
		dc.SetLineWidth(1)
		dc.Stroke()
	}
}

func (s *Snapshot) drawStatus(fr transport.Frame) {
	dc := s.dc
	dc.SetFontFace(s.face)
	dc.SetRGB(1, 1, 1)
	dc.DrawString(Status(fr), margin, margin)
}

// Status is the one-line caption of a frame: position, measure and state.
func Status(fr transport.Frame) string {
	measure := "-"
	if fr.HasMeasure {
		measure = fmt.Sprint(fr.Measure.Measure)
	}
	return fmt.Sprintf("%s  measure %s  %s", Clock(fr.Position), measure, fr.State)
}

// Clock formats a position as m:ss.mmm.
func Clock(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign, d = "-", -d
	}
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%s%d:%02d.%03d", sign, m, s, d/time.Millisecond)
}
