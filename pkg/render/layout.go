// Package render draws playback frames: a piano keyboard with the sounding
// keys highlighted, the notes of the view window falling onto it and the
// current measure.
package render

import (
	"image/color"
	"time"

	"github.com/zurustar/scoresync/pkg/playback"
)

// Keyboard range: the 88 keys of a piano, A0 to C8.
const (
	LowestKey  = 21
	HighestKey = 108
)

const margin = 20

var blackKeys = [12]bool{1: true, 3: true, 6: true, 8: true, 10: true}

var palette = []color.RGBA{
	{255, 128, 0, 255},
	{51, 255, 51, 255},
	{128, 217, 255, 255},
	{204, 153, 13, 255},
	{255, 153, 179, 255},
	{128, 128, 128, 255},
}

// TrackColor returns the highlight colour of a track.
func TrackColor(track int) color.RGBA {
	if track < 0 {
		track = -track
	}
	return palette[track%len(palette)]
}

// Darker shades c for black keys.
func Darker(c color.RGBA) color.RGBA {
	return color.RGBA{uint8(float64(c.R) * 0.8), uint8(float64(c.G) * 0.8), uint8(float64(c.B) * 0.8), c.A}
}

// IsBlack reports whether pitch is a black key.
func IsBlack(pitch uint8) bool {
	return blackKeys[pitch%12]
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	X, Y, W, H float64
}

// Layout is the geometry of a frame of the given size: the falling-notes
// area on top and the keyboard along the bottom edge.
type Layout struct {
	Width, Height float64
	KeyW, KeyH    float64
	BlackW        float64
	BlackH        float64
	KeyY          float64
}

// NewLayout sizes the keyboard to fill the width.
func NewLayout(width, height float64) Layout {
	whites := whitesBelow(HighestKey+1) - whitesBelow(LowestKey)
	keyW := (width - 2*margin) / float64(whites)
	keyH := keyW * 6
	if keyH > height/3 {
		keyH = height / 3
	}
	return Layout{
		Width:  width,
		Height: height,
		KeyW:   keyW,
		KeyH:   keyH,
		BlackW: keyW / 1.7,
		BlackH: keyH / 1.6,
		KeyY:   height - keyH,
	}
}

func whitesBelow(pitch int) int {
	n := 0
	for p := 0; p < pitch; p++ {
		if !blackKeys[p%12] {
			n++
		}
	}
	return n
}

// Key returns the rectangle of a key. ok is false outside the keyboard.
func (l Layout) Key(pitch uint8) (r Rect, ok bool) {
	if pitch < LowestKey || pitch > HighestKey {
		return Rect{}, false
	}
	x := margin + float64(whitesBelow(int(pitch))-whitesBelow(LowestKey))*l.KeyW
	if IsBlack(pitch) {
		return Rect{X: x - l.BlackW/2, Y: l.KeyY, W: l.BlackW, H: l.BlackH}, true
	}
	return Rect{X: x, Y: l.KeyY, W: l.KeyW, H: l.KeyH}, true
}

// Falling returns the rectangle of a note in the falling-notes area at the
// given transport position. Notes reach the keyboard when they start;
// playback.ViewAhead spans the whole area. ok is false when the note is not
// visible.
func (l Layout) Falling(n playback.Note, pos time.Duration) (r Rect, ok bool) {
	key, ok := l.Key(n.Pitch)
	if !ok {
		return Rect{}, false
	}
	scale := l.KeyY / float64(playback.ViewAhead)
	bottom := l.KeyY - float64(n.Timestamp-pos)*scale
	top := l.KeyY - float64(n.OffTime-pos)*scale
	if bottom > l.KeyY {
		bottom = l.KeyY
	}
	if top < 0 {
		top = 0
	}
	if bottom <= top {
		return Rect{}, false
	}
	return Rect{X: key.X, Y: top, W: key.W, H: bottom - top}, true
}

// Pressed maps each sounding pitch to the track that plays it. When several
// tracks share a pitch the lowest track wins.
func Pressed(active []playback.Note) map[uint8]int {
	pressed := make(map[uint8]int, len(active))
	for _, n := range active {
		if t, ok := pressed[n.Pitch]; !ok || n.Track < t {
			pressed[n.Pitch] = n.Track
		}
	}
	return pressed
}
