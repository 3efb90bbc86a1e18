package output

import (
	"math"
	"time"

	"github.com/zurustar/scoresync/pkg/audio"
)

// openEnded is the OffTime of a note whose note-off has not been received.
const openEnded = time.Duration(math.MaxInt64)

// Note is one triggered sound.
type Note struct {
	Channel   uint8
	Pitch     uint8
	Velocity  uint8
	Timestamp time.Duration
	OffTime   time.Duration
	stop      audio.StopFunc
}

// registry tracks sounding notes. active holds at most one note per
// (channel, pitch); releasing holds notes whose release is scheduled but
// not yet due.
type registry struct {
	active    []*Note
	releasing []*Note
}

func (r *registry) find(channel, pitch uint8) int {
	for i, n := range r.active {
		if n.Channel == channel && n.Pitch == pitch {
			return i
		}
	}
	return -1
}

// noteOn registers n, replacing an active note on the same channel and pitch.
func (r *registry) noteOn(n *Note) {
	if i := r.find(n.Channel, n.Pitch); i >= 0 {
		r.active[i] = n
		return
	}
	r.active = append(r.active, n)
}

// noteOff removes and returns the active note on channel and pitch.
func (r *registry) noteOff(channel, pitch uint8) *Note {
	i := r.find(channel, pitch)
	if i < 0 {
		return nil
	}
	n := r.active[i]
	r.active = append(r.active[:i], r.active[i+1:]...)
	return n
}

// channelNotes removes and returns every active note on channel.
func (r *registry) channelNotes(channel uint8) []*Note {
	var out []*Note
	kept := r.active[:0]
	for _, n := range r.active {
		if n.Channel == channel {
			out = append(out, n)
		} else {
			kept = append(kept, n)
		}
	}
	clear(r.active[len(kept):])
	r.active = kept
	return out
}

// release records a note whose stop is scheduled for its OffTime.
func (r *registry) release(n *Note) {
	r.releasing = append(r.releasing, n)
}

// prune forgets releasing notes whose OffTime has passed.
func (r *registry) prune(now time.Duration) {
	kept := r.releasing[:0]
	for _, n := range r.releasing {
		if n.OffTime > now {
			kept = append(kept, n)
		}
	}
	clear(r.releasing[len(kept):])
	r.releasing = kept
}

// drain empties the registry and returns every note it held.
func (r *registry) drain() []*Note {
	out := append(r.active, r.releasing...)
	r.active = nil
	r.releasing = nil
	return out
}

func (r *registry) snapshot() []Note {
	out := make([]Note, len(r.active))
	for i, n := range r.active {
		out[i] = *n
		out[i].stop = nil
	}
	return out
}

// closeNote sets the OffTime of n keeping OffTime > Timestamp.
func closeNote(n *Note, off time.Duration) {
	if off <= n.Timestamp {
		off = n.Timestamp + 1
	}
	n.OffTime = off
}
