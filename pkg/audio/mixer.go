package audio

import (
	"cmp"
	"encoding/binary"
	"sync"
	"time"

	"github.com/zurustar/scoresync/pkg/search"
)

// Synth is the part of a software synthesizer the mixer drives.
// *meltysynth.Synthesizer satisfies it.
type Synth interface {
	ProcessMidiMessage(channel int32, command int32, data1 int32, data2 int32)
	NoteOn(channel int32, key int32, velocity int32)
	NoteOff(channel int32, key int32)
	NoteOffAll(immediate bool)
	Render(left []float32, right []float32)
}

// action is a synthesizer operation applied when rendering reaches sample at.
type action struct {
	id uint64
	at int64
	fn func()
}

func compareAction(a, b action) int {
	return cmp.Or(cmp.Compare(a.at, b.at), cmp.Compare(a.id, b.id))
}

// Mixer implements io.Reader for Ebitengine/audio. It renders every attached
// synthesizer and applies scheduled actions at their exact sample offsets.
// Its rendered sample count is the audio clock.
type Mixer struct {
	mu       sync.Mutex
	synths   []Synth
	queue    []action // ordered by at, then id
	nextID   uint64
	position int64 // samples rendered so far
	gain     float32
	closed   bool

	left, right []float32
	tmpL, tmpR  []float32
}

// NewMixer creates an empty mixer.
func NewMixer() *Mixer {
	return &Mixer{gain: 1}
}

// AddSynth attaches a synthesizer to the mix.
func (m *Mixer) AddSynth(s Synth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synths = append(m.synths, s)
}

// SetGain sets the master gain applied before conversion to 16 bit.
func (m *Mixer) SetGain(g float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gain = g
}

// CurrentTime returns the audio clock: the duration of audio rendered so far.
func (m *Mixer) CurrentTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return samplesToDuration(m.position)
}

// Schedule runs fn on the render goroutine when the audio clock reaches at.
// Times in the past run at the start of the next rendered buffer.
// It returns an id for Cancel, or 0 when the mixer is closed.
func (m *Mixer) Schedule(at time.Duration, fn func()) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0
	}
	m.nextID++
	a := action{id: m.nextID, at: durationToSamples(at), fn: fn}
	i := search.InsertionPoint(search.Search(m.queue, a, compareAction))
	m.queue = append(m.queue, action{})
	copy(m.queue[i+1:], m.queue[i:])
	m.queue[i] = a
	return a.id
}

// Cancel removes a scheduled action that has not run yet. It reports whether
// the action was still pending.
func (m *Mixer) Cancel(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.queue {
		if a.id == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Pending returns the number of scheduled actions that have not run.
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Reset drops every pending action and silences all synthesizers.
func (m *Mixer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = nil
	for _, s := range m.synths {
		s.NoteOffAll(true)
	}
}

// Close stops the mixer; Read returns silence afterwards.
func (m *Mixer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.queue = nil
}

// Read implements io.Reader producing 16-bit little endian stereo samples.
func (m *Mixer) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 16-bit stereo = 4 bytes per sample
	samples := len(p) / 4
	if samples == 0 {
		return 0, nil
	}
	if m.closed {
		clear(p[:samples*4])
		return samples * 4, nil
	}

	m.left = grow(m.left, samples)
	m.right = grow(m.right, samples)
	clear(m.left)
	clear(m.right)

	done := 0
	for done < samples {
		m.runDue()
		n := samples - done
		if len(m.queue) > 0 {
			if until := int(m.queue[0].at - m.position); until < n {
				n = until
			}
		}
		m.render(done, n)
		done += n
		m.position += int64(n)
	}

	for i := range samples {
		l := int16(clamp(m.left[i]*m.gain, -1, 1) * 32767)
		r := int16(clamp(m.right[i]*m.gain, -1, 1) * 32767)
		binary.LittleEndian.PutUint16(p[i*4:], uint16(l))
		binary.LittleEndian.PutUint16(p[i*4+2:], uint16(r))
	}
	return samples * 4, nil
}

// runDue applies every action whose time has been reached. Must be called
// with m.mu held.
func (m *Mixer) runDue() {
	for len(m.queue) > 0 && m.queue[0].at <= m.position {
		a := m.queue[0]
		m.queue = m.queue[1:]
		a.fn()
	}
}

// render mixes n samples of every synth into m.left/m.right at offset.
func (m *Mixer) render(offset, n int) {
	if n <= 0 {
		return
	}
	m.tmpL = grow(m.tmpL, n)
	m.tmpR = grow(m.tmpR, n)
	for _, s := range m.synths {
		s.Render(m.tmpL, m.tmpR)
		for i := range n {
			m.left[offset+i] += m.tmpL[i]
			m.right[offset+i] += m.tmpR[i]
		}
	}
}

func grow(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}

// clamp restricts a value to the range [lo, hi].
func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func durationToSamples(d time.Duration) int64 {
	return (int64(d)*SampleRate + int64(time.Second)/2) / int64(time.Second)
}

func samplesToDuration(n int64) time.Duration {
	return time.Duration(n * int64(time.Second) / SampleRate)
}
