package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sinshu/go-meltysynth/meltysynth"
	"golang.org/x/sync/singleflight"

	"github.com/zurustar/scoresync/pkg/fileutil"
	"github.com/zurustar/scoresync/pkg/logger"
)

// ErrNoSoundFont is returned when no SoundFont source is configured.
var ErrNoSoundFont = errors.New("SoundFont file is required for playback")

// ErrSoundFontNotFound is returned when the SoundFont cannot be found.
var ErrSoundFontNotFound = errors.New("SoundFont file not found")

// ErrPresetNotFound is returned when a SoundFont has no preset for a program.
var ErrPresetNotFound = errors.New("SoundFont preset not found")

// FetchTimeout bounds a SoundFont download, body included.
const FetchTimeout = 60 * time.Second

// percussionChannel is GM channel 10.
const percussionChannel = 9

// StopFunc releases a voice at the given audio time. Calling it again
// replaces the previously requested release time.
type StopFunc func(at time.Duration) error

// SoundFont is a parsed SoundFont with its own synthesizer attached to a
// mixer. Instruments created from it play on the synthesizer's channels.
type SoundFont struct {
	source string
	font   *meltysynth.SoundFont
	synth  Synth
	mixer  *Mixer
}

// NewSoundFont parses SoundFont data and attaches a synthesizer for it to mixer.
func NewSoundFont(source string, r io.Reader, mixer *Mixer) (*SoundFont, error) {
	font, err := meltysynth.NewSoundFont(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SoundFont %s: %w", source, err)
	}
	settings := meltysynth.NewSynthesizerSettings(SampleRate)
	synth, err := meltysynth.NewSynthesizer(font, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}
	mixer.AddSynth(synth)
	return &SoundFont{source: source, font: font, synth: synth, mixer: mixer}, nil
}

// Source returns the path or URL the SoundFont was loaded from.
func (sf *SoundFont) Source() string {
	return sf.source
}

// HasPreset reports whether the SoundFont defines program in the bank used
// for channel.
func (sf *SoundFont) HasPreset(channel, program uint8) bool {
	bank := int32(0)
	if channel == percussionChannel {
		bank = 128
	}
	for _, p := range sf.font.Presets {
		if p.BankNumber == bank && p.PatchNumber == int32(program) {
			return true
		}
	}
	return false
}

// Instrument binds program to channel of the SoundFont's synthesizer.
func (sf *SoundFont) Instrument(channel, program uint8) (*Instrument, error) {
	if !sf.HasPreset(channel, program) {
		return nil, fmt.Errorf("%w: program %d (%s) in %s", ErrPresetNotFound, program, InstrumentName(program), sf.source)
	}
	return NewInstrument(sf.mixer, sf.synth, channel, program), nil
}

// Instrument plays notes of one program on one synthesizer channel.
type Instrument struct {
	mixer   *Mixer
	synth   Synth
	channel int32
	program uint8
}

// NewInstrument binds program to channel of synth, which must be attached to
// mixer. The program change is applied before anything else is rendered.
func NewInstrument(mixer *Mixer, synth Synth, channel, program uint8) *Instrument {
	ch := int32(channel)
	mixer.Schedule(0, func() {
		synth.ProcessMidiMessage(ch, 0xC0, int32(program), 0)
	})
	return &Instrument{mixer: mixer, synth: synth, channel: ch, program: program}
}

// Name returns the GM name of the instrument's program.
func (in *Instrument) Name() string {
	return InstrumentName(in.program)
}

// Play starts key at audio time when with gain in [0, 1] and returns the
// function releasing it. Releasing at or before the start cancels the note if
// it has not started yet; a later release is scheduled after the note on.
func (in *Instrument) Play(key uint8, when time.Duration, gain float64) StopFunc {
	velocity := int32(math.Round(gain * 127))
	velocity = max(1, min(127, velocity))

	var mu sync.Mutex
	onID := in.mixer.Schedule(when, func() {
		in.synth.NoteOn(in.channel, int32(key), velocity)
	})
	var offID uint64
	cancelled := false

	return func(at time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		if onID == 0 {
			return ErrClosed
		}
		if cancelled {
			return nil
		}
		if offID != 0 {
			in.mixer.Cancel(offID)
			offID = 0
		}
		if at <= when && in.mixer.Cancel(onID) {
			// Never started.
			cancelled = true
			return nil
		}
		// Ids are increasing, so an off landing on the same sample as the on
		// still runs after it.
		offID = in.mixer.Schedule(at, func() {
			in.synth.NoteOff(in.channel, int32(key))
		})
		if offID == 0 {
			return ErrClosed
		}
		return nil
	}
}

// Loader loads SoundFonts from a file system or over HTTP. Each source is
// loaded once; concurrent requests for the same source share one load.
type Loader struct {
	fsys   fileutil.FileSystem
	client *http.Client
	mixer  *Mixer
	log    *slog.Logger

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]*SoundFont
}

// NewLoader creates a loader attaching SoundFonts to mixer. A nil fsys reads
// from the real file system; a nil client gets a client with FetchTimeout.
func NewLoader(mixer *Mixer, fsys fileutil.FileSystem, client *http.Client) *Loader {
	if fsys == nil {
		fsys = fileutil.NewRealFS("")
	}
	if client == nil {
		client = &http.Client{Timeout: FetchTimeout}
	}
	return &Loader{
		fsys:   fsys,
		client: client,
		mixer:  mixer,
		log:    logger.GetLogger(),
		cache:  make(map[string]*SoundFont),
	}
}

// Load returns the SoundFont at source, a file path or an http(s) URL.
func (l *Loader) Load(ctx context.Context, source string) (*SoundFont, error) {
	if source == "" {
		return nil, ErrNoSoundFont
	}
	l.mu.Lock()
	sf, ok := l.cache[source]
	l.mu.Unlock()
	if ok {
		return sf, nil
	}

	v, err, _ := l.group.Do(source, func() (any, error) {
		data, err := l.read(ctx, source)
		if err != nil {
			return nil, err
		}
		sf, err := NewSoundFont(source, bytes.NewReader(data), l.mixer)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.cache[source] = sf
		l.mu.Unlock()
		l.log.Info("SoundFont loaded", "source", source, "presets", len(sf.font.Presets))
		return sf, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SoundFont), nil
}

// LoadInstrument loads source and binds program to channel.
func (l *Loader) LoadInstrument(ctx context.Context, source string, channel, program uint8) (*Instrument, error) {
	sf, err := l.Load(ctx, source)
	if err != nil {
		return nil, err
	}
	return sf.Instrument(channel, program)
}

func (l *Loader) read(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return l.fetch(ctx, source)
	}
	data, err := l.fsys.ReadFile(source)
	if err != nil {
		if fileutil.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrSoundFontNotFound, source)
		}
		return nil, fmt.Errorf("failed to read SoundFont file: %w", err)
	}
	return data, nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch SoundFont: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrSoundFontNotFound, url)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch SoundFont %s: %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
