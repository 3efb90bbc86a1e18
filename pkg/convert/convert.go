// Package convert turns a MusicXML score into a MIDI file and a measure
// timemap. Strategies share the Converter interface and are selected with
// New.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zurustar/scoresync/pkg/apiclient"
	"github.com/zurustar/scoresync/pkg/fileutil"
	"github.com/zurustar/scoresync/pkg/logger"
	"github.com/zurustar/scoresync/pkg/midi"
	"github.com/zurustar/scoresync/pkg/musicxml"
	"github.com/zurustar/scoresync/pkg/timemap"
)

// Version is the converter release.
const Version = "0.4.0"

// ErrNotInitialized is returned by MIDI before a successful Initialize.
var ErrNotInitialized = errors.New("converter not initialized")

// ErrFetch is returned when a MIDI file or timemap cannot be fetched.
var ErrFetch = errors.New("fetch failed")

// Converter produces the MIDI file and timemap of a score.
type Converter interface {
	// Initialize converts the score. On failure the converter keeps its
	// previous state.
	Initialize(ctx context.Context, musicXML string) error
	MIDI() (*midi.File, error)
	// Timemap never fails; it is empty when no timemap is available.
	Timemap() timemap.Timemap
	Version() string
}

func version(strategy string) string {
	return fmt.Sprintf("scoresync v%s (%s)", Version, strategy)
}

// result is the state shared by every strategy.
type result struct {
	file *midi.File
	tm   timemap.Timemap
}

func (r *result) MIDI() (*midi.File, error) {
	if r.file == nil {
		return nil, ErrNotInitialized
	}
	return r.file, nil
}

func (r *result) Timemap() timemap.Timemap {
	if r.tm == nil {
		return timemap.Timemap{}
	}
	return r.tm
}

// localTimemap transforms the score into a timemap. Failures are logged and
// yield an empty timemap.
func localTimemap(log *slog.Logger, musicXML string) timemap.Timemap {
	score, err := musicxml.DecodeString(musicXML)
	if err == nil {
		var tm timemap.Timemap
		if _, tm, err = score.Convert(); err == nil {
			return tm
		}
	}
	log.Warn("Failed to build timemap", "error", err)
	return timemap.Timemap{}
}

// ScoreConverter converts the score locally.
type ScoreConverter struct {
	result
	log *slog.Logger
}

// NewScoreConverter creates a local converter.
func NewScoreConverter(log *slog.Logger) *ScoreConverter {
	if log == nil {
		log = logger.GetLogger()
	}
	return &ScoreConverter{log: log}
}

func (c *ScoreConverter) Initialize(ctx context.Context, musicXML string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	score, err := musicxml.DecodeString(musicXML)
	if err != nil {
		return err
	}
	f, tm, err := score.Convert()
	if err != nil {
		return err
	}
	c.file, c.tm = f, tm
	return nil
}

func (c *ScoreConverter) Version() string { return version("local") }

// Source is a MIDI file or timemap given either as a value or as a URI. An
// http(s) URI is fetched; anything else is a path on the file system.
type Source[T any] struct {
	Value T
	URI   string
}

// FetchConverter uses a ready-made MIDI file and, optionally, a timemap.
// Without a timemap source the timemap is transformed from the score.
type FetchConverter struct {
	result
	midiSrc    Source[*midi.File]
	timemapSrc *Source[timemap.Timemap]
	fsys       fileutil.FileSystem
	http       *http.Client
	log        *slog.Logger
}

// NewFetchConverter creates a direct-fetch converter. timemapSrc may be nil.
func NewFetchConverter(midiSrc Source[*midi.File], timemapSrc *Source[timemap.Timemap], fsys fileutil.FileSystem, hc *http.Client, log *slog.Logger) *FetchConverter {
	if hc == nil {
		hc = http.DefaultClient
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &FetchConverter{midiSrc: midiSrc, timemapSrc: timemapSrc, fsys: fsys, http: hc, log: log}
}

func (c *FetchConverter) Initialize(ctx context.Context, musicXML string) error {
	f := c.midiSrc.Value
	if f == nil {
		rc, err := c.open(ctx, c.midiSrc.URI)
		if err != nil {
			return err
		}
		f, err = midi.Parse(rc)
		rc.Close()
		if err != nil {
			return err
		}
	}

	var tm timemap.Timemap
	switch {
	case c.timemapSrc == nil:
		tm = localTimemap(c.log, musicXML)
	case c.timemapSrc.Value != nil:
		tm = c.timemapSrc.Value
	default:
		rc, err := c.open(ctx, c.timemapSrc.URI)
		if err != nil {
			return err
		}
		tm, err = timemap.Decode(rc)
		rc.Close()
		if err != nil {
			return err
		}
	}

	c.file, c.tm = f, tm
	return nil
}

func (c *FetchConverter) Version() string { return version("fetch") }

// open fetches uri. Non-2xx responses are errors.
func (c *FetchConverter) open(ctx context.Context, uri string) (io.ReadCloser, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: no source", ErrFetch)
	}
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		if c.fsys == nil {
			return nil, fmt.Errorf("%w: no file system for %s", ErrFetch, uri)
		}
		return fileutil.OpenReader(c.fsys, uri)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: %s", ErrFetch, uri, resp.Status)
	}
	return resp.Body, nil
}

// ServiceConverter converts through a remote service and falls back to a
// local converter when the service fails. The timemap is always built
// locally.
type ServiceConverter struct {
	result
	client   *apiclient.Client
	fallback Converter
	log      *slog.Logger
	progress func(apiclient.Progress)
}

// NewServiceConverter creates a remote-service converter. fallback may be
// nil, in which case service failures are returned.
func NewServiceConverter(client *apiclient.Client, fallback Converter, log *slog.Logger) *ServiceConverter {
	if log == nil {
		log = logger.GetLogger()
	}
	return &ServiceConverter{client: client, fallback: fallback, log: log}
}

// OnProgress sets a callback for conversion progress updates.
func (c *ServiceConverter) OnProgress(fn func(apiclient.Progress)) {
	c.progress = fn
}

func (c *ServiceConverter) Initialize(ctx context.Context, musicXML string) error {
	f, err := c.remote(ctx, musicXML)
	if err != nil {
		if c.fallback == nil {
			return err
		}
		c.log.Warn("Remote conversion failed, converting locally", "error", err)
		if ferr := c.fallback.Initialize(ctx, musicXML); ferr != nil {
			return fmt.Errorf("remote conversion failed: %w; local conversion failed: %w", err, ferr)
		}
		if f, err = c.fallback.MIDI(); err != nil {
			return err
		}
		c.file, c.tm = f, c.fallback.Timemap()
		return nil
	}
	c.file, c.tm = f, localTimemap(c.log, musicXML)
	return nil
}

// remote runs one conversion with its progress subscription open. The
// subscription is closed on every path.
func (c *ServiceConverter) remote(ctx context.Context, musicXML string) (*midi.File, error) {
	sub, err := c.client.SubscribeProgress(ctx, func(p apiclient.Progress) {
		c.log.Info("Conversion progress", "status", p.Status, "message", p.Message)
		if c.progress != nil {
			c.progress(p)
		}
	})
	if err != nil {
		c.log.Warn("Progress feed unavailable", "error", err)
	} else {
		defer sub.Close()
	}

	data, err := c.client.ConvertFile(ctx, "score.xml", "application/xml", []byte(musicXML))
	if err != nil {
		return nil, err
	}
	return midi.ParseBytes(data)
}

func (c *ServiceConverter) Version() string { return version("service") }

// Strategy names a converter strategy.
type Strategy string

const (
	StrategyLocal   Strategy = "local"
	StrategyFetch   Strategy = "fetch"
	StrategyService Strategy = "service"
)

// Options selects and configures a converter.
type Options struct {
	Strategy Strategy

	// Fetch strategy sources. Timemap is optional.
	MIDI    Source[*midi.File]
	Timemap *Source[timemap.Timemap]
	FS      fileutil.FileSystem

	// Service strategy.
	APIBaseURL string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New creates the converter selected by opts.Strategy. The service strategy
// falls back to the fetch strategy when a MIDI source is given, and to the
// local one otherwise.
func New(opts Options) (Converter, error) {
	switch opts.Strategy {
	case StrategyLocal, "":
		return NewScoreConverter(opts.Logger), nil
	case StrategyFetch:
		return NewFetchConverter(opts.MIDI, opts.Timemap, opts.FS, opts.HTTPClient, opts.Logger), nil
	case StrategyService:
		if opts.APIBaseURL == "" {
			return nil, errors.New("service strategy requires an API base URL")
		}
		var copts []apiclient.Option
		if opts.HTTPClient != nil {
			copts = append(copts, apiclient.WithHTTPClient(opts.HTTPClient))
		}
		if opts.Logger != nil {
			copts = append(copts, apiclient.WithLogger(opts.Logger))
		}
		var fallback Converter = NewScoreConverter(opts.Logger)
		if opts.MIDI.Value != nil || opts.MIDI.URI != "" {
			fallback = NewFetchConverter(opts.MIDI, opts.Timemap, opts.FS, opts.HTTPClient, opts.Logger)
		}
		client := apiclient.New(opts.APIBaseURL, copts...)
		return NewServiceConverter(client, fallback, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unknown converter strategy %q", opts.Strategy)
	}
}
