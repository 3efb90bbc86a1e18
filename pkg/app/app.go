package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/zurustar/scoresync/pkg/audio"
	"github.com/zurustar/scoresync/pkg/cli"
	"github.com/zurustar/scoresync/pkg/clock"
	"github.com/zurustar/scoresync/pkg/convert"
	"github.com/zurustar/scoresync/pkg/fileutil"
	"github.com/zurustar/scoresync/pkg/library"
	"github.com/zurustar/scoresync/pkg/logger"
	"github.com/zurustar/scoresync/pkg/midi"
	"github.com/zurustar/scoresync/pkg/output"
	"github.com/zurustar/scoresync/pkg/playback"
	"github.com/zurustar/scoresync/pkg/render"
	"github.com/zurustar/scoresync/pkg/timemap"
	"github.com/zurustar/scoresync/pkg/transport"
	"github.com/zurustar/scoresync/pkg/window"
)

// Snapshot image size.
const (
	SnapshotWidth  = 1280
	SnapshotHeight = 720
)

// Application はアプリケーションのメインロジックを管理する
type Application struct {
	config  *cli.Config
	log     *slog.Logger
	library *library.Registry
	embedFS fs.FS

	stdin  io.Reader
	stdout io.Writer

	// newOutput creates the sound output of a session. Tests replace it.
	newOutput func(ctx context.Context, file *midi.File, clk clock.Clock, score *library.Score) (output.Output, func() error)

	mu      sync.Mutex
	session *session
}

// session is the playback of one score and the resources it holds.
type session struct {
	score  *library.Score
	engine *playback.Engine
	close  func() error
}

// New Applicationを作成。embedFS は nil でもよい
func New(embedFS fs.FS) *Application {
	app := &Application{
		embedFS: embedFS,
		stdin:   os.Stdin,
		stdout:  os.Stdout,
	}
	app.newOutput = app.soundOutput
	return app
}

// Run アプリケーションを実行
func (app *Application) Run(args []string) error {
	// 1. コマンドライン引数の解析
	config, err := cli.ParseArgs(args)
	if err != nil {
		return fmt.Errorf("failed to parse args: %w", err)
	}
	app.config = config

	if app.config.ShowHelp {
		cli.PrintHelp()
		return nil
	}

	// 2. ロガーの初期化
	if err := logger.InitLogger(app.config.LogLevel); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.log = logger.GetLogger()
	app.log.Info("Application started", "converter", app.strategy())

	ctx := context.Background()
	if app.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.config.Timeout)
		defer cancel()
	}

	// 3. スコアライブラリの読み込み
	if err := app.loadLibrary(); err != nil {
		return fmt.Errorf("failed to load scores: %w", err)
	}

	defer app.closeSession()

	switch {
	case app.config.Snapshot != "":
		err = app.runSnapshot(ctx)
	case app.config.Headless:
		err = app.runHeadless(ctx)
	default:
		err = app.runWindow(ctx)
	}
	if err != nil {
		return err
	}

	app.log.Info("Application terminated normally")
	return nil
}

// loadLibrary は埋め込みスコアと、指定されていれば外部スコアを読み込む
func (app *Application) loadLibrary() error {
	app.library = library.NewRegistry(app.embedFS)
	if app.config.ScorePath != "" {
		if err := app.library.LoadExternal(app.config.ScorePath); err != nil {
			return err
		}
	}
	return nil
}

// selectScore は1曲なら自動選択し、複数なら標準入力で選択する
func (app *Application) selectScore(ctx context.Context) (*library.Score, error) {
	score, needSelection, err := app.library.Select()
	if err != nil {
		return nil, err
	}
	if !needSelection {
		app.log.Info("Score selected", "name", score.DisplayName(), "path", score.Path)
		return score, nil
	}

	scores := app.library.Scores()
	app.log.Info("Multiple scores available, asking for a selection", "count", len(scores))

	type choice struct {
		score *library.Score
		err   error
	}
	ch := make(chan choice, 1)
	go func() {
		s, err := library.Choose(scores, app.stdin, app.stdout)
		ch <- choice{s, err}
	}()

	// タイムアウトまたは選択完了を待つ
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("score selection: %w", ctx.Err())
	case c := <-ch:
		if c.err != nil {
			return nil, fmt.Errorf("score selection: %w", c.err)
		}
		app.log.Info("Score selected", "name", c.score.DisplayName(), "path", c.score.Path)
		return c.score, nil
	}
}

// runHeadless はウィンドウなしで再生し、進行をログに出す
func (app *Application) runHeadless(ctx context.Context) error {
	score, err := app.selectScore(ctx)
	if err != nil {
		return err
	}
	e, err := app.prepare(ctx, score)
	if err != nil {
		return err
	}
	if err := e.Play(ctx); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}

	loop := transport.NewLoop(e, transport.DefaultFrameInterval, render.NewLogRenderer(app.log))
	err = loop.Run(ctx)
	e.Stop()
	if errors.Is(err, context.DeadlineExceeded) {
		app.log.Info("Timeout reached, terminating")
		return nil
	}
	return err
}

// runSnapshot は --seek の位置の1フレームをPNGに書き出す
func (app *Application) runSnapshot(ctx context.Context) error {
	score, err := app.selectScore(ctx)
	if err != nil {
		return err
	}
	e, err := app.prepare(ctx, score)
	if err != nil {
		return err
	}

	snap, err := render.NewSnapshot(SnapshotWidth, SnapshotHeight)
	if err != nil {
		return err
	}
	fr := transport.Step(e, render.NewLogRenderer(app.log))
	if err := snap.SavePNG(app.config.Snapshot, fr); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	app.log.Info("Snapshot written", "path", app.config.Snapshot, "position", fr.Position)
	return nil
}

// runWindow はGUIで再生する。複数スコアがあれば選択画面から始める
func (app *Application) runWindow(ctx context.Context) error {
	score, needSelection, err := app.library.Select()
	if err != nil {
		return err
	}

	var game *window.Game
	if needSelection {
		game = window.NewGame(window.ModeSelection, app.library.Scores(), app.config.Timeout)
		game.SetHasSelection(true)
		game.SetOnScoreSelected(func(s *library.Score) (*playback.Engine, error) {
			return app.prepare(ctx, s)
		})
		game.SetOnScoreExit(app.closeSession)
	} else {
		e, err := app.prepare(ctx, score)
		if err != nil {
			return err
		}
		game = window.NewPlayer(e, app.config.Timeout)
	}
	game.SetContext(ctx)
	if app.log.Enabled(ctx, slog.LevelDebug) {
		game.SetRenderers(render.NewLogRenderer(app.log))
	}

	return window.Run(game, "scoresync")
}

// prepare converts score and builds its playback engine. The previous
// session is closed first.
func (app *Application) prepare(ctx context.Context, score *library.Score) (*playback.Engine, error) {
	if err := app.closeSession(); err != nil {
		app.log.Warn("Failed to release the previous score", "error", err)
	}

	data, err := score.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read score: %w", err)
	}

	conv, err := convert.New(app.converterOptions(score))
	if err != nil {
		return nil, err
	}
	if err := conv.Initialize(ctx, string(data)); err != nil {
		return nil, fmt.Errorf("failed to convert %s: %w", score.DisplayName(), err)
	}
	file, err := conv.MIDI()
	if err != nil {
		return nil, err
	}
	tm := conv.Timemap()
	if err := tm.Validate(); err != nil {
		app.log.Warn("Timemap is not ordered, measure lookup may be wrong", "error", err)
	}
	app.log.Info("Score converted",
		"name", score.DisplayName(),
		"converter", conv.Version(),
		"length", file.Length(),
		"measures", len(tm),
	)

	clk := clock.NewMonotonic()
	out, closeOutput := app.newOutput(ctx, file, clk, score)

	e := playback.NewEngine(playback.NewTimeline(file, tm), out, clk, playback.Options{
		Lookahead: app.config.Lookahead,
		Logger:    app.log,
	})
	e.SetTempoScale(app.config.TempoScale)
	if app.config.Seek > 0 {
		e.Seek(app.config.Seek)
	}
	e.OnEnd(func() {
		app.log.Info("Score finished", "name", score.DisplayName())
	})

	app.mu.Lock()
	app.session = &session{score: score, engine: e, close: closeOutput}
	app.mu.Unlock()
	return e, nil
}

// closeSession stops the current playback and releases its output.
func (app *Application) closeSession() error {
	app.mu.Lock()
	s := app.session
	app.session = nil
	app.mu.Unlock()

	if s == nil {
		return nil
	}
	s.engine.Stop()
	if s.close != nil {
		return s.close()
	}
	return nil
}

func (app *Application) strategy() convert.Strategy {
	switch {
	case app.config.UseAPI:
		return convert.StrategyService
	case app.config.MIDIPath != "":
		return convert.StrategyFetch
	default:
		return convert.StrategyLocal
	}
}

// converterOptions picks the conversion strategy. A MIDI file next to the
// score is used when no conversion was asked for.
func (app *Application) converterOptions(score *library.Score) convert.Options {
	opts := convert.Options{
		Strategy:   app.strategy(),
		APIBaseURL: app.config.APIBaseURL,
		Logger:     app.log,
		FS:         fileutil.NewRealFS(""),
	}

	midiURI, timemapURI := app.config.MIDIPath, app.config.TimemapPath
	if midiURI == "" && score.MIDIPath != "" {
		midiURI, timemapURI = score.MIDIPath, score.TimemapPath
		opts.FS = score.FS
		if opts.Strategy == convert.StrategyLocal {
			opts.Strategy = convert.StrategyFetch
		}
	}
	if midiURI != "" {
		opts.MIDI = convert.Source[*midi.File]{URI: midiURI}
	}
	if timemapURI != "" {
		opts.Timemap = &convert.Source[timemap.Timemap]{URI: timemapURI}
	}
	return opts
}

// soundOutput は GUI では SoundFont で鳴らし、ヘッドレスやスナップショット、
// SoundFont がない場合は音を出さない Recorder を使う
func (app *Application) soundOutput(ctx context.Context, file *midi.File, clk clock.Clock, score *library.Score) (output.Output, func() error) {
	if app.config.Headless || app.config.Snapshot != "" {
		return output.NewRecorder(), nil
	}

	loc := findSoundFont(app.embedFS, score, app.config.SoundFont)
	if loc == nil {
		app.log.Warn("Playing without sound", "error", audio.ErrNoSoundFont)
		return output.NewRecorder(), nil
	}
	if loc.FileSystem == nil && !isRemote(loc.Path) && !fileExists(loc.Path) {
		app.log.Warn("Playing without sound", "error", fmt.Errorf("%w: %s", audio.ErrSoundFontNotFound, loc.Path))
		return output.NewRecorder(), nil
	}

	mixer := audio.NewMixer()
	eng, err := audio.NewEngine(mixer)
	if err != nil {
		app.log.Warn("Audio unavailable, playing without sound", "error", err)
		return output.NewRecorder(), nil
	}

	// 主SoundFontは見つかった場所から、フォールバックは実ファイルシステムかURLから読む
	primary := output.AudioLoader(audio.NewLoader(mixer, loc.FileSystem, nil))
	external := output.AudioLoader(audio.NewLoader(mixer, nil, nil))
	loader := output.LoaderFunc(func(ctx context.Context, source string, channel, program uint8) (output.Instrument, error) {
		if source == loc.Path {
			return primary.LoadInstrument(ctx, source, channel, program)
		}
		return external.LoadInstrument(ctx, source, channel, program)
	})

	app.log.Info("Using SoundFont", "path", loc.Path, "embedded", loc.IsEmbedded, "fallback", app.config.FallbackSoundFont)
	out := output.NewSoundFontOutput(file, eng, clk, loader, output.Options{
		Primary:  loc.Path,
		Fallback: app.config.FallbackSoundFont,
		Logger:   app.log,
	})
	return out, eng.Close
}
