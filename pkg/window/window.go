package window

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"golang.org/x/image/font/basicfont"

	"github.com/zurustar/scoresync/pkg/library"
	"github.com/zurustar/scoresync/pkg/logger"
	"github.com/zurustar/scoresync/pkg/playback"
	"github.com/zurustar/scoresync/pkg/render"
	"github.com/zurustar/scoresync/pkg/transport"
)

// 画面サイズ
const (
	ScreenWidth  = 1024
	ScreenHeight = 768
)

// 操作の刻み幅
const (
	SeekStep  = 5 * time.Second
	TempoStep = 0.1
	MinTempo  = 0.25
	MaxTempo  = 4.0
)

var (
	// 選択画面の背景色 #0087C8
	backgroundColor = color.RGBA{0x00, 0x87, 0xC8, 0xFF}
	// 再生画面の背景色
	playerBackground = color.RGBA{0x2B, 0x2B, 0x2B, 0xFF}
	blackKeyColor    = color.RGBA{0x21, 0x21, 0x21, 0xFF}
	octaveLineColor  = color.RGBA{0x4D, 0x4D, 0x4D, 0xFF}
	// テキスト色（白）
	textColor = color.White
	// 選択中のテキスト色（黄色）
	selectedTextColor = color.RGBA{0xFF, 0xFF, 0x00, 0xFF}
	// デフォルトフォント
	defaultFace = text.NewGoXFace(basicfont.Face7x13)
)

// Mode はウィンドウの表示モードを表す
type Mode int

const (
	ModeSelection Mode = iota // スコア選択画面
	ModePlayer                // 再生画面
)

// Action は再生画面でのキー操作
type Action int

const (
	ActionNone Action = iota
	ActionTogglePlay
	ActionRewind
	ActionSeekBack
	ActionSeekForward
	ActionTempoUp
	ActionTempoDown
	ActionExit
)

var keyBindings = []struct {
	key    ebiten.Key
	action Action
}{
	{ebiten.KeySpace, ActionTogglePlay},
	{ebiten.KeyHome, ActionRewind},
	{ebiten.KeyLeft, ActionSeekBack},
	{ebiten.KeyRight, ActionSeekForward},
	{ebiten.KeyUp, ActionTempoUp},
	{ebiten.KeyDown, ActionTempoDown},
	{ebiten.KeyEscape, ActionExit},
}

// Game はEbitengineのゲームインターフェースを実装する
type Game struct {
	mode          Mode
	scores        []library.Score
	selectedIndex int
	selectedScore *library.Score
	timeout       time.Duration
	startTime     time.Time

	ctx       context.Context
	engine    *playback.Engine
	renderers []transport.Renderer
	frame     transport.Frame
	started   bool // 最初のUpdateで再生を開始したか
	layout    render.Layout

	// スコア選択時に再生エンジンを用意するコールバック
	onScoreSelected func(score *library.Score) (*playback.Engine, error)
	// 再生画面を抜けるときのリソース解放
	onScoreExit     func() error
	hasSelection    bool // 複数スコアがありEscで選択画面に戻るか
	transitionError error

	mu sync.RWMutex
}

// NewGame Gameを作成
func NewGame(mode Mode, scores []library.Score, timeout time.Duration) *Game {
	return &Game{
		mode:      mode,
		scores:    scores,
		timeout:   timeout,
		startTime: time.Now(),
		ctx:       context.Background(),
		layout:    render.NewLayout(ScreenWidth, ScreenHeight),
	}
}

// NewPlayer creates a game that plays e right away.
func NewPlayer(e *playback.Engine, timeout time.Duration, renderers ...transport.Renderer) *Game {
	g := NewGame(ModePlayer, nil, timeout)
	g.engine = e
	g.renderers = renderers
	return g
}

// SetContext sets the context passed to the engine's Play.
func (g *Game) SetContext(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ctx = ctx
}

// SetRenderers sets the renderers that receive every frame in addition to
// the window.
func (g *Game) SetRenderers(renderers ...transport.Renderer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.renderers = renderers
}

// SetOnScoreSelected sets the callback that prepares playback of a chosen
// score.
func (g *Game) SetOnScoreSelected(callback func(score *library.Score) (*playback.Engine, error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onScoreSelected = callback
}

// SetHasSelection sets whether Esc in the player returns to the selection
// screen. Otherwise Esc exits.
func (g *Game) SetHasSelection(has bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hasSelection = has
}

// SetOnScoreExit sets the callback run when the player is left.
func (g *Game) SetOnScoreExit(callback func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onScoreExit = callback
}

// GetTransitionError returns the error that ended the game, if any.
func (g *Game) GetTransitionError() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.transitionError
}

// GetSelectedScore 選択されたスコアを取得
func (g *Game) GetSelectedScore() *library.Score {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.selectedScore
}

// Frame returns the last frame produced by Update.
func (g *Game) Frame() transport.Frame {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.frame
}

// Update ゲームロジックの更新（Ebitengineが毎フレーム呼び出す）
func (g *Game) Update() error {
	// タイムアウトチェック
	if g.timeout > 0 && time.Since(g.startTime) >= g.timeout {
		g.stopEngine()
		return ebiten.Termination
	}

	switch g.mode {
	case ModeSelection:
		return g.updateSelection()
	case ModePlayer:
		if err := g.Apply(pressedAction()); err != nil {
			return err
		}
		return g.updatePlayer()
	}
	return nil
}

func pressedAction() Action {
	for _, b := range keyBindings {
		if inpututil.IsKeyJustPressed(b.key) {
			return b.action
		}
	}
	return ActionNone
}

// updateSelection スコア選択画面の更新
func (g *Game) updateSelection() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyUp) && g.selectedIndex > 0 {
		g.selectedIndex--
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyDown) && g.selectedIndex < len(g.scores)-1 {
		g.selectedIndex++
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		return g.choose(g.selectedIndex)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	return nil
}

// choose は選択されたスコアの再生画面に遷移する
func (g *Game) choose(i int) error {
	if i < 0 || i >= len(g.scores) {
		return nil
	}
	g.selectedScore = &g.scores[i]

	g.mu.RLock()
	callback := g.onScoreSelected
	g.mu.RUnlock()

	// コールバックがない場合は選択結果を返して終了
	if callback == nil {
		return ebiten.Termination
	}

	e, err := callback(g.selectedScore)
	if err != nil {
		g.mu.Lock()
		g.transitionError = err
		g.mu.Unlock()
		return ebiten.Termination
	}

	g.mu.Lock()
	g.engine = e
	g.started = false
	g.mode = ModePlayer
	g.startTime = time.Now() // タイムアウトをリセット
	g.mu.Unlock()
	return nil
}

// updatePlayer は再生を進めて1フレーム分の状態を取得する。
// 曲が終わってもウィンドウは開いたまま。
func (g *Game) updatePlayer() error {
	g.mu.Lock()
	e := g.engine
	first := !g.started
	g.started = true
	ctx := g.ctx
	renderers := g.renderers
	g.mu.Unlock()

	if e == nil {
		return nil
	}

	// 最初のUpdateで再生を開始する（Ebitengineの初期化後）
	if first {
		if err := e.Play(ctx); err != nil {
			g.mu.Lock()
			g.transitionError = err
			g.mu.Unlock()
			return ebiten.Termination
		}
	}

	fr := transport.Step(e, renderers...)
	g.mu.Lock()
	g.frame = fr
	g.mu.Unlock()
	return nil
}

// Apply performs a player action. It returns ebiten.Termination when the
// action ends the game.
func (g *Game) Apply(a Action) error {
	g.mu.RLock()
	e := g.engine
	ctx := g.ctx
	hasSelection := g.hasSelection
	g.mu.RUnlock()

	if a == ActionExit {
		if hasSelection {
			return g.returnToSelection()
		}
		g.stopEngine()
		return ebiten.Termination
	}
	if e == nil {
		return nil
	}

	switch a {
	case ActionTogglePlay:
		if e.State() == playback.Playing {
			e.Pause()
		} else if err := e.Play(ctx); err != nil {
			logger.GetLogger().Error("Failed to resume playback", "error", err)
		}
	case ActionRewind:
		e.Seek(0)
	case ActionSeekBack:
		e.Seek(e.Position() - SeekStep)
	case ActionSeekForward:
		e.Seek(e.Position() + SeekStep)
	case ActionTempoUp:
		e.SetTempoScale(min(e.TempoScale()+TempoStep, MaxTempo))
	case ActionTempoDown:
		e.SetTempoScale(max(e.TempoScale()-TempoStep, MinTempo))
	}
	return nil
}

// returnToSelection は再生を止めて選択画面に戻る
func (g *Game) returnToSelection() error {
	g.stopEngine()

	g.mu.RLock()
	onScoreExit := g.onScoreExit
	g.mu.RUnlock()

	if onScoreExit != nil {
		if err := onScoreExit(); err != nil {
			logger.GetLogger().Error("onScoreExit callback failed", "error", err)
		}
	}

	g.mu.Lock()
	g.mode = ModeSelection
	g.engine = nil
	g.started = false
	g.frame = transport.Frame{}
	g.mu.Unlock()
	return nil
}

func (g *Game) stopEngine() {
	g.mu.RLock()
	e := g.engine
	g.mu.RUnlock()
	if e != nil {
		e.Stop()
	}
}

// Draw 画面描画（Ebitengineが毎フレーム呼び出す）
func (g *Game) Draw(screen *ebiten.Image) {
	switch g.mode {
	case ModeSelection:
		screen.Fill(backgroundColor)
		g.drawSelection(screen)
	case ModePlayer:
		screen.Fill(playerBackground)
		g.drawPlayer(screen, g.Frame())
	}
}

// drawSelection スコア選択画面の描画
func (g *Game) drawSelection(screen *ebiten.Image) {
	drawText(screen, "Select a score", 50, 50, textColor)

	for i, s := range g.scores {
		prefix := "  "
		clr := color.Color(textColor)
		if i == g.selectedIndex {
			prefix = "> "
			clr = selectedTextColor
		}
		name := prefix + s.DisplayName()
		if s.Metadata.Composer != "" {
			name += " / " + s.Metadata.Composer
		}
		drawText(screen, name, 70, 120+float64(i*40), clr)
	}

	drawText(screen, "Use UP/DOWN to select, ENTER to confirm, ESC to exit", 50, 650, textColor)
}

// drawPlayer は鍵盤と落ちてくるノートを描画する
func (g *Game) drawPlayer(screen *ebiten.Image, fr transport.Frame) {
	l := g.layout

	for p := render.LowestKey; p <= render.HighestKey; p++ {
		if p%12 != 0 {
			continue
		}
		r, _ := l.Key(uint8(p))
		vector.StrokeLine(screen, float32(r.X), 0, float32(r.X), float32(l.KeyY), 1, octaveLineColor, false)
	}

	pressed := render.Pressed(fr.Active)
	for _, black := range []bool{false, true} {
		for p := render.LowestKey; p <= render.HighestKey; p++ {
			pitch := uint8(p)
			if render.IsBlack(pitch) != black {
				continue
			}
			r, _ := l.Key(pitch)
			fillRect(screen, r, keyColor(pitch, pressed))
			vector.StrokeRect(screen, float32(r.X), float32(r.Y), float32(r.W), float32(r.H), 1, color.Black, false)
		}
	}

	for _, n := range fr.Notes {
		r, ok := l.Falling(n, fr.Position)
		if !ok {
			continue
		}
		clr := render.TrackColor(n.Track)
		if render.IsBlack(n.Pitch) {
			clr = render.Darker(clr)
		}
		fillRect(screen, r, clr)
	}

	drawText(screen, render.Status(fr), 20, 20, textColor)
	g.mu.RLock()
	e := g.engine
	g.mu.RUnlock()
	if e != nil {
		drawText(screen, fmt.Sprintf("tempo x%.2f", e.TempoScale()), 20, 40, textColor)
	}
	drawText(screen, "SPACE play/pause  LEFT/RIGHT seek  UP/DOWN tempo  HOME rewind  ESC exit", 20, 60, textColor)
}

func keyColor(pitch uint8, pressed map[uint8]int) color.Color {
	track, down := pressed[pitch]
	switch black := render.IsBlack(pitch); {
	case down && black:
		return render.Darker(render.TrackColor(track))
	case down:
		return render.TrackColor(track)
	case black:
		return blackKeyColor
	default:
		return color.White
	}
}

func fillRect(screen *ebiten.Image, r render.Rect, clr color.Color) {
	vector.DrawFilledRect(screen, float32(r.X), float32(r.Y), float32(r.W), float32(r.H), clr, true)
}

func drawText(screen *ebiten.Image, s string, x, y float64, clr color.Color) {
	op := &text.DrawOptions{}
	op.GeoM.Translate(x, y)
	op.ColorScale.ScaleWithColor(clr)
	text.Draw(screen, s, defaultFace, op)
}

// Layout 画面サイズを返す
func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return ScreenWidth, ScreenHeight
}

// Run GUIモードでウィンドウを実行
func Run(game *Game, windowTitle string) error {
	ebiten.SetWindowSize(ScreenWidth, ScreenHeight)
	ebiten.SetWindowTitle(windowTitle)
	// アスペクト比を維持してスケーリングし、レターボックスを表示する
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)

	if err := ebiten.RunGame(game); err != nil {
		return fmt.Errorf("failed to run game: %w", err)
	}
	return game.GetTransitionError()
}
