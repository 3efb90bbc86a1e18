package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はコマンドライン引数と環境変数から解析された設定を保持する
type Config struct {
	ScorePath   string // MusicXML file or directory of scores
	MIDIPath    string // ready-made MIDI file (path or http(s) URL)
	TimemapPath string // timemap JSON (path or http(s) URL)

	APIBaseURL string // conversion service base URL
	UseAPI     bool   // convert through the service

	SoundFont         string // primary SoundFont (path or URL)
	FallbackSoundFont string // used when the primary lacks a preset

	LogLevel   string
	Headless   bool
	Timeout    time.Duration // 0 means no limit
	Seek       time.Duration // start position
	Lookahead  time.Duration
	TempoScale float64
	Snapshot   string // write a PNG of the start frame and exit
	ShowHelp   bool
}

// boolFlags never take a separate value argument.
var boolFlags = map[string]bool{
	"-h": true, "-help": true, "--help": true,
	"-headless": true, "--headless": true,
	"-use-api": true, "--use-api": true,
}

// ParseArgs コマンドライン引数を解析してConfigを返す。
// 環境変数はフラグが指定されていない場合にのみ使われる。
func ParseArgs(args []string) (*Config, error) {
	// 引数を並べ替え：フラグを前に、位置引数を後ろに
	reorderedArgs := reorderArgs(args)

	fs := flag.NewFlagSet("scoresync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	config := &Config{}

	var timeoutSec int
	fs.IntVar(&timeoutSec, "timeout", 0, "exit after the given number of seconds")
	fs.IntVar(&timeoutSec, "t", 0, "exit after the given number of seconds (short)")
	fs.StringVar(&config.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.StringVar(&config.LogLevel, "l", "info", "log level (short)")
	fs.BoolVar(&config.Headless, "headless", false, "run without a window")
	fs.BoolVar(&config.ShowHelp, "help", false, "show help")
	fs.BoolVar(&config.ShowHelp, "h", false, "show help (short)")

	fs.StringVar(&config.MIDIPath, "midi", "", "MIDI file to play instead of converting the score")
	fs.StringVar(&config.TimemapPath, "timemap", "", "timemap JSON for the MIDI file")
	fs.StringVar(&config.APIBaseURL, "api-url", "", "conversion service base URL")
	fs.BoolVar(&config.UseAPI, "use-api", false, "convert through the conversion service")
	fs.StringVar(&config.SoundFont, "soundfont", "", "SoundFont file or URL")
	fs.StringVar(&config.FallbackSoundFont, "fallback-soundfont", "", "SoundFont used when the primary one lacks an instrument")
	fs.DurationVar(&config.Seek, "seek", 0, "start position, e.g. 1m30s")
	fs.DurationVar(&config.Lookahead, "lookahead", 100*time.Millisecond, "how far ahead events are scheduled")
	fs.Float64Var(&config.TempoScale, "tempo", 1, "playback rate multiplier")
	fs.StringVar(&config.Snapshot, "snapshot", "", "write a PNG of the frame at --seek and exit")

	if err := fs.Parse(reorderedArgs); err != nil {
		return nil, err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	// 環境変数からの設定（コマンドラインフラグが優先）
	if !config.Headless {
		if headlessEnv := os.Getenv("HEADLESS"); headlessEnv != "" {
			config.Headless = headlessEnv == "1" || strings.ToLower(headlessEnv) == "true"
		}
	}

	if timeoutSec == 0 {
		if timeoutEnv := os.Getenv("TIMEOUT"); timeoutEnv != "" {
			if t, err := strconv.Atoi(timeoutEnv); err == nil && t > 0 {
				timeoutSec = t
			}
		}
	}

	if !set["log-level"] && !set["l"] {
		if logLevelEnv := os.Getenv("LOG_LEVEL"); logLevelEnv != "" {
			config.LogLevel = strings.ToLower(logLevelEnv)
		}
	}

	if config.APIBaseURL == "" {
		config.APIBaseURL = os.Getenv("SCORESYNC_API")
	}
	if config.SoundFont == "" {
		config.SoundFont = os.Getenv("SCORESYNC_SOUNDFONT")
	}

	if timeoutSec < 0 {
		return nil, fmt.Errorf("timeout must be non-negative, got %d", timeoutSec)
	}
	config.Timeout = time.Duration(timeoutSec) * time.Second

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.LogLevel)
	}
	if config.Seek < 0 {
		return nil, fmt.Errorf("seek must be non-negative, got %v", config.Seek)
	}
	if config.Lookahead < 0 {
		return nil, fmt.Errorf("lookahead must be non-negative, got %v", config.Lookahead)
	}
	if config.TempoScale <= 0 {
		return nil, fmt.Errorf("tempo must be positive, got %v", config.TempoScale)
	}
	if config.UseAPI && config.APIBaseURL == "" {
		return nil, fmt.Errorf("--use-api requires --api-url or SCORESYNC_API")
	}
	if config.TimemapPath != "" && config.MIDIPath == "" {
		return nil, fmt.Errorf("--timemap requires --midi")
	}

	// 位置引数（スコアのパス）
	if fs.NArg() > 0 {
		config.ScorePath = fs.Arg(0)
	}

	return config, nil
}

// reorderArgs 引数を並べ替えて、フラグを前に、位置引数を後ろに配置する
func reorderArgs(args []string) []string {
	var flags []string
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if len(arg) > 0 && arg[0] == '-' {
			flags = append(flags, arg)

			// "--seek=5s" のように値を含む場合と、ブール型フラグは次の引数を取らない
			if strings.Contains(arg, "=") || boolFlags[arg] {
				continue
			}
			if i+1 < len(args) && len(args[i+1]) > 0 && args[i+1][0] != '-' {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}

	return append(flags, positional...)
}

// PrintHelp ヘルプメッセージを表示
func PrintHelp() {
	fmt.Fprint(os.Stdout, `scoresync - MusicXML score player

Usage:
  scoresync [options] [score-path]

Arguments:
  score-path    MusicXML file (.musicxml, .xml, .mxl) or a directory of scores.
                Without it the bundled scores are used. When several scores are
                available a selection is asked for.

Options:
  -t, --timeout <seconds>       exit after the given number of seconds (default: no limit)
  -l, --log-level <level>       debug, info, warn, error (default: info)
  --headless                    play without a window
  --midi <path|url>             play this MIDI file instead of converting the score
  --timemap <path|url>          measure timemap for --midi
  --use-api                     convert through the conversion service
  --api-url <url>               conversion service base URL
  --soundfont <path|url>        SoundFont (default: first .sf2 found)
  --fallback-soundfont <path>   SoundFont for instruments missing from the primary one
  --seek <duration>             start position, e.g. 1m30s
  --lookahead <duration>        scheduling lookahead (default: 100ms)
  --tempo <factor>              playback rate multiplier (default: 1)
  --snapshot <file.png>         write the frame at --seek as PNG and exit
  -h, --help                    show this help

Environment Variables:
  HEADLESS=1                    play without a window
  TIMEOUT=<seconds>             exit after the given number of seconds
  LOG_LEVEL=<level>             log level
  SCORESYNC_API=<url>           conversion service base URL
  SCORESYNC_SOUNDFONT=<path>    SoundFont file or URL

Examples:
  scoresync score.musicxml
  scoresync --headless --timeout 10 scores/
  scoresync --midi song.mid --timemap song.timemap song.musicxml
  scoresync --use-api --api-url http://localhost:8000 score.mxl
  scoresync --snapshot frame.png --seek 12s score.musicxml
`)
}
