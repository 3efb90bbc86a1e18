package cli

import (
	"reflect"
	"testing"
	"time"
)

// clearEnv isolates a test from the caller's environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"HEADLESS", "TIMEOUT", "LOG_LEVEL", "SCORESYNC_API", "SCORESYNC_SOUNDFONT"} {
		t.Setenv(k, "")
	}
}

func defaults() Config {
	return Config{LogLevel: "info", Lookahead: 100 * time.Millisecond, TempoScale: 1}
}

func TestParseArgs_ValidArgs(t *testing.T) {
	with := func(f func(*Config)) Config {
		c := defaults()
		f(&c)
		return c
	}

	tests := []struct {
		name     string
		args     []string
		expected Config
	}{
		{"デフォルト設定", []string{}, defaults()},
		{"スコアパス指定", []string{"/path/to/score.musicxml"}, with(func(c *Config) { c.ScorePath = "/path/to/score.musicxml" })},
		{"タイムアウト指定", []string{"--timeout", "10"}, with(func(c *Config) { c.Timeout = 10 * time.Second })},
		{"タイムアウト指定（短縮形）", []string{"-t", "5"}, with(func(c *Config) { c.Timeout = 5 * time.Second })},
		{"ログレベル指定", []string{"--log-level", "debug"}, with(func(c *Config) { c.LogLevel = "debug" })},
		{"ログレベル指定（短縮形）", []string{"-l", "error"}, with(func(c *Config) { c.LogLevel = "error" })},
		{"ヘッドレスモード", []string{"--headless"}, with(func(c *Config) { c.Headless = true })},
		{"ヘルプ表示", []string{"--help"}, with(func(c *Config) { c.ShowHelp = true })},
		{"ヘルプ表示（短縮形）", []string{"-h"}, with(func(c *Config) { c.ShowHelp = true })},
		{
			"複数オプション",
			[]string{"--timeout", "30", "--log-level", "warn", "--headless", "/path/to/scores"},
			with(func(c *Config) {
				c.Timeout = 30 * time.Second
				c.LogLevel = "warn"
				c.Headless = true
				c.ScorePath = "/path/to/scores"
			}),
		},
		{
			"位置引数が最初（順序に関係なく動作）",
			[]string{"score.xml", "--timeout", "10", "--headless"},
			with(func(c *Config) {
				c.ScorePath = "score.xml"
				c.Timeout = 10 * time.Second
				c.Headless = true
			}),
		},
		{
			"MIDIとタイムマップ",
			[]string{"score.xml", "--midi", "song.mid", "--timemap", "http://example.com/song.json"},
			with(func(c *Config) {
				c.ScorePath = "score.xml"
				c.MIDIPath = "song.mid"
				c.TimemapPath = "http://example.com/song.json"
			}),
		},
		{
			"変換サービス",
			[]string{"--use-api", "score.mxl", "--api-url", "http://localhost:8000"},
			with(func(c *Config) {
				c.UseAPI = true
				c.ScorePath = "score.mxl"
				c.APIBaseURL = "http://localhost:8000"
			}),
		},
		{
			"再生オプション",
			[]string{"--seek=1m30s", "--lookahead", "250ms", "--tempo", "0.5", "--snapshot", "out.png", "--soundfont", "a.sf2", "--fallback-soundfont", "b.sf2"},
			with(func(c *Config) {
				c.Seek = 90 * time.Second
				c.Lookahead = 250 * time.Millisecond
				c.TempoScale = 0.5
				c.Snapshot = "out.png"
				c.SoundFont = "a.sf2"
				c.FallbackSoundFont = "b.sf2"
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			config, err := ParseArgs(tt.args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(*config, tt.expected) {
				t.Errorf("ParseArgs() = %+v\nwant %+v", *config, tt.expected)
			}
		})
	}
}

func TestParseArgs_Environment(t *testing.T) {
	t.Run("環境変数", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("HEADLESS", "true")
		t.Setenv("TIMEOUT", "7")
		t.Setenv("LOG_LEVEL", "DEBUG")
		t.Setenv("SCORESYNC_API", "http://svc:8000")
		t.Setenv("SCORESYNC_SOUNDFONT", "/sf/gm.sf2")

		config, err := ParseArgs(nil)
		if err != nil {
			t.Fatal(err)
		}
		if !config.Headless || config.Timeout != 7*time.Second || config.LogLevel != "debug" ||
			config.APIBaseURL != "http://svc:8000" || config.SoundFont != "/sf/gm.sf2" {
			t.Errorf("config = %+v", config)
		}
	})

	t.Run("フラグが優先", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TIMEOUT", "7")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("SCORESYNC_API", "http://svc:8000")

		config, err := ParseArgs([]string{"-t", "3", "--log-level", "info", "--api-url", "http://other"})
		if err != nil {
			t.Fatal(err)
		}
		if config.Timeout != 3*time.Second || config.LogLevel != "info" || config.APIBaseURL != "http://other" {
			t.Errorf("config = %+v", config)
		}
	})

	t.Run("環境変数のAPIで--use-api", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCORESYNC_API", "http://svc:8000")
		if _, err := ParseArgs([]string{"--use-api"}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestParseArgs_InvalidArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"負のタイムアウト", []string{"--timeout", "-10"}},
		{"無効なログレベル", []string{"--log-level", "invalid"}},
		{"無効なログレベル（短縮形）", []string{"-l", "trace"}},
		{"負のシーク", []string{"--seek", "-1s"}},
		{"無効なシーク", []string{"--seek", "soon"}},
		{"負の先読み", []string{"--lookahead", "-5ms"}},
		{"無効なテンポ", []string{"--tempo", "0"}},
		{"URLなしの変換サービス", []string{"--use-api"}},
		{"MIDIなしのタイムマップ", []string{"--timemap", "a.json"}},
		{"未定義のフラグ", []string{"--volume", "3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := ParseArgs(tt.args)
			if err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestReorderArgs(t *testing.T) {
	tests := []struct {
		args []string
		want []string
	}{
		{[]string{"a.xml", "-t", "5"}, []string{"-t", "5", "a.xml"}},
		{[]string{"--headless", "a.xml"}, []string{"--headless", "a.xml"}},
		{[]string{"--use-api", "a.xml", "--seek=2s"}, []string{"--use-api", "--seek=2s", "a.xml"}},
	}
	for _, tt := range tests {
		if got := reorderArgs(tt.args); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("reorderArgs(%v) = %v, want %v", tt.args, got, tt.want)
		}
	}
}
