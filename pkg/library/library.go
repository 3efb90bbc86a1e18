// Package library finds playable scores in a directory or an embedded file
// system and reads their titles.
package library

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/zurustar/scoresync/pkg/fileutil"
	"github.com/zurustar/scoresync/pkg/musicxml"
)

// EmbeddedRoot is the directory of bundled scores in the embedded file system.
const EmbeddedRoot = "scores"

// ConfigFile optionally names the entry score of a directory.
const ConfigFile = "library.json"

// ErrNoScores is returned by Select when the library is empty.
var ErrNoScores = errors.New("no scores available")

var scoreExts = []string{".musicxml", ".xml", ".mxl"}

var (
	midiExts    = []string{".mid", ".midi"}
	timemapExts = []string{".timemap", ".json"}
)

// Config is the structure of library.json.
type Config struct {
	EntryFile string `json:"entryFile"`
}

// Metadata is read from the score's work and identification elements.
type Metadata struct {
	Title    string
	Composer string
	Rights   string
	Software string
}

// Score is a score file and its companion files.
type Score struct {
	Name       string // file name without extension
	Path       string // path within FS
	IsEmbedded bool
	Metadata   Metadata
	// MIDIPath and TimemapPath are files next to the score sharing its name.
	// Empty when absent.
	MIDIPath    string
	TimemapPath string
	// FS holds the score and its companions.
	FS fileutil.FileSystem
}

// DisplayName returns the title, or the file name for untitled scores.
func (s *Score) DisplayName() string {
	if s.Metadata.Title != "" {
		return s.Metadata.Title
	}
	return s.Name
}

// Read returns the score document. Compressed .mxl archives are returned as
// is; the MusicXML decoder unpacks them.
func (s *Score) Read() ([]byte, error) {
	return s.FS.ReadFile(s.Path)
}

// Registry holds the embedded scores and, once loaded, an external
// directory or file that takes their place.
type Registry struct {
	embedded []Score
	external []Score
	entry    string
	loaded   bool
}

// NewRegistry scans fsys for scores under EmbeddedRoot. fsys may be nil.
func NewRegistry(fsys fs.FS) *Registry {
	r := &Registry{}
	if fsys == nil {
		return r
	}
	efs := fileutil.NewEmbedFS(fsys, EmbeddedRoot)
	r.embedded, _ = scan(efs, true)
	return r
}

// LoadExternal loads a score file, or every score in a directory.
func (r *Registry) LoadExternal(p string) error {
	return r.LoadExternalWithEntry(p, "")
}

// LoadExternalWithEntry loads p like LoadExternal. A non-empty entryFile, or
// else the directory's library.json, narrows the directory to one score.
func (r *Registry) LoadExternalWithEntry(p string, entryFile string) error {
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("score path does not exist: %s", p)
		}
		return fmt.Errorf("failed to access score path: %w", err)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	if !info.IsDir() {
		if !isScore(abs) {
			return fmt.Errorf("not a MusicXML file: %s", p)
		}
		fsys := fileutil.NewRealFS(filepath.Dir(abs))
		entries, err := fsys.ReadDir(".")
		if err != nil {
			return fmt.Errorf("failed to read directory: %w", err)
		}
		r.external = []Score{newScore(fsys, entries, filepath.Base(abs), false)}
		r.entry, r.loaded = "", true
		return nil
	}

	fsys := fileutil.NewRealFS(abs)
	scores, err := scan(fsys, false)
	if err != nil {
		return err
	}
	if entryFile == "" {
		entryFile = loadConfig(fsys)
	}
	r.external, r.entry, r.loaded = scores, entryFile, true
	return nil
}

// Scores returns the external scores when loaded, else the embedded ones.
// An entry file narrows the list to that score.
func (r *Registry) Scores() []Score {
	scores := r.embedded
	if r.loaded {
		scores = r.external
	}
	if r.entry != "" {
		for _, s := range scores {
			if strings.EqualFold(path.Base(s.Path), r.entry) {
				return []Score{s}
			}
		}
	}
	return append([]Score(nil), scores...)
}

// Select picks the only score. It reports needSelection when there are
// several.
func (r *Registry) Select() (score *Score, needSelection bool, err error) {
	scores := r.Scores()
	switch len(scores) {
	case 0:
		return nil, false, ErrNoScores
	case 1:
		return &scores[0], false, nil
	default:
		return nil, true, nil
	}
}

// Choose lists scores on out and reads a 1-based choice from in.
func Choose(scores []Score, in io.Reader, out io.Writer) (*Score, error) {
	if len(scores) == 0 {
		return nil, ErrNoScores
	}
	for i, s := range scores {
		line := fmt.Sprintf("%2d. %s", i+1, s.DisplayName())
		if s.Metadata.Composer != "" {
			line += " / " + s.Metadata.Composer
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "Select a score [1-%d]: ", len(scores))

	sc := bufio.NewScanner(in)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, io.ErrUnexpectedEOF
	}
	n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || n < 1 || n > len(scores) {
		return nil, fmt.Errorf("invalid selection %q", strings.TrimSpace(sc.Text()))
	}
	return &scores[n-1], nil
}

func scan(fsys fileutil.FileSystem, embedded bool) ([]Score, error) {
	entries, err := fsys.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("failed to read score directory: %w", err)
	}
	var scores []Score
	for _, e := range entries {
		if e.IsDir() || !isScore(e.Name()) {
			continue
		}
		scores = append(scores, newScore(fsys, entries, e.Name(), embedded))
	}
	sort.Slice(scores, func(i, j int) bool {
		return strings.ToLower(scores[i].Name) < strings.ToLower(scores[j].Name)
	})
	return scores, nil
}

func newScore(fsys fileutil.FileSystem, siblings []fs.DirEntry, name string, embedded bool) Score {
	s := Score{
		Name:       stem(name),
		Path:       name,
		IsEmbedded: embedded,
		FS:         fsys,
	}
	s.MIDIPath = companion(siblings, s.Name, midiExts)
	s.TimemapPath = companion(siblings, s.Name, timemapExts)
	if data, err := fsys.ReadFile(name); err == nil {
		s.Metadata = ExtractMetadata(data)
	}
	return s
}

// companion finds a sibling with the same stem and one of exts, ignoring
// case.
func companion(siblings []fs.DirEntry, name string, exts []string) string {
	for _, ext := range exts {
		for _, e := range siblings {
			if !e.IsDir() && strings.EqualFold(e.Name(), name+ext) {
				return e.Name()
			}
		}
	}
	return ""
}

// ExtractMetadata reads the title and credits of a score. Unreadable scores
// yield empty metadata.
func ExtractMetadata(data []byte) Metadata {
	score, err := musicxml.DecodeBytes(data)
	if err != nil {
		return Metadata{}
	}
	return Metadata{
		Title:    score.Title(),
		Composer: score.Composer(),
		Rights:   strings.TrimSpace(score.Identification.Rights),
		Software: strings.TrimSpace(score.Identification.Software),
	}
}

func loadConfig(fsys fileutil.FileSystem) string {
	data, err := fsys.ReadFile(ConfigFile)
	if err != nil {
		return ""
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ""
	}
	return cfg.EntryFile
}

func isScore(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range scoreExts {
		if ext == e {
			return true
		}
	}
	return false
}

func stem(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}
