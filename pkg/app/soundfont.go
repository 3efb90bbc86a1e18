package app

import (
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/zurustar/scoresync/pkg/fileutil"
	"github.com/zurustar/scoresync/pkg/library"
)

// SoundFontLocation represents the location of a SoundFont file.
type SoundFontLocation struct {
	// Path is the path to the SoundFont file, or an http(s) URL
	Path string
	// FileSystem is the FileSystem to use for loading (nil for external files)
	FileSystem fileutil.FileSystem
	// IsEmbedded indicates whether the SoundFont is embedded
	IsEmbedded bool
}

// DefaultSoundFontName is the SoundFont filename searched for first.
const DefaultSoundFontName = "GeneralUser-GS.sf2"

// SoundFontDir is the directory of bundled SoundFonts in the embedded file
// system.
const SoundFontDir = "soundfonts"

// findSoundFont searches for a SoundFont in the following order:
//  1. explicit (--soundfont or SCORESYNC_SOUNDFONT)
//  2. Embedded soundfonts directory
//  3. Embedded score directory
//  4. Current directory (external)
//  5. Score directory (external)
//
// Each directory is searched for DefaultSoundFontName first, then for any
// .sf2 file. It returns nil when nothing is found.
func findSoundFont(embedFS fs.FS, score *library.Score, explicit string) *SoundFontLocation {
	// 1. 明示的な指定（パスまたはURL）
	if explicit != "" {
		return &SoundFontLocation{Path: explicit}
	}

	// 2. 埋め込みのsoundfontsディレクトリ
	if embedFS != nil {
		efs := fileutil.NewEmbedFS(embedFS, SoundFontDir)
		if name, ok := findInDir(efs); ok {
			return &SoundFontLocation{Path: name, FileSystem: efs, IsEmbedded: true}
		}
	}

	// 3. 埋め込みスコアと同じディレクトリ
	if score != nil && score.IsEmbedded && score.FS != nil {
		if name, ok := findInDir(score.FS); ok {
			return &SoundFontLocation{Path: name, FileSystem: score.FS, IsEmbedded: true}
		}
	}

	// 4. カレントディレクトリ
	if name, ok := findInDir(fileutil.NewRealFS("")); ok {
		return &SoundFontLocation{Path: name}
	}

	// 5. 外部スコアのディレクトリ
	if score != nil && !score.IsEmbedded && score.FS != nil {
		if p, err := score.FS.FindFile(".", DefaultSoundFontName); err == nil {
			return &SoundFontLocation{Path: p}
		}
		if name, ok := firstSF2(score.FS); ok {
			if p, err := score.FS.FindFile(".", name); err == nil {
				return &SoundFontLocation{Path: p}
			}
		}
	}

	return nil
}

// findInDir returns DefaultSoundFontName or the first .sf2 file in the root
// of fsys, as a name fsys can read.
func findInDir(fsys fileutil.FileSystem) (string, bool) {
	if data, err := fsys.ReadFile(DefaultSoundFontName); err == nil && len(data) > 0 {
		return DefaultSoundFontName, true
	}
	return firstSF2(fsys)
}

func firstSF2(fsys fileutil.FileSystem) (string, bool) {
	entries, err := fsys.ReadDir(".")
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), ".sf2") {
			continue
		}
		if info, err := e.Info(); err == nil && info.Size() > 0 {
			return e.Name(), true
		}
	}
	return "", false
}

// isRemote reports whether source is fetched over HTTP.
func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// fileExists reports whether a local SoundFont path exists.
func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
