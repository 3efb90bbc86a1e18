// Package fileutil provides unified access to scores, MIDI files and
// SoundFonts stored either on disk or in an embedded file system.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no file matches a name, ignoring case.
// It matches fs.ErrNotExist with errors.Is.
var ErrNotFound = fmt.Errorf("file not found: %w", fs.ErrNotExist)

// FileSystem は実ファイルシステムと埋め込みファイルシステムを統一的に扱うインターフェース
type FileSystem interface {
	// Open はファイルを開く（大文字小文字を無視）
	Open(name string) (fs.File, error)
	// ReadFile はファイルの内容を読み込む（大文字小文字を無視）
	ReadFile(name string) ([]byte, error)
	// ReadDir はディレクトリの内容を読み込む
	ReadDir(name string) ([]fs.DirEntry, error)
	// FindFile は大文字小文字を無視してファイルを検索し、実際のパスを返す
	FindFile(dir, filename string) (string, error)
	// IsEmbedded は埋め込みファイルシステムかどうかを返す
	IsEmbedded() bool
}

// RealFS は実ファイルシステムへのアクセスを提供する
type RealFS struct {
	basePath string
}

// NewRealFS は実ファイルシステム用のFileSystemを作成する。
// basePath が空の場合、名前はそのまま（相対パスはカレントディレクトリ基準）解決される。
func NewRealFS(basePath string) *RealFS {
	return &RealFS{basePath: basePath}
}

func (r *RealFS) Open(name string) (fs.File, error) {
	p, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func (r *RealFS) ReadFile(name string) ([]byte, error) {
	p, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func (r *RealFS) ReadDir(name string) ([]fs.DirEntry, error) {
	return os.ReadDir(r.resolve(name))
}

func (r *RealFS) FindFile(dir, filename string) (string, error) {
	return r.findIn(r.resolve(dir), filename)
}

// findIn searches an already resolved directory.
func (r *RealFS) findIn(dir, filename string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	name, ok := matchEntry(entries, filename)
	if !ok {
		return "", fmt.Errorf("%w: %s (searched in %s)", ErrNotFound, filename, dir)
	}
	return filepath.Join(dir, name), nil
}

func (r *RealFS) IsEmbedded() bool {
	return false
}

// resolve maps name into basePath. With a basePath every name is relative
// to it, including names starting with a separator.
func (r *RealFS) resolve(name string) string {
	if r.basePath == "" {
		return name
	}
	// 先頭の "/" や "\" を除去
	clean := strings.TrimLeft(name, `/\`)
	return filepath.Join(r.basePath, clean)
}

func (r *RealFS) lookup(name string) (string, error) {
	p := r.resolve(name)
	// まず直接アクセスを試みる
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}
	return r.findIn(filepath.Dir(p), filepath.Base(p))
}

// EmbedFS は埋め込みファイルシステムへのアクセスを提供する
type EmbedFS struct {
	fsys     fs.FS
	basePath string
}

// NewEmbedFS は埋め込みファイルシステム用のFileSystemを作成する
func NewEmbedFS(fsys fs.FS, basePath string) *EmbedFS {
	return &EmbedFS{fsys: fsys, basePath: strings.Trim(basePath, "/")}
}

func (e *EmbedFS) Open(name string) (fs.File, error) {
	p, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.fsys.Open(p)
}

func (e *EmbedFS) ReadFile(name string) ([]byte, error) {
	p, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	return fs.ReadFile(e.fsys, p)
}

func (e *EmbedFS) ReadDir(name string) ([]fs.DirEntry, error) {
	return fs.ReadDir(e.fsys, e.resolve(name))
}

func (e *EmbedFS) FindFile(dir, filename string) (string, error) {
	return e.findIn(e.resolve(dir), filename)
}

// findIn searches an already resolved directory.
func (e *EmbedFS) findIn(dir, filename string) (string, error) {
	entries, err := fs.ReadDir(e.fsys, dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	name, ok := matchEntry(entries, filename)
	if !ok {
		return "", fmt.Errorf("%w: %s (searched in %s)", ErrNotFound, filename, dir)
	}
	// fs.FS は常に "/" 区切り
	return path.Join(dir, name), nil
}

func (e *EmbedFS) IsEmbedded() bool {
	return true
}

func (e *EmbedFS) resolve(name string) string {
	clean := strings.Trim(strings.ReplaceAll(name, `\`, "/"), "/")
	// "." は basePath そのもの
	if clean == "" || clean == "." {
		if e.basePath != "" {
			return e.basePath
		}
		return "."
	}
	if e.basePath != "" && !strings.HasPrefix(clean, e.basePath+"/") {
		return e.basePath + "/" + clean
	}
	return clean
}

func (e *EmbedFS) lookup(name string) (string, error) {
	p := e.resolve(name)
	if f, err := e.fsys.Open(p); err == nil {
		f.Close()
		return p, nil
	}
	return e.findIn(path.Dir(p), path.Base(p))
}

func matchEntry(entries []fs.DirEntry, filename string) (string, bool) {
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(entry.Name(), filename) {
			return entry.Name(), true
		}
	}
	return "", false
}

// OpenReader はファイルを開いてReaderとして返す。呼び出し元でCloseする必要がある
func OpenReader(fsys FileSystem, name string) (io.ReadCloser, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// IsNotFound reports whether err means the file does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
