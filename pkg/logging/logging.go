package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rexliu/vlldb/pkg/config"
)

// Logger wraps the standard log.Logger. It writes to stderr because the
// bridge's stdout carries protocol frames.
type Logger struct {
	*log.Logger
	debug bool
}

// New returns a logger writing to stderr.
func New(prefix string) *Logger {
	return NewWithWriter(prefix, os.Stderr)
}

// NewWithWriter returns a logger writing to w.
func NewWithWriter(prefix string, w io.Writer) *Logger {
	return &Logger{Logger: log.New(w, prefix+" ", log.LstdFlags|log.Lmicroseconds)}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWithWriter("", io.Discard)
}

// Configure applies logging settings from config. Relative file paths are
// resolved against profileDir.
func (l *Logger) Configure(profileDir string, cfg config.LoggingConfig) error {
	if l == nil || l.Logger == nil {
		return nil
	}
	level := strings.ToLower(cfg.Level)
	l.debug = level == "debug"
	if level != "" {
		l.SetPrefix(strings.ToUpper(level) + " " + l.Prefix())
	}
	if cfg.FilePath != "" {
		path := config.ResolvePath(profileDir, cfg.FilePath)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return err
		}
		writer, err := newRollingFile(path, cfg.FileMaxSize)
		if err != nil {
			return err
		}
		l.SetOutput(io.MultiWriter(l.Writer(), writer))
	}
	return nil
}

// Debugf logs only when the configured level is debug.
func (l *Logger) Debugf(format string, v ...any) {
	if l != nil && l.debug {
		l.Printf(format, v...)
	}
}

type rollingFile struct {
	mu   sync.Mutex
	path string
	max  int
	file *os.File
}

func newRollingFile(path string, maxMB int) (*rollingFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &rollingFile{path: path, max: maxMB, file: f}, nil
}

func (r *rollingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 {
		if info, err := r.file.Stat(); err == nil && info.Size()+int64(len(p)) > int64(r.max)*1024*1024 {
			r.file.Close()
			os.Rename(r.path, r.path+".1")
			newFile, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return 0, err
			}
			r.file = newFile
		}
	}
	return r.file.Write(p)
}
