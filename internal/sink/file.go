package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/EchoPBX/devtools-bridge/pkg/sdk"
	"go.uber.org/zap"
)

// File appends one line per log event to a text file. It is meant to be
// subscribed to "log" so writes happen on the delivery context, in order.
type File struct {
	path string
	log  *zap.Logger
	mu   sync.Mutex
}

func NewFile(path string, log *zap.Logger) *File {
	if log == nil {
		log = zap.NewNop()
	}
	return &File{path: path, log: log}
}

func (f *File) Path() string {
	abs, err := filepath.Abs(f.path)
	if err != nil {
		return f.path
	}
	return abs
}

func (f *File) Exists() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := os.Stat(f.path)
	return err == nil
}

// Delete removes the file and reports whether there was one.
func (f *File) Delete() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path)
	switch {
	case err == nil:
		f.log.Info("log file deleted", zap.String("path", f.path))
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("delete log file: %w", err)
	}
}

func (f *File) WriteLine(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
	}
	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if _, err := fh.WriteString(line + "\n"); err != nil {
		_ = fh.Close()
		return fmt.Errorf("write log file: %w", err)
	}
	return fh.Close()
}

// HandleLog is an sdk.Callback for "log" events.
func (f *File) HandleLog(payload any) error {
	line, err := Line(payload)
	if err != nil {
		return err
	}
	return f.WriteLine(line)
}

// Line renders a log payload as a single text line.
func Line(payload any) (string, error) {
	switch p := payload.(type) {
	case nil:
		return "", errors.New("empty log payload")
	case sdk.LogEntry:
		return p.Line, nil
	case *sdk.LogEntry:
		return p.Line, nil
	case string:
		return p, nil
	case map[string]any:
		if line, ok := p["line"].(string); ok {
			return line, nil
		}
		b, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("encode log payload: %w", err)
		}
		return string(b), nil
	default:
		return fmt.Sprint(p), nil
	}
}
