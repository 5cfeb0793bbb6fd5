package logx

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"
)

// LineWriter turns subprocess output into per-line zerolog events at a given level.
// It implements io.Writer so it can sit next to a capture buffer in io.MultiWriter.
type LineWriter struct {
	logger zerolog.Logger
	level  zerolog.Level

	mu  sync.Mutex
	buf bytes.Buffer
}

func NewLineWriter(logger zerolog.Logger, fields map[string]string, level zerolog.Level) *LineWriter {
	w := logger.With()
	for k, v := range fields {
		w = w.Str(k, v)
	}
	return &LineWriter{logger: w.Logger(), level: level}
}

func (lw *LineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.buf.Write(p)
	for {
		i := bytes.IndexAny(lw.buf.Bytes(), "\r\n")
		if i < 0 {
			break
		}
		line := string(lw.buf.Next(i + 1)[:i])
		lw.emit(line)
	}
	return len(p), nil
}

// Flush emits a trailing line without newline, if any.
func (lw *LineWriter) Flush() {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.buf.Len() > 0 {
		lw.emit(lw.buf.String())
		lw.buf.Reset()
	}
}

func (lw *LineWriter) emit(line string) {
	if line == "" {
		return
	}
	lw.logger.WithLevel(lw.level).Msg(line)
}
