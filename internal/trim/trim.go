// Package trim cuts a time range out of an audio or video file with ffmpeg.
package trim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/you/tg-mediadl/internal/logx"
	"github.com/you/tg-mediadl/internal/types"
)

const maxToolOutput = 2000

var (
	lastSegmentRe = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)?$`)
	segmentRe     = regexp.MustCompile(`^\d*$`)
)

// ParseTime accepts SS, MM:SS and HH:MM:SS. Only the last segment may carry a
// fractional part; empty segments count as zero.
func ParseTime(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, types.NewUserInputError("Empty time value.")
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, invalidTime(s)
	}
	var total float64
	for i, p := range parts {
		p = strings.TrimSpace(p)
		last := i == len(parts)-1
		if (last && !lastSegmentRe.MatchString(p)) || (!last && !segmentRe.MatchString(p)) {
			return 0, invalidTime(s)
		}
		v := 0.0
		if p != "" {
			var err error
			if v, err = strconv.ParseFloat(p, 64); err != nil {
				return 0, invalidTime(s)
			}
		}
		total = total*60 + v
	}
	return total, nil
}

func invalidTime(s string) error {
	return &types.UserInputError{
		Msg: "Could not read the time. Use seconds, MM:SS or HH:MM:SS.",
		Err: fmt.Errorf("invalid time %q", s),
	}
}

// ParseRange reads "start-end" or a bare "start" (cut until the end).
func ParseRange(s string) (float64, *float64, error) {
	startStr, endStr, hasEnd := strings.Cut(s, "-")
	start, err := ParseTime(startStr)
	if err != nil {
		return 0, nil, err
	}
	if !hasEnd {
		return start, nil, nil
	}
	end, err := ParseTime(endStr)
	if err != nil {
		return 0, nil, err
	}
	return start, &end, nil
}

// ValidateRange clamps start to zero and requires end > start when end is set.
func ValidateRange(start float64, end *float64) (float64, error) {
	start = max(start, 0)
	if end != nil && *end <= start {
		return 0, types.NewUserInputError("End time must be greater than start time.")
	}
	return start, nil
}

var (
	videoCodecs = map[string][]string{
		".mp4":  {"-c:v", "libx264", "-c:a", "aac"},
		".mkv":  {"-c:v", "libx264", "-c:a", "aac"},
		".mov":  {"-c:v", "libx264", "-c:a", "aac"},
		".avi":  {"-c:v", "libx264", "-c:a", "aac"},
		".webm": {"-c:v", "libvpx-vp9", "-c:a", "libopus"},
	}
	audioCodecs = map[string][]string{
		".mp3":  {"-vn", "-c:a", "libmp3lame"},
		".m4a":  {"-vn", "-c:a", "aac"},
		".ogg":  {"-vn", "-c:a", "libopus"},
		".opus": {"-vn", "-c:a", "libopus"},
		".wav":  {"-vn", "-c:a", "pcm_s16le"},
		".flac": {"-vn", "-c:a", "flac"},
	}
)

// OutputPath is <outDir>/<base>_trimmed<ext>; the source is never overwritten.
func OutputPath(path, outDir string) string {
	if outDir == "" {
		outDir = filepath.Dir(path)
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	return filepath.Join(outDir, base+"_trimmed"+ext)
}

// Args builds the ffmpeg argument list. Unknown extensions fall back to a stream copy.
func Args(in, out string, start float64, end *float64) []string {
	args := []string{"-hide_banner", "-nostdin", "-y", "-ss", formatSeconds(start), "-i", in}
	if end != nil {
		args = append(args, "-t", formatSeconds(*end-start))
	}
	ext := strings.ToLower(filepath.Ext(in))
	switch {
	case videoCodecs[ext] != nil:
		args = append(args, videoCodecs[ext]...)
	case audioCodecs[ext] != nil:
		args = append(args, audioCodecs[ext]...)
	default:
		args = append(args, "-c", "copy")
	}
	return append(args, out)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type Trimmer struct {
	bin string
}

func New(bin string) *Trimmer {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Trimmer{bin: bin}
}

// Trim validates the range before touching the tool and returns the new file's path.
func (t *Trimmer) Trim(ctx context.Context, path, outDir string, start float64, end *float64) (string, error) {
	start, err := ValidateRange(start, end)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("trim source: %w", types.ErrFileExpired)
		}
		return "", fmt.Errorf("failed to stat trim source: %w", err)
	}
	out := OutputPath(path, outDir)

	logger := logx.FromCtx(ctx)
	lw := logx.NewLineWriter(*logger, map[string]string{"tool": "ffmpeg"}, zerolog.DebugLevel)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.bin, Args(path, out, start, end)...)
	cmd.Stderr = io.MultiWriter(&stderr, lw)
	err = cmd.Run()
	lw.Flush()
	if err != nil {
		_ = os.Remove(out)
		return "", &types.ExternalToolError{Tool: "ffmpeg", Output: tail(stderr.String(), maxToolOutput), Err: err}
	}
	logger.Info().Str("out", out).Float64("start", start).Msg("trimmed")
	return out, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
