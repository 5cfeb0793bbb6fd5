package extract

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog/log"

	"github.com/you/tg-mediadl/internal/types"
)

const (
	toolName = "yt-dlp"
	// Output template inside the job directory.
	outputTemplate = "%(title).150B [%(id)s].%(ext)s"
	// Keeps one stderr excerpt in errors without flooding logs.
	maxToolOutput = 2000
)

// YtDLP runs the yt-dlp binary through go-ytdlp.
type YtDLP struct {
	bin     string
	cookies string
}

func NewYtDLP(bin, cookies string) *YtDLP {
	return &YtDLP{bin: bin, cookies: cookies}
}

func (y *YtDLP) command() *ytdlp.Command {
	cmd := ytdlp.New().
		NoWarnings().
		IgnoreConfig()
	if y.bin != "" {
		cmd.SetExecutable(y.bin)
	}
	if y.cookies != "" {
		cmd.Cookies(y.cookies)
	}
	return cmd
}

func (y *YtDLP) Probe(ctx context.Context, url string) (*Info, error) {
	res, err := y.command().
		DumpSingleJSON().
		FlatPlaylist().
		Run(ctx, url)
	if err != nil {
		return nil, toolError(res, err)
	}
	return ParseInfo(res.Stdout)
}

func (y *YtDLP) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	res, err := y.command().
		DumpJSON().
		FlatPlaylist().
		Run(ctx, SearchTarget(query, limit))
	if err != nil {
		return nil, toolError(res, err)
	}
	return ParseEntries(res.Stdout), nil
}

func (y *YtDLP) Download(ctx context.Context, req DownloadRequest) error {
	cmd := y.command().
		Output(filepath.Join(req.Dir, outputTemplate)).
		Format(req.Format)
	if req.Playlist {
		// One unavailable entry must not abort the rest of the album.
		cmd.YesPlaylist().IgnoreErrors()
	} else {
		cmd.NoPlaylist().WriteInfoJSON()
	}
	if req.AudioOnly {
		cmd.ExtractAudio().
			AudioFormat("mp3").
			AudioQuality("192K")
		if !req.Playlist {
			cmd.WriteThumbnail().ConvertThumbnails("jpg")
		}
	} else {
		cmd.MergeOutputFormat("mp4")
	}
	log.Debug().Str("target", req.Target).Str("format", req.Format).Bool("playlist", req.Playlist).
		Msg("running yt-dlp download")
	res, err := cmd.Run(ctx, req.Target)
	if err != nil {
		return toolError(res, err)
	}
	return nil
}

func toolError(res *ytdlp.Result, err error) error {
	out := ""
	if res != nil {
		out = res.Stderr
	}
	if len(out) > maxToolOutput {
		out = out[len(out)-maxToolOutput:]
	}
	return &types.ExternalToolError{Tool: toolName, Output: out, Err: fmt.Errorf("%w: %w", err, types.ErrInternal)}
}
