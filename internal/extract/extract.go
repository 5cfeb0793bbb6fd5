// Package extract is the boundary to the media-extraction tool (yt-dlp).
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Format is one encoding reported by the tool in probe mode.
type Format struct {
	ID     string  `json:"format_id"`
	Ext    string  `json:"ext"`
	Note   string  `json:"format_note"`
	Height int     `json:"height"`
	ABR    float64 `json:"abr"`
	VCodec string  `json:"vcodec"`
	ACodec string  `json:"acodec"`
}

// Entry is a flat playlist or search entry.
type Entry struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	URL        string  `json:"url"`
	WebpageURL string  `json:"webpage_url"`
	Duration   float64 `json:"duration"`
}

// Link prefers the human page URL over the raw one.
func (e Entry) Link() string {
	if e.WebpageURL != "" {
		return e.WebpageURL
	}
	return e.URL
}

// Author falls back to the channel name when the uploader is unknown.
func (e Entry) Author() string {
	if e.Uploader != "" {
		return e.Uploader
	}
	return e.Channel
}

// Info is the single JSON document printed in probe mode.
type Info struct {
	Type       string   `json:"_type"`
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Uploader   string   `json:"uploader"`
	Artist     string   `json:"artist"`
	Album      string   `json:"album"`
	WebpageURL string   `json:"webpage_url"`
	Duration   float64  `json:"duration"`
	Formats    []Format `json:"formats"`
	Entries    []Entry  `json:"entries"`
}

func (i *Info) IsPlaylist() bool { return i.Type == "playlist" }

// DownloadRequest describes one download-mode invocation.
type DownloadRequest struct {
	Target string
	Format string
	// Dir is the private output directory owned by the caller.
	Dir      string
	Playlist bool
	// AudioOnly converts the result to mp3 and writes a jpg thumbnail next to it.
	AudioOnly bool
}

// Extractor is implemented by the yt-dlp client and by test fakes.
type Extractor interface {
	Probe(ctx context.Context, url string) (*Info, error)
	Search(ctx context.Context, query string, limit int) ([]Entry, error)
	Download(ctx context.Context, req DownloadRequest) error
}

// SearchTarget builds the tool's search pseudo-URL.
func SearchTarget(query string, limit int) string {
	return fmt.Sprintf("ytsearch%d:%s", limit, query)
}

func ParseInfo(out string) (*Info, error) {
	info := &Info{}
	if err := json.Unmarshal([]byte(out), info); err != nil {
		return nil, fmt.Errorf("failed to parse probe output: %w", err)
	}
	return info, nil
}

// ParseEntries reads one JSON object per line; broken lines are skipped.
func ParseEntries(out string) []Entry {
	entries := make([]Entry, 0)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}
