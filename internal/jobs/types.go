package jobs

import "github.com/you/tg-mediadl/internal/types"

const (
	TaskDownload = "download:media"
	TaskTrim     = "trim:media"

	QueueDownloads = "downloads"
)

type DownloadPayload struct {
	JobID        string `json:"job_id"`
	Target       string `json:"target"`         // media or playlist URL
	FormatOrMode string `json:"format_or_mode"` // yt-dlp selector or "album"
	UserID       int64  `json:"user_id"`
	ChatID       int64  `json:"chat_id"`
	Title        string `json:"title,omitempty"` // known title, for captions and tags
}

type TrimPayload struct {
	JobID    string          `json:"job_id"`
	RetainID string          `json:"retain_id"` // retained result to cut
	Media    types.MediaType `json:"media"`
	UserID   int64           `json:"user_id"`
	ChatID   int64           `json:"chat_id"`
	Start    float64         `json:"start"`
	End      *float64        `json:"end,omitempty"` // nil means until the end
}
