package types

type MediaType string

const (
	AudioMediaType MediaType = "audio"
	VideoMediaType MediaType = "video"
)

// Source is the origin of a search result.
type Source string

const (
	SourceYouTube Source = "youtube"
	SourceVK      Source = "vk"
	SourceSpotify Source = "spotify"
	SourceDeezer  Source = "deezer"
	SourceYandex  Source = "yandex"
)

// Synthetic format selectors always offered ahead of probed formats.
const (
	FormatBestVideo = "bestvideo+bestaudio/best"
	FormatBestAudio = "bestaudio"
)

// ModeAlbum is the job mode that downloads a whole playlist into one archive.
const ModeAlbum = "album"

type MediaOption struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	SourceURL string `json:"source_url"`
}

//nolint:govet // keep field order readable
type SearchResult struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Uploader        string `json:"uploader"`
	URL             string `json:"url"`
	Source          Source `json:"source"`
	DurationSeconds int    `json:"duration_seconds"`
	// Stub results come from sources without a real integration and are never downloaded.
	Stub bool `json:"stub,omitempty"`
}

type Track struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type PlaylistMeta struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Tracks []Track `json:"tracks"`
}

// MediaTypeOf tells which kind of media a format selector produces.
func MediaTypeOf(formatOrMode string) MediaType {
	if formatOrMode == FormatBestAudio || formatOrMode == ModeAlbum {
		return AudioMediaType
	}
	return VideoMediaType
}

var extMediaTypes = map[string]MediaType{
	".mp3": AudioMediaType, ".m4a": AudioMediaType, ".opus": AudioMediaType,
	".ogg": AudioMediaType, ".wav": AudioMediaType, ".flac": AudioMediaType,
	".mp4": VideoMediaType, ".mkv": VideoMediaType, ".webm": VideoMediaType,
	".mov": VideoMediaType, ".avi": VideoMediaType,
}

// MediaTypeOfExt maps a lower-case file extension (with dot) to a media type.
func MediaTypeOfExt(ext string) (MediaType, bool) {
	t, ok := extMediaTypes[ext]
	return t, ok
}
