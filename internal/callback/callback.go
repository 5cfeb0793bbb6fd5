// Package callback encodes inline button payloads as typed tokens.
//
// Wire form is ACTION|arg1|arg2, split at most twice, so the last argument may
// contain any character. Telegram limits callback data to 64 bytes.
package callback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/you/tg-mediadl/internal/types"
)

const (
	MaxLen = 64
	sep    = "|"
)

type Action string

const (
	ActionFormat        Action = "FORMAT"
	ActionSearchPage    Action = "SEARCHPAGE"
	ActionAlbum         Action = "ALBUM"
	ActionAlbumDownload Action = "ALBUM_DOWNLOAD"
	ActionTrack         Action = "TRACK"
	ActionPage          Action = "PAGE"
	ActionTrim          Action = "TRIM"
	ActionCancel        Action = "CANCEL"
	ActionDone          Action = "DONE"
)

var (
	ErrUnknownAction = errors.New("unknown callback action")
	ErrMalformed     = errors.New("malformed callback data")
	ErrTooLong       = errors.New("callback data too long")
)

// Token is one of the concrete token types below.
type Token interface {
	Action() Action
	args() []string
}

// Format selects a format for the pending URL identified by Digest.
type Format struct {
	Digest   string
	FormatID string
}

// SearchPage navigates the cached search results.
type SearchPage struct{ Page int }

// Album navigates the pending playlist track list.
type Album struct{ Page int }

// AlbumDownload enqueues the whole pending playlist.
type AlbumDownload struct{ Digest string }

// TrackKind tells which session list a Track index points into.
type TrackKind string

const (
	TrackSearch   TrackKind = "s"
	TrackPlaylist TrackKind = "p"
)

// Track picks one item out of the search results or the playlist.
type Track struct {
	Kind  TrackKind
	Index int
}

// Page is the inert "n/m" counter button.
type Page struct{}

// Trim asks for a trim range for a retained result.
type Trim struct {
	RetainID string
	Media    types.MediaType
}

type Cancel struct{}

type Done struct{}

func (Format) Action() Action        { return ActionFormat }
func (SearchPage) Action() Action    { return ActionSearchPage }
func (Album) Action() Action         { return ActionAlbum }
func (AlbumDownload) Action() Action { return ActionAlbumDownload }
func (Track) Action() Action         { return ActionTrack }
func (Page) Action() Action          { return ActionPage }
func (Trim) Action() Action          { return ActionTrim }
func (Cancel) Action() Action        { return ActionCancel }
func (Done) Action() Action          { return ActionDone }

func (t Format) args() []string        { return []string{t.Digest, t.FormatID} }
func (t SearchPage) args() []string    { return []string{strconv.Itoa(t.Page)} }
func (t Album) args() []string         { return []string{strconv.Itoa(t.Page)} }
func (t AlbumDownload) args() []string { return []string{t.Digest} }
func (t Track) args() []string         { return []string{string(t.Kind), strconv.Itoa(t.Index)} }
func (Page) args() []string            { return nil }
func (t Trim) args() []string          { return []string{t.RetainID, mediaCode(t.Media)} }
func (Cancel) args() []string          { return nil }
func (Done) args() []string            { return nil }

// Digest is a short fingerprint of a URL used to detect stale buttons.
func Digest(url string) string {
	return strconv.FormatUint(xxhash.Sum64String(url), 36)
}

func Encode(t Token) (string, error) {
	args := t.args()
	for i, a := range args {
		if i < len(args)-1 && strings.Contains(a, sep) {
			return "", fmt.Errorf("%w: separator in argument %d", ErrMalformed, i)
		}
	}
	s := strings.Join(append([]string{string(t.Action())}, args...), sep)
	if len(s) > MaxLen {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLong, len(s))
	}
	return s, nil
}

// MustEncode is for tokens whose size is known to fit.
func MustEncode(t Token) string {
	s, err := Encode(t)
	if err != nil {
		panic(err)
	}
	return s
}

func Decode(data string) (Token, error) {
	if len(data) > MaxLen {
		return nil, ErrTooLong
	}
	parts := strings.SplitN(data, sep, 3)
	args := parts[1:]

	switch Action(parts[0]) {
	case ActionFormat:
		if len(args) != 2 || args[0] == "" || args[1] == "" {
			return nil, ErrMalformed
		}
		return Format{Digest: args[0], FormatID: args[1]}, nil
	case ActionSearchPage:
		n, err := intArg(args)
		if err != nil {
			return nil, err
		}
		return SearchPage{Page: n}, nil
	case ActionAlbum:
		n, err := intArg(args)
		if err != nil {
			return nil, err
		}
		return Album{Page: n}, nil
	case ActionAlbumDownload:
		if len(args) != 1 || args[0] == "" {
			return nil, ErrMalformed
		}
		return AlbumDownload{Digest: args[0]}, nil
	case ActionTrack:
		if len(args) != 2 {
			return nil, ErrMalformed
		}
		kind := TrackKind(args[0])
		if kind != TrackSearch && kind != TrackPlaylist {
			return nil, ErrMalformed
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return nil, ErrMalformed
		}
		return Track{Kind: kind, Index: n}, nil
	case ActionPage:
		return Page{}, nil
	case ActionTrim:
		if len(args) != 2 || args[0] == "" {
			return nil, ErrMalformed
		}
		mt, ok := mediaFromCode(args[1])
		if !ok {
			return nil, ErrMalformed
		}
		return Trim{RetainID: args[0], Media: mt}, nil
	case ActionCancel:
		return Cancel{}, nil
	case ActionDone:
		return Done{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, parts[0])
	}
}

func intArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, ErrMalformed
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, ErrMalformed
	}
	return n, nil
}

func mediaCode(t types.MediaType) string {
	if t == types.AudioMediaType {
		return "a"
	}
	return "v"
}

func mediaFromCode(c string) (types.MediaType, bool) {
	switch c {
	case "a":
		return types.AudioMediaType, true
	case "v":
		return types.VideoMediaType, true
	}
	return "", false
}
