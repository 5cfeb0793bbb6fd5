package worker

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"github.com/you/tg-mediadl/internal/callback"
	"github.com/you/tg-mediadl/internal/delivery"
	"github.com/you/tg-mediadl/internal/extract"
	"github.com/you/tg-mediadl/internal/history"
	"github.com/you/tg-mediadl/internal/jobs"
	"github.com/you/tg-mediadl/internal/trim"
	"github.com/you/tg-mediadl/internal/types"
)

const (
	chatID    int64 = 249191443
	userID    int64 = 554555
	signature       = "via @mediadl_bot"
	mb              = 1 << 20
)

type fakeExtractor struct {
	mu       sync.Mutex
	calls    int
	dirs     []string
	download func(call int, req extract.DownloadRequest) error
}

func (f *fakeExtractor) Probe(context.Context, string) (*extract.Info, error) {
	return nil, errors.New("not used")
}

func (f *fakeExtractor) Search(context.Context, string, int) ([]extract.Entry, error) {
	return nil, errors.New("not used")
}

func (f *fakeExtractor) Download(_ context.Context, req extract.DownloadRequest) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.dirs = append(f.dirs, req.Dir)
	f.mu.Unlock()
	return f.download(call, req)
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []tgbotapi.Chattable
	onSend func(tgbotapi.Chattable)
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onSend != nil {
		f.onSend(c)
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) texts() []string {
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

type fakeStorage struct{ uploads []string }

func (f *fakeStorage) Upload(_ context.Context, p string) (string, error) {
	f.uploads = append(f.uploads, p)
	return "results/" + filepath.Base(p), nil
}

func (f *fakeStorage) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://s3.example/" + key, nil
}

type fakeTrimmer struct{ calls int }

func (f *fakeTrimmer) Trim(_ context.Context, path, outDir string, start float64, end *float64) (string, error) {
	f.calls++
	if _, err := trim.ValidateRange(start, end); err != nil {
		return "", err
	}
	out := trim.OutputPath(path, outDir)
	return out, os.WriteFile(out, []byte("trimmed"), 0o644)
}

type env struct {
	w       *Worker
	ext     *fakeExtractor
	sender  *fakeSender
	storage *fakeStorage
	repo    *history.Repository
	retain  string
}

func newEnv(t *testing.T, maxDirect int64, download func(int, extract.DownloadRequest) error, tr trimmer) *env {
	t.Helper()
	db, err := history.OpenDBAndMigrate(t.Name(), history.ModeMemory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	e := &env{
		ext:     &fakeExtractor{download: download},
		sender:  &fakeSender{},
		storage: &fakeStorage{},
		repo:    history.New(db),
		retain:  t.TempDir(),
	}
	if tr == nil {
		tr = &fakeTrimmer{}
	}
	router := delivery.NewRouter(e.sender, e.storage, maxDirect, 24*time.Hour)
	e.w = New(Config{
		TempDir:    t.TempDir(),
		RetainDir:  e.retain,
		RetainTTL:  time.Hour,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		Signature:  signature,
	}, e.ext, router, e.sender, e.repo, tr)
	return e
}

func writeSized(t *testing.T, path string, size int64) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, os.Truncate(path, size))
}

func payload(id, format string) jobs.DownloadPayload {
	return jobs.DownloadPayload{
		JobID: id, Target: "https://youtu.be/abc123", FormatOrMode: format, UserID: userID, ChatID: chatID,
	}
}

func retainIDOf(t *testing.T, c tgbotapi.Chattable) string {
	t.Helper()
	var markup any
	switch v := c.(type) {
	case tgbotapi.AudioConfig:
		markup = v.ReplyMarkup
	case tgbotapi.VideoConfig:
		markup = v.ReplyMarkup
	case tgbotapi.MessageConfig:
		markup = v.ReplyMarkup
	}
	m, ok := markup.(*tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok, "delivered message has no keyboard")
	tok, err := callback.Decode(*m.InlineKeyboard[0][0].CallbackData)
	require.NoError(t, err)
	tr, ok := tok.(callback.Trim)
	require.True(t, ok)
	return tr.RetainID
}

func TestDownloadFailureCleansUpAndNotifiesOnce(t *testing.T) {
	r := require.New(t)

	e := newEnv(t, 50_000_000, func(_ int, req extract.DownloadRequest) error {
		writeSized(t, filepath.Join(req.Dir, "partial [abc123].mp3.part"), 1024)
		return &types.ExternalToolError{Tool: "yt-dlp", Output: "ERROR: HTTP Error 403", Err: types.ErrInternal}
	}, nil)

	err := e.w.Download(context.Background(), payload("job-fail", types.FormatBestAudio))
	var fatal *types.WorkerFatalError
	r.True(errors.As(err, &fatal))
	r.Equal("job-fail", fatal.JobID)
	var tErr *types.ExternalToolError
	r.True(errors.As(err, &tErr))

	r.Equal(2, e.ext.calls)
	for _, d := range e.ext.dirs {
		r.NoDirExists(d)
	}
	r.Len(e.sender.sent, 1)
	r.Equal([]string{"❌ Download failed. Try again later."}, e.sender.texts())
	r.NotContains(e.sender.texts()[0], "403")

	job, err := e.repo.Get(context.Background(), "job-fail")
	r.NoError(err)
	r.Equal(history.StateError, job.State)
}

func TestDownloadNoFiles(t *testing.T) {
	r := require.New(t)

	e := newEnv(t, 50_000_000, func(_ int, req extract.DownloadRequest) error {
		return os.WriteFile(filepath.Join(req.Dir, "x [abc123].info.json"), []byte(`{}`), 0o644)
	}, nil)

	err := e.w.Download(context.Background(), payload("job-empty", "18"))
	r.True(errors.Is(err, types.ErrNoFiles))
	r.Equal([]string{"❌ Nothing was downloaded from this link."}, e.sender.texts())
	r.NoDirExists(e.ext.dirs[0])
}

func TestDownloadSmallFileIsAttachedDirectly(t *testing.T) {
	r := require.New(t)

	var req0 extract.DownloadRequest
	e := newEnv(t, 50_000_000, func(_ int, req extract.DownloadRequest) error {
		req0 = req
		writeSized(t, filepath.Join(req.Dir, "Believer [abc123].mp3"), 10*mb)
		info := `{"id":"abc123","title":"Believer","uploader":"ImagineDragonsVEVO","artist":"Imagine Dragons"}`
		return os.WriteFile(filepath.Join(req.Dir, "Believer [abc123].info.json"), []byte(info), 0o644)
	}, nil)

	p := payload("6b0d3c2e-7a51-4f7e-9a8b-1c2d3e4f5a6b", types.FormatBestAudio)
	r.NoError(e.w.Download(context.Background(), p))

	r.True(req0.AudioOnly)
	r.False(req0.Playlist)
	r.Equal(types.FormatBestAudio, req0.Format)
	r.NoDirExists(req0.Dir)

	r.Len(e.sender.sent, 1)
	audio, ok := e.sender.sent[0].(tgbotapi.AudioConfig)
	r.True(ok, "expected a direct audio attachment, got %T", e.sender.sent[0])
	r.Equal("Believer\n\n"+signature, audio.Caption)
	r.Empty(e.storage.uploads)

	retained, err := e.repo.GetRetained(context.Background(), retainIDOf(t, audio))
	r.NoError(err)
	r.FileExists(retained.Path)
	r.True(strings.HasPrefix(retained.Path, e.retain))
	r.Equal(types.AudioMediaType, retained.MediaType)

	job, err := e.repo.Get(context.Background(), p.JobID)
	r.NoError(err)
	r.Equal(history.StateDone, job.State)
	r.Equal("Believer", job.Title)
}

func TestDownloadLargeFileGoesToStorage(t *testing.T) {
	r := require.New(t)

	e := newEnv(t, 5*mb, func(_ int, req extract.DownloadRequest) error {
		writeSized(t, filepath.Join(req.Dir, "clip [x].mp4"), 6*mb)
		return nil
	}, nil)

	r.NoError(e.w.Download(context.Background(), payload("job-big", types.FormatBestVideo)))
	r.Len(e.storage.uploads, 1)
	r.Len(e.sender.sent, 1)
	msg, ok := e.sender.sent[0].(tgbotapi.MessageConfig)
	r.True(ok)
	r.Contains(msg.Text, "https://s3.example/results/clip.mp4")
}

func TestDownloadPicksLargestMediaFile(t *testing.T) {
	r := require.New(t)

	e := newEnv(t, 50_000_000, func(_ int, req extract.DownloadRequest) error {
		writeSized(t, filepath.Join(req.Dir, "a [1].mp4"), 2*mb)
		writeSized(t, filepath.Join(req.Dir, "b [1].mp4"), 3*mb)
		writeSized(t, filepath.Join(req.Dir, "c [1].mp4.part"), 9*mb)
		writeSized(t, filepath.Join(req.Dir, "c [1].webp"), 9*mb)
		return nil
	}, nil)

	r.NoError(e.w.Download(context.Background(), payload("job-largest", "137+140")))
	video, ok := e.sender.sent[0].(tgbotapi.VideoConfig)
	r.True(ok)
	r.Equal("b\n\n"+signature, video.Caption)
}

func TestDownloadRetriesThenSucceeds(t *testing.T) {
	r := require.New(t)

	e := newEnv(t, 50_000_000, func(call int, req extract.DownloadRequest) error {
		if call == 1 {
			writeSized(t, filepath.Join(req.Dir, "junk.mp4"), 4*mb)
			return errors.New("connection reset")
		}
		entries, err := os.ReadDir(req.Dir)
		r.NoError(err)
		r.Empty(entries, "job dir must be emptied between attempts")
		writeSized(t, filepath.Join(req.Dir, "good [1].mp4"), mb)
		return nil
	}, nil)

	r.NoError(e.w.Download(context.Background(), payload("job-retry", "18")))
	r.Equal(2, e.ext.calls)
	r.Len(e.sender.sent, 1)
}

func TestRedeliveredJobIsSkipped(t *testing.T) {
	r := require.New(t)

	e := newEnv(t, 50_000_000, func(_ int, req extract.DownloadRequest) error {
		writeSized(t, filepath.Join(req.Dir, "a [1].mp4"), mb)
		return nil
	}, nil)

	p := payload("job-twice", "18")
	r.NoError(e.w.Download(context.Background(), p))
	r.NoError(e.w.Download(context.Background(), p))
	r.Equal(1, e.ext.calls)
	r.Len(e.sender.sent, 1)
}

func TestAlbumIsZipped(t *testing.T) {
	r := require.New(t)

	e := newEnv(t, 50_000_000, func(_ int, req extract.DownloadRequest) error {
		r.True(req.Playlist)
		r.True(req.AudioOnly)
		for _, n := range []string{"One [a].mp3", "Two [b].mp3", "Three [c].mp3"} {
			writeSized(t, filepath.Join(req.Dir, n), 1024)
		}
		return nil
	}, nil)

	var entries []string
	e.sender.onSend = func(c tgbotapi.Chattable) {
		doc, ok := c.(tgbotapi.DocumentConfig)
		if !ok {
			return
		}
		zr, err := zip.OpenReader(string(doc.File.(tgbotapi.FilePath)))
		r.NoError(err)
		defer zr.Close()
		for _, f := range zr.File {
			entries = append(entries, f.Name)
		}
	}

	p := payload("job-album", types.ModeAlbum)
	p.Title = "Evolve"
	r.NoError(e.w.Download(context.Background(), p))
	r.ElementsMatch([]string{"One [a].mp3", "Two [b].mp3", "Three [c].mp3"}, entries)
	doc := e.sender.sent[0].(tgbotapi.DocumentConfig)
	r.True(strings.HasPrefix(doc.Caption, "📦 Evolve (3 tracks)"))
	r.Nil(doc.ReplyMarkup)
}

func TestTrimRetainedResult(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	tr := &fakeTrimmer{}
	e := newEnv(t, 50_000_000, func(_ int, req extract.DownloadRequest) error {
		writeSized(t, filepath.Join(req.Dir, "clip [1].mp4"), mb)
		return nil
	}, tr)
	r.NoError(e.w.Download(ctx, payload("job-src", "18")))
	retainID := retainIDOf(t, e.sender.sent[0])

	end := 20.0
	r.NoError(e.w.Trim(ctx, jobs.TrimPayload{
		JobID: "trim-1", RetainID: retainID, Media: types.VideoMediaType, ChatID: chatID, UserID: userID, Start: 10, End: &end,
	}))
	r.Equal(1, tr.calls)
	video, ok := e.sender.sent[1].(tgbotapi.VideoConfig)
	r.True(ok)
	r.True(strings.HasPrefix(video.Caption, "✂️ clip\n"))

	// Another chat cannot use the retained id.
	err := e.w.Trim(ctx, jobs.TrimPayload{JobID: "trim-2", RetainID: retainID, ChatID: chatID + 1, Start: 1})
	r.True(errors.Is(err, types.ErrFileExpired))

	// A file changed after delivery is refused.
	ret, err := e.repo.GetRetained(ctx, retainID)
	r.NoError(err)
	r.NoError(os.WriteFile(ret.Path, []byte("replaced"), 0o644))
	err = e.w.Trim(ctx, jobs.TrimPayload{JobID: "trim-3", RetainID: retainID, ChatID: chatID, Start: 1})
	r.True(errors.Is(err, types.ErrFileExpired))
	r.Equal(1, tr.calls)

	texts := e.sender.texts()
	r.Len(texts, 2)
	r.Contains(texts[1], "no longer available")
}

func TestTrimBadRangeIsUserError(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	e := newEnv(t, 50_000_000, func(_ int, req extract.DownloadRequest) error {
		writeSized(t, filepath.Join(req.Dir, "song [1].mp3"), 4096)
		return nil
	}, trim.New(filepath.Join(t.TempDir(), "no-ffmpeg")))
	r.NoError(e.w.Download(ctx, payload("job-src", types.FormatBestAudio)))

	five := 5.0
	err := e.w.Trim(ctx, jobs.TrimPayload{
		JobID: "trim-bad", RetainID: retainIDOf(t, e.sender.sent[0]), ChatID: chatID, Start: 10, End: &five,
	})
	var uie *types.UserInputError
	r.True(errors.As(err, &uie))
	r.Equal([]string{"❌ End time must be greater than start time."}, e.sender.texts())
}

func TestTrimUnknownRetainID(t *testing.T) {
	e := newEnv(t, 50_000_000, nil, nil)
	err := e.w.Trim(context.Background(), jobs.TrimPayload{JobID: "t", RetainID: "01HZZZZZZZZZZZZZZZZZZZZZZZ", ChatID: chatID})
	require.True(t, errors.Is(err, types.ErrFileExpired))
	require.Len(t, e.sender.sent, 1)
}

func TestAlbumWithUnavailableTrackIsStillDelivered(t *testing.T) {
	r := require.New(t)

	e := newEnv(t, 50_000_000, func(_ int, req extract.DownloadRequest) error {
		writeSized(t, filepath.Join(req.Dir, "One [a].mp3"), 1024)
		writeSized(t, filepath.Join(req.Dir, "Two [b].mp3"), 1024)
		return &types.ExternalToolError{Tool: "yt-dlp", Output: "ERROR: [youtube] c: Video unavailable", Err: types.ErrInternal}
	}, nil)

	p := payload("job-album-partial", types.ModeAlbum)
	p.Title = "Evolve"
	r.NoError(e.w.Download(context.Background(), p))
	r.Equal(1, e.ext.calls)
	r.Len(e.sender.sent, 1)
	doc, ok := e.sender.sent[0].(tgbotapi.DocumentConfig)
	r.True(ok)
	r.True(strings.HasPrefix(doc.Caption, "📦 Evolve (2 tracks)"))
}

func TestAlbumWithNothingDownloadedFails(t *testing.T) {
	r := require.New(t)

	e := newEnv(t, 50_000_000, func(_ int, req extract.DownloadRequest) error {
		return &types.ExternalToolError{Tool: "yt-dlp", Output: "ERROR: playlist does not exist", Err: types.ErrInternal}
	}, nil)

	err := e.w.Download(context.Background(), payload("job-album-empty", types.ModeAlbum))
	var fatal *types.WorkerFatalError
	r.True(errors.As(err, &fatal))
	r.Equal(2, e.ext.calls)
	r.Equal([]string{"❌ Download failed. Try again later."}, e.sender.texts())
}

func TestPanicInJobNotifiesUser(t *testing.T) {
	r := require.New(t)

	e := newEnv(t, 50_000_000, func(_ int, req extract.DownloadRequest) error {
		writeSized(t, filepath.Join(req.Dir, "x [abc123].mp3"), 1024)
		panic("tag library exploded")
	}, nil)

	err := e.w.Download(context.Background(), payload("job-panic", types.FormatBestAudio))
	var fatal *types.WorkerFatalError
	r.True(errors.As(err, &fatal))
	r.ErrorIs(err, types.ErrInternal)
	r.Equal([]string{"❌ Download failed. Try again later."}, e.sender.texts())
	r.NoDirExists(e.ext.dirs[0])

	job, err := e.repo.Get(context.Background(), "job-panic")
	r.NoError(err)
	r.Equal(history.StateError, job.State)
}
