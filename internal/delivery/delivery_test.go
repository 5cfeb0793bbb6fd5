package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"github.com/you/tg-mediadl/internal/types"
)

const (
	chatID    int64 = 249191443
	signature       = "via @mediadl_bot"
)

type fakeSender struct {
	sent   []tgbotapi.Chattable
	failOn func(tgbotapi.Chattable) error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.failOn != nil {
		if err := f.failOn(c); err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

type fakeStorage struct {
	uploads []string
	ttl     time.Duration
	err     error
}

func (f *fakeStorage) Upload(_ context.Context, p string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads = append(f.uploads, p)
	return "results/01J/" + p, nil
}

func (f *fakeStorage) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	f.ttl = ttl
	return "https://s3.example/" + key + "?sig", nil
}

func failDirect(c tgbotapi.Chattable) error {
	if _, ok := c.(tgbotapi.MessageConfig); ok {
		return nil
	}
	return errors.New("Bad Request: file is too big")
}

func TestDeliverThresholdIsInclusive(t *testing.T) {
	r := require.New(t)

	const limit = 1000
	snd, st := &fakeSender{}, &fakeStorage{}
	router := NewRouter(snd, st, limit, 0)

	res, err := router.Deliver(context.Background(), Delivery{ChatID: chatID, Path: "a.mp3", Signature: signature, Size: limit})
	r.NoError(err)
	r.True(res.Direct)
	r.Empty(st.uploads)
	audio, ok := snd.sent[0].(tgbotapi.AudioConfig)
	r.True(ok)
	r.Equal(signature, audio.Caption)

	res, err = router.Deliver(context.Background(), Delivery{ChatID: chatID, Path: "b.mp3", Signature: signature, Size: limit + 1})
	r.NoError(err)
	r.False(res.Direct)
	r.Equal([]string{"b.mp3"}, st.uploads)
	r.Equal(DefaultLinkTTL, st.ttl)
	msg, ok := snd.sent[1].(tgbotapi.MessageConfig)
	r.True(ok)
	r.Contains(msg.Text, res.Link)
	r.Contains(msg.Text, signature)
	r.Contains(msg.Text, "24 h")
}

func TestDeliverKinds(t *testing.T) {
	r := require.New(t)

	snd := &fakeSender{}
	router := NewRouter(snd, nil, 10, time.Hour)
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("x", "DONE")))

	for _, p := range []string{"v.mp4", "album.zip", "clip.webm"} {
		_, err := router.Deliver(context.Background(), Delivery{ChatID: chatID, Path: p, Title: "T", Signature: signature, Size: 5, Markup: &markup})
		r.NoError(err)
	}
	v, ok := snd.sent[0].(tgbotapi.VideoConfig)
	r.True(ok)
	r.True(v.SupportsStreaming)
	r.Equal("T\n\n"+signature, v.Caption)
	r.Equal(&markup, v.ReplyMarkup)
	_, ok = snd.sent[1].(tgbotapi.DocumentConfig)
	r.True(ok)
	_, ok = snd.sent[2].(tgbotapi.DocumentConfig)
	r.True(ok)
}

func TestDeliverFallsBackToLink(t *testing.T) {
	r := require.New(t)

	snd, st := &fakeSender{failOn: failDirect}, &fakeStorage{}
	router := NewRouter(snd, st, 1000, 2*time.Hour)

	res, err := router.Deliver(context.Background(), Delivery{ChatID: chatID, Path: "a.mp4", Size: 10})
	r.NoError(err)
	r.False(res.Direct)
	r.NotEmpty(res.Link)
	r.Len(snd.sent, 1)
	r.Equal(2*time.Hour, st.ttl)
}

func TestDeliverLinkFailure(t *testing.T) {
	r := require.New(t)

	var dErr *types.DeliveryError

	router := NewRouter(&fakeSender{failOn: failDirect}, &fakeStorage{err: errors.New("s3 down")}, 1000, 0)
	_, err := router.Deliver(context.Background(), Delivery{ChatID: chatID, Path: "a.mp4", Size: 10})
	r.True(errors.As(err, &dErr))
	r.ErrorContains(err, "s3 down")

	// Oversized file without storage never tries a direct send.
	snd := &fakeSender{}
	router = NewRouter(snd, nil, 1000, 0)
	_, err = router.Deliver(context.Background(), Delivery{ChatID: chatID, Path: "a.mp4", Size: 1001})
	r.True(errors.As(err, &dErr))
	r.Empty(snd.sent)
}
