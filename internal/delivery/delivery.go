// Package delivery sends finished files to the chat, directly or as a storage link.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/you/tg-mediadl/internal/logx"
	"github.com/you/tg-mediadl/internal/types"
)

const (
	DefaultMaxDirectBytes int64 = 50_000_000
	DefaultLinkTTL              = 24 * time.Hour
)

var errNoStorage = errors.New("object storage is not configured")

// Sender is satisfied by *tgbotapi.BotAPI.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Storage interface {
	Upload(ctx context.Context, localPath string) (string, error)
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Delivery struct {
	ChatID    int64
	Path      string
	Title     string
	Signature string
	Size      int64
	Markup    *tgbotapi.InlineKeyboardMarkup
}

type Result struct {
	Direct bool
	Link   string
}

type Router struct {
	sender    Sender
	storage   Storage
	maxDirect int64
	linkTTL   time.Duration
}

// NewRouter accepts a nil storage; oversized files then fail with DeliveryError.
func NewRouter(sender Sender, storage Storage, maxDirect int64, linkTTL time.Duration) *Router {
	if maxDirect <= 0 {
		maxDirect = DefaultMaxDirectBytes
	}
	if linkTTL <= 0 {
		linkTTL = DefaultLinkTTL
	}
	return &Router{sender: sender, storage: storage, maxDirect: maxDirect, linkTTL: linkTTL}
}

// Deliver attaches files up to the limit (inclusive) and links anything larger.
// A rejected attachment falls back to the link path.
func (r *Router) Deliver(ctx context.Context, d Delivery) (Result, error) {
	logger := logx.FromCtx(ctx).With().Str("file", filepath.Base(d.Path)).Int64("size", d.Size).Logger()

	if d.Size <= r.maxDirect {
		err := r.sendDirect(d)
		if err == nil {
			logger.Info().Msg("delivered directly")
			return Result{Direct: true}, nil
		}
		logger.Warn().Err(err).Msg("direct send failed, falling back to link")
	}

	link, err := r.sendLink(ctx, d)
	if err != nil {
		logger.Error().Err(err).Msg("link delivery failed")
		return Result{}, &types.DeliveryError{Err: err}
	}
	logger.Info().Msg("delivered as link")
	return Result{Link: link}, nil
}

func (r *Router) sendDirect(d Delivery) error {
	file := tgbotapi.FilePath(d.Path)
	caption := caption(d.Title, d.Signature)

	var c tgbotapi.Chattable
	switch ext := strings.ToLower(filepath.Ext(d.Path)); ext {
	case ".mp3", ".m4a":
		a := tgbotapi.NewAudio(d.ChatID, file)
		a.Caption = caption
		a.Title = d.Title
		if d.Markup != nil {
			a.ReplyMarkup = d.Markup
		}
		c = a
	case ".mp4":
		v := tgbotapi.NewVideo(d.ChatID, file)
		v.Caption = caption
		v.SupportsStreaming = true
		if d.Markup != nil {
			v.ReplyMarkup = d.Markup
		}
		c = v
	default:
		doc := tgbotapi.NewDocument(d.ChatID, file)
		doc.Caption = caption
		if d.Markup != nil {
			doc.ReplyMarkup = d.Markup
		}
		c = doc
	}
	_, err := r.sender.Send(c)
	return err
}

func (r *Router) sendLink(ctx context.Context, d Delivery) (string, error) {
	if r.storage == nil {
		return "", errNoStorage
	}
	key, err := r.storage.Upload(ctx, d.Path)
	if err != nil {
		return "", err
	}
	link, err := r.storage.Presign(ctx, key, r.linkTTL)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("The file is too large for Telegram. Download it here:\n")
	b.WriteString(link)
	fmt.Fprintf(&b, "\nThe link expires in %s.", humanTTL(r.linkTTL))
	if c := caption(d.Title, d.Signature); c != "" {
		b.WriteString("\n\n" + c)
	}
	msg := tgbotapi.NewMessage(d.ChatID, b.String())
	msg.DisableWebPagePreview = true
	if d.Markup != nil {
		msg.ReplyMarkup = d.Markup
	}
	if _, err := r.sender.Send(msg); err != nil {
		return "", fmt.Errorf("failed to send link: %w", err)
	}
	return link, nil
}

func caption(title, signature string) string {
	switch {
	case title == "":
		return signature
	case signature == "":
		return title
	}
	return title + "\n\n" + signature
}

func humanTTL(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%d h", int(d/time.Hour))
	}
	return d.String()
}
