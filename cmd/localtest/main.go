package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/you/tg-mediadl/internal/delivery"
	"github.com/you/tg-mediadl/internal/extract"
	"github.com/you/tg-mediadl/internal/history"
	"github.com/you/tg-mediadl/internal/jobs"
	"github.com/you/tg-mediadl/internal/logx"
	"github.com/you/tg-mediadl/internal/trim"
	"github.com/you/tg-mediadl/internal/types"
	"github.com/you/tg-mediadl/internal/worker"
)

// printSender stands in for Telegram and prints what would have been sent.
type printSender struct{}

func (printSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	switch v := c.(type) {
	case tgbotapi.MessageConfig:
		fmt.Println("message:", v.Text)
	case tgbotapi.AudioConfig:
		fmt.Println("audio:", v.File.(tgbotapi.FilePath), "|", v.Caption)
	case tgbotapi.VideoConfig:
		fmt.Println("video:", v.File.(tgbotapi.FilePath), "|", v.Caption)
	case tgbotapi.DocumentConfig:
		fmt.Println("document:", v.File.(tgbotapi.FilePath), "|", v.Caption)
	default:
		fmt.Printf("%T\n", c)
	}
	return tgbotapi.Message{}, nil
}

func main() {
	format := flag.String("format", types.FormatBestAudio, "format selector or \"album\"")
	out := flag.String("out", "./out", "directory that keeps the results")
	ytdlpPath := flag.String("ytdlp", "yt-dlp", "path to yt-dlp")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Println("Usage: go run ./cmd/localtest [-format bestaudio] [-out ./out] <url>")
		os.Exit(2)
	}
	logx.Setup(logx.Config{Service: "localtest", Level: "debug", Format: "console"})

	db, err := history.OpenDBAndMigrate("localtest", history.ModeMemory)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open history")
	}
	defer db.Close()

	var sender printSender
	w := worker.New(worker.Config{
		TempDir:    os.TempDir(),
		RetainDir:  filepath.Clean(*out),
		RetainTTL:  time.Hour,
		MaxRetries: 1,
		Signature:  "localtest",
	},
		extract.NewYtDLP(*ytdlpPath, ""),
		// Without storage anything over the limit fails instead of being linked.
		delivery.NewRouter(sender, nil, 1<<40, 0),
		sender, history.New(db), trim.New(""),
	)

	err = w.Download(context.Background(), jobs.DownloadPayload{
		JobID:        "localtest",
		Target:       flag.Arg(0),
		FormatOrMode: *format,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("download failed")
	}
}
