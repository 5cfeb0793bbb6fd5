package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/you/tg-mediadl/internal/config"
	"github.com/you/tg-mediadl/internal/delivery"
	"github.com/you/tg-mediadl/internal/extract"
	"github.com/you/tg-mediadl/internal/health"
	"github.com/you/tg-mediadl/internal/history"
	"github.com/you/tg-mediadl/internal/janitor"
	"github.com/you/tg-mediadl/internal/jobs"
	"github.com/you/tg-mediadl/internal/logx"
	"github.com/you/tg-mediadl/internal/storage"
	"github.com/you/tg-mediadl/internal/trim"
	"github.com/you/tg-mediadl/internal/types"
	"github.com/you/tg-mediadl/internal/worker"
)

const retainCleanInterval = 5 * time.Minute

func main() {
	c := config.Load()
	logx.Setup(logx.FromEnv("worker"))
	if err := c.ValidateWorker(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{c.TempDir, c.RetainDir, filepath.Dir(c.HistoryDB)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create data dir")
		}
	}

	db, err := history.OpenDBAndMigrate(c.HistoryDB, history.ModeRWC)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open history")
	}
	defer db.Close()
	repo := history.New(db)

	endpoint := c.TgAPIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(c.BotToken, endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth failed")
	}

	store, err := storage.NewS3(ctx, storage.Config{
		Bucket:   c.S3Bucket,
		Region:   c.S3Region,
		Endpoint: c.S3Endpoint,
		Prefix:   c.S3Prefix,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up object storage")
	}

	w := worker.New(worker.Config{
		TempDir:    c.TempDir,
		RetainDir:  c.RetainDir,
		RetainTTL:  c.RetainTTL,
		MaxRetries: c.MaxRetries,
		RetryDelay: c.RetryDelay,
		Signature:  c.Signature,
	},
		extract.NewYtDLP(c.YtDLPPath, c.YtDLPCookies),
		delivery.NewRouter(api, store, c.MaxDirectSendBytes, c.ResultTTL),
		api, repo, trim.New(c.FFmpegPath),
	)

	janitor.StartJob(ctx, "retain-clean", &janitor.RetainCleanJob{
		Root: c.RetainDir, Store: repo, MaxAge: c.RetainTTL,
	}, retainCleanInterval)

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	defer rdb.Close()
	health.Serve(ctx, c.HealthAddr, health.Router(map[string]health.Check{
		"redis":   func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"history": func(ctx context.Context) error { return db.PingContext(ctx) },
	}))

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: c.RedisAddr}, asynq.Config{
		Concurrency: c.Concurrency,
		Queues:      map[string]int{jobs.QueueDownloads: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			id, _ := asynq.GetTaskID(ctx)
			log.Error().Err(err).Str("task", t.Type()).Str("job_id", id).Msg("task failed")
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(jobs.TaskDownload, func(ctx context.Context, t *asynq.Task) error {
		var p jobs.DownloadPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("bad %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
		return settled(w.Download(ctx, p))
	})
	mux.HandleFunc(jobs.TaskTrim, func(ctx context.Context, t *asynq.Task) error {
		var p jobs.TrimPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("bad %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
		return settled(w.Trim(ctx, p))
	})

	// Run blocks until SIGTERM or SIGINT and then drains in-flight jobs.
	log.Info().Int("concurrency", c.Concurrency).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
}

// settled stops the queue from retrying a job whose user was already told it failed.
func settled(err error) error {
	var fatal *types.WorkerFatalError
	if errors.As(err, &fatal) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}
