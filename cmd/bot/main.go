package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/you/tg-mediadl/internal/bot"
	"github.com/you/tg-mediadl/internal/config"
	"github.com/you/tg-mediadl/internal/extract"
	"github.com/you/tg-mediadl/internal/health"
	"github.com/you/tg-mediadl/internal/janitor"
	"github.com/you/tg-mediadl/internal/jobs"
	"github.com/you/tg-mediadl/internal/logx"
	"github.com/you/tg-mediadl/internal/probe"
	"github.com/you/tg-mediadl/internal/search"
	"github.com/you/tg-mediadl/internal/session"
)

const sessionSweepInterval = 10 * time.Minute

func main() {
	c := config.Load()
	logx.Setup(logx.FromEnv("bot"))
	if err := c.ValidateBot(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api, err := newBotAPI(c)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth failed")
	}
	log.Info().Str("username", api.Self.UserName).Msg("bot authorized")

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	defer rdb.Close()
	queue := asynq.NewClient(asynq.RedisClientOpt{Addr: c.RedisAddr})
	defer queue.Close()

	var sessions session.Store
	switch c.SessionBackend {
	case config.SessionRedis:
		sessions = session.NewRedisStore(rdb, c.SessionTTL)
	default:
		mem := session.NewMemoryStore(c.SessionTTL)
		janitor.StartJob(ctx, "session-sweep", &janitor.SessionSweepJob{Store: mem}, sessionSweepInterval)
		sessions = mem
	}

	tool := extract.NewYtDLP(c.YtDLPPath, c.YtDLPCookies)
	sources := []search.Source{search.NewYouTube(tool)}
	if c.SearchStubSources {
		sources = append(sources, search.Stubs()...)
	}

	b := bot.New(api, sessions, jobs.NewDispatcher(queue, c.QueueMaxRetry),
		probe.New(tool, c.MaxFormatOptions),
		search.NewProvider(c.SearchLimit, sources...),
		bot.Options{
			SearchPerPage:     c.SearchPerPage,
			DownloadTimeout:   c.DownloadTimeout,
			LookupConcurrency: c.ProbeConcurrency,
		})

	health.Serve(ctx, c.HealthAddr, health.Router(map[string]health.Check{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := api.GetUpdatesChan(u)
	log.Info().Str("sessions", string(c.SessionBackend)).Msg("bot started")

	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			log.Info().Msg("bot stopped")
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			go b.HandleUpdate(ctx, upd)
		}
	}
}

func newBotAPI(c config.Config) (*tgbotapi.BotAPI, error) {
	endpoint := c.TgAPIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return tgbotapi.NewBotAPIWithAPIEndpoint(c.BotToken, endpoint)
}
