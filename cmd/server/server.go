package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chuchoprado/mi-telegram-bot/internal/config"
	"github.com/chuchoprado/mi-telegram-bot/internal/domain/contexts"
	"github.com/chuchoprado/mi-telegram-bot/internal/domain/engine"
	"github.com/chuchoprado/mi-telegram-bot/internal/domain/relay"
	"github.com/chuchoprado/mi-telegram-bot/internal/domain/retry"
	"github.com/chuchoprado/mi-telegram-bot/internal/domain/speech"
	"github.com/chuchoprado/mi-telegram-bot/internal/domain/voice"
	"github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/database"
	"github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/kvcache"
	"github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/logger"
	"github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/openaiengine"
	"github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/recognize"
	conversationrepo "github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/repository/conversation"
	"github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/sheets"
	"github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/speechsynth"
	"github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/telegram"
	"github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/transcode"
	"github.com/chuchoprado/mi-telegram-bot/internal/interfaces/httpserver"
	"github.com/chuchoprado/mi-telegram-bot/internal/interfaces/httpserver/handlers"
	"github.com/chuchoprado/mi-telegram-bot/internal/worker"
)

type Application struct {
	httpServer *httpserver.HttpServer
	log        zerolog.Logger
}

func NewApplication(httpServer *httpserver.HttpServer, log zerolog.Logger) *Application {
	return &Application{
		httpServer: httpServer,
		log:        log,
	}
}

func (a *Application) Start(ctx context.Context) error {
	return a.httpServer.Run(ctx)
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Config{
		DSN:             cfg.DatabaseURL,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open relay store")
	}

	cacheOpts := kvcache.Options{RedisTTL: cfg.RedisTTL}
	if cfg.CacheDriver == string(kvcache.DriverRedis) {
		cacheOpts.RedisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	handleCache, err := kvcache.New(kvcache.Driver(cfg.CacheDriver), cacheOpts)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize handle cache")
	}

	contextRepository := conversationrepo.NewContextRepository(db)
	preferenceRepository := conversationrepo.NewPreferenceRepository(db)
	transcriptRepository := conversationrepo.NewTranscriptRepository(db)

	engineClient := openaiengine.NewClient(cfg.OpenAIAPIKey, cfg.AssistantID)
	contextStore := contexts.NewStore(contextRepository, handleCache, engineClient, log)
	runner := engine.NewRunner(engineClient, contextStore, engine.Config{
		PollInterval: cfg.RunPollInterval,
		Timeout:      cfg.RunTimeout,
	}, log)

	ffmpeg := transcode.NewFFmpeg(cfg.FFmpegPath)
	synthProvider := speechsynth.NewProvider(cfg.OpenAIAPIKey)
	synthCache, err := speech.NewCache(synthProvider, ffmpeg, speech.CacheConfig{
		Dir:         cfg.SpeechCacheDir,
		MinInterval: cfg.SpeechMinInterval,
		RetryPolicy: retry.Policy{
			MaxRetries:      cfg.SpeechMaxRetries,
			InitialDelay:    cfg.SpeechRetryDelay,
			MaxDelay:        cfg.SpeechRetryDelay * 8,
			BackoffStrategy: retry.BackoffExponential,
		},
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize speech cache")
	}

	recognizer := recognize.NewRecognizer(cfg.OpenAIAPIKey)
	ingest := voice.NewIngest(ffmpeg, recognizer, cfg.TempDir, log)

	bot := telegram.NewClient(cfg.TelegramToken, log)
	relayService := relay.NewService(runner, preferenceRepository, transcriptRepository, synthCache, bot, log)

	dispatcher := worker.NewDispatcher(relayService, worker.Config{
		WorkerCount:   cfg.WorkerCount,
		QueueCapacity: cfg.QueueCapacity,
		LaneDepth:     cfg.LaneDepth,
	}, log)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	allowlist := sheets.NewAllowlist(sheets.Config{
		SpreadsheetID: cfg.SpreadsheetID,
		APIKey:        cfg.SheetsAPIKey,
		Range:         cfg.SheetsRange,
		Refresh:       cfg.AllowlistRefresh,
		Static:        cfg.StaticAllowlist,
	}, log)
	allowlist.Start(ctx)

	webhookHandler := handlers.NewWebhookHandler(
		cfg.WebhookPathToken,
		dispatcher,
		contextStore,
		ingest,
		bot,
		bot,
		relayService,
		allowlist,
		transcode.SniffExtension,
		log,
	)

	httpServer := httpserver.New(cfg, log, webhookHandler)
	app := NewApplication(httpServer, log)

	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
