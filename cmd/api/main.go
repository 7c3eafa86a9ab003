package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-polyglot/backend/internal/config"
	"github.com/zhouzirui/z-polyglot/backend/internal/handler"
	"github.com/zhouzirui/z-polyglot/backend/internal/logger"
	"github.com/zhouzirui/z-polyglot/backend/internal/model/language"
	"github.com/zhouzirui/z-polyglot/backend/internal/service/assistant"
	"github.com/zhouzirui/z-polyglot/backend/internal/service/chat"
	"github.com/zhouzirui/z-polyglot/backend/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if envErr != nil {
		log.Info("no .env file loaded, continuing with system environment variables only", zap.Error(envErr))
	}

	languages, err := loadLanguages(cfg.Languages)
	if err != nil {
		log.Fatal("failed to load languages", zap.Error(err))
	}

	// Initialize assistant client
	var conversation chat.Conversation
	if cfg.Assistant.Enabled() {
		client, backend, err := newAssistantClient(ctx, cfg.Assistant, logger.Component(log, "assistant"))
		if err != nil {
			log.Fatal("failed to initialize assistant", zap.Error(err))
		}
		conversation = client
		// Ark 线程保存在进程内，过期会话的线程在这里回收
		if ark, ok := backend.(*assistant.ArkBackend); ok && cfg.Session.TTL > 0 {
			go runEvery(ctx, sweepInterval(cfg.Session.TTL), func() {
				if n := ark.Sweep(cfg.Session.TTL); n > 0 {
					log.Debug("idle ark threads removed", zap.Int("count", n))
				}
			})
		}
		log.Info("assistant client initialized", zap.String("provider", cfg.Assistant.Provider))
	} else {
		log.Warn("assistant credentials missing, messages will fail until OPENAI_API_KEY/ASSISTANT_ID or Ark settings are provided",
			zap.String("provider", cfg.Assistant.Provider))
	}

	// Initialize speech service
	var speechSvc *speech.Service
	var chatSpeech chat.Speech
	if cfg.Speech.Enabled {
		recognizer, err := speech.NewGoogleRecognizer(ctx, cfg.Speech.Settings.RecognitionModel)
		if err != nil {
			// recording answers 503 while synthesis keeps working
			log.Warn("speech recognition unavailable, recording disabled", zap.Error(err))
		} else {
			defer recognizer.Close()
		}

		synthesizer := speech.NewTranslateSynthesizer(cfg.Speech.Settings.TTSBaseURL, cfg.Speech.Settings.TTSTLD, cfg.Speech.Settings.Timeout)

		var rec speech.Recognizer
		if recognizer != nil {
			rec = recognizer
		}
		speechSvc = speech.NewService(cfg.Speech.Settings, rec, synthesizer, logger.Component(log, "speech"))
		chatSpeech = speechSvc
		log.Info("speech service initialized", zap.Bool("recognition", rec != nil))
	} else {
		log.Info("speech disabled by SPEECH_ENABLED, skipping voice features")
	}

	store, closeStore, err := newSessionStore(ctx, cfg.Session, log)
	if err != nil {
		log.Fatal("failed to initialize session store", zap.Error(err))
	}
	defer closeStore()

	chatSvc := chat.NewService(chat.Options{
		Store:           store,
		Languages:       languages,
		Assistant:       conversation,
		Speech:          chatSpeech,
		DefaultLanguage: cfg.Languages.Default,
		Logger:          logger.Component(log, "chat"),
	})

	router := handler.NewRouter(languages, chatSvc, speechSvc, logger.Component(log, "http"))

	startServer(ctx, cfg.Server, router, log)
}

func loadLanguages(cfg config.LanguageConfig) (language.Store, error) {
	if cfg.File == "" {
		return language.NewMemoryStore(language.Seed()), nil
	}
	items, err := language.LoadFile(cfg.File)
	if err != nil {
		return nil, err
	}
	return language.NewMemoryStore(items), nil
}

func newAssistantClient(ctx context.Context, cfg config.AssistantConfig, log *zap.Logger) (*assistant.Client, assistant.Backend, error) {
	opts := assistant.Options{
		PollInterval:    cfg.PollInterval,
		MaxPollInterval: cfg.MaxPollInterval,
		BackoffFactor:   cfg.BackoffFactor,
		MaxWait:         cfg.MaxWait,
	}

	var backend assistant.Backend
	switch cfg.Provider {
	case config.ProviderArk:
		chatModel, err := cfg.Ark.NewChatModel(ctx)
		if err != nil {
			return nil, nil, err
		}
		backend = assistant.NewArkBackend(chatModel, cfg.Ark.Instructions, log)
	default:
		openaiBackend, err := assistant.NewOpenAIBackend(cfg.APIKey, cfg.AssistantID, cfg.BaseURL)
		if err != nil {
			return nil, nil, err
		}
		backend = openaiBackend
	}

	return assistant.NewClient(backend, opts, log), backend, nil
}

func newSessionStore(ctx context.Context, cfg config.SessionConfig, log *zap.Logger) (chat.Store, func(), error) {
	if cfg.Store == config.StoreRedis {
		store, err := chat.NewRedisStore(ctx, &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.TTL)
		if err != nil {
			return nil, nil, err
		}
		log.Info("redis session store connected", zap.String("addr", cfg.RedisAddr))
		return store, func() { _ = store.Close() }, nil
	}

	store := chat.NewMemoryStore(cfg.TTL)
	sweepCtx, cancel := context.WithCancel(ctx)
	go runEvery(sweepCtx, sweepInterval(cfg.TTL), func() {
		if n := store.Sweep(); n > 0 {
			log.Debug("expired sessions removed", zap.Int("count", n))
		}
	})
	return store, cancel, nil
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}

// runEvery 定期执行清理任务直到 ctx 结束
func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("polyglot backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
