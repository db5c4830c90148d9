package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/lmittmann/tint"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quiz-arena-service/internal/config"
	"quiz-arena-service/internal/events"
	"quiz-arena-service/internal/game"
	"quiz-arena-service/internal/infra/memory"
	pgstore "quiz-arena-service/internal/infra/postgres"
	redisstore "quiz-arena-service/internal/infra/redis"
	"quiz-arena-service/internal/lobby"
	"quiz-arena-service/internal/questions"
	"quiz-arena-service/internal/relay"
	transport "quiz-arena-service/internal/transport/http"
)

const chatHistoryCap = 50

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz arena server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen,
	}))

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	sessionTTL := config.Duration(cfg.Game.SessionTTL, time.Hour)
	lobbyTTL := config.Duration(cfg.Game.LobbyTTL, 2*time.Hour)

	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	// Adapters degrade to in-memory implementations when a backing store is
	// not configured, which keeps local development dependency-free.
	var (
		bus     events.Bus
		chat    *memory.ChatStore
		rchat   *redisstore.ChatStore
		store   game.SessionStore
		lobbies lobby.Repository
		history game.HistoryStore
		xp      game.XPStore
	)
	if redisClient != nil {
		bus = redisstore.NewEventBus(redisClient, logger)
		store = redisstore.NewSessionStore(redisClient, sessionTTL)
		rchat = redisstore.NewChatStore(redisClient, chatHistoryCap, lobbyTTL)
	} else {
		logger.Warn("redis not configured, using in-memory bus and session store")
		bus = memory.NewBus()
		store = memory.NewSessionStore()
		chat = memory.NewChatStore(chatHistoryCap)
	}
	if pool != nil {
		lobbies = pgstore.NewLobbyRepository(pool)
		history = pgstore.NewHistoryRepository(pool)
		xp = pgstore.NewXPRepository(pool)
	} else {
		logger.Warn("postgres not configured, using in-memory repositories")
		lobbies = memory.NewLobbyRepository()
		history = memory.NewHistoryStore()
		xp = memory.NewXPStore()
	}

	var supplier questions.Supplier
	if cfg.Questions.BaseURL != "" {
		supplier = questions.NewHTTPSupplier(cfg.Questions.BaseURL, cfg.Server.InternalSecret)
	} else {
		logger.Warn("question service not configured, using built-in sample questions")
		supplier = questions.NewStaticSupplier(nil)
	}

	manager := lobby.NewManager(lobbies,
		lobby.WithMinPlayersToStart(cfg.Game.MinPlayersToStart),
		lobby.WithLobbyTTL(lobbyTTL),
	)
	engine := game.NewEngine(store, lobbies, history, xp, supplier, bus, logger, game.Config{
		Countdown:          config.Duration(cfg.Game.Countdown, 3*time.Second),
		InterQuestionDelay: config.Duration(cfg.Game.InterQuestionDelay, 3*time.Second),
		PollInterval:       config.Duration(cfg.Game.PollInterval, 500*time.Millisecond),
	})

	hub := transport.NewHub(logger)

	var chatAppend relay.ChatStore
	var chatRead transport.ChatHistory
	if rchat != nil {
		chatAppend, chatRead = rchat, rchat
	} else {
		chatAppend, chatRead = chat, chat
	}

	ws := transport.NewWSHandler(hub, manager, engine, bus, chatRead, logger)
	api := transport.NewAPIHandler(manager, engine, bus, ws,
		cfg.Server.InternalSecret, cfg.Server.AllowedOrigins, logger)
	rel := relay.New(bus, hub, engine, chatAppend, logger)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		logger.Info("starting quiz arena", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := rel.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
