package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/leagueofcoding/arena/internal/battle"
	appcfg "github.com/leagueofcoding/arena/internal/config"
	"github.com/leagueofcoding/arena/internal/httpapi"
	"github.com/leagueofcoding/arena/internal/judge"
	"github.com/leagueofcoding/arena/internal/matchmaking"
	"github.com/leagueofcoding/arena/internal/msgcat"
	"github.com/leagueofcoding/arena/internal/notify"
	"github.com/leagueofcoding/arena/internal/obslog"
	"github.com/leagueofcoding/arena/internal/presence"
	"github.com/leagueofcoding/arena/internal/problem"
	"github.com/leagueofcoding/arena/internal/queue"
	"github.com/leagueofcoding/arena/internal/rating"
	"github.com/leagueofcoding/arena/internal/ws"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("redis connect error: %v", err)
	}
	cancel()

	messages, err := msgcat.New(cfg.MessageOverrideDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	tracker := presence.NewTracker()
	hub := ws.NewHub(tracker)
	dispatcher := notify.NewDispatcher(hub, tracker, messages)
	hub.SetPresenceHooks(dispatcher.UserOnline, dispatcher.UserOffline)

	var ratings rating.Store
	var problems problem.Catalog
	if cfg.DatabaseURL != "" {
		pgRatings, err := rating.NewPostgresStore(cfg.DatabaseURL, cfg.DefaultRating)
		if err != nil {
			log.Fatalf("rating store init error: %v", err)
		}
		defer func() { _ = pgRatings.Close() }()
		ratings = pgRatings

		pgProblems, err := problem.NewPostgresCatalog(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("problem catalog init error: %v", err)
		}
		defer func() { _ = pgProblems.Close() }()
		problems = pgProblems
	} else {
		obslog.L().Warn("database_disabled", zap.String("mode", "in-memory ratings and problem catalog"))
		ratings = rating.NewMemStore(cfg.DefaultRating)
		problems = problem.NewMemCatalog(devProblemIDs()...)
	}

	battleStore := battle.NewStore(rdb, cfg.BattleDuration)
	battles := battle.NewManager(battleStore, judge.NewStubJudge(), dispatcher, ratings, cfg.BattleDuration)
	if cfg.DatabaseURL != "" {
		archive, err := battle.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("match archive init error: %v", err)
		}
		defer func() { _ = archive.Close() }()
		battles.AttachArchive(archive)
	}

	queueStore := queue.NewStore(rdb, cfg.QueueEntryTTL)
	engine := matchmaking.NewEngine(queueStore, ratings, problems, battles, dispatcher, cfg.RatingTolerance)

	battles.StartSweeper(cfg.SweepInterval)
	defer battles.StopSweeper()

	api := httpapi.NewServer(engine, battles, tracker)
	apiServer := &fasthttp.Server{
		Handler: api.Handler,
		Name:    "arena",
	}
	go func() {
		obslog.L().Info("api_listen", zap.String("addr", cfg.ListenAddr))
		if err := apiServer.ListenAndServe(cfg.ListenAddr); err != nil {
			obslog.L().Error("api_serve_error", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	wsServer := &http.Server{Addr: cfg.WSListenAddr, Handler: mux}
	go func() {
		obslog.L().Info("ws_listen", zap.String("addr", cfg.WSListenAddr))
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obslog.L().Error("ws_serve_error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	obslog.L().Info("shutdown_begin")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	_ = wsServer.Shutdown(shutCtx)
	_ = apiServer.Shutdown()
	_ = rdb.Close()
	obslog.L().Info("shutdown_done")
}

// devProblemIDs seeds the in-memory catalog for database-less runs. Override
// with a comma-separated PROBLEM_IDS.
func devProblemIDs() []string {
	if v := strings.TrimSpace(os.Getenv("PROBLEM_IDS")); v != "" {
		parts := strings.Split(v, ",")
		ids := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				ids = append(ids, p)
			}
		}
		if len(ids) > 0 {
			return ids
		}
	}
	return []string{"two-sum", "reverse-linked-list", "valid-parentheses"}
}
