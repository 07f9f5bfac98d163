// README: Entry point; loads config, wires stores and services, starts the HTTP server.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lifeline/internal/config"
	httptransport "lifeline/internal/http"
	"lifeline/internal/infra"
	"lifeline/internal/maps"
	"lifeline/internal/modules/matching"
	"lifeline/internal/modules/request"
	"lifeline/internal/modules/route"
	"lifeline/internal/modules/tracking"
	"lifeline/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := infra.NewLogger(os.Getenv("LIFELINE_DEBUG_LOG") != "")
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Routing.APIKey == "" {
		log.Fatal("LIFELINE_MAPS_API_KEY is required")
	}
	directions, err := maps.NewDirectionsService(cfg.Routing.APIKey, cfg.Routing.Region)
	if err != nil {
		log.Fatalf("maps init: %v", err)
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)

	tokenStore := notify.NewPGTokenStore(dbPool)
	notifier := notify.NewExpoDispatcher(tokenStore, logger)

	// The Firebase live feed is optional; without it tracking still works,
	// observers just have no push channel.
	var feed tracking.LiveFeed
	if cfg.Firebase.ProjectID != "" {
		firebaseFeed, err := notify.NewFirebaseFeed(ctx,
			cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL, logger)
		if err != nil {
			log.Fatalf("firebase init: %v", err)
		}
		feed = firebaseFeed
	}

	matchingStore := matching.NewStore(dbPool, redisClient)
	matchingSvc := matching.NewService(matchingStore, cfg.Matching, logger)

	routeStore := route.NewPGStore(dbPool, redisClient)
	routeSvc := route.NewService(routeStore, directions, cfg.Routing, logger)

	trackingStore := tracking.NewPGStore(dbPool)
	trackingSvc := tracking.NewService(routeStore, trackingStore, feed, cfg.Tracking, logger)

	requestStore := request.NewStore(dbPool)
	requestSvc := request.NewService(requestStore, matchingSvc, notifier, routeSvc, logger)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Requests: requestSvc,
		Matching: matchingSvc,
		Routes:   routeSvc,
		Tracking: trackingSvc,
		Tokens:   tokenStore,
		Log:      logger,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		notifier.Flush()
	}()

	logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
