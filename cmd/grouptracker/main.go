package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/config"
	"github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/storage"
	"github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/strava"
	syncer "github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/sync"
	"github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	if err := store.InitSchema(context.Background()); err != nil {
		log.Fatalf("init schema: %v", err)
	}

	stravaClient := &strava.Client{
		APIBaseURL:   cfg.StravaAPIBaseURL,
		AuthBaseURL:  cfg.StravaAuthBaseURL,
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
	}
	activitySyncer := &syncer.Syncer{Store: store, Client: stravaClient}
	supervisor := &syncer.Supervisor{}

	webServer := web.NewServer(store, stravaClient, activitySyncer, supervisor, cfg)

	mux := http.NewServeMux()
	webServer.RegisterRoutes(mux)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      corsMiddleware(cfg.CORSOrigin, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("listening on %s", cfg.ServerAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
			stop()
		}
	}()

	go runScheduler(ctx, activitySyncer, time.Duration(cfg.SyncIntervalMinutes)*time.Minute)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	supervisor.Wait()
}

// runScheduler periodically syncs every known user and then sweeps out
// activities with excluded types, mirroring the cron the service replaces.
func runScheduler(ctx context.Context, s *syncer.Syncer, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("starting scheduled sync")
			s.SyncAll(ctx)
			s.CleanupExcluded(ctx)
			log.Printf("scheduled sync and cleanup complete")
		}
	}
}

func corsMiddleware(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
