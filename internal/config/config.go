package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabasePath        string
	ServerAddr          string
	BaseURL             string
	CORSOrigin          string
	SessionSecret       string
	StravaClientID      string
	StravaClientSecret  string
	StravaAPIBaseURL    string
	StravaAuthBaseURL   string
	StravaRedirectURL   string
	SyncIntervalMinutes int
}

func Load() (Config, error) {
	// Load .env if present; real deployments rely on environment variables.
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment variables")
	}

	cfg := Config{
		DatabasePath:        getenv("DATABASE_PATH", "grouptracker.db"),
		ServerAddr:          getenv("SERVER_ADDR", ":8080"),
		BaseURL:             strings.TrimRight(os.Getenv("BASE_URL"), "/"),
		CORSOrigin:          getenv("CORS_ORIGIN", "*"),
		SessionSecret:       os.Getenv("SESSION_SECRET"),
		StravaClientID:      os.Getenv("STRAVA_CLIENT_ID"),
		StravaClientSecret:  os.Getenv("STRAVA_CLIENT_SECRET"),
		StravaAPIBaseURL:    getenv("STRAVA_BASE_URL", "https://www.strava.com/api/v3"),
		StravaAuthBaseURL:   getenv("STRAVA_AUTH_BASE_URL", "https://www.strava.com"),
		StravaRedirectURL:   os.Getenv("STRAVA_REDIRECT_URI"),
		SyncIntervalMinutes: 60,
	}

	if cfg.SessionSecret == "" {
		return Config{}, fmt.Errorf("SESSION_SECRET environment variable is required for session cookies")
	}
	if cfg.StravaRedirectURL == "" && cfg.BaseURL != "" {
		cfg.StravaRedirectURL = cfg.BaseURL + "/auth/callback"
	}
	if v := os.Getenv("SYNC_INTERVAL_MINUTES"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("SYNC_INTERVAL_MINUTES: %w", err)
		}
		cfg.SyncIntervalMinutes = parsed
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
