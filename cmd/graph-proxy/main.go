package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/graph-client/pkg/apierr"
	"github.com/Sternrassler/graph-client/pkg/client"
	"github.com/Sternrassler/graph-client/pkg/logging"
	"github.com/Sternrassler/graph-client/pkg/metrics"
	"github.com/Sternrassler/graph-client/pkg/signedrequest"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"
)

// config is the proxy configuration read from the environment.
type config struct {
	AccessToken string
	AppSecret   string
	Version     string
	RedisURL    string
	Port        string
	UserAgent   string
	LogLevel    string
	MaxRetries  int
}

func loadConfig() (config, error) {
	cfg := config{
		AccessToken: os.Getenv("GRAPH_ACCESS_TOKEN"),
		AppSecret:   os.Getenv("GRAPH_APP_SECRET"),
		Version:     os.Getenv("GRAPH_VERSION"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Port:        getEnv("PORT", "8080"),
		UserAgent:   getEnv("USER_AGENT", "graph-client/0.1.0"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MaxRetries:  3,
	}

	if v := os.Getenv("GRAPH_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("GRAPH_MAX_RETRIES: %w", err)
		}
		cfg.MaxRetries = n
	}

	return cfg, nil
}

func main() {
	// Optional .env next to the binary
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig()
	logger := logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.LogLevel),
		Output:  os.Stderr,
		Service: "graph-proxy",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = newRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis_url", cfg.RedisURL).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("redis_url", cfg.RedisURL).Msg("Connected to Redis")
	}

	clientCfg := client.DefaultConfig(cfg.AccessToken)
	clientCfg.AppSecret = cfg.AppSecret
	clientCfg.Version = cfg.Version
	clientCfg.UserAgent = cfg.UserAgent
	clientCfg.MaxRetries = cfg.MaxRetries
	clientCfg.Redis = redisClient

	graphClient, err := client.New(clientCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Graph client")
	}
	defer graphClient.Close()

	addr := ":" + cfg.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           newMux(graphClient, redisClient, cfg.AppSecret, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("addr", addr).
		Str("version", cfg.Version).
		Str("user_agent", cfg.UserAgent).
		Msg("Starting Graph proxy server")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func newMux(graphClient *client.Client, redisClient *redis.Client, appSecret string, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/signed-request", signedRequestHandler(appSecret))
	mux.HandleFunc("/graph/", graphProxyHandler(graphClient, logger))
	return mux
}

func newRedisClient(redisURL string) (*redis.Client, error) {
	if strings.Contains(redisURL, "://") {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// signedRequestHandler verifies the signed_request form field and returns
// the decoded payload.
func signedRequestHandler(appSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if appSecret == "" {
			writeError(w, apierr.Usage("GRAPH_APP_SECRET is not configured"))
			return
		}

		sr, err := signedrequest.Parse(r.PostFormValue("signed_request"), appSecret)
		if err != nil {
			writeError(w, err)
			return
		}

		body, err := signedRequestJSON(sr)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}

func signedRequestJSON(sr *signedrequest.SignedRequest) ([]byte, error) {
	var err error
	body := []byte(`{}`)

	set := func(path string, value any) {
		if err == nil {
			body, err = sjson.SetBytes(body, path, value)
		}
	}

	set("user_id", sr.UserID)
	set("authorized", sr.Authorized())
	if !sr.IssuedAt.IsZero() {
		set("issued_at", sr.IssuedAt.Unix())
	}
	if token := sr.AccessToken(); token != nil {
		set("oauth_token.expired", token.Expired(time.Now()))
		if !token.ExpiresAt.IsZero() {
			set("oauth_token.expires_at", token.ExpiresAt.Unix())
		}
	}
	if sr.Page != nil {
		set("page.id", sr.Page.ID)
		set("page.liked", sr.Page.Liked)
		set("page.admin", sr.Page.Admin)
	}
	if len(sr.AppData) > 0 && err == nil {
		body, err = sjson.SetRawBytes(body, "app_data", sr.AppData)
	}

	return body, err
}

// graphProxyHandler forwards GET /graph/{path} to the Graph API with the
// configured credentials.
func graphProxyHandler(graphClient *client.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Example: /graph/me/friends -> me/friends
		path := strings.TrimPrefix(r.URL.Path, "/graph/")

		params := client.Params{}
		for key, values := range r.URL.Query() {
			params[key] = strings.Join(values, ",")
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		resp, err := graphClient.Get(ctx, path, params)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Graph request failed")
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		if _, err := w.Write(resp.Raw); err != nil {
			logger.Error().Err(err).Msg("Failed to write response")
		}
	}
}

// writeError renders err in the Graph error envelope.
func writeError(w http.ResponseWriter, err error) {
	var gerr *apierr.Error
	if !errors.As(err, &gerr) {
		gerr = &apierr.Error{Kind: apierr.KindRemote, Message: err.Error()}
	}

	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "error.message", gerr.Message)
	body, _ = sjson.SetBytes(body, "error.kind", string(gerr.Kind))
	if gerr.Type != "" {
		body, _ = sjson.SetBytes(body, "error.type", gerr.Type)
	}
	if gerr.Code != 0 {
		body, _ = sjson.SetBytes(body, "error.code", gerr.Code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(gerr))
	w.Write(body)
}

func statusFor(err *apierr.Error) int {
	switch err.Kind {
	case apierr.KindUsage, apierr.KindToken:
		return http.StatusBadRequest
	case apierr.KindAuth:
		return http.StatusUnauthorized
	case apierr.KindTransport:
		return http.StatusBadGateway
	}
	if err.StatusCode >= 400 && err.StatusCode < 500 {
		return err.StatusCode
	}
	return http.StatusBadGateway
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
