package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/crmsync/hubspot-extractor/pkg/checkpoint"
	"github.com/crmsync/hubspot-extractor/pkg/client"
	"github.com/crmsync/hubspot-extractor/pkg/extract"
	"github.com/crmsync/hubspot-extractor/pkg/hubspot"
	"github.com/crmsync/hubspot-extractor/pkg/logging"
	"github.com/crmsync/hubspot-extractor/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Configuration from environment
	accessToken := getEnv("HUBSPOT_ACCESS_TOKEN", "")
	baseURL := getEnv("HUBSPOT_BASE_URL", client.DefaultBaseURL)
	redisURL := getEnv("REDIS_URL", "localhost:6379")
	scanID := getEnv("SCAN_ID", "")
	organizationID := getEnv("ORGANIZATION_ID", "")
	metricsAddr := getEnv("METRICS_ADDR", "")

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnvBool("LOG_PRETTY", false),
		Output: os.Stderr,
	})
	logger := logging.NewLogger("hubspot-extract")

	if accessToken == "" {
		logger.Fatal().Msg("HUBSPOT_ACCESS_TOKEN is required")
	}
	if scanID == "" {
		logger.Fatal().Msg("SCAN_ID is required")
	}

	// Stop on SIGINT/SIGTERM; in-flight requests observe the context.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup Redis for checkpoint storage
	redisClient := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("redis_url", redisURL).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()
	logger.Info().Str("redis_url", redisURL).Msg("Connected to Redis")

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info().Str("addr", metricsAddr).Msg("Serving Prometheus metrics")
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	limiter := ratelimit.NewDefaultLimiter(logger)

	clientCfg := client.DefaultConfig(limiter, accessToken)
	clientCfg.BaseURL = baseURL
	hubspotClient, err := client.New(clientCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create HubSpot client")
	}

	service := hubspot.NewService(hubspotClient)

	// Preflight: fail fast on a bad token instead of mid-run.
	valid, err := service.ValidateToken(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("Token validation request failed")
	}
	if !valid {
		logger.Fatal().Msg("HubSpot access token is invalid or expired")
	}

	store := checkpoint.NewRedisStore(redisClient, 0)

	var resume *extract.ResumePoint
	if getEnvBool("RESUME", false) {
		resume, err = checkpoint.Resume(ctx, store, scanID)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to load resume checkpoint")
		}
		if resume == nil {
			logger.Info().Str("scan_id", scanID).Msg("No resumable checkpoint, starting fresh")
		}
	}

	extractor := extract.New(service, extract.Config{
		RunID:          scanID,
		OrganizationID: organizationID,
		Filters: extract.Filters{
			Properties:          splitList(getEnv("PROPERTIES", "")),
			AssociationTypes:    splitList(getEnv("ASSOCIATIONS", "")),
			IncludeAssociations: getEnv("ASSOCIATIONS", "") != "",
			IncludeArchived:     getEnvBool("INCLUDE_ARCHIVED", false),
			BatchSize:           getEnvInt("BATCH_SIZE", hubspot.MaxPageSize),
			CheckpointInterval:  getEnvInt("CHECKPOINT_INTERVAL", extract.DefaultCheckpointInterval),
			MaxPages:            getEnvInt("MAX_PAGES", extract.DefaultMaxPages),
		},
		Callbacks: extract.Callbacks{
			Checkpoint: checkpoint.Callback(ctx, store),
		},
		Resume: resume,
	})

	// Records stream to stdout as NDJSON; logs go to stderr.
	enc := json.NewEncoder(os.Stdout)
	count := 0
	for record, err := range extractor.Records(ctx) {
		if err != nil {
			logger.Error().Err(err).Int("records_emitted", count).Msg("Extraction failed")
			os.Exit(1)
		}
		if err := enc.Encode(record); err != nil {
			logger.Fatal().Err(err).Msg("Failed to write record")
		}
		count++
	}

	logger.Info().Int("records_emitted", count).Str("scan_id", scanID).Msg("Extraction finished")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// splitList parses a comma-separated environment value.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
