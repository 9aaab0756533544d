package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"modqueue/internal/events"
	"modqueue/internal/gateway"
	"modqueue/internal/ledger"
	"modqueue/internal/metrics"
	"modqueue/internal/moderation"
	"modqueue/internal/storage"
)

// Services holds the wired application components.
type Services struct {
	SessionManager *gateway.SessionManager
	WSHandler      *gateway.WebSocketHandler
	App            *moderation.App
	Moderation     *moderation.Service
	Publisher      events.Publisher
	Ledger         ledger.TokenLedger
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	clock := clockwork.NewRealClock()
	collector := metrics.NewPrometheusCollector()

	store, err := setupStore(config, clock)
	if err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(config)
	if err != nil {
		return nil, err
	}

	tokens, err := setupLedger(ctx, config)
	if err != nil {
		return nil, err
	}

	connConfig := gateway.DefaultConnectionConfig()
	if config.Gateway.PingIntervalSec > 0 {
		connConfig.PingInterval = time.Duration(config.Gateway.PingIntervalSec) * time.Second
	}
	if config.Gateway.MissedPingLimit > 0 {
		connConfig.MissedPingLimit = config.Gateway.MissedPingLimit
	}

	sessionManager := gateway.NewSessionManager(connConfig, clock, collector, getEnv("MOD_ADMIN_KEY", ""))
	broadcaster := gateway.NewBroadcaster(sessionManager)

	app := moderation.NewApp(sessionManager, broadcaster, store, publisher, collector, clock)
	sessionManager.SetHooks(app)

	serviceConfig := moderation.DefaultServiceConfig()
	serviceConfig.AdminKey = getEnv("MOD_ADMIN_KEY", "")
	if maxUpload := getEnvAsInt("MAX_UPLOAD_BYTES", 0); maxUpload > 0 {
		serviceConfig.MaxUploadBytes = int64(maxUpload)
	}

	return &Services{
		SessionManager: sessionManager,
		WSHandler:      gateway.NewWebSocketHandler(sessionManager),
		App:            app,
		Moderation:     moderation.NewService(app, store, tokens, serviceConfig),
		Publisher:      publisher,
		Ledger:         tokens,
	}, nil
}

func setupStore(config *Config, clock clockwork.Clock) (storage.ArtifactStore, error) {
	switch config.Storage.Backend {
	case "", "s3":
		s3Config := storage.DefaultS3Config()
		s3Config.Bucket = getEnv("S3_BUCKET", config.Storage.Bucket)
		s3Config.Endpoint = getEnv("S3_ENDPOINT", config.Storage.Endpoint)
		s3Config.AccessKeyID = getEnv("S3_ACCESS_KEY_ID", "")
		s3Config.SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", "")
		if config.Storage.Region != "" {
			s3Config.Region = config.Storage.Region
		}
		if config.Storage.PendingPrefix != "" {
			s3Config.PendingPrefix = config.Storage.PendingPrefix
		}
		if config.Storage.PublicPrefix != "" {
			s3Config.PublicPrefix = config.Storage.PublicPrefix
		}
		s3Config.PublicBaseURL = config.Storage.PublicBaseURL
		if config.Storage.PromoteAttempts > 0 {
			s3Config.PromoteAttempts = uint64(config.Storage.PromoteAttempts)
		}
		if config.Storage.PromoteIntervalSec > 0 {
			s3Config.PromoteInterval = time.Duration(config.Storage.PromoteIntervalSec) * time.Second
		}
		if s3Config.Bucket == "" {
			return nil, fmt.Errorf("storage backend s3 requires a bucket")
		}
		return storage.NewS3Store(s3Config, clock)

	case "memory":
		log.Warn().Msg("using in-memory artifact store, submissions do not survive restarts")
		return storage.NewMemoryStore(config.Storage.PublicBaseURL, clock), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", config.Storage.Backend)
	}
}

func setupPublisher(config *Config) (events.Publisher, error) {
	if !config.Events.Enabled {
		return events.NoOpPublisher{}, nil
	}

	jsConfig := events.DefaultJetStreamConfig()
	if config.Events.URL != "" {
		jsConfig.URL = config.Events.URL
	}
	if config.Events.Stream != "" {
		jsConfig.StreamName = config.Events.Stream
	}
	if config.Events.SubjectPrefix != "" {
		jsConfig.SubjectPrefix = config.Events.SubjectPrefix
	}

	publisher, err := events.NewJetStreamPublisher(jsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}
	return publisher, nil
}

func setupLedger(ctx context.Context, config *Config) (ledger.TokenLedger, error) {
	if !config.Ledger.Enabled {
		log.Warn().Msg("submission token ledger disabled, accepting all submissions")
		return ledger.OpenLedger{}, nil
	}

	dbCfg := dbConfigFromEnv()
	tokens, err := ledger.NewPostgresLedger(ctx, dbCfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to create token ledger: %w", err)
	}
	log.Info().Str("host", dbCfg.Host).Str("database", dbCfg.Database).Msg("connected to token ledger")
	return tokens, nil
}
