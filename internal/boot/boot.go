// Package boot provides shared startup logic for the bot binaries:
// AWS config loading, session-store selection, optional activity-log
// and media-store wiring, and SSM secret fetch. Each binary's startup
// is a short composition of these helpers.
package boot

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/crowdmagic/platebot/internal/activity"
	"github.com/crowdmagic/platebot/internal/media"
	"github.com/crowdmagic/platebot/internal/store"
)

// AWSClients holds the core AWS SDK clients shared across binaries.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// SessionTTL reads the session inactivity window from SESSION_TTL_MINUTES,
// falling back to the store default.
func SessionTTL() time.Duration {
	raw := os.Getenv("SESSION_TTL_MINUTES")
	if raw == "" {
		return store.DefaultTTL
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		log.Warn().Str("value", raw).Msg("Invalid SESSION_TTL_MINUTES — using default")
		return store.DefaultTTL
	}
	return time.Duration(minutes) * time.Minute
}

// SessionStore selects the session store backend from the environment:
// SESSIONS_TABLE (DynamoDB) wins over REDIS_ADDR (Redis) wins over the
// in-process memory store. The memory store's sweeper runs until ctx is
// cancelled.
func SessionStore(ctx context.Context, cfg aws.Config) store.Store {
	ttl := SessionTTL()

	if table := os.Getenv("SESSIONS_TABLE"); table != "" {
		log.Info().Str("table", table).Msg("Using DynamoDB session store")
		return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), table, ttl)
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		log.Info().Str("addr", addr).Msg("Using Redis session store")
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		return store.NewRedisStore(client, ttl)
	}

	log.Info().Msg("Using in-memory session store")
	mem := store.NewMemoryStore(ttl)
	mem.StartSweeper(ctx, ttl/4)
	return mem
}

// ActivityLog creates a DynamoDB activity logger when ACTIVITY_TABLE is
// set, otherwise a no-op one. Activity logging is always best-effort.
func ActivityLog(cfg aws.Config) activity.Logger {
	table := os.Getenv("ACTIVITY_TABLE")
	if table == "" {
		log.Warn().Msg("ACTIVITY_TABLE not set — activity logging disabled")
		return activity.Noop{}
	}
	return activity.NewDynamoLog(dynamodb.NewFromConfig(cfg), table)
}

// MediaStore creates an S3-backed media store when MEDIA_BUCKET is set.
// Returns nil when the deployment passes public photo URLs straight
// through to the workflow.
func MediaStore(cfg aws.Config) *media.Store {
	bucket := os.Getenv("MEDIA_BUCKET")
	if bucket == "" {
		log.Warn().Msg("MEDIA_BUCKET not set — media store disabled, photo URLs passed through")
		return nil
	}
	client := s3.NewFromConfig(cfg)
	return media.NewStore(client, s3.NewPresignClient(client), bucket)
}

// LoadWorkflowToken resolves the workflow webhook bearer token: the
// WORKFLOW_AUTH_TOKEN env var wins, then SSM Parameter Store. Returns
// "" when neither is configured (the webhook may be unauthenticated in
// development).
func LoadWorkflowToken(ssmClient *ssm.Client) string {
	if token := os.Getenv("WORKFLOW_AUTH_TOKEN"); token != "" {
		return token
	}
	paramName := os.Getenv("SSM_WORKFLOW_TOKEN_PARAM")
	if paramName == "" {
		paramName = "/platebot/prod/workflow-auth-token"
	}
	start := time.Now()
	result, err := ssmClient.GetParameter(context.Background(), &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		log.Warn().Err(err).Str("param", paramName).Msg("Workflow auth token not found in SSM — requests sent unauthenticated")
		return ""
	}
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(start)).Msg("Workflow auth token loaded from SSM")
	return *result.Parameter.Value
}
