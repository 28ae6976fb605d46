// Command bot-lambda runs the chat orchestration front-end as an AWS
// Lambda behind an HTTP API. The platform bridge posts inbound events
// to /api/events exactly as with bot-server; the Lambda proxy adapter
// wraps the same mux.
//
// Cold-start configuration: AWS config, session store (SESSIONS_TABLE
// required here, since in-memory state does not survive Lambda recycling),
// activity log, media store, and the workflow auth token from SSM.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/crowdmagic/platebot/internal/boot"
	"github.com/crowdmagic/platebot/internal/httpapi"
	"github.com/crowdmagic/platebot/internal/logging"
	"github.com/crowdmagic/platebot/internal/orchestrator"
	"github.com/crowdmagic/platebot/internal/workflow"
)

var mux *http.ServeMux

func init() {
	initStart := time.Now()
	logging.Init()

	endpoint := os.Getenv("WORKFLOW_WEBHOOK_URL")
	if endpoint == "" {
		log.Fatal().Msg("WORKFLOW_WEBHOOK_URL is required")
	}
	if os.Getenv("SESSIONS_TABLE") == "" {
		log.Fatal().Msg("SESSIONS_TABLE is required — Lambda instances cannot hold sessions in memory")
	}

	clients := boot.InitAWS()
	sessionStore := boot.SessionStore(context.Background(), clients.Config)
	activityLog := boot.ActivityLog(clients.Config)
	mediaStore := boot.MediaStore(clients.Config)
	authToken := boot.LoadWorkflowToken(clients.SSM)

	client := workflow.NewClient(endpoint, workflow.WithAuthToken(authToken))
	orch := orchestrator.New(sessionStore, client, activityLog)

	mux = http.NewServeMux()
	httpapi.NewHandler(orch, mediaStore).Register(mux)

	logging.NewStartupLogger("bot-lambda").
		DynamoTable("sessions", os.Getenv("SESSIONS_TABLE")).
		DynamoTable("activity", os.Getenv("ACTIVITY_TABLE")).
		S3Bucket("media", os.Getenv("MEDIA_BUCKET")).
		Config("workflowWebhook", endpoint).
		Feature("mediaStore", mediaStore != nil).
		Feature("activityLog", os.Getenv("ACTIVITY_TABLE") != "").
		InitDuration(time.Since(initStart)).
		Log()
}

func main() {
	lambda.Start(httpadapter.New(mux).ProxyWithContext)
}
