// Command bot-server runs the chat orchestration front-end as a
// standalone HTTP server. The messaging platform bridge posts inbound
// events to /api/events; session storage, the activity log, and the
// media store are selected from the environment at startup.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crowdmagic/platebot/internal/activity"
	"github.com/crowdmagic/platebot/internal/boot"
	"github.com/crowdmagic/platebot/internal/httpapi"
	"github.com/crowdmagic/platebot/internal/logging"
	"github.com/crowdmagic/platebot/internal/media"
	"github.com/crowdmagic/platebot/internal/orchestrator"
	"github.com/crowdmagic/platebot/internal/workflow"
)

// CLI flags
var (
	portFlag    int
	envFileFlag string
)

var rootCmd = &cobra.Command{
	Use:   "bot-server",
	Short: "Chat orchestration server for photo content creation",
	Long: `bot-server receives photo-submission and button-press events from a
messaging platform bridge, drives each user's content-creation session
through its selection flow, and delegates enhancement and caption
generation to the configured workflow webhook.

Examples:
  bot-server
  bot-server --port 9090
  bot-server --env-file .env.local`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on")
	rootCmd.Flags().StringVar(&envFileFlag, "env-file", ".env", "Env file loaded before reading configuration")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	initStart := time.Now()

	// Local configuration file is optional.
	if err := godotenv.Load(envFileFlag); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", envFileFlag, err)
		os.Exit(1)
	}
	logging.Init()

	endpoint := os.Getenv("WORKFLOW_WEBHOOK_URL")
	if endpoint == "" {
		log.Fatal().Msg("WORKFLOW_WEBHOOK_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// AWS is only touched when a configured backend needs it.
	var awsCfg aws.Config
	var activityLog activity.Logger = activity.Noop{}
	var mediaStore *media.Store
	if os.Getenv("SESSIONS_TABLE") != "" || os.Getenv("ACTIVITY_TABLE") != "" || os.Getenv("MEDIA_BUCKET") != "" {
		clients := boot.InitAWS()
		awsCfg = clients.Config
		activityLog = boot.ActivityLog(awsCfg)
		mediaStore = boot.MediaStore(awsCfg)
	}
	sessionStore := boot.SessionStore(ctx, awsCfg)

	client := workflow.NewClient(endpoint,
		workflow.WithAuthToken(os.Getenv("WORKFLOW_AUTH_TOKEN")))
	orch := orchestrator.New(sessionStore, client, activityLog)

	mux := http.NewServeMux()
	httpapi.NewHandler(orch, mediaStore).Register(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", portFlag),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // processing calls block the event request
	}

	logging.NewStartupLogger("bot-server").
		Config("port", fmt.Sprintf("%d", portFlag)).
		Config("workflowWebhook", endpoint).
		Feature("mediaStore", mediaStore != nil).
		Feature("activityLog", os.Getenv("ACTIVITY_TABLE") != "").
		InitDuration(time.Since(initStart)).
		Log()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
		}
	}()

	log.Info().Int("port", portFlag).Msg("Listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Server stopped")
}
