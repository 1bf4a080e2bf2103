package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"interview-recorder/backend"
	"interview-recorder/capture"
	"interview-recorder/config"
	"interview-recorder/constant"
	"interview-recorder/handler"
	"interview-recorder/journal"
	"interview-recorder/pkg/rabbitmq"
	"interview-recorder/recorder"
	"interview-recorder/service"
	"interview-recorder/uploader"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	orch, cleanup, err := BuildOrchestrator(ctx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("building recorder failed")
	}
	defer cleanup()

	r := gin.Default()
	handler.NewHandler(ctx, orch).Register(r)

	srv := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("addr", srv.Addr).Msg("start http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")

	// ctx is already cancelled at this point, so the drain gets its own
	// deadline.
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}
	orch.Teardown(shutdownCtx)

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

// BuildOrchestrator wires capture, session, upload transport, telemetry and
// the journal from config. The returned cleanup releases the telemetry
// channel; the broker connection itself closes with ctx.
func BuildOrchestrator(ctx context.Context, cfg *config.Config) (service.Orchestrator, func(), error) {
	jour := journal.Noop()
	if cfg.Journal.Enabled {
		j, err := journal.NewJournal(cfg)
		if err != nil {
			return nil, nil, err
		}
		jour = j
	}

	var transport uploader.Transport
	api := backend.NewClient(cfg.Backend)
	switch cfg.Upload.Transport {
	case "s3":
		transport = uploader.NewS3Transport(cfg.Storage, cfg.MinIOBucket, cfg.Upload.ObjectPrefix)
	default:
		transport = uploader.NewHTTPTransport(api)
	}

	// Telemetry is best-effort: a broker outage downgrades to no-op events
	// instead of keeping the recorder from starting.
	events := service.NoopEvents()
	cleanup := func() {}
	if cfg.Queue != nil && cfg.Queue.Enabled {
		conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
		} else {
			pub, err := rabbitmq.NewPublisher(ctx, conn, cfg.Queue)
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("telemetry publisher unavailable")
			} else {
				events = service.NewQueueEvents(pub)
				cleanup = func() {
					if err := pub.Close(); err != nil {
						zerolog.Ctx(ctx).Error().Err(err).Msg("closing telemetry publisher")
					}
				}
			}
		}
	}

	orch := service.NewOrchestrator(ctx, cfg, capture.NewManager(cfg), recorder.NewSession(), api, transport, events, jour)
	return orch, cleanup, nil
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
