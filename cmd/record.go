package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"interview-recorder/config"
	"interview-recorder/constant"
	"interview-recorder/dto"
	"interview-recorder/server"
	"interview-recorder/service"
)

func record(config *config.Config) *cobra.Command {
	var (
		title    string
		mode     string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "record one session and wait for the analysis report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(config, title, mode, duration)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "session title")
	cmd.Flags().StringVar(&mode, "mode", "", "capture mode: single or dual")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop recording after this long instead of waiting for Ctrl-C")
	return cmd
}

func runRecord(cfg *config.Config, title, mode string, duration time.Duration) error {
	captureMode := constant.CaptureMode(mode)
	if mode != "" && captureMode != constant.CaptureModeSingle && captureMode != constant.CaptureModeDual {
		return fmt.Errorf("mode must be single or dual, got %q", mode)
	}

	// The first Ctrl-C stops the recording, a second one aborts the upload.
	ctx, cancel := signal.NotifyContext(loggerContext(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	orch, cleanup, err := server.BuildOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	defer orch.Teardown(context.Background())

	caps, err := orch.InitializeCapture(ctx, dto.InitializeRequest{Mode: captureMode})
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Int("cameras", caps.CameraCount).Bool("mic", caps.MicAvailable).Msg("capture ready")

	if err := orch.StartRecording(ctx, title); err != nil {
		return err
	}
	snap := orch.Snapshot()
	zerolog.Ctx(ctx).Info().Str("sessionId", snap.RemoteSessionId).Msg("recording")

	wait := duration
	if wait == 0 {
		wait = cfg.Recording.MaxDuration
	}
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
	} else {
		<-ctx.Done()
	}

	runCtx, stopRun := signal.NotifyContext(zerolog.Ctx(ctx).WithContext(context.Background()), syscall.SIGINT, syscall.SIGTERM)
	defer stopRun()

	if err := orch.StopRecording(runCtx); err != nil {
		return err
	}
	snap = orch.Snapshot()
	zerolog.Ctx(runCtx).Info().Int("elapsedSeconds", snap.ElapsedSeconds).Msg("recording stopped, uploading")

	if err := orch.StartAnalysis(runCtx); err != nil {
		return err
	}

	status, err := service.WaitForAnalysis(runCtx, orch, 5*time.Second)
	if err != nil {
		return err
	}

	snap = orch.Snapshot()
	if status.Status == constant.AnalysisStatusFailed {
		return fmt.Errorf("analysis %s failed: %s", snap.AnalysisId, status.Message)
	}
	fmt.Printf("session %s analyzed (analysis %s)\n", snap.RemoteSessionId, snap.AnalysisId)
	return nil
}
