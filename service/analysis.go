package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"interview-recorder/constant"
	"interview-recorder/dto"
)

// WaitForAnalysis polls the backend until the analysis reaches a terminal
// status or the context ends. Transient poll failures are logged and
// retried on the next tick; bound the wait through the context.
func WaitForAnalysis(ctx context.Context, o Orchestrator, interval time.Duration) (*dto.AnalysisStatusResponse, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := o.AnalysisStatus(ctx)
		switch {
		case errors.Is(err, ErrNoAnalysis):
			return nil, err
		case err != nil:
			zerolog.Ctx(ctx).Warn().Err(err).Msg("analysis poll failed")
		default:
			zerolog.Ctx(ctx).Info().
				Str("status", string(status.Status)).
				Int("progress", status.Progress).
				Msg("analysis progress")
			if status.Status == constant.AnalysisStatusCompleted || status.Status == constant.AnalysisStatusFailed {
				return status, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
