package uploader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"interview-recorder/config"
	"interview-recorder/constant"
	"interview-recorder/dto"
)

// RetryPolicy mirrors the upload section of the agent config.
type RetryPolicy struct {
	MaxRetries              int
	BaseDelay               time.Duration
	MaxDelay                time.Duration
	Multiplier              float64
	AttemptTimeout          time.Duration
	RetryClientErrors       bool
	ResetCountOnManualRetry bool
}

func PolicyFromConfig(cfg config.Upload) RetryPolicy {
	return RetryPolicy{
		MaxRetries:              cfg.MaxRetries,
		BaseDelay:               cfg.BaseDelay,
		MaxDelay:                cfg.MaxDelay,
		Multiplier:              cfg.Multiplier,
		AttemptTimeout:          cfg.AttemptTimeout,
		RetryClientErrors:       cfg.RetryClientErrors,
		ResetCountOnManualRetry: cfg.ResetCountOnManualRetry,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = 5 * time.Minute
	}
	return p
}

// Task drives the upload of one camera recording through a transport. It
// owns the externally visible status, progress and retry count, and keeps
// them consistent under concurrent cancel and snapshot reads.
//
// Progress only ever moves forward within an attempt and reaches 100 before
// the status flips to success. The retry count is incremented before the
// backoff wait, so an observer always sees why the task is sleeping.
type Task struct {
	camera    constant.Camera
	transport Transport
	policy    RetryPolicy
	onChange  func()
	sleep     func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	status       constant.UploadStatus
	progress     int
	retryCount   int
	remoteTaskId string
	url          string
	lastErr      string
	cancelled    bool
	cancel       context.CancelFunc
}

func NewTask(camera constant.Camera, transport Transport, policy RetryPolicy, onChange func()) *Task {
	return &Task{
		camera:    camera,
		transport: transport,
		policy:    policy.withDefaults(),
		onChange:  onChange,
		sleep:     sleepCtx,
		status:    constant.UploadStatusIdle,
	}
}

// Run uploads until success, a permanent failure, retry exhaustion or a
// cancel. Re-running a failed task is the manual retry path; by default the
// retry count carries over, so each manual retry buys a single attempt
// unless the policy resets the count. A task that already succeeded returns
// immediately without uploading again.
func (t *Task) Run(ctx context.Context, req Request) error {
	t.mu.Lock()
	switch t.status {
	case constant.UploadStatusSuccess:
		t.mu.Unlock()
		return nil
	case constant.UploadStatusUploading, constant.UploadStatusRetrying:
		t.mu.Unlock()
		return errors.New("upload already running")
	case constant.UploadStatusError:
		if t.policy.ResetCountOnManualRetry {
			t.retryCount = 0
		}
	}
	t.cancelled = false
	t.lastErr = ""
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.policy.BaseDelay
	bo.Multiplier = t.policy.Multiplier
	bo.MaxInterval = t.policy.MaxDelay
	bo.RandomizationFactor = 0
	bo.Reset()

	for {
		t.beginAttempt()

		attemptCtx, cancelAttempt := context.WithTimeout(runCtx, t.policy.AttemptTimeout)
		res, err := t.transport.Upload(attemptCtx, req, t.observeProgress)
		cancelAttempt()

		if err == nil {
			t.complete(res)
			return nil
		}
		if runCtx.Err() != nil {
			t.abandon()
			return runCtx.Err()
		}
		if !retryable(err, t.policy.RetryClientErrors) {
			t.fail(err)
			return err
		}

		t.mu.Lock()
		exhausted := t.retryCount >= t.policy.MaxRetries
		t.mu.Unlock()
		if exhausted {
			t.fail(err)
			return err
		}

		t.scheduleRetry(err)
		if err := t.sleep(runCtx, bo.NextBackOff()); err != nil {
			t.abandon()
			return err
		}
	}
}

// Cancel aborts a running upload and returns the task to idle without
// touching the retry count. A task that already finished keeps its terminal
// status.
func (t *Task) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	if t.status == constant.UploadStatusUploading || t.status == constant.UploadStatusRetrying {
		t.status = constant.UploadStatusIdle
		t.progress = 0
		t.lastErr = ""
	}
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.notify()
}

func (t *Task) View() dto.UploadTaskView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return dto.UploadTaskView{
		Camera:       t.camera,
		Status:       t.status,
		Progress:     t.progress,
		RetryCount:   t.retryCount,
		RemoteTaskId: t.remoteTaskId,
		Error:        t.lastErr,
	}
}

func (t *Task) Camera() constant.Camera {
	return t.camera
}

func (t *Task) Succeeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == constant.UploadStatusSuccess
}

func (t *Task) beginAttempt() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.status = constant.UploadStatusUploading
	t.progress = 0
	t.mu.Unlock()
	t.notify()
}

func (t *Task) observeProgress(p int) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}

	t.mu.Lock()
	if t.status != constant.UploadStatusUploading || p <= t.progress {
		t.mu.Unlock()
		return
	}
	t.progress = p
	t.mu.Unlock()
	t.notify()
}

func (t *Task) complete(res *Result) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.progress = 100
	t.status = constant.UploadStatusSuccess
	t.remoteTaskId = res.RemoteTaskId
	t.url = res.Url
	t.lastErr = ""
	t.mu.Unlock()
	t.notify()
}

func (t *Task) fail(err error) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.status = constant.UploadStatusError
	t.lastErr = err.Error()
	t.mu.Unlock()
	t.notify()
}

func (t *Task) scheduleRetry(err error) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.retryCount++
	t.status = constant.UploadStatusRetrying
	t.lastErr = err.Error()
	t.mu.Unlock()
	t.notify()
}

func (t *Task) abandon() {
	t.mu.Lock()
	t.cancelled = true
	t.status = constant.UploadStatusIdle
	t.progress = 0
	t.lastErr = ""
	t.mu.Unlock()
	t.notify()
}

func (t *Task) notify() {
	if t.onChange != nil {
		t.onChange()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
