package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"interview-recorder/backend"
	"interview-recorder/capture"
	"interview-recorder/config"
	"interview-recorder/constant"
	"interview-recorder/dto"
	"interview-recorder/entities"
	"interview-recorder/journal"
	"interview-recorder/recorder"
	"interview-recorder/uploader"
)

var (
	ErrAnalysisCancelled = errors.New("analysis cancelled")
	ErrNoAnalysis        = errors.New("no analysis in flight")
)

// Orchestrator sequences the capture, recording, upload and analysis
// hand-off around the session state machine. All side effects live here;
// the state machine itself stays pure.
type Orchestrator interface {
	InitializeCapture(ctx context.Context, req dto.InitializeRequest) (dto.CaptureCapabilities, error)
	StartRecording(ctx context.Context, title string) error
	StopRecording(ctx context.Context) error
	Resume(ctx context.Context) error
	Retake(ctx context.Context) error
	StartAnalysis(ctx context.Context) error
	CancelAnalysis(ctx context.Context) error
	Reset(ctx context.Context) error
	Snapshot() dto.SessionSnapshot
	Subscribe() (<-chan dto.SessionSnapshot, func())
	Devices(ctx context.Context) ([]dto.DeviceView, error)
	AttachPreview(camera constant.Camera, sinkId string, w io.Writer) error
	DetachPreview(camera constant.Camera, sinkId string)
	SetTrackEnabled(camera constant.Camera, kind constant.TrackKind, enabled bool) error
	AnalysisStatus(ctx context.Context) (*dto.AnalysisStatusResponse, error)
	History(ctx context.Context, limit int) ([]*entities.SessionRecord, error)
	Teardown(ctx context.Context)
}

type orchestrator struct {
	log       *zerolog.Logger
	cfg       *config.Config
	capture   *capture.Manager
	session   *recorder.Session
	api       *backend.Client
	transport uploader.Transport
	events    EventPublisher
	journal   journal.Journal
	notifier  *recorder.Notifier
	policy    uploader.RetryPolicy

	mu           sync.Mutex
	tasks        map[constant.Camera]*uploader.Task
	uploadCancel context.CancelFunc
	cancelled    bool
}

func NewOrchestrator(
	ctx context.Context,
	cfg *config.Config,
	manager *capture.Manager,
	sess *recorder.Session,
	api *backend.Client,
	transport uploader.Transport,
	events EventPublisher,
	jour journal.Journal,
) Orchestrator {
	o := &orchestrator{
		log:       zerolog.Ctx(ctx),
		cfg:       cfg,
		capture:   manager,
		session:   sess,
		api:       api,
		transport: transport,
		events:    events,
		journal:   jour,
		notifier:  recorder.NewNotifier(),
		policy:    uploader.PolicyFromConfig(cfg.Upload),
		tasks:     make(map[constant.Camera]*uploader.Task),
	}
	sess.SetOnChange(o.publishSnapshot)
	return o
}

// InitializeCapture acquires the devices and moves the session to preview.
// The capture layer may degrade the requested mode, so the session is told
// what was actually acquired.
func (o *orchestrator) InitializeCapture(ctx context.Context, req dto.InitializeRequest) (dto.CaptureCapabilities, error) {
	if state := o.session.State(); state != constant.SessionStateIdle && state != constant.SessionStatePreview {
		return dto.CaptureCapabilities{}, fmt.Errorf("%w: cannot initialize capture while %s", recorder.ErrInvalidTransition, state)
	}

	mode := req.Mode
	if mode == "" {
		mode = constant.CaptureModeDual
	}
	micEnabled := true
	if req.MicEnabled != nil {
		micEnabled = *req.MicEnabled
	}

	caps, err := o.capture.Initialize(ctx, mode, micEnabled)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("mode", mode.String()).Msg("failed to initialize capture")
		return dto.CaptureCapabilities{}, err
	}

	if err := o.session.BeginPreview(o.capture.Mode(), caps); err != nil {
		o.capture.Release()
		return dto.CaptureCapabilities{}, err
	}

	zerolog.Ctx(ctx).Info().
		Str("mode", o.capture.Mode().String()).
		Int("cameras", caps.CameraCount).
		Bool("mic", caps.MicAvailable).
		Msg("capture initialized")

	return caps, nil
}

// StartRecording creates the remote session, binds it to a fresh take and
// starts ingesting chunks from every acquired camera.
func (o *orchestrator) StartRecording(ctx context.Context, title string) error {
	if !o.capture.Initialized() {
		return capture.ErrNotInitialized
	}
	if title == "" {
		title = o.cfg.Recording.DefaultTitle
	}

	created, err := o.api.CreateSession(ctx, title)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create remote session")
		return err
	}

	cameras := o.capture.Cameras()
	if err := o.session.StartRecording(created.SessionId, cameras, capture.MediaTypeWebM); err != nil {
		return err
	}

	o.mu.Lock()
	o.tasks = make(map[constant.Camera]*uploader.Task)
	o.mu.Unlock()

	for _, camera := range cameras {
		camera := camera
		_ = o.capture.SetChunkHandler(camera, func(c capture.Chunk) { o.ingest(c) })
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", created.SessionId).
		Str("title", title).
		Int("cameras", len(cameras)).
		Msg("recording started")

	if err := o.journal.SessionStarted(ctx, created.SessionId, title, o.capture.Mode()); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to journal session start")
	}
	o.emit(ctx, EventSessionStarted, created.SessionId, constant.Camera(""), "")

	return nil
}

// StopRecording seals the take and stops chunk ingestion. A trailing
// encoder flush may still arrive after the seal; ingest drops it.
func (o *orchestrator) StopRecording(ctx context.Context) error {
	if err := o.session.StopRecording(); err != nil {
		return err
	}
	for _, camera := range o.capture.Cameras() {
		_ = o.capture.SetChunkHandler(camera, nil)
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", o.session.RemoteSessionId()).
		Int("elapsed_seconds", o.session.Elapsed()).
		Msg("recording stopped")

	return nil
}

// Resume reopens the take and keeps recording into the same remote
// session. The content changes from here, so earlier upload results no
// longer describe the take and the tasks are discarded.
func (o *orchestrator) Resume(ctx context.Context) error {
	if err := o.session.Resume(); err != nil {
		return err
	}

	o.mu.Lock()
	o.tasks = make(map[constant.Camera]*uploader.Task)
	o.mu.Unlock()

	for _, camera := range o.capture.Cameras() {
		camera := camera
		_ = o.capture.SetChunkHandler(camera, func(c capture.Chunk) { o.ingest(c) })
	}

	zerolog.Ctx(ctx).Info().Str("session_id", o.session.RemoteSessionId()).Msg("recording resumed")
	o.emit(ctx, EventSessionResumed, o.session.RemoteSessionId(), constant.Camera(""), "")

	return nil
}

// Retake discards the take and returns to preview for a fresh attempt. The
// discarded remote session is left behind; the next start creates a new one.
func (o *orchestrator) Retake(ctx context.Context) error {
	previousId := o.session.RemoteSessionId()
	elapsed := o.session.Elapsed()

	if err := o.session.Retake(); err != nil {
		return err
	}

	o.mu.Lock()
	o.tasks = make(map[constant.Camera]*uploader.Task)
	o.mu.Unlock()

	zerolog.Ctx(ctx).Info().Str("session_id", previousId).Msg("take discarded")

	if previousId != "" {
		if err := o.journal.SessionFinished(ctx, previousId, journal.OutcomeRetaken, elapsed); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to journal retake")
		}
		o.emit(ctx, EventSessionRetaken, previousId, constant.Camera(""), "")
	}

	return nil
}

// StartAnalysis uploads every camera recording in parallel and completes
// the remote session once all of them landed. It blocks until the hand-off
// finished one way or the other.
//
// A camera whose upload already succeeded for this sealed take is skipped;
// a manual retry therefore only re-sends the streams that failed. Any
// failure returns the session to review with the take intact.
func (o *orchestrator) StartAnalysis(ctx context.Context) error {
	o.mu.Lock()
	o.cancelled = false
	o.mu.Unlock()

	if err := o.session.BeginAnalyzing(); err != nil {
		return err
	}

	sessionId := o.session.RemoteSessionId()
	cameras := make([]constant.Camera, 0, 2)
	for _, camera := range o.session.Cameras() {
		if o.session.SegmentSize(camera) == 0 {
			zerolog.Ctx(ctx).Info().Str("camera", camera.String()).Msg("skipping camera with no recorded data")
			continue
		}
		cameras = append(cameras, camera)
	}
	zerolog.Ctx(ctx).Info().
		Str("session_id", sessionId).
		Int("cameras", len(cameras)).
		Msg("starting analysis hand-off")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	o.uploadCancel = cancel
	for _, camera := range cameras {
		if _, ok := o.tasks[camera]; !ok {
			o.tasks[camera] = uploader.NewTask(camera, o.transport, o.policy, o.publishSnapshot)
		}
	}
	tasks := make(map[constant.Camera]*uploader.Task, len(o.tasks))
	for camera, task := range o.tasks {
		tasks[camera] = task
	}
	cancelled := o.cancelled
	o.mu.Unlock()
	if cancelled {
		return ErrAnalysisCancelled
	}

	var wg sync.WaitGroup
	uploadErrs := make([]error, len(cameras))
	for i, camera := range cameras {
		task := tasks[camera]
		if task.Succeeded() {
			zerolog.Ctx(ctx).Info().Str("camera", camera.String()).Msg("upload already succeeded, skipping")
			continue
		}

		blob, err := o.session.Blob(camera)
		if err != nil {
			uploadErrs[i] = err
			continue
		}

		wg.Add(1)
		go func(i int, camera constant.Camera, task *uploader.Task, blob recorder.Blob) {
			defer wg.Done()
			err := task.Run(runCtx, uploader.Request{
				SessionId: sessionId,
				Camera:    camera,
				Blob:      blob,
			})
			uploadErrs[i] = err

			// an abandoned run has no outcome worth recording
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}

			view := task.View()
			if jErr := o.journal.UploadFinished(ctx, sessionId, view, blob.Size()); jErr != nil {
				o.log.Warn().Err(jErr).Str("camera", camera.String()).Msg("failed to journal upload")
			}
			if err != nil {
				o.emit(ctx, EventUploadFailed, sessionId, camera, view.Error)
			} else {
				o.emit(ctx, EventUploadFinished, sessionId, camera, view.RemoteTaskId)
			}
		}(i, camera, task, blob)
	}
	wg.Wait()

	if o.isCancelled() {
		zerolog.Ctx(ctx).Info().Str("session_id", sessionId).Msg("analysis hand-off cancelled")
		return ErrAnalysisCancelled
	}

	if err := errors.Join(uploadErrs...); err != nil {
		reason := uploadFailureReason(tasks)
		zerolog.Ctx(ctx).Error().Err(err).Str("session_id", sessionId).Msg("analysis hand-off failed")
		if rErr := o.session.ReturnToReview(reason); rErr != nil {
			zerolog.Ctx(ctx).Warn().Err(rErr).Msg("failed to return session to review")
		}
		return err
	}

	completed, err := o.api.CompleteSession(ctx, sessionId, o.session.Elapsed(), map[string]any{
		"mode":    o.capture.Mode().String(),
		"cameras": len(cameras),
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("session_id", sessionId).Msg("failed to complete remote session")
		if rErr := o.session.ReturnToReview("completing session failed: " + err.Error()); rErr != nil {
			zerolog.Ctx(ctx).Warn().Err(rErr).Msg("failed to return session to review")
		}
		return err
	}

	if err := o.session.SetAnalysis(completed.AnalysisId); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", sessionId).
		Str("analysis_id", completed.AnalysisId).
		Msg("analysis started")

	if err := o.journal.SessionFinished(ctx, sessionId, journal.OutcomeCompleted, o.session.Elapsed()); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to journal session completion")
	}
	o.emit(ctx, EventSessionCompleted, sessionId, constant.Camera(""), completed.AnalysisId)

	return nil
}

// CancelAnalysis aborts the hand-off and synchronously returns the session
// to review with the take intact. Upload tasks are reset to idle; the
// still-unwinding run goroutines see the cancel and leave state alone.
func (o *orchestrator) CancelAnalysis(ctx context.Context) error {
	if state := o.session.State(); state != constant.SessionStateAnalyzing {
		return fmt.Errorf("%w: cannot cancel analysis while %s", recorder.ErrInvalidTransition, state)
	}

	o.mu.Lock()
	o.cancelled = true
	cancel := o.uploadCancel
	tasks := make([]*uploader.Task, 0, len(o.tasks))
	for _, task := range o.tasks {
		tasks = append(tasks, task)
	}
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, task := range tasks {
		task.Cancel()
	}

	zerolog.Ctx(ctx).Info().Str("session_id", o.session.RemoteSessionId()).Msg("analysis hand-off cancel requested")

	return o.session.ReturnToReview("")
}

// Reset aborts whatever is in flight and returns the agent to idle,
// releasing the devices.
func (o *orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	o.cancelled = true
	cancel := o.uploadCancel
	tasks := make([]*uploader.Task, 0, len(o.tasks))
	for _, task := range o.tasks {
		tasks = append(tasks, task)
	}
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, task := range tasks {
		task.Cancel()
	}

	previousId := o.session.RemoteSessionId()
	previousState := o.session.State()
	elapsed := o.session.Elapsed()

	o.session.Reset()
	o.capture.Release()

	o.mu.Lock()
	o.tasks = make(map[constant.Camera]*uploader.Task)
	o.mu.Unlock()

	zerolog.Ctx(ctx).Info().Str("from", previousState.String()).Msg("session reset")

	if previousId != "" && previousState != constant.SessionStateIdle {
		if err := o.journal.SessionFinished(ctx, previousId, journal.OutcomeAbandoned, elapsed); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to journal session abandon")
		}
		o.emit(ctx, EventSessionAbandoned, previousId, constant.Camera(""), "")
	}

	return nil
}

// Snapshot merges the session state with the current upload task views.
func (o *orchestrator) Snapshot() dto.SessionSnapshot {
	snapshot := o.session.Snapshot()

	o.mu.Lock()
	tasks := make([]*uploader.Task, 0, len(o.tasks))
	for _, task := range o.tasks {
		tasks = append(tasks, task)
	}
	o.mu.Unlock()

	views := make([]dto.UploadTaskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, task.View())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Camera < views[j].Camera })
	snapshot.Uploads = views

	return snapshot
}

func (o *orchestrator) Subscribe() (<-chan dto.SessionSnapshot, func()) {
	return o.notifier.Subscribe()
}

func (o *orchestrator) Devices(ctx context.Context) ([]dto.DeviceView, error) {
	return o.capture.Devices(ctx)
}

func (o *orchestrator) AttachPreview(camera constant.Camera, sinkId string, w io.Writer) error {
	return o.capture.AttachPreview(camera, sinkId, w)
}

func (o *orchestrator) DetachPreview(camera constant.Camera, sinkId string) {
	o.capture.DetachPreview(camera, sinkId)
}

func (o *orchestrator) SetTrackEnabled(camera constant.Camera, kind constant.TrackKind, enabled bool) error {
	return o.capture.SetTrackEnabled(camera, kind, enabled)
}

// AnalysisStatus proxies the backend analysis poll for the current session.
func (o *orchestrator) AnalysisStatus(ctx context.Context) (*dto.AnalysisStatusResponse, error) {
	analysisId := o.session.Snapshot().AnalysisId
	if analysisId == "" {
		return nil, ErrNoAnalysis
	}
	return o.api.AnalysisStatus(ctx, analysisId)
}

func (o *orchestrator) History(ctx context.Context, limit int) ([]*entities.SessionRecord, error) {
	return o.journal.RecentSessions(ctx, limit)
}

// Teardown stops ingestion and uploads for shutdown. The session is left
// as-is so a crash-looping supervisor restart does not journal an abandon.
func (o *orchestrator) Teardown(ctx context.Context) {
	zerolog.Ctx(ctx).Info().Msg("tearing down orchestrator")

	o.mu.Lock()
	o.cancelled = true
	cancel := o.uploadCancel
	tasks := make([]*uploader.Task, 0, len(o.tasks))
	for _, task := range o.tasks {
		tasks = append(tasks, task)
	}
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, task := range tasks {
		task.Cancel()
	}

	o.capture.Release()
	o.notifier.Close()
}

func (o *orchestrator) ingest(c capture.Chunk) {
	if err := o.session.AppendChunk(c.Camera, c.Data); err != nil {
		o.log.Warn().
			Str("camera", c.Camera.String()).
			Int("bytes", len(c.Data)).
			Msg("dropping chunk outside recording")
	}
}

func (o *orchestrator) publishSnapshot() {
	o.notifier.Publish(o.Snapshot())
}

func (o *orchestrator) isCancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled
}

func (o *orchestrator) emit(ctx context.Context, eventType, sessionId string, camera constant.Camera, detail string) {
	o.events.Emit(ctx, dto.SessionEvent{
		Type:      eventType,
		SessionId: sessionId,
		Camera:    camera,
		State:     o.session.State(),
		Detail:    detail,
	})
}

func uploadFailureReason(tasks map[constant.Camera]*uploader.Task) string {
	var failed []string
	for camera, task := range tasks {
		if task.View().Status == constant.UploadStatusError {
			failed = append(failed, camera.String())
		}
	}
	if len(failed) == 0 {
		return "upload failed"
	}
	sort.Strings(failed)
	return "upload failed for " + strings.Join(failed, ", ")
}
