package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interview-recorder/backend"
	"interview-recorder/capture"
	"interview-recorder/config"
	"interview-recorder/constant"
	"interview-recorder/dto"
	"interview-recorder/journal"
	"interview-recorder/recorder"
	"interview-recorder/uploader"
)

type rigDevice struct {
	info capture.DeviceInfo

	mu     sync.Mutex
	out    chan capture.Chunk
	seq    int
	closed bool
	tracks map[constant.TrackKind]bool
}

func (d *rigDevice) Open(_ context.Context) (<-chan capture.Chunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out = make(chan capture.Chunk, 16)
	return d.out, nil
}

func (d *rigDevice) Emit(data []byte) {
	d.mu.Lock()
	seq := d.seq
	d.seq++
	out := d.out
	d.mu.Unlock()
	out <- capture.Chunk{Seq: seq, Data: data, Time: time.Now()}
}

func (d *rigDevice) SetTrackEnabled(kind constant.TrackKind, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tracks[kind] = enabled
	return nil
}

func (d *rigDevice) TrackEnabled(kind constant.TrackKind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tracks[kind]
}

func (d *rigDevice) Info() capture.DeviceInfo { return d.info }

func (d *rigDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.out)
	return nil
}

type cameraRig struct {
	mu      sync.Mutex
	devices []*rigDevice
}

func (r *cameraRig) factory(info capture.DeviceInfo, _ bool) capture.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := &rigDevice{
		info:   info,
		tracks: map[constant.TrackKind]bool{constant.TrackKindAudio: true, constant.TrackKindVideo: true},
	}
	r.devices = append(r.devices, d)
	return d
}

func (r *cameraRig) device(i int) *rigDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices[i]
}

var (
	camFront = capture.DeviceInfo{Id: "video0", Path: "/dev/video0", Label: "front"}
	camSide  = capture.DeviceInfo{Id: "video2", Path: "/dev/video2", Label: "side"}
)

func enumerateOf(infos ...capture.DeviceInfo) capture.Enumerator {
	return func(_ context.Context) ([]capture.DeviceInfo, error) {
		return infos, nil
	}
}

type fakeBackend struct {
	srv *httptest.Server

	mu             sync.Mutex
	sessions       int
	completed      []string
	completeStatus int
}

func newFakeBackend() *fakeBackend {
	fb := &fakeBackend{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/interviews/sessions", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		fb.sessions++
		id := "sess-" + strconv.Itoa(fb.sessions)
		fb.mu.Unlock()

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(dto.CreateSessionResponse{
			SessionId: id,
			UploadUrls: map[string]string{
				"camera0": "/api/interviews/sessions/" + id + "/upload",
				"camera1": "/api/interviews/sessions/" + id + "/upload",
			},
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("POST /api/interviews/sessions/{id}/complete", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		status := fb.completeStatus
		if status == 0 {
			fb.completed = append(fb.completed, r.PathValue("id"))
		}
		fb.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(dto.ErrorBody{Error: dto.ErrorDetail{Code: "ANALYSIS_QUEUE_DOWN", Message: "queue unavailable"}})
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(dto.CompleteSessionResponse{
			Message:                 "analysis queued",
			InterviewId:             "int-1",
			AnalysisId:              "ana-1",
			EstimatedCompletionTime: 120,
		})
	})
	mux.HandleFunc("GET /api/analysis/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(dto.AnalysisStatusResponse{
			Status:   constant.AnalysisStatusCompleted,
			Progress: 100,
		})
	})
	fb.srv = httptest.NewServer(mux)
	return fb
}

func (fb *fakeBackend) sessionCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.sessions
}

func (fb *fakeBackend) completedSessions() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.completed...)
}

func (fb *fakeBackend) setCompleteStatus(status int) {
	fb.mu.Lock()
	fb.completeStatus = status
	fb.mu.Unlock()
}

type fakeTransport struct {
	mu         sync.Mutex
	failCount  map[constant.Camera]int
	statusCode int
	attempts   map[constant.Camera]int
	blobs      map[constant.Camera][]byte
	hold       chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		failCount: make(map[constant.Camera]int),
		attempts:  make(map[constant.Camera]int),
		blobs:     make(map[constant.Camera][]byte),
	}
}

// setFailCount makes the next n uploads for the camera fail; n < 0 fails
// every attempt.
func (f *fakeTransport) setFailCount(camera constant.Camera, n int) {
	f.mu.Lock()
	f.failCount[camera] = n
	f.mu.Unlock()
}

func (f *fakeTransport) Upload(ctx context.Context, req uploader.Request, onProgress func(int)) (*uploader.Result, error) {
	f.mu.Lock()
	f.attempts[req.Camera]++
	attempt := f.attempts[req.Camera]
	remaining := f.failCount[req.Camera]
	status := f.statusCode
	hold := f.hold
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-ctx.Done():
			return nil, &uploader.UploadError{Err: ctx.Err()}
		case <-hold:
		}
	}

	if remaining < 0 || attempt <= remaining {
		if status == 0 {
			status = http.StatusBadGateway
		}
		return nil, &uploader.UploadError{StatusCode: status, Reason: "upstream unavailable"}
	}

	f.mu.Lock()
	f.blobs[req.Camera] = append([]byte(nil), req.Blob.Data...)
	f.mu.Unlock()

	onProgress(50)
	onProgress(100)
	return &uploader.Result{
		RemoteTaskId: req.SessionId + "_" + req.Camera.String(),
		Url:          "/recordings/" + req.SessionId + "_" + req.Camera.String() + ".webm",
	}, nil
}

func (f *fakeTransport) attemptCount(camera constant.Camera) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[camera]
}

func (f *fakeTransport) sentBlob(camera constant.Camera) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blobs[camera]
}

type fakeEvents struct {
	mu     sync.Mutex
	events []dto.SessionEvent
}

func (f *fakeEvents) Emit(_ context.Context, event dto.SessionEvent) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type orchRig struct {
	o         Orchestrator
	cams      *cameraRig
	api       *fakeBackend
	transport *fakeTransport
	events    *fakeEvents
	session   *recorder.Session
	manager   *capture.Manager
}

func newOrchRig(t *testing.T, jour journal.Journal) *orchRig {
	t.Helper()

	fb := newFakeBackend()
	t.Cleanup(fb.srv.Close)

	cfg := &config.Config{
		Backend: config.Backend{
			BaseUrl: fb.srv.URL,
			Token:   "test-token",
			Timeout: 2 * time.Second,
		},
		Capture: config.Capture{
			VideoDevice0: "/dev/video0",
			VideoDevice1: "/dev/video2",
			AudioDevice:  "default",
		},
		Recording: config.Recording{DefaultTitle: "Interview session"},
		Upload: config.Upload{
			MaxRetries:     3,
			BaseDelay:      time.Millisecond,
			MaxDelay:       4 * time.Millisecond,
			Multiplier:     2,
			AttemptTimeout: time.Second,
		},
	}

	cams := &cameraRig{}
	manager := capture.NewManagerWith(cfg, enumerateOf(camFront, camSide), cams.factory)
	sess := recorder.NewSessionWithTick(10 * time.Millisecond)
	transport := newFakeTransport()
	events := &fakeEvents{}

	o := NewOrchestrator(context.Background(), cfg, manager, sess, backend.NewClient(cfg.Backend), transport, events, jour)
	t.Cleanup(func() { o.Teardown(context.Background()) })

	return &orchRig{
		o:         o,
		cams:      cams,
		api:       fb,
		transport: transport,
		events:    events,
		session:   sess,
		manager:   manager,
	}
}

// record drives the rig to a sealed two-camera take sitting in review.
func (r *orchRig) record(ctx context.Context, t *testing.T, cam0Data, cam1Data []byte) {
	t.Helper()

	_, err := r.o.InitializeCapture(ctx, dto.InitializeRequest{Mode: constant.CaptureModeDual})
	require.NoError(t, err)
	require.NoError(t, r.o.StartRecording(ctx, "Backend loop"))

	r.cams.device(0).Emit(cam0Data)
	r.cams.device(1).Emit(cam1Data)
	require.Eventually(t, func() bool {
		return r.session.SegmentSize(constant.CameraCandidate) > 0 &&
			r.session.SegmentSize(constant.CameraInterviewer) > 0
	}, time.Second, time.Millisecond)

	require.NoError(t, r.o.StopRecording(ctx))
}

func TestOrchestratorHappyPath(t *testing.T) {
	rig := newOrchRig(t, journal.Noop())
	ctx := context.Background()

	caps, err := rig.o.InitializeCapture(ctx, dto.InitializeRequest{Mode: constant.CaptureModeDual})
	require.NoError(t, err)
	assert.Equal(t, 2, caps.CameraCount)
	assert.Equal(t, constant.SessionStatePreview, rig.o.Snapshot().State)

	require.NoError(t, rig.o.StartRecording(ctx, "Backend loop"))
	assert.Equal(t, constant.SessionStateRecording, rig.o.Snapshot().State)
	assert.Equal(t, "sess-1", rig.o.Snapshot().RemoteSessionId)

	rig.cams.device(0).Emit([]byte("candidate-bytes"))
	rig.cams.device(1).Emit([]byte("interviewer-bytes"))
	require.Eventually(t, func() bool {
		return rig.session.SegmentSize(constant.CameraCandidate) > 0 &&
			rig.session.SegmentSize(constant.CameraInterviewer) > 0
	}, time.Second, time.Millisecond)

	require.NoError(t, rig.o.StopRecording(ctx))
	assert.Equal(t, constant.SessionStateReview, rig.o.Snapshot().State)

	require.NoError(t, rig.o.StartAnalysis(ctx))

	snap := rig.o.Snapshot()
	assert.Equal(t, constant.SessionStateAnalyzing, snap.State)
	assert.Equal(t, "ana-1", snap.AnalysisId)
	require.Len(t, snap.Uploads, 2)
	for _, view := range snap.Uploads {
		assert.Equal(t, constant.UploadStatusSuccess, view.Status)
		assert.Equal(t, 100, view.Progress)
		assert.Equal(t, 0, view.RetryCount)
	}
	assert.Equal(t, "sess-1_cam0", snap.Uploads[0].RemoteTaskId)
	assert.Equal(t, "sess-1_cam1", snap.Uploads[1].RemoteTaskId)

	assert.Equal(t, []byte("candidate-bytes"), rig.transport.sentBlob(constant.CameraCandidate))
	assert.Equal(t, []byte("interviewer-bytes"), rig.transport.sentBlob(constant.CameraInterviewer))
	assert.Equal(t, []string{"sess-1"}, rig.api.completedSessions())

	types := rig.events.types()
	assert.Contains(t, types, EventSessionStarted)
	assert.Contains(t, types, EventUploadFinished)
	assert.Equal(t, EventSessionCompleted, types[len(types)-1])
}

func TestOrchestratorUploadRetryThenSuccess(t *testing.T) {
	rig := newOrchRig(t, journal.Noop())
	ctx := context.Background()

	rig.transport.setFailCount(constant.CameraCandidate, 2)
	rig.record(ctx, t, []byte("a"), []byte("b"))

	require.NoError(t, rig.o.StartAnalysis(ctx))

	assert.Equal(t, 3, rig.transport.attemptCount(constant.CameraCandidate))
	snap := rig.o.Snapshot()
	assert.Equal(t, constant.SessionStateAnalyzing, snap.State)
	require.Len(t, snap.Uploads, 2)
	assert.Equal(t, constant.UploadStatusSuccess, snap.Uploads[0].Status)
	assert.Equal(t, 2, snap.Uploads[0].RetryCount)
}

func TestOrchestratorUploadExhaustionReturnsToReview(t *testing.T) {
	rig := newOrchRig(t, journal.Noop())
	ctx := context.Background()

	rig.transport.setFailCount(constant.CameraInterviewer, -1)
	rig.record(ctx, t, []byte("a"), []byte("b"))

	err := rig.o.StartAnalysis(ctx)
	require.Error(t, err)

	snap := rig.o.Snapshot()
	assert.Equal(t, constant.SessionStateReview, snap.State)
	assert.Contains(t, snap.Error, "cam1")
	require.Len(t, snap.Uploads, 2)
	assert.Equal(t, constant.UploadStatusSuccess, snap.Uploads[0].Status)
	assert.Equal(t, constant.UploadStatusError, snap.Uploads[1].Status)
	assert.Equal(t, 3, snap.Uploads[1].RetryCount)
	assert.Equal(t, 4, rig.transport.attemptCount(constant.CameraInterviewer))
	assert.Equal(t, 1, rig.transport.attemptCount(constant.CameraCandidate))
	assert.Empty(t, rig.api.completedSessions())
	assert.Contains(t, rig.events.types(), EventUploadFailed)
}

func TestOrchestratorRetrySkipsSucceededUploads(t *testing.T) {
	rig := newOrchRig(t, journal.Noop())
	ctx := context.Background()

	rig.transport.setFailCount(constant.CameraInterviewer, -1)
	rig.record(ctx, t, []byte("a"), []byte("b"))
	require.Error(t, rig.o.StartAnalysis(ctx))
	require.Equal(t, 1, rig.transport.attemptCount(constant.CameraCandidate))

	rig.transport.setFailCount(constant.CameraInterviewer, 0)
	require.NoError(t, rig.o.StartAnalysis(ctx))

	// the candidate stream landed the first time and is not re-sent
	assert.Equal(t, 1, rig.transport.attemptCount(constant.CameraCandidate))
	assert.Equal(t, 5, rig.transport.attemptCount(constant.CameraInterviewer))
	assert.Equal(t, constant.SessionStateAnalyzing, rig.o.Snapshot().State)
	assert.Equal(t, "ana-1", rig.o.Snapshot().AnalysisId)
	assert.Equal(t, []string{"sess-1"}, rig.api.completedSessions())
}

func TestOrchestratorCompleteFailureKeepsUploads(t *testing.T) {
	rig := newOrchRig(t, journal.Noop())
	ctx := context.Background()

	rig.api.setCompleteStatus(http.StatusInternalServerError)
	rig.record(ctx, t, []byte("a"), []byte("b"))

	err := rig.o.StartAnalysis(ctx)
	require.Error(t, err)

	snap := rig.o.Snapshot()
	assert.Equal(t, constant.SessionStateReview, snap.State)
	assert.Contains(t, snap.Error, "completing session failed")

	rig.api.setCompleteStatus(0)
	require.NoError(t, rig.o.StartAnalysis(ctx))

	// both uploads were kept from the first attempt
	assert.Equal(t, 1, rig.transport.attemptCount(constant.CameraCandidate))
	assert.Equal(t, 1, rig.transport.attemptCount(constant.CameraInterviewer))
	assert.Equal(t, constant.SessionStateAnalyzing, rig.o.Snapshot().State)
}

func TestOrchestratorCancelAnalysis(t *testing.T) {
	rig := newOrchRig(t, journal.Noop())
	ctx := context.Background()

	rig.transport.hold = make(chan struct{})
	rig.record(ctx, t, []byte("a"), []byte("b"))

	done := make(chan error, 1)
	go func() { done <- rig.o.StartAnalysis(context.Background()) }()

	require.Eventually(t, func() bool {
		snap := rig.o.Snapshot()
		if snap.State != constant.SessionStateAnalyzing || len(snap.Uploads) != 2 {
			return false
		}
		return snap.Uploads[0].Status == constant.UploadStatusUploading
	}, time.Second, time.Millisecond)

	require.NoError(t, rig.o.CancelAnalysis(ctx))

	snap := rig.o.Snapshot()
	assert.Equal(t, constant.SessionStateReview, snap.State)
	assert.Empty(t, snap.Error)
	for _, view := range snap.Uploads {
		assert.Equal(t, constant.UploadStatusIdle, view.Status)
		assert.Equal(t, 0, view.Progress)
	}

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrAnalysisCancelled)
	case <-time.After(time.Second):
		t.Fatal("StartAnalysis did not return after cancel")
	}

	// the take survives the cancel and can be handed off again
	assert.Greater(t, rig.session.SegmentSize(constant.CameraCandidate), 0)
}

func TestOrchestratorResumeDiscardsUploadState(t *testing.T) {
	rig := newOrchRig(t, journal.Noop())
	ctx := context.Background()

	rig.transport.setFailCount(constant.CameraInterviewer, -1)
	rig.record(ctx, t, []byte("part1-"), []byte("side1-"))
	require.Error(t, rig.o.StartAnalysis(ctx))
	require.Equal(t, constant.UploadStatusSuccess, rig.o.Snapshot().Uploads[0].Status)

	require.NoError(t, rig.o.Resume(ctx))
	assert.Empty(t, rig.o.Snapshot().Uploads)

	rig.cams.device(0).Emit([]byte("part2"))
	rig.cams.device(1).Emit([]byte("side2"))
	require.Eventually(t, func() bool {
		return rig.session.SegmentSize(constant.CameraCandidate) > len("part1-")
	}, time.Second, time.Millisecond)
	require.NoError(t, rig.o.StopRecording(ctx))

	rig.transport.setFailCount(constant.CameraInterviewer, 0)
	require.NoError(t, rig.o.StartAnalysis(ctx))

	// the take changed, so the candidate stream is uploaded again in full
	assert.Equal(t, 2, rig.transport.attemptCount(constant.CameraCandidate))
	assert.Equal(t, []byte("part1-part2"), rig.transport.sentBlob(constant.CameraCandidate))
}

func TestOrchestratorRetakeBindsNewRemoteSession(t *testing.T) {
	rig := newOrchRig(t, journal.Noop())
	ctx := context.Background()

	rig.record(ctx, t, []byte("take1"), []byte("side1"))
	require.Equal(t, "sess-1", rig.o.Snapshot().RemoteSessionId)

	require.NoError(t, rig.o.Retake(ctx))
	snap := rig.o.Snapshot()
	assert.Equal(t, constant.SessionStatePreview, snap.State)
	assert.Empty(t, snap.RemoteSessionId)
	assert.Empty(t, snap.Uploads)

	require.NoError(t, rig.o.StartRecording(ctx, "Second take"))
	assert.Equal(t, "sess-2", rig.o.Snapshot().RemoteSessionId)
	assert.Equal(t, 2, rig.api.sessionCount())
	assert.Contains(t, rig.events.types(), EventSessionRetaken)
}

func TestOrchestratorTransitionGuards(t *testing.T) {
	rig := newOrchRig(t, journal.Noop())
	ctx := context.Background()

	require.ErrorIs(t, rig.o.StartRecording(ctx, "t"), capture.ErrNotInitialized)
	require.ErrorIs(t, rig.o.StopRecording(ctx), recorder.ErrInvalidTransition)
	require.ErrorIs(t, rig.o.StartAnalysis(ctx), recorder.ErrInvalidTransition)
	require.ErrorIs(t, rig.o.CancelAnalysis(ctx), recorder.ErrInvalidTransition)
	require.ErrorIs(t, rig.o.Resume(ctx), recorder.ErrInvalidTransition)
	require.ErrorIs(t, rig.o.Retake(ctx), recorder.ErrInvalidTransition)

	_, err := rig.o.InitializeCapture(ctx, dto.InitializeRequest{Mode: constant.CaptureModeDual})
	require.NoError(t, err)
	require.NoError(t, rig.o.StartRecording(ctx, "t"))

	_, err = rig.o.InitializeCapture(ctx, dto.InitializeRequest{Mode: constant.CaptureModeDual})
	require.ErrorIs(t, err, recorder.ErrInvalidTransition)
	require.ErrorIs(t, rig.o.StartAnalysis(ctx), recorder.ErrInvalidTransition)
	assert.Equal(t, 1, rig.api.sessionCount())
}

func TestOrchestratorAnalyzeRequiresCandidateData(t *testing.T) {
	rig := newOrchRig(t, journal.Noop())
	ctx := context.Background()

	_, err := rig.o.InitializeCapture(ctx, dto.InitializeRequest{Mode: constant.CaptureModeDual})
	require.NoError(t, err)
	require.NoError(t, rig.o.StartRecording(ctx, "t"))

	// only the interviewer camera produced data
	rig.cams.device(1).Emit([]byte("side"))
	require.Eventually(t, func() bool {
		return rig.session.SegmentSize(constant.CameraInterviewer) > 0
	}, time.Second, time.Millisecond)
	require.NoError(t, rig.o.StopRecording(ctx))

	require.ErrorIs(t, rig.o.StartAnalysis(ctx), recorder.ErrEmptyRecording)
	assert.Equal(t, constant.SessionStateReview, rig.o.Snapshot().State)
	assert.Zero(t, rig.transport.attemptCount(constant.CameraCandidate))
}

func TestOrchestratorSkipsEmptyInterviewerSegment(t *testing.T) {
	rig := newOrchRig(t, journal.Noop())
	ctx := context.Background()

	_, err := rig.o.InitializeCapture(ctx, dto.InitializeRequest{Mode: constant.CaptureModeDual})
	require.NoError(t, err)
	require.NoError(t, rig.o.StartRecording(ctx, "t"))

	// only the candidate camera produced data
	rig.cams.device(0).Emit([]byte("main"))
	require.Eventually(t, func() bool {
		return rig.session.SegmentSize(constant.CameraCandidate) > 0
	}, time.Second, time.Millisecond)
	require.NoError(t, rig.o.StopRecording(ctx))

	require.NoError(t, rig.o.StartAnalysis(ctx))

	// the empty interviewer segment is never sent
	assert.Equal(t, 1, rig.transport.attemptCount(constant.CameraCandidate))
	assert.Zero(t, rig.transport.attemptCount(constant.CameraInterviewer))

	snap := rig.o.Snapshot()
	assert.Equal(t, constant.SessionStateAnalyzing, snap.State)
	require.Len(t, snap.Uploads, 1)
	assert.Equal(t, constant.CameraCandidate, snap.Uploads[0].Camera)
	assert.Equal(t, []string{"sess-1"}, rig.api.completedSessions())
}

func TestOrchestratorDropsTrailingChunks(t *testing.T) {
	rig := newOrchRig(t, journal.Noop())
	ctx := context.Background()

	rig.record(ctx, t, []byte("main"), []byte("side"))
	sealed := rig.session.SegmentSize(constant.CameraCandidate)

	// a late encoder flush after the seal must not grow the take
	orch := rig.o.(*orchestrator)
	orch.ingest(capture.Chunk{Camera: constant.CameraCandidate, Data: []byte("late-flush")})

	assert.Equal(t, sealed, rig.session.SegmentSize(constant.CameraCandidate))
	assert.Equal(t, constant.SessionStateReview, rig.o.Snapshot().State)
}

func TestOrchestratorResetAbandonsSession(t *testing.T) {
	rig := newOrchRig(t, journal.Noop())
	ctx := context.Background()

	rig.record(ctx, t, []byte("a"), []byte("b"))
	require.NoError(t, rig.o.Reset(ctx))

	snap := rig.o.Snapshot()
	assert.Equal(t, constant.SessionStateIdle, snap.State)
	assert.Empty(t, snap.RemoteSessionId)
	assert.Empty(t, snap.Uploads)
	assert.False(t, rig.manager.Initialized())
	assert.Contains(t, rig.events.types(), EventSessionAbandoned)

	// reset is idempotent
	require.NoError(t, rig.o.Reset(ctx))
}

func TestOrchestratorSnapshotStream(t *testing.T) {
	rig := newOrchRig(t, journal.Noop())
	ctx := context.Background()

	ch, cancel := rig.o.Subscribe()
	defer cancel()

	seen := make(map[constant.SessionState]bool)
	var mu sync.Mutex
	go func() {
		for snap := range ch {
			mu.Lock()
			seen[snap.State] = true
			mu.Unlock()
		}
	}()

	rig.record(ctx, t, []byte("a"), []byte("b"))
	require.NoError(t, rig.o.StartAnalysis(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[constant.SessionStatePreview] &&
			seen[constant.SessionStateRecording] &&
			seen[constant.SessionStateReview] &&
			seen[constant.SessionStateAnalyzing]
	}, time.Second, 5*time.Millisecond)
}

func TestOrchestratorJournalsLifecycle(t *testing.T) {
	jour, err := journal.NewJournal(&config.Config{
		Journal: config.Journal{
			Enabled: true,
			Driver:  "sqlite",
			Path:    filepath.Join(t.TempDir(), "journal.db"),
		},
	})
	require.NoError(t, err)

	rig := newOrchRig(t, jour)
	ctx := context.Background()

	rig.record(ctx, t, []byte("a"), []byte("b"))
	require.NoError(t, rig.o.StartAnalysis(ctx))

	sessions, err := rig.o.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-1", sessions[0].RemoteSessionId)
	assert.Equal(t, journal.OutcomeCompleted, sessions[0].Outcome)

	uploads, err := jour.UploadsBySession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, uploads, 2)
}

func TestWaitForAnalysis(t *testing.T) {
	rig := newOrchRig(t, journal.Noop())
	ctx := context.Background()

	_, err := WaitForAnalysis(ctx, rig.o, time.Millisecond)
	require.ErrorIs(t, err, ErrNoAnalysis)

	rig.record(ctx, t, []byte("a"), []byte("b"))
	require.NoError(t, rig.o.StartAnalysis(ctx))

	status, err := WaitForAnalysis(ctx, rig.o, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, constant.AnalysisStatusCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
}
