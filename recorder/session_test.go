package recorder

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interview-recorder/constant"
	"interview-recorder/dto"
)

func newTestSession() (*Session, *atomic.Int64) {
	s := NewSessionWithTick(10 * time.Millisecond)
	var changes atomic.Int64
	s.SetOnChange(func() { changes.Add(1) })
	return s, &changes
}

func startedSession(t *testing.T) *Session {
	t.Helper()
	s, _ := newTestSession()
	require.NoError(t, s.BeginPreview(constant.CaptureModeDual, dto.CaptureCapabilities{CameraCount: 2, MicAvailable: true}))
	require.NoError(t, s.StartRecording("sess-1", []constant.Camera{constant.CameraCandidate, constant.CameraInterviewer}, "video/webm"))
	return s
}

func TestSessionHappyPath(t *testing.T) {
	s, changes := newTestSession()
	assert.Equal(t, constant.SessionStateIdle, s.State())

	require.NoError(t, s.BeginPreview(constant.CaptureModeSingle, dto.CaptureCapabilities{CameraCount: 1}))
	assert.Equal(t, constant.SessionStatePreview, s.State())

	require.NoError(t, s.StartRecording("sess-1", []constant.Camera{constant.CameraCandidate}, "video/webm"))
	assert.Equal(t, constant.SessionStateRecording, s.State())
	assert.Equal(t, "sess-1", s.RemoteSessionId())

	require.NoError(t, s.AppendChunk(constant.CameraCandidate, []byte("interview")))

	require.NoError(t, s.StopRecording())
	assert.Equal(t, constant.SessionStateReview, s.State())

	blob, err := s.Blob(constant.CameraCandidate)
	require.NoError(t, err)
	assert.Equal(t, []byte("interview"), blob.Data)

	require.NoError(t, s.BeginAnalyzing())
	assert.Equal(t, constant.SessionStateAnalyzing, s.State())

	require.NoError(t, s.SetAnalysis("analysis-9"))
	snap := s.Snapshot()
	assert.Equal(t, "analysis-9", snap.AnalysisId)
	assert.Equal(t, constant.SessionStateAnalyzing, snap.State)

	assert.GreaterOrEqual(t, changes.Load(), int64(5))
}

func TestSessionTransitionGuards(t *testing.T) {
	s, _ := newTestSession()

	// idle allows only initialization.
	assert.ErrorIs(t, s.StartRecording("x", []constant.Camera{constant.CameraCandidate}, "video/webm"), ErrInvalidTransition)
	assert.ErrorIs(t, s.StopRecording(), ErrInvalidTransition)
	assert.ErrorIs(t, s.Resume(), ErrInvalidTransition)
	assert.ErrorIs(t, s.Retake(), ErrInvalidTransition)
	assert.ErrorIs(t, s.BeginAnalyzing(), ErrInvalidTransition)
	assert.ErrorIs(t, s.ReturnToReview(""), ErrInvalidTransition)

	require.NoError(t, s.BeginPreview(constant.CaptureModeSingle, dto.CaptureCapabilities{CameraCount: 1}))

	// preview refuses review-side events.
	assert.ErrorIs(t, s.StopRecording(), ErrInvalidTransition)
	assert.ErrorIs(t, s.Resume(), ErrInvalidTransition)
	assert.ErrorIs(t, s.BeginAnalyzing(), ErrInvalidTransition)

	// preview is re-enterable for a capture re-initialization.
	require.NoError(t, s.BeginPreview(constant.CaptureModeSingle, dto.CaptureCapabilities{CameraCount: 1}))

	require.NoError(t, s.StartRecording("sess-1", []constant.Camera{constant.CameraCandidate}, "video/webm"))

	// recording refuses everything except stop.
	assert.ErrorIs(t, s.BeginPreview(constant.CaptureModeSingle, dto.CaptureCapabilities{}), ErrInvalidTransition)
	assert.ErrorIs(t, s.StartRecording("sess-2", []constant.Camera{constant.CameraCandidate}, "video/webm"), ErrInvalidTransition)
	assert.ErrorIs(t, s.Retake(), ErrInvalidTransition)
	assert.ErrorIs(t, s.BeginAnalyzing(), ErrInvalidTransition)
	assert.Equal(t, "sess-1", s.RemoteSessionId())
}

func TestSessionStartRecordingValidation(t *testing.T) {
	s, _ := newTestSession()
	require.NoError(t, s.BeginPreview(constant.CaptureModeSingle, dto.CaptureCapabilities{CameraCount: 1}))

	assert.Error(t, s.StartRecording("", []constant.Camera{constant.CameraCandidate}, "video/webm"))
	assert.Error(t, s.StartRecording("sess-1", nil, "video/webm"))
	assert.Equal(t, constant.SessionStatePreview, s.State())
}

func TestSessionDropsChunksOutsideRecording(t *testing.T) {
	s := startedSession(t)
	require.NoError(t, s.AppendChunk(constant.CameraCandidate, []byte("live")))
	require.NoError(t, s.StopRecording())

	// Trailing encoder flush after the stop.
	err := s.AppendChunk(constant.CameraCandidate, []byte("trailing"))
	assert.ErrorIs(t, err, ErrNotRecording)

	blob, err := s.Blob(constant.CameraCandidate)
	require.NoError(t, err)
	assert.Equal(t, []byte("live"), blob.Data)
}

func TestSessionRejectsUnknownCamera(t *testing.T) {
	s, _ := newTestSession()
	require.NoError(t, s.BeginPreview(constant.CaptureModeSingle, dto.CaptureCapabilities{CameraCount: 1}))
	require.NoError(t, s.StartRecording("sess-1", []constant.Camera{constant.CameraCandidate}, "video/webm"))

	err := s.AppendChunk(constant.CameraInterviewer, []byte("x"))
	assert.ErrorIs(t, err, ErrNoSuchSegment)

	_, err = s.Blob(constant.CameraInterviewer)
	assert.ErrorIs(t, err, ErrNoSuchSegment)
}

func TestSessionElapsedTimer(t *testing.T) {
	s := startedSession(t)

	assert.Eventually(t, func() bool { return s.Elapsed() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.StopRecording())
	frozen := s.Elapsed()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, frozen, s.Elapsed())
}

func TestSessionResumeContinuesTake(t *testing.T) {
	s := startedSession(t)
	require.NoError(t, s.AppendChunk(constant.CameraCandidate, []byte("part1-")))
	require.NoError(t, s.StopRecording())
	elapsedAtStop := s.Elapsed()

	require.NoError(t, s.Resume())
	assert.Equal(t, constant.SessionStateRecording, s.State())
	assert.Equal(t, "sess-1", s.RemoteSessionId())
	require.NoError(t, s.AppendChunk(constant.CameraCandidate, []byte("part2")))
	require.NoError(t, s.StopRecording())

	blob, err := s.Blob(constant.CameraCandidate)
	require.NoError(t, err)
	assert.Equal(t, []byte("part1-part2"), blob.Data)
	assert.GreaterOrEqual(t, s.Elapsed(), elapsedAtStop)
}

func TestSessionRetakeDiscardsTake(t *testing.T) {
	s := startedSession(t)
	require.NoError(t, s.AppendChunk(constant.CameraCandidate, []byte("bad take")))
	require.NoError(t, s.StopRecording())

	require.NoError(t, s.Retake())
	assert.Equal(t, constant.SessionStatePreview, s.State())
	assert.Empty(t, s.RemoteSessionId())
	assert.Zero(t, s.Elapsed())
	assert.Empty(t, s.Cameras())
	assert.Zero(t, s.SegmentSize(constant.CameraCandidate))

	// A new activation binds a new remote session.
	require.NoError(t, s.StartRecording("sess-2", []constant.Camera{constant.CameraCandidate}, "video/webm"))
	assert.Equal(t, "sess-2", s.RemoteSessionId())
}

func TestSessionAnalyzingRequiresCandidateData(t *testing.T) {
	s := startedSession(t)
	require.NoError(t, s.StopRecording())

	err := s.BeginAnalyzing()
	assert.ErrorIs(t, err, ErrEmptyRecording)
	assert.Equal(t, constant.SessionStateReview, s.State())
}

func TestSessionReturnToReviewAfterFailure(t *testing.T) {
	s := startedSession(t)
	require.NoError(t, s.AppendChunk(constant.CameraCandidate, []byte("take")))
	require.NoError(t, s.StopRecording())
	require.NoError(t, s.BeginAnalyzing())

	require.NoError(t, s.ReturnToReview("upload failed for cam1"))
	snap := s.Snapshot()
	assert.Equal(t, constant.SessionStateReview, snap.State)
	assert.Equal(t, "upload failed for cam1", snap.Error)

	// The take survives for another attempt.
	blob, err := s.Blob(constant.CameraCandidate)
	require.NoError(t, err)
	assert.Equal(t, []byte("take"), blob.Data)

	// A later attempt clears the surfaced error.
	require.NoError(t, s.BeginAnalyzing())
	assert.Empty(t, s.Snapshot().Error)
}

func TestSessionReset(t *testing.T) {
	s := startedSession(t)
	require.NoError(t, s.AppendChunk(constant.CameraCandidate, []byte("x")))

	s.Reset()
	snap := s.Snapshot()
	assert.Equal(t, constant.SessionStateIdle, snap.State)
	assert.Empty(t, snap.RemoteSessionId)
	assert.Zero(t, snap.ElapsedSeconds)
	assert.Zero(t, snap.Capabilities.CameraCount)

	// Reset is safe to repeat.
	s.Reset()
}

func TestNotifierFanOut(t *testing.T) {
	n := NewNotifier()
	ch1, cancel1 := n.Subscribe()
	ch2, cancel2 := n.Subscribe()
	defer cancel2()

	n.Publish(dto.SessionSnapshot{State: constant.SessionStatePreview})

	snap := <-ch1
	assert.Equal(t, constant.SessionStatePreview, snap.State)
	snap = <-ch2
	assert.Equal(t, constant.SessionStatePreview, snap.State)

	cancel1()
	_, open := <-ch1
	assert.False(t, open)

	// Publishing after a cancel still reaches the live subscriber.
	n.Publish(dto.SessionSnapshot{State: constant.SessionStateRecording})
	snap = <-ch2
	assert.Equal(t, constant.SessionStateRecording, snap.State)
}

func TestNotifierDoesNotBlockOnSlowSubscriber(t *testing.T) {
	n := NewNotifier()
	ch, cancel := n.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			n.Publish(dto.SessionSnapshot{ElapsedSeconds: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// The subscriber still observes a prefix of the snapshots.
	snap := <-ch
	assert.GreaterOrEqual(t, snap.ElapsedSeconds, 0)
}

func TestNotifierClose(t *testing.T) {
	n := NewNotifier()
	ch, _ := n.Subscribe()

	n.Close()
	_, open := <-ch
	assert.False(t, open)

	late, cancel := n.Subscribe()
	defer cancel()
	_, open = <-late
	assert.False(t, open)
}
