package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"interview-recorder/constant"
	"interview-recorder/dto"
)

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrNotRecording      = errors.New("session is not recording")
	ErrNoSuchSegment     = errors.New("no segment for camera")
	ErrEmptyRecording    = errors.New("no recorded data for candidate camera")
)

// Session is the recorder state machine. It tracks the lifecycle
// idle -> preview -> recording -> review -> analyzing, owns the per-camera
// segments and the elapsed timer, and reports every change through the
// registered callback.
//
// The session performs no I/O itself; device, backend and upload side
// effects are sequenced by the orchestrator around these transitions.
type Session struct {
	mu              sync.Mutex
	state           constant.SessionState
	mode            constant.CaptureMode
	caps            dto.CaptureCapabilities
	remoteSessionId string
	analysisId      string
	lastError       string
	elapsed         int
	cameras         []constant.Camera
	segments        map[constant.Camera]*Segment
	tick            time.Duration
	timerCancel     context.CancelFunc
	onChange        func()
}

func NewSession() *Session {
	return NewSessionWithTick(time.Second)
}

func NewSessionWithTick(tick time.Duration) *Session {
	return &Session{
		state: constant.SessionStateIdle,
		tick:  tick,
	}
}

// SetOnChange registers the callback invoked after every state mutation.
// The callback runs without the session lock held.
func (s *Session) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// BeginPreview moves the session to preview with the capabilities the
// capture layer actually acquired. Re-initializing while previewing is
// allowed and refreshes mode and capabilities.
func (s *Session) BeginPreview(mode constant.CaptureMode, caps dto.CaptureCapabilities) error {
	s.mu.Lock()
	if s.state != constant.SessionStateIdle && s.state != constant.SessionStatePreview {
		err := s.invalidTransition("initialize capture")
		s.mu.Unlock()
		return err
	}
	s.state = constant.SessionStatePreview
	s.mode = mode
	s.caps = caps
	s.lastError = ""
	s.mu.Unlock()

	s.notifyChanged()
	return nil
}

// StartRecording opens fresh segments for the given cameras and starts the
// elapsed timer. The remote session id is bound here and stays immutable
// until the next retake or reset.
func (s *Session) StartRecording(remoteSessionId string, cameras []constant.Camera, mediaType string) error {
	if remoteSessionId == "" {
		return errors.New("remote session id must not be empty")
	}
	if len(cameras) == 0 {
		return errors.New("at least one camera is required")
	}

	s.mu.Lock()
	if s.state != constant.SessionStatePreview {
		err := s.invalidTransition("start recording")
		s.mu.Unlock()
		return err
	}
	s.remoteSessionId = remoteSessionId
	s.cameras = append([]constant.Camera(nil), cameras...)
	s.segments = make(map[constant.Camera]*Segment, len(cameras))
	for _, camera := range cameras {
		s.segments[camera] = NewSegment(camera, mediaType)
	}
	s.elapsed = 0
	s.analysisId = ""
	s.lastError = ""
	s.state = constant.SessionStateRecording
	s.startTimerLocked()
	s.mu.Unlock()

	s.notifyChanged()
	return nil
}

// StopRecording seals every segment and moves to review.
func (s *Session) StopRecording() error {
	s.mu.Lock()
	if s.state != constant.SessionStateRecording {
		err := s.invalidTransition("stop recording")
		s.mu.Unlock()
		return err
	}
	s.stopTimerLocked()
	for _, seg := range s.segments {
		seg.Finalize()
	}
	s.state = constant.SessionStateReview
	s.mu.Unlock()

	s.notifyChanged()
	return nil
}

// Resume reopens the sealed segments and continues the same take, keeping
// the remote session id and the elapsed time.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != constant.SessionStateReview {
		err := s.invalidTransition("resume recording")
		s.mu.Unlock()
		return err
	}
	for _, seg := range s.segments {
		seg.Reopen()
	}
	s.state = constant.SessionStateRecording
	s.startTimerLocked()
	s.mu.Unlock()

	s.notifyChanged()
	return nil
}

// Retake discards the take and returns to preview. The next recording is a
// new activation with a new remote session.
func (s *Session) Retake() error {
	s.mu.Lock()
	if s.state != constant.SessionStateReview {
		err := s.invalidTransition("retake")
		s.mu.Unlock()
		return err
	}
	s.segments = nil
	s.cameras = nil
	s.remoteSessionId = ""
	s.analysisId = ""
	s.lastError = ""
	s.elapsed = 0
	s.state = constant.SessionStatePreview
	s.mu.Unlock()

	s.notifyChanged()
	return nil
}

// BeginAnalyzing validates that the candidate camera actually recorded
// something, then moves to analyzing.
func (s *Session) BeginAnalyzing() error {
	s.mu.Lock()
	if s.state != constant.SessionStateReview {
		err := s.invalidTransition("start analysis")
		s.mu.Unlock()
		return err
	}
	seg, ok := s.segments[constant.CameraCandidate]
	if !ok || seg.Size() == 0 {
		s.mu.Unlock()
		return ErrEmptyRecording
	}
	s.lastError = ""
	s.state = constant.SessionStateAnalyzing
	s.mu.Unlock()

	s.notifyChanged()
	return nil
}

// ReturnToReview backs out of analyzing, keeping the take for another
// attempt. reason is surfaced on the snapshot, empty for a user cancel.
func (s *Session) ReturnToReview(reason string) error {
	s.mu.Lock()
	if s.state != constant.SessionStateAnalyzing {
		err := s.invalidTransition("return to review")
		s.mu.Unlock()
		return err
	}
	s.lastError = reason
	s.state = constant.SessionStateReview
	s.mu.Unlock()

	s.notifyChanged()
	return nil
}

// SetAnalysis records the analysis id handed back by the backend once the
// uploads completed. The session stays in analyzing.
func (s *Session) SetAnalysis(analysisId string) error {
	s.mu.Lock()
	if s.state != constant.SessionStateAnalyzing {
		err := s.invalidTransition("record analysis")
		s.mu.Unlock()
		return err
	}
	s.analysisId = analysisId
	s.mu.Unlock()

	s.notifyChanged()
	return nil
}

// Reset tears the session down to idle from any state.
func (s *Session) Reset() {
	s.mu.Lock()
	s.stopTimerLocked()
	s.state = constant.SessionStateIdle
	s.mode = ""
	s.caps = dto.CaptureCapabilities{}
	s.remoteSessionId = ""
	s.analysisId = ""
	s.lastError = ""
	s.elapsed = 0
	s.cameras = nil
	s.segments = nil
	s.mu.Unlock()

	s.notifyChanged()
}

// AppendChunk adds an encoded chunk to the camera's segment. Chunks that
// arrive outside recording, like the trailing encoder flush after a stop,
// are rejected so the caller can drop them.
func (s *Session) AppendChunk(camera constant.Camera, data []byte) error {
	s.mu.Lock()
	if s.state != constant.SessionStateRecording {
		s.mu.Unlock()
		return ErrNotRecording
	}
	seg, ok := s.segments[camera]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchSegment, camera)
	}
	return seg.Append(data)
}

// Blob returns the sealed recording of one camera.
func (s *Session) Blob(camera constant.Camera) (Blob, error) {
	s.mu.Lock()
	seg, ok := s.segments[camera]
	s.mu.Unlock()

	if !ok {
		return Blob{}, fmt.Errorf("%w: %s", ErrNoSuchSegment, camera)
	}
	if !seg.Finalized() {
		return Blob{}, fmt.Errorf("segment %s is not sealed yet", camera)
	}
	return seg.Finalize(), nil
}

// Cameras lists the cameras of the current take in recording order.
func (s *Session) Cameras() []constant.Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]constant.Camera(nil), s.cameras...)
}

// SegmentSize reports the accumulated bytes for one camera, 0 when the
// camera has no segment.
func (s *Session) SegmentSize(camera constant.Camera) int {
	s.mu.Lock()
	seg, ok := s.segments[camera]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return seg.Size()
}

func (s *Session) State() constant.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) RemoteSessionId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteSessionId
}

func (s *Session) Elapsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// Snapshot reports the session part of the agent state. Upload views are
// merged in by the orchestrator.
func (s *Session) Snapshot() dto.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dto.SessionSnapshot{
		State:           s.state,
		Mode:            s.mode,
		RemoteSessionId: s.remoteSessionId,
		ElapsedSeconds:  s.elapsed,
		Capabilities:    s.caps,
		AnalysisId:      s.analysisId,
		Error:           s.lastError,
	}
}

func (s *Session) invalidTransition(op string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, op, s.state)
}

func (s *Session) startTimerLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s.timerCancel = cancel
	go s.runTimer(ctx)
}

func (s *Session) stopTimerLocked() {
	if s.timerCancel != nil {
		s.timerCancel()
		s.timerCancel = nil
	}
}

func (s *Session) runTimer(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.state != constant.SessionStateRecording {
				s.mu.Unlock()
				continue
			}
			s.elapsed++
			s.mu.Unlock()
			s.notifyChanged()
		}
	}
}

func (s *Session) notifyChanged() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
