package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"interview-recorder/config"
	"interview-recorder/constant"
	"interview-recorder/dto"
)

// Manager owns the live capture streams of one interview station. It
// acquires cameras, fans encoded chunks out to preview sinks and to the
// registered chunk handler, and releases everything on teardown.
//
// Chunks of one camera are always delivered in emission order; every stream
// has exactly one pump goroutine.
type Manager struct {
	cfg       *config.Config
	enumerate Enumerator
	newDevice DeviceFactory

	mu          sync.Mutex
	log         *zerolog.Logger
	initialized bool
	mode        constant.CaptureMode
	caps        dto.CaptureCapabilities
	streams     map[constant.Camera]*stream
}

type stream struct {
	camera constant.Camera
	device Device
	log    *zerolog.Logger

	mu       sync.Mutex
	previews map[string]*previewSink
	handler  ChunkHandler
	done     chan struct{}
}

// previewSink decouples one preview client from chunk ingestion. Chunks are
// handed off through a buffered channel; a sink that cannot keep up skips
// chunks instead of stalling the recording path.
type previewSink struct {
	id string
	ch chan []byte
}

func NewManager(cfg *config.Config) *Manager {
	return NewManagerWith(cfg, ScanVideoDevices, FFmpegFactory(cfg.Capture))
}

func NewManagerWith(cfg *config.Config, enumerate Enumerator, factory DeviceFactory) *Manager {
	return &Manager{
		cfg:       cfg,
		enumerate: enumerate,
		newDevice: factory,
		streams:   make(map[constant.Camera]*stream),
	}
}

// Initialize acquires the cameras for the requested mode. A dual request on
// a station with a single camera degrades to single capture instead of
// failing; a missing microphone degrades to video-only. Re-initializing a
// live manager releases the current streams first.
func (m *Manager) Initialize(ctx context.Context, mode constant.CaptureMode, micEnabled bool) (dto.CaptureCapabilities, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.log = zerolog.Ctx(ctx)
	if m.initialized {
		m.releaseLocked()
	}

	devices, err := m.enumerate(ctx)
	if err != nil {
		return dto.CaptureCapabilities{}, errors.Join(ErrDeviceAccess, err)
	}
	if len(devices) == 0 {
		return dto.CaptureCapabilities{}, fmt.Errorf("%w: no cameras detected", ErrDeviceAccess)
	}

	chosen := []DeviceInfo{pickDevice(devices, m.cfg.Capture.VideoDevice0, DeviceInfo{})}
	effectiveMode := mode
	if mode == constant.CaptureModeDual {
		if len(devices) < 2 {
			m.log.Warn().Int("cameras", len(devices)).Msg("dual capture requested with a single camera, degrading to single")
			effectiveMode = constant.CaptureModeSingle
		} else {
			chosen = append(chosen, pickDevice(devices, m.cfg.Capture.VideoDevice1, chosen[0]))
		}
	}

	micAvailable := micEnabled
	if micEnabled && m.cfg.Capture.AudioDevice == "" {
		m.log.Warn().Msg("microphone requested but no audio device configured, capturing video only")
		micAvailable = false
	}

	cameras := []constant.Camera{constant.CameraCandidate, constant.CameraInterviewer}
	for i, info := range chosen {
		camera := cameras[i]
		// Only the candidate camera carries the interview audio.
		withAudio := micAvailable && camera == constant.CameraCandidate
		device := m.newDevice(info, withAudio)

		ch, err := device.Open(ctx)
		if err != nil {
			if camera == constant.CameraInterviewer {
				m.log.Warn().Err(err).Str("device", info.Path).Msg("interviewer camera failed to open, degrading to single")
				effectiveMode = constant.CaptureModeSingle
				continue
			}
			m.releaseLocked()
			return dto.CaptureCapabilities{}, errors.Join(ErrDeviceAccess, err)
		}

		s := &stream{
			camera:   camera,
			device:   device,
			log:      m.log,
			previews: make(map[string]*previewSink),
			done:     make(chan struct{}),
		}
		m.streams[camera] = s
		go m.pump(s, ch)

		m.log.Info().Str("camera", camera.String()).Str("device", info.Path).Bool("audio", withAudio).Msg("capture stream started")
	}

	m.mode = effectiveMode
	m.caps = dto.CaptureCapabilities{
		CameraCount:  len(m.streams),
		MicAvailable: micAvailable,
	}
	m.initialized = true

	return m.caps, nil
}

func pickDevice(devices []DeviceInfo, preferredPath string, taken DeviceInfo) DeviceInfo {
	for _, d := range devices {
		if d.Path == preferredPath && d.Path != taken.Path {
			return d
		}
	}
	for _, d := range devices {
		if d.Path != taken.Path {
			return d
		}
	}
	return devices[0]
}

func (m *Manager) pump(s *stream, ch <-chan Chunk) {
	defer close(s.done)
	defer s.closeSinks()
	for c := range ch {
		c.Camera = s.camera
		s.deliver(c)
	}
}

func (s *stream) deliver(c Chunk) {
	s.mu.Lock()
	handler := s.handler
	for _, sink := range s.previews {
		select {
		case sink.ch <- c.Data:
		default:
			// slow sink skips this chunk, recording never waits
		}
	}
	s.mu.Unlock()

	if handler != nil {
		handler(c)
	}
}

func (s *stream) attachSink(sinkId string, w io.Writer) {
	sink := &previewSink{id: sinkId, ch: make(chan []byte, 16)}

	s.mu.Lock()
	old := s.previews[sinkId]
	s.previews[sinkId] = sink
	s.mu.Unlock()

	if old != nil {
		close(old.ch)
	}
	go s.runSink(sink, w)
}

func (s *stream) runSink(sink *previewSink, w io.Writer) {
	for data := range sink.ch {
		if _, err := w.Write(data); err != nil {
			s.log.Warn().Err(err).Str("camera", s.camera.String()).Str("sink", sink.id).Msg("dropping dead preview sink")
			s.removeSink(sink)
			return
		}
	}
}

func (s *stream) removeSink(sink *previewSink) {
	s.mu.Lock()
	if s.previews[sink.id] == sink {
		delete(s.previews, sink.id)
	}
	s.mu.Unlock()
}

func (s *stream) detachSink(sinkId string) {
	s.mu.Lock()
	sink := s.previews[sinkId]
	delete(s.previews, sinkId)
	s.mu.Unlock()

	if sink != nil {
		close(sink.ch)
	}
}

func (s *stream) closeSinks() {
	s.mu.Lock()
	sinks := make([]*previewSink, 0, len(s.previews))
	for id, sink := range s.previews {
		sinks = append(sinks, sink)
		delete(s.previews, id)
	}
	s.mu.Unlock()

	for _, sink := range sinks {
		close(sink.ch)
	}
}

// SetTrackEnabled flips one track of a live stream. The toggle is idempotent
// and never tears the stream down.
func (m *Manager) SetTrackEnabled(camera constant.Camera, kind constant.TrackKind, enabled bool) error {
	s, err := m.stream(camera)
	if err != nil {
		return err
	}
	return s.device.SetTrackEnabled(kind, enabled)
}

func (m *Manager) TrackEnabled(camera constant.Camera, kind constant.TrackKind) (bool, error) {
	s, err := m.stream(camera)
	if err != nil {
		return false, err
	}
	return s.device.TrackEnabled(kind), nil
}

// AttachPreview registers a live sink for the encoded stream. Attaching an
// id that is already registered replaces the previous writer.
func (m *Manager) AttachPreview(camera constant.Camera, sinkId string, w io.Writer) error {
	s, err := m.stream(camera)
	if err != nil {
		return err
	}

	s.attachSink(sinkId, w)
	return nil
}

func (m *Manager) DetachPreview(camera constant.Camera, sinkId string) {
	s, err := m.stream(camera)
	if err != nil {
		return
	}
	s.detachSink(sinkId)
}

// SetChunkHandler routes the camera's chunks to fn. A nil fn detaches the
// current handler.
func (m *Manager) SetChunkHandler(camera constant.Camera, fn ChunkHandler) error {
	s, err := m.stream(camera)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
	return nil
}

func (m *Manager) stream(camera constant.Camera) (*stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	s, ok := m.streams[camera]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, camera)
	}
	return s, nil
}

// Cameras lists the live streams in stable order, candidate first.
func (m *Manager) Cameras() []constant.Camera {
	m.mu.Lock()
	defer m.mu.Unlock()

	cameras := make([]constant.Camera, 0, len(m.streams))
	for _, c := range []constant.Camera{constant.CameraCandidate, constant.CameraInterviewer} {
		if _, ok := m.streams[c]; ok {
			cameras = append(cameras, c)
		}
	}
	return cameras
}

func (m *Manager) Capabilities() dto.CaptureCapabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caps
}

func (m *Manager) Mode() constant.CaptureMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Release closes every device and waits for the pumps to drain. Releasing
// an idle manager is a no-op.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
}

func (m *Manager) releaseLocked() {
	for camera, s := range m.streams {
		if err := s.device.Close(); err != nil && m.log != nil {
			m.log.Error().Err(err).Str("camera", camera.String()).Msg("failed to close capture device")
		}
		<-s.done
		delete(m.streams, camera)
	}
	m.initialized = false
	m.mode = ""
	m.caps = dto.CaptureCapabilities{}
}

// Devices lists the cameras visible to the agent without acquiring them.
func (m *Manager) Devices(ctx context.Context) ([]dto.DeviceView, error) {
	devices, err := m.enumerate(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]dto.DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, dto.DeviceView{Id: d.Id, Path: d.Path, Label: d.Label})
	}
	return views, nil
}
