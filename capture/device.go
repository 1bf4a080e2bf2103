package capture

import (
	"context"
	"errors"
	"time"

	"interview-recorder/constant"
)

// MediaTypeWebM is the container every device emits.
const MediaTypeWebM = "video/webm"

var (
	ErrDeviceAccess   = errors.New("capture device unavailable")
	ErrNotInitialized = errors.New("capture manager not initialized")
	ErrUnknownStream  = errors.New("unknown capture stream")
)

// Chunk is a slice of the encoded container stream. Chunks are only
// meaningful in emission order; Seq restarts at 0 on every device open.
type Chunk struct {
	Camera constant.Camera
	Seq    int
	Data   []byte
	Time   time.Time
}

type ChunkHandler func(Chunk)

type DeviceInfo struct {
	Id    string
	Path  string
	Label string
}

// Device is a single acquirable camera pipeline. Open starts the encoder
// and returns a channel that is closed when the pipeline stops.
type Device interface {
	Open(ctx context.Context) (<-chan Chunk, error)
	SetTrackEnabled(kind constant.TrackKind, enabled bool) error
	TrackEnabled(kind constant.TrackKind) bool
	Info() DeviceInfo
	Close() error
}

// DeviceFactory builds the device for an enumerated camera. withAudio selects
// whether the microphone input is wired into the pipeline.
type DeviceFactory func(info DeviceInfo, withAudio bool) Device

// Enumerator lists the cameras visible to the agent.
type Enumerator func(ctx context.Context) ([]DeviceInfo, error)
