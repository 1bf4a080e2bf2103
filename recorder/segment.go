package recorder

import (
	"errors"
	"sync"

	"interview-recorder/constant"
)

var ErrSegmentFinalized = errors.New("segment already finalized")

// Blob is the assembled recording of one camera, ready for upload.
type Blob struct {
	MediaType string
	Data      []byte
}

func (b Blob) Size() int {
	return len(b.Data)
}

// Segment accumulates the encoded chunks of one camera in arrival order.
// Finalize seals the segment; appends after that are rejected so a trailing
// encoder chunk can never corrupt an assembled recording.
type Segment struct {
	mu        sync.Mutex
	camera    constant.Camera
	mediaType string
	chunks    [][]byte
	size      int
	finalized bool
	assembled *Blob
}

func NewSegment(camera constant.Camera, mediaType string) *Segment {
	return &Segment{
		camera:    camera,
		mediaType: mediaType,
	}
}

func (s *Segment) Append(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return ErrSegmentFinalized
	}

	s.chunks = append(s.chunks, data)
	s.size += len(data)
	return nil
}

// Finalize seals the segment and assembles the blob. Calling it again
// returns the cached blob without re-concatenating.
func (s *Segment) Finalize() Blob {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finalized = true
	if s.assembled != nil {
		return *s.assembled
	}

	data := make([]byte, 0, s.size)
	for _, c := range s.chunks {
		data = append(data, c...)
	}
	s.assembled = &Blob{MediaType: s.mediaType, Data: data}
	return *s.assembled
}

// Reopen unseals the segment so a resumed recording appends to the same
// take. The cached blob is discarded, the chunks are kept.
func (s *Segment) Reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = false
	s.assembled = nil
}

// Reset discards everything, keeping the segment usable for a fresh take.
func (s *Segment) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.size = 0
	s.finalized = false
	s.assembled = nil
}

func (s *Segment) Camera() constant.Camera {
	return s.camera
}

func (s *Segment) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

func (s *Segment) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Segment) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}
