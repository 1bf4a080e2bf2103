package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"interview-recorder/config"
	"interview-recorder/constant"
)

// launchPipeline starts one encoder process and returns its encoded output
// stream. Cancelling ctx stops the process; wait reaps it after the stream
// ended.
type launchPipeline func(ctx context.Context, bin string, args []string) (io.ReadCloser, func() error, error)

func execPipeline(ctx context.Context, bin string, args []string) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return stdout, cmd.Wait, nil
}

// FFmpegDevice encodes one v4l2 camera, optionally mixed with the alsa
// microphone, into a live webm stream read from ffmpeg stdout. The stream
// is cut into chunks on a fixed interval, mirroring a timesliced recorder.
//
// Track toggles take effect on the live device: the encoder process is
// swapped for one with the new inputs while the chunk channel stays up, so
// consumers never observe the restart.
type FFmpegDevice struct {
	cfg       config.Capture
	info      DeviceInfo
	withAudio bool
	launch    launchPipeline

	mu      sync.Mutex
	opened  bool
	out     chan Chunk
	buf     bytes.Buffer
	seq     int
	videoOn bool
	audioOn bool

	// pipeMu serializes encoder start/stop across Open, toggles and Close.
	pipeMu     sync.Mutex
	procCancel context.CancelFunc
	procWg     sync.WaitGroup
	lifeCancel context.CancelFunc
	flushWg    sync.WaitGroup
}

func NewFFmpegDevice(cfg config.Capture, info DeviceInfo, withAudio bool) *FFmpegDevice {
	return &FFmpegDevice{
		cfg:       cfg,
		info:      info,
		withAudio: withAudio,
		launch:    execPipeline,
		videoOn:   true,
		audioOn:   true,
	}
}

// FFmpegFactory is the production DeviceFactory.
func FFmpegFactory(cfg config.Capture) DeviceFactory {
	return func(info DeviceInfo, withAudio bool) Device {
		return NewFFmpegDevice(cfg, info, withAudio)
	}
}

func (d *FFmpegDevice) Open(_ context.Context) (<-chan Chunk, error) {
	d.pipeMu.Lock()
	defer d.pipeMu.Unlock()

	d.mu.Lock()
	if d.opened {
		d.mu.Unlock()
		return nil, fmt.Errorf("device %s is already open", d.info.Path)
	}
	d.buf.Reset()
	d.seq = 0
	d.mu.Unlock()

	if err := d.startProcess(); err != nil {
		return nil, errors.Join(ErrDeviceAccess, err)
	}

	// The pipeline lifetime is owned by Close, not by the caller context.
	lifeCtx, cancel := context.WithCancel(context.Background())
	d.lifeCancel = cancel
	out := make(chan Chunk, 8)

	d.mu.Lock()
	d.opened = true
	d.out = out
	d.mu.Unlock()

	d.flushWg.Add(1)
	go d.flushLoop(lifeCtx, out)

	return out, nil
}

// startProcess launches the encoder with the current track latches. Callers
// hold pipeMu.
func (d *FFmpegDevice) startProcess() error {
	d.mu.Lock()
	args := d.args()
	d.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	stdout, wait, err := d.launch(ctx, d.cfg.FFmpegBin, args)
	if err != nil {
		cancel()
		return err
	}

	d.procCancel = cancel
	d.procWg.Add(1)
	go func() {
		defer d.procWg.Done()
		d.readInto(stdout)
		// ffmpeg is killed by the context cancel, so a non-nil exit is
		// expected.
		_ = wait()
	}()
	return nil
}

// stopProcess kills the encoder and waits for its reader to drain. Callers
// hold pipeMu.
func (d *FFmpegDevice) stopProcess() {
	if d.procCancel == nil {
		return
	}
	d.procCancel()
	d.procWg.Wait()
	d.procCancel = nil
}

func (d *FFmpegDevice) readInto(stdout io.ReadCloser) {
	defer stdout.Close()
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			d.mu.Lock()
			d.buf.Write(buf[:n])
			d.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (d *FFmpegDevice) flushLoop(ctx context.Context, out chan Chunk) {
	defer d.flushWg.Done()
	interval := d.cfg.ChunkInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// best effort on shutdown, never block Close on a full channel
			if c, ok := d.takeChunk(); ok {
				select {
				case out <- c:
				default:
				}
			}
			close(out)
			return
		case <-ticker.C:
			c, ok := d.takeChunk()
			if !ok {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
			}
		}
	}
}

func (d *FFmpegDevice) takeChunk() (Chunk, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buf.Len() == 0 {
		return Chunk{}, false
	}
	data := make([]byte, d.buf.Len())
	copy(data, d.buf.Bytes())
	d.buf.Reset()
	seq := d.seq
	d.seq++
	return Chunk{Seq: seq, Data: data, Time: time.Now()}, true
}

// SetTrackEnabled flips one track of the pipeline in place. On a live
// device the encoder is restarted with the new inputs behind the same chunk
// channel: a disabled camera keeps the stream alive with black frames, a
// disabled microphone drops the audio input. The stream is never torn down.
func (d *FFmpegDevice) SetTrackEnabled(kind constant.TrackKind, enabled bool) error {
	d.mu.Lock()
	var changed bool
	switch kind {
	case constant.TrackKindAudio:
		changed = d.audioOn != enabled
		d.audioOn = enabled
	case constant.TrackKindVideo:
		changed = d.videoOn != enabled
		d.videoOn = enabled
	default:
		d.mu.Unlock()
		return fmt.Errorf("unknown track kind %q", kind)
	}
	opened := d.opened
	d.mu.Unlock()

	if !changed || !opened {
		return nil
	}

	d.pipeMu.Lock()
	defer d.pipeMu.Unlock()
	d.mu.Lock()
	opened = d.opened
	d.mu.Unlock()
	if !opened {
		return nil
	}

	d.stopProcess()
	return d.startProcess()
}

func (d *FFmpegDevice) TrackEnabled(kind constant.TrackKind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if kind == constant.TrackKindAudio {
		return d.audioOn
	}
	return d.videoOn
}

func (d *FFmpegDevice) Info() DeviceInfo {
	return d.info
}

func (d *FFmpegDevice) Close() error {
	d.pipeMu.Lock()
	defer d.pipeMu.Unlock()

	d.mu.Lock()
	if !d.opened {
		d.mu.Unlock()
		return nil
	}
	d.opened = false
	d.mu.Unlock()

	d.stopProcess()
	d.lifeCancel()
	d.flushWg.Wait()
	return nil
}

func (d *FFmpegDevice) args() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
	}

	if d.videoOn {
		args = append(args,
			"-f", "v4l2",
			"-framerate", strconv.Itoa(d.cfg.FrameRate),
			"-video_size", d.cfg.VideoSize,
			"-i", d.info.Path,
		)
	} else {
		// camera off keeps the stream alive with black frames
		args = append(args,
			"-f", "lavfi",
			"-i", fmt.Sprintf("color=c=black:size=%s:rate=%d", d.cfg.VideoSize, d.cfg.FrameRate),
		)
	}

	if d.withAudio && d.audioOn && d.cfg.AudioDevice != "" {
		args = append(args,
			"-f", "alsa",
			"-i", d.cfg.AudioDevice,
			"-c:a", "libopus",
			"-b:a", "128k",
		)
	} else {
		args = append(args, "-an")
	}

	return append(args,
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", "1M",
		"-f", "webm",
		"pipe:1",
	)
}
