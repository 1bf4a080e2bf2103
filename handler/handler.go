package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"interview-recorder/capture"
	"interview-recorder/constant"
	"interview-recorder/dto"
	"interview-recorder/recorder"
	"interview-recorder/service"
)

// analyzeGrace is how long the analyze endpoint waits for a synchronous
// verdict. Validation failures surface before the first upload attempt and
// get a proper error status; anything slower is answered with 202 and
// followed over the state stream.
const analyzeGrace = 150 * time.Millisecond

type Handler struct {
	// base carries the process logger for work that outlives a request.
	base         context.Context
	orchestrator service.Orchestrator
}

func NewHandler(base context.Context, orchestrator service.Orchestrator) *Handler {
	return &Handler{
		base:         base,
		orchestrator: orchestrator,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.GET("/state", h.State)
	api.GET("/state/stream", h.StateStream)
	api.GET("/devices", h.Devices)
	api.GET("/preview/:camera", h.Preview)
	api.GET("/history", h.History)
	api.GET("/analysis", h.Analysis)

	session := api.Group("/session")
	session.POST("/initialize", h.Initialize)
	session.POST("/start", h.Start)
	session.POST("/stop", h.Stop)
	session.POST("/resume", h.Resume)
	session.POST("/retake", h.Retake)
	session.POST("/analyze", h.Analyze)
	session.POST("/cancel", h.Cancel)
	session.POST("/reset", h.Reset)
	session.POST("/track", h.SetTrack)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(200, gin.H{
		"status": "ok",
	})
}

func (h *Handler) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.Snapshot())
}

// StateStream pushes every state change as a server-sent event. The
// current snapshot is sent first so a late subscriber has a baseline.
func (h *Handler) StateStream(c *gin.Context) {
	ch, cancel := h.orchestrator.Subscribe()
	defer cancel()

	c.SSEvent("state", h.orchestrator.Snapshot())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case snapshot, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("state", snapshot)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *Handler) Devices(c *gin.Context) {
	devices, err := h.orchestrator.Devices(c.Request.Context())
	if err != nil {
		replyError(c, errors.Join(capture.ErrDeviceAccess, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// Preview streams the live encoded feed of one camera until the client
// goes away. Chunks are written by the preview sink goroutine, so the
// handler only parks on the request context.
func (h *Handler) Preview(c *gin.Context) {
	camera := constant.Camera(c.Param("camera"))
	sinkId := uuid.NewString()

	c.Header("Content-Type", capture.MediaTypeWebM)
	c.Header("Cache-Control", "no-store")

	if err := h.orchestrator.AttachPreview(camera, sinkId, &flushWriter{w: c.Writer}); err != nil {
		replyError(c, err)
		return
	}
	defer h.orchestrator.DetachPreview(camera, sinkId)

	<-c.Request.Context().Done()
}

func (h *Handler) Initialize(c *gin.Context) {
	var req dto.InitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		replyBadRequest(c, "invalid initialize request: "+err.Error())
		return
	}
	if req.Mode != "" && req.Mode != constant.CaptureModeSingle && req.Mode != constant.CaptureModeDual {
		replyBadRequest(c, "mode must be single or dual")
		return
	}

	caps, err := h.orchestrator.InitializeCapture(c.Request.Context(), req)
	if err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"capabilities": caps,
		"state":        h.orchestrator.Snapshot(),
	})
}

func (h *Handler) Start(c *gin.Context) {
	var req dto.StartRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		replyBadRequest(c, "invalid start request: "+err.Error())
		return
	}

	if err := h.orchestrator.StartRecording(c.Request.Context(), req.Title); err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.orchestrator.Snapshot())
}

func (h *Handler) Stop(c *gin.Context) {
	if err := h.orchestrator.StopRecording(c.Request.Context()); err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.orchestrator.Snapshot())
}

func (h *Handler) Resume(c *gin.Context) {
	if err := h.orchestrator.Resume(c.Request.Context()); err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.orchestrator.Snapshot())
}

func (h *Handler) Retake(c *gin.Context) {
	if err := h.orchestrator.Retake(c.Request.Context()); err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.orchestrator.Snapshot())
}

// Analyze kicks off the upload and analysis hand-off. The hand-off runs in
// the background; only a fast validation failure is reported on the
// request itself.
func (h *Handler) Analyze(c *gin.Context) {
	done := make(chan error, 1)
	go func() {
		err := h.orchestrator.StartAnalysis(h.base)
		if err != nil && !errors.Is(err, service.ErrAnalysisCancelled) {
			zerolog.Ctx(h.base).Error().Err(err).Msg("analysis hand-off failed")
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			replyError(c, err)
			return
		}
		c.JSON(http.StatusOK, h.orchestrator.Snapshot())
	case <-time.After(analyzeGrace):
		c.JSON(http.StatusAccepted, h.orchestrator.Snapshot())
	}
}

func (h *Handler) Cancel(c *gin.Context) {
	if err := h.orchestrator.CancelAnalysis(c.Request.Context()); err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.orchestrator.Snapshot())
}

func (h *Handler) Reset(c *gin.Context) {
	if err := h.orchestrator.Reset(c.Request.Context()); err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.orchestrator.Snapshot())
}

func (h *Handler) SetTrack(c *gin.Context) {
	var req dto.SetTrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		replyBadRequest(c, "invalid track request: "+err.Error())
		return
	}
	if req.Enabled == nil {
		replyBadRequest(c, "enabled is required")
		return
	}
	if req.Kind != constant.TrackKindAudio && req.Kind != constant.TrackKindVideo {
		replyBadRequest(c, "kind must be audio or video")
		return
	}

	if err := h.orchestrator.SetTrackEnabled(req.Camera, req.Kind, *req.Enabled); err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.orchestrator.Snapshot())
}

func (h *Handler) History(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			replyBadRequest(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	sessions, err := h.orchestrator.History(c.Request.Context(), limit)
	if err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) Analysis(c *gin.Context) {
	status, err := h.orchestrator.AnalysisStatus(c.Request.Context())
	if err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// replyError maps domain sentinels onto HTTP statuses, using the same
// error envelope the interview backend speaks.
func replyError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"

	switch {
	case errors.Is(err, recorder.ErrInvalidTransition):
		status, code = http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, recorder.ErrEmptyRecording):
		status, code = http.StatusUnprocessableEntity, "EMPTY_RECORDING"
	case errors.Is(err, capture.ErrNotInitialized):
		status, code = http.StatusConflict, "NOT_INITIALIZED"
	case errors.Is(err, capture.ErrDeviceAccess):
		status, code = http.StatusServiceUnavailable, "DEVICE_ACCESS"
	case errors.Is(err, capture.ErrUnknownStream), errors.Is(err, recorder.ErrNoSuchSegment):
		status, code = http.StatusNotFound, "UNKNOWN_STREAM"
	case errors.Is(err, service.ErrNoAnalysis):
		status, code = http.StatusNotFound, "NO_ANALYSIS"
	}

	c.JSON(status, dto.ErrorBody{Error: dto.ErrorDetail{Code: code, Message: err.Error()}})
}

func replyBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, dto.ErrorBody{Error: dto.ErrorDetail{Code: "INVALID_REQUEST", Message: message}})
}

// flushWriter forwards every chunk immediately so the preview stays live,
// and serializes writes from the capture pump.
type flushWriter struct {
	mu sync.Mutex
	w  gin.ResponseWriter
}

func (f *flushWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.w.Write(p)
	if err == nil {
		f.w.Flush()
	}
	return n, err
}
