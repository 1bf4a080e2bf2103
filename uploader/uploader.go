package uploader

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"interview-recorder/constant"
	"interview-recorder/recorder"
)

// Request is one camera recording bound for the backend.
type Request struct {
	SessionId string
	Camera    constant.Camera
	Blob      recorder.Blob
}

// Result identifies the stored recording on the remote side.
type Result struct {
	RemoteTaskId string
	Url          string
}

// Transport moves one blob to its destination and reports progress as a
// 0..100 percentage.
type Transport interface {
	Upload(ctx context.Context, req Request, onProgress func(int)) (*Result, error)
}

// UploadError is a failed attempt with enough detail for the retry
// classifier. StatusCode is 0 when the failure never reached the remote.
type UploadError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *UploadError) Error() string {
	msg := e.Reason
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = "unknown cause"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("upload failed with status %d: %s", e.StatusCode, msg)
	}
	return "upload failed: " + msg
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// retryable reports whether a failed attempt may be tried again. Client
// errors are permanent: replaying the identical payload cannot change a 4xx
// verdict. 408 and 429 stay retryable, and the policy knob widens retries
// to every client error for backends known to reject spuriously.
func retryable(err error, retryClientErrors bool) bool {
	var ue *UploadError
	if errors.As(err, &ue) && ue.StatusCode >= 400 && ue.StatusCode < 500 {
		if retryClientErrors {
			return true
		}
		return ue.StatusCode == http.StatusRequestTimeout || ue.StatusCode == http.StatusTooManyRequests
	}
	return true
}
