package uploader

import (
	"context"
	"errors"

	"interview-recorder/backend"
)

// HTTPTransport posts recordings through the backend multipart endpoint.
type HTTPTransport struct {
	api *backend.Client
}

func NewHTTPTransport(api *backend.Client) *HTTPTransport {
	return &HTTPTransport{api: api}
}

func (t *HTTPTransport) Upload(ctx context.Context, req Request, onProgress func(int)) (*Result, error) {
	resp, err := t.api.UploadRecording(ctx, req.SessionId, req.Camera, req.Blob, onProgress)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) {
			return nil, &UploadError{StatusCode: apiErr.StatusCode, Reason: apiErr.Message, Err: err}
		}
		return nil, &UploadError{Err: err}
	}

	return &Result{RemoteTaskId: resp.TaskId, Url: resp.Url}, nil
}
