package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"interview-recorder/constant"
	"interview-recorder/dto"
	"interview-recorder/recorder"
)

// UploadRecording posts one camera's sealed blob as multipart form data.
// onProgress observes the request body going out as a 0..100 percentage; a
// token replay restarts the body, so callers should treat progress as
// monotonic themselves.
func (c *Client) UploadRecording(ctx context.Context, sessionId string, camera constant.Camera, blob recorder.Blob, onProgress func(int)) (*dto.UploadResponse, error) {
	payload, contentType, err := buildUploadForm(sessionId, camera, blob)
	if err != nil {
		return nil, err
	}

	build := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+"/api/uploads/", newProgressReader(payload, onProgress))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.ContentLength = int64(len(payload))
		return req, nil
	}

	resp, err := c.send(build, c.uploadHttp)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var out dto.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func buildUploadForm(sessionId string, camera constant.Camera, blob recorder.Blob) ([]byte, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s_%s.webm"`, sessionId, camera))
	header.Set("Content-Type", blob.MediaType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(blob.Data); err != nil {
		return nil, "", err
	}

	if err := writer.WriteField("sessionId", sessionId); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("camera", camera.String()); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return body.Bytes(), writer.FormDataContentType(), nil
}

type progressReader struct {
	r        *bytes.Reader
	total    int
	read     int
	onChange func(int)
}

func newProgressReader(data []byte, onChange func(int)) *progressReader {
	return &progressReader{
		r:        bytes.NewReader(data),
		total:    len(data),
		onChange: onChange,
	}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += n
		if p.onChange != nil && p.total > 0 {
			p.onChange(p.read * 100 / p.total)
		}
	}
	return n, err
}
