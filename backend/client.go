package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"interview-recorder/config"
	"interview-recorder/dto"
)

// APIError is a non-2xx backend reply, decoded from the error envelope
// {"error":{"code","message"}} when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend replied %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("backend replied %d: %s", e.StatusCode, e.Message)
}

// TokenSource supplies the bearer token for backend calls. Refresh is
// invoked at most once per call when the backend replies 401.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

func (s StaticTokenSource) Refresh(context.Context) error {
	return errors.New("static token cannot be refreshed")
}

// Client talks to the interview backend REST API.
type Client struct {
	baseUrl string
	tokens  TokenSource
	http    *http.Client
	// Uploads are bounded by the attempt context, not the client timeout.
	uploadHttp *http.Client
}

func NewClient(cfg config.Backend) *Client {
	return NewClientWithTokens(cfg, StaticTokenSource(cfg.Token))
}

func NewClientWithTokens(cfg config.Backend, tokens TokenSource) *Client {
	return &Client{
		baseUrl:    strings.TrimRight(cfg.BaseUrl, "/"),
		tokens:     tokens,
		http:       &http.Client{Timeout: cfg.Timeout},
		uploadHttp: &http.Client{},
	}
}

// CreateSession registers a new interview session and returns its id
// together with the per-camera upload urls.
func (c *Client) CreateSession(ctx context.Context, title string) (*dto.CreateSessionResponse, error) {
	in := dto.CreateSessionRequest{Title: title, Status: "pending"}
	var out dto.CreateSessionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/interviews/sessions", in, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteSession reports the recorded duration and queues the combined
// analysis for the session.
func (c *Client) CompleteSession(ctx context.Context, sessionId string, actualDuration int, metadata map[string]any) (*dto.CompleteSessionResponse, error) {
	in := dto.CompleteSessionRequest{ActualDuration: actualDuration, Metadata: metadata}
	path := fmt.Sprintf("/api/interviews/sessions/%s/complete", sessionId)
	var out dto.CompleteSessionResponse
	if err := c.doJSON(ctx, http.MethodPost, path, in, &out, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalysisStatus polls the progress of a queued analysis.
func (c *Client) AnalysisStatus(ctx context.Context, analysisId string) (*dto.AnalysisStatusResponse, error) {
	path := fmt.Sprintf("/api/analysis/%s/status", analysisId)
	var out dto.AnalysisStatusResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, wantStatus int) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return err
		}
	}

	build := func() (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseUrl+path, body)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}

	resp, err := c.send(build, c.http)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// send issues the request with a bearer token. A 401 triggers one token
// refresh and one replay; the request body is rebuilt for the replay.
func (c *Client) send(build func() (*http.Request, error), hc *http.Client) (*http.Response, error) {
	resp, err := c.sendOnce(build, hc)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	if err := c.tokens.Refresh(resp.Request.Context()); err != nil {
		return nil, &APIError{
			StatusCode: http.StatusUnauthorized,
			Code:       "UNAUTHORIZED",
			Message:    "token refresh failed: " + err.Error(),
		}
	}
	return c.sendOnce(build, hc)
}

func (c *Client) sendOnce(build func() (*http.Request, error), hc *http.Client) (*http.Response, error) {
	req, err := build()
	if err != nil {
		return nil, err
	}
	token, err := c.tokens.Token(req.Context())
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return hc.Do(req)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}

	var envelope dto.ErrorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
