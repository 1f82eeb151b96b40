package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	perrors "github.com/jmgilman/go/errors"

	"github.com/yangwenmai/gitpodcast/internal/codec"
	"github.com/yangwenmai/gitpodcast/internal/model"
)

// DefaultBaseURL is the production generation service.
const DefaultBaseURL = "https://api.GitPodcast.com"

// DefaultTimeout bounds a backend call unless WithTimeout says otherwise.
// Generation is slow.
const DefaultTimeout = 5 * time.Minute

// SubtitleHeader carries the WebVTT track alongside an audio body.
const SubtitleHeader = "X-Vtt-Content"

// maxErrorBody caps how much of a failed response is read for its message.
const maxErrorBody = 64 * 1024

var _ Generator = (*Client)(nil)

// Client implements Generator over the backend's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    *time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (default: DefaultBaseURL).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient replaces the underlying HTTP client. The client is copied
// if WithTimeout is also given, so hc itself is never modified. Nil keeps the
// default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = &d }
}

// NewClient creates a backend client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout != nil {
		hc := *c.httpClient
		hc.Timeout = *c.timeout
		c.httpClient = &hc
	}
	return c
}

type generateRequest struct {
	Username     string `json:"username"`
	Repo         string `json:"repo"`
	Instructions string `json:"instructions"`
	APIKey       string `json:"api_key,omitempty"`
	Audio        bool   `json:"audio,omitempty"`
	AudioLength  string `json:"audio_length,omitempty"`
}

type modifyRequest struct {
	Username       string `json:"username"`
	Repo           string `json:"repo"`
	Instructions   string `json:"instructions"`
	CurrentDiagram string `json:"current_diagram"`
	Explanation    string `json:"explanation"`
}

type costRequest struct {
	Username     string `json:"username"`
	Repo         string `json:"repo"`
	Instructions string `json:"instructions"`
}

// errorBody is the error shape shared by every endpoint.
type errorBody struct {
	Error          string `json:"error"`
	RequiresAPIKey bool   `json:"requires_api_key"`
}

type generateResponse struct {
	errorBody
	GenerateResult
}

type modifyResponse struct {
	errorBody
	ModifyResult
}

type costResponse struct {
	errorBody
	Cost string `json:"cost"`
}

func newGenerateRequest(req model.GenerationRequest) generateRequest {
	return generateRequest{
		Username:     req.Owner,
		Repo:         req.Repo,
		Instructions: req.Instructions,
		APIKey:       req.APIKey,
	}
}

// Generate requests a diagram and explanation.
func (c *Client) Generate(ctx context.Context, req model.GenerationRequest) (*GenerateResult, error) {
	var resp generateResponse
	status, err := c.postJSON(ctx, "/generate", newGenerateRequest(req), &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, backendError(status, resp.errorBody)
	}
	if resp.Diagram == "" {
		return nil, malformed(status, "response has no diagram")
	}
	return &resp.GenerateResult, nil
}

// Modify rewrites an existing diagram according to the request's instructions.
func (c *Client) Modify(ctx context.Context, req model.GenerationRequest, current model.DiagramArtifact) (*ModifyResult, error) {
	body := modifyRequest{
		Username:       req.Owner,
		Repo:           req.Repo,
		Instructions:   req.Instructions,
		CurrentDiagram: current.Diagram,
		Explanation:    current.Explanation,
	}
	var resp modifyResponse
	status, err := c.postJSON(ctx, "/modify", body, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, backendError(status, resp.errorBody)
	}
	if resp.Diagram == "" {
		return nil, malformed(status, "response has no diagram")
	}
	return &resp.ModifyResult, nil
}

// EstimateCost asks what a generation would cost.
func (c *Client) EstimateCost(ctx context.Context, req model.GenerationRequest) (*model.CostEstimate, error) {
	body := costRequest{Username: req.Owner, Repo: req.Repo, Instructions: req.Instructions}
	var resp costResponse
	status, err := c.postJSON(ctx, "/generate/cost", body, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, backendError(status, resp.errorBody)
	}
	return &model.CostEstimate{Cost: resp.Cost}, nil
}

// GenerateAudio requests narrated audio. The subtitle track travels in the
// SubtitleHeader response header; a missing header yields an empty track.
func (c *Client) GenerateAudio(ctx context.Context, req model.GenerationRequest) (*model.AudioArtifact, error) {
	body := newGenerateRequest(req)
	body.Audio = true
	body.AudioLength = string(req.AudioLength)

	resp, err := c.post(ctx, "/generate", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	audio, err := codec.ReadAll(ctx, resp.Body)
	if err != nil {
		return nil, transportError(err)
	}
	return &model.AudioArtifact{
		Audio:     audio,
		Subtitles: resp.Header.Get(SubtitleHeader),
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, perrors.Wrap(err, model.CodeTransport, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	return resp, nil
}

// postJSON sends body and decodes a JSON response into out. It returns the
// HTTP status so payload-level errors can be reported with it.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) (int, error) {
	resp, err := c.post(ctx, path, body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return resp.StatusCode, err
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, transportError(err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, perrors.WithContext(
			perrors.Wrap(err, model.CodeBackend, "malformed response payload"),
			model.ContextStatus, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// checkStatus turns 429 into a rate-limit error and any other non-2xx status
// into a backend error carrying the payload's message when there is one.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return perrors.WithContext(
			perrors.New(model.CodeRateLimited, "rate limit exceeded"),
			model.ContextStatus, resp.StatusCode)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		return malformed(resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	return backendError(resp.StatusCode, body)
}

// backendError reports an error message written by the backend itself.
func backendError(status int, body errorBody) error {
	return perrors.WithContextMap(perrors.New(model.CodeBackend, body.Error), map[string]interface{}{
		model.ContextStatus:         status,
		model.ContextBackendMessage: body.Error,
		model.ContextRequiresAPIKey: body.RequiresAPIKey,
	})
}

// malformed reports a response the client could not make sense of.
func malformed(status int, reason string) error {
	return perrors.WithContext(perrors.New(model.CodeBackend, reason), model.ContextStatus, status)
}

func transportError(err error) error {
	timeout := errors.Is(err, context.DeadlineExceeded)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		timeout = true
	}
	return perrors.WithContext(perrors.Wrap(err, model.CodeTransport, "backend unreachable"), model.ContextTimeout, timeout)
}
