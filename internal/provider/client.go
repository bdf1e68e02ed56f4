// Package provider implements the HTTP client for the upstream video
// generation service and the error taxonomy the rest of the system uses to
// decide whether a failure is retryable.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// VideoGenerator is the interface the worker pipeline depends on. Client is
// the production implementation; tests substitute a fake.
type VideoGenerator interface {
	// Submit starts a generation job and returns the provider's job ID.
	Submit(ctx context.Context, credential string, params SubmitParams) (string, error)

	// Poll fetches the current status of a previously submitted job.
	Poll(ctx context.Context, credential, remoteID string) (*PollResult, error)

	// Download fetches the finished video bytes.
	Download(ctx context.Context, credential, videoURL string) ([]byte, error)

	// Ping verifies that a credential is still accepted by the provider.
	Ping(ctx context.Context, credential string) error
}

// SubmitParams are the generation parameters forwarded to the provider.
type SubmitParams struct {
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	DurationSecs int    `json:"duration_secs"`
	AspectRatio  string `json:"aspect_ratio"`
}

// PollState is the coarse job state reported by the provider.
type PollState string

const (
	PollRunning PollState = "running"
	PollReady   PollState = "ready"
	PollFailed  PollState = "failed"
)

// PollResult is the outcome of one status poll.
type PollResult struct {
	State       PollState
	VideoURL    string
	FailCode    string
	FailMessage string
}

// Client talks to the upstream video generation API over HTTP.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// Verify Client satisfies the interface it is meant to implement.
var _ VideoGenerator = (*Client)(nil)

// NewClient creates a provider client for the given base URL. The timeout
// bounds individual requests; long video downloads get triple the budget.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type pollResponse struct {
	Status      string `json:"status"`
	VideoURL    string `json:"video_url"`
	FailCode    string `json:"fail_code"`
	FailMessage string `json:"fail_message"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Submit implements VideoGenerator.
func (c *Client) Submit(ctx context.Context, credential string, params SubmitParams) (string, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return "", NewError(KindUnknown, "", "failed to encode submit request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return "", NewError(KindUnknown, "", "failed to build submit request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setCredential(req, credential)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", wrapTransport("submit", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errorFromResponse(resp)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", NewError(KindNetwork, "", "unreadable submit response", err)
	}
	if sr.JobID == "" {
		return "", NewError(KindUpstream, "", "provider returned no job id", nil)
	}
	return sr.JobID, nil
}

// Poll implements VideoGenerator. A terminal failure reported by the
// provider is returned in the result, not as an error; errors mean the poll
// itself could not be completed.
func (c *Client) Poll(ctx context.Context, credential, remoteID string) (*PollResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/jobs/"+remoteID, nil)
	if err != nil {
		return nil, NewError(KindUnknown, "", "failed to build poll request", err)
	}
	setCredential(req, credential)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, wrapTransport("poll", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorFromResponse(resp)
	}

	var pr pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		// Providers occasionally emit garbage mid-deploy; treat it as a
		// transient network failure and let the next poll try again.
		return nil, NewError(KindNetwork, "", "unreadable poll response", err)
	}

	switch PollState(pr.Status) {
	case PollRunning:
		return &PollResult{State: PollRunning}, nil
	case PollReady:
		if pr.VideoURL == "" {
			return nil, NewError(KindUpstream, "", "job ready but no video url", nil)
		}
		return &PollResult{State: PollReady, VideoURL: pr.VideoURL}, nil
	case PollFailed:
		return &PollResult{State: PollFailed, FailCode: pr.FailCode, FailMessage: pr.FailMessage}, nil
	default:
		return nil, NewError(KindUpstream, "", fmt.Sprintf("unknown job status %q", pr.Status), nil)
	}
}

// Download implements VideoGenerator.
func (c *Client) Download(ctx context.Context, credential, videoURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return nil, NewError(KindDownload, "", "invalid video url", err)
	}
	setCredential(req, credential)

	// Downloads of long renders exceed the regular request budget.
	dlc := &http.Client{Timeout: c.httpc.Timeout * 3}
	resp, err := dlc.Do(req)
	if err != nil {
		return nil, NewError(KindDownload, "", "video download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewError(KindDownload, fmt.Sprintf("%d", resp.StatusCode),
			fmt.Sprintf("video download returned status %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindDownload, "", "video download interrupted", err)
	}
	return data, nil
}

// Ping implements VideoGenerator.
func (c *Client) Ping(ctx context.Context, credential string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/ping", nil)
	if err != nil {
		return NewError(KindUnknown, "", "failed to build ping request", err)
	}
	setCredential(req, credential)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return wrapTransport("ping", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFromResponse(resp)
	}
	return nil
}

func setCredential(req *http.Request, credential string) {
	req.Header.Set("Authorization", "Bearer "+credential)
}

// wrapTransport classifies a transport-level failure. Context deadline
// expiry maps to timeout; everything else at this layer is network.
func wrapTransport(op string, err error) *Error {
	kind := Classify(err.Error())
	if kind == KindUnknown {
		kind = KindNetwork
	}
	return NewError(kind, "", fmt.Sprintf("%s request failed: %v", op, err), err)
}

// errorFromResponse builds a classified error from a non-2xx response. The
// body is read tolerantly: a JSON error envelope is preferred, but raw text
// still yields a usable message.
func errorFromResponse(resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var er errorResponse
	message := strings.TrimSpace(string(body))
	code := ""
	if err := json.Unmarshal(body, &er); err == nil && er.Message != "" {
		message = er.Message
		code = er.Code
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	kind := Classify(message)
	if kind == KindUnknown {
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			kind = KindAuth
		case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
			kind = KindValidation
		case resp.StatusCode >= 500:
			kind = KindUpstream
		default:
			kind = KindUpstream
		}
	}
	return NewError(kind, code, message, nil)
}
