package devicestatus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"ballotscan/internal/scanctx"
)

const (
	component       = "devicestatus"
	maxErrorBody    = 512
	defaultTimeout  = 5 * time.Second
	contentTypeJSON = "application/json"
)

// Client talks to the scan service over HTTP with JSON bodies.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// New creates a scan service client rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("scan service url required")
	}
	client := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Status fetches the scanner's current state, batches, and adjudication counts.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.do(ctx, http.MethodGet, "/scan/status", nil, &status); err != nil {
		return nil, err
	}
	status.Scanner = status.Scanner.Normalize()
	return &status, nil
}

// ScanBatch asks the scanner to start a batch and returns its ID.
func (c *Client) ScanBatch(ctx context.Context) (string, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodPost, "/scan/scanBatch", nil, &resp); err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", scanctx.Wrap(scanctx.ErrHardware, component, "scan batch", resp.message(), nil)
	}
	if resp.BatchID == "" {
		return "", scanctx.Wrap(scanctx.ErrProtocol, component, "scan batch", "response missing batchId", nil)
	}
	return resp.BatchID, nil
}

// ScanContinue resolves the sheet held by the scanner. forceAccept tabulates a
// sheet pending review; without it the service finalizes the batch and rejects
// whatever remains.
func (c *Client) ScanContinue(ctx context.Context, forceAccept bool) error {
	body := struct {
		ForceAccept bool `json:"forceAccept"`
	}{ForceAccept: forceAccept}
	var resp statusResponse
	if err := c.do(ctx, http.MethodPost, "/scan/scanContinue", body, &resp); err != nil {
		return err
	}
	if !resp.ok() {
		return scanctx.Wrap(scanctx.ErrHardware, component, "scan continue", resp.message(), nil)
	}
	return nil
}

// NextReviewSheet fetches the interpretation of the sheet pending review.
func (c *Client) NextReviewSheet(ctx context.Context) (*Sheet, error) {
	var resp reviewResponse
	if err := c.do(ctx, http.MethodGet, "/scan/hmpb/review/next-sheet", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Interpreted == nil {
		return nil, scanctx.Wrap(scanctx.ErrProtocol, component, "next sheet", "no sheet pending review", nil)
	}
	return resp.Interpreted, nil
}

// Calibrate runs the scanner's calibration routine.
func (c *Client) Calibrate(ctx context.Context) error {
	var resp statusResponse
	if err := c.do(ctx, http.MethodPost, "/scan/calibrate", nil, &resp); err != nil {
		return err
	}
	if !resp.ok() {
		return scanctx.Wrap(scanctx.ErrHardware, component, "calibrate", resp.message(), nil)
	}
	return nil
}

// SessionInfo gathers machine identity, test mode, precinct, and the loaded
// election hash. An empty ElectionHash means no election is configured.
func (c *Client) SessionInfo(ctx context.Context) (SessionInfo, error) {
	var info SessionInfo

	var machine struct {
		MachineID   string `json:"machineId"`
		CodeVersion string `json:"codeVersion"`
	}
	if err := c.do(ctx, http.MethodGet, "/machine-config", nil, &machine); err != nil {
		return info, err
	}
	info.MachineID = machine.MachineID
	info.CodeVersion = machine.CodeVersion

	var testMode struct {
		Status   string `json:"status"`
		TestMode bool   `json:"testMode"`
	}
	if err := c.do(ctx, http.MethodGet, "/config/testMode", nil, &testMode); err != nil {
		return info, err
	}
	info.TestMode = testMode.TestMode

	var precinct struct {
		Status     string `json:"status"`
		PrecinctID string `json:"precinctId"`
	}
	if err := c.do(ctx, http.MethodGet, "/config/precinct", nil, &precinct); err != nil {
		return info, err
	}
	info.PrecinctID = precinct.PrecinctID

	// The service answers with the election definition or a bare null.
	var election *struct {
		ElectionHash string `json:"electionHash"`
	}
	if err := c.do(ctx, http.MethodGet, "/config/election", nil, &election); err != nil {
		return info, err
	}
	if election != nil {
		info.ElectionHash = election.ElectionHash
	}
	return info, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	operation := method + " " + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return scanctx.Wrap(scanctx.ErrProtocol, component, operation, "encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return scanctx.Wrap(scanctx.ErrProtocol, component, operation, "build request", err)
	}
	req.Header.Set("Accept", contentTypeJSON)
	if body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return scanctx.Wrap(scanctx.ErrTransport, component, operation, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return scanctx.Wrap(scanctx.ErrTransport, component, operation, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return scanctx.Wrap(scanctx.ErrTransport, component, operation, fmt.Sprintf("status %d: %s", resp.StatusCode, snippet), nil)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return scanctx.Wrap(scanctx.ErrProtocol, component, operation, "decode response", err)
	}
	return nil
}
