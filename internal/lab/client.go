package lab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/colourlab-core/internal/experiment"
)

// DefaultTimeout bounds a single Lab call when none is configured.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a Lab response is read.
const maxResponseBytes = 64 * 1024

// Client is an HTTP client for the Lab API.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Lab client for baseURL. A non-positive timeout
// selects DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the Lab base URL.
func (c *Client) BaseURL() string { return c.baseURL }

type addDyesRequest struct {
	Drops [3]int `json:"drops"`
}

type colorResponse struct {
	Color string `json:"color"`
}

// ApplyDrops implements Lab. Any non-2xx answer is treated as the Lab
// refusing the dispense and reported as ErrUnavailable.
func (c *Client) ApplyDrops(ctx context.Context, well experiment.Well, counts experiment.Candidate) error {
	if !well.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidWell, well)
	}

	body, err := json.Marshal(addDyesRequest{Drops: counts})
	if err != nil {
		return fmt.Errorf("encoding add_dyes: %w", err)
	}

	url := fmt.Sprintf("%s/well/%d/%d/add_dyes", c.baseURL, well.Row, well.Col)
	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: add_dyes %s returned status %d", ErrUnavailable, well, resp.StatusCode)
	}
	return nil
}

// ReadColor implements Lab. Server errors map to ErrUnavailable; client
// errors and unparsable colours map to ErrMeasurement.
func (c *Client) ReadColor(ctx context.Context, well experiment.Well) (experiment.RGB, error) {
	if !well.Valid() {
		return experiment.RGB{}, fmt.Errorf("%w: %s", ErrInvalidWell, well)
	}

	url := fmt.Sprintf("%s/well/%d/%d/color", c.baseURL, well.Row, well.Col)
	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return experiment.RGB{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return experiment.RGB{}, fmt.Errorf("%w: color %s returned status %d", ErrUnavailable, well, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return experiment.RGB{}, fmt.Errorf("%w: color %s returned status %d", ErrMeasurement, well, resp.StatusCode)
	}

	var payload colorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return experiment.RGB{}, fmt.Errorf("%w: decoding color %s: %w", ErrMeasurement, well, err)
	}
	rgb, err := experiment.ParseHex(payload.Color)
	if err != nil {
		return experiment.RGB{}, fmt.Errorf("%w: %w", ErrMeasurement, err)
	}
	return rgb, nil
}

// ClearPlate resets every well.
func (c *Client) ClearPlate(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/clear_plate", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: clear_plate returned status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// HealthCheck verifies the Lab answers GET /health.
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("building lab request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, url, err)
	}
	return resp, nil
}
