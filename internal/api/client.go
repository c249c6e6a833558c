package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studyhub/locsync/pkg/core"
	"github.com/studyhub/locsync/pkg/streaming"
)

// DemoToken is a reserved token; a client holding it never touches the network.
const DemoToken = "demo-token"

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("location service returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("location service returned status %d", e.StatusCode)
}

// Transient reports whether retrying the request could succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout
}

// HistoryQuery filters GET /location/history. Zero fields are omitted.
type HistoryQuery struct {
	Page      int
	Limit     int
	StartDate time.Time
	EndDate   time.Time
}

// Pagination describes a history page.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// HistoryPage is the body of GET /location/history.
type HistoryPage struct {
	Items      []streaming.LocationRecord `json:"items"`
	Pagination Pagination                 `json:"pagination"`
}

// NearbyQuery parameters for GET /location/nearby.
type NearbyQuery struct {
	Latitude    float64
	Longitude   float64
	Radius      float64
	UserType    string
	ExcludeSelf bool
}

// Client talks to the REST location service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	// demo state
	mu   sync.Mutex
	last *streaming.LocationRecord
}

// New creates a new API client. A zero timeout uses the default.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Demo reports whether the client answers locally.
func (c *Client) Demo() bool {
	return c.token == DemoToken
}

// Healthcheck checks if the location service is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	if c.Demo() {
		return nil
	}
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// Update posts a position and returns the stored record.
func (c *Client) Update(ctx context.Context, payload streaming.LocationPayload) (streaming.LocationRecord, error) {
	if c.Demo() {
		return c.demoUpdate(payload), nil
	}
	var rec streaming.LocationRecord
	err := c.do(ctx, http.MethodPost, "/location/update", nil, payload, &rec)
	return rec, err
}

// Current returns the caller's latest stored position.
func (c *Client) Current(ctx context.Context) (streaming.LocationRecord, error) {
	if c.Demo() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.last == nil {
			return streaming.LocationRecord{}, &StatusError{StatusCode: http.StatusNotFound, Message: "no location recorded"}
		}
		return *c.last, nil
	}
	var rec streaming.LocationRecord
	err := c.do(ctx, http.MethodGet, "/location/current", nil, nil, &rec)
	return rec, err
}

// History returns a page of the caller's stored positions.
func (c *Client) History(ctx context.Context, q HistoryQuery) (HistoryPage, error) {
	if c.Demo() {
		return HistoryPage{Items: []streaming.LocationRecord{}, Pagination: Pagination{Page: max(q.Page, 1), Limit: q.Limit}}, nil
	}

	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if !q.StartDate.IsZero() {
		params.Set("startDate", q.StartDate.UTC().Format(time.RFC3339))
	}
	if !q.EndDate.IsZero() {
		params.Set("endDate", q.EndDate.UTC().Format(time.RFC3339))
	}

	var page HistoryPage
	err := c.do(ctx, http.MethodGet, "/location/history", params, nil, &page)
	return page, err
}

// Nearby runs a proximity query.
func (c *Client) Nearby(ctx context.Context, q NearbyQuery) (streaming.NearbyPayload, error) {
	if c.Demo() {
		return demoNearby(q, time.Now()), nil
	}

	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(q.Latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(q.Longitude, 'f', -1, 64))
	params.Set("radius", strconv.FormatFloat(q.Radius, 'f', -1, 64))
	if q.UserType != "" {
		params.Set("userType", q.UserType)
	}
	if q.ExcludeSelf {
		params.Set("excludeSelf", "true")
	}

	var res streaming.NearbyPayload
	err := c.do(ctx, http.MethodGet, "/location/nearby", params, nil, &res)
	return res, err
}

// Stop tells the service the caller stopped sharing.
func (c *Client) Stop(ctx context.Context) error {
	if c.Demo() {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/location/stop", nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, core.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, core.ErrUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	data, err := unwrap(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// envelope is the optional {success, data} response wrapper.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// unwrap returns the data member of a wrapped response, or raw unchanged.
func unwrap(raw []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// not an object; let the caller decode it
		return raw, nil
	}
	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request rejected"
		}
		return nil, errors.New(msg)
	}
	if env.Success != nil && len(env.Data) > 0 {
		return env.Data, nil
	}
	return raw, nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		return body.Error
	}
	return ""
}
