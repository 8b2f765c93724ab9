// Package opensky fetches aircraft state vectors from the OpenSky Network
// REST API (`/states/all`) for a fixed bounding box.
//
// API Documentation: https://openskynetwork.github.io/opensky-api/rest.html
// Anonymous users get 10 second resolution; registered users 5 seconds.
package opensky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/unklstewy/skyplot/pkg/coordinates"
	"github.com/unklstewy/skyplot/pkg/flights"
	"github.com/unklstewy/skyplot/pkg/logger"
)

const (
	// DefaultBaseURL is the public OpenSky REST endpoint
	DefaultBaseURL = "https://opensky-network.org/api"

	// DefaultTimeout for a single request
	DefaultTimeout = 10 * time.Second

	// DefaultMinInterval is the spacing OpenSky grants registered users
	DefaultMinInterval = 5 * time.Second
)

// Config contains configuration for the OpenSky client.
type Config struct {
	// BaseURL is the API base URL (default: https://opensky-network.org/api)
	BaseURL string

	// Username and Password enable basic auth; empty means anonymous
	Username string
	Password string

	// Timeout bounds one request. Zero disables the timeout, in which case a
	// request that never returns stalls its cycle until shutdown.
	Timeout time.Duration

	// MinInterval is the minimum spacing between requests (0 = unlimited)
	MinInterval time.Duration
}

// Client represents an OpenSky REST client.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	// rateLimiter spaces requests; nil when MinInterval is 0
	rateLimiter *rate.Limiter

	logger *logger.Logger
}

// NewClient creates a new OpenSky client.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if log == nil {
		log = logger.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: limiter,
		logger:      log.Named("opensky-client"),
	}
}

// StatesResponse is the decoded `/states/all` body. States holds each state
// vector as its raw positional array; Records maps them onto the schema.
type StatesResponse struct {
	// Time is the Unix time the states are associated with
	Time int64

	States [][]json.RawMessage
}

// Records decodes every state vector. Any malformed record fails the whole
// response with a FormatError naming the record.
func (r *StatesResponse) Records() ([]flights.RawStateRecord, error) {
	records := make([]flights.RawStateRecord, 0, len(r.States))
	for i, fields := range r.States {
		rec, err := flights.DecodeState(fields)
		if err != nil {
			return nil, &FormatError{Reason: "malformed state vector", Record: i, Err: err}
		}
		records = append(records, rec)
	}
	return records, nil
}

// StatesURL builds the `/states/all` query for a bounding box.
func (c *Client) StatesURL(box coordinates.BoundingBox) string {
	q := url.Values{}
	q.Set("lamin", strconv.FormatFloat(box.LatMin, 'f', -1, 64))
	q.Set("lomin", strconv.FormatFloat(box.LonMin, 'f', -1, 64))
	q.Set("lamax", strconv.FormatFloat(box.LatMax, 'f', -1, 64))
	q.Set("lomax", strconv.FormatFloat(box.LonMax, 'f', -1, 64))
	return c.baseURL + "/states/all?" + q.Encode()
}

// FetchStates issues one GET for all aircraft inside box. Network, auth and
// HTTP status failures come back as *TransportError; an undecodable body or a
// body without a `states` field as *FormatError. A null `states` value is an
// empty sky, not an error.
func (c *Client) FetchStates(ctx context.Context, box coordinates.BoundingBox) (*StatesResponse, error) {
	endpoint := c.StatesURL(box)

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: "rate limit wait", URL: endpoint, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &TransportError{Op: "build request", URL: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	c.logger.Debug("Fetching state vectors",
		logger.String("url", endpoint),
		logger.Bool("authenticated", c.username != ""),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "execute request", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &TransportError{
			Op:         "unexpected status",
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header),
			RateLimit:  extractRateLimitHeaders(resp.Header),
			Body:       string(bytes.TrimSpace(body)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read body", URL: endpoint, Err: err}
	}

	states, err := decodeStates(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Fetched state vectors",
		logger.Int("states", len(states.States)),
		logger.Int64("time", states.Time),
	)

	return states, nil
}

// decodeStates parses the response envelope.
func decodeStates(body []byte) (*StatesResponse, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &FormatError{Reason: "response is not a JSON object", Record: -1, Err: err}
	}

	rawStates, ok := envelope["states"]
	if !ok {
		return nil, &FormatError{Reason: "missing states field", Record: -1}
	}

	out := &StatesResponse{}
	if rawTime, ok := envelope["time"]; ok {
		var t float64
		if err := json.Unmarshal(rawTime, &t); err == nil {
			out.Time = int64(t)
		}
	}

	if bytes.Equal(bytes.TrimSpace(rawStates), []byte("null")) {
		out.States = [][]json.RawMessage{}
		return out, nil
	}
	if err := json.Unmarshal(rawStates, &out.States); err != nil {
		return nil, &FormatError{Reason: "states is not a list of arrays", Record: -1, Err: err}
	}
	return out, nil
}

// Close cleanly shuts down the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// String identifies the client in logs.
func (c *Client) String() string {
	return fmt.Sprintf("opensky(%s)", c.baseURL)
}
