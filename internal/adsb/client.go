package adsb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yegors/co-atc-safety/internal/safety"
	"github.com/yegors/co-atc-safety/pkg/logger"
)

// Client fetches aircraft.json from a readsb/tar1090 instance or a compatible API
type Client struct {
	name       string
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a new ADS-B client. headers are sent on every request
// (for example x-rapidapi-host/x-rapidapi-key for the external API).
func NewClient(name, url string, headers map[string]string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		name:    name,
		url:     url,
		headers: headers,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.Named("adsb-cli").With(logger.Source(name)),
	}
}

// Name returns the configured source name
func (c *Client) Name() string {
	return c.name
}

// Fetch retrieves and decodes one snapshot
func (c *Client) Fetch(ctx context.Context) ([]safety.AircraftState, error) {
	snap, err := c.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Aircraft, nil
}

// FetchSnapshot retrieves one snapshot including its feed timestamp
func (c *Client) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	c.logger.Debug("Fetching ADS-B data", logger.String("url", c.url))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read response body: %w", err)
	}

	snap, err := DecodeAircraftJSON(body, time.Now().UTC())
	if err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.Error("Failed to parse ADS-B payload", logger.Error(err), logger.String("body", preview))
		return Snapshot{}, fmt.Errorf("failed to parse JSON: %w", err)
	}

	c.logger.Debug("Successfully fetched ADS-B data",
		logger.Int("aircraft_count", len(snap.Aircraft)),
		logger.Int64("message_count", snap.Messages))

	return snap, nil
}
