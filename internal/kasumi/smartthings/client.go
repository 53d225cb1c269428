// Package smartthings is the authenticated client for the SmartThings
// device-control API: location/room/device/status lookups plus the response
// aggregation used by the query flows. The client is stateless; every call
// takes the bearer token as a parameter because tokens live only inside one
// flow instance and are never cached here.
package smartthings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kasumi-bot/kasumi/common/retry"
)

// DefaultBaseURL is the public SmartThings API endpoint.
const DefaultBaseURL = "https://api.smartthings.com/v1"

const defaultTimeout = 15 * time.Second

// Client calls the SmartThings REST API.
type Client struct {
	base string
	http *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at a different endpoint (tests, mocks).
func WithBaseURL(base string) Option {
	return func(c *Client) { c.base = strings.TrimRight(base, "/") }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a SmartThings API client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		base: DefaultBaseURL,
		http: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// errTransient marks server-side failures worth retrying.
var errTransient = errors.New("smartthings: transient server error")

var retryPolicy = retry.Policy{
	Attempts:  3,
	Delay:     250 * time.Millisecond,
	MaxDelay:  2 * time.Second,
	Retryable: func(err error) bool { return errors.Is(err, errTransient) },
}

// getJSON fetches path with the bearer token and decodes the body into out,
// retrying transient (5xx / network) failures.
func (c *Client) getJSON(ctx context.Context, token, path string, out any) error {
	return retry.Do(ctx, retryPolicy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return fmt.Errorf("smartthings: build request for %s: %w", path, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("smartthings: GET %s: %w: %w", path, errTransient, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("smartthings: read %s: %w: %w", path, errTransient, err)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("smartthings: GET %s returned HTTP %d: %w", path, resp.StatusCode, errTransient)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("smartthings: GET %s returned HTTP %d", path, resp.StatusCode)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("smartthings: decode %s: %w", path, err)
		}
		return nil
	})
}

// Locations lists the account's locations.
func (c *Client) Locations(ctx context.Context, token string) ([]Location, error) {
	var env envelope[Location]
	if err := c.getJSON(ctx, token, "/locations", &env); err != nil {
		return nil, err
	}
	return env.Items, nil
}

// Rooms lists the rooms of a location.
func (c *Client) Rooms(ctx context.Context, token, locationID string) ([]Room, error) {
	var env envelope[Room]
	path := "/locations/" + url.PathEscape(locationID) + "/rooms"
	if err := c.getJSON(ctx, token, path, &env); err != nil {
		return nil, err
	}
	return env.Items, nil
}

// Devices lists a location's devices filtered by capability. An empty
// locationID lists the whole account.
func (c *Client) Devices(ctx context.Context, token, locationID, capability string) ([]Device, error) {
	var env envelope[Device]
	q := url.Values{}
	q.Set("capability", capability)
	if locationID != "" {
		q.Set("locationId", locationID)
	}
	path := "/devices?" + q.Encode()
	if err := c.getJSON(ctx, token, path, &env); err != nil {
		return nil, err
	}
	return env.Items, nil
}

// Status fetches a device's current reading for one capability's attribute.
func (c *Client) Status(ctx context.Context, token, deviceID, capability string) (AttributeValue, error) {
	path := fmt.Sprintf("/devices/%s/components/main/capabilities/%s/status",
		url.PathEscape(deviceID), url.PathEscape(capability))

	var status map[string]AttributeValue
	if err := c.getJSON(ctx, token, path, &status); err != nil {
		return AttributeValue{}, err
	}

	if v, ok := status[attributeFor(capability)]; ok {
		return v, nil
	}
	// Some capabilities expose a single attribute under a non-obvious name.
	if len(status) == 1 {
		for _, v := range status {
			return v, nil
		}
	}
	return AttributeValue{}, fmt.Errorf("smartthings: status for %s has no %s attribute", deviceID, attributeFor(capability))
}
