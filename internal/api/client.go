// Package api is the HTTP client for the remote device service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HerbHall/jump/internal/metrics"
	"github.com/HerbHall/jump/pkg/models"
	"golang.org/x/time/rate"
)

// Client wraps the device service REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient creates a device service client. A zero timeout means 10s.
// A rateLimit of 0 disables outbound rate limiting.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// ListDevices returns every device in server order.
func (c *Client) ListDevices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	if err := c.doJSON(ctx, http.MethodGet, "/devices", "/devices", nil, &devices); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if devices == nil {
		devices = []models.Device{}
	}
	return devices, nil
}

// CreateDevice registers a new device. The service assigns its ID.
func (c *Client) CreateDevice(ctx context.Context, req models.DevicePayload) (*models.Device, error) {
	var device models.Device
	if err := c.doJSON(ctx, http.MethodPost, "/devices", "/devices", req, &device); err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}
	return &device, nil
}

// UpdateDevice replaces the stored fields of device id.
func (c *Client) UpdateDevice(ctx context.Context, id string, req models.DevicePayload) (*models.Device, error) {
	path := "/devices/" + url.PathEscape(id)
	var device models.Device
	if err := c.doJSON(ctx, http.MethodPut, path, "/devices/{id}", req, &device); err != nil {
		return nil, fmt.Errorf("update device %s: %w", id, err)
	}
	return &device, nil
}

// DeleteDevice removes device id. The service answers with no body.
func (c *Client) DeleteDevice(ctx context.Context, id string) error {
	path := "/devices/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodDelete, path, "/devices/{id}", nil, nil); err != nil {
		return fmt.Errorf("delete device %s: %w", id, err)
	}
	return nil
}

// WakeDevice asks the service to send a magic packet to device id and
// returns the raw response body. Deployments differ: some answer with a
// structured WakeResponse, older ones with an empty 2xx.
func (c *Client) WakeDevice(ctx context.Context, id string) (json.RawMessage, error) {
	path := "/devices/" + url.PathEscape(id) + "/wake"
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, path, "/devices/{id}/wake", nil, &raw); err != nil {
		return nil, fmt.Errorf("wake device %s: %w", id, err)
	}
	return raw, nil
}

// LookupMAC resolves ip to a MAC address through the service host's ARP table.
func (c *Client) LookupMAC(ctx context.Context, ip string) (*models.MacLookupResponse, error) {
	var resp models.MacLookupResponse
	if err := c.doJSON(ctx, http.MethodPost, "/arp-lookup", "/arp-lookup", models.MacLookupRequest{IP: ip}, &resp); err != nil {
		return nil, fmt.Errorf("lookup mac for %s: %w", ip, err)
	}
	return &resp, nil
}

// ExportDevices returns the service-side portable export.
func (c *Client) ExportDevices(ctx context.Context) ([]models.PortableDevice, error) {
	var devices []models.PortableDevice
	if err := c.doJSON(ctx, http.MethodGet, "/devices/export", "/devices/export", nil, &devices); err != nil {
		return nil, fmt.Errorf("export devices: %w", err)
	}
	return devices, nil
}

// ImportDevices submits a batch of portable records in one request and
// returns the records the service created.
func (c *Client) ImportDevices(ctx context.Context, devices []models.PortableDevice) ([]models.Device, error) {
	var created []models.Device
	if err := c.doJSON(ctx, http.MethodPost, "/devices/import", "/devices/import", devices, &created); err != nil {
		return nil, fmt.Errorf("import %d devices: %w", len(devices), err)
	}
	return created, nil
}

// doJSON performs an HTTP request with JSON serialization/deserialization.
// Transport failures come back as *NetworkError, non-2xx responses as
// *ServiceError. route is the templated path used as a metrics label.
func (c *Client) doJSON(ctx context.Context, method, path, route string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return &NetworkError{Op: method + " " + path, Attempts: 1, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveRequest(method, route, 0, time.Since(start))
		return &NetworkError{Op: method + " " + path, Attempts: 1, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	metrics.ObserveRequest(method, route, resp.StatusCode, time.Since(start))
	if err != nil {
		return &NetworkError{Op: method + " " + path, Attempts: 1, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ServiceError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, respBody)}
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if raw, ok := result.(*json.RawMessage); ok {
			*raw = append((*raw)[:0], respBody...)
			return nil
		}
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// errorMessage extracts {message} from an error body. A body that is not
// JSON yields "HTTP Error: <status>"; JSON without a message yields
// "Unknown error".
func errorMessage(status int, body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return fmt.Sprintf("HTTP Error: %d", status)
	}
	if eb.Message == "" {
		return "Unknown error"
	}
	return eb.Message
}
