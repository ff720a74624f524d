// Package control talks to a tunnel sidecar's remote HTTP control API.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// Client reaches one service's control API through its reserved control
// port on the local host.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Error describes a failed control-API call.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewClient returns a client for the control API listening on controlPort
// of the local host.
func NewClient(controlPort int) *Client {
	return New(fmt.Sprintf("http://localhost:%d", controlPort))
}

// New returns a client for the control API at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Status returns the tunnel status reported by the control API.
func (c *Client) Status(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/openvpn/status", nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// SetVPNStatus starts or stops the tunnel through the control API.
func (c *Client) SetVPNStatus(ctx context.Context, running bool) error {
	status := "stopped"
	if running {
		status = "running"
	}
	body := map[string]string{"status": status}
	return c.do(ctx, http.MethodPut, "/v1/openvpn/status", body, nil)
}

// PublicIP returns the exit IP reported by the control API.
func (c *Client) PublicIP(ctx context.Context) (string, error) {
	var out struct {
		PublicIP string `json:"public_ip"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/publicip/ip", nil, &out); err != nil {
		return "", err
	}
	return out.PublicIP, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Err: err}
		}
		reader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Err: err}
	}
	return nil
}

// ProxyIP fetches the public IP as seen through the HTTP proxy a service
// exposes on proxyPort. It verifies traffic actually exits via the tunnel.
func ProxyIP(ctx context.Context, proxyPort int) (string, error) {
	proxyURL, err := url.Parse(fmt.Sprintf("http://localhost:%d", proxyPort))
	if err != nil {
		return "", err
	}
	client := &http.Client{
		Timeout:   defaultTimeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://ifconfig.me", nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("proxy check on port %d: %w", proxyPort, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("proxy check on port %d: %w", proxyPort, err)
	}
	return strings.TrimSpace(string(data)), nil
}
