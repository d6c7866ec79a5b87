// Package gateway talks to the handset's messaging gateway: the platform
// service that owns the SIM, sends SMS and places calls.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var ErrNoSIM = errors.New("no usable SIM")

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type textRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type callRequest struct {
	To string `json:"to"`
}

type statusResponse struct {
	SIMReady bool `json:"sim_ready"`
}

// SendText sends a plain-text SMS. Delivery reports are not tracked.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	if err := c.post(ctx, "/sms", textRequest{To: to, Body: body}); err != nil {
		return err
	}
	slog.Debug("SMS handed to gateway", "to", to)
	return nil
}

// Call asks the platform to place a voice call.
func (c *Client) Call(ctx context.Context, to string) error {
	return c.post(ctx, "/calls", callRequest{To: to})
}

// SIMReady reports whether the handset has an active subscription. Any
// failure to ask counts as not ready.
func (c *Client) SIMReady(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/status", nil)
	if err != nil {
		return false
	}
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		slog.Warn("Gateway status check failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false
	}
	return status.SIMReady
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return ErrNoSIM
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway api error: status %s, body %s", resp.Status, string(msg))
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}
