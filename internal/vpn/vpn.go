// Package vpn downloads the lab network VPN profile for a user.
package vpn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNoSubject is returned when no user is signed in.
var ErrNoSubject = errors.New("a signed-in user is required to generate a vpn config")

// maxProfileSize caps the downloaded profile.
const maxProfileSize = 1 << 20

type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a client posting to url. A nil httpClient uses
// http.DefaultClient.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, http: httpClient}
}

type generateRequest struct {
	UserID string `json:"user_id"`
}

// Generate requests a profile for subject and returns it verbatim.
func (c *Client) Generate(ctx context.Context, subject string) ([]byte, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, ErrNoSubject
	}

	body, err := json.Marshal(generateRequest{UserID: subject})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting vpn config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generating vpn config: unexpected status %s", resp.Status)
	}

	profile, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileSize))
	if err != nil {
		return nil, fmt.Errorf("reading vpn config: %w", err)
	}
	return profile, nil
}

// Filename is the conventional download name for subject's profile.
func Filename(subject string) string {
	return "vpn-config-" + subject + ".ovpn"
}
