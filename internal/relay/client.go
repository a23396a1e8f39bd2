package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"courier/internal/domain"
)

// ErrNotFound is returned when the relay has no record of the requested user.
var ErrNotFound = errors.New("relay: not found")

// Client talks JSON over HTTP to the relay. Inbound envelopes do not come
// through here; they arrive on the websocket stream.
type Client struct {
	Base string
	HTTP *http.Client
}

// NewClient returns a Client for the relay at base. A nil hc uses
// http.DefaultClient.
func NewClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{Base: strings.TrimRight(base, "/"), HTTP: hc}
}

// RegisterPreKeyBundle publishes our bundle, replacing the previous one.
func (c *Client) RegisterPreKeyBundle(ctx context.Context, b domain.PreKeyBundle) error {
	return c.post(ctx, pathKeys, b, nil)
}

// FetchPreKeyBundle returns the peer's bundle. The relay hands out at most
// one one-time prekey per fetch.
func (c *Client) FetchPreKeyBundle(ctx context.Context, username domain.Username) (domain.PreKeyBundle, error) {
	var out domain.PreKeyBundle
	if err := c.get(ctx, pathKeys+"/"+url.PathEscape(username.String()), &out); err != nil {
		return domain.PreKeyBundle{}, err
	}
	return out, nil
}

// FetchPreKeyCount reports how many one-time prekeys the relay still holds
// for username.
func (c *Client) FetchPreKeyCount(ctx context.Context, username domain.Username) (int, error) {
	var out countResponse
	if err := c.get(ctx, pathKeys+"/"+url.PathEscape(username.String())+"/count", &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// SendMessage queues env for its destination.
func (c *Client) SendMessage(ctx context.Context, env domain.Envelope) error {
	if env.Destination == "" {
		return fmt.Errorf("relay: envelope has no destination")
	}
	return c.post(ctx, pathMessages+"/"+url.PathEscape(env.Destination.String()), env, nil)
}

// FetchAccountCanary returns the value the relay assigned to username at
// registration. A changed canary means the account was registered anew.
func (c *Client) FetchAccountCanary(ctx context.Context, username domain.Username) (string, error) {
	var out canaryResponse
	if err := c.get(ctx, pathAccounts+"/"+url.PathEscape(username.String())+"/canary", &out); err != nil {
		return "", err
	}
	return out.Canary, nil
}

func (c *Client) post(ctx context.Context, path string, in any, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("relay %s %s: %w", req.Method, req.URL.Path, ErrNotFound)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay %s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Compile-time assertion that Client implements domain.RelayClient.
var _ domain.RelayClient = (*Client)(nil)
