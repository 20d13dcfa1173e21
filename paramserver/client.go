package paramserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	pkgerrors "github.com/vortexml/traind/pkg/errors"
	"github.com/vortexml/traind/params"
)

const clientTimeout = 30 * time.Second

// Client is the worker-side handle on a parameter holder. Pulls may observe
// stale versions while another worker pushes; callers must not assume any
// cross-process ordering.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{
		baseURL: "http://" + endpoint,
		http:    &http.Client{Timeout: clientTimeout},
	}
}

func (c *Client) Pull(ctx context.Context, key string) (params.Parameter, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/parameters/%s", c.baseURL, key), nil)
	if err != nil {
		return params.Parameter{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return params.Parameter{}, fmt.Errorf("failed to pull parameter %q: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return params.Parameter{}, pkgerrors.ErrNotFound
	default:
		return params.Parameter{}, fmt.Errorf("failed to pull parameter %q: status %d", key, resp.StatusCode)
	}

	var p params.Parameter
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return params.Parameter{}, fmt.Errorf("failed to decode parameter %q: %w", key, err)
	}

	return p, nil
}

func (c *Client) Push(ctx context.Context, p params.Parameter) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, fmt.Sprintf("%s/parameters/%s", c.baseURL, p.Key), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to push parameter %q: %w", p.Key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to push parameter %q: status %d", p.Key, resp.StatusCode)
	}

	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/parameters/%s", c.baseURL, key), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete parameter %q: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return pkgerrors.ErrNotFound
	default:
		return fmt.Errorf("failed to delete parameter %q: status %d", key, resp.StatusCode)
	}
}
