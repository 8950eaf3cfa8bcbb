package qnode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"log-indexer/deploy"
)

// Client talks to the HTTP API of a query node. It implements
// deploy.Deployer.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for addr, either host:port or a URL.
func NewClient(addr string) *Client {
	base := strings.TrimSuffix(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: base, http: &http.Client{Timeout: 30 * time.Minute}}
}

func (c *Client) Deploy(ctx context.Context, deployments []deploy.Deployment) error {
	body, err := json.Marshal(deployments)
	if err != nil {
		return fmt.Errorf("encoding deployments: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/deploy", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) Tablespaces(ctx context.Context) ([]Tablespace, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/tablespaces", nil)
	if err != nil {
		return nil, err
	}
	var out []Tablespace
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling qnode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e errorResponse
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("qnode %s %s: %s", req.Method, req.URL.Path, e.Error)
		}
		return fmt.Errorf("qnode %s %s: status %s", req.Method, req.URL.Path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding qnode response: %w", err)
	}
	return nil
}
