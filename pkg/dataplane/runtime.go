package dataplane

import (
	"context"
	"net/http"
)

// GetStats returns the proxy's runtime statistics rows for all frontends,
// backends, and servers.
func (c *Client) GetStats(ctx context.Context) ([]StatRow, error) {
	var rows []StatRow
	if err := c.do(ctx, "get stats", http.MethodGet, "/services/runtime/stats", nil, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetInfo returns the proxy's process information.
func (c *Client) GetInfo(ctx context.Context) (*RuntimeInfo, error) {
	var info RuntimeInfo
	if err := c.do(ctx, "get info", http.MethodGet, "/services/runtime/info", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetProcessMetrics returns resource readings for the proxy process.
func (c *Client) GetProcessMetrics(ctx context.Context) (*ProcessMetrics, error) {
	var pm ProcessMetrics
	if err := c.do(ctx, "get process metrics", http.MethodGet, "/services/runtime/process", nil, nil, &pm); err != nil {
		return nil, err
	}
	return &pm, nil
}
