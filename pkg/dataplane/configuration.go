package dataplane

import (
	"context"
	"fmt"
	"net/http"
)

// GetBackends returns all configured backends with their servers.
func (c *Client) GetBackends(ctx context.Context) ([]Backend, error) {
	var backends []Backend
	if err := c.do(ctx, "get backends", http.MethodGet, "/services/backends", nil, nil, &backends); err != nil {
		return nil, err
	}

	// Server lists ride along on the backend objects; fetch any that the
	// proxy returns lazily.
	for i := range backends {
		if backends[i].Servers != nil {
			continue
		}
		servers, err := c.GetServers(ctx, backends[i].Name)
		if err != nil {
			return nil, err
		}
		backends[i].Servers = servers
	}

	return backends, nil
}

// GetBackend returns a single backend by name, including its servers.
func (c *Client) GetBackend(ctx context.Context, name string) (*Backend, error) {
	var backend Backend
	path := fmt.Sprintf("/services/backends/%s", name)
	if err := c.do(ctx, "get backend", http.MethodGet, path, nil, nil, &backend); err != nil {
		return nil, err
	}

	if backend.Servers == nil {
		servers, err := c.GetServers(ctx, name)
		if err != nil {
			return nil, err
		}
		backend.Servers = servers
	}

	return &backend, nil
}

// CreateBackend creates a backend. When transactionID is non-empty the
// change is staged inside that transaction.
func (c *Client) CreateBackend(ctx context.Context, backend Backend, transactionID string) error {
	return c.do(ctx, "create backend", http.MethodPost,
		"/services/backends", txnQuery(transactionID), backend, nil)
}

// DeleteBackend deletes a backend by name.
func (c *Client) DeleteBackend(ctx context.Context, name, transactionID string) error {
	path := fmt.Sprintf("/services/backends/%s", name)
	return c.do(ctx, "delete backend", http.MethodDelete, path, txnQuery(transactionID), nil, nil)
}

// GetServers returns the servers of a backend.
func (c *Client) GetServers(ctx context.Context, backend string) ([]Server, error) {
	var servers []Server
	path := fmt.Sprintf("/services/backends/%s/servers", backend)
	if err := c.do(ctx, "get servers", http.MethodGet, path, nil, nil, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// CreateServer adds a server to a backend.
func (c *Client) CreateServer(ctx context.Context, backend string, server Server, transactionID string) error {
	path := fmt.Sprintf("/services/backends/%s/servers", backend)
	return c.do(ctx, "create server", http.MethodPost, path, txnQuery(transactionID), server, nil)
}

// UpdateServer replaces a server definition within a backend.
func (c *Client) UpdateServer(ctx context.Context, backend string, server Server, transactionID string) error {
	path := fmt.Sprintf("/services/backends/%s/servers/%s", backend, server.Name)
	return c.do(ctx, "update server", http.MethodPut, path, txnQuery(transactionID), server, nil)
}

// DeleteServer removes a server from a backend.
func (c *Client) DeleteServer(ctx context.Context, backend, server, transactionID string) error {
	path := fmt.Sprintf("/services/backends/%s/servers/%s", backend, server)
	return c.do(ctx, "delete server", http.MethodDelete, path, txnQuery(transactionID), nil, nil)
}

// UpdateServerWeight changes only the administrative weight of a server.
// The proxy applies weight changes without draining existing connections.
func (c *Client) UpdateServerWeight(ctx context.Context, backend, server string, weight int, transactionID string) error {
	if weight < 1 || weight > 256 {
		return fmt.Errorf("weight %d out of range [1,256]", weight)
	}
	path := fmt.Sprintf("/services/backends/%s/servers/%s/weight", backend, server)
	body := map[string]int{"weight": weight}
	return c.do(ctx, "update server weight", http.MethodPut, path, txnQuery(transactionID), body, nil)
}
