package dataplane

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// configVersion is the proxy's current configuration version, required to
// open a transaction.
type configVersion struct {
	Version int `json:"version"`
}

// ConfigurationVersion returns the proxy's current configuration version.
func (c *Client) ConfigurationVersion(ctx context.Context) (int, error) {
	var v configVersion
	if err := c.do(ctx, "get configuration version", http.MethodGet,
		"/services/configuration/version", nil, nil, &v); err != nil {
		return 0, err
	}
	return v.Version, nil
}

// CreateTransaction opens a new configuration transaction against the
// current configuration version.
func (c *Client) CreateTransaction(ctx context.Context) (*Transaction, error) {
	version, err := c.ConfigurationVersion(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("version", strconv.Itoa(version))

	var txn Transaction
	if err := c.do(ctx, "create transaction", http.MethodPost,
		"/transactions", q, nil, &txn); err != nil {
		return nil, err
	}
	if txn.ID == "" {
		return nil, &APIError{
			Operation:  "create transaction",
			StatusCode: http.StatusOK,
			Message:    "proxy returned transaction without id",
		}
	}
	return &txn, nil
}

// CommitTransaction commits a transaction, applying its staged changes.
func (c *Client) CommitTransaction(ctx context.Context, id string) error {
	path := fmt.Sprintf("/transactions/%s", id)
	return c.do(ctx, "commit transaction", http.MethodPut, path, nil, nil, nil)
}

// RollbackTransaction discards a transaction and its staged changes.
func (c *Client) RollbackTransaction(ctx context.Context, id string) error {
	path := fmt.Sprintf("/transactions/%s", id)
	return c.do(ctx, "rollback transaction", http.MethodDelete, path, nil, nil, nil)
}

// validationResult is the dry-run validator's response.
type validationResult struct {
	Valid   bool   `json:"valid"`
	Details string `json:"details,omitempty"`
}

// ValidateConfiguration runs the proxy's dry-run validation for the pending
// configuration of a transaction. It returns a *ValidationError when the
// proxy reports the configuration as invalid.
func (c *Client) ValidateConfiguration(ctx context.Context, transactionID string) error {
	path := fmt.Sprintf("/transactions/%s/validate", transactionID)

	var result validationResult
	if err := c.do(ctx, "validate configuration", http.MethodPost, path, nil, nil, &result); err != nil {
		return err
	}
	if !result.Valid {
		return &ValidationError{
			TransactionID: transactionID,
			Details:       result.Details,
		}
	}
	return nil
}
