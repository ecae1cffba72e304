package dataplane

import (
	"context"
	"fmt"
	"net/http"
)

// GetMatchRules returns all content-based routing rules.
func (c *Client) GetMatchRules(ctx context.Context) ([]MatchRule, error) {
	var rules []MatchRule
	if err := c.do(ctx, "get match rules", http.MethodGet, "/rules/content", nil, nil, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// CreateMatchRule creates a content-based routing rule.
func (c *Client) CreateMatchRule(ctx context.Context, rule MatchRule, transactionID string) error {
	return c.do(ctx, "create match rule", http.MethodPost,
		"/rules/content", txnQuery(transactionID), rule, nil)
}

// DeleteMatchRule deletes a content-based routing rule by name.
func (c *Client) DeleteMatchRule(ctx context.Context, name, transactionID string) error {
	path := fmt.Sprintf("/rules/content/%s", name)
	return c.do(ctx, "delete match rule", http.MethodDelete, path, txnQuery(transactionID), nil, nil)
}

// GetOriginRules returns all origin-based routing rules.
func (c *Client) GetOriginRules(ctx context.Context) ([]OriginRule, error) {
	var rules []OriginRule
	if err := c.do(ctx, "get origin rules", http.MethodGet, "/rules/origin", nil, nil, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// CreateOriginRule creates an origin-based routing rule.
func (c *Client) CreateOriginRule(ctx context.Context, rule OriginRule, transactionID string) error {
	return c.do(ctx, "create origin rule", http.MethodPost,
		"/rules/origin", txnQuery(transactionID), rule, nil)
}

// DeleteOriginRule deletes an origin-based routing rule by name.
func (c *Client) DeleteOriginRule(ctx context.Context, name, transactionID string) error {
	path := fmt.Sprintf("/rules/origin/%s", name)
	return c.do(ctx, "delete origin rule", http.MethodDelete, path, txnQuery(transactionID), nil, nil)
}
