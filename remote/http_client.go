// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPStore is a DataStore client for the REST API served by NewRouter.
type HTTPStore struct {
	BaseURL string
	Token   func(context.Context) (string, error) // returns JWT
	HTTP    *http.Client
}

// NewHTTPStore creates a client for the API at baseURL.
func NewHTTPStore(baseURL string, tok func(ctx context.Context) (string, error)) *HTTPStore {
	return &HTTPStore{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   tok,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPStore) Select(ctx context.Context, table string, filters ...Filter) ([]Row, error) {
	q := url.Values{}
	for _, f := range filters {
		q.Add(f.Column, string(f.Op)+"."+fmt.Sprint(f.Value))
	}
	u := c.BaseURL + "/rest/" + url.PathEscape(table)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var rows []Row
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode %s rows: %w", table, err)
	}
	return rows, nil
}

func (c *HTTPStore) Insert(ctx context.Context, table string, row Row) error {
	_, err := c.do(ctx, http.MethodPost, c.BaseURL+"/rest/"+url.PathEscape(table), row)
	return err
}

func (c *HTTPStore) Update(ctx context.Context, table, id string, row Row) error {
	_, err := c.do(ctx, http.MethodPatch, c.BaseURL+"/rest/"+url.PathEscape(table)+"/"+url.PathEscape(id), row)
	return err
}

func (c *HTTPStore) Delete(ctx context.Context, table, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.BaseURL+"/rest/"+url.PathEscape(table)+"/"+url.PathEscape(id), nil)
	return err
}

func (c *HTTPStore) do(ctx context.Context, method, u string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != nil {
		tok, err := c.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, strings.TrimSpace(string(body)))
	}
	var re Error
	if err := json.Unmarshal(body, &re); err == nil && re.Code != "" {
		return nil, &re
	}
	return nil, fmt.Errorf("%s %s failed with status %d: %s", method, u, resp.StatusCode, strings.TrimSpace(string(body)))
}
