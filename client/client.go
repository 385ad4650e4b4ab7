// Package client is the Go consumer of the shipment API: a typed HTTP client
// with bounded connection retry, the conflict-resolution protocol for
// compare-and-swap updates, and a websocket change-feed reader.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gundcab/shipsync/internal/models"
)

// APIError is any non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Details    any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Code)
}

// ConflictError is the 409 result of a stale-version update, carrying the
// authoritative state for resolution.
type ConflictError struct {
	CurrentVersion int
	Current        models.Shipment
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: current version is %d", e.CurrentVersion)
}

type Client struct {
	BaseURL    string
	Token      string
	HTTP       *http.Client
	MaxRetries int
	RetryDelay time.Duration
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTP:       &http.Client{Timeout: 10 * time.Second},
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
	}
}

// do issues one request with connection retry. Transport failures are retried
// with incremental backoff; HTTP error statuses are returned immediately as
// typed errors and never retried blindly.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * c.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.Token)
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		return decodeResponse(resp, out)
	}
	return fmt.Errorf("request failed after %d attempts: %w", c.MaxRetries+1, lastErr)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		if out == nil {
			return nil
		}
		return json.Unmarshal(raw, out)
	}
	if resp.StatusCode == http.StatusConflict {
		var body struct {
			Error          string          `json:"error"`
			CurrentVersion int             `json:"current_version"`
			Current        models.Shipment `json:"current"`
		}
		if err := json.Unmarshal(raw, &body); err == nil && body.Error == "version_conflict" {
			return &ConflictError{CurrentVersion: body.CurrentVersion, Current: body.Current}
		}
	}
	var er struct {
		Error   string `json:"error"`
		Details any    `json:"details"`
	}
	if err := json.Unmarshal(raw, &er); err != nil || er.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
	}
	return &APIError{StatusCode: resp.StatusCode, Code: er.Error, Details: er.Details}
}

// UserInfo describes the authenticated account returned by Login.
type UserInfo struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// Login authenticates and stores the bearer token for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) (UserInfo, error) {
	var resp struct {
		AccessToken string   `json:"access_token"`
		TokenType   string   `json:"token_type"`
		UserInfo    UserInfo `json:"user_info"`
	}
	err := c.do(ctx, http.MethodPost, "/login", map[string]string{"username": username, "password": password}, &resp)
	if err != nil {
		return UserInfo{}, err
	}
	c.Token = resp.AccessToken
	return resp.UserInfo, nil
}

func (c *Client) ListShipments(ctx context.Context) ([]models.Shipment, error) {
	var recs []models.Shipment
	err := c.do(ctx, http.MethodGet, "/shipments", nil, &recs)
	return recs, err
}

func (c *Client) GetShipment(ctx context.Context, id uint) (models.Shipment, error) {
	var rec models.Shipment
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/shipments/%d", id), nil, &rec)
	return rec, err
}

// CreateShipmentInput mirrors the creation payload. The job number may come
// back suffixed if the requested one was already taken.
type CreateShipmentInput struct {
	JobNumber     string `json:"job_number"`
	JobName       string `json:"job_name"`
	Week          string `json:"week,omitempty"`
	Description   string `json:"description,omitempty"`
	Status        string `json:"status,omitempty"`
	QCRelease     string `json:"qc_release,omitempty"`
	QCNotes       string `json:"qc_notes,omitempty"`
	Created       string `json:"created,omitempty"`
	ShipPlan      string `json:"ship_plan,omitempty"`
	Shipped       string `json:"shipped,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	ShippingNotes string `json:"shipping_notes,omitempty"`
}

func (c *Client) CreateShipment(ctx context.Context, in CreateShipmentInput) (models.Shipment, error) {
	var rec models.Shipment
	err := c.do(ctx, http.MethodPost, "/shipments", in, &rec)
	return rec, err
}

// UpdateShipment issues a compare-and-swap update carrying the version the
// caller last observed.
func (c *Client) UpdateShipment(ctx context.Context, id uint, version int, changes map[string]string) (models.Shipment, error) {
	var rec models.Shipment
	body := map[string]any{"version": version, "changes": changes}
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/shipments/%d", id), body, &rec)
	return rec, err
}

func (c *Client) DeleteShipment(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/shipments/%d", id), nil, nil)
}

// AuditEntry is one row of the read-only audit surface.
type AuditEntry struct {
	User      string    `json:"user"`
	Action    string    `json:"action"`
	TableName string    `json:"table_name"`
	RecordID  uint      `json:"record_id"`
	Changes   string    `json:"changes"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *Client) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	var entries []AuditEntry
	path := "/audit-logs"
	if limit > 0 {
		path += "?limit=" + url.QueryEscape(fmt.Sprint(limit))
	}
	err := c.do(ctx, http.MethodGet, path, nil, &entries)
	return entries, err
}

// IsNotFound reports whether err is the server's record-vanished response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
