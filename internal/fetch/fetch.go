// Package fetch issues requests against the hub and recovers details of
// tombstoned entities.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"opsportal/internal/apierr"
	"opsportal/internal/catalog"
	"opsportal/internal/domain"
)

// DefaultTimeout bounds every request unless the client overrides it.
const DefaultTimeout = 25 * time.Second

// Payload is a successful response body.
type Payload struct {
	Data     json.RawMessage
	Metadata map[string]any
}

// Decode unmarshals the payload data into v.
func (p Payload) Decode(v any) error {
	if len(p.Data) == 0 {
		return apierr.New(apierr.KindDecode, "empty response body")
	}
	if err := json.Unmarshal(p.Data, v); err != nil {
		return &apierr.Error{Kind: apierr.KindDecode, Message: "decode response", Err: err}
	}
	return nil
}

// IsTombstone reports whether the payload was recovered from a snapshot.
func (p Payload) IsTombstone() bool {
	v, _ := p.Metadata["isTombstone"].(bool)
	return v
}

// Client is the hub HTTP client.
type Client struct {
	BaseURL    string
	Token      string
	Headers    map[string]string
	HTTPClient *http.Client
	Timeout    time.Duration
	Catalog    *catalog.Registry
	Logger     *slog.Logger
}

// New creates a client with sane defaults.
func New(baseURL string, reg *catalog.Registry) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		Timeout:    DefaultTimeout,
		Catalog:    reg,
	}
}

type tokenKey struct{}

// WithToken attaches a per-request bearer token that takes precedence over
// Client.Token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFromContext(ctx context.Context) string {
	v, _ := ctx.Value(tokenKey{}).(string)
	return v
}

// Fetch performs a GET. A 404 on a cataloged details endpoint triggers one
// snapshot request; if that yields a valid snapshot it is returned in place
// of the original error, otherwise the original 404 is returned.
func (c *Client) Fetch(ctx context.Context, path string) (Payload, error) {
	body, err := c.Do(ctx, http.MethodGet, path, nil)
	if err == nil {
		return Payload{Data: body}, nil
	}
	if !apierr.Is(err, apierr.KindNotFound) || c.Catalog == nil {
		return Payload{}, err
	}
	m, ok := c.Catalog.Match(path)
	if !ok || !m.Entry.Supports(catalog.CapDetail) || !m.Entry.Supports(catalog.CapTombstone) {
		return Payload{}, err
	}
	snap, serr := c.snapshot(ctx, m)
	if serr != nil {
		c.logger().Debug("tombstone fallback failed", "path", path, "snapshot", m.SnapshotPath(), "error", serr)
		return Payload{}, err
	}
	c.logger().Info("served tombstone snapshot", "path", path, "entity_type", m.Entry.Type, "entity_id", m.EntityID)
	return snap, nil
}

type snapshotEnvelope struct {
	Success bool                      `json:"success"`
	Data    *domain.TombstoneSnapshot `json:"data"`
}

func (c *Client) snapshot(ctx context.Context, m catalog.Match) (Payload, error) {
	body, err := c.Do(ctx, http.MethodGet, m.SnapshotPath(), nil)
	if err != nil {
		return Payload{}, err
	}
	var env snapshotEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Payload{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if !env.Success || env.Data == nil || len(env.Data.Snapshot) == 0 {
		return Payload{}, errors.New("snapshot response missing data")
	}
	var fields map[string]any
	if err := json.Unmarshal(env.Data.Snapshot, &fields); err != nil || fields == nil {
		return Payload{}, errors.New("snapshot is not an object")
	}
	fields["isDeleted"] = true
	fields["isTombstone"] = true
	fields["deletedAt"] = env.Data.DeletedAt
	fields["deletedBy"] = env.Data.DeletedBy
	fields["deletionReason"] = env.Data.DeletionReason
	merged, err := json.Marshal(fields)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Data: merged,
		Metadata: map[string]any{
			"isTombstone": true,
			"entityType":  m.Entry.Type,
			"entityId":    m.EntityID,
		},
	}, nil
}

// Do issues exactly one request and returns the raw response body of a 2xx
// response. It never falls back or retries.
func (c *Client) Do(ctx context.Context, method, path string, body any) ([]byte, error) {
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.url(path), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	token := tokenFromContext(ctx)
	if token == "" {
		token = c.Token
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, apierr.FromTransport(path, err, timedOut(ctx, reqCtx))
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.FromTransport(path, err, timedOut(ctx, reqCtx))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger().Debug("hub request failed", "method", method, "path", path, "status", resp.StatusCode)
		return nil, apierr.FromStatus(resp.StatusCode, path, errorMessage(resp.StatusCode, data))
	}
	return data, nil
}

// timedOut distinguishes our own deadline from the caller's context ending.
func timedOut(parent, reqCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded)
}

func errorMessage(status int, body []byte) string {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if len(env.Error) > 0 {
			var s string
			if json.Unmarshal(env.Error, &s) == nil && s != "" {
				return s
			}
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(env.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
		}
		if env.Message != "" {
			return env.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
