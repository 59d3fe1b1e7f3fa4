// Package hub reads role-scoped views from the backend hub and routes order
// actions through the gateway.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"opsportal/internal/activity"
	"opsportal/internal/apierr"
	"opsportal/internal/cache"
	"opsportal/internal/catalog"
	"opsportal/internal/domain"
	"opsportal/internal/ecosystem"
	"opsportal/internal/fetch"
	"opsportal/internal/orders"
	"opsportal/internal/status"
)

// Fetcher is the subset of fetch.Client used by the hub client.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (fetch.Payload, error)
	orders.Transport
}

// Client combines the fetcher, the response cache and the order gateway.
type Client struct {
	Fetcher       Fetcher
	Cache         *cache.Cache
	Catalog       *catalog.Registry
	Gateway       orders.Gateway
	Aggregator    activity.Aggregator
	APIPrefix     string
	ActivityLimit int
	Logger        *slog.Logger
}

// OrderFilter narrows an orders read. Empty fields do not filter.
type OrderFilter struct {
	Status string
	Type   domain.OrderType
}

func (f OrderFilter) query() string {
	q := url.Values{}
	if s := strings.TrimSpace(f.Status); s != "" {
		q.Set("status", string(status.Normalize(s)))
	}
	if f.Type != "" {
		q.Set("type", string(f.Type))
	}
	return q.Encode()
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) path(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return strings.TrimRight(c.APIPrefix, "/") + "/" + strings.Join(escaped, "/")
}

func requireViewer(v domain.Viewer) error {
	if !v.Role.IsBusiness() {
		return apierr.New(apierr.KindBadRequest, "unknown viewer role %q", v.Role)
	}
	if strings.TrimSpace(v.Code) == "" {
		return apierr.New(apierr.KindBadRequest, "viewer code is required")
	}
	return nil
}

// cached runs load through the cache when one is configured.
func cached[T any](ctx context.Context, c *cache.Cache, key cache.Key, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}
	v, err := c.Get(ctx, key, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Scope returns the viewer's relationship payload.
func (c *Client) Scope(ctx context.Context, v domain.Viewer) (domain.Scope, error) {
	if err := requireViewer(v); err != nil {
		return domain.Scope{}, err
	}
	key := cache.Key{Role: v.Role, Code: v.Code, Section: cache.SectionScope}
	return cached(ctx, c.Cache, key, func(ctx context.Context) (domain.Scope, error) {
		p, err := c.Fetcher.Fetch(ctx, c.path("hub", "scope", v.Code))
		if err != nil {
			return domain.Scope{}, err
		}
		var scope domain.Scope
		if err := p.Decode(&scope); err != nil {
			return domain.Scope{}, err
		}
		if scope.Role == "" {
			scope.Role = v.Role
		}
		if scope.CksCode == "" {
			scope.CksCode = v.Code
		}
		return scope, nil
	})
}

// Orders returns the viewer's orders with canonical statuses.
func (c *Client) Orders(ctx context.Context, v domain.Viewer, f OrderFilter) ([]domain.Order, error) {
	if err := requireViewer(v); err != nil {
		return nil, err
	}
	query := f.query()
	key := cache.Key{Role: v.Role, Code: v.Code, Section: cache.SectionOrders, Query: query}
	return cached(ctx, c.Cache, key, func(ctx context.Context) ([]domain.Order, error) {
		path := c.path("hub", "orders", v.Code)
		if query != "" {
			path += "?" + query
		}
		p, err := c.Fetcher.Fetch(ctx, path)
		if err != nil {
			return nil, err
		}
		var payload domain.OrdersPayload
		if err := p.Decode(&payload); err != nil {
			return nil, err
		}
		return MergeOrders(payload), nil
	})
}

// MergeOrders flattens the three order lists of a payload, keeping the first
// record per id and defaulting orderType from the list it came from.
func MergeOrders(p domain.OrdersPayload) []domain.Order {
	seen := map[string]bool{}
	var out []domain.Order
	add := func(list []domain.Order, typ domain.OrderType) {
		for _, o := range list {
			if o.OrderID == "" || seen[o.OrderID] {
				continue
			}
			seen[o.OrderID] = true
			if o.OrderType == "" {
				o.OrderType = typ
			}
			o.Status = string(status.Normalize(o.Status))
			out = append(out, o)
		}
	}
	add(p.ServiceOrders, domain.OrderTypeService)
	add(p.ProductOrders, domain.OrderTypeProduct)
	add(p.Orders, "")
	return out
}

// Activities returns the viewer's raw hub activities.
func (c *Client) Activities(ctx context.Context, v domain.Viewer) ([]domain.RawActivity, error) {
	if err := requireViewer(v); err != nil {
		return nil, err
	}
	key := cache.Key{Role: v.Role, Code: v.Code, Section: cache.SectionActivities}
	return cached(ctx, c.Cache, key, func(ctx context.Context) ([]domain.RawActivity, error) {
		p, err := c.Fetcher.Fetch(ctx, c.path("hub", "activities", v.Code))
		if err != nil {
			return nil, err
		}
		var payload domain.ActivitiesPayload
		if err := p.Decode(&payload); err != nil {
			return nil, err
		}
		return payload.Activities, nil
	})
}

// Entity fetches one cataloged entity's details, falling back to its
// tombstone snapshot when it has been deleted.
func (c *Client) Entity(ctx context.Context, entityType, id string) (fetch.Payload, error) {
	if c.Catalog == nil {
		return fetch.Payload{}, apierr.New(apierr.KindBadRequest, "no entity catalog configured")
	}
	path, err := c.Catalog.DetailsPath(entityType, id)
	if err != nil {
		return fetch.Payload{}, &apierr.Error{Kind: apierr.KindBadRequest, Message: err.Error(), Err: err}
	}
	return c.Fetcher.Fetch(ctx, path)
}

// Order fetches a single order by id.
func (c *Client) Order(ctx context.Context, id string) (domain.Order, bool, error) {
	p, err := c.Entity(ctx, string(domain.RoleOrder), id)
	if err != nil {
		return domain.Order{}, false, err
	}
	var o domain.Order
	if err := p.Decode(&o); err != nil {
		return domain.Order{}, false, err
	}
	if o.OrderID == "" {
		o.OrderID = id
	}
	o.Status = string(status.Normalize(o.Status))
	return o, p.IsTombstone(), nil
}

// Ecosystem builds the viewer's relationship tree.
func (c *Client) Ecosystem(ctx context.Context, v domain.Viewer) (*ecosystem.Node, error) {
	scope, err := c.Scope(ctx, v)
	if err != nil {
		return nil, err
	}
	return ecosystem.Build(scope, v.Name), nil
}

// OrderViews returns display projections of the viewer's orders.
func (c *Client) OrderViews(ctx context.Context, v domain.Viewer, f OrderFilter) ([]orders.View, error) {
	list, err := c.Orders(ctx, v, f)
	if err != nil {
		return nil, err
	}
	return orders.ProjectAll(list, v.Role), nil
}

// ActivityFeed merges hub activities with order movement. limit <= 0 uses
// the configured default.
func (c *Client) ActivityFeed(ctx context.Context, v domain.Viewer, limit int, categories ...string) ([]activity.Item, error) {
	raw, err := c.Activities(ctx, v)
	if err != nil {
		return nil, err
	}
	list, err := c.Orders(ctx, v, OrderFilter{})
	if err != nil {
		return nil, err
	}
	merged := make([]domain.RawActivity, 0, len(raw)+len(list))
	merged = append(merged, raw...)
	merged = append(merged, activity.FromOrders(list)...)
	if limit <= 0 {
		limit = c.ActivityLimit
	}
	return c.Aggregator.Aggregate(merged, limit, categories...), nil
}

// ActionInput is an action request addressed by order id.
type ActionInput struct {
	OrderID  string
	Action   string
	Notes    string
	Metadata map[string]any
}

// Apply loads the order, refuses deleted orders, and runs the action through
// the gateway.
func (c *Client) Apply(ctx context.Context, v domain.Viewer, in ActionInput) (domain.Order, error) {
	if err := requireViewer(v); err != nil {
		return domain.Order{}, err
	}
	action, ok := orders.ParseAction(in.Action)
	if !ok {
		return domain.Order{}, apierr.InvalidTransition("unknown action %q", in.Action)
	}
	o, tombstone, err := c.Order(ctx, in.OrderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("load order %s: %w", in.OrderID, err)
	}
	if tombstone {
		return domain.Order{}, apierr.InvalidTransition("order %s has been deleted", in.OrderID)
	}
	updated, err := c.Gateway.Apply(ctx, orders.ActionRequest{
		Order:    o,
		Action:   action,
		Actor:    orders.Actor{Role: v.Role, Code: v.Code},
		Notes:    in.Notes,
		Metadata: in.Metadata,
	})
	if err != nil {
		return domain.Order{}, err
	}
	c.logger().Info("order action", "order_id", updated.OrderID, "action", string(action), "status", updated.Status)
	return updated, nil
}
