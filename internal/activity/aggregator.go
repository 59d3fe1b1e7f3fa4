// Package activity merges heterogeneous event records into a display feed.
package activity

import (
	"sort"
	"strings"
	"time"

	"opsportal/internal/domain"
	"opsportal/internal/status"
)

// Type is the color category of a feed item.
type Type string

const (
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeAction  Type = "action"
	TypeInfo    Type = "info"
)

// Item is one classified feed entry.
type Item struct {
	ID        string         `json:"id"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Category  string         `json:"category,omitempty"`
	Type      Type           `json:"type" enum:"success,warning,action,info"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Checked in order; the first substring hit wins.
var keywords = []struct {
	word string
	typ  Type
}{
	{"reject", TypeWarning},
	{"cancel", TypeWarning},
	{"fail", TypeWarning},
	{"error", TypeWarning},
	{"assign", TypeAction},
	{"request", TypeAction},
	{"deliver", TypeSuccess},
	{"complete", TypeSuccess},
	{"approve", TypeSuccess},
	{"accept", TypeSuccess},
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

// Classify maps a category and message to a feed type.
func Classify(category, message string) Type {
	c := strings.ToLower(strings.TrimSpace(category))
	switch Type(c) {
	case TypeSuccess, TypeWarning, TypeAction, TypeInfo:
		return Type(c)
	}
	for _, text := range []string{c, strings.ToLower(message)} {
		for _, k := range keywords {
			if strings.Contains(text, k.word) {
				return k.typ
			}
		}
	}
	return TypeInfo
}

// Aggregator builds feeds. The zero value uses the wall clock.
type Aggregator struct {
	Now func() time.Time
}

func (a Aggregator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func parseTimestamp(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return fallback
}

// Aggregate filters raw to the allowed categories (all when none given),
// classifies, sorts newest first and keeps at most limit items. limit <= 0
// keeps everything. Records sharing an id collapse to the first one.
func (a Aggregator) Aggregate(raw []domain.RawActivity, limit int, categories ...string) []Item {
	allow := map[string]bool{}
	for _, c := range categories {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			allow[c] = true
		}
	}
	now := a.now()
	seen := map[string]bool{}
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		if len(allow) > 0 && !allow[strings.ToLower(strings.TrimSpace(r.Category))] {
			continue
		}
		if r.ID != "" {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
		}
		items = append(items, Item{
			ID:        r.ID,
			Message:   r.Message,
			Timestamp: parseTimestamp(r.Timestamp, now),
			Category:  r.Category,
			Type:      Classify(r.Category, r.Message),
			Metadata:  r.Metadata,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Aggregate runs a zero Aggregator.
func Aggregate(raw []domain.RawActivity, limit int, categories ...string) []Item {
	return Aggregator{}.Aggregate(raw, limit, categories...)
}

// FromOrders turns the latest state of each order into a feed record so order
// movement shows up next to hub activities.
func FromOrders(list []domain.Order) []domain.RawActivity {
	out := make([]domain.RawActivity, 0, len(list))
	for _, o := range list {
		st := status.Normalize(o.Status)
		ts := o.UpdatedAt
		if strings.TrimSpace(ts) == "" {
			ts = o.CreatedAt
		}
		out = append(out, domain.RawActivity{
			ID:        "order:" + o.OrderID,
			Message:   "Order " + o.OrderID + " " + strings.ToLower(st.Label()),
			Timestamp: ts,
			Category:  "order",
			Metadata:  map[string]any{"orderId": o.OrderID, "status": string(st)},
		})
	}
	return out
}
