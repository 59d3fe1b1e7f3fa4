package server

import (
	"opsportal/internal/activity"
	"opsportal/internal/domain"
	"opsportal/internal/orders"
)

// Request payloads

type OrderActionRequest struct {
	Action   string         `json:"action" doc:"One of accept, reject, cancel, deliver, create-service" example:"accept"`
	Notes    string         `json:"notes,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type DevTokenRequest struct {
	Role string `json:"role" enum:"manager,contractor,customer,center,crew,warehouse"`
	Code string `json:"code" example:"MGR-001"`
	Name string `json:"name,omitempty"`
}

// Response payloads

type ViewerResponse struct {
	Role domain.Role `json:"role"`
	Code string      `json:"code"`
	Name string      `json:"name,omitempty"`
}

type OrderResponse struct {
	orders.View
	Actions []orders.Action `json:"actions"`
}

type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
}

type OrderActionResponse struct {
	Order domain.Order  `json:"order"`
	View  OrderResponse `json:"view"`
}

type ActivityListResponse struct {
	Activities []activity.Item `json:"activities"`
}

type EntityResponse struct {
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Tombstone  bool           `json:"isTombstone"`
	Data       map[string]any `json:"data"`
}

type JournalResponse struct {
	Entries []domain.JournalEntry `json:"entries"`
}

type DevTokenResponse struct {
	Token string `json:"token"`
}

func mapOrder(o domain.Order, viewer domain.Role) OrderResponse {
	actions := orders.AllowedActions(o, viewer)
	if actions == nil {
		actions = []orders.Action{}
	}
	return OrderResponse{View: orders.Project(o, viewer), Actions: actions}
}

func mapOrders(list []domain.Order, viewer domain.Role) []OrderResponse {
	out := make([]OrderResponse, 0, len(list))
	for _, o := range list {
		out = append(out, mapOrder(o, viewer))
	}
	return out
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
