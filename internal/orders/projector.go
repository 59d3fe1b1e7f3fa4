package orders

import (
	"strings"

	"opsportal/internal/domain"
	"opsportal/internal/status"
)

// Color is the semantic color category of an order or activity.
type Color string

const (
	ColorSuccess Color = "success"
	ColorWarning Color = "warning"
	ColorAction  Color = "action"
	ColorInfo    Color = "info"
)

var colorTable = map[string]Color{
	"completed":   ColorSuccess,
	"delivered":   ColorSuccess,
	"active":      ColorSuccess,
	"cancelled":   ColorWarning,
	"rejected":    ColorWarning,
	"in-progress": ColorAction,
	"approved":    ColorAction,
}

// ColorFor maps a display status to its color; unknown statuses are info.
func ColorFor(s status.Status) Color {
	if c, ok := colorTable[string(s)]; ok {
		return c
	}
	return ColorInfo
}

// View is the display-ready projection of an order for one viewer.
type View struct {
	OrderID      string                 `json:"orderId"`
	OrderType    domain.OrderType       `json:"orderType,omitempty"`
	Title        string                 `json:"title"`
	Status       status.Status          `json:"status"`
	StatusLabel  string                 `json:"statusLabel"`
	Color        Color                  `json:"color" enum:"success,warning,action,info"`
	Terminal     bool                   `json:"terminal"`
	ItemCount    int                    `json:"itemCount"`
	Total        float64                `json:"total"`
	PendingRoles []domain.Role          `json:"pendingRoles,omitempty"`
	Stages       []domain.ApprovalStage `json:"approvalStages,omitempty"`
	CreatedAt    string                 `json:"createdAt,omitempty"`
	UpdatedAt    string                 `json:"updatedAt,omitempty"`
}

// EffectiveStatus is the status a viewer sees. The hub supplies a
// viewer-specific override when the order sits at different stages for
// different parties; otherwise every role sees the order status.
func EffectiveStatus(o domain.Order, viewer domain.Role) status.Status {
	if strings.TrimSpace(o.ViewerStatus) != "" {
		return status.Normalize(o.ViewerStatus)
	}
	return status.Normalize(o.Status)
}

// Title picks the most descriptive identifier available.
func Title(o domain.Order) string {
	for _, candidate := range []string{o.Title, o.ServiceID, o.OrderID} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return ""
}

// Project builds the view of o for viewer. It never fails: malformed input
// degrades to pending/info.
func Project(o domain.Order, viewer domain.Role) View {
	st := EffectiveStatus(o, viewer)
	v := View{
		OrderID:     o.OrderID,
		OrderType:   o.OrderType,
		Title:       Title(o),
		Status:      st,
		StatusLabel: st.Label(),
		Color:       ColorFor(st),
		Terminal:    st.IsTerminal(),
		ItemCount:   len(o.Items),
		Stages:      o.ApprovalStages,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	for _, it := range o.Items {
		v.Total += it.Quantity * it.UnitPrice
	}
	for _, stage := range o.ApprovalStages {
		if !stageDecided(stage) {
			v.PendingRoles = append(v.PendingRoles, stage.Role)
		}
	}
	return v
}

// ProjectAll projects a list in order.
func ProjectAll(list []domain.Order, viewer domain.Role) []View {
	out := make([]View, 0, len(list))
	for _, o := range list {
		out = append(out, Project(o, viewer))
	}
	return out
}
