package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"opsportal/internal/apierr"
	"opsportal/internal/cache"
	"opsportal/internal/domain"
	"opsportal/internal/status"
)

// Action is a state-changing request against an order.
type Action string

const (
	ActionAccept        Action = "accept"
	ActionReject        Action = "reject"
	ActionCancel        Action = "cancel"
	ActionDeliver       Action = "deliver"
	ActionCreateService Action = "create-service"
)

// Actions lists every supported action.
var Actions = []Action{ActionAccept, ActionReject, ActionCancel, ActionDeliver, ActionCreateService}

// ParseAction accepts any casing and surrounding whitespace.
func ParseAction(raw string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	return a, a.known()
}

func (a Action) known() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// Roles allowed to issue an action; nil means every business role.
var actionRoles = map[Action][]domain.Role{
	ActionDeliver:       {domain.RoleWarehouse, domain.RoleManager},
	ActionCreateService: {domain.RoleManager},
}

// Actor is the role and code issuing an action.
type Actor struct {
	Role domain.Role
	Code string
}

// ActionRequest is one action against one order.
type ActionRequest struct {
	Order    domain.Order
	Action   Action
	Actor    Actor
	Notes    string
	Metadata map[string]any
}

// Transport issues one request and returns the body of a 2xx response.
type Transport interface {
	Do(ctx context.Context, method, path string, body any) ([]byte, error)
}

// Invalidator drops cached views.
type Invalidator interface {
	Invalidate(pred func(cache.Key) bool) int
}

// Recorder keeps a local trail of action outcomes.
type Recorder interface {
	Record(ctx context.Context, e domain.JournalEntry) error
}

// Gateway validates actions locally and forwards legal ones to the hub.
type Gateway struct {
	Transport Transport
	Cache     Invalidator
	Journal   Recorder
	APIPrefix string
	Logger    *slog.Logger
	Now       func() time.Time
}

func (g Gateway) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g Gateway) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func openForDecision(s status.Status) bool {
	if s.IsPending() {
		return true
	}
	switch s {
	case status.InProgress, status.Approved, status.CrewRequested, status.CrewAssigned, status.ManagerAccepted:
		return true
	}
	return false
}

func stageStatus(stage domain.ApprovalStage) string {
	return strings.ToLower(strings.TrimSpace(stage.Status))
}

func stageDecided(stage domain.ApprovalStage) bool {
	switch stageStatus(stage) {
	case "accepted", "approved", "rejected", "declined":
		return true
	}
	return false
}

func roleAllowed(a Action, r domain.Role) bool {
	allowed, ok := actionRoles[a]
	if !ok {
		return true
	}
	for _, role := range allowed {
		if role == r {
			return true
		}
	}
	return false
}

// Check validates an action against the order's current status and the
// actor's role without touching the network.
func Check(o domain.Order, a Action, actor domain.Role) error {
	if !a.known() {
		return apierr.InvalidTransition("unknown action %q", a)
	}
	if !actor.IsBusiness() {
		return apierr.InvalidTransition("role %q cannot act on orders", actor)
	}
	st := status.Normalize(o.Status)
	if st.IsTerminal() {
		return apierr.InvalidTransition("order %s is %s; no further actions allowed", o.OrderID, st)
	}
	if !roleAllowed(a, actor) {
		return apierr.InvalidTransition("role %s cannot %s order %s", actor, a, o.OrderID)
	}
	switch a {
	case ActionAccept, ActionReject, ActionCancel:
		if !openForDecision(st) {
			return apierr.InvalidTransition("cannot %s order %s in status %s", a, o.OrderID, st)
		}
		if a != ActionCancel {
			return checkStage(o, a, actor)
		}
	case ActionDeliver:
		if st != status.Approved && st != status.InProgress {
			return apierr.InvalidTransition("cannot deliver order %s in status %s", o.OrderID, st)
		}
	case ActionCreateService:
		if len(o.ApprovalStages) == 0 {
			return apierr.InvalidTransition("order %s has no approval stages", o.OrderID)
		}
		for _, stage := range o.ApprovalStages {
			if stageStatus(stage) != "accepted" {
				return apierr.InvalidTransition("order %s: %s stage is %q, not accepted", o.OrderID, stage.Role, stage.Status)
			}
		}
	}
	return nil
}

func checkStage(o domain.Order, a Action, actor domain.Role) error {
	if len(o.ApprovalStages) == 0 {
		return nil
	}
	owned := false
	for _, stage := range o.ApprovalStages {
		if stage.Role != actor {
			continue
		}
		owned = true
		if !stageDecided(stage) {
			return nil
		}
	}
	if owned {
		return apierr.InvalidTransition("%s already decided on order %s", actor, o.OrderID)
	}
	return apierr.InvalidTransition("role %s has no approval stage on order %s; cannot %s", actor, o.OrderID, a)
}

// AllowedActions lists the actions actor may take on o right now.
func AllowedActions(o domain.Order, actor domain.Role) []Action {
	var out []Action
	for _, a := range Actions {
		if Check(o, a, actor) == nil {
			out = append(out, a)
		}
	}
	return out
}

type actionBody struct {
	Action   Action         `json:"action"`
	Notes    string         `json:"notes,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Apply validates req locally and, if legal, posts it to the hub. On
// success every cached view the action can affect is invalidated before
// Apply returns. Failed requests are returned as-is; there are no retries.
func (g Gateway) Apply(ctx context.Context, req ActionRequest) (domain.Order, error) {
	log := g.logger().With("order_id", req.Order.OrderID, "action", string(req.Action), "role", string(req.Actor.Role))
	if err := Check(req.Order, req.Action, req.Actor.Role); err != nil {
		log.Info("action rejected locally", "error", err)
		g.record(ctx, req, "rejected", err)
		return domain.Order{}, err
	}
	path := strings.TrimRight(g.APIPrefix, "/") + "/orders/" + url.PathEscape(req.Order.OrderID) + "/actions"
	data, err := g.Transport.Do(ctx, http.MethodPost, path, actionBody{
		Action:   req.Action,
		Notes:    req.Notes,
		Metadata: req.Metadata,
	})
	if err != nil {
		log.Warn("action request failed", "kind", string(apierr.KindOf(err)), "error", err)
		g.record(ctx, req, "failed", err)
		return domain.Order{}, err
	}
	n := g.invalidate(req)
	log.Debug("invalidated cached views", "keys", n)
	updated, err := decodeOrder(data, req.Order)
	if err != nil {
		g.record(ctx, req, "applied", nil)
		return domain.Order{}, err
	}
	if updated.OrderID == "" {
		updated.OrderID = req.Order.OrderID
	}
	updated.Status = string(status.Normalize(updated.Status))
	g.record(ctx, req, "applied", nil)
	log.Info("action applied", "status", updated.Status)
	return updated, nil
}

// CounterParties are the roles other than actor that see o in their order
// lists.
func CounterParties(o domain.Order, actor domain.Role) []domain.Role {
	seen := map[domain.Role]bool{actor: true}
	var out []domain.Role
	add := func(r domain.Role) {
		if r == "" || seen[r] || !r.IsBusiness() {
			return
		}
		seen[r] = true
		out = append(out, r)
	}
	add(o.RequesterRole)
	for _, stage := range o.ApprovalStages {
		add(stage.Role)
	}
	return out
}

func (g Gateway) invalidate(req ActionRequest) int {
	if g.Cache == nil {
		return 0
	}
	counter := map[domain.Role]bool{}
	for _, r := range CounterParties(req.Order, req.Actor.Role) {
		counter[r] = true
	}
	actor := req.Actor
	return g.Cache.Invalidate(func(k cache.Key) bool {
		switch k.Section {
		case cache.SectionOrders:
			if k.Role == actor.Role && (actor.Code == "" || k.Code == actor.Code) {
				return true
			}
			return counter[k.Role]
		case cache.SectionActivities:
			return k.Role == actor.Role && (actor.Code == "" || k.Code == actor.Code)
		}
		return false
	})
}

// decodeOrder reads the updated order from an action response. An empty
// body means the hub accepted the action without echoing the order.
func decodeOrder(data []byte, sent domain.Order) (domain.Order, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return sent, nil
	}
	var o domain.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return o, &apierr.Error{Kind: apierr.KindDecode, Message: "decode updated order", Err: err}
	}
	if o.OrderID != "" {
		return o, nil
	}
	var env struct {
		Data *domain.Order `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Data != nil {
		return *env.Data, nil
	}
	return o, nil
}

func (g Gateway) record(ctx context.Context, req ActionRequest, outcome string, err error) {
	if g.Journal == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"status":   status.Normalize(req.Order.Status),
		"notes":    req.Notes,
		"metadata": req.Metadata,
	})
	entry := domain.JournalEntry{
		ID:        uuid.NewString(),
		TS:        g.now().UTC().Format(time.RFC3339),
		OrderID:   req.Order.OrderID,
		Action:    string(req.Action),
		ActorRole: req.Actor.Role,
		ActorCode: req.Actor.Code,
		Outcome:   outcome,
		Payload:   string(payload),
	}
	if err != nil {
		entry.ErrorKind = string(apierr.KindOf(err))
	}
	if jerr := g.Journal.Record(ctx, entry); jerr != nil {
		g.logger().Warn("journal record failed", "order_id", req.Order.OrderID, "error", jerr)
	}
}
