package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"opsportal/internal/activity"
	"opsportal/internal/apierr"
	"opsportal/internal/domain"
	"opsportal/internal/ecosystem"
	"opsportal/internal/fetch"
	"opsportal/internal/hub"
	"opsportal/internal/orders"
)

const testSecret = "test-secret"

type fakePortal struct {
	orders   []domain.Order
	applyErr error
	applied  []hub.ActionInput
	lastCtx  context.Context
}

func (f *fakePortal) Ecosystem(ctx context.Context, v domain.Viewer) (*ecosystem.Node, error) {
	f.lastCtx = ctx
	return ecosystem.Build(domain.Scope{Role: v.Role, CksCode: v.Code}, v.Name), nil
}

func (f *fakePortal) Orders(_ context.Context, _ domain.Viewer, _ hub.OrderFilter) ([]domain.Order, error) {
	return f.orders, nil
}

func (f *fakePortal) ActivityFeed(_ context.Context, _ domain.Viewer, limit int, categories ...string) ([]activity.Item, error) {
	return []activity.Item{{ID: "a-1", Message: "limit " + string(rune('0'+limit)), Category: categories[0], Type: activity.TypeInfo}}, nil
}

func (f *fakePortal) Entity(_ context.Context, entityType, id string) (fetch.Payload, error) {
	if id == "PO-404" {
		return fetch.Payload{}, apierr.FromStatus(http.StatusNotFound, "/api/order/PO-404/details", "Order not found")
	}
	return fetch.Payload{
		Data:     json.RawMessage(`{"orderId":"` + id + `","isTombstone":true}`),
		Metadata: map[string]any{"isTombstone": true},
	}, nil
}

func (f *fakePortal) Apply(_ context.Context, v domain.Viewer, in hub.ActionInput) (domain.Order, error) {
	f.applied = append(f.applied, in)
	if f.applyErr != nil {
		return domain.Order{}, f.applyErr
	}
	return domain.Order{OrderID: in.OrderID, Status: "in-progress"}, nil
}

type fakeJournal struct {
	limit   int
	orderID string
}

func (j *fakeJournal) Latest(_ context.Context, limit int, orderID string) ([]domain.JournalEntry, error) {
	j.limit, j.orderID = limit, orderID
	return []domain.JournalEntry{{ID: "j-1", OrderID: orderID, Outcome: "applied"}}, nil
}

func newTestServer(t *testing.T, p *fakePortal, j JournalReader) *httptest.Server {
	t.Helper()
	handler, err := New(Config{
		Portal:   p,
		Journal:  j,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowDevLogin: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func managerToken(t *testing.T) string {
	t.Helper()
	token, err := SignViewerToken(testSecret, domain.Viewer{Role: domain.RoleManager, Code: "MGR-001", Name: "Morgan"}, 0)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t, &fakePortal{}, nil)
	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, &fakePortal{}, nil)
	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/ecosystem", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "unauthorized" {
		t.Fatalf("unexpected code %q", env.Error.Code)
	}

	bad, _ := SignViewerToken("other-secret", domain.Viewer{Role: domain.RoleCrew, Code: "CRW-1"}, 0)
	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/ecosystem", nil, bearer(bad))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign token, got %d %s", res.StatusCode, string(data))
	}
}

func TestViewerHeadersNeedOptIn(t *testing.T) {
	srv := newTestServer(t, &fakePortal{}, nil)
	headers := map[string]string{"X-Viewer-Role": "crew", "X-Viewer-Code": "CRW-001"}
	res, _ := doJSON(t, http.MethodGet, srv.URL+"/v0/me", nil, headers)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without opt-in, got %d", res.StatusCode)
	}

	handler, err := New(Config{Portal: &fakePortal{}, Auth: AuthConfig{AllowViewerHeaders: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	open := httptest.NewServer(handler)
	defer open.Close()
	res, data := doJSON(t, http.MethodGet, open.URL+"/v0/me", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me ViewerResponse
	_ = json.Unmarshal(data, &me)
	if me.Role != domain.RoleCrew || me.Code != "CRW-001" {
		t.Fatalf("unexpected viewer %+v", me)
	}
}

func TestEcosystemForwardsToken(t *testing.T) {
	p := &fakePortal{}
	srv := newTestServer(t, p, nil)
	token := managerToken(t)
	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/ecosystem", nil, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ecosystem status %d: %s", res.StatusCode, string(data))
	}
	var tree ecosystem.Node
	if err := json.Unmarshal(data, &tree); err != nil {
		t.Fatalf("unmarshal tree: %v", err)
	}
	if tree.ID != "MGR-001" || tree.Name != "Morgan" {
		t.Fatalf("unexpected root %+v", tree)
	}
	if got, _ := p.lastCtx.Value(principalKey{}).(Principal); got.Token != token {
		t.Fatalf("token not forwarded to portal context")
	}
}

func TestOrdersCarryViewAndActions(t *testing.T) {
	p := &fakePortal{orders: []domain.Order{
		{OrderID: "PO-1", Status: "approved"},
		{OrderID: "PO-2", Status: "delivered"},
	}}
	srv := newTestServer(t, p, nil)
	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/orders?type=product", nil, bearer(managerToken(t)))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("orders status %d: %s", res.StatusCode, string(data))
	}
	var out struct {
		Orders []struct {
			OrderID string          `json:"orderId"`
			Color   orders.Color    `json:"color"`
			Actions []orders.Action `json:"actions"`
		} `json:"orders"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal orders: %v", err)
	}
	if len(out.Orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(out.Orders))
	}
	if out.Orders[0].Color != orders.ColorAction || len(out.Orders[0].Actions) != 4 {
		t.Fatalf("unexpected first order %+v", out.Orders[0])
	}
	if out.Orders[1].Color != orders.ColorSuccess || len(out.Orders[1].Actions) != 0 {
		t.Fatalf("unexpected delivered order %+v", out.Orders[1])
	}
}

func TestOrderActionInvalidTransitionIs422(t *testing.T) {
	p := &fakePortal{applyErr: apierr.InvalidTransition("order PO-9 is delivered; no further actions allowed")}
	srv := newTestServer(t, p, nil)
	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/orders/PO-9/actions", map[string]any{"action": "accept"}, bearer(managerToken(t)))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "invalid_transition" || env.Error.Details["retriable"] != false {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestOrderActionUpstreamErrors(t *testing.T) {
	cases := map[int]error{
		http.StatusGatewayTimeout: apierr.FromTransport("/api/orders/PO-1/actions", context.DeadlineExceeded, true),
		http.StatusBadGateway:     apierr.FromStatus(http.StatusInternalServerError, "/api/orders/PO-1/actions", "boom"),
		http.StatusForbidden:      apierr.FromStatus(http.StatusForbidden, "/api/orders/PO-1/actions", "nope"),
	}
	for want, applyErr := range cases {
		srv := newTestServer(t, &fakePortal{applyErr: applyErr}, nil)
		res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/orders/PO-1/actions", map[string]any{"action": "cancel"}, bearer(managerToken(t)))
		if res.StatusCode != want {
			t.Fatalf("expected %d, got %d %s", want, res.StatusCode, string(data))
		}
	}
}

func TestOrderActionSuccess(t *testing.T) {
	p := &fakePortal{}
	srv := newTestServer(t, p, nil)
	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/orders/PO-1/actions", map[string]any{
		"action": "accept",
		"notes":  "looks good",
	}, bearer(managerToken(t)))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("action status %d: %s", res.StatusCode, string(data))
	}
	if len(p.applied) != 1 || p.applied[0].OrderID != "PO-1" || p.applied[0].Notes != "looks good" {
		t.Fatalf("unexpected applied input %+v", p.applied)
	}
	var out OrderActionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.View.StatusLabel != "In Progress" {
		t.Fatalf("unexpected view %+v", out.View)
	}
}

func TestEntityTombstoneAndNotFound(t *testing.T) {
	srv := newTestServer(t, &fakePortal{}, nil)
	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/entities/order/PO-1", nil, bearer(managerToken(t)))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("entity status %d: %s", res.StatusCode, string(data))
	}
	var ent EntityResponse
	_ = json.Unmarshal(data, &ent)
	if !ent.Tombstone || ent.Data["orderId"] != "PO-1" {
		t.Fatalf("unexpected entity %+v", ent)
	}

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/entities/order/PO-404", nil, bearer(managerToken(t)))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Details["path"] != "/api/order/PO-404/details" {
		t.Fatalf("unexpected details %+v", env.Error.Details)
	}
}

func TestActivitiesAndJournal(t *testing.T) {
	j := &fakeJournal{}
	srv := newTestServer(t, &fakePortal{}, j)
	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/activities?limit=5&category=order,%20service", nil, bearer(managerToken(t)))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activities status %d: %s", res.StatusCode, string(data))
	}
	var feed ActivityListResponse
	_ = json.Unmarshal(data, &feed)
	if len(feed.Activities) != 1 || feed.Activities[0].Category != "order" || feed.Activities[0].Message != "limit 5" {
		t.Fatalf("unexpected feed %+v", feed)
	}

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/journal?order_id=PO-1", nil, bearer(managerToken(t)))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("journal status %d: %s", res.StatusCode, string(data))
	}
	if j.limit != 50 || j.orderID != "PO-1" {
		t.Fatalf("unexpected journal query limit=%d order=%s", j.limit, j.orderID)
	}
}

func TestDevTokenRoundTrip(t *testing.T) {
	srv := newTestServer(t, &fakePortal{}, nil)
	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/auth/dev/token", map[string]any{"role": "warehouse", "code": "WHS-001"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev token status %d: %s", res.StatusCode, string(data))
	}
	var tok DevTokenResponse
	_ = json.Unmarshal(data, &tok)
	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/me", nil, bearer(tok.Token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me ViewerResponse
	_ = json.Unmarshal(data, &me)
	if me.Role != domain.RoleWarehouse || me.Code != "WHS-001" {
		t.Fatalf("unexpected viewer %+v", me)
	}
}
