package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"opsportal/internal/activity"
	"opsportal/internal/apierr"
	"opsportal/internal/domain"
	"opsportal/internal/ecosystem"
	"opsportal/internal/fetch"
	"opsportal/internal/hub"
)

// Portal is the read and action surface served over HTTP; *hub.Client
// implements it.
type Portal interface {
	Ecosystem(ctx context.Context, v domain.Viewer) (*ecosystem.Node, error)
	Orders(ctx context.Context, v domain.Viewer, f hub.OrderFilter) ([]domain.Order, error)
	ActivityFeed(ctx context.Context, v domain.Viewer, limit int, categories ...string) ([]activity.Item, error)
	Entity(ctx context.Context, entityType, id string) (fetch.Payload, error)
	Apply(ctx context.Context, v domain.Viewer, in hub.ActionInput) (domain.Order, error)
}

// JournalReader lists recorded order actions.
type JournalReader interface {
	Latest(ctx context.Context, limit int, orderID string) ([]domain.JournalEntry, error)
}

// Config for the HTTP API handler.
type Config struct {
	Portal   Portal
	Journal  JournalReader
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"order PO-001 is delivered; no further actions allowed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"kind\":\"invalid_transition\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the portal view API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Portal == nil {
		return nil, fmt.Errorf("server: portal is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Ops Portal API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	registerEcosystem(group, cfg.Portal)
	registerOrders(group, cfg.Portal)
	registerActivities(group, cfg.Portal)
	registerEntities(group, cfg.Portal)
	registerJournal(group, cfg.Journal)
	if cfg.Auth.AllowDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

var kindStatus = map[apierr.Kind]struct {
	status int
	code   string
}{
	apierr.KindInvalidTransition: {http.StatusUnprocessableEntity, "invalid_transition"},
	apierr.KindTimeout:           {http.StatusGatewayTimeout, "timeout"},
	apierr.KindUnauthorized:      {http.StatusUnauthorized, "unauthorized"},
	apierr.KindForbidden:         {http.StatusForbidden, "forbidden"},
	apierr.KindNotFound:          {http.StatusNotFound, "not_found"},
	apierr.KindBadRequest:        {http.StatusBadRequest, "bad_request"},
	apierr.KindServerError:       {http.StatusBadGateway, "upstream_error"},
	apierr.KindNetwork:           {http.StatusBadGateway, "upstream_unavailable"},
	apierr.KindDecode:            {http.StatusBadGateway, "upstream_invalid_response"},
	apierr.KindCanceled:          {http.StatusServiceUnavailable, "canceled"},
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se *apiError
	if errors.As(err, &se) {
		return se
	}
	kind := apierr.KindOf(err)
	m, ok := kindStatus[kind]
	if !ok {
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
	details := map[string]any{"kind": string(kind), "retriable": apierr.Retriable(err)}
	var ae *apierr.Error
	if errors.As(err, &ae) {
		if ae.Path != "" {
			details["path"] = ae.Path
		}
		if ae.Status != 0 {
			details["upstream_status"] = ae.Status
		}
	}
	return newAPIError(m.status, m.code, err.Error(), details)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureErrorSchema(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	}
}

// ensureErrorSchema registers the error envelope schema and points every
// operation's default response at it.
func ensureErrorSchema(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.Schemas != nil {
		oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/token"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Ops Portal API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;viewer token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current viewer",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ViewerResponse `json:"body"`
	}, error) {
		v, authErr := viewerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body ViewerResponse `json:"body"`
		}{Body: ViewerResponse{Role: v.Role, Code: v.Code, Name: v.Name}}, nil
	})
}

func registerEcosystem(api huma.API, p Portal) {
	huma.Register(api, huma.Operation{
		OperationID: "ecosystem",
		Method:      http.MethodGet,
		Path:        "/ecosystem",
		Summary:     "Viewer relationship tree",
		Errors:      []int{http.StatusUnauthorized, http.StatusBadGateway, http.StatusGatewayTimeout},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body *ecosystem.Node `json:"body"`
	}, error) {
		v, authErr := viewerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tree, err := p.Ecosystem(ctx, v)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *ecosystem.Node `json:"body"`
		}{Body: tree}, nil
	})
}

func registerOrders(api huma.API, p Portal) {
	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/orders",
		Summary:     "Viewer orders as display views",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusBadGateway, http.StatusGatewayTimeout},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Type   string `query:"type" enum:"service,product"`
	}) (*struct {
		Body OrderListResponse `json:"body"`
	}, error) {
		v, authErr := viewerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		list, err := p.Orders(ctx, v, hub.OrderFilter{Status: input.Status, Type: domain.OrderType(input.Type)})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderListResponse `json:"body"`
		}{Body: OrderListResponse{Orders: mapOrders(list, v.Role)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "order-action",
		Method:      http.MethodPost,
		Path:        "/orders/{orderId}/actions",
		Summary:     "Apply an action to an order",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
			http.StatusGatewayTimeout,
		},
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"orderId"`
		Body    OrderActionRequest
	}) (*struct {
		Body OrderActionResponse `json:"body"`
	}, error) {
		v, authErr := viewerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		updated, err := p.Apply(ctx, v, hub.ActionInput{
			OrderID:  input.OrderID,
			Action:   input.Body.Action,
			Notes:    input.Body.Notes,
			Metadata: input.Body.Metadata,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderActionResponse `json:"body"`
		}{Body: OrderActionResponse{Order: updated, View: mapOrder(updated, v.Role)}}, nil
	})
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func registerActivities(api huma.API, p Portal) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/activities",
		Summary:     "Merged activity feed",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusBadGateway, http.StatusGatewayTimeout},
	}, func(ctx context.Context, input *struct {
		Limit    int    `query:"limit" minimum:"0" maximum:"500"`
		Category string `query:"category" doc:"Comma-separated category allow-list"`
	}) (*struct {
		Body ActivityListResponse `json:"body"`
	}, error) {
		v, authErr := viewerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := p.ActivityFeed(ctx, v, input.Limit, splitList(input.Category)...)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityListResponse `json:"body"`
		}{Body: ActivityListResponse{Activities: nonNilSlice(items)}}, nil
	})
}

func registerEntities(api huma.API, p Portal) {
	huma.Register(api, huma.Operation{
		OperationID: "get-entity",
		Method:      http.MethodGet,
		Path:        "/entities/{entityType}/{entityId}",
		Summary:     "Entity details, served from its tombstone when deleted",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusBadGateway, http.StatusGatewayTimeout},
	}, func(ctx context.Context, input *struct {
		EntityType string `path:"entityType"`
		EntityID   string `path:"entityId"`
	}) (*struct {
		Body EntityResponse `json:"body"`
	}, error) {
		if _, authErr := viewerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		payload, err := p.Entity(ctx, input.EntityType, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		var data map[string]any
		if err := payload.Decode(&data); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EntityResponse `json:"body"`
		}{Body: EntityResponse{
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			Tombstone:  payload.IsTombstone(),
			Data:       data,
		}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}

func registerJournal(api huma.API, j JournalReader) {
	huma.Register(api, huma.Operation{
		OperationID: "list-journal",
		Method:      http.MethodGet,
		Path:        "/journal",
		Summary:     "Locally recorded order actions, newest first",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Limit   int    `query:"limit" minimum:"0" maximum:"500"`
		OrderID string `query:"order_id"`
	}) (*struct {
		Body JournalResponse `json:"body"`
	}, error) {
		if _, authErr := viewerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		var entries []domain.JournalEntry
		if j != nil {
			var err error
			entries, err = j.Latest(ctx, normalizeLimit(input.Limit), input.OrderID)
			if err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body JournalResponse `json:"body"`
		}{Body: JournalResponse{Entries: nonNilSlice(entries)}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-token",
		Method:      http.MethodPost,
		Path:        "/auth/dev/token",
		Summary:     "DEV ONLY: mint a viewer JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevTokenRequest
	}) (*struct {
		Body DevTokenResponse `json:"body"`
	}, error) {
		code := strings.TrimSpace(input.Body.Code)
		if code == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "code is required", nil)
		}
		token, err := SignViewerToken(authCfg.JWTSecret, domain.Viewer{
			Role: domain.Role(input.Body.Role),
			Code: code,
			Name: input.Body.Name,
		}, 0)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevTokenResponse `json:"body"`
		}{Body: DevTokenResponse{Token: token}}, nil
	})
}
