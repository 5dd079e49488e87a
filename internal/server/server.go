package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"contractline/internal/contract"
	"contractline/internal/domain"
	"contractline/internal/engine"
	"contractline/internal/repo"
	"contractline/internal/world"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *log.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"rejected"`
	Message string         `json:"message" example:"contract rejected: 2 survey contracts already active"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"kind\":\"survey\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// service serializes every engine call; the engine itself holds no locks.
type service struct {
	mu     sync.Mutex
	engine *engine.Engine
	logger *log.Logger
}

func (s *service) locked(fn func(e *engine.Engine) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.engine)
}

// API is a built control API together with the session it serializes.
type API struct {
	Handler http.Handler
	svc     *service
}

// Save persists the live save between requests.
func (a *API) Save(ctx context.Context) error {
	return a.svc.locked(func(e *engine.Engine) error {
		_, err := e.Save(ctx)
		return err
	})
}

// New returns an HTTP handler exposing the contractline API.
func New(cfg Config) (http.Handler, error) {
	a, err := Build(cfg)
	if err != nil {
		return nil, err
	}
	return a.Handler, nil
}

// Build assembles the router and the locked session around cfg.Engine.
func Build(cfg Config) (*API, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server needs an engine")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
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

	s := &service{engine: cfg.Engine, logger: logger}
	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Contractline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerContracts(group, s)
	registerTelemetry(group, s)
	registerWorld(group, s)
	registerSaves(group, s)
	registerEvents(group, s)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	router.Get(path.Join(basePath, "telemetry/ws"), s.serveWS)
	registerOpenAPI(router, api, basePath)

	return &API{Handler: router, svc: s}, nil
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, contract.ErrRejected) {
		return newAPIError(http.StatusConflict, "rejected", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "status transition"):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case strings.Contains(lowered, "not found"):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case strings.Contains(lowered, "already exists"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "unknown"),
		strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
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
		spec []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
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
    <title>Contractline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
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

type contractPath struct {
	ID string `path:"contract_id"`
}

type contractOutput struct {
	Body domain.Contract `json:"body"`
}

type resultOutput struct {
	Body ResultResponse `json:"body"`
}

func registerContracts(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-contracts",
		Method:      http.MethodGet,
		Path:        "/contracts",
		Summary:     "List contracts",
	}, func(ctx context.Context, input *struct {
		Kind   string `query:"kind"`
		Status string `query:"status" enum:"offered,active,completed,failed,cancelled,deadline_expired"`
	}) (*struct {
		Body ContractList `json:"body"`
	}, error) {
		var items []domain.Contract
		_ = s.locked(func(e *engine.Engine) error {
			items = e.Contracts(engine.ContractFilters{Kind: input.Kind, Status: input.Status})
			return nil
		})
		return &struct {
			Body ContractList `json:"body"`
		}{Body: ContractList{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contract",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}",
		Summary:     "Show a contract with its objective tree",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *contractPath) (*contractOutput, error) {
		var c domain.Contract
		err := s.locked(func(e *engine.Engine) (err error) {
			c, err = e.Contract(input.ID)
			return err
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &contractOutput{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "generate-contract",
		Method:        http.MethodPost,
		Path:          "/contracts",
		Summary:       "Generate and offer a contract",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body GenerateContractRequest `json:"body"`
	}) (*contractOutput, error) {
		var c domain.Contract
		err := s.locked(func(e *engine.Engine) (err error) {
			c, err = e.Generate(ctx, engine.GenerateOptions{
				Kind: input.Body.Kind,
				Tier: input.Body.Tier,
				Seed: input.Body.Seed,
			})
			return err
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &contractOutput{Body: c}, nil
	})

	transitions := []struct {
		op, path, summary string
		fn                func(e *engine.Engine, ctx context.Context, id string) (domain.Contract, error)
	}{
		{"accept-contract", "/contracts/{contract_id}/accept", "Accept an offered contract", (*engine.Engine).Accept},
		{"cancel-contract", "/contracts/{contract_id}/cancel", "Withdraw an offer or abandon a contract", (*engine.Engine).Cancel},
	}
	for _, tr := range transitions {
		fn := tr.fn
		huma.Register(api, huma.Operation{
			OperationID: tr.op,
			Method:      http.MethodPost,
			Path:        tr.path,
			Summary:     tr.summary,
			Errors:      []int{http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *contractPath) (*contractOutput, error) {
			var c domain.Contract
			err := s.locked(func(e *engine.Engine) (err error) {
				c, err = fn(e, ctx, input.ID)
				return err
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &contractOutput{Body: c}, nil
		})
	}
}

func registerTelemetry(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "publish-telemetry",
		Method:      http.MethodPost,
		Path:        "/telemetry",
		Summary:     "Deliver one world event to the live objectives",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body TelemetryRequest `json:"body"`
	}) (*resultOutput, error) {
		var out ResultResponse
		err := s.locked(func(e *engine.Engine) error {
			res, err := e.Publish(ctx, input.Body.event())
			out = resultResponse(e.Clock(), res)
			return err
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &resultOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "tick",
		Method:      http.MethodPost,
		Path:        "/tick",
		Summary:     "Advance universal time",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body TickRequest `json:"body"`
	}) (*resultOutput, error) {
		var out ResultResponse
		err := s.locked(func(e *engine.Engine) error {
			res, err := e.Tick(ctx, input.Body.Now)
			out = resultResponse(e.Clock(), res)
			return err
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &resultOutput{Body: out}, nil
	})
}

func registerWorld(api huma.API, s *service) {
	worldOutput := func(e *engine.Engine) *struct {
		Body WorldResponse `json:"body"`
	} {
		return &struct {
			Body WorldResponse `json:"body"`
		}{Body: WorldResponse{Clock: e.Clock(), World: e.World.Document()}}
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-world",
		Method:      http.MethodGet,
		Path:        "/world",
		Summary:     "Snapshot the sandbox world",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WorldResponse `json:"body"`
	}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return worldOutput(s.engine), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-vessel",
		Method:      http.MethodPut,
		Path:        "/world/vessels/{vessel_id}",
		Summary:     "Create or replace a vessel",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		VesselID string          `path:"vessel_id"`
		Body     world.VesselDoc `json:"body"`
	}) (*struct {
		Body world.VesselDoc `json:"body"`
	}, error) {
		doc := input.Body
		doc.ID = input.VesselID
		err := s.locked(func(e *engine.Engine) error {
			_, err := e.UpsertVessel(ctx, doc)
			return err
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body world.VesselDoc `json:"body"`
		}{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-vessel",
		Method:        http.MethodDelete,
		Path:          "/world/vessels/{vessel_id}",
		Summary:       "Remove a vessel",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		VesselID string `path:"vessel_id"`
	}) (*struct{}, error) {
		err := s.locked(func(e *engine.Engine) error {
			_, err := e.RemoveVessel(ctx, input.VesselID)
			return err
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dock",
		Method:      http.MethodPost,
		Path:        "/world/dock",
		Summary:     "Merge vessel from into vessel to",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body DockRequest `json:"body"`
	}) (*resultOutput, error) {
		var out ResultResponse
		err := s.locked(func(e *engine.Engine) error {
			res, err := e.Dock(ctx, input.Body.From, input.Body.To)
			out = resultResponse(e.Clock(), res)
			return err
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &resultOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "undock",
		Method:      http.MethodPost,
		Path:        "/world/undock",
		Summary:     "Split equipment groups off into a new vessel",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body DockRequest `json:"body"`
	}) (*resultOutput, error) {
		var out ResultResponse
		err := s.locked(func(e *engine.Engine) error {
			res, err := e.Undock(ctx, input.Body.From, input.Body.To, input.Body.Groups)
			out = resultResponse(e.Clock(), res)
			return err
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &resultOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reach-location",
		Method:      http.MethodPost,
		Path:        "/world/reach",
		Summary:     "Mark a location as reached",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ReachRequest `json:"body"`
	}) (*struct {
		Body WorldResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Location) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "location required", nil)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.engine.Reach(input.Body.Location)
		return worldOutput(s.engine), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unlock-equipment",
		Method:      http.MethodPost,
		Path:        "/world/unlock",
		Summary:     "Unlock an equipment part",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body UnlockRequest `json:"body"`
	}) (*struct {
		Body WorldResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Equipment) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "equipment required", nil)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.engine.Unlock(input.Body.Equipment)
		return worldOutput(s.engine), nil
	})
}

func registerSaves(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-saves",
		Method:      http.MethodGet,
		Path:        "/saves",
		Summary:     "List stored saves",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SaveList `json:"body"`
	}, error) {
		saves, err := s.engine.Repo.ListSaves(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SaveList `json:"body"`
		}{Body: SaveList{Items: nonNilSlice(saves)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "write-save",
		Method:      http.MethodPost,
		Path:        "/save",
		Summary:     "Persist the current save",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Save `json:"body"`
	}, error) {
		var saved domain.Save
		err := s.locked(func(e *engine.Engine) (err error) {
			saved, err = e.Save(ctx)
			return err
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Save `json:"body"`
		}{Body: saved}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "load-save",
		Method:      http.MethodPost,
		Path:        "/load",
		Summary:     "Replace the live state with the stored save",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.LoadReport `json:"body"`
	}, error) {
		var report engine.LoadReport
		err := s.locked(func(e *engine.Engine) (err error) {
			report, err = e.Load(ctx)
			return err
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.LoadReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerEvents(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent ledger events of the save",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"contract,objective,save"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := s.engine.Repo.LatestEvents(ctx, repo.EventFilters{
			SaveID:     s.engine.SaveID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		subject := strings.TrimSpace(input.Body.Subject)
		if subject == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "subject required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, subject, 24*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
