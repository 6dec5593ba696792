// Package api serves the operator HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/visionary/internal/controller"
	"github.com/dgnsrekt/visionary/internal/events"
	"github.com/dgnsrekt/visionary/internal/snapshot"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Service interface {
	Status(ctx context.Context) controller.Status
	Resolve(ctx context.Context, link string) (controller.Resolution, error)
	RestartBrowser(ctx context.Context) error
	ListSnapshots(ctx context.Context, limit int) ([]snapshot.Meta, error)
	ReadSnapshot(ctx context.Context, name string) ([]byte, error)
}

type ServerOption func(chi.Router)

// WithEvents mounts the live outcome stream at /api/v1/events.
func WithEvents(b *events.Broker) ServerOption {
	return func(r chi.Router) { r.Get("/api/v1/events", events.SSEHandler(b)) }
}

func NewServer(svc Service, version string, opts ...ServerOption) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Visionary Admin API", version)
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Handle("/metrics", promhttp.Handler())
	for _, opt := range opts {
		opt(router)
	}

	registerStatusHandlers(api, svc)
	registerBrowserHandlers(api, svc)
	registerSnapshotHandlers(api, svc)

	return router
}

func registerStatusHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type statusOutput struct {
		Body controller.Status
	}
	huma.Register(api, huma.Operation{OperationID: "get-status", Method: http.MethodGet, Path: "/api/v1/status", Summary: "Browser pool and pipeline status", Tags: []string{"Status"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			return &statusOutput{Body: svc.Status(ctx)}, nil
		})
}

func registerBrowserHandlers(api huma.API, svc Service) {
	type resolveOutput struct {
		Body controller.Resolution
	}
	huma.Register(api, huma.Operation{OperationID: "resolve-link", Method: http.MethodPost, Path: "/api/v1/resolve", Summary: "Resolve a link without posting to chat", Tags: []string{"Browser"}},
		func(ctx context.Context, input *struct {
			Body struct {
				URL string `json:"url" doc:"Absolute http(s) URL to resolve" example:"https://short.ly/abc"`
			}
		}) (*resolveOutput, error) {
			res, err := svc.Resolve(ctx, input.Body.URL)
			if err != nil {
				return nil, mapErr(err)
			}
			return &resolveOutput{Body: res}, nil
		})

	type restartOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "restart-browser", Method: http.MethodPost, Path: "/api/v1/browser/restart", Summary: "Restart the browser process", Tags: []string{"Browser"}},
		func(ctx context.Context, input *struct{}) (*restartOutput, error) {
			if err := svc.RestartBrowser(ctx); err != nil {
				return nil, mapErr(err)
			}
			out := &restartOutput{}
			out.Body.Status = "restarted"
			return out, nil
		})
}

func registerSnapshotHandlers(api huma.API, svc Service) {
	type listOutput struct {
		Body struct {
			Snapshots []snapshot.Meta `json:"snapshots"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-snapshots", Method: http.MethodGet, Path: "/api/v1/snapshots", Summary: "List snapshots, newest first", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *struct {
			Limit int `query:"limit" default:"50" minimum:"0" doc:"Maximum entries, 0 for all"`
		}) (*listOutput, error) {
			metas, err := svc.ListSnapshots(ctx, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listOutput{}
			out.Body.Snapshots = metas
			return out, nil
		})

	type imageOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-snapshot-image",
		Method:      http.MethodGet,
		Path:        "/api/v1/snapshots/{name}",
		Summary:     "Get snapshot image",
		Tags:        []string{"Snapshots"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Snapshot image",
				Content: map[string]*huma.MediaType{
					"image/png": {
						Schema: &huma.Schema{Type: "string", Format: "binary"},
					},
				},
			},
		},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*imageOutput, error) {
		data, err := svc.ReadSnapshot(ctx, input.Name)
		if err != nil {
			return nil, mapErr(err)
		}
		return &imageOutput{ContentType: "image/png", Body: data}, nil
	})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *controller.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case controller.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case controller.CodeSnapshotNotFound:
			return huma.Error404NotFound(coded.Message)
		case controller.CodeResolveFailed:
			return huma.Error422UnprocessableEntity(coded.Message)
		case controller.CodeBrowserUnavailable:
			return huma.Error503ServiceUnavailable(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
